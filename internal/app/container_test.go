package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/services/retry"
	"github.com/prometheus/client_golang/prometheus"
)

type mockClient struct {
	accountCalled bool
	accountErr    error
}

func (m *mockClient) GetCurrentAccount(context.Context) (*dropbox.Account, error) {
	m.accountCalled = true
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &dropbox.Account{AccountID: "dbid:1", Name: "Test"}, nil
}
func (m *mockClient) UploadSessionStart(context.Context) (string, error) { return "s1", nil }
func (m *mockClient) UploadSessionAppend(context.Context, string, int64, []byte) error {
	return nil
}
func (m *mockClient) UploadSessionFinish(_ context.Context, _ string, _ int64, _ []byte, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	return &dropbox.Metadata{Tag: dropbox.TagFile, PathDisplay: commit.Path}, nil
}
func (m *mockClient) Download(context.Context, string) (io.ReadCloser, *dropbox.Metadata, error) {
	return nil, nil, errors.New("not implemented")
}
func (m *mockClient) Delta(context.Context, string, string) (*dropbox.DeltaResponse, error) {
	return &dropbox.DeltaResponse{Cursor: "c"}, nil
}
func (m *mockClient) DeltaLatestCursor(context.Context, string) (string, error) { return "c", nil }
func (m *mockClient) LongPollDelta(context.Context, string, int) (*dropbox.LongPollResponse, error) {
	return &dropbox.LongPollResponse{}, nil
}

func baseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.AccessToken = "abc"
	return cfg
}

func TestNewContainerDefaults(t *testing.T) {
	cfg := baseConfig()
	mock := &mockClient{}

	container, err := NewContainer(context.Background(), cfg, WithClient(mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if container.Logger == nil {
		t.Fatal("expected logger to be initialized")
	}
	if container.Client != mock {
		t.Errorf("expected Client to be overridden with mock")
	}
	if container.Metrics == nil || container.Registry == nil {
		t.Fatal("expected metrics to be initialized")
	}
	if container.RetryPolicy.MaxAttempts != 5 {
		t.Errorf("expected 5 retry attempts, got %d", container.RetryPolicy.MaxAttempts)
	}
	if container.RetryPolicy.BaseDelay != 200*time.Millisecond {
		t.Errorf("expected 200ms base delay, got %s", container.RetryPolicy.BaseDelay)
	}
}

func TestNewContainerBuildsClient(t *testing.T) {
	cfg := baseConfig()

	container, err := NewContainer(context.Background(), cfg, WithTokenValidation(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := container.Client.(*dropbox.Client); !ok {
		t.Errorf("expected a *dropbox.Client, got %T", container.Client)
	}
}

func TestContainerOverrides(t *testing.T) {
	cfg := baseConfig()
	mock := &mockClient{}
	customLogger := buildDefaultLogger("debug")
	customPolicy := retry.Policy{MaxAttempts: 2}
	reg := prometheus.NewRegistry()

	container, err := NewContainer(
		context.Background(),
		cfg,
		WithLogger(customLogger),
		WithClient(mock),
		WithRetryPolicy(customPolicy),
		WithRegistry(reg),
		WithTokenValidation(false),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if container.Logger != customLogger {
		t.Error("expected custom logger to be used")
	}
	if container.Client != mock {
		t.Error("expected custom client to be used")
	}
	if container.RetryPolicy.MaxAttempts != 2 {
		t.Errorf("expected custom retry policy, got %+v", container.RetryPolicy)
	}
	if container.Registry != reg {
		t.Error("expected custom registry to be used")
	}
	if container.ValidateToken {
		t.Error("expected token validation to be disabled via option")
	}
	if mock.accountCalled {
		t.Error("expected GetCurrentAccount not to be called")
	}
}

func TestNewContainerNilConfigError(t *testing.T) {
	if _, err := NewContainer(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestWithLoggerNilError(t *testing.T) {
	cfg := baseConfig()
	_, err := NewContainer(context.Background(), cfg, WithLogger(nil))
	if err == nil {
		t.Fatal("expected error when logger is nil")
	}
}

func TestWithClientNilError(t *testing.T) {
	cfg := baseConfig()
	_, err := NewContainer(context.Background(), cfg, WithClient(nil))
	if err == nil {
		t.Fatal("expected error when client is nil")
	}
}

func TestTokenValidationCallsAccount(t *testing.T) {
	cfg := baseConfig()
	mock := &mockClient{}

	container, err := NewContainer(context.Background(), cfg, WithClient(mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !mock.accountCalled {
		t.Error("expected GetCurrentAccount to be called during container construction")
	}
	if container.Client != mock {
		t.Error("expected mock client to be retained")
	}
}

func TestTokenValidationFailure(t *testing.T) {
	cfg := baseConfig()
	mock := &mockClient{accountErr: &dropbox.AuthError{Summary: "invalid_access_token"}}

	_, err := NewContainer(context.Background(), cfg, WithClient(mock))
	if err == nil {
		t.Fatal("expected error when the token is rejected")
	}
	var authErr *dropbox.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("expected wrapped AuthError, got %v", err)
	}
}

func TestBuildRetryPolicyFromConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, BaseDelayMs: 50, MaxDelayMs: 1000}

	policy := buildRetryPolicy(cfg)
	if policy.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", policy.MaxAttempts)
	}
	if policy.BaseDelay != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %s", policy.BaseDelay)
	}
	if policy.MaxDelay != time.Second {
		t.Errorf("expected 1s, got %s", policy.MaxDelay)
	}
}
