package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/services/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Container centralizes the core dependencies used across the application.
// It is intentionally small and uses interfaces so callers (and tests) can
// substitute implementations easily.
type Container struct {
	Config        *config.Config
	Logger        *logrus.Logger
	Client        dropbox.ClientAPI
	RetryPolicy   retry.Policy
	Registry      *prometheus.Registry
	Metrics       *metrics.Metrics
	ValidateToken bool
}

// Option allows customizing the container during construction.
type Option func(*Container) error

// WithLogger overrides the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Container) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithClient overrides the default API client.
func WithClient(client dropbox.ClientAPI) Option {
	return func(c *Container) error {
		if client == nil {
			return fmt.Errorf("api client cannot be nil")
		}
		c.Client = client
		return nil
	}
}

// WithTokenValidation enables or disables access token validation (default: enabled).
func WithTokenValidation(validate bool) Option {
	return func(c *Container) error {
		c.ValidateToken = validate
		return nil
	}
}

// WithRetryPolicy overrides the policy derived from the configuration.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Container) error {
		c.RetryPolicy = policy
		return nil
	}
}

// WithRegistry registers metrics with reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Container) error {
		if reg == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		c.Registry = reg
		return nil
	}
}

// NewContainer builds a Container with sensible defaults derived from cfg.
// Options can be supplied to override specific dependencies (useful in tests).
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	container := &Container{
		Config:        cfg,
		Logger:        buildDefaultLogger(cfg.Loglevel),
		RetryPolicy:   buildRetryPolicy(cfg),
		ValidateToken: true,
	}

	// Apply options early so tests can inject mocks before defaults are created.
	for _, opt := range opts {
		if err := opt(container); err != nil {
			return nil, err
		}
	}

	if container.Registry == nil {
		container.Registry = prometheus.NewRegistry()
	}
	container.Metrics = metrics.New(container.Registry)

	if container.Client == nil {
		container.Client = dropbox.NewClient(
			cfg.AccessToken,
			dropbox.WithEndpoints(cfg.APIURL, cfg.ContentURL, cfg.NotifyURL),
			dropbox.WithTimeout(cfg.RequestTimeoutDuration()),
		)
	}

	if container.ValidateToken {
		account, err := container.Client.GetCurrentAccount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to verify access token: %w", err)
		}
		container.Logger.Debugf("Authenticated as %s (%s)", account.Name, account.AccountID)
	}

	return container, nil
}

func buildDefaultLogger(levelStr string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func buildRetryPolicy(cfg *config.Config) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelayMs > 0 {
		policy.BaseDelay = time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond
	}
	if cfg.Retry.MaxDelayMs > 0 {
		policy.MaxDelay = time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond
	}
	return policy
}
