package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Loglevel != "info" {
		t.Errorf("expected Loglevel to be 'info', got '%s'", cfg.Loglevel)
	}
	if cfg.ChunkSize != 4<<20 {
		t.Errorf("expected ChunkSize to be 4 MiB, got %d", cfg.ChunkSize)
	}
	if cfg.SessionTTL != 24 {
		t.Errorf("expected SessionTTL to be 24, got %d", cfg.SessionTTL)
	}
	if cfg.UploadWorkers != 4 {
		t.Errorf("expected UploadWorkers to be 4, got %d", cfg.UploadWorkers)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected Retry.MaxAttempts to be 5, got %d", cfg.Retry.MaxAttempts)
	}
	if len(cfg.SkipNames) != 2 || cfg.SkipNames[0] != ".git" || cfg.SkipNames[1] != ".DS_Store" {
		t.Errorf("expected SkipNames [.git .DS_Store], got %v", cfg.SkipNames)
	}
	if cfg.LongPoll.Timeout != 30 {
		t.Errorf("expected LongPoll.Timeout to be 30, got %d", cfg.LongPoll.Timeout)
	}
	if cfg.LongPoll.Slack != 10 {
		t.Errorf("expected LongPoll.Slack to be 10, got %d", cfg.LongPoll.Slack)
	}
	if cfg.Server.Port != 9190 {
		t.Errorf("expected Server.Port to be 9190, got %d", cfg.Server.Port)
	}
	if cfg.Server.PageLimit != 1000 {
		t.Errorf("expected Server.PageLimit to be 1000, got %d", cfg.Server.PageLimit)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("expected non-empty path")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("expected path to end with 'config.toml', got '%s'", filepath.Base(path))
	}
	if filepath.Base(filepath.Dir(path)) != "goboxsync" {
		t.Errorf("expected config directory 'goboxsync', got '%s'", filepath.Dir(path))
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
access_token = "secret"
loglevel = "debug"
api_url = "http://localhost:9190"
content_url = "http://localhost:9190"
notify_url = "http://localhost:9190"
chunk_size = 4096
upload_workers = 2

[retry]
max_attempts = 7

[longpoll]
timeout = 60

[server]
port = 8080
token = "server-token"
fail_every = 5
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.AccessToken != "secret" {
		t.Errorf("expected AccessToken 'secret', got '%s'", cfg.AccessToken)
	}
	if cfg.Loglevel != "debug" {
		t.Errorf("expected Loglevel 'debug', got '%s'", cfg.Loglevel)
	}
	if cfg.APIURL != "http://localhost:9190" {
		t.Errorf("expected APIURL 'http://localhost:9190', got '%s'", cfg.APIURL)
	}
	if cfg.ChunkSize != 4096 {
		t.Errorf("expected ChunkSize 4096, got %d", cfg.ChunkSize)
	}
	if cfg.UploadWorkers != 2 {
		t.Errorf("expected UploadWorkers 2, got %d", cfg.UploadWorkers)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("expected Retry.MaxAttempts 7, got %d", cfg.Retry.MaxAttempts)
	}
	// Keys missing from the file keep their defaults
	if cfg.Retry.BaseDelayMs != 200 {
		t.Errorf("expected Retry.BaseDelayMs default 200, got %d", cfg.Retry.BaseDelayMs)
	}
	if cfg.LongPoll.Timeout != 60 {
		t.Errorf("expected LongPoll.Timeout 60, got %d", cfg.LongPoll.Timeout)
	}
	if cfg.LongPoll.Slack != 10 {
		t.Errorf("expected LongPoll.Slack default 10, got %d", cfg.LongPoll.Slack)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected Server.Port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Token != "server-token" {
		t.Errorf("expected Server.Token 'server-token', got '%s'", cfg.Server.Token)
	}
	if cfg.Server.FailEvery != 5 {
		t.Errorf("expected Server.FailEvery 5, got %d", cfg.Server.FailEvery)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to be valid, got %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	invalidContent := `
access_token = "test
chunk_size = incomplete
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AccessToken = "token"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults with token",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing access token",
			mutate:  func(c *Config) { c.AccessToken = "" },
			wantErr: true,
			errMsg:  "access_token is required",
		},
		{
			name:    "bad loglevel",
			mutate:  func(c *Config) { c.Loglevel = "loud" },
			wantErr: true,
			errMsg:  "loglevel must be one of: panic, fatal, error, warn, info, debug, trace",
		},
		{
			name:    "chunk size too large",
			mutate:  func(c *Config) { c.ChunkSize = MaxChunkSize + 1 },
			wantErr: true,
			errMsg:  "chunk_size must be between 1 and 157286400 bytes",
		},
		{
			name:    "chunk size zero",
			mutate:  func(c *Config) { c.ChunkSize = 0 },
			wantErr: true,
			errMsg:  "chunk_size must be between 1 and 157286400 bytes",
		},
		{
			name:    "zero session ttl",
			mutate:  func(c *Config) { c.SessionTTL = 0 },
			wantErr: true,
			errMsg:  "session_ttl must be at least 1 hour",
		},
		{
			name:    "too many workers",
			mutate:  func(c *Config) { c.UploadWorkers = 101 },
			wantErr: true,
			errMsg:  "upload_workers must be between 1 and 100",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: true,
			errMsg:  "retry.max_attempts must be between 1 and 20",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Retry.BaseDelayMs = 500; c.Retry.MaxDelayMs = 100 },
			wantErr: true,
			errMsg:  "retry.max_delay_ms must not be smaller than retry.base_delay_ms",
		},
		{
			name:    "long-poll timeout too long",
			mutate:  func(c *Config) { c.LongPoll.Timeout = 481 },
			wantErr: true,
			errMsg:  "longpoll.timeout must be between 1 and 480 seconds",
		},
		{
			name:    "negative slack",
			mutate:  func(c *Config) { c.LongPoll.Slack = -1 },
			wantErr: true,
			errMsg:  "longpoll.slack must not be negative",
		},
		{
			name:    "invalid content url",
			mutate:  func(c *Config) { c.ContentURL = "not a url" },
			wantErr: true,
			errMsg:  `content_url is invalid: parse "not a url": invalid URI for request`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing '%s', got nil", tt.errMsg)
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error '%s', got '%s'", tt.errMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestConfigValidateServer(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateServer(); err == nil || err.Error() != "server.token is required" {
		t.Errorf("expected missing token error, got %v", err)
	}

	cfg.Server.Token = "token"
	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Server.Port = 0
	if err := cfg.ValidateServer(); err == nil {
		t.Error("expected error for port 0")
	}

	cfg.Server.Port = 9190
	cfg.Server.PageLimit = 0
	if err := cfg.ValidateServer(); err == nil {
		t.Error("expected error for page_limit 0")
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.RequestTimeoutDuration(); got != 30*time.Second {
		t.Errorf("expected 30s request timeout, got %s", got)
	}
	if got := cfg.SessionTTLDuration(); got != 24*time.Hour {
		t.Errorf("expected 24h session ttl, got %s", got)
	}
	if got := cfg.SlackDuration(); got != 10*time.Second {
		t.Errorf("expected 10s slack, got %s", got)
	}
}
