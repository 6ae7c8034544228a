package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

const (
	MinChunkSize        = 1
	MaxChunkSize        = 150 << 20
	MinUploadWorkers    = 1
	MaxUploadWorkers    = 100
	MinRetryAttempts    = 1
	MaxRetryAttempts    = 20
	MinLongPollTimeout  = 1
	MaxLongPollTimeout  = 480
	MinRequestTimeout   = 1
	MaxRequestTimeout   = 3600
	DefaultChunkSize    = 4 << 20
	DefaultSessionHours = 24
)

// Config represents the main application configuration
type Config struct {
	AccessToken    string         `toml:"access_token"`
	Loglevel       string         `toml:"loglevel"`
	APIURL         string         `toml:"api_url"`
	ContentURL     string         `toml:"content_url"`
	NotifyURL      string         `toml:"notify_url"`
	RequestTimeout int            `toml:"request_timeout"`
	ChunkSize      int            `toml:"chunk_size"`
	SessionTTL     int            `toml:"session_ttl"`
	UploadWorkers  int            `toml:"upload_workers"`
	MetricsAddress string         `toml:"metrics_address"`
	SkipNames      []string       `toml:"skip_names"`
	Retry          RetryConfig    `toml:"retry"`
	LongPoll       LongPollConfig `toml:"longpoll"`
	Server         ServerConfig   `toml:"server"`
}

// RetryConfig holds the retry policy settings
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMs int `toml:"base_delay_ms"`
	MaxDelayMs  int `toml:"max_delay_ms"`
}

// LongPollConfig holds long-poll settings, both in seconds
type LongPollConfig struct {
	Timeout int `toml:"timeout"`
	Slack   int `toml:"slack"`
}

// ServerConfig holds settings of the local remote-store server
type ServerConfig struct {
	BindAddress  string `toml:"bind_address"`
	Port         int    `toml:"port"`
	Token        string `toml:"token"`
	PageLimit    int    `toml:"page_limit"`
	FailEvery    int    `toml:"fail_every"`
	LoseResponse bool   `toml:"lose_response"`
	HistoryLimit int    `toml:"history_limit"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Loglevel:       "info",
		RequestTimeout: 30,
		ChunkSize:      DefaultChunkSize,
		SessionTTL:     DefaultSessionHours,
		UploadWorkers:  4,
		SkipNames:      []string{".git", ".DS_Store"},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelayMs: 200,
			MaxDelayMs:  30000,
		},
		LongPoll: LongPollConfig{
			Timeout: 30,
			Slack:   10,
		},
		Server: ServerConfig{
			BindAddress: "127.0.0.1",
			Port:        9190,
			PageLimit:   1000,
		},
	}
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "goboxsync")

	return filepath.Join(configDir, "config.toml"), nil
}

// Load loads configuration from a TOML file
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks if the client configuration is valid
func (c *Config) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	if _, err := logrus.ParseLevel(c.Loglevel); err != nil {
		return fmt.Errorf("loglevel must be one of: panic, fatal, error, warn, info, debug, trace")
	}

	endpoints := []struct{ name, value string }{
		{"api_url", c.APIURL},
		{"content_url", c.ContentURL},
		{"notify_url", c.NotifyURL},
	}
	for _, ep := range endpoints {
		if ep.value == "" {
			continue
		}
		if _, err := url.ParseRequestURI(ep.value); err != nil {
			return fmt.Errorf("%s is invalid: %v", ep.name, err)
		}
	}

	if c.RequestTimeout < MinRequestTimeout || c.RequestTimeout > MaxRequestTimeout {
		return fmt.Errorf("request_timeout must be between %d and %d seconds", MinRequestTimeout, MaxRequestTimeout)
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk_size must be between %d and %d bytes", MinChunkSize, MaxChunkSize)
	}
	if c.SessionTTL < 1 {
		return fmt.Errorf("session_ttl must be at least 1 hour")
	}
	if c.UploadWorkers < MinUploadWorkers || c.UploadWorkers > MaxUploadWorkers {
		return fmt.Errorf("upload_workers must be between %d and %d", MinUploadWorkers, MaxUploadWorkers)
	}
	if c.Retry.MaxAttempts < MinRetryAttempts || c.Retry.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry.max_attempts must be between %d and %d", MinRetryAttempts, MaxRetryAttempts)
	}
	if c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.MaxDelayMs > 0 && c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("retry.max_delay_ms must not be smaller than retry.base_delay_ms")
	}
	if c.LongPoll.Timeout < MinLongPollTimeout || c.LongPoll.Timeout > MaxLongPollTimeout {
		return fmt.Errorf("longpoll.timeout must be between %d and %d seconds", MinLongPollTimeout, MaxLongPollTimeout)
	}
	if c.LongPoll.Slack < 0 {
		return fmt.Errorf("longpoll.slack must not be negative")
	}

	return nil
}

// ValidateServer checks the settings used by the serve command
func (c *Config) ValidateServer() error {
	if _, err := logrus.ParseLevel(c.Loglevel); err != nil {
		return fmt.Errorf("loglevel must be one of: panic, fatal, error, warn, info, debug, trace")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required")
	}
	if c.Server.PageLimit < 1 {
		return fmt.Errorf("server.page_limit must be at least 1")
	}
	if c.Server.FailEvery < 0 {
		return fmt.Errorf("server.fail_every must not be negative")
	}
	if c.Server.HistoryLimit < 0 {
		return fmt.Errorf("server.history_limit must not be negative")
	}
	return nil
}

// RequestTimeoutDuration returns request_timeout as a duration
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// SessionTTLDuration returns session_ttl as a duration
func (c *Config) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Hour
}

// SlackDuration returns longpoll.slack as a duration
func (c *Config) SlackDuration() time.Duration {
	return time.Duration(c.LongPoll.Slack) * time.Second
}
