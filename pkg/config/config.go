package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type AgentConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Screenshots ScreenshotsConfig `yaml:"screenshots"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	URL             string `yaml:"url"`
	RequestTimeout  int    `yaml:"request_timeout_s"`
	RetryInitialMs  int    `yaml:"retry_initial_ms"`
	RetryMaxMs      int    `yaml:"retry_max_ms"`
	RetryMaxRetries int    `yaml:"retry_max_attempts"`
}

// AuthConfig holds the credentials issued at registration. The API key is
// written once by `herd-agent register` and never displayed again.
type AuthConfig struct {
	ComputerID uint   `yaml:"computer_id"`
	APIKey     string `yaml:"api_key"`
}

type HeartbeatConfig struct {
	Interval int `yaml:"interval_s"`
	Jitter   int `yaml:"jitter_s"`
}

type ScreenshotsConfig struct {
	Enable      bool `yaml:"enable"`
	Interval    int  `yaml:"interval_s"`
	JPEGQuality int  `yaml:"jpeg_quality"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *AgentConfig {
	return &AgentConfig{
		Server: ServerConfig{
			URL:             "",
			RequestTimeout:  10,
			RetryInitialMs:  500,
			RetryMaxMs:      5000,
			RetryMaxRetries: 3,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 10,
			Jitter:   2,
		},
		Screenshots: ScreenshotsConfig{
			Enable:      false,
			Interval:    30,
			JPEGQuality: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads config from file with env var overrides
func Load(path string) (*AgentConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if url := os.Getenv("HERD_SERVER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if key := os.Getenv("HERD_API_KEY"); key != "" {
		cfg.Auth.APIKey = key
	}
	if raw := os.Getenv("HERD_COMPUTER_ID"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			cfg.Auth.ComputerID = uint(id)
		}
	}
	if level := os.Getenv("HERD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed. The
// file carries the API key, hence 0600.
func (c *AgentConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *AgentConfig) Validate() error {
	if c.Server.URL == "" {
		return ErrMissingServerURL
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		return &Error{"server URL must start with http:// or https://"}
	}
	if c.Heartbeat.Interval < 5 {
		return ErrInvalidInterval
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10
	}
	if c.Server.RetryInitialMs <= 0 {
		c.Server.RetryInitialMs = 500
	}
	if c.Server.RetryMaxMs < c.Server.RetryInitialMs {
		c.Server.RetryMaxMs = c.Server.RetryInitialMs
	}
	if c.Server.RetryMaxRetries < 0 {
		c.Server.RetryMaxRetries = 3
	}
	if c.Screenshots.Interval < 10 {
		c.Screenshots.Interval = 30
	}
	if c.Screenshots.JPEGQuality <= 0 || c.Screenshots.JPEGQuality > 100 {
		c.Screenshots.JPEGQuality = 60
	}
	return nil
}

// ValidateCredentials additionally requires the registration credentials,
// which only exist after `herd-agent register` has run.
func (c *AgentConfig) ValidateCredentials() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.ComputerID == 0 || c.Auth.APIKey == "" {
		return ErrNotRegistered
	}
	return nil
}

var (
	ErrMissingServerURL = &Error{"server URL is required"}
	ErrInvalidInterval  = &Error{"heartbeat interval must be >= 5s"}
	ErrNotRegistered    = &Error{"agent is not registered (missing computer_id or api_key)"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
