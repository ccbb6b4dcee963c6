// Package config loads the daemon configuration from a YAML file, applying
// safe defaults for everything the file omits.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates the config file was read but failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the daemon configuration.
type Config struct {
	// Listen is the daemon's HTTP listen address.
	Listen string `yaml:"listen"`

	// StoreURL is the base URL of the card API.
	StoreURL string `yaml:"store_url"`

	// RedisAddr is the redis host:port for caching and rate limit state.
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword is optional.
	RedisPassword string `yaml:"redis_password"`

	// UserAgent sent with every card API request.
	UserAgent string `yaml:"user_agent"`

	// GracePeriod is the undo window before staged deletions commit.
	GracePeriod time.Duration `yaml:"grace_period"`

	// ChunkSize bounds concurrent mutations per executor chunk.
	ChunkSize int `yaml:"chunk_size"`

	// SelectionCap bounds all-matching selections.
	SelectionCap int `yaml:"selection_cap"`

	// PageSize is the resolver's fetch page size.
	PageSize int `yaml:"page_size"`

	// ConfirmThreshold is the deletion size requiring typed confirmation.
	ConfirmThreshold int `yaml:"confirm_threshold"`

	// ConfirmWord is the literal word for typed confirmation.
	ConfirmWord string `yaml:"confirm_word"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogPretty enables human-readable console logs.
	LogPretty bool `yaml:"log_pretty"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Listen:           ":8080",
		RedisAddr:        "localhost:6379",
		UserAgent:        "bulkops/0.1.0",
		GracePeriod:      30 * time.Second,
		ChunkSize:        50,
		SelectionCap:     10000,
		PageSize:         1000,
		ConfirmThreshold: 100,
		ConfirmWord:      "DELETE",
		LogLevel:         "info",
	}
}

// Load reads path, overlays it on the defaults and validates the result.
// A missing file is fine; the defaults are returned (StoreURL must then come
// from the environment or flags).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidConfig)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: redis address is empty", ErrInvalidConfig)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive", ErrInvalidConfig)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be >= 1", ErrInvalidConfig)
	}
	if c.SelectionCap < 1 {
		return fmt.Errorf("%w: selection cap must be >= 1", ErrInvalidConfig)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("%w: page size must be >= 1", ErrInvalidConfig)
	}
	if c.ConfirmThreshold < 1 {
		return fmt.Errorf("%w: confirm threshold must be >= 1", ErrInvalidConfig)
	}
	if c.ConfirmWord == "" {
		return fmt.Errorf("%w: confirm word is empty", ErrInvalidConfig)
	}
	return nil
}
