// Package config handles configuration loading from TOML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// EnvAuthToken is the credential environment variable.
	EnvAuthToken = "ANTHROPIC_AUTH_TOKEN"
	// EnvBaseURL overrides the API endpoint.
	EnvBaseURL = "ANTHROPIC_BASE_URL"

	DefaultModel       = "glm-4.6"
	DefaultMaxTokens   = 8192
	DefaultTemperature = 1.0
)

// Config holds runtime settings. APIKey is sourced from the environment or a
// CLI flag only; it is never written to the config file.
type Config struct {
	BaseURL      string  `toml:"base_url"`
	DefaultModel string  `toml:"default_model"`
	MaxTokens    int     `toml:"max_tokens"`
	Temperature  float64 `toml:"temperature"`

	APIKey string `toml:"-"`
}

// DefaultPath returns the default config file location,
// ~/.config/aixplosion/config.toml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "aixplosion", "config.toml")
}

// Load reads configuration from a TOML file and applies environment variable
// overrides. A missing file at the default path is not an error; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DefaultModel: DefaultModel,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
	}

	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies credential and endpoint overrides from the
// environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAuthToken); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
}

// Validate returns an error if the configuration cannot be used to reach the
// LLM API.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("no credential: set %s or pass --api-key", EnvAuthToken)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}
