package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv(EnvAuthToken)
	os.Unsetenv(EnvBaseURL)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.DefaultModel, DefaultModel)
	}
	if cfg.MaxTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d, want %d", cfg.MaxTokens, DefaultMaxTokens)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
base_url = "https://example.com/v1"
default_model = "glm-4.6"
max_tokens = 4096
temperature = 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://example.com/v1" {
		t.Errorf("base_url = %q", cfg.BaseURL)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d", cfg.MaxTokens)
	}
	if cfg.Temperature != 0.5 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAuthToken, "sk-test")
	t.Setenv(EnvBaseURL, "https://proxy.internal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.APIKey)
	}
	if cfg.BaseURL != "https://proxy.internal" {
		t.Errorf("base_url = %q", cfg.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{MaxTokens: 100}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing credential")
	}
	cfg.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
