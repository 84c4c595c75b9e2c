// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing provider name",
			mutate:  func(c *Config) { c.Provider.Name = "" },
			wantErr: "provider.name",
		},
		{
			name:    "bad provider url",
			mutate:  func(c *Config) { c.Provider.URL = "not-a-url" },
			wantErr: "provider.url",
		},
		{
			name:    "zero page limit",
			mutate:  func(c *Config) { c.Provider.PageLimit = 0 },
			wantErr: "provider.page_limit",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Provider.RetryAttempts = 0 },
			wantErr: "provider.retry_attempts",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "oversized batch",
			mutate:  func(c *Config) { c.Database.BatchSize = 5000 },
			wantErr: "database.batch_size",
		},
		{
			name:    "too many workers",
			mutate:  func(c *Config) { c.Sync.Workers = 64 },
			wantErr: "sync.workers",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"JUSTTCG_API_KEY", "provider.api_key"},
		{"JUSTTCG_URL", "provider.url"},
		{"DUCKDB_PATH", "database.path"},
		{"UPSERT_BATCH_SIZE", "database.batch_size"},
		{"SYNC_WORKERS", "sync.workers"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"RANDOM_UNRELATED_VAR", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("JUSTTCG_API_KEY", "test-key-123")
	t.Setenv("SYNC_WORKERS", "4")
	t.Setenv("UPSERT_BATCH_SIZE", "200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider.APIKey != "test-key-123" {
		t.Errorf("expected API key from env, got %q", cfg.Provider.APIKey)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Sync.Workers)
	}
	if cfg.Database.BatchSize != 200 {
		t.Errorf("expected batch size 200, got %d", cfg.Database.BatchSize)
	}
	// Untouched values keep defaults.
	if cfg.Provider.Name != "justtcg" {
		t.Errorf("expected default provider name, got %q", cfg.Provider.Name)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
provider:
  name: justtcg
  page_limit: 50
sync:
  workers: 2
server:
  cors_origins:
    - https://shop.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider.PageLimit != 50 {
		t.Errorf("expected page limit 50 from file, got %d", cfg.Provider.PageLimit)
	}
	if cfg.Sync.Workers != 2 {
		t.Errorf("expected 2 workers from file, got %d", cfg.Sync.Workers)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://shop.example.com" {
		t.Errorf("unexpected cors origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("provider:\n  page_limit: 50\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PROVIDER_PAGE_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider.PageLimit != 25 {
		t.Errorf("env should override file: got %d, want 25", cfg.Provider.PageLimit)
	}
}

func TestCommaSeparatedCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("expected trimmed origin, got %q", cfg.Server.CORSOrigins[1])
	}
}

func TestDurationsFromEnv(t *testing.T) {
	t.Setenv("PROVIDER_TIMEOUT", "15s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider.Timeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %v", cfg.Provider.Timeout)
	}
}
