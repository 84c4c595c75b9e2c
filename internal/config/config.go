// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package config loads and validates application configuration.
//
// Configuration is layered with clear precedence: environment variables
// override an optional YAML config file, which overrides built-in defaults.
// See koanf.go for the loading machinery and the environment variable
// mapping table.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Provider ProviderConfig `koanf:"provider"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ProviderConfig configures the external catalog API client.
type ProviderConfig struct {
	// Name namespaces all stored identifiers and checkpoints.
	Name string `koanf:"name"`

	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`

	// PageLimit is the page size requested from the provider's list
	// endpoints.
	PageLimit int `koanf:"page_limit"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `koanf:"timeout"`

	// RetryAttempts and RetryBaseDelay drive the exponential backoff for
	// transient (429/5xx/network) failures inside the client.
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RatePerSecond caps outbound request rate; 0 disables the limiter.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// DatabaseConfig configures the local DuckDB catalog store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()

	// BatchSize bounds upsert chunk size. Chunks respect payload-size and
	// lock-duration limits of the store.
	BatchSize int `koanf:"batch_size"`
}

// SyncConfig configures the orchestrator.
type SyncConfig struct {
	// Workers bounds the fan-out concurrency over sibling child streams
	// (cards per set, variants per card). 1 = fully sequential.
	Workers int `koanf:"workers"`

	// GuardrailEnabled toggles the post-phase reconciliation pass.
	GuardrailEnabled bool `koanf:"guardrail_enabled"`

	// EventBuffer is the capacity of the progress event channel.
	EventBuffer int `koanf:"event_buffer"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port    int           `koanf:"port"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs/RateLimitWindow bound how often the sync trigger
	// endpoint may be hit.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures the logging facade.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

const (
	maxSyncWorkers = 8
	maxBatchSize   = 400
)

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Provider.URL != "" {
		u, err := url.Parse(c.Provider.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("provider.url must be a valid http(s) URL, got %q", c.Provider.URL)
		}
	}
	if c.Provider.PageLimit <= 0 {
		return fmt.Errorf("provider.page_limit must be positive, got %d", c.Provider.PageLimit)
	}
	if c.Provider.RetryAttempts < 1 {
		return fmt.Errorf("provider.retry_attempts must be at least 1, got %d", c.Provider.RetryAttempts)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.BatchSize <= 0 || c.Database.BatchSize > maxBatchSize {
		return fmt.Errorf("database.batch_size must be in (0, %d], got %d", maxBatchSize, c.Database.BatchSize)
	}
	if c.Sync.Workers < 1 || c.Sync.Workers > maxSyncWorkers {
		return fmt.Errorf("sync.workers must be in [1, %d], got %d", maxSyncWorkers, c.Sync.Workers)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	return nil
}
