// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package database implements the local catalog store on DuckDB.
//
// It provides the three persistence surfaces the sync engine depends on:
//
//   - the upsert gateway: batched, idempotent writes per entity kind keyed
//     by natural identifiers (upsert.go)
//   - the checkpoint store: one durable cursor row per paginated stream
//     (checkpoints.go)
//   - guardrail queries: identity listings and conservative flag/rollback
//     updates (guardrail.go)
//
// plus sync-job bookkeeping (jobs.go). All writes are single-statement or
// single-transaction atomic; no cross-table transactionality is offered or
// needed by the engine.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn      *sql.DB
	batchSize int
}

// New opens the database, applies connection tuning, and initializes the
// schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists so first boot on a fresh volume
	// does not fail with "No such file or directory".
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		conn:      conn,
		batchSize: cfg.BatchSize,
	}

	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Int("batch_size", cfg.BatchSize).
		Msg("Database initialized")

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive, for readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// chunk splits n rows into batch-sized half-open intervals [lo, hi).
func (db *DB) chunk(n int) [][2]int {
	size := db.batchSize
	if size <= 0 {
		size = 300
	}
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}
