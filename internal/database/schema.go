// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package database

import "fmt"

// initSchema creates all tables if they do not exist.
//
// Every catalog table carries its natural key as primary key (provider-
// namespaced), a raw JSON column preserving the provider's original
// payload, and audit timestamps. created_at is written once on first
// insert; updated_at and last_seen_at advance on every upsert.
func (db *DB) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS games (
			provider VARCHAR NOT NULL,
			id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			provider_id VARCHAR,
			active BOOLEAN NOT NULL DEFAULT true,
			raw JSON,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, id)
		)`,
		`CREATE TABLE IF NOT EXISTS sets (
			provider VARCHAR NOT NULL,
			game VARCHAR NOT NULL,
			id VARCHAR NOT NULL,
			name VARCHAR,
			code VARCHAR,
			series VARCHAR,
			release_date VARCHAR,
			total_count INTEGER,
			images JSON,
			raw JSON,
			not_found_since TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, game, id)
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			provider VARCHAR NOT NULL,
			id VARCHAR NOT NULL,
			game VARCHAR NOT NULL,
			set_id VARCHAR NOT NULL,
			name VARCHAR,
			number VARCHAR,
			rarity VARCHAR,
			images JSON,
			external_product_ref VARCHAR,
			raw JSON,
			not_found_since TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, id)
		)`,
		`CREATE TABLE IF NOT EXISTS variants (
			provider VARCHAR NOT NULL,
			id VARCHAR NOT NULL,
			card_id VARCHAR NOT NULL,
			game VARCHAR NOT NULL,
			language VARCHAR,
			printing VARCHAR,
			condition VARCHAR,
			sku VARCHAR,
			price DOUBLE,
			market_price DOUBLE,
			low_price DOUBLE,
			high_price DOUBLE,
			currency VARCHAR NOT NULL DEFAULT 'USD',
			raw JSON,
			not_found_since TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			provider VARCHAR NOT NULL,
			game VARCHAR NOT NULL,
			stream_key VARCHAR NOT NULL,
			cursor JSON NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, game, stream_key)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
			id UUID PRIMARY KEY,
			provider VARCHAR NOT NULL,
			game VARCHAR NOT NULL,
			phase VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			current INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error_message VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sets_game ON sets (provider, game)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_set ON cards (provider, game, set_id)`,
		`CREATE INDEX IF NOT EXISTS idx_variants_card ON variants (provider, game, card_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_game ON sync_jobs (provider, game, started_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
