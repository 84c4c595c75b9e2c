// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// Checkpoint persistence. A checkpoint is saved only after the page it
// covers has been committed, so a crash can replay the last page but can
// never skip one. A cleanly finished stream stores the terminal null
// cursor as a done marker; callers erase a game's checkpoints wholesale
// once the whole game completes, which makes the next run a fresh sync.

// LoadCheckpoint returns the stored cursor for a stream, or (nil, nil)
// when no checkpoint exists.
func (db *DB) LoadCheckpoint(ctx context.Context, provider, game, streamKey string) (*models.Checkpoint, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT cursor, updated_at FROM sync_checkpoints
		 WHERE provider = ? AND game = ? AND stream_key = ?`,
		provider, game, streamKey)

	var cursor string
	var updatedAt time.Time
	if err := row.Scan(&cursor, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint %s/%s/%s: %w", provider, game, streamKey, err)
	}
	return &models.Checkpoint{
		Provider:  provider,
		Game:      game,
		StreamKey: streamKey,
		Cursor:    json.RawMessage(cursor),
		UpdatedAt: updatedAt,
	}, nil
}

// SaveCheckpoint upserts a stream's cursor.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_checkpoints (provider, game, stream_key, cursor, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider, game, stream_key) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			updated_at = EXCLUDED.updated_at`,
		cp.Provider, cp.Game, cp.StreamKey, string(cp.Cursor), now)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s/%s: %w", cp.Provider, cp.Game, cp.StreamKey, err)
	}
	metrics.CheckpointSaves.Inc()
	return nil
}

// DeleteCheckpoint removes one stream's checkpoint. Deleting a checkpoint
// that does not exist is not an error.
func (db *DB) DeleteCheckpoint(ctx context.Context, provider, game, streamKey string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM sync_checkpoints WHERE provider = ? AND game = ? AND stream_key = ?`,
		provider, game, streamKey)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s/%s/%s: %w", provider, game, streamKey, err)
	}
	return nil
}

// DeleteCheckpoints removes every checkpoint for one provider/game pair,
// which forces a full resync of that game on the next run.
func (db *DB) DeleteCheckpoints(ctx context.Context, provider, game string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM sync_checkpoints WHERE provider = ? AND game = ?`,
		provider, game)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints for %s/%s: %w", provider, game, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted checkpoints for %s/%s: %w", provider, game, err)
	}
	return n, nil
}
