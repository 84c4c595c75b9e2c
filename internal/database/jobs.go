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

	"github.com/google/uuid"

	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// Sync job bookkeeping. One row per (game, phase) execution, updated as
// the phase progresses and closed with a terminal status. The status
// endpoint reads the most recent rows. Correctness never depends on this
// table; checkpoints carry the resumable state.

// CreateSyncJob records the start of one phase for one game.
func (db *DB) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, provider, game, phase, status, current, total, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.Provider, job.Game, string(job.Phase),
		string(job.Status), job.Current, job.Total, job.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateSyncJobProgress bumps the progress counters of a running job.
func (db *DB) UpdateSyncJobProgress(ctx context.Context, id uuid.UUID, current, total int) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sync_jobs SET current = ?, total = ? WHERE id = ?`,
		current, total, id.String())
	if err != nil {
		return fmt.Errorf("failed to update sync job %s: %w", id, err)
	}
	return nil
}

// FinishSyncJob closes a job with its terminal status. errMsg is stored
// only when non-empty.
func (db *DB) FinishSyncJob(ctx context.Context, id uuid.UUID, status models.SyncJobStatus, errMsg string) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), nullIfEmpty(errMsg), now, id.String())
	if err != nil {
		return fmt.Errorf("failed to finish sync job %s: %w", id, err)
	}
	return nil
}

// GetSyncJob returns one job, or (nil, nil) when the id is unknown.
func (db *DB) GetSyncJob(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, provider, game, phase, status, current, total,
			started_at, completed_at, error_message
		 FROM sync_jobs WHERE id = ?`, id.String())
	job, err := scanSyncJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// ListRecentSyncJobs returns the newest jobs first.
func (db *DB) ListRecentSyncJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, provider, game, phase, status, current, total,
			started_at, completed_at, error_message
		 FROM sync_jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job         models.SyncJob
		id          string
		phase       string
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	if err := row.Scan(&id, &job.Provider, &job.Game, &phase, &status,
		&job.Current, &job.Total, &job.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("sync job has malformed id %q: %w", id, err)
	}
	job.ID = parsed
	job.Phase = models.SyncPhase(phase)
	job.Status = models.SyncJobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		job.ErrorMessage = &msg
	}
	return &job, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
