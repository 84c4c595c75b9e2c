// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// Guardrail support queries. The diff between the local store and the
// latest provider snapshot is computed in Go by the catalog package; this
// file only lists local identities and applies the two conservative
// mutations. Keeping the id lists on the Go side avoids building a
// NOT IN clause over tens of thousands of parameters.

// guardrailChunk bounds the id lists passed to UPDATE ... IN clauses.
const guardrailChunk = 200

// SetIdentity is what the guardrail diff needs to know about a local set.
type SetIdentity struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ListSetIdentities returns id, name and created_at for every set of a
// game, including sets already flagged not-found.
func (db *DB) ListSetIdentities(ctx context.Context, provider, game string) ([]SetIdentity, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, created_at FROM sets WHERE provider = ? AND game = ?`,
		provider, game)
	if err != nil {
		return nil, fmt.Errorf("failed to list set identities for %s/%s: %w", provider, game, err)
	}
	defer func() { _ = rows.Close() }()

	var out []SetIdentity
	for rows.Next() {
		var s SetIdentity
		var name sql.NullString // NULL after a guardrail rollback
		if err := rows.Scan(&s.ID, &name, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Name = name.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkSetsNotFound stamps not_found_since on sets missing from the latest
// snapshot. Sets already flagged keep their original timestamp.
func (db *DB) MarkSetsNotFound(ctx context.Context, provider, game string, ids []string) (int64, error) {
	now := time.Now().UTC()
	var total int64
	for _, chunk := range chunkStrings(ids, guardrailChunk) {
		query := fmt.Sprintf(
			`UPDATE sets SET not_found_since = ?
			 WHERE provider = ? AND game = ? AND not_found_since IS NULL AND id IN (%s)`,
			placeholders(len(chunk)))
		args := append([]interface{}{now, provider, game}, toArgs(chunk)...)
		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to mark sets not found: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// RollBackSetNames nulls the mutable display fields of sets whose name
// drifted but whose identity still exists upstream. Identity and
// bookkeeping columns are untouched; the next sync repopulates the
// display fields from provider truth.
func (db *DB) RollBackSetNames(ctx context.Context, provider, game string, ids []string) (int64, error) {
	now := time.Now().UTC()
	var total int64
	for _, chunk := range chunkStrings(ids, guardrailChunk) {
		query := fmt.Sprintf(
			`UPDATE sets SET name = NULL, code = NULL, series = NULL, updated_at = ?
			 WHERE provider = ? AND game = ? AND id IN (%s)`,
			placeholders(len(chunk)))
		args := append([]interface{}{now, provider, game}, toArgs(chunk)...)
		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to roll back set names: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// GetSet reads one set back, mostly for tests and the status endpoint.
func (db *DB) GetSet(ctx context.Context, provider, game, id string) (*models.Set, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, game, name, code, series, release_date, total_count,
			not_found_since, created_at, updated_at, last_seen_at
		 FROM sets WHERE provider = ? AND game = ? AND id = ?`,
		provider, game, id)

	var s models.Set
	var name sql.NullString
	if err := row.Scan(&s.ID, &s.Game, &name, &s.Code, &s.Series, &s.ReleaseDate,
		&s.TotalCount, &s.NotFoundSince, &s.CreatedAt, &s.UpdatedAt, &s.LastSeenAt); err != nil {
		return nil, fmt.Errorf("failed to get set %s: %w", id, err)
	}
	s.Name = name.String
	return &s, nil
}

// CountRows returns the row count of one entity table for a game. Games
// ignore the game filter.
func (db *DB) CountRows(ctx context.Context, kind models.EntityKind, provider, game string) (int64, error) {
	var query string
	args := []interface{}{provider}
	switch kind {
	case models.KindGame:
		query = `SELECT COUNT(*) FROM games WHERE provider = ?`
	case models.KindSet:
		query = `SELECT COUNT(*) FROM sets WHERE provider = ? AND game = ?`
		args = append(args, game)
	case models.KindCard:
		query = `SELECT COUNT(*) FROM cards WHERE provider = ? AND game = ?`
		args = append(args, game)
	case models.KindVariant:
		query = `SELECT COUNT(*) FROM variants WHERE provider = ? AND game = ?`
		args = append(args, game)
	default:
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	var n int64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}

// ListSetIDs returns the ids of every set of a game that is not flagged
// not-found, in insertion order. The card phase fans out over this list.
func (db *DB) ListSetIDs(ctx context.Context, provider, game string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM sets
		 WHERE provider = ? AND game = ? AND not_found_since IS NULL
		 ORDER BY created_at, id`,
		provider, game)
	if err != nil {
		return nil, fmt.Errorf("failed to list set ids for %s/%s: %w", provider, game, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListCardIDs returns the ids of every card in a set. The variant phase
// fans out over this list.
func (db *DB) ListCardIDs(ctx context.Context, provider, game, setID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM cards
		 WHERE provider = ? AND game = ? AND set_id = ?
		 ORDER BY created_at, id`,
		provider, game, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to list card ids for set %s: %w", setID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func chunkStrings(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
