// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// The upsert gateway. Each method writes rows in chunks bounded by the
// configured batch size; every chunk is one transaction, so a chunk either
// commits whole or leaves the store untouched, and chunks already
// committed in the same call survive a later chunk's failure.
//
// Conflict targets are the natural keys, which makes re-applying the same
// provider page a no-op beyond refreshed raw/timestamps. Upserting a row
// also clears its not_found_since flag: a record seen in the latest
// snapshot is, by definition, found.
//
// Referential integrity is enforced here rather than trusted from
// provider data: child rows whose parent does not exist locally are
// skipped and counted, never inserted dangling.

// UpsertGames writes games. Games have no parent, so nothing is skipped.
func (db *DB) UpsertGames(ctx context.Context, provider string, rows []models.Game) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	written := 0

	for _, span := range db.chunk(len(rows)) {
		chunk := rows[span[0]:span[1]]
		start := time.Now()
		err := db.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO games (
				provider, id, name, provider_id, active, raw, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider, id) DO UPDATE SET
				name = EXCLUDED.name,
				provider_id = EXCLUDED.provider_id,
				active = EXCLUDED.active,
				raw = EXCLUDED.raw,
				updated_at = EXCLUDED.updated_at`)
			if err != nil {
				return err
			}
			defer func() { _ = stmt.Close() }()

			for i := range chunk {
				g := &chunk[i]
				if _, err := stmt.ExecContext(ctx,
					provider, g.ID, g.Name, g.ProviderID, g.Active,
					rawOrNull(g.Raw), now, now); err != nil {
					return fmt.Errorf("game %s: %w", g.ID, err)
				}
			}
			return nil
		})
		metrics.RecordUpsertBatch(string(models.KindGame), len(chunk), time.Since(start), err)
		if err != nil {
			return written, fmt.Errorf("failed to upsert games chunk: %w", err)
		}
		written += len(chunk)
	}
	return written, nil
}

// UpsertSets writes sets. Rows whose game does not exist locally are
// skipped and counted in the second return value.
func (db *DB) UpsertSets(ctx context.Context, provider string, rows []models.Set) (written, skipped int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	now := time.Now().UTC()

	for _, span := range db.chunk(len(rows)) {
		chunk := rows[span[0]:span[1]]

		games := make([]string, 0, len(chunk))
		for i := range chunk {
			games = append(games, chunk[i].Game)
		}
		knownGames, lookupErr := db.existingGameIDs(ctx, provider, games)
		if lookupErr != nil {
			return written, skipped, fmt.Errorf("failed to verify parent games: %w", lookupErr)
		}

		start := time.Now()
		chunkWritten := 0
		txErr := db.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO sets (
				provider, game, id, name, code, series, release_date, total_count,
				images, raw, not_found_since, created_at, updated_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
			ON CONFLICT (provider, game, id) DO UPDATE SET
				name = EXCLUDED.name,
				code = EXCLUDED.code,
				series = EXCLUDED.series,
				release_date = EXCLUDED.release_date,
				total_count = EXCLUDED.total_count,
				images = EXCLUDED.images,
				raw = EXCLUDED.raw,
				not_found_since = NULL,
				updated_at = EXCLUDED.updated_at,
				last_seen_at = EXCLUDED.last_seen_at`)
			if err != nil {
				return err
			}
			defer func() { _ = stmt.Close() }()

			for i := range chunk {
				s := &chunk[i]
				if !knownGames[s.Game] {
					logging.Warn().Str("set", s.ID).Str("game", s.Game).Msg("Skipping set with unknown game")
					skipped++
					continue
				}
				if _, err := stmt.ExecContext(ctx,
					provider, s.Game, s.ID, s.Name, s.Code, s.Series, s.ReleaseDate,
					s.TotalCount, rawOrNull(s.Images), rawOrNull(s.Raw),
					now, now, now); err != nil {
					return fmt.Errorf("set %s: %w", s.ID, err)
				}
				chunkWritten++
			}
			return nil
		})
		metrics.RecordUpsertBatch(string(models.KindSet), chunkWritten, time.Since(start), txErr)
		if txErr != nil {
			return written, skipped, fmt.Errorf("failed to upsert sets chunk: %w", txErr)
		}
		written += chunkWritten
	}
	return written, skipped, nil
}

// UpsertCards writes cards. Rows whose set does not exist locally are
// skipped and counted.
func (db *DB) UpsertCards(ctx context.Context, provider string, rows []models.Card) (written, skipped int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	now := time.Now().UTC()

	for _, span := range db.chunk(len(rows)) {
		chunk := rows[span[0]:span[1]]

		parents := make([][2]string, 0, len(chunk))
		for i := range chunk {
			parents = append(parents, [2]string{chunk[i].Game, chunk[i].SetID})
		}
		knownSets, lookupErr := db.existingSetIDs(ctx, provider, parents)
		if lookupErr != nil {
			return written, skipped, fmt.Errorf("failed to verify parent sets: %w", lookupErr)
		}

		start := time.Now()
		chunkWritten := 0
		txErr := db.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO cards (
				provider, id, game, set_id, name, number, rarity, images,
				external_product_ref, raw, not_found_since, created_at, updated_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
			ON CONFLICT (provider, id) DO UPDATE SET
				set_id = EXCLUDED.set_id,
				name = EXCLUDED.name,
				number = EXCLUDED.number,
				rarity = EXCLUDED.rarity,
				images = EXCLUDED.images,
				external_product_ref = EXCLUDED.external_product_ref,
				raw = EXCLUDED.raw,
				not_found_since = NULL,
				updated_at = EXCLUDED.updated_at,
				last_seen_at = EXCLUDED.last_seen_at`)
			if err != nil {
				return err
			}
			defer func() { _ = stmt.Close() }()

			for i := range chunk {
				c := &chunk[i]
				if !knownSets[c.Game+"\x00"+c.SetID] {
					logging.Warn().Str("card", c.ID).Str("set", c.SetID).Msg("Skipping card with unknown set")
					skipped++
					continue
				}
				if _, err := stmt.ExecContext(ctx,
					provider, c.ID, c.Game, c.SetID, c.Name, c.Number, c.Rarity,
					rawOrNull(c.Images), c.ExternalProductRef, rawOrNull(c.Raw),
					now, now, now); err != nil {
					return fmt.Errorf("card %s: %w", c.ID, err)
				}
				chunkWritten++
			}
			return nil
		})
		metrics.RecordUpsertBatch(string(models.KindCard), chunkWritten, time.Since(start), txErr)
		if txErr != nil {
			return written, skipped, fmt.Errorf("failed to upsert cards chunk: %w", txErr)
		}
		written += chunkWritten
	}
	return written, skipped, nil
}

// UpsertVariants writes price variants. Rows whose card does not exist
// locally are skipped and counted.
func (db *DB) UpsertVariants(ctx context.Context, provider string, rows []models.Variant) (written, skipped int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	now := time.Now().UTC()

	for _, span := range db.chunk(len(rows)) {
		chunk := rows[span[0]:span[1]]

		cardIDs := make([]string, 0, len(chunk))
		for i := range chunk {
			cardIDs = append(cardIDs, chunk[i].CardID)
		}
		knownCards, lookupErr := db.existingCardIDs(ctx, provider, cardIDs)
		if lookupErr != nil {
			return written, skipped, fmt.Errorf("failed to verify parent cards: %w", lookupErr)
		}

		start := time.Now()
		chunkWritten := 0
		txErr := db.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO variants (
				provider, id, card_id, game, language, printing, condition, sku,
				price, market_price, low_price, high_price, currency, raw,
				not_found_since, created_at, updated_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
			ON CONFLICT (provider, id) DO UPDATE SET
				card_id = EXCLUDED.card_id,
				language = EXCLUDED.language,
				printing = EXCLUDED.printing,
				condition = EXCLUDED.condition,
				sku = EXCLUDED.sku,
				price = EXCLUDED.price,
				market_price = EXCLUDED.market_price,
				low_price = EXCLUDED.low_price,
				high_price = EXCLUDED.high_price,
				currency = EXCLUDED.currency,
				raw = EXCLUDED.raw,
				not_found_since = NULL,
				updated_at = EXCLUDED.updated_at,
				last_seen_at = EXCLUDED.last_seen_at`)
			if err != nil {
				return err
			}
			defer func() { _ = stmt.Close() }()

			for i := range chunk {
				v := &chunk[i]
				if !knownCards[v.CardID] {
					logging.Warn().Str("variant", v.ID).Str("card", v.CardID).Msg("Skipping variant with unknown card")
					skipped++
					continue
				}
				currency := v.Currency
				if currency == "" {
					currency = "USD"
				}
				if _, err := stmt.ExecContext(ctx,
					provider, v.ID, v.CardID, v.Game, v.Language, v.Printing,
					v.Condition, v.SKU, v.Price, v.MarketPrice, v.LowPrice,
					v.HighPrice, currency, rawOrNull(v.Raw),
					now, now, now); err != nil {
					return fmt.Errorf("variant %s: %w", v.ID, err)
				}
				chunkWritten++
			}
			return nil
		})
		metrics.RecordUpsertBatch(string(models.KindVariant), chunkWritten, time.Since(start), txErr)
		if txErr != nil {
			return written, skipped, fmt.Errorf("failed to upsert variants chunk: %w", txErr)
		}
		written += chunkWritten
	}
	return written, skipped, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// existingGameIDs returns the subset of ids that exist in games.
func (db *DB) existingGameIDs(ctx context.Context, provider string, ids []string) (map[string]bool, error) {
	deduped := dedupe(ids)
	if len(deduped) == 0 {
		return map[string]bool{}, nil
	}
	query := fmt.Sprintf(
		`SELECT id FROM games WHERE provider = ? AND id IN (%s)`,
		placeholders(len(deduped)))
	args := append([]interface{}{provider}, toArgs(deduped)...)

	return db.queryIDSet(ctx, query, args...)
}

// existingSetIDs returns the subset of (game, setID) pairs that exist in
// sets, keyed as game + "\x00" + setID.
func (db *DB) existingSetIDs(ctx context.Context, provider string, pairs [][2]string) (map[string]bool, error) {
	seen := make(map[[2]string]bool, len(pairs))
	uniq := make([][2]string, 0, len(pairs))
	for _, p := range pairs {
		if !seen[p] {
			seen[p] = true
			uniq = append(uniq, p)
		}
	}
	if len(uniq) == 0 {
		return map[string]bool{}, nil
	}

	clauses := make([]string, len(uniq))
	args := make([]interface{}, 0, len(uniq)*2+1)
	args = append(args, provider)
	for i, p := range uniq {
		clauses[i] = "(game = ? AND id = ?)"
		args = append(args, p[0], p[1])
	}
	query := fmt.Sprintf(
		`SELECT game, id FROM sets WHERE provider = ? AND (%s)`,
		strings.Join(clauses, " OR "))

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var game, id string
		if err := rows.Scan(&game, &id); err != nil {
			return nil, err
		}
		out[game+"\x00"+id] = true
	}
	return out, rows.Err()
}

// existingCardIDs returns the subset of ids that exist in cards.
func (db *DB) existingCardIDs(ctx context.Context, provider string, ids []string) (map[string]bool, error) {
	deduped := dedupe(ids)
	if len(deduped) == 0 {
		return map[string]bool{}, nil
	}
	query := fmt.Sprintf(
		`SELECT id FROM cards WHERE provider = ? AND id IN (%s)`,
		placeholders(len(deduped)))
	args := append([]interface{}{provider}, toArgs(deduped)...)

	return db.queryIDSet(ctx, query, args...)
}

func (db *DB) queryIDSet(ctx context.Context, query string, args ...interface{}) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// rawOrNull converts an empty raw payload to SQL NULL.
func rawOrNull(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
