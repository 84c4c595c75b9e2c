// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package catalog

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
	"github.com/Alohacardshop/allcardssync-sub011/internal/provider"
)

// streamContext identifies one paginated stream.
type streamContext struct {
	provider  string
	game      string
	streamKey string
	phase     models.SyncPhase
	shadow    bool
}

// pageFunc fetches and applies one page. It returns the number of rows
// written (or counted, in shadow mode) and the next cursor; an empty next
// cursor ends the stream. Infrastructure failures come back wrapped by
// fatal(); anything else is a provider-side stream error.
type pageFunc func(ctx context.Context, cursor provider.Cursor) (int, provider.Cursor, error)

// streamResult describes how one stream run ended. The skipped and
// resumed flags both mean the stream did not see the provider's full
// snapshot this run, which the guardrail gate depends on.
type streamResult struct {
	total   int  // rows written (or counted, in shadow mode)
	skipped bool // stream had already finished in a previous run
	resumed bool // stream restarted from a mid-stream cursor
}

// runStream drives one paginated stream to completion.
//
// The ordering contract: a page is fetched, applied (upserted), and only
// then is the checkpoint advanced to the cursor following that page. A
// crash between apply and save replays exactly one page, which the
// idempotent gateway absorbs.
//
// When the stream ends cleanly the checkpoint is overwritten with the
// terminal marker rather than deleted: re-invoking a crashed run then
// skips finished children and resumes only unfinished ones. A game's
// markers are erased wholesale once the whole game completes, so the
// next invocation is a fresh full sync.
func (o *Orchestrator) runStream(ctx context.Context, sc streamContext, sink EventSink, fetch pageFunc) (streamResult, error) {
	var res streamResult
	cursor := provider.Cursor("")
	if !sc.shadow {
		cp, err := o.checkpoints.LoadCheckpoint(ctx, sc.provider, sc.game, sc.streamKey)
		if err != nil {
			return res, fatal(fmt.Errorf("failed to load checkpoint: %w", err))
		}
		if cp != nil {
			if cursorDone(cp.Cursor) {
				logging.Debug().
					Str("game", sc.game).
					Str("stream", sc.streamKey).
					Msg("Stream already completed, skipping")
				res.skipped = true
				return res, nil
			}
			resumed, err := decodeCursor(cp.Cursor)
			if err != nil {
				// A corrupt cursor restarts the stream; upserts are
				// idempotent so replaying from the top is safe.
				logging.Err(err).Str("stream", sc.streamKey).Msg("Discarding malformed checkpoint cursor")
			} else {
				cursor = resumed
				res.resumed = true
				metrics.CheckpointResumes.Inc()
				logging.Debug().
					Str("game", sc.game).
					Str("stream", sc.streamKey).
					Msg("Resuming stream from checkpoint")
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		count, next, err := fetch(ctx, cursor)
		if err != nil {
			return res, err
		}
		res.total += count

		if !sc.shadow {
			saveErr := o.checkpoints.SaveCheckpoint(ctx, &models.Checkpoint{
				Provider:  sc.provider,
				Game:      sc.game,
				StreamKey: sc.streamKey,
				Cursor:    encodeCursor(next),
			})
			if saveErr != nil {
				return res, fatal(fmt.Errorf("failed to save checkpoint: %w", saveErr))
			}
		}

		emit(sink, Event{
			Type: EventUpsertProgress, Game: sc.game, Phase: sc.phase,
			StreamKey: sc.streamKey, Count: res.total,
		})

		cursor = next
		if cursor == "" {
			return res, nil
		}
	}
}

// The terminal marker: a finished stream stores the JSON null cursor.
var doneCursor = json.RawMessage("null")

func cursorDone(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func encodeCursor(c provider.Cursor) json.RawMessage {
	if c == "" {
		return doneCursor
	}
	raw, _ := json.Marshal(string(c))
	return raw
}

func decodeCursor(raw json.RawMessage) (provider.Cursor, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return provider.Cursor(s), nil
}

func gameFromRecord(rec provider.GameRecord) models.Game {
	active := true
	if rec.Active != nil {
		active = *rec.Active
	}
	return models.Game{
		ID:         rec.ID,
		Name:       rec.Name,
		ProviderID: rec.ID,
		Active:     active,
		Raw:        rec.Raw,
	}
}

func setFromRecord(game string, rec provider.SetRecord) models.Set {
	return models.Set{
		ID:          rec.ID,
		Game:        game,
		Name:        rec.Name,
		Code:        rec.Code,
		Series:      rec.Series,
		ReleaseDate: rec.ReleaseDate,
		TotalCount:  rec.TotalCount,
		Images:      rec.Images,
		Raw:         rec.Raw,
	}
}

func cardFromRecord(game, setID string, rec provider.CardRecord) models.Card {
	return models.Card{
		ID:                 rec.ID,
		Game:               game,
		SetID:              setID,
		Name:               rec.Name,
		Number:             rec.Number,
		Rarity:             rec.Rarity,
		Images:             rec.Images,
		ExternalProductRef: rec.ExternalProductRef,
		Raw:                rec.Raw,
	}
}

func variantFromRecord(game, cardID string, rec provider.VariantRecord) models.Variant {
	return models.Variant{
		ID:          rec.ID,
		CardID:      cardID,
		Game:        game,
		Language:    rec.Language,
		Printing:    rec.Printing,
		Condition:   rec.Condition,
		SKU:         rec.SKU,
		Price:       rec.Price,
		MarketPrice: rec.MarketPrice,
		LowPrice:    rec.LowPrice,
		HighPrice:   rec.HighPrice,
		Currency:    rec.Currency,
		Raw:         rec.Raw,
	}
}
