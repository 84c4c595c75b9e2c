// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
	"github.com/Alohacardshop/allcardssync-sub011/internal/database"
	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
	"github.com/Alohacardshop/allcardssync-sub011/internal/provider"
)

// Sync modes. Shadow fetches and counts provider data without touching
// the store or the checkpoints, as a dry run of provider data quality.
const (
	ModeLive   = "live"
	ModeShadow = "shadow"
)

// ProviderClient is the paginated list surface the orchestrator consumes.
type ProviderClient interface {
	ListGames(ctx context.Context, cursor provider.Cursor) (*provider.Page[provider.GameRecord], error)
	ListSets(ctx context.Context, game string, cursor provider.Cursor) (*provider.Page[provider.SetRecord], error)
	ListCards(ctx context.Context, game, setID string, cursor provider.Cursor) (*provider.Page[provider.CardRecord], error)
	ListVariants(ctx context.Context, game, cardID string, cursor provider.Cursor) (*provider.Page[provider.VariantRecord], error)
}

// CatalogStore is the upsert gateway plus the guardrail queries.
type CatalogStore interface {
	UpsertGames(ctx context.Context, providerName string, rows []models.Game) (int, error)
	UpsertSets(ctx context.Context, providerName string, rows []models.Set) (written, skipped int, err error)
	UpsertCards(ctx context.Context, providerName string, rows []models.Card) (written, skipped int, err error)
	UpsertVariants(ctx context.Context, providerName string, rows []models.Variant) (written, skipped int, err error)
	ListSetIdentities(ctx context.Context, providerName, game string) ([]database.SetIdentity, error)
	MarkSetsNotFound(ctx context.Context, providerName, game string, ids []string) (int64, error)
	RollBackSetNames(ctx context.Context, providerName, game string, ids []string) (int64, error)
	ListSetIDs(ctx context.Context, providerName, game string) ([]string, error)
	ListCardIDs(ctx context.Context, providerName, game, setID string) ([]string, error)
}

// CheckpointStore persists one cursor per paginated stream.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, providerName, game, streamKey string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	DeleteCheckpoints(ctx context.Context, providerName, game string) (int64, error)
}

// JobStore records per-(game, phase) bookkeeping rows. Failures here are
// logged and ignored; correctness lives in the checkpoint store.
type JobStore interface {
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	UpdateSyncJobProgress(ctx context.Context, id uuid.UUID, current, total int) error
	FinishSyncJob(ctx context.Context, id uuid.UUID, status models.SyncJobStatus, errMsg string) error
}

// Orchestrator drives the four-phase sync pipeline. All collaborators
// are injected; the orchestrator holds no global state and is safe to
// share across runs.
type Orchestrator struct {
	client      ProviderClient
	store       CatalogStore
	checkpoints CheckpointStore
	jobs        JobStore

	workers          int
	guardrailEnabled bool
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(client ProviderClient, store CatalogStore, checkpoints CheckpointStore, jobs JobStore, cfg *config.SyncConfig) *Orchestrator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		client:           client,
		store:            store,
		checkpoints:      checkpoints,
		jobs:             jobs,
		workers:          workers,
		guardrailEnabled: cfg.GuardrailEnabled,
	}
}

// Request describes one sync invocation.
type Request struct {
	Provider string   `json:"provider" validate:"required"`
	Games    []string `json:"games" validate:"required,min=1,dive,required"`
	Mode     string   `json:"mode,omitempty" validate:"omitempty,oneof=live shadow"`
}

// gameCounts are the per-game summary counters for GAME_DONE.
type gameCounts struct {
	sets     int
	cards    int
	variants int
}

// Run executes one sync. Events go to sink, which is closed exactly once
// before Run returns. The returned error is non-nil only for a fatal
// abort; partial per-stream failures surface as WARNING events and a
// partial job status.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink EventSink) error {
	defer sink.Close()

	metrics.SyncRunsActive.Inc()
	defer metrics.SyncRunsActive.Dec()

	if req.Mode == "" {
		req.Mode = ModeLive
	}
	shadow := req.Mode == ModeShadow

	logging.Info().
		Str("provider", req.Provider).
		Strs("games", req.Games).
		Str("mode", req.Mode).
		Msg("Starting catalog sync")

	emit(sink, Event{Type: EventStart, Message: fmt.Sprintf("sync %s mode=%s", req.Provider, req.Mode)})

	knownGames, err := o.syncGames(ctx, req.Provider, shadow, sink)
	if err != nil {
		return o.abort(sink, "", err)
	}
	for _, game := range req.Games {
		if !knownGames[game] {
			return o.abort(sink, game, fmt.Errorf("unknown game %q for provider %s", game, req.Provider))
		}
	}

	var totals gameCounts
	for _, game := range req.Games {
		counts, partial, err := o.syncGame(ctx, req.Provider, game, shadow, sink)
		if err != nil {
			return o.abort(sink, game, err)
		}
		// Erase the game's stream checkpoints (cursors and done markers)
		// only when every stream finished: a partial run keeps them so a
		// re-invocation resumes the abandoned streams instead of
		// re-fetching the whole game.
		if !shadow && !partial {
			if _, err := o.checkpoints.DeleteCheckpoints(ctx, req.Provider, game); err != nil {
				return o.abort(sink, game, fmt.Errorf("failed to clear checkpoints: %w", err))
			}
		}
		totals.sets += counts.sets
		totals.cards += counts.cards
		totals.variants += counts.variants
		emit(sink, Event{
			Type: EventGameDone, Game: game,
			Sets: counts.sets, Cards: counts.cards, Variants: counts.variants,
		})
	}

	emit(sink, Event{
		Type: EventComplete,
		Sets: totals.sets, Cards: totals.cards, Variants: totals.variants,
	})
	metrics.SyncRunsTotal.WithLabelValues("complete").Inc()
	logging.Info().
		Int("sets", totals.sets).
		Int("cards", totals.cards).
		Int("variants", totals.variants).
		Msg("Catalog sync complete")
	return nil
}

// abort emits the terminal ERROR event and returns the fatal error.
func (o *Orchestrator) abort(sink EventSink, game string, err error) error {
	logging.Err(err).Str("game", game).Msg("Catalog sync aborted")
	emit(sink, Event{Type: EventError, Game: game, Message: err.Error()})
	metrics.SyncRunsTotal.WithLabelValues("error").Inc()
	return err
}

// syncGames refreshes the games table from the provider and returns the
// set of game ids the provider knows. The games list is small and never
// checkpointed; a failed run just refetches it.
func (o *Orchestrator) syncGames(ctx context.Context, providerName string, shadow bool, sink EventSink) (map[string]bool, error) {
	emit(sink, Event{Type: EventPhaseStart, Phase: models.PhaseGames})

	known := make(map[string]bool)
	cursor := provider.Cursor("")
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := o.client.ListGames(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("games phase failed: %w", err)
		}

		rows := make([]models.Game, 0, len(page.Items))
		for _, rec := range page.Items {
			known[rec.ID] = true
			rows = append(rows, gameFromRecord(rec))
		}
		if !shadow {
			if _, err := o.store.UpsertGames(ctx, providerName, rows); err != nil {
				return nil, fmt.Errorf("games phase failed: %w", err)
			}
		}

		cursor = page.NextCursor
		if cursor == "" {
			return known, nil
		}
	}
}

// syncGame runs sets → guardrail → cards → variants for one game. A
// returned error is fatal for the whole run; per-stream failures are
// absorbed as WARNING events and reported through partial, which keeps
// the game's checkpoints alive for the next invocation.
func (o *Orchestrator) syncGame(ctx context.Context, providerName, game string, shadow bool, sink EventSink) (counts gameCounts, partial bool, err error) {
	runStarted := time.Now().UTC()

	// Snapshot local identities before the sets phase so the guardrail
	// can compare the provider's snapshot against what predates this run.
	var preRun []database.SetIdentity
	if !shadow && o.guardrailEnabled {
		preRun, err = o.store.ListSetIdentities(ctx, providerName, game)
		if err != nil {
			return counts, partial, fmt.Errorf("failed to snapshot set identities: %w", err)
		}
	}

	// Phase 1: sets.
	emit(sink, Event{Type: EventPhaseStart, Game: game, Phase: models.PhaseSets})
	phaseStart := time.Now()
	job := o.startJob(ctx, providerName, game, models.PhaseSets, 0)

	var observed []models.ObservedRecord
	setsRes, setsErr := o.runStream(ctx, streamContext{
		provider: providerName, game: game,
		streamKey: models.StreamKeySets, phase: models.PhaseSets, shadow: shadow,
	}, sink, func(ctx context.Context, cursor provider.Cursor) (int, provider.Cursor, error) {
		page, err := o.client.ListSets(ctx, game, cursor)
		if err != nil {
			return 0, "", err
		}
		rows := make([]models.Set, 0, len(page.Items))
		for _, rec := range page.Items {
			observed = append(observed, models.ObservedRecord{ID: rec.ID, Name: rec.Name})
			rows = append(rows, setFromRecord(game, rec))
		}
		if shadow {
			return len(rows), page.NextCursor, nil
		}
		written, skipped, err := o.store.UpsertSets(ctx, providerName, rows)
		if err != nil {
			return 0, "", fatal(err)
		}
		warnSkipped(sink, game, models.PhaseSets, skipped)
		return written, page.NextCursor, nil
	})
	counts.sets = setsRes.total
	if setsErr != nil {
		if isFatal(setsErr) || ctx.Err() != nil {
			o.finishJob(ctx, job, models.JobStatusFailed, setsErr)
			return counts, partial, setsErr
		}
		// Sets stream abandoned after retries: the observed snapshot is
		// incomplete, so the guardrail must not run. Cards still proceed
		// over the sets already known locally.
		partial = true
		metrics.SyncStreamFailures.WithLabelValues(string(models.PhaseSets)).Inc()
		emit(sink, Event{
			Type: EventWarning, Game: game, Phase: models.PhaseSets,
			StreamKey: models.StreamKeySets,
			Message:   fmt.Sprintf("sets stream abandoned: %v", setsErr),
		})
		o.finishJob(ctx, job, models.JobStatusPartial, setsErr)
	} else {
		o.finishJob(ctx, job, models.JobStatusCompleted, nil)
	}
	metrics.SyncPhaseDuration.WithLabelValues(string(models.PhaseSets)).Observe(time.Since(phaseStart).Seconds())

	// Guardrail: only on a clean, full, non-shadow sets phase, and never
	// fatal. A run that skipped the finished sets stream, or resumed it
	// from a mid-stream cursor, observed only part of the provider's
	// snapshot; flagging against a partial snapshot would wrongly mark
	// every set from the unvisited pages as gone.
	if setsErr == nil && !setsRes.skipped && !setsRes.resumed && !shadow && o.guardrailEnabled {
		rolledBack, notFound, err := o.runGuardrail(ctx, providerName, game, observed, preRun, runStarted)
		if err != nil {
			metrics.GuardrailFailures.Inc()
			logging.Err(err).Str("game", game).Msg("Guardrail pass failed, skipping")
			emit(sink, Event{
				Type: EventWarning, Game: game, Phase: models.PhaseSets,
				Message: fmt.Sprintf("guardrail pass skipped: %v", err),
			})
		} else {
			emit(sink, Event{
				Type: EventGuardrailResult, Game: game,
				RolledBack: rolledBack, NotFound: notFound,
			})
		}
	}

	// Phase 2: cards, fanned out per set.
	setIDs, err := o.childIDs(ctx, shadow, observedIDs(observed), func() ([]string, error) {
		return o.store.ListSetIDs(ctx, providerName, game)
	})
	if err != nil {
		return counts, partial, fmt.Errorf("failed to list sets for card fan-out: %w", err)
	}

	emit(sink, Event{Type: EventPhaseStart, Game: game, Phase: models.PhaseCards})
	cardsWritten, observedCards, cardsPartial, err := o.runFanOut(ctx, providerName, game, models.PhaseCards, shadow, sink, setIDs)
	if err != nil {
		return counts, partial, err
	}
	partial = partial || cardsPartial
	counts.cards = cardsWritten

	// Phase 3: variants, fanned out per card.
	cardIDs, err := o.childIDs(ctx, shadow, observedCards, func() ([]string, error) {
		var all []string
		for _, setID := range setIDs {
			ids, err := o.store.ListCardIDs(ctx, providerName, game, setID)
			if err != nil {
				return nil, err
			}
			all = append(all, ids...)
		}
		return all, nil
	})
	if err != nil {
		return counts, partial, fmt.Errorf("failed to list cards for variant fan-out: %w", err)
	}

	emit(sink, Event{Type: EventPhaseStart, Game: game, Phase: models.PhaseVariants})
	variantsWritten, _, variantsPartial, err := o.runFanOut(ctx, providerName, game, models.PhaseVariants, shadow, sink, cardIDs)
	if err != nil {
		return counts, partial, err
	}
	partial = partial || variantsPartial
	counts.variants = variantsWritten

	return counts, partial, nil
}

// childIDs picks the fan-out parents: local store in live mode, the ids
// observed this run in shadow mode (where nothing was written).
func (o *Orchestrator) childIDs(ctx context.Context, shadow bool, fromRun []string, fromStore func() ([]string, error)) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if shadow {
		return fromRun, nil
	}
	return fromStore()
}

// runFanOut drives one child stream per parent id with a bounded worker
// pool. A child abandoned after retries is reported and skipped, which
// makes the phase partial; fatal errors cancel the remaining children
// and abort the run.
func (o *Orchestrator) runFanOut(ctx context.Context, providerName, game string, phase models.SyncPhase, shadow bool, sink EventSink, parents []string) (int, []string, bool, error) {
	phaseStart := time.Now()
	defer func() {
		metrics.SyncPhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(phaseStart).Seconds())
	}()

	job := o.startJob(ctx, providerName, game, phase, len(parents))

	var (
		mu       sync.Mutex
		written  int
		children []string
		done     int
		failed   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, parent := range parents {
		parent := parent
		g.Go(func() error {
			count, kids, err := o.runChildStream(gctx, providerName, game, phase, parent, shadow, sink)
			mu.Lock()
			defer mu.Unlock()
			done++
			o.updateJob(gctx, job, done, len(parents))
			if err != nil {
				if isFatal(err) || gctx.Err() != nil {
					return err
				}
				// Partial failure isolation: this parent is skipped,
				// its siblings keep going.
				failed = true
				metrics.SyncStreamFailures.WithLabelValues(string(phase)).Inc()
				emit(sink, Event{
					Type: EventWarning, Game: game, Phase: phase,
					StreamKey: childStreamKey(phase, parent),
					Message:   fmt.Sprintf("stream abandoned after retries: %v", err),
				})
				return nil
			}
			written += count
			children = append(children, kids...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.finishJob(ctx, job, models.JobStatusFailed, err)
		return written, children, failed, err
	}
	if failed {
		o.finishJob(ctx, job, models.JobStatusPartial, nil)
	} else {
		o.finishJob(ctx, job, models.JobStatusCompleted, nil)
	}
	return written, children, failed, nil
}

// runChildStream syncs one parent's child stream and returns the written
// count plus the child ids observed (used for shadow-mode fan-out).
func (o *Orchestrator) runChildStream(ctx context.Context, providerName, game string, phase models.SyncPhase, parent string, shadow bool, sink EventSink) (int, []string, error) {
	var childIDs []string
	sc := streamContext{
		provider: providerName, game: game,
		streamKey: childStreamKey(phase, parent), phase: phase, shadow: shadow,
	}

	switch phase {
	case models.PhaseCards:
		res, err := o.runStream(ctx, sc, sink, func(ctx context.Context, cursor provider.Cursor) (int, provider.Cursor, error) {
			page, err := o.client.ListCards(ctx, game, parent, cursor)
			if err != nil {
				return 0, "", err
			}
			rows := make([]models.Card, 0, len(page.Items))
			for _, rec := range page.Items {
				childIDs = append(childIDs, rec.ID)
				rows = append(rows, cardFromRecord(game, parent, rec))
			}
			if shadow {
				return len(rows), page.NextCursor, nil
			}
			written, skipped, err := o.store.UpsertCards(ctx, providerName, rows)
			if err != nil {
				return 0, "", fatal(err)
			}
			warnSkipped(sink, game, phase, skipped)
			return written, page.NextCursor, nil
		})
		return res.total, childIDs, err

	case models.PhaseVariants:
		res, err := o.runStream(ctx, sc, sink, func(ctx context.Context, cursor provider.Cursor) (int, provider.Cursor, error) {
			page, err := o.client.ListVariants(ctx, game, parent, cursor)
			if err != nil {
				return 0, "", err
			}
			rows := make([]models.Variant, 0, len(page.Items))
			for _, rec := range page.Items {
				rows = append(rows, variantFromRecord(game, parent, rec))
			}
			if shadow {
				return len(rows), page.NextCursor, nil
			}
			written, skipped, err := o.store.UpsertVariants(ctx, providerName, rows)
			if err != nil {
				return 0, "", fatal(err)
			}
			warnSkipped(sink, game, phase, skipped)
			return written, page.NextCursor, nil
		})
		return res.total, nil, err

	default:
		return 0, nil, fatal(fmt.Errorf("phase %s has no child streams", phase))
	}
}

func childStreamKey(phase models.SyncPhase, parent string) string {
	if phase == models.PhaseVariants {
		return models.VariantStreamKey(parent)
	}
	return models.CardStreamKey(parent)
}

func observedIDs(observed []models.ObservedRecord) []string {
	ids := make([]string, len(observed))
	for i, rec := range observed {
		ids[i] = rec.ID
	}
	return ids
}

func warnSkipped(sink EventSink, game string, phase models.SyncPhase, skipped int) {
	if skipped == 0 {
		return
	}
	emit(sink, Event{
		Type: EventWarning, Game: game, Phase: phase,
		Message: fmt.Sprintf("%d records skipped: parent not found locally", skipped),
	})
}

// startJob opens a bookkeeping row; returns uuid.Nil on failure so the
// other job helpers become no-ops.
func (o *Orchestrator) startJob(ctx context.Context, providerName, game string, phase models.SyncPhase, total int) uuid.UUID {
	id := uuid.New()
	err := o.jobs.CreateSyncJob(ctx, &models.SyncJob{
		ID:        id,
		Provider:  providerName,
		Game:      game,
		Phase:     phase,
		Status:    models.JobStatusRunning,
		Total:     total,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		logging.Err(err).Str("game", game).Str("phase", string(phase)).Msg("Failed to create sync job row")
		return uuid.Nil
	}
	return id
}

func (o *Orchestrator) updateJob(ctx context.Context, id uuid.UUID, current, total int) {
	if id == uuid.Nil {
		return
	}
	if err := o.jobs.UpdateSyncJobProgress(ctx, id, current, total); err != nil {
		logging.Err(err).Msg("Failed to update sync job progress")
	}
}

func (o *Orchestrator) finishJob(ctx context.Context, id uuid.UUID, status models.SyncJobStatus, cause error) {
	if id == uuid.Nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := o.jobs.FinishSyncJob(ctx, id, status, msg); err != nil {
		logging.Err(err).Msg("Failed to finish sync job row")
	}
}

func emit(sink EventSink, event Event) {
	event.Timestamp = time.Now().UTC()
	sink.Publish(event)
}

// infraError marks an error as fatal for the whole run: the checkpoint
// store or upsert gateway failed, so no correctness guarantee holds.
type infraError struct {
	err error
}

func (e *infraError) Error() string { return e.err.Error() }

func (e *infraError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &infraError{err: err}
}

func isFatal(err error) bool {
	var infra *infraError
	return errors.As(err, &infra)
}
