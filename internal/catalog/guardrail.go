// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package catalog

import (
	"context"
	"time"

	"github.com/Alohacardshop/allcardssync-sub011/internal/database"
	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// runGuardrail reconciles the provider's full sets snapshot against the
// pre-run local state. It runs only on sets (card and variant volume
// makes full snapshots impractical) and only after a clean sets phase.
//
// Two conservative corrections, nothing destructive:
//
//   - local sets absent from the snapshot are flagged not_found_since,
//     never deleted
//   - sets whose pre-run stored name differs from the snapshot name are
//     "rolled back": mutable display fields nulled, identity and
//     relations untouched, so a provider data-quality blip cannot
//     overwrite curated local edits. Sets first created during this run
//     are exempt; they have no curated state to protect.
func (o *Orchestrator) runGuardrail(ctx context.Context, providerName, game string, observed []models.ObservedRecord, preRun []database.SetIdentity, runStarted time.Time) (rolledBack, notFound int, err error) {
	observedNames := make(map[string]string, len(observed))
	for _, rec := range observed {
		observedNames[rec.ID] = rec.Name
	}

	var missing, renamed []string
	for _, local := range preRun {
		name, seen := observedNames[local.ID]
		if !seen {
			missing = append(missing, local.ID)
			continue
		}
		if name != local.Name && local.CreatedAt.Before(runStarted) {
			renamed = append(renamed, local.ID)
		}
	}

	if len(missing) > 0 {
		n, err := o.store.MarkSetsNotFound(ctx, providerName, game, missing)
		if err != nil {
			return 0, 0, err
		}
		notFound = int(n)
	}
	if len(renamed) > 0 {
		n, err := o.store.RollBackSetNames(ctx, providerName, game, renamed)
		if err != nil {
			return rolledBack, notFound, err
		}
		rolledBack = int(n)
	}

	metrics.RecordGuardrailResult(rolledBack, notFound)
	logging.Info().
		Str("game", game).
		Int("rolledBack", rolledBack).
		Int("notFound", notFound).
		Msg("Guardrail pass complete")
	return rolledBack, notFound, nil
}
