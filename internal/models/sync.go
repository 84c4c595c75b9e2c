// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Checkpoint is a durably persisted pagination cursor plus its stream
// identity. One row per paginated stream; the cursor is opaque to the
// engine (whatever the provider returned last).
type Checkpoint struct {
	Provider  string          `json:"provider"`
	Game      string          `json:"game"`
	StreamKey string          `json:"stream_key"`
	Cursor    json.RawMessage `json:"cursor"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stream keys for the per-parent paginated streams. Cards and variants are
// parent-scoped so a crash mid-fan-out resumes only the unfinished children.
const StreamKeySets = "sets"

// CardStreamKey returns the checkpoint stream key for one set's card stream.
func CardStreamKey(setID string) string {
	return fmt.Sprintf("cards:%s", setID)
}

// VariantStreamKey returns the checkpoint stream key for one card's variant
// stream.
func VariantStreamKey(cardID string) string {
	return fmt.Sprintf("variants:%s", cardID)
}

// SyncPhase identifies one stage of the four-phase pipeline.
type SyncPhase string

const (
	PhaseGames    SyncPhase = "games"
	PhaseSets     SyncPhase = "sets"
	PhaseCards    SyncPhase = "cards"
	PhaseVariants SyncPhase = "variants"
)

// SyncJobStatus is the lifecycle state of a sync job row.
type SyncJobStatus string

const (
	JobStatusRunning   SyncJobStatus = "running"
	JobStatusCompleted SyncJobStatus = "completed"
	JobStatusFailed    SyncJobStatus = "failed"
	JobStatusPartial   SyncJobStatus = "partial"
)

// SyncJob is the observability record for one (game, phase) execution.
// Bookkeeping only; correctness never depends on it.
type SyncJob struct {
	ID           uuid.UUID     `json:"id"`
	Provider     string        `json:"provider"`
	Game         string        `json:"game"`
	Phase        SyncPhase     `json:"phase"`
	Status       SyncJobStatus `json:"status"`
	Current      int           `json:"current"`
	Total        int           `json:"total"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
}
