// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package catalog implements the sync orchestrator: the four-phase
// pipeline that pulls games, sets, cards and price variants from the
// pricing provider into the local store, with per-stream checkpointing,
// a conservative guardrail pass, and an ordered progress event stream.
package catalog

import (
	"time"

	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// EventType classifies one progress event.
type EventType string

const (
	EventStart           EventType = "START"
	EventPhaseStart      EventType = "PHASE_START"
	EventUpsertProgress  EventType = "UPSERT_PROGRESS"
	EventGuardrailResult EventType = "GUARDRAIL_RESULT"
	EventGameDone        EventType = "GAME_DONE"
	EventWarning         EventType = "WARNING"
	EventError           EventType = "ERROR"
	EventComplete        EventType = "COMPLETE"
)

// Event is one entry of the progress stream. Fields are populated per
// type; zero-valued fields are omitted on the wire. COMPLETE and ERROR
// are terminal and emitted exactly once per run.
type Event struct {
	Type      EventType        `json:"type"`
	Game      string           `json:"game,omitempty"`
	Phase     models.SyncPhase `json:"phase,omitempty"`
	StreamKey string           `json:"streamKey,omitempty"`

	// UPSERT_PROGRESS running totals for one stream.
	Count int  `json:"count,omitempty"`
	Total *int `json:"total,omitempty"`

	// GAME_DONE / COMPLETE summary counters.
	Sets     int `json:"sets,omitempty"`
	Cards    int `json:"cards,omitempty"`
	Variants int `json:"variants,omitempty"`

	// GUARDRAIL_RESULT counters.
	RolledBack int `json:"rolledBack,omitempty"`
	NotFound   int `json:"notFound,omitempty"`

	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
