// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package models defines the catalog entities synchronized from the pricing
// provider and the bookkeeping records that make the sync resumable.
//
// Every entity keeps the provider's original payload in a Raw field so that
// fields the engine does not yet understand survive a round trip through the
// local store. Typed fields cover only what the engine depends on.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EntityKind identifies one of the four levels of the catalog hierarchy.
type EntityKind string

const (
	KindGame    EntityKind = "games"
	KindSet     EntityKind = "sets"
	KindCard    EntityKind = "cards"
	KindVariant EntityKind = "variants"
)

// Game is the root of the catalog hierarchy. Games are created on first
// sync and only ever deactivated, never deleted.
type Game struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ProviderID string          `json:"provider_id"`
	Active     bool            `json:"active"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Set is owned by exactly one Game. The ID is provider-qualified so that
// two providers naming a set identically cannot collide.
type Set struct {
	ID          string          `json:"id"`
	Game        string          `json:"game"`
	Name        string          `json:"name"`
	Code        *string         `json:"code,omitempty"`
	Series      *string         `json:"series,omitempty"`
	ReleaseDate *string         `json:"release_date,omitempty"`
	TotalCount  *int            `json:"total_count,omitempty"`
	Images      json.RawMessage `json:"images,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`

	// NotFoundSince is set by the guardrail pass when the set disappears
	// from the provider's latest snapshot. Flag, never delete.
	NotFoundSince *time.Time `json:"not_found_since,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Card is owned by exactly one Set.
type Card struct {
	ID                 string          `json:"id"`
	Game               string          `json:"game"`
	SetID              string          `json:"set_id"`
	Name               string          `json:"name"`
	Number             *string         `json:"number,omitempty"`
	Rarity             *string         `json:"rarity,omitempty"`
	Images             json.RawMessage `json:"images,omitempty"`
	ExternalProductRef *string         `json:"external_product_ref,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
	NotFoundSince      *time.Time      `json:"not_found_since,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	LastSeenAt         time.Time       `json:"last_seen_at"`
}

// Variant is a priced SKU of a card (e.g. foil / near-mint / Japanese).
// Prices are in the provider's minor-unit-free decimal form; Currency
// qualifies them.
type Variant struct {
	ID            string          `json:"id"`
	CardID        string          `json:"card_id"`
	Game          string          `json:"game"`
	Language      *string         `json:"language,omitempty"`
	Printing      *string         `json:"printing,omitempty"`
	Condition     *string         `json:"condition,omitempty"`
	SKU           *string         `json:"sku,omitempty"`
	Price         *float64        `json:"price,omitempty"`
	MarketPrice   *float64        `json:"market_price,omitempty"`
	LowPrice      *float64        `json:"low_price,omitempty"`
	HighPrice     *float64        `json:"high_price,omitempty"`
	Currency      string          `json:"currency"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	NotFoundSince *time.Time      `json:"not_found_since,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastSeenAt    time.Time       `json:"last_seen_at"`
}

// ObservedRecord is the (id, name) pair accumulated across all pages of a
// phase and fed to the guardrail pass.
type ObservedRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
