// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package provider

import (
	"github.com/goccy/go-json"
)

// Cursor is the opaque continuation token returned by the provider's list
// endpoints. The empty cursor means "start from the first page".
type Cursor string

// Page is one page of provider records plus the continuation cursor.
// NextCursor is empty when the stream is exhausted.
type Page[T any] struct {
	Items      []T
	NextCursor Cursor
	Total      *int
}

// pageEnvelope is the provider's wire format for all list endpoints:
// {"data": [...], "nextCursor": "...", "total": 123}. Items stay raw until
// the typed decode so unknown provider fields survive into the Raw column.
type pageEnvelope struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor *string           `json:"nextCursor,omitempty"`
	Total      *int              `json:"total,omitempty"`
}

// rawCarrier is implemented by record types that keep the provider's
// original payload alongside the typed view.
type rawCarrier interface {
	setRaw(raw json.RawMessage)
}

// GameRecord is the typed view of a provider game.
type GameRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *GameRecord) setRaw(raw json.RawMessage) { r.Raw = raw }

// SetRecord is the typed view of a provider set.
type SetRecord struct {
	ID          string          `json:"id"`
	Game        string          `json:"game"`
	Name        string          `json:"name"`
	Code        *string         `json:"code,omitempty"`
	Series      *string         `json:"series,omitempty"`
	ReleaseDate *string         `json:"releaseDate,omitempty"`
	TotalCount  *int            `json:"totalCount,omitempty"`
	Images      json.RawMessage `json:"images,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *SetRecord) setRaw(raw json.RawMessage) { r.Raw = raw }

// CardRecord is the typed view of a provider card.
type CardRecord struct {
	ID                 string          `json:"id"`
	Game               string          `json:"game"`
	SetID              string          `json:"setId"`
	Name               string          `json:"name"`
	Number             *string         `json:"number,omitempty"`
	Rarity             *string         `json:"rarity,omitempty"`
	Images             json.RawMessage `json:"images,omitempty"`
	ExternalProductRef *string         `json:"tcgplayerId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *CardRecord) setRaw(raw json.RawMessage) { r.Raw = raw }

// VariantRecord is the typed view of a provider price variant.
type VariantRecord struct {
	ID          string   `json:"id"`
	CardID      string   `json:"cardId"`
	Game        string   `json:"game"`
	Language    *string  `json:"language,omitempty"`
	Printing    *string  `json:"printing,omitempty"`
	Condition   *string  `json:"condition,omitempty"`
	SKU         *string  `json:"sku,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	MarketPrice *float64 `json:"marketPrice,omitempty"`
	LowPrice    *float64 `json:"lowPrice,omitempty"`
	HighPrice   *float64 `json:"highPrice,omitempty"`
	Currency    string   `json:"currency"`

	Raw json.RawMessage `json:"-"`
}

func (r *VariantRecord) setRaw(raw json.RawMessage) { r.Raw = raw }

// decodePage unmarshals a wire envelope into a typed Page. Items that fail
// to decode are returned as a separate slice of indexes so the caller can
// skip and report them without dropping the rest of the page.
func decodePage[T any, PT interface {
	*T
	rawCarrier
}](body []byte) (*Page[T], []int, error) {
	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, err
	}

	page := &Page[T]{
		Items: make([]T, 0, len(envelope.Data)),
		Total: envelope.Total,
	}
	if envelope.NextCursor != nil {
		page.NextCursor = Cursor(*envelope.NextCursor)
	}

	var malformed []int
	for i, raw := range envelope.Data {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			malformed = append(malformed, i)
			continue
		}
		PT(&item).setRaw(raw)
		page.Items = append(page.Items, item)
	}
	return page, malformed, nil
}
