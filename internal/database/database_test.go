// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// testDBSemaphore serializes DuckDB creation. Concurrent CGO connection
// setup can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
		BatchSize: 300,
	}
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func seedGame(t *testing.T, db *DB, id string) {
	t.Helper()
	n, err := db.UpsertGames(context.Background(), "justtcg", []models.Game{
		{ID: id, Name: id, ProviderID: id, Active: true},
	})
	if err != nil {
		t.Fatalf("Failed to seed game %s: %v", id, err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 game written, got %d", n)
	}
}

func seedSet(t *testing.T, db *DB, game, id, name string) {
	t.Helper()
	written, skipped, err := db.UpsertSets(context.Background(), "justtcg", []models.Set{
		{ID: id, Game: game, Name: name},
	})
	if err != nil {
		t.Fatalf("Failed to seed set %s: %v", id, err)
	}
	if written != 1 || skipped != 0 {
		t.Fatalf("Expected (1, 0) for set seed, got (%d, %d)", written, skipped)
	}
}

func seedCard(t *testing.T, db *DB, game, setID, id, name string) {
	t.Helper()
	written, skipped, err := db.UpsertCards(context.Background(), "justtcg", []models.Card{
		{ID: id, Game: game, SetID: setID, Name: name},
	})
	if err != nil {
		t.Fatalf("Failed to seed card %s: %v", id, err)
	}
	if written != 1 || skipped != 0 {
		t.Fatalf("Expected (1, 0) for card seed, got (%d, %d)", written, skipped)
	}
}

func TestUpsertGamesIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	games := []models.Game{
		{ID: "pokemon", Name: "Pokemon", ProviderID: "pokemon", Active: true},
		{ID: "magic", Name: "Magic: The Gathering", ProviderID: "magic", Active: true},
	}

	if _, err := db.UpsertGames(ctx, "justtcg", games); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	var createdAt time.Time
	if err := db.conn.QueryRow(
		`SELECT created_at FROM games WHERE provider = 'justtcg' AND id = 'pokemon'`,
	).Scan(&createdAt); err != nil {
		t.Fatalf("Failed to read created_at: %v", err)
	}

	// Applying the same batch again must not duplicate rows or reset
	// creation timestamps.
	games[0].Name = "Pokemon TCG"
	if _, err := db.UpsertGames(ctx, "justtcg", games); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	count, err := db.CountRows(ctx, models.KindGame, "justtcg", "")
	if err != nil {
		t.Fatalf("Failed to count games: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 games after double apply, got %d", count)
	}

	var name string
	var createdAgain time.Time
	if err := db.conn.QueryRow(
		`SELECT name, created_at FROM games WHERE provider = 'justtcg' AND id = 'pokemon'`,
	).Scan(&name, &createdAgain); err != nil {
		t.Fatalf("Failed to re-read game: %v", err)
	}
	if name != "Pokemon TCG" {
		t.Errorf("Expected updated name, got %q", name)
	}
	if !createdAgain.Equal(createdAt) {
		t.Errorf("created_at changed on conflict: %v != %v", createdAgain, createdAt)
	}
}

func TestUpsertSetsSkipsUnknownGame(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedGame(t, db, "pokemon")

	written, skipped, err := db.UpsertSets(ctx, "justtcg", []models.Set{
		{ID: "base1", Game: "pokemon", Name: "Base Set"},
		{ID: "orphan", Game: "nosuchgame", Name: "Orphan Set"},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if written != 1 {
		t.Errorf("Expected 1 written, got %d", written)
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", skipped)
	}

	count, err := db.CountRows(ctx, models.KindSet, "justtcg", "pokemon")
	if err != nil {
		t.Fatalf("Failed to count sets: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 set stored, got %d", count)
	}
}

func TestUpsertSetsClearsNotFoundFlag(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedGame(t, db, "pokemon")
	seedSet(t, db, "pokemon", "base1", "Base Set")

	if _, err := db.MarkSetsNotFound(ctx, "justtcg", "pokemon", []string{"base1"}); err != nil {
		t.Fatalf("Failed to mark set not found: %v", err)
	}
	set, err := db.GetSet(ctx, "justtcg", "pokemon", "base1")
	if err != nil {
		t.Fatalf("Failed to read set: %v", err)
	}
	if set.NotFoundSince == nil {
		t.Fatal("Expected not_found_since to be set")
	}

	// A subsequent upsert means the provider reported the set again, so
	// the flag must clear.
	seedSet(t, db, "pokemon", "base1", "Base Set")
	set, err = db.GetSet(ctx, "justtcg", "pokemon", "base1")
	if err != nil {
		t.Fatalf("Failed to re-read set: %v", err)
	}
	if set.NotFoundSince != nil {
		t.Errorf("Expected not_found_since cleared after upsert, got %v", set.NotFoundSince)
	}
}

func TestUpsertCardsAndVariants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedGame(t, db, "pokemon")
	seedSet(t, db, "pokemon", "base1", "Base Set")

	written, skipped, err := db.UpsertCards(ctx, "justtcg", []models.Card{
		{ID: "base1-4", Game: "pokemon", SetID: "base1", Name: "Charizard", Number: strPtr("4"), Rarity: strPtr("Rare Holo")},
		{ID: "ghost-1", Game: "pokemon", SetID: "nosuchset", Name: "Ghost"},
	})
	if err != nil {
		t.Fatalf("Card upsert failed: %v", err)
	}
	if written != 1 || skipped != 1 {
		t.Errorf("Expected (1, 1) for cards, got (%d, %d)", written, skipped)
	}

	variants := []models.Variant{
		{ID: "v1", CardID: "base1-4", Game: "pokemon", Printing: strPtr("Holofoil"),
			Condition: strPtr("Near Mint"), Price: floatPtr(420.00), MarketPrice: floatPtr(415.50)},
		{ID: "v-orphan", CardID: "nosuchcard", Game: "pokemon", Price: floatPtr(1.00)},
	}
	written, skipped, err = db.UpsertVariants(ctx, "justtcg", variants)
	if err != nil {
		t.Fatalf("Variant upsert failed: %v", err)
	}
	if written != 1 || skipped != 1 {
		t.Errorf("Expected (1, 1) for variants, got (%d, %d)", written, skipped)
	}

	// Re-applying with a new price updates in place.
	variants[0].Price = floatPtr(399.99)
	written, _, err = db.UpsertVariants(ctx, "justtcg", variants[:1])
	if err != nil {
		t.Fatalf("Variant re-upsert failed: %v", err)
	}
	if written != 1 {
		t.Errorf("Expected 1 written on re-upsert, got %d", written)
	}

	var price float64
	var currency string
	if err := db.conn.QueryRow(
		`SELECT price, currency FROM variants WHERE provider = 'justtcg' AND id = 'v1'`,
	).Scan(&price, &currency); err != nil {
		t.Fatalf("Failed to read variant: %v", err)
	}
	if price != 399.99 {
		t.Errorf("Expected updated price 399.99, got %v", price)
	}
	if currency != "USD" {
		t.Errorf("Expected default currency USD, got %q", currency)
	}

	count, err := db.CountRows(ctx, models.KindVariant, "justtcg", "pokemon")
	if err != nil {
		t.Fatalf("Failed to count variants: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 variant, got %d", count)
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cp, err := db.LoadCheckpoint(ctx, "justtcg", "pokemon", models.StreamKeySets)
	if err != nil {
		t.Fatalf("Load on empty store failed: %v", err)
	}
	if cp != nil {
		t.Fatalf("Expected nil checkpoint on empty store, got %+v", cp)
	}

	save := &models.Checkpoint{
		Provider:  "justtcg",
		Game:      "pokemon",
		StreamKey: models.StreamKeySets,
		Cursor:    []byte(`{"page":3}`),
	}
	if err := db.SaveCheckpoint(ctx, save); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cp, err = db.LoadCheckpoint(ctx, "justtcg", "pokemon", models.StreamKeySets)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cp == nil {
		t.Fatal("Expected a checkpoint after save")
	}
	if string(cp.Cursor) != `{"page":3}` {
		t.Errorf("Expected cursor to round-trip, got %s", cp.Cursor)
	}

	// Saving again for the same stream overwrites, never duplicates.
	save.Cursor = []byte(`{"page":4}`)
	if err := db.SaveCheckpoint(ctx, save); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	cp, err = db.LoadCheckpoint(ctx, "justtcg", "pokemon", models.StreamKeySets)
	if err != nil {
		t.Fatalf("Load after overwrite failed: %v", err)
	}
	if string(cp.Cursor) != `{"page":4}` {
		t.Errorf("Expected overwritten cursor, got %s", cp.Cursor)
	}

	if err := db.DeleteCheckpoint(ctx, "justtcg", "pokemon", models.StreamKeySets); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	cp, err = db.LoadCheckpoint(ctx, "justtcg", "pokemon", models.StreamKeySets)
	if err != nil {
		t.Fatalf("Load after delete failed: %v", err)
	}
	if cp != nil {
		t.Errorf("Expected nil after delete, got %+v", cp)
	}

	// Deleting a checkpoint that never existed is fine.
	if err := db.DeleteCheckpoint(ctx, "justtcg", "pokemon", models.CardStreamKey("base1")); err != nil {
		t.Errorf("Delete of missing checkpoint returned error: %v", err)
	}
}

func TestDeleteCheckpointsClearsGame(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	streams := []string{
		models.StreamKeySets,
		models.CardStreamKey("base1"),
		models.VariantStreamKey("base1-4"),
	}
	for _, key := range streams {
		err := db.SaveCheckpoint(ctx, &models.Checkpoint{
			Provider: "justtcg", Game: "pokemon", StreamKey: key, Cursor: []byte(`"abc"`),
		})
		if err != nil {
			t.Fatalf("Save %s failed: %v", key, err)
		}
	}
	err := db.SaveCheckpoint(ctx, &models.Checkpoint{
		Provider: "justtcg", Game: "magic", StreamKey: models.StreamKeySets, Cursor: []byte(`"xyz"`),
	})
	if err != nil {
		t.Fatalf("Save for second game failed: %v", err)
	}

	n, err := db.DeleteCheckpoints(ctx, "justtcg", "pokemon")
	if err != nil {
		t.Fatalf("DeleteCheckpoints failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 checkpoints deleted, got %d", n)
	}

	cp, err := db.LoadCheckpoint(ctx, "justtcg", "magic", models.StreamKeySets)
	if err != nil {
		t.Fatalf("Load for untouched game failed: %v", err)
	}
	if cp == nil {
		t.Error("Expected second game's checkpoint to survive")
	}
}

func TestGuardrailMarkAndRollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedGame(t, db, "pokemon")
	seedSet(t, db, "pokemon", "base1", "Base Set")
	seedSet(t, db, "pokemon", "fossil", "Fossil")

	ids, err := db.ListSetIdentities(ctx, "justtcg", "pokemon")
	if err != nil {
		t.Fatalf("ListSetIdentities failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 identities, got %d", len(ids))
	}

	n, err := db.MarkSetsNotFound(ctx, "justtcg", "pokemon", []string{"fossil"})
	if err != nil {
		t.Fatalf("MarkSetsNotFound failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 set marked, got %d", n)
	}

	set, err := db.GetSet(ctx, "justtcg", "pokemon", "fossil")
	if err != nil {
		t.Fatalf("GetSet failed: %v", err)
	}
	if set.NotFoundSince == nil {
		t.Fatal("Expected not_found_since stamped")
	}
	firstStamp := *set.NotFoundSince

	// Marking again must not advance the original timestamp.
	if _, err := db.MarkSetsNotFound(ctx, "justtcg", "pokemon", []string{"fossil"}); err != nil {
		t.Fatalf("Second mark failed: %v", err)
	}
	set, err = db.GetSet(ctx, "justtcg", "pokemon", "fossil")
	if err != nil {
		t.Fatalf("GetSet after second mark failed: %v", err)
	}
	if !set.NotFoundSince.Equal(firstStamp) {
		t.Errorf("not_found_since advanced on re-mark: %v != %v", set.NotFoundSince, firstStamp)
	}

	// Rollback nulls mutable display fields but keeps the row.
	n, err = db.RollBackSetNames(ctx, "justtcg", "pokemon", []string{"base1"})
	if err != nil {
		t.Fatalf("RollBackSetNames failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 set rolled back, got %d", n)
	}
	set, err = db.GetSet(ctx, "justtcg", "pokemon", "base1")
	if err != nil {
		t.Fatalf("GetSet after rollback failed: %v", err)
	}
	if set.Name != "" {
		t.Errorf("Expected name cleared, got %q", set.Name)
	}
	if set.Code != nil || set.Series != nil {
		t.Error("Expected code and series nulled")
	}
	if set.NotFoundSince != nil {
		t.Error("Rollback must not flag the set as not found")
	}
}

func TestListSetAndCardIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedGame(t, db, "pokemon")
	seedSet(t, db, "pokemon", "base1", "Base Set")
	seedSet(t, db, "pokemon", "fossil", "Fossil")
	seedCard(t, db, "pokemon", "base1", "base1-4", "Charizard")
	seedCard(t, db, "pokemon", "base1", "base1-58", "Pikachu")

	if _, err := db.MarkSetsNotFound(ctx, "justtcg", "pokemon", []string{"fossil"}); err != nil {
		t.Fatalf("MarkSetsNotFound failed: %v", err)
	}

	setIDs, err := db.ListSetIDs(ctx, "justtcg", "pokemon")
	if err != nil {
		t.Fatalf("ListSetIDs failed: %v", err)
	}
	if len(setIDs) != 1 || setIDs[0] != "base1" {
		t.Errorf("Expected only base1 (fossil flagged not-found), got %v", setIDs)
	}

	cardIDs, err := db.ListCardIDs(ctx, "justtcg", "pokemon", "base1")
	if err != nil {
		t.Fatalf("ListCardIDs failed: %v", err)
	}
	if len(cardIDs) != 2 {
		t.Errorf("Expected 2 cards, got %v", cardIDs)
	}
}

func TestSyncJobLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	job := &models.SyncJob{
		ID:        uuid.New(),
		Provider:  "justtcg",
		Game:      "pokemon",
		Phase:     models.PhaseSets,
		Status:    models.JobStatusRunning,
		Total:     10,
		StartedAt: time.Now().UTC(),
	}
	if err := db.CreateSyncJob(ctx, job); err != nil {
		t.Fatalf("CreateSyncJob failed: %v", err)
	}

	if err := db.UpdateSyncJobProgress(ctx, job.ID, 7, 10); err != nil {
		t.Fatalf("UpdateSyncJobProgress failed: %v", err)
	}

	if err := db.FinishSyncJob(ctx, job.ID, models.JobStatusCompleted, ""); err != nil {
		t.Fatalf("FinishSyncJob failed: %v", err)
	}

	got, err := db.GetSyncJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetSyncJob failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected job, got nil")
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.Current != 7 || got.Total != 10 {
		t.Errorf("Expected progress 7/10, got %d/%d", got.Current, got.Total)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at stamped")
	}
	if got.ErrorMessage != nil {
		t.Errorf("Expected empty error, got %v", *got.ErrorMessage)
	}

	missing, err := db.GetSyncJob(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetSyncJob for unknown id failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown id, got %+v", missing)
	}

	jobs, err := db.ListRecentSyncJobs(ctx, 5)
	if err != nil {
		t.Fatalf("ListRecentSyncJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("Expected 1 job listed, got %d", len(jobs))
	}
}

func TestChunkIntervals(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		name string
		n    int
		want [][2]int
	}{
		{"empty", 0, nil},
		{"under one batch", 10, [][2]int{{0, 10}}},
		{"exact batch", 300, [][2]int{{0, 300}}},
		{"two batches", 450, [][2]int{{0, 300}, {300, 450}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := db.chunk(tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d chunks, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Chunk %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}
