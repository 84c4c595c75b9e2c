// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Alohacardshop/allcardssync-sub011/internal/catalog"
	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

type fakeRunner struct {
	events []catalog.Event
	err    error
	gotReq catalog.Request
}

func (f *fakeRunner) Run(ctx context.Context, req catalog.Request, sink catalog.EventSink) error {
	f.gotReq = req
	defer sink.Close()
	for _, e := range f.events {
		sink.Publish(e)
	}
	return f.err
}

type fakeStatusStore struct {
	jobs    []models.SyncJob
	jobsErr error
	pingErr error
}

func (f *fakeStatusStore) ListRecentSyncJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	return f.jobs, f.jobsErr
}

func (f *fakeStatusStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func newTestRouter(runner SyncRunner, store StatusStore) http.Handler {
	handler := NewHandler(runner, store, 64)
	return NewRouter(handler, &config.ServerConfig{
		CORSOrigins:     []string{"*"},
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}).Setup()
}

func TestSyncRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeStatusStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "invalid_request" {
		t.Errorf("Expected invalid_request error, got %+v", resp.Error)
	}
}

func TestSyncValidatesRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing provider", `{"games":["pokemon"]}`},
		{"empty games", `{"provider":"justtcg","games":[]}`},
		{"blank game", `{"provider":"justtcg","games":[""]}`},
		{"bad mode", `{"provider":"justtcg","games":["pokemon"],"mode":"dryrun"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeRunner{}, &fakeStatusStore{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSyncStreamsEvents(t *testing.T) {
	runner := &fakeRunner{
		events: []catalog.Event{
			{Type: catalog.EventStart},
			{Type: catalog.EventUpsertProgress, Game: "pokemon", Count: 42},
			{Type: catalog.EventComplete, Sets: 2, Cards: 8, Variants: 16},
		},
	}
	router := newTestRouter(runner, &fakeStatusStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync",
		strings.NewReader(`{"provider":"justtcg","games":["pokemon"],"mode":"live"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}
	if runner.gotReq.Provider != "justtcg" || len(runner.gotReq.Games) != 1 {
		t.Errorf("Request not forwarded to runner: %+v", runner.gotReq)
	}

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) != 3 {
		t.Fatalf("Expected 3 SSE frames, got %d: %q", len(frames), rec.Body.String())
	}
	var last catalog.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last); err != nil {
		t.Fatalf("Failed to decode final frame: %v", err)
	}
	if last.Type != catalog.EventComplete || last.Cards != 8 {
		t.Errorf("Expected terminal COMPLETE{cards:8}, got %+v", last)
	}
}

func TestSyncStreamEndsAfterError(t *testing.T) {
	runner := &fakeRunner{
		events: []catalog.Event{
			{Type: catalog.EventStart},
			{Type: catalog.EventError, Message: "unknown game"},
		},
		err: errors.New("unknown game"),
	}
	router := newTestRouter(runner, &fakeStatusStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync",
		strings.NewReader(`{"provider":"justtcg","games":["nope"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("Expected 2 SSE frames, got %d", len(frames))
	}
	if !strings.Contains(frames[1], `"ERROR"`) {
		t.Errorf("Expected final ERROR frame, got %q", frames[1])
	}
}

func TestSyncStatus(t *testing.T) {
	store := &fakeStatusStore{
		jobs: []models.SyncJob{
			{Provider: "justtcg", Game: "pokemon", Phase: models.PhaseSets, Status: models.JobStatusCompleted},
		},
	}
	router := newTestRouter(&fakeRunner{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("Expected success, got %q", resp.Status)
	}
}

func TestSyncStatusStorageError(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeStatusStore{jobsErr: errors.New("boom")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeStatusStore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	router = newTestRouter(&fakeRunner{}, &fakeStatusStore{pingErr: errors.New("closed")})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when store unreachable, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeStatusStore{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", rec.Code)
	}
}
