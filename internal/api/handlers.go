// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/Alohacardshop/allcardssync-sub011/internal/catalog"
	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// maxSyncBodySize bounds the trigger request body.
const maxSyncBodySize = 64 * 1024

// SyncRunner executes one sync run, publishing progress to the sink.
type SyncRunner interface {
	Run(ctx context.Context, req catalog.Request, sink catalog.EventSink) error
}

// StatusStore reads sync bookkeeping for the status endpoint.
type StatusStore interface {
	ListRecentSyncJobs(ctx context.Context, limit int) ([]models.SyncJob, error)
	Ping(ctx context.Context) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	runner      SyncRunner
	store       StatusStore
	validate    *validator.Validate
	eventBuffer int
}

// NewHandler wires a handler.
func NewHandler(runner SyncRunner, store StatusStore, eventBuffer int) *Handler {
	return &Handler{
		runner:      runner,
		store:       store,
		validate:    validator.New(),
		eventBuffer: eventBuffer,
	}
}

// Sync triggers a run and streams its progress as server-sent events.
// The response stays open until the terminal COMPLETE or ERROR event;
// closing the connection cancels the run at the next page boundary.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req catalog.Request
	body := http.MaxBytesReader(w, r.Body, maxSyncBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := catalog.NewChannelSink(h.eventBuffer)
	go func() {
		// Fatal errors surface on the stream as the terminal ERROR
		// event; nothing further to report here.
		if err := h.runner.Run(r.Context(), req, sink); err != nil {
			logging.Err(err).Strs("games", req.Games).Msg("Sync run failed")
		}
	}()

	for event := range sink.Events() {
		data, err := json.Marshal(event)
		if err != nil {
			logging.Err(err).Msg("Failed to marshal progress event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; the request context cancellation stops
			// the run, drain until the sink closes.
			continue
		}
		flusher.Flush()
	}
}

// SyncStatus returns the most recent sync job rows.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListRecentSyncJobs(r.Context(), 20)
	if err != nil {
		logging.Err(err).Msg("Failed to list sync jobs")
		respondError(w, http.StatusInternalServerError, "storage_error", "failed to read sync status")
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]interface{}{"jobs": jobs},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// Health reports liveness plus store readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		logging.Err(err).Msg("Health check: database unreachable")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, &models.APIResponse{
		Status:   status,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(response)
	if err != nil {
		logging.Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Error:    &models.APIError{Code: code, Message: message},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}
