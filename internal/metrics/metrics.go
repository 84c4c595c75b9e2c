// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package metrics provides Prometheus instrumentation for the sync engine:
// provider API calls, upsert batches, checkpoint writes, guardrail results,
// and overall run/phase durations. Collectors are registered at package
// load via promauto and served by promhttp on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider API metrics
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total provider list requests by entity kind and status code",
		},
		[]string{"entity", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Provider list request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	ProviderRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Total provider request retries by entity kind",
		},
		[]string{"entity"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Upsert gateway metrics
	UpsertBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upsert_batch_size",
			Help:    "Number of rows per upsert chunk",
			Buckets: []float64{10, 50, 100, 200, 300, 400},
		},
		[]string{"entity"},
	)

	UpsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upsert_duration_seconds",
			Help:    "Upsert chunk commit duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	UpsertErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upsert_errors_total",
			Help: "Total upsert chunk failures",
		},
		[]string{"entity"},
	)

	UpsertedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upserted_rows_total",
			Help: "Total rows written through the upsert gateway",
		},
		[]string{"entity"},
	)

	// Checkpoint metrics
	CheckpointSaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_saves_total",
			Help: "Total checkpoint cursor saves",
		},
	)

	CheckpointResumes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_resumes_total",
			Help: "Total streams resumed from a stored checkpoint",
		},
	)

	// Guardrail metrics
	GuardrailRolledBack = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_rolled_back_total",
			Help: "Total records conservatively rolled back by the guardrail pass",
		},
	)

	GuardrailNotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_not_found_total",
			Help: "Total records flagged as missing from the latest provider snapshot",
		},
	)

	GuardrailFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_failures_total",
			Help: "Total guardrail passes that failed and were skipped",
		},
	)

	// Orchestrator metrics
	SyncRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_runs_active",
			Help: "Number of sync runs currently executing",
		},
	)

	SyncPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_phase_duration_seconds",
			Help:    "Duration of one sync phase for one game",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"phase"},
	)

	SyncStreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_stream_failures_total",
			Help: "Total child streams abandoned after exhausting retries",
		},
		[]string{"phase"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total sync runs by terminal outcome",
		},
		[]string{"outcome"}, // "complete", "error"
	)

	// HTTP API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordProviderRequest records one provider list call.
func RecordProviderRequest(entity string, status int, duration time.Duration) {
	ProviderRequestsTotal.WithLabelValues(entity, strconv.Itoa(status)).Inc()
	ProviderRequestDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordUpsertBatch records one committed upsert chunk.
func RecordUpsertBatch(entity string, rows int, duration time.Duration, err error) {
	if err != nil {
		UpsertErrors.WithLabelValues(entity).Inc()
		return
	}
	UpsertBatchSize.WithLabelValues(entity).Observe(float64(rows))
	UpsertDuration.WithLabelValues(entity).Observe(duration.Seconds())
	UpsertedRows.WithLabelValues(entity).Add(float64(rows))
}

// RecordGuardrailResult records the outcome of one guardrail pass.
func RecordGuardrailResult(rolledBack, notFound int) {
	GuardrailRolledBack.Add(float64(rolledBack))
	GuardrailNotFound.Add(float64(notFound))
}

// RecordAPIRequest records one HTTP API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
