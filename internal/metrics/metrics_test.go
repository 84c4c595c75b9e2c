// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordProviderRequest(t *testing.T) {
	before := testutil.ToFloat64(ProviderRequestsTotal.WithLabelValues("sets", "200"))

	RecordProviderRequest("sets", 200, 25*time.Millisecond)

	after := testutil.ToFloat64(ProviderRequestsTotal.WithLabelValues("sets", "200"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordUpsertBatch(t *testing.T) {
	rowsBefore := testutil.ToFloat64(UpsertedRows.WithLabelValues("cards"))
	errsBefore := testutil.ToFloat64(UpsertErrors.WithLabelValues("cards"))

	RecordUpsertBatch("cards", 300, 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(UpsertedRows.WithLabelValues("cards")); got != rowsBefore+300 {
		t.Errorf("expected 300 rows recorded, got %v -> %v", rowsBefore, got)
	}

	RecordUpsertBatch("cards", 300, 10*time.Millisecond, errors.New("chunk failed"))

	if got := testutil.ToFloat64(UpsertErrors.WithLabelValues("cards")); got != errsBefore+1 {
		t.Errorf("expected error counter increment, got %v -> %v", errsBefore, got)
	}
	// A failed chunk must not count its rows as written.
	if got := testutil.ToFloat64(UpsertedRows.WithLabelValues("cards")); got != rowsBefore+300 {
		t.Errorf("failed chunk incremented row counter: %v", got)
	}
}

func TestRecordGuardrailResult(t *testing.T) {
	rbBefore := testutil.ToFloat64(GuardrailRolledBack)
	nfBefore := testutil.ToFloat64(GuardrailNotFound)

	RecordGuardrailResult(2, 5)

	if got := testutil.ToFloat64(GuardrailRolledBack); got != rbBefore+2 {
		t.Errorf("rolled back counter: got %v, want %v", got, rbBefore+2)
	}
	if got := testutil.ToFloat64(GuardrailNotFound); got != nfBefore+5 {
		t.Errorf("not found counter: got %v, want %v", got, nfBefore+5)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/sync", "200"))

	RecordAPIRequest("POST", "/api/v1/sync", 200, 5*time.Millisecond)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/sync", "200"))
	if after != before+1 {
		t.Errorf("expected API counter increment, got %v -> %v", before, after)
	}
}
