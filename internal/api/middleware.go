// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
)

// prometheusMetrics records request count and latency per route pattern.
// The chi route pattern is used instead of the raw path so ids do not
// explode the label cardinality.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		metrics.RecordAPIRequest(r.Method, endpoint, ww.Status(), time.Since(start))
	})
}
