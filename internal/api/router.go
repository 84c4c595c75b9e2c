// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package api exposes the sync engine over HTTP: the trigger endpoint
// streaming progress as server-sent events, job status, health and
// Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
)

// Router assembles the HTTP surface around a Handler.
type Router struct {
	handler *Handler
	cfg     *config.ServerConfig
}

// NewRouter wires the router.
func NewRouter(handler *Handler, cfg *config.ServerConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup builds the chi handler tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(prometheusMetrics)

		// The trigger endpoint starts a full provider crawl; keep the
		// request rate well below anything the provider would tolerate.
		r.With(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow)).
			Post("/sync", router.handler.Sync)

		r.Get("/sync/status", router.handler.SyncStatus)
	})

	return r
}
