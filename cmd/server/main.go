// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// https://github.com/Alohacardshop/allcardssync
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the AllCardsSync server.
//
// The server pulls the card catalog hierarchy (games, sets, cards, price
// variants) from the configured pricing provider into a local DuckDB
// store. Syncs are triggered over HTTP and stream their progress back as
// server-sent events; every paginated stream is checkpointed so an
// interrupted run resumes where it stopped.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults. The only required setting is JUSTTCG_API_KEY.
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, waits for in-flight requests, and closes the
// database. A sync cut off mid-run resumes from its checkpoints on the
// next trigger.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alohacardshop/allcardssync-sub011/internal/api"
	"github.com/Alohacardshop/allcardssync-sub011/internal/catalog"
	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
	"github.com/Alohacardshop/allcardssync-sub011/internal/database"
	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/provider"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("provider", cfg.Provider.Name).
		Str("db_path", cfg.Database.Path).
		Int("workers", cfg.Sync.Workers).
		Msg("Starting AllCardsSync")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	client := provider.NewClient(&cfg.Provider)
	orchestrator := catalog.NewOrchestrator(client, db, db, db, &cfg.Sync)

	handler := api.NewHandler(orchestrator, db, cfg.Sync.EventBuffer)
	router := api.NewRouter(handler, &cfg.Server)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
		// No WriteTimeout: the sync endpoint streams events for as long
		// as the run takes.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logging.Error().Err(err).Msg("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("Graceful shutdown failed")
	}
	logging.Info().Msg("Server stopped")
}
