// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

// Package provider implements the JustTCG catalog API client.
//
// The client exposes the four paginated list endpoints the sync engine
// consumes (games, sets, cards, variants) and owns all HTTP-level
// resilience: exponential backoff on 429/5xx and network errors, a token
// bucket rate limiter, and a circuit breaker that sheds load when the
// provider is persistently failing. Cursors are opaque and requests are
// read-only, so any page may be re-fetched safely.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Alohacardshop/allcardssync-sub011/internal/config"
	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
	"github.com/Alohacardshop/allcardssync-sub011/internal/metrics"
	"github.com/Alohacardshop/allcardssync-sub011/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// Client talks to the JustTCG catalog API.
//
// Thread safety: safe for concurrent use; each request builds its own
// http.Request and the limiter and breaker are concurrency-safe.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker[[]byte]
	retryAttempts  int
	retryBaseDelay time.Duration
	pageLimit      int
}

// NewClient creates a provider client from configuration.
func NewClient(cfg *config.ProviderConfig) *Client {
	c := &Client{
		baseURL:        cfg.URL,
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		pageLimit:      cfg.PageLimit,
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	c.breaker = newBreaker(cfg.Name + "-api")
	return c
}

// newBreaker builds the circuit breaker around provider HTTP calls.
// Opens at a 60% failure rate once at least 10 requests have been seen in
// the window; half-open allows 3 probes after a 2 minute cool-down.
func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Str("breaker", name).
					Msg("Opening provider circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Ping checks provider connectivity with a minimal request.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", "1")
	_, err := c.fetch(ctx, string(models.KindGame), q)
	return err
}

// ListGames returns one page of games.
func (c *Client) ListGames(ctx context.Context, cursor Cursor) (*Page[GameRecord], error) {
	return listPage[GameRecord](ctx, c, models.KindGame, url.Values{}, cursor)
}

// ListSets returns one page of sets for a game.
func (c *Client) ListSets(ctx context.Context, game string, cursor Cursor) (*Page[SetRecord], error) {
	q := url.Values{}
	q.Set("game", game)
	return listPage[SetRecord](ctx, c, models.KindSet, q, cursor)
}

// ListCards returns one page of cards for a set.
func (c *Client) ListCards(ctx context.Context, game, setID string, cursor Cursor) (*Page[CardRecord], error) {
	q := url.Values{}
	q.Set("game", game)
	q.Set("parent", setID)
	return listPage[CardRecord](ctx, c, models.KindCard, q, cursor)
}

// ListVariants returns one page of price variants for a card.
func (c *Client) ListVariants(ctx context.Context, game, cardID string, cursor Cursor) (*Page[VariantRecord], error) {
	q := url.Values{}
	q.Set("game", game)
	q.Set("parent", cardID)
	return listPage[VariantRecord](ctx, c, models.KindVariant, q, cursor)
}

// listPage fetches and decodes one page of any entity kind. Malformed
// items are logged and skipped; the rest of the page survives.
func listPage[T any, PT interface {
	*T
	rawCarrier
}](ctx context.Context, c *Client, kind models.EntityKind, q url.Values, cursor Cursor) (*Page[T], error) {
	entity := string(kind)
	if cursor != "" {
		q.Set("cursor", string(cursor))
	}
	q.Set("limit", fmt.Sprintf("%d", c.pageLimit))

	body, err := c.fetch(ctx, entity, q)
	if err != nil {
		return nil, err
	}

	page, malformed, err := decodePage[T, PT](body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s page: %w", entity, err)
	}
	if len(malformed) > 0 {
		logging.Warn().
			Str("entity", entity).
			Int("malformed", len(malformed)).
			Msg("Skipped malformed provider records")
	}
	return page, nil
}

// fetch performs one list request with retry, rate limiting, and breaker
// protection. Permanent errors (4xx other than 429, context cancellation)
// are surfaced immediately; transient errors retry with exponential
// backoff up to the configured attempts.
func (c *Client) fetch(ctx context.Context, entity string, q url.Values) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, entity, q.Encode())

	operation := func() ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.doRequest(ctx, entity, reqURL)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = fmt.Errorf("%w: %s", ErrCircuitOpen, entity)
			}
			if !IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return body, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBaseDelay
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.retryAttempts-1)), ctx)

	notify := func(err error, delay time.Duration) {
		metrics.ProviderRetriesTotal.WithLabelValues(entity).Inc()
		logging.Warn().
			Err(err).
			Str("entity", entity).
			Dur("delay", delay).
			Msg("Retrying provider request")
	}

	return backoff.RetryNotifyWithData(operation, policy, notify)
}

// doRequest executes a single HTTP attempt and classifies the response.
func (c *Client) doRequest(ctx context.Context, entity, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(entity, 0, time.Since(start))
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	metrics.RecordProviderRequest(entity, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Status: resp.StatusCode,
			Entity: entity,
			Body:   string(readBodyForError(resp.Body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// readBodyForError reads at most maxErrorBodySize of a response body for
// error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
