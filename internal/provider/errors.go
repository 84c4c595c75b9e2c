// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the provider. Status carries the
// HTTP status code so callers can classify the failure without parsing
// error strings.
type APIError struct {
	Status int
	Entity string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s request failed: HTTP %d: %s", e.Entity, e.Status, e.Body)
}

// ErrCircuitOpen indicates the circuit breaker rejected the request without
// reaching the provider. Treated as transient.
var ErrCircuitOpen = errors.New("provider circuit breaker open")

// IsRetryable reports whether an error is transient and worth retrying.
//
// Classification (a policy input, not a fixed constant): HTTP 429 and 5xx
// are transient; other 4xx are permanent; network-level failures and open
// breakers are transient. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	// Open breaker, connection resets, DNS failures, timeouts: retry.
	return true
}
