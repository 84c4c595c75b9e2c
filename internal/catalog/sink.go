// AllCardsSync - Incremental Card Catalog Synchronization
// Copyright 2026 Alohacardshop
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Alohacardshop/allcardssync

package catalog

import (
	"sync"

	"github.com/Alohacardshop/allcardssync-sub011/internal/logging"
)

// EventSink receives the ordered progress stream of one sync run. The
// orchestrator closes the sink exactly once, after the terminal event.
type EventSink interface {
	Publish(event Event)
	Close()
}

// ChannelSink bridges the orchestrator to a consumer goroutine (the SSE
// handler) over a buffered channel. Publish holds a mutex so events from
// concurrent child streams are serialized into one total order; within a
// stream that order matches emission order.
//
// When the consumer is gone and the buffer fills, informational events
// are dropped rather than blocking the sync. The terminal COMPLETE/ERROR
// event is never dropped: one buffer slot is reserved for it, so every
// consumer that drains the channel sees how the run ended.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelSink returns a sink with the given buffer capacity plus one
// slot reserved for the terminal event.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer+1)}
}

// Events returns the receive side of the sink. The channel is closed
// when the run ends.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Publish enqueues one event. Informational events are dropped when
// only the reserved slot remains; a terminal event takes that slot.
func (s *ChannelSink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if event.Terminal() {
		// The reserved slot guarantees room: the orchestrator emits at
		// most one terminal event per run.
		select {
		case s.ch <- event:
		default:
			logging.Error().
				Str("type", string(event.Type)).
				Msg("Event buffer full on terminal event")
		}
		return
	}
	if len(s.ch) >= cap(s.ch)-1 {
		logging.Warn().
			Str("type", string(event.Type)).
			Str("game", event.Game).
			Msg("Event buffer full, dropping progress event")
		return
	}
	s.ch <- event
}

// Close closes the channel. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// LogSink writes events to the structured log, for headless runs
// triggered without a streaming consumer.
type LogSink struct{}

func (LogSink) Publish(event Event) {
	evt := logging.Info().
		Str("type", string(event.Type)).
		Str("game", event.Game).
		Str("phase", string(event.Phase))
	if event.StreamKey != "" {
		evt = evt.Str("stream", event.StreamKey)
	}
	if event.Count > 0 {
		evt = evt.Int("count", event.Count)
	}
	if event.Message != "" {
		evt = evt.Str("message", event.Message)
	}
	evt.Msg("Sync progress")
}

func (LogSink) Close() {}
