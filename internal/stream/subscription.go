// Package stream implements resumable subscriptions over agent streams.
//
// A Subscription wraps one logical streaming call in a reconnect loop. Each
// received item is handed to Apply, which folds it into the consumer's state
// and reports the cursor that is now applied. When the call fails or ends,
// the loop waits according to its Backoff and reopens the call from the last
// applied cursor. Only cancellation of the context ends the loop.
package stream

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/metrics"
)

// errStreamEnded is reported when the server closes a stream cleanly.
var errStreamEnded = errors.New("stream ended by server")

// OpenFunc opens one streaming call starting at cursor.
type OpenFunc[T any] func(ctx context.Context, cursor domain.Cursor) iter.Seq2[T, error]

// ApplyFunc folds one item and returns the cursor that is now applied.
// Snapshot streams that are not position-addressable return the cursor
// they were given. A non-nil error leaves the cursor unchanged and forces a
// reconnect.
type ApplyFunc[T any] func(item T) (domain.Cursor, error)

// Subscription is a resumable subscription to one agent stream.
type Subscription[T any] struct {
	// Name labels logs and metrics, e.g. "events" or "state".
	Name    string
	AgentID string
	Open    OpenFunc[T]
	Apply   ApplyFunc[T]
	Backoff Backoff
	Logger  *slog.Logger

	// OnDisconnect, if set, is called with every transient failure.
	OnDisconnect func(err error)
}

// Run drives the subscription until ctx is cancelled, starting at from.
// It always returns ctx.Err().
func (s *Subscription[T]) Run(ctx context.Context, from domain.Cursor) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("stream", s.Name, "agent_id", s.AgentID)
	policy := s.Backoff.policy()

	cursor := from
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		applied, err := s.consume(ctx, &cursor)
		if ctx.Err() != nil {
			logger.Debug("Subscription cancelled", "cursor", cursor)
			return ctx.Err()
		}
		if applied > 0 {
			policy.Reset()
		}
		delay := policy.NextBackOff()

		metrics.StreamReconnects.WithLabelValues(s.Name).Inc()
		logger.Warn("Stream disconnected, reconnecting",
			"error", err,
			"cursor", cursor,
			"retry_in", delay,
		)
		if s.OnDisconnect != nil {
			s.OnDisconnect(err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// consume runs one streaming call to completion and returns the number of
// items applied and the reason the call ended.
func (s *Subscription[T]) consume(ctx context.Context, cursor *domain.Cursor) (int, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	applied := 0
	for item, err := range s.Open(callCtx, *cursor) {
		if err != nil {
			return applied, err
		}
		next, err := s.Apply(item)
		if err != nil {
			return applied, err
		}
		*cursor = next
		applied++
		metrics.StreamBatches.WithLabelValues(s.Name).Inc()
	}
	return applied, errStreamEnded
}
