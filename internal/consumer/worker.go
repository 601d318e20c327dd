// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package consumer drains the audit event queue into DuckDB. One worker
// processes events in order: parse, validate, persist with retries, and
// dead-letter what cannot be saved so a single bad event never blocks
// the stream behind it.
package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/reviewtrail/reviewtrail/internal/logging"
	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
	"github.com/reviewtrail/reviewtrail/internal/queue"
)

// Store persists decoded audit events.
type Store interface {
	PersistEvent(ctx context.Context, env *models.EventEnvelope) error
}

// Subscriber is the queue surface the worker consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// Stats is a snapshot of worker counters for /health.
type Stats struct {
	Processed     int64
	Retried       int64
	DeadLettered  int64
	ParseFailures int64
	LastEventAt   time.Time
}

// Worker consumes queued events and writes them to the store.
type Worker struct {
	queue      Subscriber
	store      Store
	policy     RetryPolicy
	serializer *queue.Serializer

	processed     atomic.Int64
	retried       atomic.Int64
	deadLettered  atomic.Int64
	parseFailures atomic.Int64
	lastEventUnix atomic.Int64
}

// NewWorker creates a worker with the given retry policy.
func NewWorker(q Subscriber, store Store, policy RetryPolicy) *Worker {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Worker{
		queue:      q,
		store:      store,
		policy:     policy,
		serializer: queue.NewSerializer(),
	}
}

// Serve consumes messages until ctx is canceled. It satisfies the
// suture.Service interface. In-flight processing finishes before the
// method returns, so shutdown never abandons a half-processed event.
func (w *Worker) Serve(ctx context.Context) error {
	msgs, err := w.queue.Subscribe(ctx)
	if err != nil {
		return err
	}

	logging.Info().
		Int("retry_attempts", w.policy.MaxAttempts).
		Dur("retry_base_delay", w.policy.BaseDelay).
		Msg("Consumer worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain(msgs)
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			w.processMessage(ctx, msg)
		}
	}
}

// drain finishes messages already buffered in the channel so they are
// not redelivered unprocessed after restart.
func (w *Worker) drain(msgs <-chan *message.Message) {
	deadline := time.Now().Add(10 * time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			w.processMessage(ctx, msg)
		default:
			return
		}
	}
}

// processMessage handles one queue message through the full state
// machine. The message is always acked: malformed and dead-lettered
// events must not wedge the queue.
func (w *Worker) processMessage(ctx context.Context, msg *message.Message) {
	start := time.Now()

	env, err := w.serializer.Unmarshal(msg.Payload)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		w.parseFailures.Add(1)
		metrics.ConsumerParseFailures.Inc()
		logging.Warn().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("Dropping malformed queue message")
		msg.Ack()
		return
	}

	err = w.persistWithRetry(ctx, env)
	if err != nil {
		w.deadLetter(env, err)
		msg.Ack()
		return
	}

	w.processed.Add(1)
	w.lastEventUnix.Store(time.Now().Unix())
	metrics.RecordProcessed(time.Since(start), env.ProducerTimestamp)
	msg.Ack()
}

// persistWithRetry writes the event, retrying transient failures with
// exponential backoff. Permanent errors and context cancellation stop
// the retries immediately.
func (w *Worker) persistWithRetry(ctx context.Context, env *models.EventEnvelope) error {
	var lastErr error
	for attempt := 1; attempt <= w.policy.MaxAttempts; attempt++ {
		lastErr = w.store.PersistEvent(ctx, env)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == w.policy.MaxAttempts {
			break
		}

		w.retried.Add(1)
		metrics.ConsumerRetries.Inc()
		logging.Warn().
			Err(lastErr).
			Int64("session_id", env.SessionID).
			Str("event_type", env.EventType).
			Int("attempt", attempt).
			Dur("backoff", w.policy.Backoff(attempt)).
			Msg("Persist failed, retrying")

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(w.policy.Backoff(attempt)):
		}
	}
	return lastErr
}

// deadLetter records an event that exhausted its retries. The payload
// itself is never logged; the identifiers are enough to find it in the
// stream if recovery is needed.
func (w *Worker) deadLetter(env *models.EventEnvelope, err error) {
	w.deadLettered.Add(1)
	category := Categorize(err)
	metrics.RecordDeadLetter(category.String())

	logging.Error().
		Err(err).
		Str("event_id", env.EventID.String()).
		Int64("session_id", env.SessionID).
		Str("event_type", env.EventType).
		Int("attempts", w.policy.MaxAttempts).
		Str("category", category.String()).
		Msg("Event dead-lettered")
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	s := Stats{
		Processed:     w.processed.Load(),
		Retried:       w.retried.Load(),
		DeadLettered:  w.deadLettered.Load(),
		ParseFailures: w.parseFailures.Load(),
	}
	if unix := w.lastEventUnix.Load(); unix > 0 {
		s.LastEventAt = time.Unix(unix, 0).UTC()
	}
	return s
}
