// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package queue provides the durable event queue between the ingest
// endpoint and the consumer worker.
//
// The primary backend is NATS JetStream (external or embedded), giving
// file-backed persistence, a 7-day retention window, and message
// deduplication. When NATS cannot be reached at startup the pipeline
// degrades to an in-process queue instead of refusing to start; the
// degraded state is visible on /health and in the queue_degraded metric.
package queue

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/reviewtrail/reviewtrail/internal/models"
)

// Backend identifiers reported by Queue.Backend.
const (
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Message metadata keys shared by producer and consumer.
const (
	// MetaEnqueuedAt is the RFC3339Nano enqueue time, used for TTL
	// enforcement on the memory backend and the delivery latency metric.
	MetaEnqueuedAt = "enqueued_at"
	// MetaEventType mirrors the envelope event type for log context
	// without re-parsing the payload.
	MetaEventType = "event_type"
)

// Queue is the transport between ingest and the consumer worker.
type Queue interface {
	// Enqueue publishes an event envelope. Returns ErrQueueUnavailable
	// (possibly wrapped) when the backend cannot accept events.
	Enqueue(ctx context.Context, env *models.EventEnvelope) error

	// Subscribe returns the stream of queued messages. Payloads are
	// serialized EventEnvelope values. The channel closes when ctx is
	// canceled or the queue is closed.
	Subscribe(ctx context.Context) (<-chan *message.Message, error)

	// Depth reports the number of events waiting to be consumed.
	Depth(ctx context.Context) (int64, error)

	// Backend names the active backend, BackendNATS or BackendMemory.
	Backend() string

	// Degraded reports whether the queue is running on the fallback
	// backend.
	Degraded() bool

	// Close releases the backend connections.
	Close() error
}
