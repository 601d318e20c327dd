// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/reviewtrail/reviewtrail/internal/models"
)

func testEnvelope(eventType string) *models.EventEnvelope {
	now := time.Now().UTC()
	return &models.EventEnvelope{
		EventID:           uuid.New(),
		SessionID:         7,
		EventType:         eventType,
		Payload:           json.RawMessage(`{"file":"queue.go"}`),
		Timestamp:         now,
		ProducerTimestamp: now,
	}
}

func newTestMemoryQueue(t *testing.T) *MemoryQueue {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MemoryBuffer = 100
	q, err := NewMemoryQueue(cfg, nil)
	if err != nil {
		t.Fatalf("NewMemoryQueue() error = %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// TestMemoryQueueRoundTrip tests that an enqueued envelope reaches a subscriber intact
func TestMemoryQueueRoundTrip(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	env := testEnvelope("comment_added")
	if err := q.Enqueue(ctx, env); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case msg := <-msgs:
		decoded, err := NewSerializer().Unmarshal(msg.Payload)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if decoded.EventID != env.EventID {
			t.Errorf("EventID = %v, want %v", decoded.EventID, env.EventID)
		}
		if decoded.EventType != "comment_added" {
			t.Errorf("EventType = %q, want comment_added", decoded.EventType)
		}
		if got := msg.Metadata.Get(MetaEventType); got != "comment_added" {
			t.Errorf("metadata event_type = %q, want comment_added", got)
		}
		if msg.Metadata.Get(MetaEnqueuedAt) == "" {
			t.Error("metadata enqueued_at is empty")
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

// TestMemoryQueueDepth tests the depth counter across enqueue and consume
func TestMemoryQueueDepth(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, testEnvelope("file_viewed")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 3 {
		t.Errorf("Depth() = %d, want 3", depth)
	}

	msgs, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case msg := <-msgs:
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	depth, err = q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() after consume = %d, want 0", depth)
	}
}

// TestMemoryQueueBuffersBeforeSubscribe tests that events enqueued while
// no consumer is attached are delivered once one subscribes
func TestMemoryQueueBuffersBeforeSubscribe(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	early := testEnvelope("review_started")
	if err := q.Enqueue(ctx, early); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	msgs, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-msgs:
		decoded, err := NewSerializer().Unmarshal(msg.Payload)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if decoded.EventID != early.EventID {
			t.Errorf("EventID = %v, want %v", decoded.EventID, early.EventID)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event enqueued before Subscribe was never delivered")
	}
}

// TestMemoryQueueTTLExpiry tests that expired events are dropped at dequeue
func TestMemoryQueueTTLExpiry(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clock starts now; events enqueued, then the clock jumps past TTL.
	base := time.Now()
	q.now = func() time.Time { return base }

	stale := testEnvelope("review_started")
	stale.ProducerTimestamp = base
	if err := q.Enqueue(ctx, stale); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	q.now = func() time.Time { return base.Add(q.config.TTL + time.Hour) }

	fresh := testEnvelope("review_completed")
	fresh.ProducerTimestamp = q.now()
	if err := q.Enqueue(ctx, fresh); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	msgs, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-msgs:
		decoded, err := NewSerializer().Unmarshal(msg.Payload)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if decoded.EventID != fresh.EventID {
			t.Errorf("got event %v, want the fresh event %v: stale event should have been dropped", decoded.EventID, fresh.EventID)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fresh message")
	}
}

// TestMemoryQueueRejectsInvalidEnvelope tests that validation happens before publish
func TestMemoryQueueRejectsInvalidEnvelope(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx := context.Background()

	env := testEnvelope("x")
	env.SessionID = 0
	if err := q.Enqueue(ctx, env); err == nil {
		t.Fatal("Enqueue() = nil, want validation error")
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d, want 0 after rejected enqueue", depth)
	}
}

// TestMemoryQueueClosed tests post-Close behavior
func TestMemoryQueueClosed(t *testing.T) {
	q := newTestMemoryQueue(t)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Enqueue(context.Background(), testEnvelope("x")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue() after close = %v, want ErrQueueClosed", err)
	}
	// Double close is a no-op.
	if err := q.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// TestMemoryQueueIdentity tests backend reporting
func TestMemoryQueueIdentity(t *testing.T) {
	q := newTestMemoryQueue(t)
	if q.Backend() != BackendMemory {
		t.Errorf("Backend() = %q, want %q", q.Backend(), BackendMemory)
	}
	if !q.Degraded() {
		t.Error("Degraded() = false, want true for memory backend")
	}
}
