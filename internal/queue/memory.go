// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
)

// MemoryQueue is the in-process fallback backend, used when NATS cannot
// be reached at startup. Events live only in memory: a restart loses
// them, which is why the pipeline reports itself degraded while this
// backend is active.
//
// TTL is enforced at dequeue. Every message carries its enqueue time in
// metadata; the subscribe loop acks and drops anything older than the
// configured TTL before the consumer sees it.
type MemoryQueue struct {
	config     Config
	pubsub     *gochannel.GoChannel
	serializer *Serializer
	logger     watermill.LoggerAdapter
	now        func() time.Time

	depth  atomic.Int64
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates the fallback queue.
func NewMemoryQueue(cfg Config, logger watermill.LoggerAdapter) (*MemoryQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	// Persistent keeps published messages for later subscribers. Without
	// it, events enqueued before the consumer attaches never arrive.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.MemoryBuffer,
		Persistent:          true,
	}, logger)

	return &MemoryQueue{
		config:     cfg,
		pubsub:     pubsub,
		serializer: NewSerializer(),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Enqueue publishes an envelope to the in-process channel.
func (q *MemoryQueue) Enqueue(ctx context.Context, env *models.EventEnvelope) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	data, err := q.serializer.Marshal(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(env.EventID.String(), data)
	msg.Metadata.Set(MetaEventType, env.EventType)
	msg.Metadata.Set(MetaEnqueuedAt, env.ProducerTimestamp.Format(time.RFC3339Nano))

	err = q.pubsub.Publish(Topic, msg)
	metrics.RecordQueuePublish(BackendMemory, err)
	if err != nil {
		return err
	}

	metrics.UpdateQueueDepth(q.depth.Add(1))
	return nil
}

// PublishRaw publishes pre-serialized bytes without envelope validation.
// The consumer must tolerate whatever arrives on the queue, including
// bytes that never came from our serializer; this entry point exists so
// that tolerance can be exercised.
func (q *MemoryQueue) PublishRaw(ctx context.Context, payload []byte) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaEnqueuedAt, q.now().Format(time.RFC3339Nano))

	if err := q.pubsub.Publish(Topic, msg); err != nil {
		return err
	}
	metrics.UpdateQueueDepth(q.depth.Add(1))
	return nil
}

// Subscribe returns queued messages, filtering out expired ones.
func (q *MemoryQueue) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	inner, err := q.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for msg := range inner {
			if q.expired(msg) {
				msg.Ack()
				metrics.QueueExpiredEvents.Inc()
				metrics.UpdateQueueDepth(q.depth.Add(-1))
				q.logger.Info("Dropped expired event", watermill.LogFields{
					"message_uuid": msg.UUID,
					"event_type":   msg.Metadata.Get(MetaEventType),
				})
				continue
			}

			select {
			case out <- msg:
				metrics.UpdateQueueDepth(q.depth.Add(-1))
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

func (q *MemoryQueue) expired(msg *message.Message) bool {
	raw := msg.Metadata.Get(MetaEnqueuedAt)
	if raw == "" {
		return false
	}
	enqueuedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return q.now().Sub(enqueuedAt) > q.config.TTL
}

// Depth reports events published but not yet handed to the consumer.
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	return q.depth.Load(), nil
}

// Backend returns BackendMemory.
func (q *MemoryQueue) Backend() string {
	return BackendMemory
}

// Degraded returns true: the memory backend is always a degradation.
func (q *MemoryQueue) Degraded() bool {
	return true
}

// Close shuts down the channel; undelivered events are lost.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return q.pubsub.Close()
}
