// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"fmt"
	"time"
)

// Stream constants for the audit event stream.
const (
	// StreamName is the JetStream stream holding queued audit events.
	StreamName = "AUDIT_EVENTS"
	// Topic is the subject events are published to.
	Topic = "audit.events"
	// DefaultTTL is how long an unconsumed event survives, 7 days.
	DefaultTTL = 7 * 24 * time.Hour
)

// Config holds queue backend configuration.
type Config struct {
	// URL is the NATS server connection URL.
	URL string

	// Embedded starts an in-process NATS server instead of connecting
	// to an external one.
	Embedded bool

	// StoreDir is the JetStream storage directory for the embedded
	// server.
	StoreDir string

	// TTL is the event retention window. Events older than TTL are
	// discarded unconsumed.
	TTL time.Duration

	// MaxReconnects and ReconnectWait govern NATS client reconnection.
	MaxReconnects int
	ReconnectWait time.Duration

	// ConnectTimeout bounds the initial connection attempt before the
	// queue falls back to the memory backend.
	ConnectTimeout time.Duration

	// DurableName is the JetStream durable consumer name.
	DurableName string

	// QueueGroup load-balances consumption across worker instances.
	QueueGroup string

	// AckWait is how long JetStream waits for an ack before redelivery.
	AckWait time.Duration

	// MaxDeliver caps JetStream redeliveries of a single message.
	MaxDeliver int

	// DuplicateWindow is the Nats-Msg-Id deduplication window.
	DuplicateWindow time.Duration

	// MemoryBuffer is the channel capacity of the fallback backend.
	MemoryBuffer int64

	// Breaker configures the circuit breaker around publishes.
	Breaker BreakerConfig
}

// BreakerConfig configures the publish circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultConfig returns production defaults for the queue.
func DefaultConfig() Config {
	return Config{
		URL:             "nats://127.0.0.1:4222",
		Embedded:        true,
		StoreDir:        "/data/reviewtrail/jetstream",
		TTL:             DefaultTTL,
		MaxReconnects:   10,
		ReconnectWait:   time.Second,
		ConnectTimeout:  5 * time.Second,
		DurableName:     "audit-consumer",
		QueueGroup:      "audit-workers",
		AckWait:         30 * time.Second,
		MaxDeliver:      5,
		DuplicateWindow: 2 * time.Minute,
		MemoryBuffer:    100_000,
		Breaker: BreakerConfig{
			Name:             "queue-publish",
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Validate checks config invariants before the queue starts.
func (c *Config) Validate() error {
	if c.URL == "" && !c.Embedded {
		return fmt.Errorf("%w: URL required when embedded server disabled", ErrInvalidConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: TTL must be positive, got %v", ErrInvalidConfig, c.TTL)
	}
	if c.MemoryBuffer <= 0 {
		return fmt.Errorf("%w: MemoryBuffer must be positive, got %d", ErrInvalidConfig, c.MemoryBuffer)
	}
	if c.MaxDeliver < 1 {
		return fmt.Errorf("%w: MaxDeliver must be at least 1, got %d", ErrInvalidConfig, c.MaxDeliver)
	}
	return nil
}
