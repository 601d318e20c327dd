// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordIngest tests ingest outcome metric recording
func TestRecordIngest(t *testing.T) {
	tests := []struct {
		name     string
		outcome  string
		duration time.Duration
	}{
		{name: "accepted request", outcome: "accepted", duration: 2 * time.Millisecond},
		{name: "unauthorized request", outcome: "unauthorized", duration: time.Millisecond},
		{name: "rate limited request", outcome: "rate_limited", duration: time.Millisecond},
		{name: "invalid payload", outcome: "invalid", duration: 3 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(IngestRequestsTotal.WithLabelValues(tt.outcome))
			RecordIngest(tt.outcome, tt.duration)
			after := testutil.ToFloat64(IngestRequestsTotal.WithLabelValues(tt.outcome))
			if after != before+1 {
				t.Errorf("IngestRequestsTotal[%s] = %v, want %v", tt.outcome, after, before+1)
			}
		})
	}
}

// TestRecordQueuePublish tests queue publish result labeling
func TestRecordQueuePublish(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		err     error
		result  string
	}{
		{name: "nats success", backend: "nats", err: nil, result: "success"},
		{name: "nats failure", backend: "nats", err: errors.New("connection refused"), result: "failure"},
		{name: "memory success", backend: "memory", err: nil, result: "success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(QueuePublishes.WithLabelValues(tt.backend, tt.result))
			RecordQueuePublish(tt.backend, tt.err)
			after := testutil.ToFloat64(QueuePublishes.WithLabelValues(tt.backend, tt.result))
			if after != before+1 {
				t.Errorf("QueuePublishes[%s,%s] = %v, want %v", tt.backend, tt.result, after, before+1)
			}
		})
	}
}

// TestSetQueueDegraded tests the degraded flag gauge
func TestSetQueueDegraded(t *testing.T) {
	SetQueueDegraded(true)
	if got := testutil.ToFloat64(QueueDegraded); got != 1 {
		t.Errorf("QueueDegraded = %v, want 1", got)
	}
	SetQueueDegraded(false)
	if got := testutil.ToFloat64(QueueDegraded); got != 0 {
		t.Errorf("QueueDegraded = %v, want 0", got)
	}
}

// TestUpdateQueueDepth tests the queue depth gauge
func TestUpdateQueueDepth(t *testing.T) {
	UpdateQueueDepth(42)
	if got := testutil.ToFloat64(QueueDepth); got != 42 {
		t.Errorf("QueueDepth = %v, want 42", got)
	}
	UpdateQueueDepth(0)
	if got := testutil.ToFloat64(QueueDepth); got != 0 {
		t.Errorf("QueueDepth = %v, want 0", got)
	}
}

// TestTrackActiveRequest tests the active request gauge pairing
func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)

	TrackActiveRequest(true)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+2 {
		t.Errorf("APIActiveRequests = %v, want %v", got, base+2)
	}

	TrackActiveRequest(false)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("APIActiveRequests = %v, want %v", got, base)
	}
}

// TestRecordDeadLetter tests dead letter category labeling
func TestRecordDeadLetter(t *testing.T) {
	for _, category := range []string{"connection", "timeout", "database", "unknown"} {
		before := testutil.ToFloat64(ConsumerDeadLetters.WithLabelValues(category))
		RecordDeadLetter(category)
		after := testutil.ToFloat64(ConsumerDeadLetters.WithLabelValues(category))
		if after != before+1 {
			t.Errorf("ConsumerDeadLetters[%s] = %v, want %v", category, after, before+1)
		}
	}
}

// TestRecordProcessed tests processed counter and latency observation
func TestRecordProcessed(t *testing.T) {
	before := testutil.ToFloat64(ConsumerEventsProcessed)
	RecordProcessed(5*time.Millisecond, time.Now().Add(-time.Second))
	after := testutil.ToFloat64(ConsumerEventsProcessed)
	if after != before+1 {
		t.Errorf("ConsumerEventsProcessed = %v, want %v", after, before+1)
	}

	// A zero enqueue time must not observe delivery latency.
	RecordProcessed(time.Millisecond, time.Time{})
	if got := testutil.ToFloat64(ConsumerEventsProcessed); got != after+1 {
		t.Errorf("ConsumerEventsProcessed = %v, want %v", got, after+1)
	}
}

// TestConcurrentRecording tests that metric recording is safe under concurrency
func TestConcurrentRecording(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	before := testutil.ToFloat64(ConsumerRetries)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				ConsumerRetries.Inc()
			}
		}()
	}
	wg.Wait()

	after := testutil.ToFloat64(ConsumerRetries)
	if after != before+goroutines*iterations {
		t.Errorf("ConsumerRetries = %v, want %v", after, before+goroutines*iterations)
	}
}
