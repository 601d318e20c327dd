// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package models defines data structures used throughout the Reviewtrail application.
// These models represent audit events, review sessions, analytics results, and API responses.

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Well-known event types emitted by review tooling. The vocabulary is
// advisory: unknown types are accepted and stored, they only trigger a
// warning at ingest so typos surface in logs rather than silently
// fragmenting analytics.
const (
	EventReviewStarted    = "review_started"
	EventReviewCompleted  = "review_completed"
	EventCommentAdded     = "comment_added"
	EventFileViewed       = "file_viewed"
	EventSuggestionShown  = "suggestion_shown"
	EventSuggestionTaken  = "suggestion_accepted"
	EventDiffExpanded     = "diff_expanded"
	EventApprovalGranted  = "approval_granted"
	EventChangesRequested = "changes_requested"
)

var knownEventTypes = map[string]struct{}{
	EventReviewStarted:    {},
	EventReviewCompleted:  {},
	EventCommentAdded:     {},
	EventFileViewed:       {},
	EventSuggestionShown:  {},
	EventSuggestionTaken:  {},
	EventDiffExpanded:     {},
	EventApprovalGranted:  {},
	EventChangesRequested: {},
}

// IsKnownEventType reports whether eventType belongs to the documented
// vocabulary.
func IsKnownEventType(eventType string) bool {
	_, ok := knownEventTypes[eventType]
	return ok
}

// EventEnvelope is the wire format carried through the queue between the
// ingest endpoint and the consumer worker.
//
// EventID is assigned at ingest and doubles as the message deduplication
// key on the NATS backend. Timestamp is the event occurrence time supplied
// by the client (or the ingest time when omitted); ProducerTimestamp is
// always the enqueue time and feeds the delivery latency metric.
type EventEnvelope struct {
	EventID           uuid.UUID       `json:"event_id"`
	SessionID         int64           `json:"session_id"`
	EventType         string          `json:"event_type"`
	Payload           json.RawMessage `json:"payload"`
	Timestamp         time.Time       `json:"timestamp"`
	ProducerTimestamp time.Time       `json:"producer_timestamp"`
}

// Validate checks the envelope invariants shared by producer and consumer.
// The consumer treats a failure here as permanently malformed: the message
// is dropped, never retried.
func (e *EventEnvelope) Validate() error {
	if e.EventID == uuid.Nil {
		return fmt.Errorf("event_id is required")
	}
	if e.SessionID <= 0 {
		return fmt.Errorf("session_id must be a positive integer, got %d", e.SessionID)
	}
	if l := len(e.EventType); l < 1 || l > 100 {
		return fmt.Errorf("event_type must be 1-100 characters, got %d", l)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// User represents an account that owns review sessions.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewSession represents one code review sitting. EndTime stays nil
// until a review_completed event closes the session.
type ReviewSession struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// LogEvent is a persisted audit event as stored in DuckDB and returned by
// the query endpoints.
type LogEvent struct {
	ID        int64           `json:"id"`
	SessionID int64           `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}
