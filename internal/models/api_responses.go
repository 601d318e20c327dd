// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package models

import (
	"time"
)

// APIResponse represents a standardized API response wrapper used by all HTTP endpoints.
// It provides consistent structure for both successful and error responses.
//
// Status field values:
//   - "success": Request completed successfully, see Data field
//   - "error": Request failed, see Error field for details
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"total": 100, "events": [...]},
//	  "metadata": {
//	    "timestamp": "2026-08-31T12:00:00Z",
//	    "query_time_ms": 12
//	  }
//	}
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "VALIDATION_ERROR",
//	    "message": "Invalid date range",
//	    "details": {"field": "start_date"}
//	  },
//	  "metadata": {"timestamp": "2026-08-31T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
//
// QueryTimeMS is the database query execution time in milliseconds and is
// omitted for endpoints that do not touch the database.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError represents an error response with structured error details.
//
// Common error codes:
//   - VALIDATION_ERROR: Invalid input parameters
//   - AUTHENTICATION_ERROR: Invalid/missing credentials
//   - RATE_LIMIT_EXCEEDED: Too many requests
//   - QUEUE_UNAVAILABLE: Event queue cannot accept events
//   - DATABASE_ERROR: Query execution failure
//   - NOT_FOUND: Resource doesn't exist
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// IngestAck is the Data payload returned with 202 Accepted for an
// enqueued event.
type IngestAck struct {
	EventID  string `json:"event_id"`
	Enqueued bool   `json:"enqueued"`
	Degraded bool   `json:"degraded,omitempty"`
}

// RateLimitInfo is attached to 429 responses so clients can back off
// precisely instead of guessing.
type RateLimitInfo struct {
	RetryAfterSeconds int `json:"retry_after_seconds"`
	Limit             int `json:"limit"`
	WindowSeconds     int `json:"window_seconds"`
}

// HealthStatus reports component health for the /health endpoint.
type HealthStatus struct {
	Status     string            `json:"status"` // "ok" or "degraded"
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
	Queue      QueueStatus       `json:"queue"`
	Consumer   ConsumerStats     `json:"consumer"`
}

// QueueStatus describes the active queue backend and its depth.
type QueueStatus struct {
	Backend  string `json:"backend"` // "nats" or "memory"
	Degraded bool   `json:"degraded"`
	Depth    int64  `json:"depth"`
}

// ConsumerStats is a snapshot of worker processing counters.
type ConsumerStats struct {
	Processed     int64      `json:"processed"`
	Retried       int64      `json:"retried"`
	DeadLettered  int64      `json:"dead_lettered"`
	ParseFailures int64      `json:"parse_failures"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
}
