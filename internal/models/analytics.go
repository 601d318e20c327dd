// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package models

import (
	"time"
)

// EventFilter captures the query parameters accepted by GET /events.
// Zero values mean "no constraint"; Page and PageSize are normalized by
// the handler before the filter reaches the store.
type EventFilter struct {
	SessionID int64
	EventType string
	StartTime time.Time
	EndTime   time.Time
	Page      int
	PageSize  int
}

// Offset converts the 1-based page number to a row offset.
func (f EventFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// EventPage is a page of events plus the total match count so clients
// can paginate without a second request.
type EventPage struct {
	Events   []LogEvent `json:"events"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// EventTypeCount pairs an event type with its occurrence count.
type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// DailyCount is one day's event volume in a usage report.
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// UsageReport summarizes event volume over a trailing window.
type UsageReport struct {
	PeriodDays     int              `json:"period_days"`
	TotalEvents    int64            `json:"total_events"`
	UniqueSessions int64            `json:"unique_sessions"`
	ByType         []EventTypeCount `json:"by_type"`
	Daily          []DailyCount     `json:"daily"`
}

// EventPairLatency is the average gap between "<prefix>_started" and
// "<prefix>_completed" events sharing a session.
type EventPairLatency struct {
	Prefix            string  `json:"prefix"`
	Count             int64   `json:"count"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
}

// PerformanceReport summarizes review durations from closed sessions
// plus per-category latencies computed by pairing started/completed
// events.
type PerformanceReport struct {
	PeriodDays         int                `json:"period_days"`
	CompletedReviews   int64              `json:"completed_reviews"`
	AvgDurationSeconds float64            `json:"avg_duration_seconds"`
	MinDurationSeconds float64            `json:"min_duration_seconds"`
	MaxDurationSeconds float64            `json:"max_duration_seconds"`
	LatencyByPair      []EventPairLatency `json:"latency_by_pair"`
}
