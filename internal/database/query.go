// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
)

// ListEvents returns a page of events matching the filter, newest first,
// along with the total match count.
func (db *DB) ListEvents(ctx context.Context, filter models.EventFilter) (*models.EventPage, error) {
	start := time.Now()
	page, err := db.listEvents(ctx, filter)
	metrics.RecordDBQuery("SELECT", "log_events", time.Since(start), err)
	return page, err
}

func (db *DB) listEvents(ctx context.Context, filter models.EventFilter) (*models.EventPage, error) {
	var conds []string
	var args []interface{}

	if filter.SessionID > 0 {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if !filter.StartTime.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.EndTime)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM log_events"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	// The driver materializes JSON columns as maps; the cast returns
	// the payload as its JSON text instead.
	query := "SELECT id, session_id, timestamp, event_type, CAST(payload AS VARCHAR) FROM log_events" +
		where + " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := db.conn.QueryContext(ctx, query, append(args, filter.PageSize, filter.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]models.LogEvent, 0, filter.PageSize)
	for rows.Next() {
		var ev models.LogEvent
		var payload string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Timestamp, &ev.EventType, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &models.EventPage{
		Events:   events,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// ListEventTypes returns the distinct event types with their counts,
// most frequent first.
func (db *DB) ListEventTypes(ctx context.Context) ([]models.EventTypeCount, error) {
	start := time.Now()
	counts, err := db.listEventTypes(ctx)
	metrics.RecordDBQuery("SELECT", "log_events", time.Since(start), err)
	return counts, err
}

func (db *DB) listEventTypes(ctx context.Context) ([]models.EventTypeCount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT event_type, COUNT(*) AS cnt
		 FROM log_events
		 GROUP BY event_type
		 ORDER BY cnt DESC, event_type ASC`)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer rows.Close()

	var counts []models.EventTypeCount
	for rows.Next() {
		var c models.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// UsageAnalytics summarizes event volume over the trailing days window.
func (db *DB) UsageAnalytics(ctx context.Context, days int) (*models.UsageReport, error) {
	start := time.Now()
	report, err := db.usageAnalytics(ctx, days)
	metrics.RecordDBQuery("SELECT", "log_events", time.Since(start), err)
	return report, err
}

func (db *DB) usageAnalytics(ctx context.Context, days int) (*models.UsageReport, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	report := &models.UsageReport{PeriodDays: days}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT session_id)
		 FROM log_events WHERE timestamp >= ?`, cutoff).
		Scan(&report.TotalEvents, &report.UniqueSessions)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT event_type, COUNT(*) AS cnt
		 FROM log_events WHERE timestamp >= ?
		 GROUP BY event_type ORDER BY cnt DESC, event_type ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("usage by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan usage by type: %w", err)
		}
		report.ByType = append(report.ByType, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dailyRows, err := db.conn.QueryContext(ctx,
		`SELECT strftime(CAST(timestamp AS DATE), '%Y-%m-%d') AS day, COUNT(*)
		 FROM log_events WHERE timestamp >= ?
		 GROUP BY day ORDER BY day ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("usage daily: %w", err)
	}
	defer dailyRows.Close()

	for dailyRows.Next() {
		var d models.DailyCount
		if err := dailyRows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("scan usage daily: %w", err)
		}
		report.Daily = append(report.Daily, d)
	}
	return report, dailyRows.Err()
}

// PerformanceAnalytics summarizes review durations for sessions that
// completed within the trailing days window. Durations come from the
// session start/end pair, which review_completed events maintain.
func (db *DB) PerformanceAnalytics(ctx context.Context, days int) (*models.PerformanceReport, error) {
	start := time.Now()
	report, err := db.performanceAnalytics(ctx, days)
	metrics.RecordDBQuery("SELECT", "review_sessions", time.Since(start), err)
	return report, err
}

func (db *DB) performanceAnalytics(ctx context.Context, days int) (*models.PerformanceReport, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	report := &models.PerformanceReport{PeriodDays: days}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(epoch(end_time - start_time)), 0),
		        COALESCE(MIN(epoch(end_time - start_time)), 0),
		        COALESCE(MAX(epoch(end_time - start_time)), 0)
		 FROM review_sessions
		 WHERE end_time IS NOT NULL AND end_time >= ?`, cutoff).
		Scan(&report.CompletedReviews, &report.AvgDurationSeconds,
			&report.MinDurationSeconds, &report.MaxDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("performance analytics: %w", err)
	}

	// Average started-to-completed latency per event-type prefix, pairing
	// the first "<prefix>_started" with the last "<prefix>_completed" in
	// each session.
	rows, err := db.conn.QueryContext(ctx,
		`SELECT s.prefix, COUNT(*), AVG(epoch(c.ts - s.ts))
		 FROM (SELECT session_id,
		              regexp_replace(event_type, '_started$', '') AS prefix,
		              MIN(timestamp) AS ts
		       FROM log_events
		       WHERE regexp_matches(event_type, '_started$') AND timestamp >= ?
		       GROUP BY session_id, prefix) s
		 JOIN (SELECT session_id,
		              regexp_replace(event_type, '_completed$', '') AS prefix,
		              MAX(timestamp) AS ts
		       FROM log_events
		       WHERE regexp_matches(event_type, '_completed$') AND timestamp >= ?
		       GROUP BY session_id, prefix) c
		   ON s.session_id = c.session_id AND s.prefix = c.prefix
		 GROUP BY s.prefix
		 ORDER BY s.prefix ASC`, cutoff, cutoff)
	if err != nil {
		return nil, fmt.Errorf("pair latency: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.EventPairLatency
		if err := rows.Scan(&p.Prefix, &p.Count, &p.AvgLatencySeconds); err != nil {
			return nil, fmt.Errorf("scan pair latency: %w", err)
		}
		report.LatencyByPair = append(report.LatencyByPair, p)
	}
	return report, rows.Err()
}
