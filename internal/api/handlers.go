// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package api exposes the HTTP surface: the ingest endpoint, read-only
// query and analytics endpoints, and operational endpoints for health,
// queue state, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/reviewtrail/reviewtrail/internal/consumer"
	"github.com/reviewtrail/reviewtrail/internal/logging"
	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
	"github.com/reviewtrail/reviewtrail/internal/queue"
)

// EventStore is the read surface the query endpoints need.
type EventStore interface {
	ListEvents(ctx context.Context, filter models.EventFilter) (*models.EventPage, error)
	ListEventTypes(ctx context.Context) ([]models.EventTypeCount, error)
	UsageAnalytics(ctx context.Context, days int) (*models.UsageReport, error)
	PerformanceAnalytics(ctx context.Context, days int) (*models.PerformanceReport, error)
	Ping(ctx context.Context) error
}

// WorkerStats exposes consumer counters for health reporting.
type WorkerStats interface {
	Stats() consumer.Stats
}

// Pagination bounds for GET /events.
const (
	defaultPageSize = 100
	maxPageSize     = 1000
	defaultDays     = 30
	maxDays         = 365
)

// logRequest is the POST /log body.
type logRequest struct {
	SessionID int64           `json:"session_id" validate:"required,gt=0"`
	EventType string          `json:"event_type" validate:"required,min=1,max=100"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// IngestEvent handles POST /log: validate, wrap in an envelope, and
// enqueue. The event is durable once 202 is returned; persistence
// happens asynchronously in the consumer worker.
func (rt *Router) IngestEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordIngest("invalid", time.Since(start))
		respondError(w, http.StatusBadRequest, CodeValidationError,
			"Request body must be valid JSON", nil)
		return
	}

	if apiErr := validateRequest(&req); apiErr != nil {
		metrics.RecordIngest("invalid", time.Since(start))
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != "" {
		// Format already validated.
		timestamp, _ = time.Parse(time.RFC3339, req.Timestamp)
		timestamp = timestamp.UTC()
	}

	if !models.IsKnownEventType(req.EventType) {
		logging.Warn().
			Str("event_type", sanitizeLogValue(req.EventType)).
			Int64("session_id", req.SessionID).
			Msg("Unknown event type accepted")
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	env := &models.EventEnvelope{
		EventID:           uuid.New(),
		SessionID:         req.SessionID,
		EventType:         req.EventType,
		Payload:           payload,
		Timestamp:         timestamp,
		ProducerTimestamp: time.Now().UTC(),
	}

	if err := rt.queue.Enqueue(r.Context(), env); err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) || errors.Is(err, queue.ErrQueueClosed) {
			metrics.RecordIngest("queue_unavailable", time.Since(start))
			respondError(w, http.StatusServiceUnavailable, CodeQueueUnavailable,
				"Event queue is temporarily unavailable", err)
			return
		}
		metrics.RecordIngest("invalid", time.Since(start))
		respondError(w, http.StatusBadRequest, CodeValidationError,
			"Event could not be enqueued", err)
		return
	}

	metrics.RecordIngest("accepted", time.Since(start))
	metrics.RecordEventAccepted(env.EventType)

	respondSuccess(w, http.StatusAccepted, models.IngestAck{
		EventID:  env.EventID.String(),
		Enqueued: true,
		Degraded: rt.queue.Degraded(),
	}, 0)
}

// ListEvents handles GET /events with filtering and pagination.
func (rt *Router) ListEvents(w http.ResponseWriter, r *http.Request) {
	page := getIntParam(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := getIntParam(r, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := models.EventFilter{
		SessionID: getInt64Param(r, "session_id", 0),
		EventType: r.URL.Query().Get("event_type"),
		StartTime: getTimeParam(r, "start_time"),
		EndTime:   getTimeParam(r, "end_time"),
		Page:      page,
		PageSize:  pageSize,
	}

	start := time.Now()
	result, err := rt.store.ListEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to query events", err)
		return
	}

	respondSuccess(w, http.StatusOK, result, time.Since(start))
}

// ListEventTypes handles GET /events/types.
func (rt *Router) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	counts, err := rt.store.ListEventTypes(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to query event types", err)
		return
	}
	if counts == nil {
		counts = []models.EventTypeCount{}
	}

	respondSuccess(w, http.StatusOK, counts, time.Since(start))
}

// UsageAnalytics handles GET /analytics/usage.
func (rt *Router) UsageAnalytics(w http.ResponseWriter, r *http.Request) {
	days := getIntParam(r, "days", defaultDays)
	if days < 1 || days > maxDays {
		respondError(w, http.StatusBadRequest, CodeValidationError,
			"days must be between 1 and 365", nil)
		return
	}

	start := time.Now()
	report, err := rt.store.UsageAnalytics(r.Context(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to compute usage analytics", err)
		return
	}

	respondSuccess(w, http.StatusOK, report, time.Since(start))
}

// PerformanceAnalytics handles GET /analytics/performance.
func (rt *Router) PerformanceAnalytics(w http.ResponseWriter, r *http.Request) {
	days := getIntParam(r, "days", defaultDays)
	if days < 1 || days > maxDays {
		respondError(w, http.StatusBadRequest, CodeValidationError,
			"days must be between 1 and 365", nil)
		return
	}

	start := time.Now()
	report, err := rt.store.PerformanceAnalytics(r.Context(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeDatabaseError,
			"Failed to compute performance analytics", err)
		return
	}

	respondSuccess(w, http.StatusOK, report, time.Since(start))
}

// Health handles GET /health with full component detail.
func (rt *Router) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"database": "ok",
		"queue":    "ok",
	}
	status := "ok"

	if err := rt.store.Ping(r.Context()); err != nil {
		components["database"] = "unavailable"
		status = "degraded"
	}

	depth, err := rt.queue.Depth(r.Context())
	if err != nil {
		components["queue"] = "unavailable"
		status = "degraded"
	} else if rt.queue.Degraded() {
		components["queue"] = "degraded"
		status = "degraded"
	}
	metrics.UpdateQueueDepth(depth)

	health := models.HealthStatus{
		Status:     status,
		Version:    rt.version,
		Components: components,
		Queue: models.QueueStatus{
			Backend:  rt.queue.Backend(),
			Degraded: rt.queue.Degraded(),
			Depth:    depth,
		},
	}
	if rt.worker != nil {
		stats := rt.worker.Stats()
		health.Consumer = models.ConsumerStats{
			Processed:     stats.Processed,
			Retried:       stats.Retried,
			DeadLettered:  stats.DeadLettered,
			ParseFailures: stats.ParseFailures,
		}
		if !stats.LastEventAt.IsZero() {
			t := stats.LastEventAt
			health.Consumer.LastEventAt = &t
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondSuccess(w, code, health, 0)
}

// HealthLive handles GET /health/live: the process is up.
func (rt *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, 0)
}

// HealthReady handles GET /health/ready: dependencies are reachable.
func (rt *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := rt.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, CodeDatabaseError,
			"Database not ready", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, 0)
}

// QueueStatus handles GET /queue/status (admin only).
func (rt *Router) QueueStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := rt.queue.Depth(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, CodeQueueUnavailable,
			"Queue state unavailable", err)
		return
	}
	metrics.UpdateQueueDepth(depth)

	respondSuccess(w, http.StatusOK, models.QueueStatus{
		Backend:  rt.queue.Backend(),
		Degraded: rt.queue.Degraded(),
		Depth:    depth,
	}, 0)
}
