// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/reviewtrail/reviewtrail/internal/auth"
	"github.com/reviewtrail/reviewtrail/internal/logging"
	"github.com/reviewtrail/reviewtrail/internal/models"
	"github.com/reviewtrail/reviewtrail/internal/queue"
)

const (
	testStandardKey = "standard-key-abc"
	testAdminKey    = "admin-key-xyz"
)

// fakeStore satisfies EventStore without hitting a database.
type fakeStore struct {
	events  []models.LogEvent
	pingErr error
	listErr error
}

func (s *fakeStore) ListEvents(_ context.Context, filter models.EventFilter) (*models.EventPage, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return &models.EventPage{
		Events:   s.events,
		Total:    int64(len(s.events)),
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (s *fakeStore) ListEventTypes(context.Context) ([]models.EventTypeCount, error) {
	return []models.EventTypeCount{{EventType: models.EventReviewStarted, Count: 2}}, nil
}

func (s *fakeStore) UsageAnalytics(_ context.Context, days int) (*models.UsageReport, error) {
	return &models.UsageReport{PeriodDays: days, TotalEvents: int64(len(s.events))}, nil
}

func (s *fakeStore) PerformanceAnalytics(_ context.Context, days int) (*models.PerformanceReport, error) {
	return &models.PerformanceReport{PeriodDays: days}, nil
}

func (s *fakeStore) Ping(context.Context) error {
	return s.pingErr
}

// closedQueue rejects every publish, simulating total broker loss
// after startup.
type closedQueue struct {
	*queue.MemoryQueue
}

func (q *closedQueue) Enqueue(context.Context, *models.EventEnvelope) error {
	return queue.ErrQueueUnavailable
}

// failingQueue rejects publishes with an arbitrary internal error.
type failingQueue struct {
	*queue.MemoryQueue
	err error
}

func (q *failingQueue) Enqueue(context.Context, *models.EventEnvelope) error {
	return q.err
}

func newTestServer(t *testing.T, rateLimit int) (*httptest.Server, *queue.MemoryQueue, *fakeStore) {
	t.Helper()

	logging.Init(logging.Config{Level: "disabled"})

	cfg := queue.DefaultConfig()
	q, err := queue.NewMemoryQueue(cfg, logging.NewWatermillAdapter())
	if err != nil {
		t.Fatalf("NewMemoryQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	store := &fakeStore{}
	authenticator := auth.NewAuthenticator(
		map[string]string{testStandardKey: "ci-bot"},
		map[string]string{testAdminKey: "ops"},
	)
	limiter := auth.NewSlidingWindowLimiter(rateLimit, time.Minute)

	router := NewRouter(q, store, nil, authenticator, limiter, "test")
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)

	return srv, q, store
}

func postLog(t *testing.T, srv *httptest.Server, key string, body any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/log", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func get(t *testing.T, srv *httptest.Server, path, key string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	defer resp.Body.Close()

	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestIngestEvent(t *testing.T) {
	t.Run("accepts valid event with 202", func(t *testing.T) {
		srv, q, _ := newTestServer(t, 100)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 42,
			"event_type": models.EventCommentAdded,
			"payload":    map[string]any{"username": "alice", "file": "main.go"},
		})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}

		out := decodeResponse(t, resp)
		if out.Status != "success" {
			t.Errorf("status = %q, want success", out.Status)
		}
		ack, ok := out.Data.(map[string]any)
		if !ok {
			t.Fatalf("data is %T, want object", out.Data)
		}
		if ack["event_id"] == "" {
			t.Error("event_id missing from ack")
		}
		if ack["enqueued"] != true {
			t.Error("enqueued = false, want true")
		}

		depth, err := q.Depth(context.Background())
		if err != nil {
			t.Fatalf("Depth: %v", err)
		}
		if depth != 1 {
			t.Errorf("queue depth = %d, want 1", depth)
		}
	})

	t.Run("accepts unknown event type", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 42,
			"event_type": "custom_plugin_event",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}
	})

	t.Run("accepts explicit RFC3339 timestamp", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 7,
			"event_type": models.EventReviewStarted,
			"timestamp":  "2026-08-30T10:15:00Z",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}
	})

	t.Run("rejects missing session_id", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"event_type": models.EventReviewStarted,
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != CodeValidationError {
			t.Errorf("error = %+v, want code %s", out.Error, CodeValidationError)
		}
	})

	t.Run("rejects malformed JSON body", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/log",
			bytes.NewReader([]byte("{not json")))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("X-API-Key", testStandardKey)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("rejects bad timestamp format", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 1,
			"event_type": models.EventReviewStarted,
			"timestamp":  "yesterday",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("returns 503 when queue unavailable", func(t *testing.T) {
		logging.Init(logging.Config{Level: "disabled"})

		cfg := queue.DefaultConfig()
		mq, err := queue.NewMemoryQueue(cfg, logging.NewWatermillAdapter())
		if err != nil {
			t.Fatalf("NewMemoryQueue: %v", err)
		}
		t.Cleanup(func() { mq.Close() })

		authenticator := auth.NewAuthenticator(
			map[string]string{testStandardKey: "ci-bot"}, nil)
		limiter := auth.NewSlidingWindowLimiter(100, time.Minute)
		router := NewRouter(&closedQueue{mq}, &fakeStore{}, nil, authenticator, limiter, "test")
		srv := httptest.NewServer(router.Setup())
		t.Cleanup(srv.Close)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 1,
			"event_type": models.EventReviewStarted,
		})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != CodeQueueUnavailable {
			t.Errorf("error = %+v, want code %s", out.Error, CodeQueueUnavailable)
		}
	})

	t.Run("does not leak enqueue error detail", func(t *testing.T) {
		logging.Init(logging.Config{Level: "disabled"})

		cfg := queue.DefaultConfig()
		mq, err := queue.NewMemoryQueue(cfg, logging.NewWatermillAdapter())
		if err != nil {
			t.Fatalf("NewMemoryQueue: %v", err)
		}
		t.Cleanup(func() { mq.Close() })

		fq := &failingQueue{MemoryQueue: mq,
			err: errors.New("marshal envelope: write /var/lib/nats/stream: disk quota exceeded")}
		authenticator := auth.NewAuthenticator(
			map[string]string{testStandardKey: "ci-bot"}, nil)
		limiter := auth.NewSlidingWindowLimiter(100, time.Minute)
		router := NewRouter(fq, &fakeStore{}, nil, authenticator, limiter, "test")
		srv := httptest.NewServer(router.Setup())
		t.Cleanup(srv.Close)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 1,
			"event_type": models.EventReviewStarted,
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != CodeValidationError {
			t.Fatalf("error = %+v, want code %s", out.Error, CodeValidationError)
		}
		if strings.Contains(out.Error.Message, "disk quota") ||
			strings.Contains(out.Error.Message, "/var/lib") {
			t.Errorf("Message = %q, internal detail must not reach the client", out.Error.Message)
		}
	})
}

func TestAuthentication(t *testing.T) {
	t.Run("rejects missing key", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := postLog(t, srv, "", map[string]any{
			"session_id": 1,
			"event_type": models.EventReviewStarted,
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != CodeAuthenticationError {
			t.Errorf("error = %+v, want code %s", out.Error, CodeAuthenticationError)
		}
	})

	t.Run("rejects unknown key", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/events", "bogus-key")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/events", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+testStandardKey)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("queue status requires admin role", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/queue/status", testStandardKey)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("standard key status = %d, want %d", resp.StatusCode, http.StatusForbidden)
		}

		resp = get(t, srv, "/queue/status", testAdminKey)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("admin key status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})
}

func TestRateLimiting(t *testing.T) {
	t.Run("rejects over-limit ingest with retry hint", func(t *testing.T) {
		const limit = 3
		srv, _, _ := newTestServer(t, limit)

		body := map[string]any{
			"session_id": 1,
			"event_type": models.EventFileViewed,
		}
		for i := 0; i < limit; i++ {
			resp := postLog(t, srv, testStandardKey, body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				t.Fatalf("request %d: status = %d, want %d", i+1, resp.StatusCode, http.StatusAccepted)
			}
		}

		resp := postLog(t, srv, testStandardKey, body)
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
		}
		if resp.Header.Get("Retry-After") == "" {
			t.Error("Retry-After header missing")
		}

		out := decodeResponse(t, resp)
		if out.Error == nil || out.Error.Code != CodeRateLimitExceeded {
			t.Fatalf("error = %+v, want code %s", out.Error, CodeRateLimitExceeded)
		}
		info, ok := out.Data.(map[string]any)
		if !ok {
			t.Fatalf("data is %T, want object", out.Data)
		}
		retryAfter, ok := info["retry_after_seconds"].(float64)
		if !ok || retryAfter <= 0 {
			t.Errorf("retry_after_seconds = %v, want > 0", info["retry_after_seconds"])
		}
	})

	t.Run("query endpoints are not ingest rate limited", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 1)

		resp := postLog(t, srv, testStandardKey, map[string]any{
			"session_id": 1,
			"event_type": models.EventFileViewed,
		})
		resp.Body.Close()

		for i := 0; i < 5; i++ {
			resp := get(t, srv, "/events", testStandardKey)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("query %d: status = %d, want %d", i+1, resp.StatusCode, http.StatusOK)
			}
		}
	})
}

func TestQueryEndpoints(t *testing.T) {
	t.Run("lists events with pagination metadata", func(t *testing.T) {
		srv, _, store := newTestServer(t, 100)
		store.events = []models.LogEvent{
			{ID: 1, SessionID: 42, EventType: models.EventReviewStarted},
			{ID: 2, SessionID: 42, EventType: models.EventCommentAdded},
		}

		resp := get(t, srv, "/events?page=1&page_size=10", testStandardKey)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		out := decodeResponse(t, resp)
		page, ok := out.Data.(map[string]any)
		if !ok {
			t.Fatalf("data is %T, want object", out.Data)
		}
		if total, _ := page["total"].(float64); total != 2 {
			t.Errorf("total = %v, want 2", page["total"])
		}
	})

	t.Run("clamps oversized page size", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/events?page_size=99999", testStandardKey)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		out := decodeResponse(t, resp)
		page, ok := out.Data.(map[string]any)
		if !ok {
			t.Fatalf("data is %T, want object", out.Data)
		}
		if size, _ := page["page_size"].(float64); size != maxPageSize {
			t.Errorf("page_size = %v, want %d", page["page_size"], maxPageSize)
		}
	})

	t.Run("reports database failure as 500", func(t *testing.T) {
		srv, _, store := newTestServer(t, 100)
		store.listErr = errors.New("catalog corrupted")

		resp := get(t, srv, "/events", testStandardKey)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
		}
	})

	t.Run("lists event types", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/events/types", testStandardKey)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("usage analytics validates days", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/analytics/usage?days=0", testStandardKey)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("days=0 status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}

		resp = get(t, srv, "/analytics/usage?days=7", testStandardKey)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("days=7 status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		out := decodeResponse(t, resp)
		report, ok := out.Data.(map[string]any)
		if !ok {
			t.Fatalf("data is %T, want object", out.Data)
		}
		if days, _ := report["period_days"].(float64); days != 7 {
			t.Errorf("period_days = %v, want 7", report["period_days"])
		}
	})

	t.Run("performance analytics responds", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/analytics/performance", testStandardKey)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("liveness and readiness are unauthenticated", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		for _, path := range []string{"/health/live", "/health/ready", "/health"} {
			resp := get(t, srv, path, "")
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("%s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
			}
		}
	})

	t.Run("reports degraded when database down", func(t *testing.T) {
		srv, _, store := newTestServer(t, 100)
		store.pingErr = errors.New("connection refused")

		resp := get(t, srv, "/health", "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}
		out := decodeResponse(t, resp)
		health, ok := out.Data.(map[string]any)
		if !ok {
			t.Fatalf("data is %T, want object", out.Data)
		}
		if health["status"] != "degraded" {
			t.Errorf("health status = %v, want degraded", health["status"])
		}
	})

	t.Run("readiness fails when database down", func(t *testing.T) {
		srv, _, store := newTestServer(t, 100)
		store.pingErr = errors.New("connection refused")

		resp := get(t, srv, "/health/ready", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}
	})

	t.Run("metrics endpoint exposes prometheus text", func(t *testing.T) {
		srv, _, _ := newTestServer(t, 100)

		resp := get(t, srv, "/metrics", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})
}

func TestQueueStatusEndpoint(t *testing.T) {
	srv, q, _ := newTestServer(t, 100)

	if err := q.Enqueue(context.Background(), &models.EventEnvelope{
		EventID:           uuid.New(),
		SessionID:         1,
		EventType:         models.EventReviewStarted,
		Payload:           json.RawMessage(`{}`),
		Timestamp:         time.Now().UTC(),
		ProducerTimestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resp := get(t, srv, "/queue/status", testAdminKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	out := decodeResponse(t, resp)
	status, ok := out.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", out.Data)
	}
	if status["backend"] != queue.BackendMemory {
		t.Errorf("backend = %v, want %s", status["backend"], queue.BackendMemory)
	}
	if status["degraded"] != true {
		t.Errorf("degraded = %v, want true for memory backend", status["degraded"])
	}
	if depth, _ := status["depth"].(float64); depth != 1 {
		t.Errorf("depth = %v, want 1", status["depth"])
	}
}
