// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reviewtrail/reviewtrail/internal/auth"
	"github.com/reviewtrail/reviewtrail/internal/middleware"
	"github.com/reviewtrail/reviewtrail/internal/queue"
)

// Router holds the handler dependencies and builds the HTTP mux.
type Router struct {
	queue         queue.Queue
	store         EventStore
	worker        WorkerStats
	authenticator *auth.Authenticator
	limiter       *auth.SlidingWindowLimiter
	version       string
}

// NewRouter constructs a Router. worker may be nil when the consumer
// runs in a separate process.
func NewRouter(q queue.Queue, store EventStore, worker WorkerStats,
	authenticator *auth.Authenticator, limiter *auth.SlidingWindowLimiter,
	version string) *Router {
	return &Router{
		queue:         q,
		store:         store,
		worker:        worker,
		authenticator: authenticator,
		limiter:       limiter,
		version:       version,
	}
}

// Setup configures all HTTP routes.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"ETag", "Retry-After", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints are unauthenticated so orchestrators can probe
	// them, with a permissive per-IP rate limit against abuse.
	r.Route("/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", rt.Health)
		r.Get("/live", rt.HealthLive)
		r.Get("/ready", rt.HealthReady)
	})

	// Prometheus scrape endpoint.
	r.Handle("/metrics", promhttp.Handler())

	// Ingest endpoint. Per-credential sliding window rate limiting on
	// top of authentication.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(rt.Authenticate)
		r.Use(rt.RateLimit)
		r.Post("/log", rt.IngestEvent)
	})

	// Read-only query and analytics endpoints. Authenticated but not
	// subject to the ingest rate limit.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(rt.Authenticate)

		r.Get("/events", rt.ListEvents)
		r.Get("/events/types", rt.ListEventTypes)
		r.Get("/analytics/usage", rt.UsageAnalytics)
		r.Get("/analytics/performance", rt.PerformanceAnalytics)
	})

	// Operational endpoints restricted to admin credentials.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(rt.Authenticate)
		r.Use(rt.RequireAdmin)

		r.Get("/queue/status", rt.QueueStatus)
	})

	return r
}
