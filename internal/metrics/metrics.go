// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Ingest endpoint throughput and outcomes
// - Queue depth and publish failures
// - Consumer processing latency, retries, and dead letters
// - Database query performance (DuckDB)
// - API endpoint latency and throughput

var (
	// Ingest Metrics
	IngestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "Total number of ingest requests by outcome",
		},
		[]string{"outcome"}, // "accepted", "unauthorized", "rate_limited", "invalid", "queue_unavailable"
	)

	IngestRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_request_duration_seconds",
			Help:    "Duration of ingest request handling in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events accepted for queueing",
		},
		[]string{"event_type"},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by the sliding window rate limiter",
		},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of events waiting in the queue",
		},
	)

	QueuePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_publishes_total",
			Help: "Total number of queue publish attempts by result",
		},
		[]string{"backend", "result"}, // backend: "nats", "memory"; result: "success", "failure", "rejected"
	)

	QueueDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_degraded",
			Help: "Whether the queue is running on the in-memory fallback backend (1) or NATS (0)",
		},
	)

	QueueExpiredEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_expired_events_total",
			Help: "Total number of events dropped at dequeue because their TTL elapsed",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Consumer Metrics
	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_processing_duration_seconds",
			Help:    "Duration of consumer event processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventDeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_delivery_latency_seconds",
			Help:    "Latency from enqueue to successful persistence in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	ConsumerEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumer_events_processed_total",
			Help: "Total number of events successfully persisted",
		},
	)

	ConsumerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumer_retries_total",
			Help: "Total number of consumer retry attempts",
		},
	)

	ConsumerDeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_dead_letters_total",
			Help: "Total number of events dead-lettered after exhausting retries",
		},
		[]string{"category"}, // connection, timeout, validation, database, unknown
	)

	ConsumerParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumer_parse_failures_total",
			Help: "Total number of queue messages that failed to parse",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordIngest records an ingest request outcome and its handling duration.
func RecordIngest(outcome string, duration time.Duration) {
	IngestRequestsTotal.WithLabelValues(outcome).Inc()
	IngestRequestDuration.Observe(duration.Seconds())
}

// RecordEventAccepted records an event accepted for queueing.
func RecordEventAccepted(eventType string) {
	AuditEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordQueuePublish records a publish attempt against a queue backend.
func RecordQueuePublish(backend string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	QueuePublishes.WithLabelValues(backend, result).Inc()
}

// UpdateQueueDepth updates the queue depth gauge.
func UpdateQueueDepth(depth int64) {
	QueueDepth.Set(float64(depth))
}

// SetQueueDegraded flags whether the in-memory fallback backend is active.
func SetQueueDegraded(degraded bool) {
	if degraded {
		QueueDegraded.Set(1)
	} else {
		QueueDegraded.Set(0)
	}
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordDeadLetter records an event dead-lettered after exhausting retries.
func RecordDeadLetter(category string) {
	ConsumerDeadLetters.WithLabelValues(category).Inc()
}

// RecordProcessed records a successfully persisted event, including the
// latency from the moment it was enqueued.
func RecordProcessed(processingDuration time.Duration, enqueuedAt time.Time) {
	ConsumerEventsProcessed.Inc()
	EventProcessingDuration.Observe(processingDuration.Seconds())
	if !enqueuedAt.IsZero() {
		EventDeliveryLatency.Observe(time.Since(enqueuedAt).Seconds())
	}
}
