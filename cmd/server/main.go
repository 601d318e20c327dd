// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package main is the entry point for the Reviewtrail server.
//
// Reviewtrail captures audit events from code review tooling through an
// authenticated HTTP ingest endpoint, buffers them in a durable NATS
// JetStream queue, and persists them asynchronously to DuckDB. Query
// and analytics endpoints read from the database; Prometheus metrics
// are exposed on /metrics.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 (defaults, YAML file, env vars)
//  2. Database: DuckDB with the audit schema
//  3. Queue: embedded NATS JetStream, in-memory fallback on failure
//  4. Consumer: persistence worker with retry and dead-letter handling
//  5. HTTP Server: ingest, query, analytics, health, and metrics routes
//
// Components run under a suture supervisor tree so a crash in the
// pipeline layer restarts the worker without taking down the API.
//
// # Configuration
//
// Key environment variables (see internal/config for the full set):
//   - SERVER_PORT: HTTP listen port (default: 8080)
//   - DATABASE_PATH: DuckDB file path (default: /data/reviewtrail/audit.db)
//   - NATS_URL: external NATS server URL (default: embedded server)
//   - QUEUE_RETENTION_DAYS: queued event TTL in days (default: 7)
//   - AUTH_API_KEYS: comma-separated "key:name" credentials
//   - AUTH_ADMIN_API_KEYS: credentials with access to /queue/status
//   - RATE_LIMIT_REQS / RATE_LIMIT_WINDOW: per-credential ingest quota
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the consumer drains already
// delivered messages, then the queue and database are closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/reviewtrail/reviewtrail/internal/api"
	"github.com/reviewtrail/reviewtrail/internal/auth"
	"github.com/reviewtrail/reviewtrail/internal/config"
	"github.com/reviewtrail/reviewtrail/internal/consumer"
	"github.com/reviewtrail/reviewtrail/internal/database"
	"github.com/reviewtrail/reviewtrail/internal/logging"
	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/queue"
	"github.com/reviewtrail/reviewtrail/internal/supervisor"
	"github.com/reviewtrail/reviewtrail/internal/supervisor/services"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", Version).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Reviewtrail")

	metrics.AppInfo.WithLabelValues(Version, runtime.Version()).Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database.
	db, err := database.New(database.Config{
		Path:      cfg.Database.Path,
		Threads:   cfg.Database.Threads,
		MaxMemory: cfg.Database.MaxMemory,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Database close failed")
		}
	}()
	logging.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Queue. Open falls back to the in-memory backend when NATS cannot
	// be reached, so ingest stays available in degraded mode.
	queueCfg := queue.DefaultConfig()
	queueCfg.URL = cfg.Queue.URL
	queueCfg.Embedded = cfg.Queue.Embedded
	queueCfg.StoreDir = cfg.Queue.StoreDir
	queueCfg.TTL = cfg.Queue.RetentionTTL()
	queueCfg.DurableName = cfg.Queue.DurableName
	queueCfg.QueueGroup = cfg.Queue.QueueGroup
	queueCfg.AckWait = cfg.Queue.AckWait
	queueCfg.MaxDeliver = cfg.Queue.MaxDeliver
	queueCfg.DuplicateWindow = cfg.Queue.DuplicateWindow
	queueCfg.MemoryBuffer = cfg.Queue.MemoryBuffer

	q, err := queue.Open(queueCfg, logging.NewWatermillAdapter())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event queue")
	}
	defer func() {
		if err := q.Close(); err != nil {
			logging.Error().Err(err).Msg("Queue close failed")
		}
	}()
	logging.Info().
		Str("backend", q.Backend()).
		Bool("degraded", q.Degraded()).
		Msg("Event queue ready")

	// Consumer worker.
	worker := consumer.NewWorker(q, db, consumer.RetryPolicy{
		MaxAttempts: cfg.Consumer.RetryAttempts,
		BaseDelay:   cfg.Consumer.RetryBase,
		Multiplier:  2,
		MaxDelay:    cfg.Consumer.RetryMax,
	})

	// Authentication and rate limiting.
	standardKeys, err := config.KeyMap(cfg.Auth.APIKeys)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid API keys")
	}
	adminKeys, err := config.KeyMap(cfg.Auth.AdminAPIKeys)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid admin API keys")
	}
	if len(standardKeys) == 0 && len(adminKeys) == 0 {
		logging.Warn().Msg("No API keys configured, all requests will be rejected")
	}
	authenticator := auth.NewAuthenticator(standardKeys, adminKeys)
	limiter := auth.NewSlidingWindowLimiter(cfg.Auth.RateLimitReqs, cfg.Auth.RateLimitWindow)

	// HTTP server.
	router := api.NewRouter(q, db, worker, authenticator, limiter, Version)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(worker)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Uptime gauge.
	started := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.AppUptime.Set(time.Since(started).Seconds())
			}
		}
	}()

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}
