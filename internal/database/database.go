// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package database wraps the DuckDB connection holding the audit trail.
// It owns the schema and exposes write paths for the consumer worker and
// read paths for the query endpoints.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/reviewtrail/reviewtrail/internal/logging"
)

// Config holds database connection settings.
type Config struct {
	// Path is the DuckDB file path. ":memory:" opens an in-memory
	// database, used by tests.
	Path string
	// Threads caps DuckDB's worker threads. Zero means NumCPU.
	Threads int
	// MaxMemory is DuckDB's memory limit, e.g. "1GB".
	MaxMemory string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:      "/data/reviewtrail/audit.db",
		Threads:   0,
		MaxMemory: "1GB",
	}
}

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  Config
}

// New opens the database and initializes the schema.
func New(cfg Config) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		// Parent directory must exist or DuckDB fails with ENOENT.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, numThreads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB is embedded; a single writer connection avoids write-write
	// conflicts while readers still share it safely.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn, cfg: cfg}

	if err := db.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Database ready")
	return db, nil
}

// schema is applied on every startup; all statements are idempotent.
var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_users_id START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_log_events_id START 1`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_users_id'),
		username VARCHAR NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS review_sessions (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS log_events (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_log_events_id'),
		session_id BIGINT NOT NULL REFERENCES review_sessions(id),
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR NOT NULL,
		payload JSON NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_log_events_session ON log_events(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_log_events_timestamp ON log_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_log_events_type ON log_events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_log_events_type_time ON log_events(event_type, timestamp)`,
}

func (db *DB) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Conn returns the underlying SQL database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
