// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
)

// defaultUsername owns sessions whose events carry no username in the
// payload. Clients that identify their user get proper attribution;
// everything else still lands in a queryable session.
const defaultUsername = "unknown"

// PersistEvent writes one audit event inside a single transaction:
// ensure the owning user and session rows exist, insert the event, and
// close the session when the event is review_completed. Redelivered
// events produce duplicate log rows only if the queue-level dedup
// missed them; the session bootstrap itself is idempotent.
func (db *DB) PersistEvent(ctx context.Context, env *models.EventEnvelope) error {
	start := time.Now()
	err := db.persistEvent(ctx, env)
	metrics.RecordDBQuery("INSERT", "log_events", time.Since(start), err)
	return err
}

func (db *DB) persistEvent(ctx context.Context, env *models.EventEnvelope) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	userID, err := db.ensureUser(ctx, tx, usernameFromPayload(env.Payload))
	if err != nil {
		return err
	}

	if err := db.ensureSession(ctx, tx, env.SessionID, userID, env.Timestamp); err != nil {
		return err
	}

	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO log_events (session_id, timestamp, event_type, payload)
		 VALUES (?, ?, ?, ?)`,
		env.SessionID, env.Timestamp, env.EventType, string(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if env.EventType == models.EventReviewCompleted {
		if err := db.closeSession(ctx, tx, env.SessionID, env.Timestamp); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// usernameFromPayload pulls an optional "username" field out of the
// event payload.
func usernameFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return defaultUsername
	}
	var probe struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Username == "" {
		return defaultUsername
	}
	return probe.Username
}

// ensureUser returns the id for username, inserting the row if needed.
func (db *DB) ensureUser(ctx context.Context, tx *sql.Tx, username string) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?) ON CONFLICT (username) DO NOTHING`,
		username)
	if err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup user: %w", err)
	}
	return id, nil
}

// ensureSession creates the session row if it does not exist. The first
// event seen for a session supplies its start time.
func (db *DB) ensureSession(ctx context.Context, tx *sql.Tx, sessionID, userID int64, startTime time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO review_sessions (id, user_id, start_time)
		 VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		sessionID, userID, startTime)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// closeSession stamps the session end time. GREATEST guards against a
// completion event whose timestamp predates the recorded start.
func (db *DB) closeSession(ctx context.Context, tx *sql.Tx, sessionID int64, endTime time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE review_sessions
		 SET end_time = GREATEST(start_time, CAST(? AS TIMESTAMP))
		 WHERE id = ?`,
		endTime, sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// GetSession fetches one review session.
func (db *DB) GetSession(ctx context.Context, sessionID int64) (*models.ReviewSession, error) {
	var s models.ReviewSession
	var endTime sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, start_time, end_time FROM review_sessions WHERE id = ?`,
		sessionID).Scan(&s.ID, &s.UserID, &s.StartTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	return &s, nil
}
