// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import "errors"

// ErrQueueUnavailable is returned when no backend can accept events.
// The ingest endpoint maps it to 503.
var ErrQueueUnavailable = errors.New("event queue unavailable")

// ErrQueueClosed is returned when operating on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// ErrInvalidConfig is returned when configuration is invalid.
var ErrInvalidConfig = errors.New("invalid queue configuration")
