// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/reviewtrail/reviewtrail/internal/metrics"
)

// Open returns the best available queue backend: NATS when it can be
// reached, the in-process fallback otherwise. Startup never fails on a
// missing broker; the degraded state is surfaced through Degraded(),
// /health, and the queue_degraded metric instead.
func Open(cfg Config, logger watermill.LoggerAdapter) (Queue, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	nq, err := NewNATSQueue(cfg, logger)
	if err == nil {
		metrics.SetQueueDegraded(false)
		logger.Info("Queue backend ready", watermill.LogFields{
			"backend": BackendNATS,
		})
		return nq, nil
	}

	logger.Error("NATS unavailable, falling back to in-memory queue", err, nil)

	mq, merr := NewMemoryQueue(cfg, logger)
	if merr != nil {
		return nil, merr
	}
	metrics.SetQueueDegraded(true)
	logger.Info("Queue backend ready", watermill.LogFields{
		"backend": BackendMemory,
	})
	return mq, nil
}
