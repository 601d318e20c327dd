// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package auth

import (
	"math"
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a per-credential request quota over a
// rolling window. Each credential tracks the timestamps of its recent
// requests; timestamps older than the window are pruned lazily on the
// next check, so idle credentials cost nothing.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the oldest counted request leaves
	// the window. Zero when Allowed.
	RetryAfter time.Duration
	// Remaining is the quota left after this request.
	Remaining int
}

// NewSlidingWindowLimiter creates a limiter allowing limit requests per
// window for each credential.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

// Check records a request attempt for the credential and decides whether
// it fits the quota. Denied attempts are not recorded, so a rejected
// client does not extend its own penalty.
func (l *SlidingWindowLimiter) Check(credential string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.buckets[credential]

	// Lazy prune: drop everything that slid out of the window.
	keep := 0
	for _, ts := range times {
		if ts.After(cutoff) {
			times[keep] = ts
			keep++
		}
	}
	times = times[:keep]

	if len(times) >= l.limit {
		retryAfter := times[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.buckets[credential] = times
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	times = append(times, now)
	l.buckets[credential] = times
	return Decision{Allowed: true, Remaining: l.limit - len(times)}
}

// Limit returns the configured per-window request quota.
func (l *SlidingWindowLimiter) Limit() int {
	return l.limit
}

// Window returns the configured window duration.
func (l *SlidingWindowLimiter) Window() time.Duration {
	return l.window
}

// RetryAfterSeconds rounds a retry delay up to whole seconds for the
// Retry-After header and response body.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
