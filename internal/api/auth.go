// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/reviewtrail/reviewtrail/internal/auth"
	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
)

type clientContextKey struct{}

// clientFromContext returns the authenticated client, if any.
func clientFromContext(ctx context.Context) (auth.Client, bool) {
	client, ok := ctx.Value(clientContextKey{}).(auth.Client)
	return client, ok
}

// Authenticate resolves the request's API key and stores the client in
// the context. Unauthenticated requests get a generic 401.
func (rt *Router) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := rt.authenticator.Authenticate(auth.ExtractKey(r))
		if err != nil {
			metrics.IngestRequestsTotal.WithLabelValues("unauthorized").Inc()
			respondError(w, http.StatusUnauthorized, CodeAuthenticationError,
				"Invalid or missing API key", nil)
			return
		}

		ctx := context.WithValue(r.Context(), clientContextKey{}, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin clients. Must run after Authenticate.
func (rt *Router) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := clientFromContext(r.Context())
		if !ok || client.Role != auth.RoleAdmin {
			respondError(w, http.StatusForbidden, CodeAuthorizationError,
				"Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies the per-credential sliding window quota. Rejected
// requests carry Retry-After and a structured hint so clients can back
// off precisely. Must run after Authenticate.
func (rt *Router) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := clientFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, CodeAuthenticationError,
				"Invalid or missing API key", nil)
			return
		}

		decision := rt.limiter.Check(client.Name)
		if !decision.Allowed {
			metrics.RateLimitRejections.Inc()
			metrics.IngestRequestsTotal.WithLabelValues("rate_limited").Inc()

			retryAfter := auth.RetryAfterSeconds(decision.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondJSON(w, http.StatusTooManyRequests, &models.APIResponse{
				Status: "error",
				Data: models.RateLimitInfo{
					RetryAfterSeconds: retryAfter,
					Limit:             rt.limiter.Limit(),
					WindowSeconds:     int(rt.limiter.Window() / time.Second),
				},
				Metadata: models.Metadata{Timestamp: time.Now().UTC()},
				Error: &models.APIError{
					Code:    CodeRateLimitExceeded,
					Message: "Rate limit exceeded",
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
