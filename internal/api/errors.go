// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package api

// Error codes returned in APIError.Code.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodeAuthorizationError  = "AUTHORIZATION_ERROR"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeQueueUnavailable    = "QUEUE_UNAVAILABLE"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeInternalError       = "INTERNAL_ERROR"
)
