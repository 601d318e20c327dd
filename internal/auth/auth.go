// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package auth provides API key authentication and per-credential rate
// limiting for the ingest and query endpoints.
//
// Credentials are static API keys loaded from configuration. A key is
// presented either in the X-API-Key header or as a Bearer token. Failed
// authentication always yields the same generic error so callers cannot
// probe which keys exist.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrAuthentication is returned for every authentication failure. The
// message is deliberately generic.
var ErrAuthentication = errors.New("invalid or missing API key")

// Role describes what a client may do.
type Role string

const (
	// RoleStandard may ingest events and read query endpoints.
	RoleStandard Role = "standard"
	// RoleAdmin additionally reads operational endpoints such as
	// /queue/status.
	RoleAdmin Role = "admin"
)

// Client identifies an authenticated caller.
type Client struct {
	Name string
	Role Role
}

// Authenticator resolves API keys to clients.
type Authenticator struct {
	clients map[string]Client
}

// NewAuthenticator builds an authenticator from key-to-name maps. The
// same key appearing in both maps resolves to admin.
func NewAuthenticator(standardKeys, adminKeys map[string]string) *Authenticator {
	clients := make(map[string]Client, len(standardKeys)+len(adminKeys))
	for key, name := range standardKeys {
		clients[key] = Client{Name: name, Role: RoleStandard}
	}
	for key, name := range adminKeys {
		clients[key] = Client{Name: name, Role: RoleAdmin}
	}
	return &Authenticator{clients: clients}
}

// Authenticate resolves a raw API key to a client. Comparison is
// constant-time per candidate key so timing does not leak key prefixes.
func (a *Authenticator) Authenticate(key string) (Client, error) {
	if key == "" {
		return Client{}, ErrAuthentication
	}

	var (
		matched Client
		found   bool
	)
	for candidate, client := range a.clients {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			matched = client
			found = true
		}
	}
	if !found {
		return Client{}, ErrAuthentication
	}
	return matched, nil
}

// ExtractKey pulls the API key from a request, preferring X-API-Key and
// falling back to a Bearer token. Returns "" when neither is present.
func ExtractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
