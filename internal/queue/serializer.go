// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/reviewtrail/reviewtrail/internal/models"
)

// Serializer handles envelope encoding/decoding for queue messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts an envelope to JSON bytes, validating it first so a
// broken envelope never reaches the queue.
func (s *Serializer) Marshal(env *models.EventEnvelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("validate envelope: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	return data, nil
}

// Unmarshal converts JSON bytes to an envelope.
func (s *Serializer) Unmarshal(data []byte) (*models.EventEnvelope, error) {
	var env models.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	return &env, nil
}
