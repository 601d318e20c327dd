// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"testing"
)

// TestSerializerRoundTrip tests envelope encode/decode
func TestSerializerRoundTrip(t *testing.T) {
	s := NewSerializer()
	env := testEnvelope("suggestion_accepted")

	data, err := s.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	decoded, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded.EventID != env.EventID {
		t.Errorf("EventID = %v, want %v", decoded.EventID, env.EventID)
	}
	if decoded.SessionID != env.SessionID {
		t.Errorf("SessionID = %d, want %d", decoded.SessionID, env.SessionID)
	}
	if string(decoded.Payload) != string(env.Payload) {
		t.Errorf("Payload = %s, want %s", decoded.Payload, env.Payload)
	}
}

// TestSerializerRejectsInvalid tests that invalid envelopes never serialize
func TestSerializerRejectsInvalid(t *testing.T) {
	s := NewSerializer()
	env := testEnvelope("x")
	env.EventType = ""

	if _, err := s.Marshal(env); err == nil {
		t.Fatal("Marshal() = nil, want validation error")
	}
}

// TestSerializerRejectsGarbage tests decode failure on malformed bytes
func TestSerializerRejectsGarbage(t *testing.T) {
	s := NewSerializer()
	if _, err := s.Unmarshal([]byte("not json at all")); err == nil {
		t.Fatal("Unmarshal() = nil, want error")
	}
}

// TestConfigValidate tests config invariants
func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on defaults = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no URL without embedded", mutate: func(c *Config) { c.URL = ""; c.Embedded = false }},
		{name: "zero TTL", mutate: func(c *Config) { c.TTL = 0 }},
		{name: "negative buffer", mutate: func(c *Config) { c.MemoryBuffer = -1 }},
		{name: "zero max deliver", mutate: func(c *Config) { c.MaxDeliver = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
