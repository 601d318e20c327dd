// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

// Package config loads layered configuration with Koanf v2.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML
// config file, environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the Reviewtrail server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Queue    QueueConfig    `koanf:"queue"`
	Consumer ConsumerConfig `koanf:"consumer"`
	Auth     AuthConfig     `koanf:"auth"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"` // development or production
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default
	MaxMemory string `koanf:"max_memory"`
}

// QueueConfig holds NATS JetStream settings for the durable event
// queue. When Embedded is true an in-process nats-server is started.
type QueueConfig struct {
	URL             string        `koanf:"url"`
	Embedded        bool          `koanf:"embedded"`
	StoreDir        string        `koanf:"store_dir"`
	RetentionDays   int           `koanf:"retention_days"`
	DurableName     string        `koanf:"durable_name"`
	QueueGroup      string        `koanf:"queue_group"`
	AckWait         time.Duration `koanf:"ack_wait"`
	MaxDeliver      int           `koanf:"max_deliver"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
	MemoryBuffer    int64         `koanf:"memory_buffer"`
}

// ConsumerConfig holds retry policy settings for the persistence
// worker.
type ConsumerConfig struct {
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryBase     time.Duration `koanf:"retry_base"`
	RetryMax      time.Duration `koanf:"retry_max"`
}

// AuthConfig holds API key and rate limit settings. Keys are given as
// comma-separated "key:name" pairs so each credential has a stable
// identity for rate limiting and logs.
type AuthConfig struct {
	APIKeys         []string      `koanf:"api_keys"`
	AdminAPIKeys    []string      `koanf:"admin_api_keys"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. These are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/reviewtrail/audit.db",
			Threads:   0,
			MaxMemory: "1GB",
		},
		Queue: QueueConfig{
			URL:             "nats://127.0.0.1:4222",
			Embedded:        true,
			StoreDir:        "/data/reviewtrail/jetstream",
			RetentionDays:   7,
			DurableName:     "audit-consumer",
			QueueGroup:      "audit-workers",
			AckWait:         30 * time.Second,
			MaxDeliver:      5,
			DuplicateWindow: 2 * time.Minute,
			MemoryBuffer:    100_000,
		},
		Consumer: ConsumerConfig{
			RetryAttempts: 3,
			RetryBase:     5 * time.Second,
			RetryMax:      60 * time.Second,
		},
		Auth: AuthConfig{
			APIKeys:         nil,
			AdminAPIKeys:    nil,
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// KeyMap parses "key:name" credential pairs into a key-to-name map.
// A pair without a name gets a generated one so anonymous keys still
// have a stable rate limit identity.
func KeyMap(pairs []string) (map[string]string, error) {
	keys := make(map[string]string, len(pairs))
	for i, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, name, found := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("credential %d: empty key", i+1)
		}
		if !found || strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("client-%d", i+1)
		}
		keys[key] = strings.TrimSpace(name)
	}
	return keys, nil
}

// Validate checks the configuration for invalid or incoherent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Queue.RetentionDays < 1 {
		return fmt.Errorf("queue.retention_days must be at least 1, got %d", c.Queue.RetentionDays)
	}
	if c.Queue.MemoryBuffer < 1 {
		return fmt.Errorf("queue.memory_buffer must be positive, got %d", c.Queue.MemoryBuffer)
	}
	if c.Consumer.RetryAttempts < 1 {
		return fmt.Errorf("consumer.retry_attempts must be at least 1, got %d", c.Consumer.RetryAttempts)
	}
	if c.Consumer.RetryBase <= 0 || c.Consumer.RetryMax < c.Consumer.RetryBase {
		return fmt.Errorf("consumer retry delays invalid: base=%s max=%s",
			c.Consumer.RetryBase, c.Consumer.RetryMax)
	}
	if c.Auth.RateLimitReqs < 1 {
		return fmt.Errorf("auth.rate_limit_reqs must be at least 1, got %d", c.Auth.RateLimitReqs)
	}
	if c.Auth.RateLimitWindow <= 0 {
		return fmt.Errorf("auth.rate_limit_window must be positive, got %s", c.Auth.RateLimitWindow)
	}
	if _, err := KeyMap(c.Auth.APIKeys); err != nil {
		return fmt.Errorf("auth.api_keys: %w", err)
	}
	if _, err := KeyMap(c.Auth.AdminAPIKeys); err != nil {
		return fmt.Errorf("auth.admin_api_keys: %w", err)
	}
	if c.Server.Environment == "production" && len(c.Auth.APIKeys) == 0 && len(c.Auth.AdminAPIKeys) == 0 {
		return fmt.Errorf("at least one API key is required in production")
	}
	return nil
}

// RetentionTTL converts the retention setting to a duration.
func (c *QueueConfig) RetentionTTL() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
