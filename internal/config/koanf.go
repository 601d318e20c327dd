// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reviewtrail/config.yaml",
	"/etc/reviewtrail/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are fields parsed as comma-separated lists when set
// from the environment.
var sliceConfigPaths = []string{
	"auth.api_keys",
	"auth.admin_api_keys",
}

// processSliceFields splits comma-separated env values into slices.
// Values already provided as slices by the YAML file are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf paths.
//
// Examples:
//   - SERVER_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - NATS_URL -> queue.url
//   - AUTH_API_KEYS -> auth.api_keys
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"server_host":         "server.host",
		"server_port":         "server.port",
		"http_port":           "server.port",
		"server_timeout":      "server.timeout",
		"environment":         "server.environment",
		"database_path":       "database.path",
		"duckdb_path":         "database.path",
		"database_threads":    "database.threads",
		"database_max_memory": "database.max_memory",

		"nats_url":               "queue.url",
		"nats_embedded":          "queue.embedded",
		"nats_store_dir":         "queue.store_dir",
		"queue_retention_days":   "queue.retention_days",
		"queue_durable_name":     "queue.durable_name",
		"queue_group":            "queue.queue_group",
		"queue_ack_wait":         "queue.ack_wait",
		"queue_max_deliver":      "queue.max_deliver",
		"queue_duplicate_window": "queue.duplicate_window",
		"queue_memory_buffer":    "queue.memory_buffer",

		"consumer_retry_attempts": "consumer.retry_attempts",
		"consumer_retry_base":     "consumer.retry_base",
		"consumer_retry_max":      "consumer.retry_max",

		"auth_api_keys":       "auth.api_keys",
		"auth_admin_api_keys": "auth.admin_api_keys",
		"rate_limit_reqs":     "auth.rate_limit_reqs",
		"rate_limit_window":   "auth.rate_limit_window",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are ignored so unrelated environment noise
	// cannot override configuration.
	return ""
}
