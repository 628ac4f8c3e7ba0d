// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads service configuration from the environment.
// Provider credentials are read separately by the provider factory; this
// package only covers service-level settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment variable names.
const (
	EnvListenAddr      = "RISKMIND_LISTEN_ADDR"
	EnvDatabasePath    = "RISKMIND_DATABASE_PATH"
	EnvWeaviateHost    = "RISKMIND_WEAVIATE_HOST"
	EnvWeaviateScheme  = "RISKMIND_WEAVIATE_SCHEME"
	EnvCacheDir        = "RISKMIND_CACHE_DIR"
	EnvGenPerMinute    = "RISKMIND_GENERATIONS_PER_MINUTE"
	EnvGenTimeout      = "RISKMIND_GENERATION_TIMEOUT"
	EnvShutdownTimeout = "RISKMIND_SHUTDOWN_TIMEOUT"
)

// Defaults.
const (
	defaultListenAddr      = ":8080"
	defaultDatabasePath    = "riskmind.db"
	defaultWeaviateHost    = "localhost:8081"
	defaultWeaviateScheme  = "http"
	defaultGenPerMinute    = 10
	defaultGenTimeout      = 15 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the service-level settings.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `validate:"required,hostname_port"`

	// DatabasePath is the SQLite file backing the read side.
	DatabasePath string `validate:"required"`

	// WeaviateHost and WeaviateScheme locate the retrieval backend.
	WeaviateHost   string `validate:"required,hostname_port"`
	WeaviateScheme string `validate:"required,oneof=http https"`

	// CacheDir holds the persistent generation cache. Empty disables
	// persistence; the cache then lives in memory only.
	CacheDir string

	// GenerationsPerMinute throttles the generative query tier.
	GenerationsPerMinute int `validate:"gte=0,lte=600"`

	// GenerationTimeout bounds a single generative model call.
	GenerationTimeout time.Duration `validate:"gt=0"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Load reads configuration from the environment, applies defaults, and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           envOr(EnvListenAddr, defaultListenAddr),
		DatabasePath:         envOr(EnvDatabasePath, defaultDatabasePath),
		WeaviateHost:         envOr(EnvWeaviateHost, defaultWeaviateHost),
		WeaviateScheme:       envOr(EnvWeaviateScheme, defaultWeaviateScheme),
		CacheDir:             os.Getenv(EnvCacheDir),
		GenerationsPerMinute: defaultGenPerMinute,
		GenerationTimeout:    defaultGenTimeout,
		ShutdownTimeout:      defaultShutdownTimeout,
	}

	if raw := os.Getenv(EnvGenPerMinute); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s %q: %w", EnvGenPerMinute, raw, err)
		}
		cfg.GenerationsPerMinute = n
	}
	if d, err := envDuration(EnvGenTimeout); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.GenerationTimeout = d
	}
	if d, err := envDuration(EnvShutdownTimeout); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.ShutdownTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct against its constraint tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
