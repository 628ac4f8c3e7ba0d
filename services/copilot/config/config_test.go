// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "riskmind.db", cfg.DatabasePath)
	assert.Equal(t, "localhost:8081", cfg.WeaviateHost)
	assert.Equal(t, "http", cfg.WeaviateScheme)
	assert.Empty(t, cfg.CacheDir)
	assert.Equal(t, 10, cfg.GenerationsPerMinute)
	assert.Equal(t, 15*time.Second, cfg.GenerationTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvListenAddr, "0.0.0.0:9090")
	t.Setenv(EnvWeaviateHost, "weaviate.internal:8082")
	t.Setenv(EnvWeaviateScheme, "https")
	t.Setenv(EnvGenPerMinute, "30")
	t.Setenv(EnvGenTimeout, "45s")
	t.Setenv(EnvCacheDir, "/var/lib/riskmind/cache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "weaviate.internal:8082", cfg.WeaviateHost)
	assert.Equal(t, "https", cfg.WeaviateScheme)
	assert.Equal(t, 30, cfg.GenerationsPerMinute)
	assert.Equal(t, 45*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, "/var/lib/riskmind/cache", cfg.CacheDir)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		env   string
		value string
	}{
		{"non-numeric rate", EnvGenPerMinute, "fast"},
		{"malformed timeout", EnvGenTimeout, "45 seconds"},
		{"unknown scheme", EnvWeaviateScheme, "gopher"},
		{"host without port", EnvWeaviateHost, "weaviate.internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_RateBounds(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.GenerationsPerMinute = 601
	assert.Error(t, cfg.Validate())

	cfg.GenerationsPerMinute = 0
	assert.NoError(t, cfg.Validate())
}
