// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package copilot is the HTTP facade over the RiskMind pipeline: request
// types, gin handlers and route registration.
package copilot

import (
	"log/slog"

	"github.com/ltm-analytics/riskmind/services/copilot/pipeline"
	"github.com/ltm-analytics/riskmind/services/copilot/providers"
)

// Service bundles the pipeline with the collaborators the HTTP layer
// reports on directly.
//
// Thread Safety: Safe for concurrent use; all fields are read-only after
// construction.
type Service struct {
	pipeline *pipeline.Pipeline
	chain    *providers.Chain
	logger   *slog.Logger
}

// NewService creates the facade. Panics on nil pipeline or chain: both are
// wiring errors.
func NewService(p *pipeline.Pipeline, chain *providers.Chain, logger *slog.Logger) *Service {
	if p == nil {
		panic("copilot: nil pipeline")
	}
	if chain == nil {
		panic("copilot: nil chain")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pipeline: p, chain: chain, logger: logger}
}
