// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval is the semantic-search layer over the two corpora the
// co-pilot grounds its answers in: underwriting guidelines and case history
// (past claims and decisions). Results below the score floor are dropped;
// when the guideline corpus returns too little, callers fall back to a
// reference listing built from the snapshot instead.
package retrieval

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	retrievalSearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "retrieval",
		Name:      "search_total",
		Help:      "Corpus searches by corpus and outcome: ok, error",
	}, []string{"corpus", "outcome"})

	retrievalResultsKept = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "retrieval",
		Name:      "results_kept",
		Help:      "Results surviving the score floor, per search",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	}, []string{"corpus"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var retrievalTracer = otel.Tracer("riskmind.copilot.retrieval")

// Corpus names, also the Weaviate class names.
const (
	CorpusGuideline   = "Guideline"
	CorpusCaseHistory = "CaseHistory"
)

// Result kinds within the case-history corpus.
const (
	KindGuideline = "guideline"
	KindClaim     = "claim"
	KindDecision  = "decision"
)

// MinScore is the relevance floor. Matches below it are noise and are
// dropped before they can reach a prompt.
const MinScore = 0.25

// Default fan-outs per corpus.
const (
	DefaultGuidelineK = 5
	DefaultCaseK      = 4
)

// Result is one scored match from either corpus.
type Result struct {
	// Kind is guideline, claim or decision.
	Kind string `json:"kind"`
	// Section is the guideline section code, or the policy number for
	// case-history matches.
	Section string `json:"section"`
	Title   string `json:"title"`
	Content string `json:"content"`
	// Decision is set for decision-kind results (approved, declined, ...).
	Decision string `json:"decision,omitempty"`
	// Score is similarity in [0,1], higher is closer.
	Score float64 `json:"score"`
}

// Searcher is the similarity-search surface the pipeline consumes. The
// production implementation is Weaviate-backed; tests substitute fakes.
type Searcher interface {
	// SearchGuidelines returns up to k guideline matches above MinScore,
	// best first.
	SearchGuidelines(ctx context.Context, query string, k int) ([]Result, error)

	// SearchCases returns up to k case-history matches above MinScore,
	// best first. Claims and decisions share the corpus and are told apart
	// by Result.Kind.
	SearchCases(ctx context.Context, query string, k int) ([]Result, error)
}
