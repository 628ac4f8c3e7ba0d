// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline is the orchestrator: an eight-stage state machine that
// turns a message plus history into a ChatResponse.
//
// Stage order is fixed with one conditional branch:
//
//	route_intent → fetch_data → fetch_guidelines → fetch_knowledge
//	     → check_confidence ─┬─ (clarify needed) → clarify ──┐
//	                         └─ (otherwise)      → reason ───┤
//	                                        validate_output → format_output
//
// Every stage reads prior state fields and writes only its own. Any panic
// inside a run is caught at the boundary and converted into an error
// response; a broken stage must never take the service down with it.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
	"github.com/ltm-analytics/riskmind/services/copilot/resolver"
	"github.com/ltm-analytics/riskmind/services/copilot/retrieval"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	pipelineRunLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "pipeline",
		Name:      "run_latency_seconds",
		Help:      "End-to-end pipeline latency by terminal path",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0},
	}, []string{"path"})

	pipelineStageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "pipeline",
		Name:      "stage_latency_seconds",
		Help:      "Per-stage latency",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
	}, []string{"stage"})

	pipelineRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "pipeline",
		Name:      "recovered_panics_total",
		Help:      "Panics recovered at the pipeline boundary",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var pipelineTracer = otel.Tracer("riskmind.copilot.pipeline")

// systemPrompt instructs the model on structure, citation discipline and
// tone. Context blocks (guidelines, past cases, data) are appended per run.
const systemPrompt = `You are RiskMind, an expert AI underwriting co-pilot for LTM's commercial insurance portfolio.

## Response Structure
- **Lead with the key finding** in 1-2 sentences - bold the most critical fact (number, risk level, or policy ID)
- Use ## Section headers for multi-part responses (Risk Summary, Key Drivers, Recommendation)
- Use markdown **tables** when comparing 3+ items (policies, industries, claims by type)
- Use bullet points for lists of risk factors, drivers, or action items
- End actionable queries with a ## Recommendation section
- **Target length**: 150-350 words for most queries; only longer if the data requires it
- No filler phrases ("Certainly!", "Great question!", "Of course!") - be direct and professional

## Data & Citation Rules
- Use ONLY the numbers from DATABASE CONTEXT - never invent or approximate data
- Cite guideline section codes inline, e.g. *(Section 4.1 - High-Risk Threshold)*
- Mention the specific policy number, claim ID, or industry in every data-driven response
- Loss ratio benchmarks: **>80%** = HIGH RISK (surcharge/decline), **60-80%** = MODERATE (review), **<60%** = Acceptable
- Risk thresholds: >=5 claims OR >=$100K total loss = **HIGH**; >=3 claims OR >=$50K = **MEDIUM**; otherwise = **LOW**

## Tone
- Professional, precise, and actionable - write for an experienced underwriter
- Flag critical risks prominently (use **HIGH RISK** or **Alert** in the heading)
- For portfolio or industry queries, always include a comparative insight (which sector has worst/best loss ratio)
- For specific policy queries, always state the final risk verdict and next action`

// historyReplayDepth bounds how many prior turns are replayed to the model.
const historyReplayDepth = 20

// mediaAnalysisCap bounds external analyzer calls per run.
const mediaAnalysisCap = 2

// DataStore is the relational collaborator: snapshot plus plan execution.
type DataStore interface {
	Snapshot(ctx context.Context) (*datatypes.Snapshot, error)
	ExecutePlan(ctx context.Context, plan datatypes.QueryPlan) ([]*store.QueryResult, error)
}

// Generator is the chat-completion collaborator. Satisfied by
// *providers.Chain; returns the winning backend's name alongside the text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, messages []datatypes.Message) (string, string, error)
	Len() int
}

// MediaAnalyzer is the optional vision/document collaborator, invoked only
// under the explicit evidence+analysis keyword gate.
type MediaAnalyzer interface {
	Analyze(ctx context.Context, fileRef, prompt string) (string, error)
}

// Pipeline wires the stages together.
//
// Thread Safety: Safe for concurrent Run calls; all fields are read-only
// after construction and per-run state lives on the State value.
type Pipeline struct {
	router   *intent.Router
	resolver *resolver.Resolver
	store    DataStore
	searcher retrieval.Searcher
	chain    Generator
	media    MediaAnalyzer
	logger   *slog.Logger
}

// Options configures New. Router, Resolver, Store, Searcher and Chain are
// required; Media is optional (nil disables media analysis).
type Options struct {
	Router   *intent.Router
	Resolver *resolver.Resolver
	Store    DataStore
	Searcher retrieval.Searcher
	Chain    Generator
	Media    MediaAnalyzer
	Logger   *slog.Logger
}

// New builds a pipeline. Panics on missing required collaborators: this is
// a wiring error, not a runtime condition.
func New(opts Options) *Pipeline {
	if opts.Router == nil {
		panic("pipeline: nil router")
	}
	if opts.Resolver == nil {
		panic("pipeline: nil resolver")
	}
	if opts.Store == nil {
		panic("pipeline: nil store")
	}
	if opts.Searcher == nil {
		panic("pipeline: nil searcher")
	}
	if opts.Chain == nil {
		panic("pipeline: nil chain")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		router:   opts.Router,
		resolver: opts.Resolver,
		store:    opts.Store,
		searcher: opts.Searcher,
		chain:    opts.Chain,
		media:    opts.Media,
		logger:   logger,
	}
}

// Run executes the full pipeline for one message.
//
// Description:
//
//	Stages run strictly in order; the only branch is clarify-vs-reason
//	after confidence checking. A panic anywhere inside is recovered and
//	converted into an error-provider response. Run never returns nil.
//
// Inputs:
//   - ctx: Context for cancellation; provider and store calls honor it.
//   - message: Raw user message.
//   - history: Prior conversation turns, oldest first. May be nil.
//
// Outputs:
//   - *datatypes.ChatResponse: The complete response payload.
func (p *Pipeline) Run(ctx context.Context, message string, history []datatypes.Message) (resp *datatypes.ChatResponse) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := pipelineTracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	defer func() {
		if r := recover(); r != nil {
			pipelineRecoveredTotal.Inc()
			p.logger.Error("pipeline panic recovered",
				slog.String("request_id", requestID),
				slog.Any("panic", r))
			resp = &datatypes.ChatResponse{
				Text:        "Something went wrong while processing your request. Please try again.",
				Provider:    "error",
				OutputShape: datatypes.ShapeAnalysis,
			}
			pipelineRunLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		}
	}()

	st := &State{
		RequestID: requestID,
		Message:   message,
		History:   history,
	}

	p.stage(ctx, "route_intent", st, p.routeIntent)
	p.stage(ctx, "fetch_data", st, p.fetchData)
	p.stage(ctx, "fetch_guidelines", st, p.fetchGuidelines)
	p.stage(ctx, "fetch_knowledge", st, p.fetchKnowledge)
	p.stage(ctx, "check_confidence", st, p.checkConfidence)

	path := "reason"
	if st.ClarifyNeeded {
		path = "clarify"
		p.stage(ctx, "clarify", st, p.clarify)
	} else {
		p.stage(ctx, "reason", st, p.reason)
	}

	p.stage(ctx, "validate_output", st, p.validateOutput)
	p.stage(ctx, "format_output", st, p.formatOutput)

	span.SetAttributes(
		attribute.String("intent", string(st.Payload.Intent)),
		attribute.String("path", path),
		attribute.Int("confidence", st.Confidence),
	)
	pipelineRunLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	return st.Final
}

func (p *Pipeline) stage(ctx context.Context, name string, st *State, fn func(ctx context.Context, st *State)) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline."+name)
	defer span.End()
	start := time.Now()
	fn(ctx, st)
	pipelineStageLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
