// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolver turns a classified intent into a validated, read-only
// query plan. Resolution is tiered: deterministic templates, then the
// curated library, then model generation, each strictly cheaper and safer
// than the next. The first tier that matches wins; the generative tier is
// reached only when everything cheaper missed.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	resolverTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "resolver",
		Name:      "tier_total",
		Help:      "Plans produced by tier: template, library, generative, none",
	}, []string{"tier"})

	resolverGenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "resolver",
		Name:      "generation_latency_seconds",
		Help:      "Latency of generative-tier model calls",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	resolverRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "resolver",
		Name:      "rejected_total",
		Help:      "Generated statements rejected by the validator, by reason class",
	}, []string{"reason"})

	resolverCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "resolver",
		Name:      "cache_total",
		Help:      "Generation cache outcomes: memory_hit, store_hit, miss",
	}, []string{"outcome"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var resolverTracer = otel.Tracer("riskmind.copilot.resolver")

// =============================================================================
// Resolver
// =============================================================================

// defaultGenerationTimeout bounds a single generative-tier model call.
const defaultGenerationTimeout = 15 * time.Second

// ChatCompleter is the narrow slice of the provider chain the resolver
// needs: one prompt in, one text reply out.
type ChatCompleter interface {
	// Generate produces a completion for the system prompt plus messages.
	Generate(ctx context.Context, systemPrompt string, messages []datatypes.Message) (string, error)

	// Name identifies the backend for logging and provenance.
	Name() string
}

// Resolver produces query plans from classified intents.
//
// Description:
//
//	Entity-scoped intents (policy/claim specific) always produce a fixed
//	plan: an aggregate summary joined across the related tables plus a
//	recency-ordered detail listing. Portfolio-scoped intents produce an
//	aggregate-only plan. The ad-hoc path runs the tier ladder.
//
// Thread Safety: Safe for concurrent use. The generation cache is the only
// mutable state and is internally synchronized.
type Resolver struct {
	library   *Library
	cache     *GenerationCache
	store     GenerationCacheStore // nil disables persistence
	completer ChatCompleter        // nil disables the generative tier
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
}

// Options configures a Resolver.
type Options struct {
	// Library is the curated statement set. Nil loads the embedded default.
	Library *Library

	// Cache is the in-memory generation cache. Nil creates a default-sized one.
	Cache *GenerationCache

	// Store persists generated statements across restarts. Nil disables
	// persistence (in-memory-only mode).
	Store GenerationCacheStore

	// Completer is the generative backend. Nil disables tier 3; misses fall
	// through to the no-provider plan.
	Completer ChatCompleter

	// GenerationsPerMinute throttles tier-3 calls. Zero or negative means
	// no throttle.
	GenerationsPerMinute int

	// GenerationTimeout bounds a single model call. Zero uses the default (15s).
	GenerationTimeout time.Duration

	// Logger for tier decisions. Nil falls back to slog.Default().
	Logger *slog.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.Library == nil {
		opts.Library = DefaultLibrary()
	}
	if opts.Cache == nil {
		opts.Cache = NewGenerationCache(0)
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.GenerationsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.GenerationsPerMinute)/60.0), opts.GenerationsPerMinute)
	}

	return &Resolver{
		library:   opts.Library,
		cache:     opts.Cache,
		store:     opts.Store,
		completer: opts.Completer,
		limiter:   limiter,
		timeout:   opts.GenerationTimeout,
		logger:    opts.Logger,
	}
}

// Library exposes the loaded curated library, for documentation endpoints.
func (r *Resolver) Library() *Library { return r.library }

// Resolve produces a query plan for a classified message.
//
// Description:
//
//	Entity and portfolio intents map to fixed plans. The ad-hoc intent runs
//	the tier ladder: deterministic templates, curated library, generation
//	cache, model generation, and finally the no-provider fallback. Every
//	outcome is a valid plan; failures surface as provenance notes, never as
//	errors, so the pipeline always has something to execute.
//
// Inputs:
//   - ctx: Cancellation and timeout boundary for the generative tier.
//   - payload: The routed intent.
//   - message: The raw user message, for template/library/generative matching.
//
// Outputs:
//   - datatypes.QueryPlan: The resolved plan. Items may be empty on the
//     no-provider and rejection paths; provenance notes say why.
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, payload datatypes.IntentPayload, message string) datatypes.QueryPlan {
	ctx, span := resolverTracer.Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("intent", string(payload.Intent)))

	var plan datatypes.QueryPlan
	switch payload.Intent {
	case datatypes.IntentPolicyRiskSummary:
		if payload.Entities.PolicyNumber != "" {
			plan = policyPlan(payload.Entities.PolicyNumber)
			break
		}
		plan = portfolioPlan()
	case datatypes.IntentClaimSummary:
		if payload.Entities.ClaimNumber != "" {
			plan = claimPlan(payload.Entities.ClaimNumber)
			break
		}
		plan = portfolioPlan()
	case datatypes.IntentGeoRisk:
		plan = geoPlan()
	case datatypes.IntentAdHocQuery:
		plan = r.resolveAdHoc(ctx, payload, message)
	default:
		plan = portfolioPlan()
	}

	span.SetAttributes(
		attribute.String("tier", plan.Provenance.GenerationTier.String()),
		attribute.Int("items", len(plan.Items)),
	)
	resolverTierTotal.WithLabelValues(plan.Provenance.GenerationTier.String()).Inc()
	r.logger.Debug("plan resolved",
		slog.String("intent", string(payload.Intent)),
		slog.String("tier", plan.Provenance.GenerationTier.String()),
		slog.Any("query_ids", plan.Provenance.QueryIDs),
	)
	return plan
}

// resolveAdHoc runs the tier ladder for unstructured queries.
func (r *Resolver) resolveAdHoc(ctx context.Context, payload datatypes.IntentPayload, message string) datatypes.QueryPlan {
	// Tier 1: deterministic templates.
	if tpl := tryTemplate(message); tpl != nil {
		tables, err := validateSQL(tpl.Statement)
		if err != nil {
			// Templates are fixed text; a validation failure is a defect.
			panic("resolver: template failed validation: " + tpl.ID)
		}
		return planFromStatement(tpl.ID, tpl.Statement, nil, tables, tpl.ChartType, datatypes.TierTemplate, nil)
	}

	// Tier 2: curated library.
	if entry := r.library.Match(message); entry != nil {
		params, ok := bindParams(entry, payload.Entities)
		if ok {
			tables, err := validateSQL(entry.Statement)
			if err != nil {
				panic("resolver: library entry failed validation: " + entry.ID)
			}
			return planFromStatement(entry.ID, entry.Statement, params, tables, entry.ChartType, datatypes.TierLibrary, nil)
		}
		// Entry needs a parameter no entity supplies; fall through.
	}

	// Tier 3: generative, fronted by the two-level cache.
	return r.resolveGenerative(ctx, message)
}

// resolveGenerative checks the memory cache, then the persistent store,
// then calls the model. All failure modes degrade to a plan with empty
// items and an explanatory provenance note.
func (r *Resolver) resolveGenerative(ctx context.Context, message string) datatypes.QueryPlan {
	key := NormalizeCacheKey(message)

	if cached, ok := r.cache.Get(key); ok {
		resolverCacheTotal.WithLabelValues("memory_hit").Inc()
		return planFromStatement("generated_sql", cached.Statement, nil, cached.Tables, "table", datatypes.TierGenerative, []string{"cache_hit"})
	}

	hash := HashMessage(message)
	if r.store != nil {
		cached, ok, err := r.store.LoadSQL(ctx, hash)
		if err != nil {
			r.logger.Warn("sql cache store load failed", slog.String("error", err.Error()))
		} else if ok {
			resolverCacheTotal.WithLabelValues("store_hit").Inc()
			r.cache.Put(key, cached)
			return planFromStatement("generated_sql", cached.Statement, nil, cached.Tables, "table", datatypes.TierGenerative, []string{"cache_hit"})
		}
	}
	resolverCacheTotal.WithLabelValues("miss").Inc()

	if r.completer == nil {
		return emptyPlan(datatypes.TierNone, "no_sql/no_provider")
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return emptyPlan(datatypes.TierNone, "generation_throttled")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	raw, err := r.completer.Generate(callCtx, generationPrompt(), []datatypes.Message{
		{Role: datatypes.RoleUser, Content: message},
	})
	resolverGenerationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Warn("sql generation failed",
			slog.String("provider", r.completer.Name()),
			slog.String("error", err.Error()),
		)
		return emptyPlan(datatypes.TierNone, "generation_failed")
	}

	sql := cleanSQL(raw)
	tables, err := validateSQL(sql)
	if err != nil {
		var verr *ValidationError
		reason := "invalid"
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		resolverRejectedTotal.WithLabelValues(rejectClass(reason)).Inc()
		r.logger.Warn("generated sql rejected",
			slog.String("provider", r.completer.Name()),
			slog.String("reason", reason),
		)
		return emptyPlan(datatypes.TierNone, "sql_rejected: "+reason)
	}

	value := GeneratedSQL{Statement: sql, Tables: tables}
	r.cache.Put(key, value)
	if r.store != nil {
		if err := r.store.SaveSQL(ctx, hash, value); err != nil {
			r.logger.Warn("sql cache store save failed", slog.String("error", err.Error()))
		}
	}
	return planFromStatement("generated_sql", sql, nil, tables, "table", datatypes.TierGenerative, nil)
}

// rejectClass buckets a rejection reason for the metric label.
func rejectClass(reason string) string {
	switch {
	case reason == "only SELECT statements are allowed":
		return "not_select"
	case len(reason) >= 6 && reason[:6] == "unsafe":
		return "unsafe_keyword"
	default:
		return "disallowed_table"
	}
}

// bindParams fills a library entry's required parameters from the resolved
// entities. Returns false when a required parameter has no value.
func bindParams(entry *LibraryEntry, entities datatypes.Entities) (map[string]any, bool) {
	if len(entry.Params) == 0 {
		return nil, true
	}
	params := make(map[string]any, len(entry.Params))
	for name := range entry.Params {
		switch name {
		case "policy_number":
			if entities.PolicyNumber == "" {
				return nil, false
			}
			params[name] = entities.PolicyNumber
		case "claim_number":
			if entities.ClaimNumber == "" {
				return nil, false
			}
			params[name] = entities.ClaimNumber
		default:
			return nil, false
		}
	}
	return params, true
}

// =============================================================================
// Fixed Plans
// =============================================================================

// policyPlan is the fixed two-query plan for policy-scoped intents: an
// aggregate summary joined across claims, then a recency-ordered claim
// listing.
func policyPlan(policyNumber string) datatypes.QueryPlan {
	params := map[string]any{"policy_number": policyNumber}
	items := []datatypes.QueryItem{
		{
			ID: "policy_summary",
			Statement: `SELECT p.policy_number, p.policyholder_name, p.industry_type, p.premium,
       COUNT(c.id) AS claim_count,
       COALESCE(SUM(c.claim_amount), 0) AS total_amount,
       COALESCE(AVG(c.claim_amount), 0) AS avg_amount,
       COALESCE(MAX(c.claim_amount), 0) AS max_claim
FROM policies p
LEFT JOIN claims c ON p.id = c.policy_id
WHERE p.policy_number = :policy_number
GROUP BY p.id`,
			Parameters: params,
			SourceTier: datatypes.TierTemplate,
			ChartType:  "card",
		},
		{
			ID: "policy_claims",
			Statement: `SELECT c.claim_number, c.claim_date, c.claim_amount, c.claim_type, c.status, c.evidence_files
FROM claims c
JOIN policies p ON p.id = c.policy_id
WHERE p.policy_number = :policy_number
ORDER BY c.claim_date DESC`,
			Parameters: params,
			SourceTier: datatypes.TierTemplate,
			ChartType:  "table",
		},
	}
	return datatypes.QueryPlan{
		Items: items,
		Provenance: datatypes.PlanProvenance{
			TablesUsed:     []string{"claims", "policies"},
			JoinPaths:      []string{JoinPath("policies", "claims")},
			QueryIDs:       queryIDs(items),
			GenerationTier: datatypes.TierTemplate,
		},
	}
}

// claimPlan is the fixed detail plan for claim-scoped intents.
func claimPlan(claimNumber string) datatypes.QueryPlan {
	items := []datatypes.QueryItem{
		{
			ID: "claim_detail",
			Statement: `SELECT c.claim_number, c.claim_date, c.claim_amount, c.claim_type, c.status, c.evidence_files,
       p.policy_number, p.policyholder_name, p.premium
FROM claims c
JOIN policies p ON p.id = c.policy_id
WHERE c.claim_number = :claim_number`,
			Parameters: map[string]any{"claim_number": claimNumber},
			SourceTier: datatypes.TierTemplate,
			ChartType:  "card",
		},
	}
	return datatypes.QueryPlan{
		Items: items,
		Provenance: datatypes.PlanProvenance{
			TablesUsed:     []string{"claims", "policies"},
			JoinPaths:      []string{JoinPath("claims", "policies")},
			QueryIDs:       queryIDs(items),
			GenerationTier: datatypes.TierTemplate,
		},
	}
}

// portfolioPlan is the aggregate-only plan for portfolio-scoped intents.
func portfolioPlan() datatypes.QueryPlan {
	items := []datatypes.QueryItem{
		{
			ID: "portfolio_summary",
			Statement: `SELECT COUNT(*) AS policy_count,
       COALESCE(SUM(premium), 0) AS total_premium
FROM policies`,
			SourceTier: datatypes.TierTemplate,
			ChartType:  "metric",
		},
		{
			ID: "portfolio_claims",
			Statement: `SELECT COUNT(*) AS claim_count,
       COALESCE(SUM(claim_amount), 0) AS total_amount,
       COALESCE(AVG(claim_amount), 0) AS avg_amount,
       COALESCE(MAX(claim_amount), 0) AS max_claim
FROM claims`,
			SourceTier: datatypes.TierTemplate,
			ChartType:  "metric",
		},
	}
	return datatypes.QueryPlan{
		Items: items,
		Provenance: datatypes.PlanProvenance{
			TablesUsed:     []string{"claims", "policies"},
			QueryIDs:       queryIDs(items),
			GenerationTier: datatypes.TierTemplate,
		},
	}
}

// geoPlan lists located policies with a computed risk label for map
// rendering.
func geoPlan() datatypes.QueryPlan {
	items := []datatypes.QueryItem{
		{
			ID: "geo_policies",
			Statement: `SELECT p.policy_number, p.policyholder_name, p.industry_type, p.premium,
       p.latitude, p.longitude,
       COUNT(c.id) AS claim_count,
       COALESCE(SUM(c.claim_amount), 0) AS total_claims,
       CASE WHEN COUNT(c.id) >= 5 OR COALESCE(SUM(c.claim_amount), 0) >= 100000 THEN 'high'
            WHEN COUNT(c.id) BETWEEN 2 AND 4 THEN 'medium'
            ELSE 'low' END AS risk_level
FROM policies p
LEFT JOIN claims c ON p.id = c.policy_id
WHERE p.latitude IS NOT NULL AND p.longitude IS NOT NULL
GROUP BY p.id`,
			SourceTier: datatypes.TierTemplate,
			ChartType:  "map",
		},
	}
	return datatypes.QueryPlan{
		Items: items,
		Provenance: datatypes.PlanProvenance{
			TablesUsed:     []string{"claims", "policies"},
			JoinPaths:      []string{JoinPath("policies", "claims")},
			QueryIDs:       queryIDs(items),
			GenerationTier: datatypes.TierTemplate,
		},
	}
}

// planFromStatement wraps a single validated statement as a plan.
func planFromStatement(id, statement string, params map[string]any, tables []string, chartType string, tier datatypes.Tier, notes []string) datatypes.QueryPlan {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	return datatypes.QueryPlan{
		Items: []datatypes.QueryItem{{
			ID:         id,
			Statement:  statement,
			Parameters: params,
			SourceTier: tier,
			ChartType:  chartType,
		}},
		Provenance: datatypes.PlanProvenance{
			TablesUsed:     sorted,
			QueryIDs:       []string{id},
			GenerationTier: tier,
			Notes:          notes,
		},
	}
}

// emptyPlan is the degraded outcome: no items, one note saying why.
func emptyPlan(tier datatypes.Tier, note string) datatypes.QueryPlan {
	return datatypes.QueryPlan{
		Provenance: datatypes.PlanProvenance{
			GenerationTier: tier,
			Notes:          []string{note},
		},
	}
}

// queryIDs collects item IDs for provenance.
func queryIDs(items []datatypes.QueryItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
