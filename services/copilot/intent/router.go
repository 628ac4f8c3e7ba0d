// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent classifies a user message into an intent, entity
// references, and an output-shape hint. Classification is a pure function
// of the message text and recent history, with no model call and no I/O.
//
// Precedence is ordered by specificity: entity-specific intents beat
// explicit list/aggregate keywords, which beat geo keywords, which beat the
// portfolio default. A final visualization-keyword pass can still override
// to ad_hoc_query: the rules are last-applicable-wins, not first-match.
//
// Thread Safety:
//
//	Router is stateless after construction and safe for concurrent use.
package intent

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// Identifier shapes. The same two patterns are used by the guardrail when
// scanning drafts for fabricated identifiers, so the definitions live here.
var (
	// PolicyPattern matches policy-like codes: COMM-2024-016 or P-1042.
	PolicyPattern = regexp.MustCompile(`(?i)(COMM-\d{4}-\d{3}|P-\d{4})`)

	// ClaimPattern matches claim-like codes: CLM-2024-005.
	ClaimPattern = regexp.MustCompile(`(?i)(CLM-\d{4}-\d{3})`)
)

// historyScanDepth is how many recent turns the back-reference pass reads.
const historyScanDepth = 6

// ExtractPolicyNumber returns the first policy-like code in s, uppercased,
// or "" if none is present.
func ExtractPolicyNumber(s string) string {
	return strings.ToUpper(PolicyPattern.FindString(s))
}

// ExtractClaimNumber returns the first claim-like code in s, uppercased,
// or "" if none is present.
func ExtractClaimNumber(s string) string {
	return strings.ToUpper(ClaimPattern.FindString(s))
}

// Router classifies messages. Construct with NewRouter.
type Router struct {
	logger *slog.Logger
}

// NewRouter creates a Router.
//
// Inputs:
//   - logger: Logger instance. Nil falls back to slog.Default().
//
// Outputs:
//   - *Router: Ready-to-use router. Never nil.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Route classifies a message into an IntentPayload.
//
// Description:
//
//	Runs the ordered rule passes described in the package comment:
//	identifier extraction, history back-reference resolution, portfolio
//	pinning, ad-hoc promotion, geo selection, visualization override, and
//	finally canonical-intent / output-shape derivation. Out-of-scope and
//	greeting detection are folded into the payload so the orchestrator can
//	short-circuit without re-scanning the text.
//
// Inputs:
//   - message: The raw user message. Must not be empty for meaningful output.
//   - history: Recent conversation turns, oldest first. May be nil.
//
// Outputs:
//   - datatypes.IntentPayload: Immutable classification result.
//
// Thread Safety: Safe for concurrent use.
func (r *Router) Route(message string, history []datatypes.Message) datatypes.IntentPayload {
	lower := strings.ToLower(message)

	entities := datatypes.Entities{
		PolicyNumber: ExtractPolicyNumber(message),
		ClaimNumber:  ExtractClaimNumber(message),
		Scope:        datatypes.ScopePortfolio,
	}
	if entities.PolicyNumber != "" {
		entities.Scope = datatypes.ScopePolicy
	} else if entities.ClaimNumber != "" {
		entities.Scope = datatypes.ScopeClaim
	}

	in := datatypes.IntentPortfolioSummary
	switch entities.Scope {
	case datatypes.ScopePolicy:
		in = datatypes.IntentPolicyRiskSummary
	case datatypes.ScopeClaim:
		in = datatypes.IntentClaimSummary
	}

	// Back-reference resolution: no identifier in the current message, but
	// one appeared recently. The resolved identifier overrides the default
	// intent; it is copied from literal history text, never fabricated.
	if entities.Scope == datatypes.ScopePortfolio {
		entities, in = resolveFromHistory(history, entities, in)
	}

	// Portfolio-pin phrases beat the ad-hoc keyword pass below.
	keepPortfolio := entities.Scope == datatypes.ScopePortfolio && containsAny(lower, portfolioPinPhrases)

	// Evidence words on a policy-scoped message keep the risk summary.
	if containsAny(lower, evidenceKeywords) && entities.PolicyNumber != "" {
		in = datatypes.IntentPolicyRiskSummary
	}

	if entities.Scope == datatypes.ScopePortfolio && in == datatypes.IntentPortfolioSummary && !keepPortfolio {
		if containsAny(lower, adHocKeywords) {
			in = datatypes.IntentAdHocQuery
		}
		if containsAny(lower, geoKeywords) {
			in = datatypes.IntentGeoRisk
		}
	}

	// Last pass wins: explicit visualization words force ad_hoc_query even
	// for entity-scoped messages.
	if containsAny(lower, visualizationKeywords) {
		in = datatypes.IntentAdHocQuery
	}

	canonical, shape := deriveCanonical(lower, in)

	payload := datatypes.IntentPayload{
		Intent:           in,
		Entities:         entities,
		CanonicalIntent:  canonical,
		OutputShape:      shape,
		RecommendedModes: recommendedModes(canonical),
		EvidenceNeeded:   in == datatypes.IntentClaimSummary || in == datatypes.IntentPolicyRiskSummary,
		OutOfScope:       IsOutOfScope(message),
		Greeting:         IsGreeting(message),
	}

	r.logger.Debug("intent routed",
		slog.String("intent", string(payload.Intent)),
		slog.String("canonical", string(payload.CanonicalIntent)),
		slog.String("scope", payload.Entities.Scope),
		slog.Bool("out_of_scope", payload.OutOfScope),
	)
	return payload
}

// resolveFromHistory scans the last historyScanDepth turns, newest first,
// for an identifier to carry forward. First match wins.
func resolveFromHistory(history []datatypes.Message, entities datatypes.Entities, in datatypes.Intent) (datatypes.Entities, datatypes.Intent) {
	start := len(history) - historyScanDepth
	if start < 0 {
		start = 0
	}
	for i := len(history) - 1; i >= start; i-- {
		content := history[i].Content
		policy := ExtractPolicyNumber(content)
		claim := ExtractClaimNumber(content)
		if policy == "" && claim == "" {
			continue
		}
		if policy != "" {
			entities.PolicyNumber = policy
			entities.Scope = datatypes.ScopePolicy
			in = datatypes.IntentPolicyRiskSummary
		}
		if claim != "" {
			entities.ClaimNumber = claim
			if policy == "" {
				entities.Scope = datatypes.ScopeClaim
				in = datatypes.IntentClaimSummary
			}
		}
		break
	}
	return entities, in
}

// deriveCanonical maps independent keyword groups to the canonical intent
// and output shape. Groups are checked most-specific-first; ties resolve
// toward Understand.
func deriveCanonical(lower string, in datatypes.Intent) (datatypes.CanonicalIntent, datatypes.OutputShape) {
	switch {
	case containsAny(lower, documentKeywords):
		return datatypes.CanonicalDocument, datatypes.ShapeMemo
	case containsAny(lower, decideKeywords):
		if strings.Contains(lower, "card") {
			return datatypes.CanonicalDecide, datatypes.ShapeCard
		}
		return datatypes.CanonicalDecide, datatypes.ShapeDecision
	case containsAny(lower, analyzeKeywords):
		return datatypes.CanonicalAnalyze, datatypes.ShapeDashboard
	case in == datatypes.IntentAdHocQuery:
		return datatypes.CanonicalAnalyze, datatypes.ShapeDashboard
	default:
		return datatypes.CanonicalUnderstand, datatypes.ShapeAnalysis
	}
}

// recommendedModes lists the output shapes worth offering for a canonical
// intent, best fit first.
func recommendedModes(c datatypes.CanonicalIntent) []datatypes.OutputShape {
	switch c {
	case datatypes.CanonicalAnalyze:
		return []datatypes.OutputShape{datatypes.ShapeDashboard, datatypes.ShapeAnalysis, datatypes.ShapeCard}
	case datatypes.CanonicalDecide:
		return []datatypes.OutputShape{datatypes.ShapeCard, datatypes.ShapeDecision, datatypes.ShapeMemo}
	case datatypes.CanonicalDocument:
		return []datatypes.OutputShape{datatypes.ShapeMemo, datatypes.ShapeAnalysis, datatypes.ShapeCard}
	default:
		return []datatypes.OutputShape{datatypes.ShapeAnalysis, datatypes.ShapeCard, datatypes.ShapeMemo}
	}
}
