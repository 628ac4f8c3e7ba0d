// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package confidence scores whether enough grounded information exists to
// answer a message directly. The score starts from a fixed base and is
// adjusted additively; every adjustment leaves a reason code, so the final
// number is always explainable. Scores below the threshold send the run
// down the clarify path instead of the reasoning path.
package confidence

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	confidenceScoreDist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "confidence",
		Name:      "score",
		Help:      "Distribution of confidence scores",
		Buckets:   []float64{0, 30, 45, 50, 60, 72, 80, 95},
	})

	confidenceClarifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "confidence",
		Name:      "clarify_total",
		Help:      "Runs sent to the clarify path, by trigger",
	}, []string{"trigger"})
)

// Scoring constants. Adjustments are additive from the base and the result
// is clamped, so a single signal can never swing the score outside the band.
const (
	baseScore = 72
	minScore  = 45
	maxScore  = 95

	// ClarifyThreshold is the score below which the run clarifies instead
	// of answering.
	ClarifyThreshold = 50

	// Evidence requests without a resolved target are inherently ambiguous.
	// Short ones are pushed under the threshold; longer phrasings carry
	// enough context to proceed.
	evidenceGatePenalty  = 25
	evidenceGateFloor    = 30
	evidenceGateMaxWords = 5

	shortPromptMaxWords = 3
)

// Reason codes, appended in evaluation order.
const (
	ReasonOutOfScope       = "out_of_scope"
	ReasonMetricsPresent   = "metrics_present"
	ReasonEvidencePresent  = "evidence_present"
	ReasonAdHocQuery       = "ad_hoc_query"
	ReasonShortPrompt      = "short_prompt"
	ReasonNoEntity         = "no_entity"
	ReasonPortfolioDomain  = "portfolio_domain"
	ReasonKeywordMatch     = "keyword_match"
	ReasonEvidenceNoTarget = "evidence_without_target"
)

// Assessment is the scoring outcome.
type Assessment struct {
	// Score is 0 for out-of-scope messages, otherwise within [45,95]
	// before the evidence gate and [30,95] after it.
	Score int `json:"score"`
	// ReasonCodes explain every adjustment, in the order applied.
	ReasonCodes []string `json:"reason_codes"`
	// ClarifyNeeded forces the clarify path.
	ClarifyNeeded bool `json:"clarify_needed"`
}

// Score rates how well-grounded a direct answer would be.
//
// Description:
//
//	Additive heuristic over the routed intent, the assembled analysis and
//	the raw message. Out-of-scope messages bypass the formula entirely and
//	score 0. The evidence gate runs after clamping: a short evidence
//	request with no resolved entity and nothing retrievable behind it is
//	pushed below the threshold and clarification is forced regardless of
//	the arithmetic score.
//
// Inputs:
//   - payload: Routed intent. Out-of-scope and entity state come from here.
//   - analysis: Assembled analysis for this run. Must not be nil.
//   - message: Raw user message.
//
// Outputs:
//   - Assessment: Score, ordered reason codes, clarify decision.
//
// Thread Safety: Pure function.
func Score(payload datatypes.IntentPayload, analysis *datatypes.AnalysisObject, message string) Assessment {
	if payload.OutOfScope {
		confidenceClarifyTotal.WithLabelValues(ReasonOutOfScope).Inc()
		confidenceScoreDist.Observe(0)
		return Assessment{Score: 0, ReasonCodes: []string{ReasonOutOfScope}, ClarifyNeeded: true}
	}

	score := baseScore
	var reasons []string

	if len(analysis.Metrics) > 0 {
		score += 6
		reasons = append(reasons, ReasonMetricsPresent)
	}
	if len(analysis.Evidence) > 0 {
		score += 6
		reasons = append(reasons, ReasonEvidencePresent)
	}
	if payload.Intent == datatypes.IntentAdHocQuery {
		score -= 6
		reasons = append(reasons, ReasonAdHocQuery)
	}

	wordCount := len(strings.Fields(message))
	if wordCount <= shortPromptMaxWords && !intent.HasDomainTerm(message) {
		score -= 14
		reasons = append(reasons, ReasonShortPrompt)
	}

	hasEntity := payload.Entities.PolicyNumber != "" || payload.Entities.ClaimNumber != ""
	if !hasEntity {
		score -= 8
		reasons = append(reasons, ReasonNoEntity)
	}
	if payload.Intent == datatypes.IntentPortfolioSummary && intent.HasDomainTerm(message) {
		score += 10
		reasons = append(reasons, ReasonPortfolioDomain)
	}
	if intent.HasStrongIntentKeyword(message) {
		score += 4
		reasons = append(reasons, ReasonKeywordMatch)
	}

	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}

	clarify := false
	if intent.WantsEvidence(message) && !hasEntity && wordCount <= evidenceGateMaxWords &&
		!hasRetrievableEvidence(analysis.Evidence) {
		score -= evidenceGatePenalty
		if score < evidenceGateFloor {
			score = evidenceGateFloor
		}
		reasons = append(reasons, ReasonEvidenceNoTarget)
		clarify = true
		confidenceClarifyTotal.WithLabelValues(ReasonEvidenceNoTarget).Inc()
	}

	if !clarify && score < ClarifyThreshold {
		clarify = true
		confidenceClarifyTotal.WithLabelValues("low_score").Inc()
	}

	confidenceScoreDist.Observe(float64(score))
	return Assessment{Score: score, ReasonCodes: reasons, ClarifyNeeded: clarify}
}

// hasRetrievableEvidence reports whether any evidence item carries content a
// user could actually open or read.
func hasRetrievableEvidence(items []datatypes.EvidenceItem) bool {
	for _, item := range items {
		if item.Content != "" || item.Summary != "" || item.URL != "" || item.AnalysisSummary != "" {
			return true
		}
	}
	return false
}
