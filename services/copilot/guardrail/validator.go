// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrail post-processes drafted response text before it reaches
// the user: empty-draft replacement, a hard length cap, and fabricated
// identifier redaction. The redaction rule is the load-bearing one: a
// policy or claim code the dataset does not contain must never leave the
// system unredacted, no matter which backend produced the draft.
package guardrail

import (
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	guardrailRedactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "guardrail",
		Name:      "redactions_total",
		Help:      "Fabricated identifiers redacted from drafts",
	})

	guardrailOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "guardrail",
		Name:      "outcome_total",
		Help:      "Validation outcomes: passed, empty_draft, truncated",
	}, []string{"outcome"})
)

const (
	// maxResponseLength is the hard ceiling on response text.
	maxResponseLength = 5000

	// minDraftLength is the floor under which a canvas-worthy draft counts
	// as empty.
	minDraftLength = 10

	// canvasHintLength marks a response long enough to point the user at
	// the canvas view.
	canvasHintLength = 500
)

const (
	emptyDraftReplacement = "I couldn't generate a meaningful response. Please try rephrasing your question."
	truncationMarker      = "\n\n*[Response truncated for brevity]*"
	redactionPlaceholder  = "[REDACTED]"
	redactionFootnote     = "\n\n*Note: Some entity references were corrected for accuracy.*"
)

// Result is the guardrail outcome for one draft.
type Result struct {
	// Text is the sanitized response text. Never empty.
	Text string
	// Passed is false only when the draft was replaced wholesale.
	Passed bool
	// Redactions counts fabricated identifiers removed from the draft.
	Redactions int
	// Truncated reports whether the length cap fired.
	Truncated bool
	// SuggestCanvasView hints that the response is long enough that the
	// canvas rendering is the better read.
	SuggestCanvasView bool
}

// Validate sanitizes a drafted response.
//
// Description:
//
//	Three checks in order. An empty-or-near-empty draft on a canvas-worthy
//	answer is replaced with a fixed apology (greeting turns keep their
//	short replies). Overlong drafts are cut at the ceiling with a visible
//	marker. Finally every policy-shaped and claim-shaped token is checked
//	against the known identifier sets; unknown ones are redacted in place
//	and a disclosure footnote is appended.
//
// Inputs:
//   - draft: Raw drafted text from the reasoning or mock stage.
//   - snapshot: Dataset view supplying the known identifier sets. Must not
//     be nil.
//   - canvasWorthy: Whether this turn renders a canvas summary; gates the
//     empty-draft check.
//
// Outputs:
//   - Result: Sanitized text plus what was done to it.
//
// Thread Safety: Pure function over its inputs.
func Validate(draft string, snapshot *datatypes.Snapshot, canvasWorthy bool) Result {
	if len(strings.TrimSpace(draft)) < minDraftLength && canvasWorthy {
		guardrailOutcomeTotal.WithLabelValues("empty_draft").Inc()
		return Result{Text: emptyDraftReplacement, Passed: false}
	}

	text := draft
	truncated := false
	if len(text) > maxResponseLength {
		text = truncateToRune(text, maxResponseLength) + truncationMarker
		truncated = true
		guardrailOutcomeTotal.WithLabelValues("truncated").Inc()
	}

	text, redactions := redactUnknownIdentifiers(text, snapshot.KnownPolicyNumbers(), snapshot.KnownClaimNumbers())

	guardrailOutcomeTotal.WithLabelValues("passed").Inc()
	return Result{
		Text:              text,
		Passed:            true,
		Redactions:        redactions,
		Truncated:         truncated,
		SuggestCanvasView: len(text) > canvasHintLength,
	}
}

// redactUnknownIdentifiers replaces identifier-shaped tokens that are absent
// from the known sets. Matching reuses the router's patterns, so the
// guardrail and the extractor always agree on what an identifier looks like.
func redactUnknownIdentifiers(text string, knownPolicies, knownClaims map[string]struct{}) (string, int) {
	fabricated := map[string]struct{}{}

	for _, m := range intent.PolicyPattern.FindAllString(text, -1) {
		if _, ok := knownPolicies[strings.ToUpper(m)]; !ok {
			fabricated[m] = struct{}{}
		}
	}
	for _, m := range intent.ClaimPattern.FindAllString(text, -1) {
		if _, ok := knownClaims[strings.ToUpper(m)]; !ok {
			fabricated[m] = struct{}{}
		}
	}

	if len(fabricated) == 0 {
		return text, 0
	}
	for id := range fabricated {
		text = strings.ReplaceAll(text, id, redactionPlaceholder)
	}
	guardrailRedactionsTotal.Add(float64(len(fabricated)))
	return text + redactionFootnote, len(fabricated)
}

// truncateToRune cuts s at limit bytes, backing up so the cut never lands
// inside a multi-byte rune.
func truncateToRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
