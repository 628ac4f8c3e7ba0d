// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Deterministic Template Tier
// =============================================================================
//
// Fixed statements for the dashboard shapes underwriters ask for constantly:
// monthly trends, type distributions, industry and risk-level groupings, and
// top-N listings. Zero model cost, zero ambiguity.
//
// Every global-aggregate template carries a filter-language guard: if the
// message contains "for", "where", or a digit, the user is narrowing scope
// and a portfolio-wide aggregate would be the wrong answer. The template
// falls through to the lower tiers instead of silently returning the wrong
// scope. The top-N template is the one exception, since its digit IS the
// parameter, not a filter.

// templateResult is a tier-1 match.
type templateResult struct {
	ID        string
	Statement string
	ChartType string
}

var digitPattern = regexp.MustCompile(`\d`)

// hasFilterLanguage reports whether the message narrows scope with an
// explicit filter: a "for X" clause, a "where" clause, or any numeric or
// identifier token.
func hasFilterLanguage(lower string) bool {
	return strings.Contains(lower, " for ") ||
		strings.Contains(lower, "where") ||
		digitPattern.MatchString(lower)
}

// listVerbPattern matches messages that open with a listing verb.
var listVerbPattern = regexp.MustCompile(`^(show|list|get|display|view|give\s+me|what\s+are)\b`)

// tryTemplate matches the message against the deterministic template set.
// Returns nil when no template applies; callers fall through to the curated
// library.
func tryTemplate(message string) *templateResult {
	lower := strings.ToLower(strings.TrimSpace(message))

	// Monthly claim trend. Global only.
	if containsAnyOf(lower, "trend", "over time", "timeline", "history") && strings.Contains(lower, "claim") {
		if hasFilterLanguage(lower) {
			return nil
		}
		return &templateResult{
			ID:        "tpl_claim_trend",
			Statement: "SELECT strftime('%Y-%m', claim_date) AS month, SUM(claim_amount) AS total_amount, COUNT(*) AS claim_count FROM claims GROUP BY month ORDER BY month",
			ChartType: "line",
		}
	}

	// Claims by type distribution. Global only.
	if strings.Contains(lower, "claim") && containsAnyOf(lower, "by type", "breakdown", "distribution") {
		if hasFilterLanguage(lower) {
			return nil
		}
		return &templateResult{
			ID:        "tpl_claims_by_type",
			Statement: "SELECT claim_type, COUNT(*) AS claim_count, SUM(claim_amount) AS total_amount FROM claims GROUP BY claim_type ORDER BY total_amount DESC",
			ChartType: "bar",
		}
	}

	// Policies by industry. Global only.
	if strings.Contains(lower, "polic") && strings.Contains(lower, "industry") {
		if hasFilterLanguage(lower) {
			return nil
		}
		return &templateResult{
			ID:        "tpl_policies_by_industry",
			Statement: "SELECT industry_type, COUNT(*) AS policy_count, SUM(premium) AS total_premium FROM policies GROUP BY industry_type ORDER BY total_premium DESC",
			ChartType: "bar",
		}
	}

	// Policies by risk level. Global only.
	if strings.Contains(lower, "polic") && containsAnyOf(lower, "risk", "level") && containsAnyOf(lower, "by", "distribution") {
		if hasFilterLanguage(lower) {
			return nil
		}
		return &templateResult{
			ID:        "tpl_policies_by_risk",
			Statement: "SELECT risk_level, COUNT(*) AS policy_count, AVG(premium) AS avg_premium FROM policies GROUP BY risk_level ORDER BY policy_count DESC",
			ChartType: "bar",
		}
	}

	// Top-N claims by amount. The digit is the N parameter, so the filter
	// guard does not apply here.
	if strings.Contains(lower, "top") && strings.Contains(lower, "claim") {
		limit := 5
		if m := digitRunPattern.FindString(lower); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		return &templateResult{
			ID:        "tpl_top_claims",
			Statement: fmt.Sprintf("SELECT * FROM claims ORDER BY claim_amount DESC LIMIT %d", limit),
			ChartType: "table",
		}
	}

	// Bare listing verbs. Recency-ordered and capped.
	if listVerbPattern.MatchString(lower) || containsAnyOf(lower, "all claims", "every claim", "claims list") {
		switch {
		case strings.Contains(lower, "claim"):
			return &templateResult{
				ID:        "tpl_list_claims",
				Statement: "SELECT * FROM claims ORDER BY claim_date DESC LIMIT 50",
				ChartType: "table",
			}
		case strings.Contains(lower, "polic"):
			return &templateResult{
				ID:        "tpl_list_policies",
				Statement: "SELECT * FROM policies ORDER BY effective_date DESC LIMIT 50",
				ChartType: "table",
			}
		case strings.Contains(lower, "guideline"):
			return &templateResult{
				ID:        "tpl_list_guidelines",
				Statement: "SELECT * FROM guidelines ORDER BY section_code LIMIT 50",
				ChartType: "table",
			}
		case strings.Contains(lower, "decision"):
			return &templateResult{
				ID:        "tpl_list_decisions",
				Statement: "SELECT * FROM decisions ORDER BY created_at DESC LIMIT 50",
				ChartType: "table",
			}
		}
	}

	// Count shapes.
	if containsAnyOf(lower, "how many", "count") {
		switch {
		case strings.Contains(lower, "claim") && strings.Contains(lower, "by") && containsAnyOf(lower, "policy", "policyholder"):
			if digitPattern.MatchString(lower) {
				return nil
			}
			return &templateResult{
				ID:        "tpl_claims_per_policy",
				Statement: "SELECT p.policy_number, COUNT(c.id) AS claim_count FROM claims c LEFT JOIN policies p ON c.policy_id = p.id GROUP BY p.policy_number ORDER BY claim_count DESC",
				ChartType: "bar",
			}
		case strings.Contains(lower, "claim"):
			if hasFilterLanguage(lower) {
				return nil
			}
			return &templateResult{
				ID:        "tpl_count_claims",
				Statement: "SELECT COUNT(*) AS total_claims FROM claims",
				ChartType: "metric",
			}
		case strings.Contains(lower, "polic"):
			if hasFilterLanguage(lower) {
				return nil
			}
			return &templateResult{
				ID:        "tpl_count_policies",
				Statement: "SELECT COUNT(*) AS total_policies FROM policies",
				ChartType: "metric",
			}
		}
	}

	// Total claim amount.
	if strings.Contains(lower, "total") && strings.Contains(lower, "claim") && containsAnyOf(lower, "amount", "value") {
		if hasFilterLanguage(lower) {
			return nil
		}
		return &templateResult{
			ID:        "tpl_total_claim_amount",
			Statement: "SELECT SUM(claim_amount) AS total_amount, COUNT(*) AS claim_count FROM claims",
			ChartType: "metric",
		}
	}

	return nil
}

var digitRunPattern = regexp.MustCompile(`\d+`)

// containsAnyOf reports whether lower contains any of the phrases.
func containsAnyOf(lower string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
