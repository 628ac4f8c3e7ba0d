// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"testing"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

func TestRoute_PolicyIdentifier(t *testing.T) {
	r := NewRouter(nil)
	payload := r.Route("Analyze COMM-2024-016 for renewal", nil)

	if payload.Intent != datatypes.IntentPolicyRiskSummary {
		t.Errorf("expected policy_risk_summary, got %q", payload.Intent)
	}
	if payload.Entities.PolicyNumber != "COMM-2024-016" {
		t.Errorf("expected COMM-2024-016, got %q", payload.Entities.PolicyNumber)
	}
	if payload.Entities.Scope != datatypes.ScopePolicy {
		t.Errorf("expected policy scope, got %q", payload.Entities.Scope)
	}
}

func TestRoute_ClaimIdentifier_Lowercase(t *testing.T) {
	r := NewRouter(nil)
	payload := r.Route("what happened with clm-2024-005?", nil)

	if payload.Intent != datatypes.IntentClaimSummary {
		t.Errorf("expected claim_summary, got %q", payload.Intent)
	}
	if payload.Entities.ClaimNumber != "CLM-2024-005" {
		t.Errorf("expected uppercased CLM-2024-005, got %q", payload.Entities.ClaimNumber)
	}
}

func TestRoute_PortfolioPinBeatsAdHocKeywords(t *testing.T) {
	// "how many policies" contains the ad-hoc trigger "how many" but must
	// stay pinned to portfolio_summary.
	r := NewRouter(nil)
	payload := r.Route("how many policies do we have", nil)

	if payload.Intent != datatypes.IntentPortfolioSummary {
		t.Errorf("expected portfolio_summary, got %q", payload.Intent)
	}
	if payload.CanonicalIntent != datatypes.CanonicalUnderstand {
		t.Errorf("expected Understand, got %q", payload.CanonicalIntent)
	}
}

func TestRoute_AdHocPromotion(t *testing.T) {
	r := NewRouter(nil)
	payload := r.Route("list the top claims", nil)

	if payload.Intent != datatypes.IntentAdHocQuery {
		t.Errorf("expected ad_hoc_query, got %q", payload.Intent)
	}
}

func TestRoute_VisualizationOverridesEntityIntent(t *testing.T) {
	// Last-applicable-rule-wins: the trend keyword overrides even an
	// entity-specific intent.
	r := NewRouter(nil)
	payload := r.Route("claim trend for COMM-2024-016", nil)

	if payload.Intent != datatypes.IntentAdHocQuery {
		t.Errorf("expected ad_hoc_query, got %q", payload.Intent)
	}
	if payload.Entities.PolicyNumber != "COMM-2024-016" {
		t.Errorf("entity must be preserved, got %q", payload.Entities.PolicyNumber)
	}
	if payload.OutputShape != datatypes.ShapeDashboard {
		t.Errorf("expected dashboard shape, got %q", payload.OutputShape)
	}
}

func TestRoute_GeoKeywords(t *testing.T) {
	r := NewRouter(nil)
	payload := r.Route("policies near the coastal region", nil)

	if payload.Intent != datatypes.IntentGeoRisk {
		t.Errorf("expected geo_risk, got %q", payload.Intent)
	}
}

func TestRoute_HistoryBackReference(t *testing.T) {
	history := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "Tell me about COMM-2024-001"},
		{Role: datatypes.RoleAssistant, Content: "COMM-2024-001 has 3 claims."},
	}

	r := NewRouter(nil)
	payload := r.Route("what is its loss ratio", history)

	if payload.Entities.PolicyNumber != "COMM-2024-001" {
		t.Errorf("expected history entity COMM-2024-001, got %q", payload.Entities.PolicyNumber)
	}
	if payload.Intent != datatypes.IntentPolicyRiskSummary {
		t.Errorf("expected policy_risk_summary, got %q", payload.Intent)
	}
}

func TestRoute_HistoryNewestFirstWins(t *testing.T) {
	history := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "show COMM-2024-001"},
		{Role: datatypes.RoleUser, Content: "now show CLM-2024-009"},
	}

	r := NewRouter(nil)
	payload := r.Route("summarize that", history)

	if payload.Entities.ClaimNumber != "CLM-2024-009" {
		t.Errorf("expected newest entity CLM-2024-009, got %q", payload.Entities.ClaimNumber)
	}
	if payload.Entities.PolicyNumber != "" {
		t.Errorf("older entity must not leak in, got %q", payload.Entities.PolicyNumber)
	}
}

func TestRoute_HistoryScanDepthBounded(t *testing.T) {
	history := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "show COMM-2024-001"}, // 7 turns back
	}
	for i := 0; i < 6; i++ {
		history = append(history, datatypes.Message{Role: datatypes.RoleAssistant, Content: "noted"})
	}

	r := NewRouter(nil)
	payload := r.Route("and the loss ratio?", history)

	if payload.Entities.PolicyNumber != "" {
		t.Errorf("identifier beyond scan depth must not resolve, got %q", payload.Entities.PolicyNumber)
	}
}

func TestRoute_CanonicalIntents(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		canonical datatypes.CanonicalIntent
		shape     datatypes.OutputShape
	}{
		{"memo", "draft an underwriting memo for COMM-2024-016", datatypes.CanonicalDocument, datatypes.ShapeMemo},
		{"decide", "should we renew COMM-2024-016", datatypes.CanonicalDecide, datatypes.ShapeDecision},
		{"decide card", "should we renew COMM-2024-016, show a card", datatypes.CanonicalDecide, datatypes.ShapeCard},
		{"analyze", "claims breakdown by industry", datatypes.CanonicalAnalyze, datatypes.ShapeDashboard},
		{"understand default", "tell me about the portfolio", datatypes.CanonicalUnderstand, datatypes.ShapeAnalysis},
	}

	r := NewRouter(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := r.Route(tt.message, nil)
			if payload.CanonicalIntent != tt.canonical {
				t.Errorf("canonical: expected %q, got %q", tt.canonical, payload.CanonicalIntent)
			}
			if payload.OutputShape != tt.shape {
				t.Errorf("shape: expected %q, got %q", tt.shape, payload.OutputShape)
			}
		})
	}
}

func TestIsOutOfScope(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"What's the weather today", true},
		{"tell me a joke", true},
		{"weather exposure on our coastal insurance portfolio", false}, // domain term rescues
		{"how many policies do we have", false},
		{"claims breakdown by type", false},
	}
	for _, tt := range tests {
		if got := IsOutOfScope(tt.message); got != tt.want {
			t.Errorf("IsOutOfScope(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestIsGreeting(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"hello", true},
		{"Thanks!!", true},
		{"  good morning ", true},
		{"hello, analyze COMM-2024-016", false},
		{"portfolio overview", false},
	}
	for _, tt := range tests {
		if got := IsGreeting(tt.message); got != tt.want {
			t.Errorf("IsGreeting(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestWantsMediaAnalysis_RequiresBothGroups(t *testing.T) {
	if WantsMediaAnalysis("show me the photos") {
		t.Error("evidence keyword alone must not open the media gate")
	}
	if WantsMediaAnalysis("analyze the trend") {
		t.Error("analysis keyword alone must not open the media gate")
	}
	if !WantsMediaAnalysis("analyze the photos from the claim") {
		t.Error("both groups present should open the media gate")
	}
}
