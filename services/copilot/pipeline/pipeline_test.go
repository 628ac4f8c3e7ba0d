// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
	"github.com/ltm-analytics/riskmind/services/copilot/resolver"
	"github.com/ltm-analytics/riskmind/services/copilot/retrieval"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeStore struct {
	snapshot        *datatypes.Snapshot
	results         []*store.QueryResult
	execErr         error
	panicOnSnapshot bool

	plans []datatypes.QueryPlan
}

func (f *fakeStore) Snapshot(_ context.Context) (*datatypes.Snapshot, error) {
	if f.panicOnSnapshot {
		panic("snapshot exploded")
	}
	return f.snapshot, nil
}

func (f *fakeStore) ExecutePlan(_ context.Context, plan datatypes.QueryPlan) ([]*store.QueryResult, error) {
	f.plans = append(f.plans, plan)
	return f.results, f.execErr
}

type fakeSearcher struct {
	guidelines []retrieval.Result
	cases      []retrieval.Result
	err        error

	guidelineCalls int
	caseCalls      int
}

func (f *fakeSearcher) SearchGuidelines(_ context.Context, _ string, _ int) ([]retrieval.Result, error) {
	f.guidelineCalls++
	return f.guidelines, f.err
}

func (f *fakeSearcher) SearchCases(_ context.Context, _ string, _ int) ([]retrieval.Result, error) {
	f.caseCalls++
	return f.cases, f.err
}

type fakeGenerator struct {
	reply string
	name  string
	err   error
	size  int

	calls    int
	system   string
	messages []datatypes.Message
}

func (f *fakeGenerator) Generate(_ context.Context, systemPrompt string, messages []datatypes.Message) (string, string, error) {
	f.calls++
	f.system = systemPrompt
	f.messages = messages
	if f.err != nil {
		return "", "", f.err
	}
	return f.reply, f.name, nil
}

func (f *fakeGenerator) Len() int { return f.size }

func testSnapshot() *datatypes.Snapshot {
	return &datatypes.Snapshot{
		Policies: []datatypes.Policy{
			{ID: 1, PolicyNumber: "COMM-2024-001", PolicyholderName: "Harbor Logistics", IndustryType: "logistics", Premium: 100000},
			{ID: 2, PolicyNumber: "COMM-2024-016", PolicyholderName: "Cliffside Mfg", IndustryType: "manufacturing", Premium: 75000},
		},
		Claims: []datatypes.Claim{
			{ID: 1, ClaimNumber: "CLM-2024-005", PolicyID: 1, PolicyNumber: "COMM-2024-001", ClaimAmount: 30000, Status: "open"},
		},
		Guidelines: []datatypes.Guideline{
			{SectionCode: "4.1", Title: "High-Risk Threshold", Content: "Policies exceeding five claims require referral."},
		},
	}
}

func newTestPipeline(st *fakeStore, sr *fakeSearcher, gen *fakeGenerator) *Pipeline {
	return New(Options{
		Router:   intent.NewRouter(nil),
		Resolver: resolver.New(resolver.Options{}),
		Store:    st,
		Searcher: sr,
		Chain:    gen,
	})
}

// =============================================================================
// Full-run scenarios
// =============================================================================

func TestRun_ReasonPath(t *testing.T) {
	fs := &fakeStore{
		snapshot: testSnapshot(),
		results: []*store.QueryResult{
			{
				ID:      "policy_summary",
				Columns: []string{"policy_number", "policyholder_name", "industry_type", "premium", "claim_count", "total_amount", "avg_amount", "max_claim"},
				Rows: []map[string]any{{
					"policy_number":     "COMM-2024-001",
					"policyholder_name": "Harbor Logistics",
					"industry_type":     "logistics",
					"premium":           100000.0,
					"claim_count":       int64(2),
					"total_amount":      50000.0,
					"avg_amount":        25000.0,
					"max_claim":         30000.0,
				}},
			},
		},
	}
	sr := &fakeSearcher{
		guidelines: []retrieval.Result{
			{Kind: retrieval.KindGuideline, Section: "4.1", Title: "High-Risk Threshold", Content: "Policies exceeding five claims require referral.", Score: 0.9},
			{Kind: retrieval.KindGuideline, Section: "2.3", Title: "Loss Ratio Bands", Content: "Above 80% is high risk.", Score: 0.8},
		},
	}
	gen := &fakeGenerator{reply: "**COMM-2024-001** runs a **50% loss ratio** with 2 claims. Moderate risk; review at renewal.", name: "claude", size: 1}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "Analyze policy COMM-2024-001", nil)

	if resp.Provider != "claude" {
		t.Fatalf("provider = %q, want claude", resp.Provider)
	}
	if resp.Text != gen.reply {
		t.Errorf("text = %q, want generator reply", resp.Text)
	}
	if !resp.UIHints.ShowCanvas {
		t.Error("entity query with claims should show the canvas")
	}
	if resp.AnalysisObject == nil {
		t.Fatal("canvas-worthy response lost its analysis object")
	}
	if got := resp.AnalysisObject.Metrics["loss_ratio"]; got != 50 {
		t.Errorf("loss_ratio = %v, want 50", got)
	}
	if resp.AnalysisObject.RiskLabel != "medium" {
		t.Errorf("risk label = %q, want medium", resp.AnalysisObject.RiskLabel)
	}
	// Evidence is opt-in: without an explicit ask it must be stripped.
	if len(resp.AnalysisObject.Evidence) != 0 {
		t.Errorf("evidence leaked without an explicit request: %d items", len(resp.AnalysisObject.Evidence))
	}
	if resp.AnalysisObject.Provenance.Confidence != 0 || len(resp.Citations) != 0 {
		t.Error("provenance leaked without an explicit request")
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources = %d, want 2 guideline sources", len(resp.Sources))
	}

	for _, want := range []string{"RELEVANT GUIDELINES", "DATABASE CONTEXT", "policy_summary", "[4.1]"} {
		if !strings.Contains(gen.system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if got := gen.messages[len(gen.messages)-1]; got.Role != datatypes.RoleUser || got.Content != "Analyze policy COMM-2024-001" {
		t.Errorf("last message = %+v, want the user turn", got)
	}
}

func TestRun_OutOfScope(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{reply: "unused", name: "claude", size: 1}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "What's the weather forecast?", nil)

	if resp.Provider != "guardrail" {
		t.Fatalf("provider = %q, want guardrail", resp.Provider)
	}
	if !resp.ClarificationNeeded {
		t.Error("out-of-scope message must request clarification")
	}
	if !strings.HasPrefix(resp.Text, "I'm **RiskMind**") {
		t.Errorf("unexpected rejection text: %q", resp.Text)
	}
	if len(resp.SuggestedIntents) != 3 {
		t.Errorf("suggested intents = %d, want 3", len(resp.SuggestedIntents))
	}
	if sr.guidelineCalls != 0 || sr.caseCalls != 0 {
		t.Error("retrieval ran for an out-of-scope message")
	}
	if gen.calls != 0 {
		t.Error("generation ran for an out-of-scope message")
	}
	if resp.AnalysisObject != nil || len(resp.Sources) != 0 {
		t.Error("trivial response should carry no analysis or sources")
	}
}

func TestRun_GreetingServesMockWithoutRetrieval(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{size: 0} // no backends configured

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "hello", nil)

	if resp.Provider != "mock" {
		t.Fatalf("provider = %q, want mock", resp.Provider)
	}
	if !strings.Contains(resp.Text, "RiskMind") {
		t.Errorf("greeting reply should introduce the assistant: %q", resp.Text)
	}
	if sr.guidelineCalls != 0 || sr.caseCalls != 0 {
		t.Error("retrieval ran for a greeting")
	}
	if resp.ClarificationNeeded {
		t.Error("greetings are not clarification cases")
	}
	if resp.AnalysisObject != nil {
		t.Error("greeting response should carry no analysis object")
	}
}

func TestRun_ClarifyOnLowConfidence(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{reply: "unused", name: "claude", size: 1}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "list stuff", nil)

	if resp.Provider != "intent-engine" {
		t.Fatalf("provider = %q, want intent-engine", resp.Provider)
	}
	if !resp.ClarificationNeeded {
		t.Fatal("vague short message must request clarification")
	}
	if gen.calls != 0 {
		t.Error("clarify path must not call the generation chain")
	}
	if len(resp.SuggestedIntents) != 4 {
		t.Errorf("suggested intents = %d, want the four canonical options", len(resp.SuggestedIntents))
	}
	if len(resp.SuggestedPrompts) != 3 {
		t.Errorf("suggested prompts = %d, want 3", len(resp.SuggestedPrompts))
	}
	if resp.InferredIntent != datatypes.CanonicalUnderstand {
		t.Errorf("inferred intent = %q, want reset to Understand", resp.InferredIntent)
	}
}

func TestRun_AllBackendsFailFallsBackToMock(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{err: errors.New("backend down"), size: 2}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "Show me the portfolio overview", nil)

	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls)
	}
	if resp.Provider != "mock" {
		t.Errorf("provider = %q, want mock after exhaustion", resp.Provider)
	}
}

func TestRun_RedactsFabricatedIdentifiers(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{
		reply: "Compare COMM-2024-001 with COMM-2024-404 for the full picture.",
		name:  "gemini",
		size:  1,
	}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "Summarize the portfolio risk", nil)

	if strings.Contains(resp.Text, "COMM-2024-404") {
		t.Fatalf("fabricated identifier survived: %q", resp.Text)
	}
	if !strings.Contains(resp.Text, "[REDACTED]") {
		t.Error("fabricated identifier was not replaced")
	}
	if !strings.Contains(resp.Text, "COMM-2024-001") {
		t.Error("known identifier was removed")
	}
	if !strings.Contains(resp.Text, "corrected for accuracy") {
		t.Error("redaction footnote missing")
	}
}

func TestRun_GeoQueryOverridesOutputShape(t *testing.T) {
	fs := &fakeStore{
		snapshot: testSnapshot(),
		results: []*store.QueryResult{{
			ID:      "geo_policies",
			Columns: []string{"policy_number", "latitude", "longitude", "risk_level"},
			Rows: []map[string]any{
				{"policy_number": "COMM-2024-001", "latitude": 47.6, "longitude": -122.3, "risk_level": "high"},
			},
		}},
	}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{reply: "One high-risk location stands out on the map.", name: "openai", size: 1}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "Show policies on a map", nil)

	if resp.OutputShape != datatypes.ShapeGeoMap {
		t.Fatalf("output shape = %q, want geo_map", resp.OutputShape)
	}
	if !resp.UIHints.ShowCanvas {
		t.Error("geo responses always render on the canvas")
	}
	if resp.AnalysisObject == nil {
		t.Fatal("geo response lost its analysis object")
	}
	if _, ok := resp.AnalysisObject.Dimensions["geo_policies"]; !ok {
		t.Error("geo rows missing from dimensions")
	}
}

func TestRun_PanicRecovery(t *testing.T) {
	fs := &fakeStore{panicOnSnapshot: true}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{size: 1}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "Analyze COMM-2024-001", nil)

	if resp == nil {
		t.Fatal("Run returned nil after panic")
	}
	if resp.Provider != "error" {
		t.Errorf("provider = %q, want error", resp.Provider)
	}
	if resp.Text == "" {
		t.Error("error response has empty text")
	}
}

func TestRun_GuidelineFallbackWhenRetrievalThin(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{} // zero results
	gen := &fakeGenerator{reply: "Portfolio review complete with guideline grounding.", name: "bedrock", size: 1}

	newTestPipeline(fs, sr, gen).Run(context.Background(), "Summarize the portfolio risk", nil)

	if !strings.Contains(gen.system, "FULL GUIDELINE REFERENCE:") {
		t.Error("thin retrieval did not append the cached guideline table")
	}
	if !strings.Contains(gen.system, "[4.1] High-Risk Threshold") {
		t.Error("fallback lines missing the cached guideline")
	}
}

func TestRun_HistoryReplayIsBounded(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{reply: "ok then", name: "claude", size: 1}

	history := make([]datatypes.Message, 0, 30)
	for i := 0; i < 30; i++ {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		history = append(history, datatypes.Message{Role: role, Content: "turn"})
	}

	newTestPipeline(fs, sr, gen).Run(context.Background(), "Summarize the portfolio risk", history)

	if got := len(gen.messages); got != historyReplayDepth+1 {
		t.Fatalf("replayed messages = %d, want %d history turns plus the current message", got, historyReplayDepth+1)
	}
}

// =============================================================================
// Stage-level checks
// =============================================================================

func TestRun_EvidenceRequestWithoutTargetClarifies(t *testing.T) {
	fs := &fakeStore{snapshot: testSnapshot()}
	sr := &fakeSearcher{}
	gen := &fakeGenerator{reply: "unused", name: "claude", size: 1}

	// A bare evidence ask with no policy or claim to attach it to must be
	// routed to the evidence menu, not answered.
	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "show evidence", nil)

	if !resp.ClarificationNeeded {
		t.Fatal("evidence request without a target must clarify")
	}
	if resp.Provider != "intent-engine" {
		t.Fatalf("provider = %q, want intent-engine", resp.Provider)
	}
	if gen.calls != 0 {
		t.Error("evidence gate must not call the generation chain")
	}
	if len(resp.SuggestedIntents) != 3 || resp.SuggestedIntents[0].Label != "Policy evidence" {
		t.Errorf("expected the evidence menu, got %+v", resp.SuggestedIntents)
	}
	if resp.UIHints.ShowCanvas {
		t.Error("evidence gate must suppress the canvas")
	}
}

func TestCheckConfidence_EvidenceGateUsesRoutedPayload(t *testing.T) {
	p := newTestPipeline(&fakeStore{snapshot: testSnapshot()}, &fakeSearcher{}, &fakeGenerator{size: 1})

	msg := "show evidence trail"
	st := &State{
		Message:  msg,
		Payload:  intent.NewRouter(nil).Route(msg, nil),
		Analysis: &datatypes.AnalysisObject{Metrics: map[string]float64{}},
	}
	p.checkConfidence(context.Background(), st)

	if !st.ClarifyNeeded {
		t.Fatal("evidence request without a target must clarify")
	}
	if len(st.SuggestedIntents) != 3 || st.SuggestedIntents[0].Label != "Policy evidence" {
		t.Errorf("expected the evidence menu, got %+v", st.SuggestedIntents)
	}
	if st.ShowCanvas {
		t.Error("evidence gate must suppress the canvas")
	}
	if !st.ShowEvidence {
		t.Error("explicit evidence ask should keep the evidence panel flag")
	}
}

func TestCheckConfidence_ShowEvidenceKeepsCitations(t *testing.T) {
	fs := &fakeStore{
		snapshot: testSnapshot(),
		results: []*store.QueryResult{{
			ID:      "policy_summary",
			Columns: []string{"policy_number", "premium", "claim_count", "total_amount", "avg_amount", "max_claim", "policyholder_name", "industry_type"},
			Rows: []map[string]any{{
				"policy_number": "COMM-2024-001", "premium": 100000.0, "claim_count": int64(1),
				"total_amount": 30000.0, "avg_amount": 30000.0, "max_claim": 30000.0,
				"policyholder_name": "Harbor Logistics", "industry_type": "logistics",
			}},
		}},
	}
	sr := &fakeSearcher{
		guidelines: []retrieval.Result{
			{Kind: retrieval.KindGuideline, Section: "4.1", Title: "High-Risk Threshold", Content: "Policies exceeding five claims require referral.", Score: 0.9},
		},
	}
	gen := &fakeGenerator{reply: "COMM-2024-001 has one open claim. *(Section 4.1 - High-Risk Threshold)*", name: "claude", size: 1}

	resp := newTestPipeline(fs, sr, gen).Run(context.Background(), "Show sources and evidence for COMM-2024-001 risk", nil)

	if !resp.UIHints.ShowCanvas {
		t.Fatal("entity query with claims should show the canvas")
	}
	if len(resp.Citations) == 0 {
		t.Fatal("explicit evidence request lost its citations")
	}
	if resp.Citations[0].Type != datatypes.EvidenceGuideline || resp.Citations[0].Ref != "4.1" {
		t.Errorf("citation = %+v, want the guideline reference", resp.Citations[0])
	}
	if len(resp.AnalysisObject.Evidence) == 0 {
		t.Error("explicit evidence request stripped the evidence list")
	}
	if resp.AnalysisObject.Provenance.Confidence == 0 {
		t.Error("provenance confidence missing on an evidence response")
	}
}

// =============================================================================
// Assembly helpers
// =============================================================================

func TestBuildAnalysisObject_AdHocRows(t *testing.T) {
	payload := datatypes.IntentPayload{Intent: datatypes.IntentAdHocQuery, Entities: datatypes.Entities{Scope: datatypes.ScopePortfolio}}
	results := []*store.QueryResult{{
		ID:      "ad_hoc_query",
		Columns: []string{"industry_type", "n"},
		Rows: []map[string]any{
			{"industry_type": "logistics", "n": int64(4)},
			{"industry_type": "manufacturing", "n": int64(2)},
		},
	}}

	obj := buildAnalysisObject(payload, datatypes.QueryPlan{}, results)

	rows, ok := obj.Dimensions["rows"].([]map[string]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("rows dimension = %v", obj.Dimensions["rows"])
	}
	cols, ok := obj.Dimensions["columns"].([]string)
	if !ok || len(cols) != 2 || cols[0] != "industry_type" {
		t.Fatalf("columns dimension = %v", obj.Dimensions["columns"])
	}
}

func TestBuildAnalysisObject_MediaEvidenceFromClaims(t *testing.T) {
	payload := datatypes.IntentPayload{Intent: datatypes.IntentPolicyRiskSummary}
	results := []*store.QueryResult{{
		ID:      "policy_claims",
		Columns: []string{"claim_number", "claim_date", "evidence_files"},
		Rows: []map[string]any{{
			"claim_number":   "CLM-2024-005",
			"claim_date":     "2024-03-02",
			"evidence_files": `[{"type":"photo","url":"https://cdn.example.com/damage.jpg","description":"Roof damage"},{"type":"photo","url":""}]`,
		}},
	}}

	obj := buildAnalysisObject(payload, datatypes.QueryPlan{}, results)

	if len(obj.Evidence) != 1 {
		t.Fatalf("evidence = %d items, want 1 (entries without a URL are skipped)", len(obj.Evidence))
	}
	ev := obj.Evidence[0]
	if ev.Kind != datatypes.EvidenceMedia || ev.ClaimNumber != "CLM-2024-005" || ev.URL != "https://cdn.example.com/damage.jpg" {
		t.Errorf("evidence item = %+v", ev)
	}

	citations := buildCitations(obj)
	if len(citations) != 1 || citations[0].Title != "Roof damage" || citations[0].Ref != "CLM-2024-005" {
		t.Errorf("citations = %+v", citations)
	}
}

func TestRenderDataContext_StableColumnOrder(t *testing.T) {
	results := []*store.QueryResult{{
		ID:      "portfolio_summary",
		Columns: []string{"policy_count", "total_premium"},
		Rows:    []map[string]any{{"policy_count": int64(12), "total_premium": 1250000.0}},
	}}

	got := renderDataContext(results)
	want := "### portfolio_summary\n- policy_count=12, total_premium=1.25e+06"
	if got != want {
		t.Errorf("data context = %q, want %q", got, want)
	}
}

func TestClipKeepsValidUTF8(t *testing.T) {
	// A one-byte prefix forces the limit onto the continuation byte of
	// every following two-byte rune.
	s := "x" + strings.Repeat("é", citationSnippetLimit)
	got := clip(s, citationSnippetLimit)
	if len(got) > citationSnippetLimit {
		t.Fatalf("len(clip) = %d, want <= %d", len(got), citationSnippetLimit)
	}
	if !utf8.ValidString(got) {
		t.Error("clip split a multi-byte rune")
	}
}
