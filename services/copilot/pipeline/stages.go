// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ltm-analytics/riskmind/services/copilot/confidence"
	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/guardrail"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
	"github.com/ltm-analytics/riskmind/services/copilot/providers"
	"github.com/ltm-analytics/riskmind/services/copilot/retrieval"
)

const lowConfidenceThreshold = 60

const guidelineEvidenceLimit = 300

// dataContextCanvasHint is the data-context length above which the caller
// is nudged toward the canvas view.
const dataContextCanvasHint = 300

const externalEvidenceNote = "External evidence requires upload for AI analysis."

const mediaAnalysisPrompt = "Summarize what this claim evidence shows, for an underwriter reviewing the claim. Note any visible damage, severity indicators, or inconsistencies."

// =============================================================================
// Stage 1: Route Intent
// =============================================================================

func (p *Pipeline) routeIntent(_ context.Context, st *State) {
	st.Payload = p.router.Route(st.Message, st.History)
	st.OutputShape = st.Payload.OutputShape
	p.logger.Debug("intent routed",
		slog.String("request_id", st.RequestID),
		slog.String("intent", string(st.Payload.Intent)),
		slog.String("scope", st.Payload.Entities.Scope),
		slog.Bool("out_of_scope", st.Payload.OutOfScope))
}

// =============================================================================
// Stage 2: Fetch Data
// =============================================================================

func (p *Pipeline) fetchData(ctx context.Context, st *State) {
	snapshot, err := p.store.Snapshot(ctx)
	if err != nil {
		p.logger.Error("snapshot unavailable",
			slog.String("request_id", st.RequestID),
			slog.String("error", err.Error()))
		snapshot = &datatypes.Snapshot{}
	}
	st.Snapshot = snapshot

	if !st.substantive() {
		st.Analysis = buildAnalysisObject(st.Payload, datatypes.QueryPlan{}, nil)
		return
	}

	st.Plan = p.resolver.Resolve(ctx, st.Payload, st.Message)
	results, err := p.store.ExecutePlan(ctx, st.Plan)
	if err != nil {
		// Partial results still render; the model just sees less context.
		p.logger.Warn("plan execution incomplete",
			slog.String("request_id", st.RequestID),
			slog.Int("completed", len(results)),
			slog.String("error", err.Error()))
	}
	st.Results = results
	st.DataContext = renderDataContext(results)
	st.Analysis = buildAnalysisObject(st.Payload, st.Plan, results)

	p.analyzeMedia(ctx, st)
}

// analyzeMedia runs the external analyzer over claim attachments, but only
// when the user explicitly asked about the evidence and an analyzer is
// configured. Calls are capped and items with an existing summary are
// skipped, since vision calls are the most expensive thing a run can do.
func (p *Pipeline) analyzeMedia(ctx context.Context, st *State) {
	if p.media == nil || len(st.Analysis.Evidence) == 0 || !intent.WantsMediaAnalysis(st.Message) {
		return
	}
	analyzed := 0
	for i := range st.Analysis.Evidence {
		if analyzed >= mediaAnalysisCap {
			break
		}
		ev := &st.Analysis.Evidence[i]
		if ev.Kind != datatypes.EvidenceMedia || ev.AnalysisSummary != "" {
			continue
		}
		ref := ev.LocalPath
		if ref == "" {
			if strings.HasPrefix(ev.URL, "http") {
				ev.AnalysisSummary = externalEvidenceNote
				continue
			}
			ref = ev.URL
		}
		summary, err := p.media.Analyze(ctx, ref, mediaAnalysisPrompt)
		if err != nil {
			p.logger.Warn("media analysis failed",
				slog.String("request_id", st.RequestID),
				slog.String("ref", ref),
				slog.String("error", err.Error()))
			continue
		}
		ev.AnalysisSummary = summary
		analyzed++
	}
}

// =============================================================================
// Stage 3: Fetch Guidelines
// =============================================================================

func (p *Pipeline) fetchGuidelines(ctx context.Context, st *State) {
	if !st.substantive() {
		return
	}

	results, err := p.searcher.SearchGuidelines(ctx, st.Message, retrieval.DefaultGuidelineK)
	if err != nil {
		p.logger.Warn("guideline search failed",
			slog.String("request_id", st.RequestID),
			slog.String("error", err.Error()))
	}

	st.GuidelineContext = retrieval.GuidelineContext(results)
	st.Sources = retrieval.GuidelineSources(results)

	// Thin retrieval gets the full cached table appended so the model is
	// never reasoning without guideline grounding.
	if len(results) < 2 && len(st.Snapshot.Guidelines) > 0 {
		fallback := retrieval.GuidelineFallback(st.Snapshot.Guidelines)
		if st.GuidelineContext != "" {
			st.GuidelineContext += "\n" + fallback
		} else {
			st.GuidelineContext = fallback
		}
	}

	for _, r := range results {
		st.Analysis.Evidence = append(st.Analysis.Evidence, datatypes.EvidenceItem{
			Kind:    datatypes.EvidenceGuideline,
			Section: r.Section,
			Title:   r.Title,
			Content: clip(r.Content, guidelineEvidenceLimit),
			Score:   r.Score,
		})
	}
	st.Analysis.Provenance.Citations = buildCitations(st.Analysis)
}

// =============================================================================
// Stage 4: Fetch Knowledge
// =============================================================================

func (p *Pipeline) fetchKnowledge(ctx context.Context, st *State) {
	if !st.substantive() {
		return
	}

	results, err := p.searcher.SearchCases(ctx, st.Message, retrieval.DefaultCaseK)
	if err != nil {
		p.logger.Warn("case search failed",
			slog.String("request_id", st.RequestID),
			slog.String("error", err.Error()))
		return
	}

	knowledgeContext, decisionSources := retrieval.CaseContext(results)
	st.KnowledgeContext = knowledgeContext
	st.Sources = append(st.Sources, decisionSources...)
}

// =============================================================================
// Stage 5: Check Confidence
// =============================================================================

func (p *Pipeline) checkConfidence(_ context.Context, st *State) {
	if st.Payload.OutOfScope {
		st.Confidence = 0
		st.ReasonCodes = []string{confidence.ReasonOutOfScope}
		st.ClarifyNeeded = true
		st.SuggestedIntents = outOfScopeMenu()
		st.OutputShape = datatypes.ShapeAnalysis
		st.Analysis.Provenance.Confidence = 0
		st.Analysis.Provenance.ReasonCodes = st.ReasonCodes
		st.Analysis.Provenance.GeneratedAt = time.Now().UTC()
		return
	}

	assessment := confidence.Score(st.Payload, st.Analysis, st.Message)
	st.Confidence = assessment.Score
	st.ReasonCodes = assessment.ReasonCodes
	st.ClarifyNeeded = assessment.ClarifyNeeded

	if st.Confidence < lowConfidenceThreshold {
		st.ReasonCodes = append(st.ReasonCodes, "low_confidence")
		if !intent.HasVisualizationKeyword(st.Message) {
			st.Payload.CanonicalIntent = datatypes.CanonicalUnderstand
			st.OutputShape = datatypes.ShapeAnalysis
		}
		if len(st.Payload.RecommendedModes) > 2 {
			st.Payload.RecommendedModes = st.Payload.RecommendedModes[:2]
		}
		st.SuggestedPrompts = suggestedPrompts(st.Message, st.Payload.Entities)
		if st.ClarifyNeeded {
			st.SuggestedIntents = lowConfidenceMenu()
		}
	}

	evidenceGated := false
	for _, code := range st.ReasonCodes {
		if code == confidence.ReasonEvidenceNoTarget {
			evidenceGated = true
		}
	}

	if intent.HasGeoKeyword(st.Message) {
		st.OutputShape = datatypes.ShapeGeoMap
	}

	// Canvas KPI summary is entity-specific; portfolio queries stay in the
	// narrative view. Geo maps always render on the canvas.
	if !st.Payload.Greeting {
		hasEntity := st.Payload.Entities.PolicyNumber != "" || st.Payload.Entities.ClaimNumber != ""
		m := st.Analysis.Metrics
		if hasEntity && (m["claim_count"] >= 1 || m["total_amount"] > 0) {
			st.ShowCanvas = true
		}
		if st.OutputShape == datatypes.ShapeGeoMap {
			st.ShowCanvas = true
		}
	}
	st.SuggestCanvas = !st.Payload.Greeting && len(st.DataContext) > dataContextCanvasHint
	st.ShowEvidence = intent.WantsEvidence(st.Message)

	if evidenceGated {
		st.SuggestedIntents = evidenceGateMenu()
		st.ShowCanvas = false
	}

	st.Analysis.Provenance.Confidence = st.Confidence
	st.Analysis.Provenance.ReasonCodes = st.ReasonCodes
	st.Analysis.Provenance.GeneratedAt = time.Now().UTC()
}

func outOfScopeMenu() []datatypes.SuggestedIntent {
	return []datatypes.SuggestedIntent{
		{Label: "Portfolio overview", Intent: string(datatypes.IntentPortfolioSummary), Example: "Show me the portfolio overview"},
		{Label: "High risk policies", Intent: string(datatypes.IntentPolicyRiskSummary), Example: "Which policies are high risk?"},
		{Label: "Claims analysis", Intent: string(datatypes.IntentClaimSummary), Example: "Show the claims breakdown by type"},
	}
}

func lowConfidenceMenu() []datatypes.SuggestedIntent {
	return []datatypes.SuggestedIntent{
		{
			Label:       "Analyze with Dashboard",
			Intent:      string(datatypes.CanonicalAnalyze),
			OutputShape: datatypes.ShapeDashboard,
			Example:     "Show me trends and visualizations",
			Keywords:    []string{"chart", "trend", "compare", "breakdown"},
		},
		{
			Label:       "Understand Details",
			Intent:      string(datatypes.CanonicalUnderstand),
			OutputShape: datatypes.ShapeAnalysis,
			Example:     "Explain this policy or claim",
			Keywords:    []string{"why", "what", "explain", "tell me"},
		},
		{
			Label:       "Make a Decision",
			Intent:      string(datatypes.CanonicalDecide),
			OutputShape: datatypes.ShapeDecision,
			Example:     "Should we accept or decline?",
			Keywords:    []string{"should we", "decision", "recommend"},
		},
		{
			Label:       "Generate Memo",
			Intent:      string(datatypes.CanonicalDocument),
			OutputShape: datatypes.ShapeMemo,
			Example:     "Create underwriting memo",
			Keywords:    []string{"memo", "document", "draft"},
		},
	}
}

func evidenceGateMenu() []datatypes.SuggestedIntent {
	return []datatypes.SuggestedIntent{
		{
			Label:       "Policy evidence",
			Intent:      string(datatypes.IntentPolicyRiskSummary),
			OutputShape: datatypes.ShapeAnalysis,
			Example:     "Show evidence for COMM-2024-016",
			Keywords:    []string{"evidence", "policy"},
		},
		{
			Label:       "Claim evidence",
			Intent:      string(datatypes.IntentClaimSummary),
			OutputShape: datatypes.ShapeAnalysis,
			Example:     "Show evidence for CLM-2024-005",
			Keywords:    []string{"evidence", "claim"},
		},
		{
			Label:       "Portfolio evidence trail",
			Intent:      string(datatypes.IntentPortfolioSummary),
			OutputShape: datatypes.ShapeAnalysis,
			Example:     "Show audit trail for my portfolio",
			Keywords:    []string{"audit trail", "portfolio"},
		},
	}
}

func suggestedPrompts(message string, entities datatypes.Entities) []string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "claim") && entities.ClaimNumber == "":
		return []string{
			"Show me claims for COMM-2024-016",
			"List all claims with high severity",
			"What's the total claim amount?",
		}
	case strings.Contains(lower, "policy") && entities.PolicyNumber == "":
		return []string{
			"Show me policy COMM-2024-016",
			"List policies by industry type",
			"What's the total premium?",
		}
	case strings.Contains(lower, "chart") || strings.Contains(lower, "dashboard"):
		return []string{
			"Bar chart of claim count by policy number",
			"Pie chart of policies by industry type",
			"Line chart showing claim trends",
		}
	default:
		return []string{
			"Show me the portfolio overview",
			"Analyze policy COMM-2024-016",
			"Create a dashboard with key metrics",
		}
	}
}

// =============================================================================
// Stage 6a: Clarify (no generation call)
// =============================================================================

func (p *Pipeline) clarify(_ context.Context, st *State) {
	if st.Payload.OutOfScope {
		st.Draft = "I'm **RiskMind**, your underwriting co-pilot. " +
			"I'm designed to help with **insurance risk assessment, claims analysis, and portfolio management**.\n\n" +
			"I can't assist with that topic. Here's what I can help with:"
		st.Provider = "guardrail"
		return
	}
	st.Draft = "I'm not entirely sure what you're looking for. " +
		"Could you help me understand better?\n\n" +
		"You can click one of the options below, or rephrase your question with more details."
	st.Provider = "intent-engine"
}

// =============================================================================
// Stage 6b: Reason (generation call)
// =============================================================================

func (p *Pipeline) reason(ctx context.Context, st *State) {
	if p.chain.Len() == 0 {
		st.Draft = providers.BuildMockResponse(st.DataContext, st.GuidelineContext)
		st.Provider = providers.ProviderMock
		return
	}

	text, name, err := p.chain.Generate(ctx, p.buildSystemPrompt(st), p.buildMessages(st))
	if err != nil {
		p.logger.Warn("all generation backends failed, serving mock response",
			slog.String("request_id", st.RequestID),
			slog.String("error", err.Error()))
		st.Draft = providers.BuildMockResponse(st.DataContext, st.GuidelineContext)
		st.Provider = providers.ProviderMock
		return
	}
	st.Draft = text
	st.Provider = name
}

func (p *Pipeline) buildSystemPrompt(st *State) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if st.GuidelineContext != "" {
		b.WriteString("\n\nRELEVANT GUIDELINES:\n")
		b.WriteString(st.GuidelineContext)
	}
	if st.KnowledgeContext != "" {
		b.WriteString("\n\nSIMILAR PAST CASES:\n")
		b.WriteString(st.KnowledgeContext)
	}
	if st.DataContext != "" {
		b.WriteString("\n\nDATABASE CONTEXT (use this real data in your response):\n")
		b.WriteString(st.DataContext)
	}
	return b.String()
}

func (p *Pipeline) buildMessages(st *State) []datatypes.Message {
	history := st.History
	if len(history) > historyReplayDepth {
		history = history[len(history)-historyReplayDepth:]
	}
	messages := make([]datatypes.Message, 0, len(history)+1)
	for _, m := range history {
		role := datatypes.RoleAssistant
		if m.Role == datatypes.RoleUser {
			role = datatypes.RoleUser
		}
		messages = append(messages, datatypes.Message{Role: role, Content: m.Content})
	}
	return append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: st.Message})
}

// =============================================================================
// Stage 7: Validate Output
// =============================================================================

func (p *Pipeline) validateOutput(_ context.Context, st *State) {
	snapshot := st.Snapshot
	if snapshot == nil {
		snapshot = &datatypes.Snapshot{}
	}
	result := guardrail.Validate(st.Draft, snapshot, st.ShowCanvas)
	st.Draft = result.Text
	if !result.Passed {
		st.Provider = "guardrail"
	}
	if result.SuggestCanvasView {
		st.SuggestCanvas = true
	}
	if result.Redactions > 0 {
		p.logger.Warn("fabricated identifiers redacted",
			slog.String("request_id", st.RequestID),
			slog.Int("count", result.Redactions))
	}
}

// =============================================================================
// Stage 8: Format Output
// =============================================================================

func (p *Pipeline) formatOutput(_ context.Context, st *State) {
	trivial := !st.ShowCanvas && !st.SuggestCanvas

	analysis := st.Analysis
	var citations []datatypes.Citation
	switch {
	case trivial:
		analysis = nil
	case st.ShowEvidence:
		citations = analysis.Provenance.Citations
	default:
		// Evidence and provenance are opt-in; strip them from the copy
		// handed to the caller.
		stripped := *analysis
		stripped.Evidence = nil
		stripped.Provenance = datatypes.AnalysisProvenance{}
		analysis = &stripped
	}

	sources := st.Sources
	if trivial {
		sources = nil
	}

	st.Final = &datatypes.ChatResponse{
		Text:                st.Draft,
		Sources:             sources,
		Citations:           citations,
		Provider:            st.Provider,
		AnalysisObject:      analysis,
		InferredIntent:      st.Payload.CanonicalIntent,
		OutputShape:         st.OutputShape,
		ClarificationNeeded: st.ClarifyNeeded,
		SuggestedIntents:    st.SuggestedIntents,
		SuggestedPrompts:    st.SuggestedPrompts,
		UIHints: datatypes.UIHints{
			ShowCanvas:    st.ShowCanvas,
			SuggestCanvas: st.SuggestCanvas,
		},
	}
}
