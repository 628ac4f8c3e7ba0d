// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared domain types for the RiskMind
// co-pilot pipeline. Every type here is created fresh per incoming message
// and discarded at response time; none carries cross-request mutable state.
//
// Thread Safety:
//
//	All types in this package are plain value carriers. Instances are owned
//	by a single pipeline run and must not be shared across runs.
package datatypes

import "time"

// =============================================================================
// Conversation
// =============================================================================

// Message roles used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// Intent
// =============================================================================

// Intent identifies the classified purpose of a user message.
type Intent string

// Intents, ordered roughly from most to least specific.
const (
	IntentPolicyRiskSummary Intent = "policy_risk_summary"
	IntentClaimSummary      Intent = "claim_summary"
	IntentAdHocQuery        Intent = "ad_hoc_query"
	IntentGeoRisk           Intent = "geo_risk"
	IntentPortfolioSummary  Intent = "portfolio_summary"
)

// CanonicalIntent is the coarse intent family a message maps to.
type CanonicalIntent string

// Canonical intent families. Ties resolve toward Understand.
const (
	CanonicalUnderstand CanonicalIntent = "Understand"
	CanonicalAnalyze    CanonicalIntent = "Analyze"
	CanonicalDecide     CanonicalIntent = "Decide"
	CanonicalDocument   CanonicalIntent = "Document"
)

// OutputShape is the hint for how the caller should render the answer.
type OutputShape string

// Output shapes recognized by the renderer layer.
const (
	ShapeAnalysis  OutputShape = "analysis"
	ShapeDashboard OutputShape = "dashboard"
	ShapeMemo      OutputShape = "memo"
	ShapeDecision  OutputShape = "decision"
	ShapeCard      OutputShape = "card"
	ShapeGeoMap    OutputShape = "geo_map"
)

// Entity scopes.
const (
	ScopePortfolio = "portfolio"
	ScopePolicy    = "policy"
	ScopeClaim     = "claim"
)

// Entities holds the identifier references extracted from a message.
// Identifiers are only ever copied out of literal message or history text;
// the router never fabricates one.
type Entities struct {
	PolicyNumber string `json:"policy_number,omitempty"`
	ClaimNumber  string `json:"claim_number,omitempty"`
	Scope        string `json:"scope"`
}

// IntentPayload is the immutable result of intent routing. It is derived
// purely from the message text and recent history.
type IntentPayload struct {
	Intent           Intent          `json:"intent"`
	Entities         Entities        `json:"entities"`
	CanonicalIntent  CanonicalIntent `json:"canonical_intent"`
	OutputShape      OutputShape     `json:"output_shape"`
	RecommendedModes []OutputShape   `json:"recommended_modes"`
	EvidenceNeeded   bool            `json:"evidence_needed"`
	OutOfScope       bool            `json:"out_of_scope"`
	Greeting         bool            `json:"greeting"`
}

// =============================================================================
// Query Plans
// =============================================================================

// Tier identifies which query-resolution strategy produced a plan item.
// Lower tiers are cheaper and safer and always win when they match.
type Tier int

const (
	// TierTemplate is the deterministic parameterized-template tier.
	TierTemplate Tier = 1
	// TierLibrary is the curated pre-vetted statement library.
	TierLibrary Tier = 2
	// TierGenerative is the model-generated, validator-gated tier.
	TierGenerative Tier = 3
	// TierNone marks an empty plan produced when no strategy applied
	// and no generative provider was configured.
	TierNone Tier = 4
)

// String returns the provenance label for a tier.
func (t Tier) String() string {
	switch t {
	case TierTemplate:
		return "template"
	case TierLibrary:
		return "library"
	case TierGenerative:
		return "generative"
	case TierNone:
		return "none"
	default:
		return "unknown"
	}
}

// QueryItem is a single read-only statement in a plan.
type QueryItem struct {
	ID         string         `json:"id"`
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SourceTier Tier           `json:"source_tier"`
	ChartType  string         `json:"chart_type,omitempty"`
}

// PlanProvenance records where a plan came from and what it touches.
type PlanProvenance struct {
	TablesUsed     []string `json:"tables_used"`
	JoinPaths      []string `json:"join_paths"`
	QueryIDs       []string `json:"query_ids"`
	GenerationTier Tier     `json:"generation_tier"`
	Notes          []string `json:"notes,omitempty"`
}

// QueryPlan is a validated, read-only set of data-access statements plus
// provenance metadata. A plan is read-only by construction: the resolver
// never emits a mutating statement and the executor re-checks.
type QueryPlan struct {
	Items      []QueryItem    `json:"items"`
	Provenance PlanProvenance `json:"provenance"`
}

// =============================================================================
// Evidence & Citations
// =============================================================================

// Evidence kinds.
const (
	EvidenceGuideline = "guideline"
	EvidenceDocument  = "document"
	EvidenceMedia     = "media"
	EvidenceDecision  = "decision"
)

// EvidenceItem is one citable piece of supporting context. Kind selects
// which of the optional fields are meaningful.
type EvidenceItem struct {
	Kind string `json:"kind"`

	// Guideline fields.
	Section  string `json:"section,omitempty"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content,omitempty"`
	Category string `json:"category,omitempty"`

	// Document fields.
	Filename string `json:"filename,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Summary  string `json:"summary,omitempty"`

	// Media fields.
	MediaType       string `json:"media_type,omitempty"`
	URL             string `json:"url,omitempty"`
	LocalPath       string `json:"local_path,omitempty"`
	Description     string `json:"description,omitempty"`
	AnalysisSummary string `json:"analysis_summary,omitempty"`

	// Decision fields.
	Decision string `json:"decision,omitempty"`

	// Cross-cutting fields.
	PolicyNumber string  `json:"policy_number,omitempty"`
	ClaimNumber  string  `json:"claim_number,omitempty"`
	ClaimDate    string  `json:"claim_date,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// Citation is the human-readable reference rendered for an EvidenceItem.
type Citation struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Ref          string `json:"ref,omitempty"`
	Snippet      string `json:"snippet,omitempty"`
	URL          string `json:"url,omitempty"`
	PolicyNumber string `json:"policy_number,omitempty"`
}

// Source is a compact reference shown alongside the response text.
type Source struct {
	Section string `json:"section"`
	Title   string `json:"title"`
}

// =============================================================================
// Analysis Object
// =============================================================================

// AnalysisContext identifies what an AnalysisObject is about.
type AnalysisContext struct {
	Intent       Intent `json:"intent"`
	Scope        string `json:"scope"`
	PolicyNumber string `json:"policy_number,omitempty"`
	ClaimNumber  string `json:"claim_number,omitempty"`
}

// AnalysisProvenance is PlanProvenance enriched after retrieval and scoring.
// Enrichment is additive: citations and reason codes append, never replace.
type AnalysisProvenance struct {
	PlanProvenance

	Citations   []Citation `json:"citations,omitempty"`
	Confidence  int        `json:"confidence"`
	ReasonCodes []string   `json:"confidence_reason_codes,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// AnalysisObject is built once per request from plan execution results.
// After assembly only provenance enrichment (retrieval appending evidence
// and citations) mutates it.
type AnalysisObject struct {
	Context    AnalysisContext    `json:"context"`
	Metrics    map[string]float64 `json:"metrics"`
	Dimensions map[string]any     `json:"dimensions"`
	Evidence   []EvidenceItem     `json:"evidence"`
	RiskLabel  string             `json:"risk_label,omitempty"`
	Provenance AnalysisProvenance `json:"provenance"`
}

// =============================================================================
// Response
// =============================================================================

// SuggestedIntent is one clickable option offered on the clarify path.
type SuggestedIntent struct {
	Label       string      `json:"label"`
	Intent      string      `json:"intent"`
	OutputShape OutputShape `json:"output_shape,omitempty"`
	Example     string      `json:"example,omitempty"`
	Keywords    []string    `json:"keywords,omitempty"`
}

// UIHints carries rendering hints for the calling layer.
type UIHints struct {
	ShowCanvas    bool `json:"show_canvas"`
	SuggestCanvas bool `json:"suggest_canvas"`
}

// ChatResponse is the single object produced for the calling layer.
type ChatResponse struct {
	Text                string            `json:"text"`
	Sources             []Source          `json:"sources"`
	Citations           []Citation        `json:"citations,omitempty"`
	Provider            string            `json:"provider_used"`
	AnalysisObject      *AnalysisObject   `json:"analysis_object,omitempty"`
	InferredIntent      CanonicalIntent   `json:"inferred_intent"`
	OutputShape         OutputShape       `json:"output_shape"`
	ClarificationNeeded bool              `json:"clarification_needed"`
	SuggestedIntents    []SuggestedIntent `json:"suggested_intents,omitempty"`
	SuggestedPrompts    []string          `json:"suggested_prompts,omitempty"`
	UIHints             UIHints           `json:"ui_hints"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Policy is one row of the policies reference data.
type Policy struct {
	ID               int64    `json:"id"`
	PolicyNumber     string   `json:"policy_number"`
	PolicyholderName string   `json:"policyholder_name"`
	IndustryType     string   `json:"industry_type"`
	Premium          float64  `json:"premium"`
	EffectiveDate    string   `json:"effective_date"`
	ExpirationDate   string   `json:"expiration_date"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// EvidenceFile is one attachment recorded on a claim.
type EvidenceFile struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	LocalPath   string `json:"local_path,omitempty"`
	Description string `json:"description,omitempty"`
}

// Claim is one row of the claims reference data.
type Claim struct {
	ID            int64          `json:"id"`
	ClaimNumber   string         `json:"claim_number"`
	PolicyID      int64          `json:"policy_id"`
	PolicyNumber  string         `json:"policy_number"`
	ClaimDate     string         `json:"claim_date"`
	ClaimAmount   float64        `json:"claim_amount"`
	ClaimType     string         `json:"claim_type"`
	Status        string         `json:"status"`
	Description   string         `json:"description,omitempty"`
	EvidenceFiles []EvidenceFile `json:"evidence_files,omitempty"`
}

// Decision is one prior underwriting decision.
type Decision struct {
	PolicyNumber string `json:"policy_number"`
	Decision     string `json:"decision"`
	Reason       string `json:"reason"`
	RiskLevel    string `json:"risk_level"`
	DecidedBy    string `json:"decided_by,omitempty"`
}

// Guideline is one row of the underwriting guideline reference table.
type Guideline struct {
	SectionCode string `json:"section_code"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Category    string `json:"category,omitempty"`
}

// Snapshot is the short-TTL read view of the underlying dataset that a
// pipeline run executes against. It is immutable once handed to a run.
type Snapshot struct {
	Policies   []Policy    `json:"policies"`
	Claims     []Claim     `json:"claims"`
	Decisions  []Decision  `json:"decisions"`
	Guidelines []Guideline `json:"guidelines"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// KnownPolicyNumbers returns the set of policy identifiers present in the
// snapshot, for guardrail fabrication checks.
func (s *Snapshot) KnownPolicyNumbers() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Policies))
	for _, p := range s.Policies {
		if p.PolicyNumber != "" {
			out[p.PolicyNumber] = struct{}{}
		}
	}
	return out
}

// KnownClaimNumbers returns the set of claim identifiers present in the
// snapshot, for guardrail fabrication checks.
func (s *Snapshot) KnownClaimNumbers() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Claims))
	for _, c := range s.Claims {
		if c.ClaimNumber != "" {
			out[c.ClaimNumber] = struct{}{}
		}
	}
	return out
}
