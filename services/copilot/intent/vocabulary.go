// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import "strings"

// =============================================================================
// Keyword Vocabularies
// =============================================================================
//
// Every vocabulary below is an ordered slice, not a set: matching code walks
// slices in declared order so precedence is explicit and testable rather than
// implied by map iteration. Confusable groups (portfolio-pin phrases vs ad-hoc
// keywords) are kept in separate slices so the router's last-applicable-rule
// pass is visible in one place.

// portfolioPinPhrases pin portfolio_summary before the ad-hoc keyword pass.
// "how many policies" is a count question about the whole book, not an
// ad-hoc slice, even though it contains ad-hoc trigger words.
var portfolioPinPhrases = []string{
	"how many policies",
	"total policies",
	"number of policies",
	"policy count",
}

// adHocKeywords promote a portfolio-scoped message to ad_hoc_query.
var adHocKeywords = []string{
	"list", "show", "count", "average", "total", "top", "highest",
	"lowest", "group", "by", "trend", "compare", "how many", "max", "most",
}

// visualizationKeywords force ad_hoc_query last, even for entity-scoped
// messages (last-applicable-rule-wins).
var visualizationKeywords = []string{
	"trend", "chart", "plot", "graph", "timeline", "over time",
	"by month", "by year", "scatter",
}

// geoKeywords select the geo_risk intent and the geo_map output shape.
var geoKeywords = []string{
	"map", "geo", "geography", "spatial", "geospatial", "location", "region",
}

// evidenceKeywords mark a request for claim attachments or documents.
var evidenceKeywords = []string{
	"evidence", "photo", "video", "image", "pdf", "document", "report",
}

// analysisKeywords gate media analysis together with evidenceKeywords:
// both groups must match before the external analyzer is invoked.
var analysisKeywords = []string{
	"analyze", "explain", "what does", "what shows", "summarize",
	"describe", "findings",
}

// evidenceRequestKeywords mark an explicit ask for citations or lineage.
var evidenceRequestKeywords = []string{
	"evidence", "proof", "citation", "citations", "provenance",
	"lineage", "source", "sources", "reference", "references",
	"transparency", "audit trail", "data lineage",
}

// documentKeywords select the Document canonical intent.
var documentKeywords = []string{"memo", "draft", "document", "write", "underwriting memo"}

// decideKeywords select the Decide canonical intent.
var decideKeywords = []string{"should we", "renew", "accept", "decline", "refer", "decision"}

// analyzeKeywords select the Analyze canonical intent. The trailing space in
// "by " avoids matching words like "bypass".
var analyzeKeywords = []string{
	"trend", "compare", "breakdown", "chart", "dashboard",
	"analysis", "analyze", "by ",
}

// strongIntentKeywords earn a small confidence boost: the user named a
// concrete deliverable.
var strongIntentKeywords = []string{
	"summarize", "trend", "dashboard", "memo", "renew", "decision", "recommend",
}

// domainTerms are insurance vocabulary. A message carrying one of these is
// never treated as out-of-scope and escapes the short-message penalty.
var domainTerms = []string{
	"policy", "claim", "premium", "underwriting", "risk",
	"insurance", "portfolio", "loss", "coverage", "renewal",
	"guideline", "evidence", "decision", "broker", "insured",
}

// offTopicPhrases is the fixed vocabulary of domain-irrelevant topics.
// Matching one flags the message out-of-scope unless a domain term co-occurs.
var offTopicPhrases = []string{
	"weather", "forecast", "temperature today",
	"recipe", "cooking", "ingredients",
	"sports", "football", "basketball", "soccer", "cricket", "baseball",
	"movie", "film", "netflix", "tv show", "music", "song",
	"stock market", "crypto", "bitcoin", "forex", "trading",
	"travel", "vacation", "hotel", "flight",
	"game", "gaming", "video game",
	"joke", "tell me a joke", "funny",
	"write a poem", "write a story", "write code",
	"translate", "what language",
	"math problem", "solve this equation", "calculate",
	"who is the president", "capital of", "population of",
	"define ", "what is a ",
	"news today", "latest news",
	"homework", "assignment",
	"personal advice", "relationship",
	"health advice", "medical", "diagnosis", "symptoms",
}

// greetings are trivial conversational openers that skip retrieval and
// canvas artifacts entirely.
var greetings = []string{
	"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "ok", "okay", "sure", "bye", "goodbye", "help",
	"what can you do", "who are you", "how are you", "yo", "sup",
}

// containsAny reports whether lower contains any of the listed phrases.
// lower must already be lowercased by the caller.
func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// HasDomainTerm reports whether the message carries insurance vocabulary.
func HasDomainTerm(message string) bool {
	return containsAny(strings.ToLower(message), domainTerms)
}

// HasStrongIntentKeyword reports whether the message names a concrete
// deliverable (summary, trend, memo, decision, ...).
func HasStrongIntentKeyword(message string) bool {
	return containsAny(strings.ToLower(message), strongIntentKeywords)
}

// HasVisualizationKeyword reports whether the message explicitly asks for a
// chart, trend, or dashboard-style rendering. Used by the pipeline to keep
// the dashboard output shape even under low confidence, a documented
// exception to the general confidence-gating rule.
func HasVisualizationKeyword(message string) bool {
	lower := strings.ToLower(message)
	return containsAny(lower, visualizationKeywords) ||
		containsAny(lower, []string{"dashboard", "visualization", "widget", "compare", "breakdown", "analysis", "analyze", " by "})
}

// HasGeoKeyword reports whether the message asks for a spatial view. The
// pipeline overrides the output shape to the geo map when it does, even if
// intent routing landed elsewhere.
func HasGeoKeyword(message string) bool {
	return containsAny(strings.ToLower(message), geoKeywords)
}

// WantsEvidence reports whether the message explicitly asks for citations,
// provenance, or an audit trail.
func WantsEvidence(message string) bool {
	return containsAny(strings.ToLower(message), evidenceRequestKeywords)
}

// WantsMediaAnalysis reports whether the message asks for both evidence and
// analysis of it. This is the cost gate in front of the external media
// analyzer: both keyword groups must match.
func WantsMediaAnalysis(message string) bool {
	lower := strings.ToLower(message)
	return containsAny(lower, evidenceKeywords) && containsAny(lower, analysisKeywords)
}

// WantsGuidelineContext reports whether the message references guidance or
// document material worth a retrieval pass against the document store.
func WantsGuidelineContext(message string) bool {
	lower := strings.ToLower(message)
	return containsAny(lower, []string{"guideline", "document", "report", "pdf", "evidence", "inspection"})
}

// IsGreeting reports whether the message is a trivial conversational turn.
// Trailing punctuation is ignored ("thanks!!" is still a greeting).
func IsGreeting(message string) bool {
	msg := strings.TrimRight(strings.TrimSpace(strings.ToLower(message)), "!?.,:;")
	for _, g := range greetings {
		if msg == g {
			return true
		}
	}
	return false
}

// IsOutOfScope reports whether the message is clearly outside the insurance
// and underwriting domain. A domain term co-occurring rescues the message:
// "insurance coverage for flight cancellations" is in scope even though
// "flight" is an off-topic phrase.
func IsOutOfScope(message string) bool {
	lower := strings.TrimSpace(strings.ToLower(message))
	if !containsAny(lower, offTopicPhrases) {
		return false
	}
	return !containsAny(lower, domainTerms)
}
