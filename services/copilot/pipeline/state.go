// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

// State is the accumulator threaded through the stages. Each stage writes
// only the fields it owns; nothing here is shared across runs.
type State struct {
	RequestID string
	Message   string
	History   []datatypes.Message

	// route_intent
	Payload datatypes.IntentPayload

	// fetch_data
	Snapshot    *datatypes.Snapshot
	Plan        datatypes.QueryPlan
	Results     []*store.QueryResult
	DataContext string
	Analysis    *datatypes.AnalysisObject

	// fetch_guidelines
	GuidelineContext string
	Sources          []datatypes.Source

	// fetch_knowledge
	KnowledgeContext string

	// check_confidence
	Confidence       int
	ReasonCodes      []string
	ClarifyNeeded    bool
	SuggestedIntents []datatypes.SuggestedIntent
	SuggestedPrompts []string
	OutputShape      datatypes.OutputShape
	ShowCanvas       bool
	SuggestCanvas    bool
	ShowEvidence     bool

	// clarify / reason
	Draft    string
	Provider string

	// format_output
	Final *datatypes.ChatResponse
}

// substantive reports whether the message warrants data and retrieval work.
// Greetings and off-topic messages skip straight to the response stages.
func (st *State) substantive() bool {
	return !st.Payload.Greeting && !st.Payload.OutOfScope
}
