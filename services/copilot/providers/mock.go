// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import "strings"

// mockGuidelineContextLimit caps how much retrieved guideline text the mock
// surfaces verbatim. The mock cannot summarize, so it quotes a prefix.
const mockGuidelineContextLimit = 600

const mockSetupFootnote = "\n\n*For AI-powered insights, configure a Google API key or AWS Bedrock credentials in the service environment.*"

const mockGreeting = "I'm **RiskMind**. Try asking:\n" +
	"- \"Analyze COMM-2024-001\"\n" +
	"- \"Show me the claims overview\"\n" +
	"- \"Which policies are high risk?\"\n" +
	"- \"What's the portfolio breakdown by industry?\"\n\n" +
	"*Set `GOOGLE_API_KEY` or AWS Bedrock credentials for full AI capabilities.*"

// BuildMockResponse assembles a deterministic reply without calling a model.
//
// Description:
//
//	Floor of the generation ladder. When no backend is configured or every
//	backend fails, the pipeline still returns a grounded answer: the raw
//	data context verbatim, followed by a bounded excerpt of the retrieved
//	guidelines, plus a setup footnote. With no context at all it returns a
//	short capability menu instead.
//
// Inputs:
//   - dataContext: Rendered query results for this turn. May be empty.
//   - guidelineContext: Retrieved guideline text. May be empty.
//
// Outputs:
//   - string: The reply text. Never empty.
//
// Thread Safety: Pure function.
func BuildMockResponse(dataContext, guidelineContext string) string {
	var parts []string
	if strings.TrimSpace(dataContext) != "" {
		parts = append(parts, strings.TrimSpace(dataContext))
	}
	if guidelineContext != "" {
		excerpt := guidelineContext
		if len(excerpt) > mockGuidelineContextLimit {
			excerpt = excerpt[:mockGuidelineContextLimit]
		}
		parts = append(parts, "\n**Relevant Guidelines:**", excerpt)
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n") + mockSetupFootnote
	}
	return mockGreeting
}
