// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"strings"
	"unicode/utf8"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// fallbackContentLimit bounds how much of each guideline the small-table
// fallback quotes. The fallback lists every guideline, so entries stay short.
const fallbackContentLimit = 200

// GuidelineContext renders guideline matches as a prompt block, one line
// per match. Empty input yields an empty string.
func GuidelineContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, "- ["+r.Section+"] "+r.Content)
	}
	return strings.Join(lines, "\n")
}

// GuidelineSources extracts the compact source references for guideline
// matches, in result order.
func GuidelineSources(results []Result) []datatypes.Source {
	sources := make([]datatypes.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, datatypes.Source{Section: r.Section, Title: r.Title})
	}
	return sources
}

// GuidelineFallback renders the full guideline table as a reference listing.
// Used when the corpus search returned fewer than two matches, so the model
// still sees the house rules, just without ranking.
func GuidelineFallback(guidelines []datatypes.Guideline) string {
	if len(guidelines) == 0 {
		return ""
	}
	lines := make([]string, 0, len(guidelines)+1)
	lines = append(lines, "FULL GUIDELINE REFERENCE:")
	for _, g := range guidelines {
		content := g.Content
		if len(content) > fallbackContentLimit {
			cut := fallbackContentLimit
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut]
		}
		lines = append(lines, "- ["+g.SectionCode+"] "+g.Title+": "+content)
	}
	return strings.Join(lines, "\n")
}

// CaseContext renders case-history matches as a prompt block, claims first,
// then decisions. Decision matches also yield source references carrying
// the policy number and outcome.
func CaseContext(results []Result) (string, []datatypes.Source) {
	var claimLines, decisionLines []string
	var sources []datatypes.Source

	for _, r := range results {
		switch r.Kind {
		case KindDecision:
			decisionLines = append(decisionLines, "- "+r.Content)
			if r.Section != "" {
				sources = append(sources, datatypes.Source{
					Section: r.Section,
					Title:   strings.ToUpper(r.Decision) + " decision",
				})
			}
		default:
			claimLines = append(claimLines, "- "+r.Content)
		}
	}

	var parts []string
	if len(claimLines) > 0 {
		parts = append(parts, "SIMILAR PAST CLAIMS:\n"+strings.Join(claimLines, "\n"))
	}
	if len(decisionLines) > 0 {
		parts = append(parts, "SIMILAR PAST DECISIONS:\n"+strings.Join(decisionLines, "\n"))
	}
	return strings.Join(parts, "\n\n"), sources
}
