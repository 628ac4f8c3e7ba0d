// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

const citationSnippetLimit = 240

// buildAnalysisObject assembles the structured analysis from plan execution
// results, keyed on the well-known plan item IDs. Unknown IDs land under
// dimensions as raw rows so generative-tier plans still surface their data.
func buildAnalysisObject(payload datatypes.IntentPayload, plan datatypes.QueryPlan, results []*store.QueryResult) *datatypes.AnalysisObject {
	obj := &datatypes.AnalysisObject{
		Context: datatypes.AnalysisContext{
			Intent:       payload.Intent,
			Scope:        payload.Entities.Scope,
			PolicyNumber: payload.Entities.PolicyNumber,
			ClaimNumber:  payload.Entities.ClaimNumber,
		},
		Metrics:    map[string]float64{},
		Dimensions: map[string]any{},
		Provenance: datatypes.AnalysisProvenance{PlanProvenance: plan.Provenance},
	}

	for _, res := range results {
		switch res.ID {
		case "policy_summary":
			if len(res.Rows) == 0 {
				continue
			}
			row := res.Rows[0]
			obj.Metrics["claim_count"] = num(row["claim_count"])
			obj.Metrics["total_amount"] = num(row["total_amount"])
			obj.Metrics["avg_amount"] = num(row["avg_amount"])
			obj.Metrics["max_claim"] = num(row["max_claim"])
			premium := num(row["premium"])
			obj.Metrics["premium"] = premium
			if premium > 0 {
				obj.Metrics["loss_ratio"] = math.Round(num(row["total_amount"])/premium*10000) / 100
			}
			obj.Dimensions["policy_number"] = str(row["policy_number"])
			obj.Dimensions["policyholder_name"] = str(row["policyholder_name"])
			obj.Dimensions["industry_type"] = str(row["industry_type"])
			obj.RiskLabel = riskLabel(obj.Metrics["claim_count"], obj.Metrics["total_amount"])

		case "policy_claims":
			for _, row := range res.Rows {
				obj.Evidence = append(obj.Evidence, mediaEvidence(row)...)
			}

		case "claim_detail":
			if len(res.Rows) == 0 {
				continue
			}
			row := res.Rows[0]
			obj.Metrics["claim_amount"] = num(row["claim_amount"])
			obj.Metrics["premium"] = num(row["premium"])
			obj.Dimensions["claim_number"] = str(row["claim_number"])
			obj.Dimensions["policy_number"] = str(row["policy_number"])
			obj.Dimensions["policyholder_name"] = str(row["policyholder_name"])
			obj.Evidence = append(obj.Evidence, mediaEvidence(row)...)

		case "portfolio_summary":
			if len(res.Rows) == 0 {
				continue
			}
			row := res.Rows[0]
			obj.Metrics["policy_count"] = num(row["policy_count"])
			obj.Metrics["total_premium"] = num(row["total_premium"])

		case "portfolio_claims":
			if len(res.Rows) == 0 {
				continue
			}
			row := res.Rows[0]
			obj.Metrics["claim_count"] = num(row["claim_count"])
			obj.Metrics["total_amount"] = num(row["total_amount"])
			obj.Metrics["avg_amount"] = num(row["avg_amount"])
			obj.Metrics["max_claim"] = num(row["max_claim"])

		case "geo_policies":
			obj.Dimensions["geo_policies"] = res.Rows

		default:
			obj.Dimensions["rows"] = res.Rows
			obj.Dimensions["columns"] = res.Columns
		}
	}
	return obj
}

// riskLabel applies the fixed claim-count / loss thresholds.
func riskLabel(claimCount, totalAmount float64) string {
	switch {
	case claimCount >= 5 || totalAmount >= 100000:
		return "high"
	case claimCount >= 3 || totalAmount >= 50000:
		return "medium"
	default:
		return "low"
	}
}

// mediaEvidence parses a row's evidence_files JSON into media evidence
// items. Entries without a URL are skipped; a malformed blob loses its
// attachments, not the row.
func mediaEvidence(row map[string]any) []datatypes.EvidenceItem {
	raw := str(row["evidence_files"])
	if raw == "" {
		return nil
	}
	var files []datatypes.EvidenceFile
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil
	}
	var out []datatypes.EvidenceItem
	for _, f := range files {
		if f.URL == "" {
			continue
		}
		out = append(out, datatypes.EvidenceItem{
			Kind:        datatypes.EvidenceMedia,
			MediaType:   f.Type,
			URL:         f.URL,
			LocalPath:   f.LocalPath,
			Description: f.Description,
			ClaimNumber: str(row["claim_number"]),
			ClaimDate:   str(row["claim_date"]),
		})
	}
	return out
}

// buildCitations renders the human-readable citation list from the
// analysis evidence.
func buildCitations(analysis *datatypes.AnalysisObject) []datatypes.Citation {
	if analysis == nil {
		return nil
	}
	var out []datatypes.Citation
	for _, ev := range analysis.Evidence {
		switch {
		case ev.Kind == datatypes.EvidenceGuideline:
			title := ev.Title
			if title == "" {
				title = ev.Section
			}
			out = append(out, datatypes.Citation{
				Type:         datatypes.EvidenceGuideline,
				Title:        title,
				Ref:          ev.Section,
				Snippet:      clip(ev.Content, citationSnippetLimit),
				PolicyNumber: ev.PolicyNumber,
			})
		case ev.Kind == datatypes.EvidenceDocument:
			out = append(out, datatypes.Citation{
				Type:    datatypes.EvidenceDocument,
				Title:   ev.Filename,
				Ref:     ev.FilePath,
				Snippet: clip(ev.Summary, citationSnippetLimit),
			})
		case ev.URL != "":
			title := ev.Description
			if title == "" {
				title = ev.Title
			}
			if title == "" {
				title = ev.Filename
			}
			if title == "" {
				title = "Evidence"
			}
			out = append(out, datatypes.Citation{
				Type:  ev.Kind,
				Title: title,
				Ref:   ev.ClaimNumber,
				URL:   ev.URL,
			})
		}
	}
	return out
}

// renderDataContext flattens execution results into the text block the
// model reasons over. Rows print as "col=value" pairs in column order so
// the output is stable across runs.
func renderDataContext(results []*store.QueryResult) string {
	var blocks []string
	for _, res := range results {
		if len(res.Rows) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "### %s\n", res.ID)
		for _, row := range res.Rows {
			cols := res.Columns
			if len(cols) == 0 {
				cols = sortedKeys(row)
			}
			parts := make([]string, 0, len(cols))
			for _, c := range cols {
				parts = append(parts, fmt.Sprintf("%s=%v", c, row[c]))
			}
			b.WriteString("- " + strings.Join(parts, ", ") + "\n")
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Back up so the cut never splits a multi-byte rune.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
