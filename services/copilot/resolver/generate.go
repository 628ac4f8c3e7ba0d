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
	"strings"
)

// =============================================================================
// Generative Tier: SQL Cleaning & Validation
// =============================================================================
//
// The model's raw reply is untrusted text. It passes through two gates
// before anything downstream sees it: cleanSQL normalizes the reply into a
// bare statement, and validateSQL enforces the read-only contract. A plan
// that fails validation is rejected with a citable reason; it is never
// silently discarded and never executed. The executor re-runs the same
// validation as defense in depth.

// forbiddenKeywords are mutating or escape-hatch SQL keywords. Presence of
// any one anywhere in the statement rejects it outright.
var forbiddenKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "pragma", "attach",
}

var (
	codeFencePattern = regexp.MustCompile("(?i)```(?:sql)?")
	selectTailPattern = regexp.MustCompile(`(?is)select\b.*`)
)

// ValidationError explains why a generated statement was rejected.
type ValidationError struct {
	Reason string
	Tables []string
}

func (e *ValidationError) Error() string {
	return "sql rejected: " + e.Reason
}

// cleanSQL normalizes a raw model reply into a bare statement: code fences
// stripped, everything before the first SELECT dropped, everything after the
// first semicolon dropped.
func cleanSQL(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return ""
	}

	if strings.Contains(cleaned, "```") {
		cleaned = strings.TrimSpace(codeFencePattern.ReplaceAllString(cleaned, ""))
	}

	match := selectTailPattern.FindString(cleaned)
	if match == "" {
		return cleaned
	}

	sql := match
	if idx := strings.Index(sql, "```"); idx >= 0 {
		sql = sql[:idx]
	}
	if idx := strings.Index(sql, ";"); idx >= 0 {
		sql = sql[:idx+1]
	}
	return strings.TrimSpace(sql)
}

// validateSQL enforces the read-only contract on a cleaned statement.
//
// Description:
//
//	Three checks, all mandatory: the statement must start with SELECT
//	(case-insensitive), must not contain any forbidden keyword, and every
//	table it references must be in the join-graph allow-list. The returned
//	table list feeds plan provenance.
//
// Inputs:
//   - sql: Cleaned statement. Trailing semicolons are tolerated.
//
// Outputs:
//   - []string: Referenced tables, first-appearance order. Nil on the first
//     two failure modes.
//   - error: *ValidationError describing the rejection, or nil.
func validateSQL(sql string) ([]string, error) {
	clean := strings.TrimSuffix(strings.TrimSpace(sql), ";")
	lower := strings.ToLower(clean)

	if !strings.HasPrefix(lower, "select") {
		return nil, &ValidationError{Reason: "only SELECT statements are allowed"}
	}
	for _, word := range forbiddenKeywords {
		if strings.Contains(lower, word) {
			return nil, &ValidationError{Reason: "unsafe keyword detected: " + word}
		}
	}

	tables := extractTables(clean)
	var disallowed []string
	for _, t := range tables {
		if _, ok := joinGraph[t]; !ok {
			disallowed = append(disallowed, t)
		}
	}
	if len(disallowed) > 0 {
		return tables, &ValidationError{
			Reason: "disallowed tables: " + strings.Join(disallowed, ", "),
			Tables: tables,
		}
	}
	return tables, nil
}

// ValidateStatement re-checks a statement against the tier-3 gates. The
// executor calls this before touching the database, so a statement that
// somehow bypassed resolution is still rejected at the last line of defense.
func ValidateStatement(sql string) error {
	_, err := validateSQL(sql)
	return err
}

// generationPrompt builds the system prompt for the generative tier. The
// allow-list and join paths are advertised explicitly so the model has no
// reason to invent tables; the validator rejects it anyway if it does.
func generationPrompt() string {
	return fmt.Sprintf(`You are an SQL assistant for SQLite.
Return ONLY a SQL SELECT statement. No prose, no markdown.
Allowed tables: %s
Allowed join paths: %s`,
		strings.Join(AllowedTables(), ", "),
		strings.Join(joinPathList(), "; "),
	)
}
