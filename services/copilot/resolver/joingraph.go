// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Join Graph
// =============================================================================
//
// The join graph is the single source of truth for which tables a query plan
// may touch and how they connect. The generative tier advertises it in the
// prompt, the validator enforces it, and plan provenance records the paths
// actually used. A table absent from this map cannot appear in any executed
// statement, whatever tier produced it.

// joinGraph maps table → reachable table → join condition.
var joinGraph = map[string]map[string]string{
	"policies": {
		"claims":    "policies.id = claims.policy_id",
		"decisions": "policies.policy_number = decisions.policy_number",
	},
	"claims": {
		"policies": "claims.policy_id = policies.id",
	},
	"decisions": {
		"policies": "decisions.policy_number = policies.policy_number",
	},
	"guidelines": {},
	"documents":  {},
	"users":      {},
}

// AllowedTables returns the sorted table allow-list.
func AllowedTables() []string {
	out := make([]string, 0, len(joinGraph))
	for t := range joinGraph {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// JoinPath returns the join condition from table a to table b, or "" when
// no direct path exists.
func JoinPath(a, b string) string {
	return joinGraph[a][b]
}

// joinPathList renders every edge as "a->b: condition" for the generation
// prompt, sorted for prompt stability (stable prompts cache better).
func joinPathList() []string {
	var out []string
	for a, rel := range joinGraph {
		for b, cond := range rel {
			out = append(out, a+"->"+b+": "+cond)
		}
	}
	sort.Strings(out)
	return out
}

// tableRefPattern pulls table names out of FROM and JOIN clauses.
var tableRefPattern = regexp.MustCompile(`(?i)\bfrom\s+([a-zA-Z_][a-zA-Z0-9_]*)|\bjoin\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// extractTables returns the distinct table names referenced by a statement,
// lowercased, in first-appearance order.
func extractTables(sql string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		name = strings.ToLower(name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
