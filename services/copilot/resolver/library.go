// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Curated Library
// =============================================================================

//go:embed library.yaml
var defaultLibraryYAML []byte

// LibraryEntry is one pre-vetted read statement with routing triggers.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type LibraryEntry struct {
	// ID is the unique entry identifier (category-number, e.g. "PF-001").
	ID string `yaml:"id"`

	// Description is a human-readable summary of what the query returns.
	Description string `yaml:"description"`

	// Statement is the SQLite SELECT. Parameterized slots use :name.
	Statement string `yaml:"statement"`

	// Params maps required parameter names to descriptions. Empty for
	// parameter-free entries.
	Params map[string]string `yaml:"params"`

	// Category is the logical grouping, used for documentation endpoints.
	Category string `yaml:"category"`

	// Triggers are the phrase patterns checked against the lowercased
	// user message.
	Triggers []string `yaml:"triggers"`

	// ChartType is the suggested visualization (metric, bar, line, pie,
	// table, map, card).
	ChartType string `yaml:"chart_type"`

	// IsAggregate is true when the result is a single summary row.
	IsAggregate bool `yaml:"is_aggregate"`
}

// libraryFile is the YAML document shape.
type libraryFile struct {
	Entries []LibraryEntry `yaml:"entries"`
}

// MatcherConfig tunes the fallback token-overlap pass. The defaults are
// empirically chosen, not derived; boundary behavior is pinned by tests so
// the constants can be adjusted without surprises.
type MatcherConfig struct {
	// MinScore is the minimum matched-trigger-words / total-trigger-words
	// ratio. Matches at exactly MinScore are accepted.
	MinScore float64

	// MinOverlap is the minimum count of distinct overlapping words.
	// Matches at exactly MinOverlap are accepted.
	MinOverlap int
}

// DefaultMatcherConfig returns the production matcher thresholds.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{MinScore: 0.4, MinOverlap: 2}
}

// Library is the loaded curated statement set.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Library struct {
	entries []LibraryEntry
	cfg     MatcherConfig
}

// LoadLibrary parses a YAML library document.
//
// Inputs:
//   - raw: YAML bytes. Must contain at least one entry.
//   - cfg: Matcher thresholds. Zero values fall back to the defaults.
//
// Outputs:
//   - *Library: The loaded library. Nil on error.
//   - error: Non-nil on parse failure, empty library, or duplicate IDs.
func LoadLibrary(raw []byte, cfg MatcherConfig) (*Library, error) {
	var doc libraryFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("library: parse yaml: %w", err)
	}
	if len(doc.Entries) == 0 {
		return nil, fmt.Errorf("library: no entries")
	}

	seen := make(map[string]struct{}, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.ID == "" || e.Statement == "" {
			return nil, fmt.Errorf("library: entry missing id or statement")
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("library: duplicate entry id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMatcherConfig().MinScore
	}
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = DefaultMatcherConfig().MinOverlap
	}
	return &Library{entries: doc.Entries, cfg: cfg}, nil
}

// DefaultLibrary loads the embedded curated library with default thresholds.
// Panics on parse failure: the embedded file ships with the binary, so a
// failure here is a build defect, not a runtime condition.
func DefaultLibrary() *Library {
	lib, err := LoadLibrary(defaultLibraryYAML, DefaultMatcherConfig())
	if err != nil {
		panic(fmt.Sprintf("resolver: embedded library invalid: %v", err))
	}
	return lib
}

// Len returns the number of entries.
func (l *Library) Len() int { return len(l.entries) }

// ByID returns the entry with the given ID, or nil.
func (l *Library) ByID(id string) *LibraryEntry {
	for i := range l.entries {
		if l.entries[i].ID == id {
			return &l.entries[i]
		}
	}
	return nil
}

// Categories returns category → entry IDs, in registration order.
func (l *Library) Categories() map[string][]string {
	out := make(map[string][]string)
	for _, e := range l.entries {
		out[e.Category] = append(out[e.Category], e.ID)
	}
	return out
}

// wordPattern tokenizes messages and triggers into bare words.
var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Match finds the best library entry for a message.
//
// Description:
//
//	Two passes. Pass 1 checks every trigger phrase for an exact substring
//	match against the lowercased message; the first-registered match wins.
//	Pass 2 scores every entry by token overlap: distinct message words
//	intersected with the entry's combined trigger vocabulary, divided by
//	the vocabulary size. The best score wins, accepted only when it meets
//	both MinScore and MinOverlap. Strictly-better scores replace earlier
//	candidates, so equal scores keep the first-registered entry.
//
// Inputs:
//   - message: The raw user message.
//
// Outputs:
//   - *LibraryEntry: Best match, or nil when nothing clears the thresholds.
//
// Thread Safety: Safe for concurrent use.
func (l *Library) Match(message string) *LibraryEntry {
	lower := strings.ToLower(strings.TrimSpace(message))

	for i := range l.entries {
		for _, trigger := range l.entries[i].Triggers {
			if strings.Contains(lower, trigger) {
				return &l.entries[i]
			}
		}
	}

	msgWords := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(lower, -1) {
		msgWords[w] = struct{}{}
	}

	var (
		best      *LibraryEntry
		bestScore float64
	)
	for i := range l.entries {
		vocab := make(map[string]struct{})
		for _, trigger := range l.entries[i].Triggers {
			for _, w := range wordPattern.FindAllString(trigger, -1) {
				vocab[w] = struct{}{}
			}
		}
		if len(vocab) == 0 {
			continue
		}

		overlap := 0
		for w := range msgWords {
			if _, ok := vocab[w]; ok {
				overlap++
			}
		}
		score := float64(overlap) / float64(len(vocab))
		if overlap >= l.cfg.MinOverlap && score > bestScore {
			bestScore = score
			best = &l.entries[i]
		}
	}

	if best != nil && bestScore >= l.cfg.MinScore {
		return best
	}
	return nil
}
