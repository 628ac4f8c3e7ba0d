// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"strings"
	"testing"
)

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare statement",
			raw:  "SELECT * FROM claims",
			want: "SELECT * FROM claims",
		},
		{
			name: "code fence with language tag",
			raw:  "```sql\nSELECT * FROM claims\n```",
			want: "SELECT * FROM claims",
		},
		{
			name: "prose before select",
			raw:  "Here is the query you asked for:\nSELECT * FROM policies",
			want: "SELECT * FROM policies",
		},
		{
			name: "truncates after first semicolon",
			raw:  "SELECT * FROM claims; DROP TABLE claims",
			want: "SELECT * FROM claims;",
		},
		{
			name: "empty input",
			raw:  "   ",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanSQL(tt.raw); got != tt.want {
				t.Errorf("cleanSQL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidateSQL_RejectsMutation(t *testing.T) {
	// Hard security invariant: no mutating statement may pass, whatever
	// the casing or position of the keyword.
	tests := []string{
		"INSERT INTO claims VALUES (1)",
		"UPDATE policies SET premium = 0",
		"DELETE FROM claims",
		"DROP TABLE policies",
		"ALTER TABLE claims ADD COLUMN x",
		"PRAGMA table_info(claims)",
		"ATTACH DATABASE 'x' AS y",
		"SELECT * FROM claims WHERE id IN (DELETE FROM claims)",
		"select * from claims; drop table claims",
	}
	for _, sql := range tests {
		if _, err := validateSQL(sql); err == nil {
			t.Errorf("validateSQL(%q) accepted a mutating statement", sql)
		}
	}
}

func TestValidateSQL_RejectsNonSelect(t *testing.T) {
	if _, err := validateSQL("WITH x AS (SELECT 1) SELECT * FROM x"); err == nil {
		t.Error("statement not starting with SELECT must be rejected")
	}
}

func TestValidateSQL_RejectsDisallowedTables(t *testing.T) {
	tables, err := validateSQL("SELECT * FROM accounts JOIN claims ON 1=1")
	if err == nil {
		t.Fatal("expected rejection for table outside allow-list")
	}
	if !strings.Contains(err.Error(), "accounts") {
		t.Errorf("rejection should name the offending table, got %v", err)
	}
	if len(tables) != 2 {
		t.Errorf("expected extracted tables returned for provenance, got %v", tables)
	}
}

func TestValidateSQL_AcceptsAllowedJoin(t *testing.T) {
	tables, err := validateSQL("SELECT p.policy_number FROM policies p LEFT JOIN claims c ON p.id = c.policy_id;")
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if len(tables) != 2 || tables[0] != "policies" || tables[1] != "claims" {
		t.Errorf("expected [policies claims], got %v", tables)
	}
}

func TestExtractTables_Dedup(t *testing.T) {
	tables := extractTables("SELECT * FROM claims c JOIN policies p ON 1=1 JOIN claims c2 ON 1=1")
	if len(tables) != 2 {
		t.Errorf("expected deduplicated tables, got %v", tables)
	}
}

func TestGenerationPrompt_AdvertisesAllowList(t *testing.T) {
	prompt := generationPrompt()
	for _, table := range AllowedTables() {
		if !strings.Contains(prompt, table) {
			t.Errorf("prompt missing allowed table %q", table)
		}
	}
	if !strings.Contains(prompt, "policies.id = claims.policy_id") {
		t.Error("prompt missing join path")
	}
}
