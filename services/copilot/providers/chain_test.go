// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

type fakeBackend struct {
	name  string
	reply string
	err   error
	calls atomic.Int64
}

func (f *fakeBackend) Generate(_ context.Context, _ string, _ []datatypes.Message) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeBackend) Name() string { return f.name }

func TestChainFirstSuccessWins(t *testing.T) {
	first := &fakeBackend{name: "alpha", reply: "from alpha"}
	second := &fakeBackend{name: "beta", reply: "from beta"}
	chain := NewChain([]ChatProvider{first, second}, nil)

	text, winner, err := chain.Generate(context.Background(), "sys", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "from alpha" || winner != "alpha" {
		t.Errorf("Generate() = (%q, %q), want from alpha", text, winner)
	}
	if second.calls.Load() != 0 {
		t.Errorf("second backend called %d times, want 0", second.calls.Load())
	}
}

func TestChainFallsOverOnFailure(t *testing.T) {
	first := &fakeBackend{name: "alpha", err: errors.New("quota exceeded")}
	second := &fakeBackend{name: "beta", reply: "from beta"}
	chain := NewChain([]ChatProvider{first, second}, nil)

	text, winner, err := chain.Generate(context.Background(), "sys", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if winner != "beta" || text != "from beta" {
		t.Errorf("Generate() = (%q, %q), want fallover to beta", text, winner)
	}
	if first.calls.Load() != 1 {
		t.Errorf("first backend called %d times, want 1", first.calls.Load())
	}
}

func TestChainExhausted(t *testing.T) {
	boom := errors.New("backend down")
	chain := NewChain([]ChatProvider{
		&fakeBackend{name: "alpha", err: boom},
		&fakeBackend{name: "beta", err: boom},
	}, nil)

	_, winner, err := chain.Generate(context.Background(), "sys", nil)
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("Generate() error = %v, want ErrChainExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Generate() error should wrap the last backend error, got %v", err)
	}
	if winner != "" {
		t.Errorf("winner = %q, want empty on exhaustion", winner)
	}
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain(nil, nil)
	_, _, err := chain.Generate(context.Background(), "sys", nil)
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("Generate() on empty chain error = %v, want ErrChainExhausted", err)
	}
	if chain.Len() != 0 {
		t.Errorf("Len() = %d, want 0", chain.Len())
	}
}

func TestChainHonorsCancelledContext(t *testing.T) {
	backend := &fakeBackend{name: "alpha", reply: "unused"}
	chain := NewChain([]ChatProvider{backend}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := chain.Generate(ctx, "sys", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if backend.calls.Load() != 0 {
		t.Errorf("backend called %d times after cancellation, want 0", backend.calls.Load())
	}
}

func TestChainStatusListsMockFloor(t *testing.T) {
	chain := NewChain([]ChatProvider{
		&fakeBackend{name: "alpha"},
		&fakeBackend{name: "beta"},
	}, nil)

	status := chain.Status()
	if len(status) != 3 {
		t.Fatalf("Status() returned %d entries, want 3", len(status))
	}
	if status[0].Name != "alpha" || status[0].Priority != 1 {
		t.Errorf("status[0] = %+v, want alpha at priority 1", status[0])
	}
	if status[2].Name != ProviderMock || status[2].Priority != 3 {
		t.Errorf("status[2] = %+v, want mock floor last", status[2])
	}
}

func TestChainCompleter(t *testing.T) {
	if got := NewChainCompleter(NewChain(nil, nil)); got != nil {
		t.Errorf("NewChainCompleter(empty) = %v, want nil", got)
	}

	backend := &fakeBackend{name: "alpha", reply: "SELECT 1"}
	completer := NewChainCompleter(NewChain([]ChatProvider{backend}, nil))
	if completer == nil {
		t.Fatal("NewChainCompleter() = nil for non-empty chain")
	}
	if completer.Name() != "alpha" {
		t.Errorf("Name() = %q, want alpha", completer.Name())
	}
	text, err := completer.Generate(context.Background(), "sys", nil)
	if err != nil || text != "SELECT 1" {
		t.Errorf("Generate() = (%q, %v), want SELECT 1", text, err)
	}
}

func TestBuildMockResponse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		guideline string
		wants     []string
		notWants  []string
	}{
		{
			name:      "data and guidelines",
			data:      "Portfolio: 20 policies, $4.2M premium",
			guideline: "Underwriting guideline UW-7: review concentrations above 30%.",
			wants:     []string{"Portfolio: 20 policies", "**Relevant Guidelines:**", "UW-7", "AI-powered insights"},
		},
		{
			name:  "data only",
			data:  "Claim CLM-2024-001: $45,000 open",
			wants: []string{"CLM-2024-001", "AI-powered insights"},
			notWants: []string{
				"**Relevant Guidelines:**",
			},
		},
		{
			name:      "guideline excerpt is bounded",
			guideline: strings.Repeat("x", 2000),
			wants:     []string{"**Relevant Guidelines:**"},
			notWants:  []string{strings.Repeat("x", 601)},
		},
		{
			name:  "no context falls back to menu",
			wants: []string{"I'm **RiskMind**", "Analyze COMM-2024-001", "claims overview"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildMockResponse(tt.data, tt.guideline)
			if got == "" {
				t.Fatal("BuildMockResponse() returned empty string")
			}
			for _, w := range tt.wants {
				if !strings.Contains(got, w) {
					t.Errorf("response missing %q:\n%s", w, got)
				}
			}
			for _, nw := range tt.notWants {
				if strings.Contains(got, nw) {
					t.Errorf("response should not contain %q", nw)
				}
			}
		})
	}
}
