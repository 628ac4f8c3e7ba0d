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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	providerCallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "providers",
		Name:      "call_total",
		Help:      "Backend calls by provider and outcome: ok, error",
	}, []string{"provider", "outcome"})

	providerCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "providers",
		Name:      "call_latency_seconds",
		Help:      "Latency of backend chat-completion calls",
		Buckets:   []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})

	providerExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "providers",
		Name:      "chain_exhausted_total",
		Help:      "Turns where every configured backend failed",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var providerTracer = otel.Tracer("riskmind.copilot.providers")

// defaultCallTimeout bounds a single backend call. A slow backend must fail
// over to the next one rather than stall the whole turn.
const defaultCallTimeout = 45 * time.Second

// ErrChainExhausted is returned when every configured backend failed, or
// when no backend is configured at all.
var ErrChainExhausted = errors.New("providers: all backends failed")

// Chain iterates chat backends in priority order until one succeeds.
//
// Thread Safety: Safe for concurrent use; the chain is immutable after
// construction and every ChatProvider must be concurrency-safe.
type Chain struct {
	providers   []ChatProvider
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewChain builds a fallback chain over the given backends.
//
// Inputs:
//   - ordered: Backends in priority order. May be empty.
//   - logger: Logger for per-backend failures. Nil uses slog.Default().
//
// Outputs:
//   - *Chain: Never nil.
func NewChain(ordered []ChatProvider, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers:   ordered,
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
}

// Len reports how many backends are configured.
func (c *Chain) Len() int { return len(c.providers) }

// Names returns the backend names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate tries each backend in order and returns the first success.
//
// Description:
//
//	Every backend gets its own bounded timeout derived from ctx. A failure
//	is logged and the next backend is tried; the last error is wrapped
//	into ErrChainExhausted when nothing succeeds. A cancelled parent
//	context stops the walk immediately.
//
// Inputs:
//   - ctx: Context for cancellation. Per-call timeouts are layered on top.
//   - systemPrompt: Instruction + context block for the model.
//   - messages: Conversation turns, oldest first.
//
// Outputs:
//   - string: Reply text from the first backend that succeeded.
//   - string: Name of that backend. Empty on total failure.
//   - error: ErrChainExhausted (wrapping the last backend error) when every
//     backend failed or none is configured.
func (c *Chain) Generate(ctx context.Context, systemPrompt string, messages []datatypes.Message) (string, string, error) {
	ctx, span := providerTracer.Start(ctx, "providers.chain.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("chain.length", len(c.providers)))

	var lastErr error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		start := time.Now()
		text, err := p.Generate(callCtx, systemPrompt, messages)
		cancel()
		providerCallLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			providerCallTotal.WithLabelValues(p.Name(), "error").Inc()
			c.logger.Warn("backend failed, trying next",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}

		providerCallTotal.WithLabelValues(p.Name(), "ok").Inc()
		span.SetAttributes(attribute.String("chain.winner", p.Name()))
		return text, p.Name(), nil
	}

	providerExhaustedTotal.Inc()
	if lastErr != nil {
		return "", "", errors.Join(ErrChainExhausted, lastErr)
	}
	return "", "", ErrChainExhausted
}

// ChainCompleter adapts the chain to the narrower completer surface used by
// SQL generation, where only the reply text matters.
type ChainCompleter struct {
	chain *Chain
}

// NewChainCompleter wraps a chain. Returns a nil interface for an empty
// chain so callers can pass the result straight through as "generation
// disabled"; returning the concrete pointer here would hand out a typed
// nil that defeats downstream nil checks.
func NewChainCompleter(chain *Chain) ChatProvider {
	if chain == nil || chain.Len() == 0 {
		return nil
	}
	return &ChainCompleter{chain: chain}
}

func (c *ChainCompleter) Generate(ctx context.Context, systemPrompt string, messages []datatypes.Message) (string, error) {
	text, _, err := c.chain.Generate(ctx, systemPrompt, messages)
	return text, err
}

// Name reports the highest-priority backend.
func (c *ChainCompleter) Name() string {
	return c.chain.providers[0].Name()
}

// ProviderStatus is one backend's entry in the status report.
type ProviderStatus struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Status reports the configured chain for the providers endpoint. The mock
// fallback is listed last so operators can see the floor explicitly.
func (c *Chain) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(c.providers)+1)
	for i, p := range c.providers {
		out = append(out, ProviderStatus{Name: p.Name(), Priority: i + 1})
	}
	out = append(out, ProviderStatus{Name: ProviderMock, Priority: len(c.providers) + 1})
	return out
}
