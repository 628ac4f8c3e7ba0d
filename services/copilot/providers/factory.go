// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"context"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// =============================================================================
// Provider Factory
// =============================================================================

// Backend names, in chain priority order.
const (
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderClaude  = "claude"
	ProviderOpenAI  = "openai"
	ProviderMock    = "mock"
)

// Default models per backend. Overridable via env.
const (
	defaultBedrockModel   = "anthropic.claude-3-sonnet-20240229-v1:0"
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultOpenAIModel    = "gpt-4o-mini"
)

// factories maps backend name to its constructor. Each constructor returns
// nil when the backend's credentials are absent; absence is a configuration
// state, not an error.
var factories = []struct {
	name string
	make func(ctx context.Context, logger *slog.Logger) ChatProvider
}{
	{ProviderBedrock, makeBedrock},
	{ProviderGemini, makeGemini},
	{ProviderClaude, makeClaude},
	{ProviderOpenAI, makeOpenAI},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func makeBedrock(_ context.Context, logger *slog.Logger) ChatProvider {
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		return nil
	}
	model, err := bedrock.New(bedrock.WithModel(envOr("BEDROCK_MODEL", defaultBedrockModel)))
	if err != nil {
		logger.Warn("bedrock unavailable", slog.String("error", err.Error()))
		return nil
	}
	return newLangchainProvider(ProviderBedrock, model)
}

func makeGemini(ctx context.Context, logger *slog.Logger) ChatProvider {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		return nil
	}
	model, err := googleai.New(ctx,
		googleai.WithAPIKey(key),
		googleai.WithDefaultModel(envOr("GEMINI_MODEL", defaultGeminiModel)),
	)
	if err != nil {
		logger.Warn("gemini unavailable", slog.String("error", err.Error()))
		return nil
	}
	return newLangchainProvider(ProviderGemini, model)
}

func makeClaude(_ context.Context, logger *slog.Logger) ChatProvider {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil
	}
	model, err := anthropic.New(
		anthropic.WithToken(key),
		anthropic.WithModel(envOr("ANTHROPIC_MODEL", defaultAnthropicModel)),
	)
	if err != nil {
		logger.Warn("claude unavailable", slog.String("error", err.Error()))
		return nil
	}
	return newLangchainProvider(ProviderClaude, model)
}

func makeOpenAI(_ context.Context, logger *slog.Logger) ChatProvider {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	model, err := openai.New(
		openai.WithToken(key),
		openai.WithModel(envOr("OPENAI_MODEL", defaultOpenAIModel)),
	)
	if err != nil {
		logger.Warn("openai unavailable", slog.String("error", err.Error()))
		return nil
	}
	return newLangchainProvider(ProviderOpenAI, model)
}

// NewChainFromEnv constructs the fallback chain from the environment.
//
// Description:
//
//	Walks the backend factories in priority order and keeps every backend
//	whose credentials are configured. PREFERRED_LLM_PROVIDER moves a named
//	backend to the front without removing the others. The chain may be
//	empty when nothing is configured; callers fall back to the
//	deterministic mock response, which needs the raw context strings and
//	therefore lives outside the generic Generate signature.
//
// Inputs:
//   - ctx: Used by backends that dial during construction.
//   - logger: Logger for per-backend availability. Nil uses slog.Default().
//
// Outputs:
//   - *Chain: The ordered chain. Never nil; may hold zero backends.
func NewChainFromEnv(ctx context.Context, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}

	var ordered []ChatProvider
	for _, f := range factories {
		if p := f.make(ctx, logger); p != nil {
			ordered = append(ordered, p)
		}
	}

	if preferred := os.Getenv("PREFERRED_LLM_PROVIDER"); preferred != "" {
		for i, p := range ordered {
			if p.Name() == preferred && i > 0 {
				ordered = append(ordered[:i], ordered[i+1:]...)
				ordered = append([]ChatProvider{p}, ordered...)
				break
			}
		}
	}

	names := make([]string, 0, len(ordered))
	for _, p := range ordered {
		names = append(names, p.Name())
	}
	if len(names) == 0 {
		logger.Warn("no generation backends configured, responses fall back to the deterministic mock")
	} else {
		logger.Info("provider chain constructed", slog.Any("providers", names))
	}

	return NewChain(ordered, logger)
}
