// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package providers

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// =============================================================================
// LangChain Adapter
// =============================================================================

// langchainProvider adapts any langchaingo llms.Model to ChatProvider. All
// four cloud backends share this one adapter; only construction differs.
type langchainProvider struct {
	name  string
	model llms.Model
}

// newLangchainProvider wraps an llms.Model under a backend name.
func newLangchainProvider(name string, model llms.Model) *langchainProvider {
	return &langchainProvider{name: name, model: model}
}

// Generate implements ChatProvider.
func (p *langchainProvider) Generate(ctx context.Context, systemPrompt string, messages []datatypes.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages)+1)
	if systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == datatypes.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	resp, err := p.model.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("%s: empty completion", p.name)
	}
	return resp.Choices[0].Content, nil
}

// Name implements ChatProvider.
func (p *langchainProvider) Name() string { return p.name }
