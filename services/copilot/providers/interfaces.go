// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package providers holds the chat-completion backends and the ordered
// fallback chain that the pipeline's reasoning stage iterates. Each backend
// is independently swappable behind ChatProvider; unavailability and
// exceptions are treated uniformly across all of them.
//
// Priority order: bedrock, gemini, claude, openai. When every backend is
// unavailable, callers fall back to the deterministic mock response built
// from the retrieved context (see BuildMockResponse).
//
// Thread Safety:
//
//	All implementations in this package must be safe for concurrent use.
package providers

import (
	"context"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// ChatProvider is one chat-completion backend.
type ChatProvider interface {
	// Generate sends the system prompt plus conversation messages and
	// returns the assistant's reply text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout. Implementations must
	//     honor it; a slow backend must not stall the pipeline.
	//   - systemPrompt: Instruction + context block.
	//   - messages: Conversation turns, oldest first.
	//
	// Outputs:
	//   - string: Reply text. Empty only alongside a non-nil error.
	//   - error: Non-nil on any backend failure.
	Generate(ctx context.Context, systemPrompt string, messages []datatypes.Message) (string, error)

	// Name identifies the backend for logging and response provenance
	// (e.g. "bedrock", "gemini", "claude", "openai", "mock").
	Name() string
}
