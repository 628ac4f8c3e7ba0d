// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command riskmind runs the RiskMind underwriting co-pilot.
//
// Usage:
//
//	riskmind serve          # start the API server
//	riskmind index          # seed the Weaviate corpora from the database
//
// The server reads service settings from RISKMIND_* environment variables
// and provider credentials from the usual provider variables
// (GOOGLE_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS_ACCESS_KEY_ID /
// AWS_SECRET_ACCESS_KEY). With no credentials configured, responses come
// from the deterministic mock floor.
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/copilot/health
//
//	# Backend status
//	curl http://localhost:8080/v1/copilot/providers | jq
//
//	# Chat
//	curl -X POST http://localhost:8080/v1/copilot/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"message": "Analyze policy COMM-2024-001"}'
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var debugMode bool

func main() {
	root := &cobra.Command{
		Use:   "riskmind",
		Short: "RiskMind underwriting co-pilot",
	}
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging and request logs")
	root.AddCommand(newServeCommand(), newIndexCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the process-wide structured logger.
func setupLogging() *slog.Logger {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
