// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ltm-analytics/riskmind/services/copilot/config"
	"github.com/ltm-analytics/riskmind/services/copilot/retrieval"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

func newIndexCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Seed the Weaviate corpora from the reference database",
		Long: "Reads guidelines, claims and decisions from the SQLite database and " +
			"upserts them into the Guideline and CaseHistory corpora. Skips corpora " +
			"that already hold objects unless --force is set.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reindex even when the corpora are already populated")
	return cmd
}

func runIndex(ctx context.Context, force bool) error {
	logger := setupLogging()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	snapshot, err := db.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	indexer, err := retrieval.NewIndexer(retrieval.WeaviateConfig{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect retrieval backend: %w", err)
	}
	indexer.Force = force

	if err := indexer.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	guidelines, err := indexer.IndexGuidelines(ctx, snapshot.Guidelines)
	if err != nil {
		return fmt.Errorf("index guidelines: %w", err)
	}
	cases, err := indexer.IndexCases(ctx, snapshot.Claims, snapshot.Decisions)
	if err != nil {
		return fmt.Errorf("index cases: %w", err)
	}

	logger.Info("indexing complete",
		slog.Int("guidelines", guidelines),
		slog.Int("cases", cases))
	return nil
}
