// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ltm-analytics/riskmind/services/copilot"
	"github.com/ltm-analytics/riskmind/services/copilot/config"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
	"github.com/ltm-analytics/riskmind/services/copilot/pipeline"
	"github.com/ltm-analytics/riskmind/services/copilot/providers"
	"github.com/ltm-analytics/riskmind/services/copilot/resolver"
	"github.com/ltm-analytics/riskmind/services/copilot/retrieval"
	badgerstore "github.com/ltm-analytics/riskmind/services/copilot/storage/badger"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the RiskMind API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger := setupLogging()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext so spans correlate with upstream callers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	searcher, err := retrieval.NewWeaviateSearcher(retrieval.WeaviateConfig{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect retrieval backend: %w", err)
	}

	chain := providers.NewChainFromEnv(ctx, logger)

	// Generation-cache persistence degrades gracefully: if the cache
	// directory cannot be opened, the cache runs in memory only.
	var cacheStore resolver.GenerationCacheStore
	if cfg.CacheDir != "" {
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = cfg.CacheDir
		cacheDB, err := badgerstore.OpenDB(bcfg)
		if err != nil {
			logger.Warn("generation cache persistence unavailable, continuing in-memory",
				slog.String("dir", cfg.CacheDir),
				slog.String("error", err.Error()))
		} else {
			defer cacheDB.Close()
			cacheStore = resolver.NewBadgerGenerationCacheStore(cacheDB, 0, logger)
		}
	}

	res := resolver.New(resolver.Options{
		Store:                cacheStore,
		Completer:            providers.NewChainCompleter(chain),
		GenerationsPerMinute: cfg.GenerationsPerMinute,
		GenerationTimeout:    cfg.GenerationTimeout,
		Logger:               logger,
	})

	pipe := pipeline.New(pipeline.Options{
		Router:   intent.NewRouter(logger),
		Resolver: res,
		Store:    db,
		Searcher: searcher,
		Chain:    chain,
		Logger:   logger,
	})

	handlers := copilot.NewHandlers(copilot.NewService(pipe, chain, logger))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("riskmind"))
	if debugMode {
		router.Use(gin.Logger())
	}
	copilot.RegisterRoutes(router.Group("/v1"), handlers)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("riskmind listening",
			slog.String("addr", cfg.ListenAddr),
			slog.Int("generation_backends", chain.Len()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
