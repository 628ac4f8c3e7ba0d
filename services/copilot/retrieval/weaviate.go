// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
)

// Weaviate property names per class. CaseHistory folds claims and
// decisions into one corpus, told apart by the kind property.
const (
	propSectionCode  = "sectionCode"
	propTitle        = "title"
	propContent      = "content"
	propCategory     = "category"
	propKind         = "kind"
	propPolicyNumber = "policyNumber"
	propDecision     = "decision"
)

// WeaviateConfig locates the Weaviate instance.
type WeaviateConfig struct {
	Host   string // host:port, e.g. "localhost:8080"
	Scheme string // "http" or "https"
}

// WeaviateSearcher implements Searcher against a Weaviate instance.
//
// Thread Safety: Safe for concurrent use; the underlying client is.
type WeaviateSearcher struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateSearcher dials the configured instance.
//
// Inputs:
//   - cfg: Host and scheme. Both required.
//   - logger: Nil uses slog.Default().
//
// Outputs:
//   - *WeaviateSearcher: Ready searcher.
//   - error: Non-nil when the client cannot be constructed.
func NewWeaviateSearcher(cfg WeaviateConfig, logger *slog.Logger) (*WeaviateSearcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("retrieval: weaviate client: %w", err)
	}
	return &WeaviateSearcher{client: client, logger: logger}, nil
}

// SearchGuidelines implements Searcher.
func (s *WeaviateSearcher) SearchGuidelines(ctx context.Context, query string, k int) ([]Result, error) {
	fields := []graphql.Field{
		{Name: propSectionCode},
		{Name: propTitle},
		{Name: propContent},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	return s.search(ctx, CorpusGuideline, query, k, fields, guidelineResult)
}

// SearchCases implements Searcher.
func (s *WeaviateSearcher) SearchCases(ctx context.Context, query string, k int) ([]Result, error) {
	fields := []graphql.Field{
		{Name: propKind},
		{Name: propContent},
		{Name: propPolicyNumber},
		{Name: propDecision},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	return s.search(ctx, CorpusCaseHistory, query, k, fields, caseResult)
}

func (s *WeaviateSearcher) search(ctx context.Context, class, query string, k int, fields []graphql.Field, mapper func(map[string]any) Result) ([]Result, error) {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.search")
	defer span.End()
	span.SetAttributes(attribute.String("corpus", class), attribute.Int("k", k))

	nearText := s.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	resp, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		retrievalSearchTotal.WithLabelValues(class, "error").Inc()
		return nil, fmt.Errorf("retrieval: %s search: %w", class, err)
	}
	if len(resp.Errors) > 0 {
		retrievalSearchTotal.WithLabelValues(class, "error").Inc()
		return nil, fmt.Errorf("retrieval: %s search: %s", class, resp.Errors[0].Message)
	}

	results := parseResults(resp, class, mapper)
	retrievalSearchTotal.WithLabelValues(class, "ok").Inc()
	retrievalResultsKept.WithLabelValues(class).Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// parseResults walks the GraphQL Get payload for one class, maps each object
// and drops everything under MinScore. Output is sorted best-first.
func parseResults(resp *models.GraphQLResponse, class string, mapper func(map[string]any) Result) []Result {
	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	objects, ok := get[class].([]any)
	if !ok {
		return nil
	}

	results := make([]Result, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := mapper(obj)
		r.Score = certainty(obj)
		if r.Score < MinScore {
			continue
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func guidelineResult(obj map[string]any) Result {
	return Result{
		Kind:    KindGuideline,
		Section: str(obj, propSectionCode),
		Title:   str(obj, propTitle),
		Content: str(obj, propContent),
	}
}

func caseResult(obj map[string]any) Result {
	kind := str(obj, propKind)
	if kind != KindDecision {
		kind = KindClaim
	}
	return Result{
		Kind:     kind,
		Section:  str(obj, propPolicyNumber),
		Content:  str(obj, propContent),
		Decision: str(obj, propDecision),
	}
}

func certainty(obj map[string]any) float64 {
	additional, ok := obj["_additional"].(map[string]any)
	if !ok {
		return 0
	}
	c, ok := additional["certainty"].(float64)
	if !ok {
		return 0
	}
	return c
}

func str(obj map[string]any, key string) string {
	v, _ := obj[key].(string)
	return v
}
