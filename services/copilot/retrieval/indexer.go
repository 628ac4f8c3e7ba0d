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

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// Indexer seeds the two corpora from the relational dataset. Object IDs are
// content-derived UUIDs, so re-running the indexer upserts instead of
// duplicating.
type Indexer struct {
	client *weaviate.Client
	logger *slog.Logger

	// Force bypasses the already-indexed count check and reindexes
	// unconditionally.
	Force bool
}

// idNamespace salts the deterministic object IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("riskmind/corpus/v1"))

// NewIndexer dials the configured instance.
func NewIndexer(cfg WeaviateConfig, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("retrieval: weaviate client: %w", err)
	}
	return &Indexer{client: client, logger: logger}, nil
}

// EnsureSchema creates the corpus classes when they are missing. Existing
// classes are left untouched, so a schema change needs a manual migration.
func (ix *Indexer) EnsureSchema(ctx context.Context) error {
	classes := []*models.Class{
		{
			Class:       CorpusGuideline,
			Description: "Underwriting guideline sections",
			Properties: []*models.Property{
				{Name: propSectionCode, DataType: []string{"text"}},
				{Name: propTitle, DataType: []string{"text"}},
				{Name: propContent, DataType: []string{"text"}},
				{Name: propCategory, DataType: []string{"text"}},
			},
		},
		{
			Class:       CorpusCaseHistory,
			Description: "Past claims and underwriting decisions",
			Properties: []*models.Property{
				{Name: propKind, DataType: []string{"text"}},
				{Name: propContent, DataType: []string{"text"}},
				{Name: propPolicyNumber, DataType: []string{"text"}},
				{Name: propDecision, DataType: []string{"text"}},
			},
		},
	}

	for _, class := range classes {
		exists, err := ix.client.Schema().ClassExistenceChecker().WithClassName(class.Class).Do(ctx)
		if err != nil {
			return fmt.Errorf("retrieval: check class %s: %w", class.Class, err)
		}
		if exists {
			continue
		}
		if err := ix.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("retrieval: create class %s: %w", class.Class, err)
		}
		ix.logger.Info("created corpus class", slog.String("class", class.Class))
	}
	return nil
}

// IndexGuidelines upserts the guideline corpus.
//
// Description:
//
//	Skips the batch when the corpus already holds at least as many objects
//	as the table, so repeated seeding is cheap. Otherwise every guideline
//	is upserted under its content-derived ID.
//
// Outputs:
//   - int: Number of objects indexed (0 when skipped).
//   - error: Non-nil on count or batch failure.
func (ix *Indexer) IndexGuidelines(ctx context.Context, guidelines []datatypes.Guideline) (int, error) {
	if len(guidelines) == 0 {
		return 0, nil
	}

	existing, err := ix.count(ctx, CorpusGuideline)
	if err != nil {
		return 0, err
	}
	if !ix.Force && existing >= len(guidelines) {
		ix.logger.Info("guideline corpus already indexed",
			slog.Int("existing", existing), slog.Int("table", len(guidelines)))
		return 0, nil
	}

	objects := make([]*models.Object, 0, len(guidelines))
	for _, g := range guidelines {
		objects = append(objects, &models.Object{
			Class: CorpusGuideline,
			ID:    objectID("guideline", g.SectionCode),
			Properties: map[string]any{
				propSectionCode: g.SectionCode,
				propTitle:       g.Title,
				propContent:     fmt.Sprintf("Section %s - %s: %s", g.SectionCode, g.Title, g.Content),
				propCategory:    g.Category,
			},
		})
	}
	if err := ix.upsert(ctx, objects); err != nil {
		return 0, err
	}
	ix.logger.Info("indexed guideline corpus", slog.Int("objects", len(objects)))
	return len(objects), nil
}

// IndexCases upserts the case-history corpus from past claims and decisions.
func (ix *Indexer) IndexCases(ctx context.Context, claims []datatypes.Claim, decisions []datatypes.Decision) (int, error) {
	total := len(claims) + len(decisions)
	if total == 0 {
		return 0, nil
	}

	existing, err := ix.count(ctx, CorpusCaseHistory)
	if err != nil {
		return 0, err
	}
	if !ix.Force && existing >= total {
		ix.logger.Info("case corpus already indexed",
			slog.Int("existing", existing), slog.Int("table", total))
		return 0, nil
	}

	objects := make([]*models.Object, 0, total)
	for _, c := range claims {
		content := fmt.Sprintf("Claim %s on policy %s: %s claim of $%.0f, status %s. %s",
			c.ClaimNumber, c.PolicyNumber, c.ClaimType, c.ClaimAmount, c.Status, c.Description)
		objects = append(objects, &models.Object{
			Class: CorpusCaseHistory,
			ID:    objectID("claim", c.ClaimNumber),
			Properties: map[string]any{
				propKind:         KindClaim,
				propContent:      content,
				propPolicyNumber: c.PolicyNumber,
			},
		})
	}
	for _, d := range decisions {
		content := fmt.Sprintf("Policy %s was %s (%s risk): %s",
			d.PolicyNumber, d.Decision, d.RiskLevel, d.Reason)
		objects = append(objects, &models.Object{
			Class: CorpusCaseHistory,
			ID:    objectID("decision", d.PolicyNumber),
			Properties: map[string]any{
				propKind:         KindDecision,
				propContent:      content,
				propPolicyNumber: d.PolicyNumber,
				propDecision:     d.Decision,
			},
		})
	}
	if err := ix.upsert(ctx, objects); err != nil {
		return 0, err
	}
	ix.logger.Info("indexed case corpus", slog.Int("objects", len(objects)))
	return len(objects), nil
}

func (ix *Indexer) upsert(ctx context.Context, objects []*models.Object) error {
	resp, err := ix.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("retrieval: batch upsert: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("retrieval: batch object %s: %s", item.ID, item.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// count reads the object count for one class via the Aggregate API.
func (ix *Indexer) count(ctx context.Context, class string) (int, error) {
	resp, err := ix.client.GraphQL().Aggregate().
		WithClassName(class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("retrieval: count %s: %w", class, err)
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("retrieval: count %s: %s", class, resp.Errors[0].Message)
	}

	aggregate, ok := resp.Data["Aggregate"].(map[string]any)
	if !ok {
		return 0, nil
	}
	rows, ok := aggregate[class].([]any)
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]any)
	if !ok {
		return 0, nil
	}
	meta, ok := row["meta"].(map[string]any)
	if !ok {
		return 0, nil
	}
	n, _ := meta["count"].(float64)
	return int(n), nil
}

func objectID(kind, key string) strfmt.UUID {
	id := uuid.NewSHA1(idNamespace, []byte(kind+"/"+key))
	return strfmt.UUID(id.String())
}
