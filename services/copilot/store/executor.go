// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/resolver"
)

// QueryResult is the row set produced by one plan item.
type QueryResult struct {
	ID      string           `json:"id"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Execute runs one validated plan item and returns its rows.
//
// Description:
//
//	The statement is re-checked against the resolver's gates first, so an
//	item that somehow bypassed resolution is rejected here rather than
//	executed. Parameters bind by name, matching the :name placeholders the
//	resolver emits.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - item: Plan item. Statement must be a validated read query.
//
// Outputs:
//   - *QueryResult: Columns in statement order, rows as column→value maps.
//   - error: Validation rejection or database failure.
func (s *Store) Execute(ctx context.Context, item datatypes.QueryItem) (*QueryResult, error) {
	if err := resolver.ValidateStatement(item.Statement); err != nil {
		return nil, fmt.Errorf("store: refusing plan item %s: %w", item.ID, err)
	}

	ctx, span := storeTracer.Start(ctx, "store.execute")
	defer span.End()
	span.SetAttributes(attribute.String("plan.item", item.ID))

	args := make([]any, 0, len(item.Parameters))
	for name, value := range item.Parameters {
		args = append(args, sql.Named(name, value))
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, item.Statement, args...)
	storeQueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("store: execute %s: %w", item.ID, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("store: columns %s: %w", item.ID, err)
	}

	result := &QueryResult{ID: item.ID, Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", item.ID, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			// database/sql hands back []byte for TEXT under some
			// drivers; normalize so downstream rendering sees strings.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

// ExecutePlan runs every item in a plan, in order. The first failure stops
// execution; results for completed items are returned alongside the error so
// callers can still render partial context.
func (s *Store) ExecutePlan(ctx context.Context, plan datatypes.QueryPlan) ([]*QueryResult, error) {
	results := make([]*QueryResult, 0, len(plan.Items))
	for _, item := range plan.Items {
		res, err := s.Execute(ctx, item)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
