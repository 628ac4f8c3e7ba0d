// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store owns the relational side of the co-pilot: a short-TTL read
// snapshot of the core tables that pipeline runs execute against, and the
// read-query executor that runs validated plan items. The snapshot supports
// concurrent readers with a single-writer refresh; the executor re-checks
// every statement against the resolver's gates before touching the database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	storeSnapshotTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskmind",
		Subsystem: "store",
		Name:      "snapshot_total",
		Help:      "Snapshot requests by outcome: hit, refresh, error",
	}, []string{"outcome"})

	storeQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskmind",
		Subsystem: "store",
		Name:      "query_latency_seconds",
		Help:      "Latency of plan-item executions",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var storeTracer = otel.Tracer("riskmind.copilot.store")

// defaultSnapshotTTL bounds snapshot staleness. The dataset changes slowly;
// re-reading every turn would be waste, serving minutes-old data would not.
const defaultSnapshotTTL = 30 * time.Second

// Store wraps the SQLite dataset.
//
// Thread Safety: Safe for concurrent use. Snapshot refresh is serialized by
// the mutex; readers of a returned snapshot never see it mutated.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.Mutex
	snapshot *datatypes.Snapshot
}

// Open opens the dataset at path.
//
// Inputs:
//   - path: SQLite database file.
//   - logger: Nil uses slog.Default().
//
// Outputs:
//   - *Store: Ready store.
//   - error: Non-nil when the database cannot be opened.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already-open database. Tests use this with an
// in-memory instance.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Store {
	if db == nil {
		panic("store: nil db")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, ttl: defaultSnapshotTTL}
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Snapshot returns the current read view, refreshing it when stale.
//
// Description:
//
//	The cached snapshot is returned as long as it is within TTL. On
//	expiry, the four table sections are loaded concurrently and swapped in
//	atomically under the mutex; a failed refresh keeps serving the stale
//	snapshot when one exists, so a transient database problem degrades
//	rather than breaks the pipeline.
//
// Outputs:
//   - *datatypes.Snapshot: Immutable once returned. Never nil on nil error.
//   - error: Non-nil only when loading failed and no prior snapshot exists.
func (s *Store) Snapshot(ctx context.Context) (*datatypes.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && time.Since(s.snapshot.FetchedAt) < s.ttl {
		storeSnapshotTotal.WithLabelValues("hit").Inc()
		return s.snapshot, nil
	}

	ctx, span := storeTracer.Start(ctx, "store.snapshot.refresh")
	defer span.End()

	fresh, err := s.load(ctx)
	if err != nil {
		storeSnapshotTotal.WithLabelValues("error").Inc()
		if s.snapshot != nil {
			s.logger.Warn("snapshot refresh failed, serving stale view",
				slog.String("error", err.Error()),
				slog.Duration("age", time.Since(s.snapshot.FetchedAt)))
			return s.snapshot, nil
		}
		return nil, err
	}

	storeSnapshotTotal.WithLabelValues("refresh").Inc()
	s.snapshot = fresh
	return s.snapshot, nil
}

func (s *Store) load(ctx context.Context) (*datatypes.Snapshot, error) {
	snap := &datatypes.Snapshot{FetchedAt: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Policies, err = s.loadPolicies(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Claims, err = s.loadClaims(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Decisions, err = s.loadDecisions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Guidelines, err = s.loadGuidelines(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) loadPolicies(ctx context.Context) ([]datatypes.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_number, policyholder_name, industry_type,
		       effective_date, expiration_date, premium, latitude, longitude
		FROM policies
		ORDER BY policy_number`)
	if err != nil {
		return nil, fmt.Errorf("store: load policies: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Policy
	for rows.Next() {
		var p datatypes.Policy
		if err := rows.Scan(&p.ID, &p.PolicyNumber, &p.PolicyholderName, &p.IndustryType,
			&p.EffectiveDate, &p.ExpirationDate, &p.Premium, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadClaims(ctx context.Context) ([]datatypes.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.claim_number, c.policy_id, COALESCE(p.policy_number, ''),
		       c.claim_date, c.claim_amount, c.claim_type, c.status,
		       COALESCE(c.description, ''), COALESCE(c.evidence_files, '')
		FROM claims c
		LEFT JOIN policies p ON p.id = c.policy_id
		ORDER BY c.claim_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: load claims: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Claim
	for rows.Next() {
		var c datatypes.Claim
		var evidenceJSON string
		if err := rows.Scan(&c.ID, &c.ClaimNumber, &c.PolicyID, &c.PolicyNumber,
			&c.ClaimDate, &c.ClaimAmount, &c.ClaimType, &c.Status,
			&c.Description, &evidenceJSON); err != nil {
			return nil, fmt.Errorf("store: scan claim: %w", err)
		}
		if evidenceJSON != "" {
			// Malformed attachment metadata loses the attachments, not
			// the claim row.
			if err := json.Unmarshal([]byte(evidenceJSON), &c.EvidenceFiles); err != nil {
				s.logger.Warn("unparseable evidence_files",
					slog.String("claim", c.ClaimNumber),
					slog.String("error", err.Error()))
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadDecisions(ctx context.Context) ([]datatypes.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_number, decision, COALESCE(reason, ''),
		       COALESCE(risk_level, ''), COALESCE(decided_by, '')
		FROM decisions
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: load decisions: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Decision
	for rows.Next() {
		var d datatypes.Decision
		if err := rows.Scan(&d.PolicyNumber, &d.Decision, &d.Reason, &d.RiskLevel, &d.DecidedBy); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) loadGuidelines(ctx context.Context) ([]datatypes.Guideline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section_code, title, content, COALESCE(category, '')
		FROM guidelines
		ORDER BY section_code`)
	if err != nil {
		return nil, fmt.Errorf("store: load guidelines: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Guideline
	for rows.Next() {
		var g datatypes.Guideline
		if err := rows.Scan(&g.SectionCode, &g.Title, &g.Content, &g.Category); err != nil {
			return nil, fmt.Errorf("store: scan guideline: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
