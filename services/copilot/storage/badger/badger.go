// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger is a thin lifecycle wrapper around BadgerDB. It owns
// opening, transaction scoping with context awareness, and closing; all
// domain-specific key layout lives with the callers.
package badger

import (
	"context"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory opens a non-persistent instance. Used by tests.
	InMemory bool

	// SyncWrites forces fsync on every write. Off by default: cache data
	// is reconstructible, so losing the last few writes on crash is fine.
	SyncWrites bool
}

// DefaultConfig returns the production configuration. The caller must set
// Path before opening.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for a throwaway in-memory instance.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB wraps an open BadgerDB instance.
//
// Thread Safety: Safe for concurrent use. Transactions are per-goroutine.
type DB struct {
	inner *dgbadger.DB
}

// OpenDB opens a BadgerDB instance with the given configuration.
//
// Inputs:
//   - cfg: Open configuration. Path must be non-empty unless InMemory.
//
// Outputs:
//   - *DB: The opened database. Nil on error.
//   - error: Non-nil if the directory cannot be opened or locked.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger: path required for on-disk database")
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	slog.Debug("badger opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return &DB{inner: inner}, nil
}

// WithTxn runs fn inside a read-write transaction. The transaction commits
// when fn returns nil and discards otherwise. Returns the context error
// without starting the transaction if ctx is already done.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.View(fn)
}

// Close releases the database. Safe to call once; the caller owns the
// lifecycle and typically defers this in main.
func (d *DB) Close() error {
	if err := d.inner.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}
