// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

// =============================================================================
// GenerationCacheStore: Generated-SQL Persistence
// =============================================================================
//
// Generated statements are expensive (a model round-trip per novel message)
// but fully deterministic to replay once validated. This store persists them
// in BadgerDB between service restarts so a restart does not re-bill the
// provider for yesterday's questions.
//
// Design choices:
//
//	1. BadgerDB (not the analytics database): generated SQL is service
//	   infrastructure, not reference data. BadgerDB is embedded, so no network
//	   call, no availability dependency.
//
//	2. Message hash as key: SHA256 of the normalized message text. The hash
//	   keys a small fixed-size record regardless of message length.
//
//	3. BadgerDB native TTL: expiry is enforced by Badger's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which the store
//	   treats as a cache miss.
//
// Storage layout:
//
//	copilot/sql/v1/{messageHash}  →  gob-encoded GeneratedSQL
//	                                 TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/ltm-analytics/riskmind/services/copilot/storage/badger"
)

// sqlCacheDefaultTTL is the default lifetime of a persisted statement.
// Long enough to survive weekends and short deployments without keeping
// stale generations indefinitely.
const sqlCacheDefaultTTL = 7 * 24 * time.Hour

// sqlCacheKeyPrefix is prepended to the message hash. Versioned (v1) to
// allow future format changes without collision.
const sqlCacheKeyPrefix = "copilot/sql/v1/"

// errCacheMiss distinguishes "key not found" from a genuine storage error.
var errCacheMiss = errors.New("cache miss")

// GenerationCacheStore persists validated generated statements across
// restarts.
//
// Both methods are nil-safe by convention: the Resolver checks for a nil
// store and skips persistence, operating in in-memory-only mode. That is
// the correct behavior for tests and for deployments without a cache
// directory configured.
//
// Thread Safety: Implementations must be safe for concurrent use.
type GenerationCacheStore interface {
	// LoadSQL retrieves a persisted statement for the given message hash.
	//
	// Returns (zero, false, nil) on cache miss (key absent or TTL expired).
	// Returns (zero, false, error) on storage failure.
	LoadSQL(ctx context.Context, messageHash string) (GeneratedSQL, bool, error)

	// SaveSQL persists a validated statement under the given message hash.
	// The store applies the TTL automatically. Persistence failure is
	// non-fatal; the caller logs a warning and continues.
	SaveSQL(ctx context.Context, messageHash string, value GeneratedSQL) error
}

// BadgerGenerationCacheStore implements GenerationCacheStore backed by a
// BadgerDB instance opened at startup.
//
// Thread Safety: Safe for concurrent use. Transactions are per-goroutine.
type BadgerGenerationCacheStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerGenerationCacheStore creates a store backed by the given DB.
// The caller owns the DB lifecycle; this store does not close it.
//
// Inputs:
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Lifetime for each entry. Pass 0 to use the default (7 days).
//   - logger: Logger for hit/miss diagnostics. May be nil.
//
// Outputs:
//   - *BadgerGenerationCacheStore: Ready-to-use store. Never nil.
func NewBadgerGenerationCacheStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerGenerationCacheStore {
	if db == nil {
		panic("NewBadgerGenerationCacheStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = sqlCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerGenerationCacheStore{db: db, ttl: ttl, logger: logger}
}

// LoadSQL retrieves a persisted statement. Misses (including TTL expiry)
// return (zero, false, nil).
func (s *BadgerGenerationCacheStore) LoadSQL(ctx context.Context, messageHash string) (GeneratedSQL, bool, error) {
	key := []byte(sqlCacheKeyPrefix + messageHash)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		s.logger.Debug("sql cache: miss", slog.String("hash", shortHash(messageHash)))
		return GeneratedSQL{}, false, nil
	}
	if err != nil {
		return GeneratedSQL{}, false, fmt.Errorf("sql cache load: %w", err)
	}

	var value GeneratedSQL
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&value); err != nil {
		return GeneratedSQL{}, false, fmt.Errorf("sql cache decode: %w", err)
	}

	s.logger.Debug("sql cache: hit", slog.String("hash", shortHash(messageHash)))
	return value, true, nil
}

// SaveSQL persists a validated statement with the configured TTL.
func (s *BadgerGenerationCacheStore) SaveSQL(ctx context.Context, messageHash string, value GeneratedSQL) error {
	if value.Statement == "" {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("sql cache encode: %w", err)
	}

	key := []byte(sqlCacheKeyPrefix + messageHash)
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, buf.Bytes()).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("sql cache save: %w", err)
	}

	s.logger.Debug("sql cache: saved",
		slog.String("hash", shortHash(messageHash)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// HashMessage computes the cache key hash for a message: hex SHA256 of the
// normalized text.
func HashMessage(message string) string {
	sum := sha256.Sum256([]byte(NormalizeCacheKey(message)))
	return hex.EncodeToString(sum[:])
}

// shortHash truncates a hash for log lines.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
