// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"container/list"
	"strings"
	"sync"
)

// =============================================================================
// Generation Cache
// =============================================================================

// defaultCacheCapacity bounds the in-memory generation cache. Generated
// statements are small; 100 entries covers a working session of paraphrase
// repeats without unbounded growth.
const defaultCacheCapacity = 100

// GeneratedSQL is one cached generative-tier result: the validated statement
// plus the tables it references (for provenance on replay).
type GeneratedSQL struct {
	Statement string
	Tables    []string
}

// GenerationCache is a bounded LRU of validated generated statements, keyed
// by normalized message text. It is the only cross-request mutable state in
// the resolver; it is injected so tests can supply an empty one.
//
// Thread Safety: Safe for concurrent Get/Put from multiple pipeline runs.
// A single mutex guards both the map and the recency list.
type GenerationCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

// cacheEntry is the recency-list payload.
type cacheEntry struct {
	key   string
	value GeneratedSQL
}

// NewGenerationCache creates a cache with the given capacity. Zero or
// negative uses the default.
func NewGenerationCache(capacity int) *GenerationCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &GenerationCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// NormalizeCacheKey lowercases and trims message text. Two messages with
// identical normalized text share a cache slot.
func NormalizeCacheKey(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

// Get returns the cached result for a normalized key and marks it recently
// used.
func (c *GenerationCache) Get(key string) (GeneratedSQL, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return GeneratedSQL{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Put stores a result under a normalized key, evicting the least recently
// used entry on overflow.
func (c *GenerationCache) Put(key string, value GeneratedSQL) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
}

// Len returns the current entry count.
func (c *GenerationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
