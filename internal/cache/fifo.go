// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

// Package cache provides the bounded insertion-order cache used for
// geohash -> location id deduplication on the ingest hot path.
package cache

import (
	"sync"
)

// fifoEntry is a node in the insertion-order doubly-linked list.
type fifoEntry struct {
	key   string
	value int64
	prev  *fifoEntry
	next  *fifoEntry
}

// FIFOCache is a thread-safe bounded map with insertion-order eviction.
//
// Unlike an LRU, a Get does NOT refresh an entry's position: when the
// cache is full the oldest-inserted entry is evicted regardless of how
// recently it was read. Entries have no TTL. Eviction is harmless for
// the dedupe use case; the next miss re-reads the id from the store's
// unique index.
//
// O(1) Get, Add and eviction via a doubly-linked list plus a hashmap,
// with sentinel head/tail nodes.
type FIFOCache struct {
	mu sync.RWMutex

	// capacity is the maximum number of entries
	capacity int

	// items maps keys to linked list nodes for O(1) lookup
	items map[string]*fifoEntry

	// head.next is the newest insertion, tail.prev the oldest
	head *fifoEntry
	tail *fifoEntry

	// stats
	hits   int64
	misses int64
}

// NewFIFOCache creates a cache with the given capacity.
func NewFIFOCache(capacity int) *FIFOCache {
	if capacity <= 0 {
		capacity = 10000
	}

	c := &FIFOCache{
		capacity: capacity,
		items:    make(map[string]*fifoEntry, capacity),
		head:     &fifoEntry{},
		tail:     &fifoEntry{},
	}

	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get retrieves a value. The entry's eviction position is unchanged.
func (c *FIFOCache) Get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.misses++
		return 0, false
	}
	c.hits++
	return entry.value, true
}

// Add inserts or updates a key. Updating an existing key keeps its
// original insertion position. When the cache is at capacity the
// oldest-inserted entry is evicted first.
func (c *FIFOCache) Add(key string, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		entry.value = value
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	entry := &fifoEntry{key: key, value: value}
	c.items[key] = entry

	// Insert at head (newest)
	entry.next = c.head.next
	entry.prev = c.head
	c.head.next.prev = entry
	c.head.next = entry
}

// evictOldest removes tail.prev. Caller must hold mu.
func (c *FIFOCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	oldest.prev.next = c.tail
	c.tail.prev = oldest.prev
	delete(c.items, oldest.key)
}

// Remove deletes a key if present.
func (c *FIFOCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return false
	}
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, key)
	return true
}

// Len returns the number of cached entries.
func (c *FIFOCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit/miss counters since creation.
func (c *FIFOCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Clear empties the cache, keeping capacity.
func (c *FIFOCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*fifoEntry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}
