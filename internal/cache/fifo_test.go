// Geolytics - Access Log Ingestion and Geographic Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geolytics

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFOCacheBasic(t *testing.T) {
	c := NewFIFOCache(10)

	c.Add("u4pruydqqvj8", 1)
	c.Add("u4pruydqqvj9", 2)

	v, ok := c.Get("u4pruydqqvj8")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestFIFOCacheEvictsOldestInserted(t *testing.T) {
	c := NewFIFOCache(3)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Reading "a" must NOT protect it: eviction is insertion-order,
	// not recency-order.
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Add("d", 4)

	_, ok = c.Get("a")
	assert.False(t, ok, "oldest-inserted entry should be evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "key %s should survive", k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestFIFOCacheUpdateKeepsPosition(t *testing.T) {
	c := NewFIFOCache(2)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("a", 10) // update, not re-insertion

	c.Add("c", 3) // evicts "a", still the oldest insertion

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestFIFOCacheRemoveAndClear(t *testing.T) {
	c := NewFIFOCache(10)
	c.Add("a", 1)
	c.Add("b", 2)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestFIFOCacheDefaultCapacity(t *testing.T) {
	c := NewFIFOCache(0)
	assert.Equal(t, 10000, c.capacity)
}

func TestFIFOCacheConcurrentAccess(t *testing.T) {
	c := NewFIFOCache(100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				c.Add(key, int64(j))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, c.Len())
}
