// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package include

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheEntries is the cache capacity used when none is given.
const DefaultCacheEntries = 256

// FileCache keeps recently read include targets in memory. An entry is valid
// while the file's modification time and size are unchanged.
type FileCache struct {
	entries *lru.Cache[string, cacheEntry]

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	content string
	modTime time.Time
	size    int64
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
	HitRate float64
}

// NewFileCache creates a cache holding up to maxEntries files.
func NewFileCache(maxEntries int) *FileCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, cacheEntry](maxEntries)
	return &FileCache{entries: entries}
}

// Get returns the cached content for path if it was cached with the same
// modification time and size.
func (c *FileCache) Get(path string, modTime time.Time, size int64) (string, bool) {
	entry, ok := c.entries.Get(path)
	if !ok || !entry.modTime.Equal(modTime) || entry.size != size {
		if ok {
			c.entries.Remove(path)
		}
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return entry.content, true
}

// Put stores content for path.
func (c *FileCache) Put(path, content string, modTime time.Time, size int64) {
	c.entries.Add(path, cacheEntry{content: content, modTime: modTime, size: size})
}

// Invalidate removes path from the cache.
func (c *FileCache) Invalidate(path string) {
	c.entries.Remove(path)
}

// Clear removes all entries.
func (c *FileCache) Clear() {
	c.entries.Purge()
}

// Stats returns cache statistics.
func (c *FileCache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := CacheStats{Hits: hits, Misses: misses, Entries: c.entries.Len()}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
