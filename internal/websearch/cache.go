package websearch

import (
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	result    SearchResult
	expiresAt time.Time
}

// resultCache is a small in-process TTL cache keyed by normalized query.
// Expired entries are dropped lazily on access.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:     ttl,
		entries: map[string]cacheEntry{},
	}
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (c *resultCache) get(query string) (SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(query)]
	if !ok {
		return SearchResult{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, cacheKey(query))
		return SearchResult{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(query string, res SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(query)] = cacheEntry{
		result:    res,
		expiresAt: time.Now().Add(c.ttl),
	}
}
