package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const defaultResponseCacheTTL = time.Hour

type responseEntry struct {
	text      string
	expiresAt time.Time
}

// ResponseCache is a small in-process TTL cache for synthesis responses,
// keyed by a hash of the full prompt and generation options. Expired entries
// are dropped lazily on access.
type ResponseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]responseEntry
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = defaultResponseCacheTTL
	}
	return &ResponseCache{
		ttl:     ttl,
		entries: map[string]responseEntry{},
	}
}

// promptKey hashes every turn plus the generation options, so a changed
// temperature or token cap never serves a stale response.
func promptKey(messages []Message, opts Options) string {
	h := sha256.New()
	for _, m := range messages {
		fmt.Fprintf(h, "%s\x00%s\x00", m.Role, m.Content)
	}
	fmt.Fprintf(h, "%g|%d|%t", opts.Temperature, opts.MaxOutputTokens, opts.JSONMode)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ResponseCache) get(messages []Message, opts Options) (string, bool) {
	if c == nil {
		return "", false
	}
	key := promptKey(messages, opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.text, true
}

func (c *ResponseCache) put(messages []Message, opts Options, text string) {
	if c == nil || IsDegradedContent(text) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[promptKey(messages, opts)] = responseEntry{
		text:      text,
		expiresAt: time.Now().Add(c.ttl),
	}
}
