package llm

import (
	"errors"
	"strings"
	"sync"
)

// KeyRing rotates between multiple API keys round-robin, temporarily skipping
// keys that were marked failed. When every key has failed the markers reset
// so a transient provider outage does not permanently exhaust the ring.
type KeyRing struct {
	mu     sync.Mutex
	keys   []string
	next   int
	failed map[string]struct{}
}

func NewKeyRing(keys []string) *KeyRing {
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			filtered = append(filtered, k)
		}
	}
	return &KeyRing{
		keys:   filtered,
		failed: map[string]struct{}{},
	}
}

func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

func (r *KeyRing) Next() (string, error) {
	if r == nil || len(r.keys) == 0 {
		return "", errors.New("no api keys configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	available := make([]string, 0, len(r.keys))
	for _, k := range r.keys {
		if _, bad := r.failed[k]; !bad {
			available = append(available, k)
		}
	}
	if len(available) == 0 {
		r.failed = map[string]struct{}{}
		available = r.keys
	}

	key := available[r.next%len(available)]
	r.next = (r.next + 1) % len(available)
	return key, nil
}

func (r *KeyRing) MarkFailed(key string) {
	if r == nil || strings.TrimSpace(key) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[key] = struct{}{}
}
