package llm

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Throttler enforces a jittered minimum spacing between provider calls on the
// synthesis path, keeping burst traffic under provider rate limits.
type Throttler struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	last     time.Time
}

func NewThrottler(minDelay, maxDelay time.Duration) *Throttler {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Throttler{minDelay: minDelay, maxDelay: maxDelay}
}

// Wait blocks until enough time has passed since the previous call, or the
// context is cancelled.
func (t *Throttler) Wait(ctx context.Context) error {
	if t == nil || t.maxDelay == 0 {
		return nil
	}

	t.mu.Lock()
	var wait time.Duration
	if !t.last.IsZero() {
		spacing := t.minDelay
		if t.maxDelay > t.minDelay {
			spacing += time.Duration(rand.Int63n(int64(t.maxDelay - t.minDelay)))
		}
		elapsed := time.Since(t.last)
		if elapsed < spacing {
			wait = spacing - elapsed
		}
	}
	t.last = time.Now().Add(wait)
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
