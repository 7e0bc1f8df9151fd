package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyRingRotation(t *testing.T) {
	t.Parallel()

	ring := NewKeyRing([]string{" a ", "", "b"})
	if ring.Len() != 2 {
		t.Fatalf("expected 2 keys after filtering, got %d", ring.Len())
	}

	k1, err := ring.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, _ := ring.Next()
	if k1 == k2 {
		t.Fatalf("expected rotation, got %q twice", k1)
	}

	ring.MarkFailed("a")
	for i := 0; i < 3; i++ {
		k, _ := ring.Next()
		if k == "a" {
			t.Fatalf("failed key returned before reset")
		}
	}

	ring.MarkFailed("b")
	if _, err := ring.Next(); err != nil {
		t.Fatalf("expected reset when all keys failed, got %v", err)
	}
}

func TestKeyRingEmpty(t *testing.T) {
	t.Parallel()

	ring := NewKeyRing(nil)
	if _, err := ring.Next(); err == nil {
		t.Fatalf("expected error for empty ring")
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	if !errors.Is(statusError(429, ""), ErrRateLimited) {
		t.Fatalf("429 not mapped to rate limit")
	}
	if !errors.Is(statusError(401, ""), ErrAuth) {
		t.Fatalf("401 not mapped to auth")
	}
	if !errors.Is(statusError(403, ""), ErrAuth) {
		t.Fatalf("403 not mapped to auth")
	}
	if !errors.Is(statusError(500, "boom"), ErrProviderRejected) {
		t.Fatalf("500 not mapped to provider rejection")
	}
}

func TestIsDegradedContent(t *testing.T) {
	t.Parallel()

	if !IsDegradedContent(DegradedContent) {
		t.Fatalf("degraded sentinel not detected")
	}
	if !IsDegradedContent("") {
		t.Fatalf("empty content should count as degraded")
	}
	if !IsDegradedContent("Unable to synthesize data at this time.") {
		t.Fatalf("synthesis failure marker not detected")
	}
	if IsDegradedContent("Acme reported $12B revenue in 2024.") {
		t.Fatalf("real content flagged as degraded")
	}
}

func TestBuildGeminiContents(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Role: RoleSystem, Content: "You are a researcher."},
		{Role: RoleUser, Content: "Research Acme."},
		{Role: RoleAssistant, Content: "Searching now."},
		{Role: RoleTool, Content: "result snippet"},
	}
	contents := buildGeminiContents(msgs)
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" || contents[2].Role != "user" {
		t.Fatalf("unexpected role mapping: %+v", contents)
	}
	// System prompt folds into the first user turn.
	if got := contents[0].Parts[0].Text; got != "You are a researcher.\n\nResearch Acme." {
		t.Fatalf("system prompt not folded: %q", got)
	}
}

type scriptedProvider struct {
	errs  []error
	text  string
	calls int
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	defer func() { p.calls++ }()
	if p.calls < len(p.errs) && p.errs[p.calls] != nil {
		return "", p.errs[p.calls]
	}
	return p.text, nil
}

func TestGenerateWithBackoffRecovers(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{errs: []error{ErrRateLimited, ErrRateLimited}, text: "recovered"}
	cfg := BackoffConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	got := GenerateWithBackoff(context.Background(), p, []Message{{Role: RoleUser, Content: "x"}}, Options{}, cfg, nil)
	if got != "recovered" {
		t.Fatalf("expected recovered text, got %q", got)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", p.calls)
	}
}

func TestGenerateWithBackoffExhaustion(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	cfg := BackoffConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	got := GenerateWithBackoff(context.Background(), p, []Message{{Role: RoleUser, Content: "x"}}, Options{}, cfg, nil)
	if got != DegradedContent {
		t.Fatalf("expected degraded content on exhaustion, got %q", got)
	}
}

func TestGenerateWithBackoffPermanent(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{errs: []error{statusError(401, "")}}
	cfg := BackoffConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	got := GenerateWithBackoff(context.Background(), p, []Message{{Role: RoleUser, Content: "x"}}, Options{}, cfg, nil)
	if got != DegradedContent {
		t.Fatalf("expected degraded content, got %q", got)
	}
	if p.calls != 1 {
		t.Fatalf("auth failure should not be retried, got %d calls", p.calls)
	}
}

func TestResponseCache(t *testing.T) {
	t.Parallel()

	cache := NewResponseCache(time.Minute)
	msgs := []Message{{Role: RoleUser, Content: "research Acme"}}
	opts := Options{Temperature: 0.7}

	if _, ok := cache.get(msgs, opts); ok {
		t.Fatalf("unexpected hit on empty cache")
	}

	cache.put(msgs, opts, "Acme overview.")
	if got, ok := cache.get(msgs, opts); !ok || got != "Acme overview." {
		t.Fatalf("cache miss after put: %q, %v", got, ok)
	}

	// A different prompt or different options must not hit.
	if _, ok := cache.get([]Message{{Role: RoleUser, Content: "research Globex"}}, opts); ok {
		t.Fatalf("different prompt served cached response")
	}
	if _, ok := cache.get(msgs, Options{Temperature: 0.2}); ok {
		t.Fatalf("different options served cached response")
	}

	cache.put(msgs, Options{JSONMode: true}, DegradedContent)
	if _, ok := cache.get(msgs, Options{JSONMode: true}); ok {
		t.Fatalf("degraded content must not be cached")
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	t.Parallel()

	cache := NewResponseCache(time.Millisecond)
	msgs := []Message{{Role: RoleUser, Content: "x"}}
	cache.put(msgs, Options{}, "stale soon")
	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.get(msgs, Options{}); ok {
		t.Fatalf("expired entry served")
	}
}

func TestGenerateWithBackoffUsesCache(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{text: "fresh synthesis"}
	cfg := BackoffConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Cache:           NewResponseCache(time.Minute),
	}
	msgs := []Message{{Role: RoleUser, Content: "synthesize Acme"}}

	if got := GenerateWithBackoff(context.Background(), p, msgs, Options{}, cfg, nil); got != "fresh synthesis" {
		t.Fatalf("first call: %q", got)
	}
	if got := GenerateWithBackoff(context.Background(), p, msgs, Options{}, cfg, nil); got != "fresh synthesis" {
		t.Fatalf("second call: %q", got)
	}
	if p.calls != 1 {
		t.Fatalf("expected cached second call, provider saw %d calls", p.calls)
	}
}

func TestGenerateWithBackoffDoesNotCacheDegraded(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited, nil}, text: "late success"}
	cfg := BackoffConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Cache:           NewResponseCache(time.Minute),
	}
	msgs := []Message{{Role: RoleUser, Content: "synthesize Acme"}}

	if got := GenerateWithBackoff(context.Background(), p, msgs, Options{}, cfg, nil); got != DegradedContent {
		t.Fatalf("expected degraded content, got %q", got)
	}
	// The provider recovered; a retry must reach it instead of a cached failure.
	if got := GenerateWithBackoff(context.Background(), p, msgs, Options{}, cfg, nil); got != "late success" {
		t.Fatalf("expected fresh call after degraded result, got %q", got)
	}
}

func TestNewProviderUnsupported(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{Provider: "mystery"})
	var unsupported ErrUnsupportedProvider
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestThrottlerSpacing(t *testing.T) {
	t.Parallel()

	th := NewThrottler(10*time.Millisecond, 20*time.Millisecond)
	start := time.Now()
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("second wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("second call not spaced: %v", elapsed)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	th2 := NewThrottler(time.Hour, time.Hour)
	_ = th2.Wait(context.Background())
	if err := th2.Wait(cancelled); err == nil {
		t.Fatalf("expected context error")
	}
}
