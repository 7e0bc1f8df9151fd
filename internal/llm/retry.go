package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type BackoffConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Throttle, when set, spaces out successive calls before each attempt.
	Throttle *Throttler

	// Cache, when set, serves repeated prompts without a provider call.
	// Degraded responses are never cached.
	Cache *ResponseCache
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 2 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	return c
}

// GenerateWithBackoff runs a generation call with capped exponential backoff
// on rate-limit and transport failures. It never fails: on exhaustion (or on
// auth/provider rejection, which retrying cannot fix) it returns
// DegradedContent so the pipeline can surface partial progress. Only the
// multi-step synthesis path may use this; interactive turns must not sleep.
func GenerateWithBackoff(ctx context.Context, p Provider, messages []Message, opts Options, cfg BackoffConfig, log *slog.Logger) string {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	if text, ok := cfg.Cache.get(messages, opts); ok {
		log.Debug("synthesis cache hit")
		return text
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0

	var out string
	op := func() error {
		if err := cfg.Throttle.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		text, err := p.Generate(ctx, messages, opts)
		if err == nil {
			out = text
			return nil
		}
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrProviderRejected) {
			return backoff.Permanent(err)
		}
		log.Warn("synthesis call failed, backing off", "err", err)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx))
	if err != nil {
		log.Error("synthesis unavailable after retries", "err", err)
		return DegradedContent
	}
	cfg.Cache.put(messages, opts, out)
	return out
}
