// Package retry implements the Retry Policy: exponential backoff with
// jitter over retryable error categories, honoring a global max attempt
// count.
//
// The delay calculation is split out as a pure function so it is
// unit-testable without a clock, rather than pinned inside the sleep
// loop itself.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/Fr3nn3r/ada-harness/internal/classify"
)

// Config holds the tunables for backoff calculation.
type Config struct {
	Base              time.Duration
	RateLimitBase     time.Duration
	ExponentialBase   float64
	MaxDelay          time.Duration
	Jitter            float64 // fraction, e.g. 0.10 for +/-10%
	MaxRetries        int
}

// DefaultConfig returns the harness's baseline backoff tunables.
func DefaultConfig() Config {
	return Config{
		Base:            5 * time.Second,
		RateLimitBase:   30 * time.Second,
		ExponentialBase: 2.0,
		MaxDelay:        300 * time.Second,
		Jitter:          0.10,
		MaxRetries:      3,
	}
}

// Delay returns the wait duration before retry attempt n (0-indexed) for
// category cat: min(maxDelay, base * exponentialBase^n) scaled by a
// uniform random jitter factor in [1-jitter, 1+jitter].
func (c Config) Delay(n int, cat classify.Category) time.Duration {
	base := c.Base
	if cat == classify.RateLimit {
		base = c.RateLimitBase
	}
	raw := float64(base) * pow(c.ExponentialBase, n)
	if raw > float64(c.MaxDelay) {
		raw = float64(c.MaxDelay)
	}
	jitterFactor := 1 + (rand.Float64()*2-1)*c.Jitter
	return time.Duration(raw * jitterFactor)
}

// DelayBounds returns the inclusive [min, max] range Delay may return for
// attempt n and category cat, used by property tests to assert the actual
// delay falls within the documented envelope.
func (c Config) DelayBounds(n int, cat classify.Category) (min, max time.Duration) {
	base := c.Base
	if cat == classify.RateLimit {
		base = c.RateLimitBase
	}
	raw := float64(base) * pow(c.ExponentialBase, n)
	capped := raw
	if capped > float64(c.MaxDelay) {
		capped = float64(c.MaxDelay)
	}
	lo := capped * (1 - c.Jitter)
	hi := capped * (1 + c.Jitter)
	return time.Duration(lo), time.Duration(hi)
}

func pow(base float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= base
	}
	return result
}

// Sleep blocks for Delay(n, cat), honoring ctx cancellation.
func (c Config) Sleep(ctx context.Context, n int, cat classify.Category) error {
	select {
	case <-time.After(c.Delay(n, cat)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
