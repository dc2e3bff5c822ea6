// Package limiter provides per-key token bucket rate limiting with an
// in-process store and a Redis-backed store for shared limits.
package limiter

import (
	"context"
	"errors"
	"fmt"
)

// Policy defines a token bucket: RPS tokens refill per second up to Burst.
type Policy struct {
	RPS   float64
	Burst int
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool { return p.RPS > 0 }

// Store abstracts the storage for rate limiting buckets.
type Store interface {
	// Allow consumes one token for key. It returns false when the key is
	// rate limited.
	Allow(ctx context.Context, key string, policy Policy) (bool, error)
}

// ErrRateLimited is returned by Check when the key has no tokens left.
var ErrRateLimited = errors.New("rate limit exceeded")

// Check consumes a token for key and fails closed: a missing store or a
// store error is reported as an error, never as an allowance.
func Check(ctx context.Context, store Store, key string, policy Policy) error {
	if store == nil {
		return errors.New("limiter: no store configured")
	}
	allowed, err := store.Allow(ctx, key, policy)
	if err != nil {
		return fmt.Errorf("limiter: check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w for %s", ErrRateLimited, key)
	}
	return nil
}
