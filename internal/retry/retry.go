// Package retry runs an attempt function under a bounded, jittered backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	parley_errors "parley/pkg/errors"
)

var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a retry loop. Zero fields fall back to DefaultPolicy values.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an attempt error is worth another try.
	// Defaults to errors.Is(err, ErrConflict).
	Retryable func(error) bool
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = func(err error) bool { return errors.Is(err, parley_errors.ErrConflict) }
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Delay returns the wait before attempt n+1 after attempt n (1-based) failed:
// full jitter over an exponentially growing window capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	window := p.BaseDelay
	for i := 1; i < n && window < p.MaxDelay; i++ {
		window *= 2
	}
	if window > p.MaxDelay {
		window = p.MaxDelay
	}
	half := window / 2
	return half + time.Duration(p.Rand()*float64(window-half))
}

// Do calls attempt until it succeeds, returns a non-retryable error, the
// policy runs out of attempts, or ctx is done. Exhaustion yields an error
// wrapping both ErrExhausted and the last attempt error.
func Do[T any](ctx context.Context, policy Policy, attempt func(ctx context.Context, n int) (T, error)) (T, error) {
	p := policy.withDefaults()
	var zero T
	var lastErr error

	for n := 1; n <= p.MaxAttempts; n++ {
		v, err := attempt(ctx, n)
		if err == nil {
			return v, nil
		}
		if !p.Retryable(err) {
			return zero, err
		}
		lastErr = err
		if n == p.MaxAttempts {
			break
		}
		if err := p.Sleep(ctx, p.Delay(n)); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
