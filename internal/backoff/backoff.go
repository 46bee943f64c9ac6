// Package backoff provides exponential backoff with jitter for retrying
// transport operations.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted is returned when every retry attempt has failed.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// Policy parameterizes the delay curve. Attempt numbers start at 1.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the exponential growth factor per attempt.
	Factor float64

	// Jitter is the randomization fraction (0.0 to 1.0) added on top of
	// the base delay.
	Jitter float64
}

// DefaultPolicy is suited to relay publishes: 100ms initial, 30s cap,
// doubling with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the sleep before retrying after the given failed
// attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if capped := float64(p.Max); total > capped {
		total = capped
	}
	return time.Duration(total)
}

// Sleep waits for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn up to maxAttempts times, sleeping per the policy
// between failures. The attempt number passed to fn is 1-indexed.
func Retry[T any](ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			if err := Sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}
	return zero, errors.Join(ErrExhausted, lastErr)
}

// RetrySimple retries a function without a return value, using the
// default policy.
func RetrySimple(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := Retry(ctx, DefaultPolicy(), maxAttempts, func(int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
