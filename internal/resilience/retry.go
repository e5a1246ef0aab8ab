// Package resilience provides the generic retry primitive, the connectivity
// state machine and the user-facing notification queue.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is returned when an operation fails on every allowed attempt.
// It is terminal: callers must reset explicitly before retrying.
var ErrExhausted = errors.New("max retries exhausted")

// Default retry configuration.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Policy is a bounded exponential-backoff retry policy.
// The zero value is not usable; construct with DefaultPolicy or fill all
// duration fields.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first try.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// RetryIf filters retryable errors. A nil filter retries every error.
	RetryIf func(error) bool
	// OnRetry is invoked before each scheduled retry.
	OnRetry func(attempt int, err error)
	// OnExhausted is invoked exactly once when all attempts fail.
	OnExhausted func(err error)
	// Jitter returns a value in [0, 1). Defaults to rand.Float64.
	Jitter func() float64
}

// DefaultPolicy returns a policy with default delays and no error filter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Delay computes the backoff delay for a 0-based failed attempt:
// min(BaseDelay * 2^attempt, MaxDelay) plus up to 10% jitter, added never
// subtracted, re-capped at MaxDelay. Jitter spreads synchronized retries
// from concurrent callers.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	d += time.Duration(float64(d) * 0.1 * jitter())
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op, retrying per the policy. The loop is driven by an explicit
// attempt counter; there is no recursion and cancellation is honored while
// waiting out a delay. Non-retryable errors and context errors return
// immediately; exhausting all attempts returns ErrExhausted wrapping the
// last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt - 1)):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
	}

	if p.OnExhausted != nil {
		p.OnExhausted(lastErr)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxRetries+1, lastErr)
}
