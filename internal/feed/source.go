// Package feed defines the token feed contract and its two implementations:
// an owned in-process simulation and a WebSocket transport. The
// synchronization coordinator treats both identically.
package feed

import (
	"errors"

	"pulseboard/internal/domain"
)

// ErrStopped is returned when starting work on a stopped source.
var ErrStopped = errors.New("feed source stopped")

// BatchFunc receives one warm-up delivery: the category, all tokens
// accumulated so far for that category, and whether this was the final batch.
type BatchFunc func(category domain.Category, accumulated []*domain.Token, complete bool)

// WarmupOptions configures progressive initial loading.
type WarmupOptions struct {
	// CountPerCategory is the convergence target per category. Required, > 0.
	CountPerCategory int
	// BatchSize is the number of tokens per delivery. Required, > 0.
	BatchSize int
	// BatchDelayMs is the cadence between deliveries in milliseconds.
	BatchDelayMs int64
	// OnBatch is invoked after every delivery. Batch N+1 for a category is
	// never delivered before batch N's handler returns. Required.
	OnBatch BatchFunc
	// OnError is invoked when a category's warm-up fails terminally and no
	// further batches for it will arrive. Optional.
	OnError func(category domain.Category, err error)
}

// Validate checks warm-up parameters.
func (o WarmupOptions) Validate() error {
	if o.CountPerCategory <= 0 {
		return errors.New("countPerCategory must be positive")
	}
	if o.BatchSize <= 0 {
		return errors.New("batchSize must be positive")
	}
	if o.BatchDelayMs < 0 {
		return errors.New("batchDelayMs must not be negative")
	}
	if o.OnBatch == nil {
		return errors.New("onBatch is required")
	}
	return nil
}

// Source emits categorized token batches during warm-up and periodic price
// deltas thereafter. Implementations must make Stop and returned cancel and
// unsubscribe functions idempotent and safe after the feed already stopped.
type Source interface {
	// StartWarmup begins batch delivery for every category. The returned
	// cancel function stops all pending batch timers.
	StartWarmup(opts WarmupOptions) (cancel func(), err error)

	// StartLive begins periodic emission of PriceUpdate batches for random
	// subsets of the given tokens.
	StartLive(tokens []*domain.Token)

	// Subscribe registers a listener receiving one PriceUpdate slice per
	// tick and returns its unsubscribe function.
	Subscribe(fn func([]domain.PriceUpdate)) (unsubscribe func())

	// Stop halts ticking and clears all listeners.
	Stop()
}
