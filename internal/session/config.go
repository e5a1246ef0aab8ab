package session

import (
	"fmt"
	"time"

	"pulseboard/internal/resilience"
	"pulseboard/internal/syncer"
)

// Config carries the construction-time tuning values of a Session.
type Config struct {
	// MaxRetries bounds both the mutation write retries and the
	// connectivity probe failure budget.
	MaxRetries int
	// BaseDelay is the first retry backoff delay.
	BaseDelay time.Duration
	// MaxDelay caps the retry backoff delay.
	MaxDelay time.Duration
	// CheckInterval is the connectivity probe cadence.
	CheckInterval time.Duration

	// CountPerCategory is the warm-up convergence target per category.
	CountPerCategory int
	// BatchSize is the warm-up delivery batch size.
	BatchSize int
	// BatchDelayMs is the delay between warm-up batches.
	BatchDelayMs int64

	// FlushInterval is the price history flush cadence.
	FlushInterval time.Duration
	// NotificationCapacity bounds the notification queue.
	NotificationCapacity int
	// NotificationTTL is the notification self-expiry delay.
	NotificationTTL time.Duration
}

// DefaultConfig returns a config suitable for interactive use.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           resilience.DefaultMaxRetries,
		BaseDelay:            resilience.DefaultBaseDelay,
		MaxDelay:             resilience.DefaultMaxDelay,
		CheckInterval:        10 * time.Second,
		CountPerCategory:     30,
		BatchSize:            10,
		BatchDelayMs:         400,
		FlushInterval:        syncer.DefaultFlushInterval,
		NotificationCapacity: resilience.DefaultCapacity,
		NotificationTTL:      resilience.DefaultNotificationTTL,
	}
}

// Validate checks the config's value ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("baseDelay must be > 0, got %s", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("maxDelay must be >= baseDelay, got %s < %s", c.MaxDelay, c.BaseDelay)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("checkInterval must be > 0, got %s", c.CheckInterval)
	}
	if c.CountPerCategory <= 0 {
		return fmt.Errorf("countPerCategory must be > 0, got %d", c.CountPerCategory)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be > 0, got %d", c.BatchSize)
	}
	if c.BatchDelayMs < 0 {
		return fmt.Errorf("batchDelayMs must be >= 0, got %d", c.BatchDelayMs)
	}
	return nil
}
