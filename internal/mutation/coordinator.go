// Package mutation implements optimistic writes against both stores with
// exact-snapshot rollback. Every mutation follows the same protocol: cancel
// in-flight refetches, snapshot, apply optimistically to the cache layer and
// the state store, issue the authoritative write asynchronously with retry,
// then reconcile on success or restore the snapshot on failure. The mutated
// category is marked stale in every outcome.
package mutation

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"pulseboard/internal/cache"
	"pulseboard/internal/domain"
	"pulseboard/internal/observability"
	"pulseboard/internal/resilience"
	"pulseboard/internal/state"
	"pulseboard/internal/storage"
	"pulseboard/internal/tokengen"
)

// RefetchCanceller cancels an in-flight background refetch for a category so
// a stale read cannot overwrite an optimistic value.
type RefetchCanceller interface {
	CancelRefetch(category domain.Category)
}

// Tracker routes live deltas to token ids. Mutations keep it in step with the
// stores so added tokens receive deltas and removed ones stop.
type Tracker interface {
	Track(tokenID string, category domain.Category)
	Untrack(tokenID string)
}

// Coordinator applies optimistic mutations.
type Coordinator struct {
	backend       storage.TokenBackend
	cache         *cache.Cache
	state         *state.Store
	notifications *resilience.Center
	refetch       RefetchCanceller
	tracker       Tracker
	retry         resilience.Policy
	metrics       *observability.Metrics
	logger        *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Options configures a Coordinator. Backend, Cache and State are required;
// the rest is optional.
type Options struct {
	Backend       storage.TokenBackend
	Cache         *cache.Cache
	State         *state.Store
	Notifications *resilience.Center

	// Refetch, when set, is consulted before every mutation.
	Refetch RefetchCanceller
	// Tracker, when set, is kept in step with adds and removes.
	Tracker Tracker

	// Retry governs the asynchronous authoritative write. The error filter
	// and callbacks are installed by the coordinator; zero delays fall back
	// to the package defaults.
	Retry resilience.Policy

	Metrics *observability.Metrics
	Logger  *log.Logger

	// Seed makes placeholder generation reproducible. 0 seeds from the clock.
	Seed int64
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	retry := opts.Retry
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = resilience.DefaultBaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = resilience.DefaultMaxDelay
	}
	retry.RetryIf = storage.IsTransient

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		backend:       opts.Backend,
		cache:         opts.Cache,
		state:         opts.State,
		notifications: opts.Notifications,
		refetch:       opts.Refetch,
		tracker:       opts.Tracker,
		retry:         retry,
		metrics:       opts.Metrics,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		rng:           rand.New(rand.NewSource(seed)),
	}
	c.retry.OnRetry = func(attempt int, err error) {
		c.metrics.RecordRetry()
		c.logger.Printf("[mutation] retry %d: %v", attempt, err)
	}
	return c
}

// AddResult is the settled outcome of an AddToken write: the authoritative
// token id on success, or the write error.
type AddResult struct {
	ID  string
	Err error
}

// UpdatePrice optimistically overwrites a token's price in both stores and
// issues the authoritative write in the background. The owning category is
// resolved by scanning the cache; an unknown id leaves both stores untouched
// and emits one error notification.
//
// The returned channel settles the write: it yields nil once the backend
// confirmed, or the write error after rollback. It is buffered, so callers
// may discard it.
func (c *Coordinator) UpdatePrice(tokenID string, price float64) (<-chan error, error) {
	_, category, found := c.cache.FindToken(tokenID)
	if !found {
		c.notifyError(fmt.Sprintf("Failed to update price: token %s not found", tokenID))
		return nil, fmt.Errorf("%w: token %s", storage.ErrNotFound, tokenID)
	}

	c.cancelRefetch(category)

	// The snapshot reads the live cached value, so mutations issued while an
	// earlier optimistic value is pending chain their rollbacks correctly.
	snap, ok := c.cache.Snapshot(category, tokenID)
	if !ok {
		c.notifyError(fmt.Sprintf("Failed to update price: token %s not found", tokenID))
		return nil, fmt.Errorf("%w: token %s", storage.ErrNotFound, tokenID)
	}

	c.cache.UpdatePrice(category, tokenID, price)
	c.state.UpdatePrice(category, tokenID, price)

	settled := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(settled)
		defer c.cache.MarkStale(category)

		err := c.retry.Do(c.ctx, func(ctx context.Context) error {
			return c.backend.UpdatePrice(ctx, tokenID, price)
		})
		if err != nil {
			c.rollbackToken(category, snap, "update_price")
			c.notifyError(fmt.Sprintf("Failed to update price for %s", snap.Token.Symbol))
			c.metrics.RecordMutation("update_price", "failure")
			c.logger.Printf("[mutation] update price %s rolled back: %v", tokenID, err)
			settled <- err
			return
		}
		c.metrics.RecordMutation("update_price", "success")
	}()
	return settled, nil
}

// AddToken appends an optimistic placeholder to a category and creates the
// authoritative record in the background. On success the placeholder is
// swapped for the server record in place; on failure it is removed. Returns
// the placeholder id and a settle channel carrying the authoritative id
// once the write confirms, or the write error after rollback.
func (c *Coordinator) AddToken(category domain.Category) (string, <-chan AddResult, error) {
	if !domain.ValidCategory(category) {
		return "", nil, fmt.Errorf("%w: category %q", storage.ErrUnknownCategory, category)
	}

	c.cancelRefetch(category)

	c.rngMu.Lock()
	placeholder := tokengen.Placeholder(c.rng, category, time.Now().UnixMilli())
	c.rngMu.Unlock()

	c.cache.AppendToken(category, placeholder)
	c.state.AppendToken(category, placeholder)
	c.track(placeholder.ID, category)

	settled := make(chan AddResult, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(settled)
		defer c.cache.MarkStale(category)

		tok, err := func() (*domain.Token, error) {
			var created *domain.Token
			err := c.retry.Do(c.ctx, func(ctx context.Context) error {
				var opErr error
				created, opErr = c.backend.CreateToken(ctx, category)
				return opErr
			})
			return created, err
		}()
		if err != nil {
			c.cache.RemoveToken(category, placeholder.ID)
			c.state.RemoveToken(category, placeholder.ID)
			c.untrack(placeholder.ID)
			c.metrics.RecordRollback("add_token")
			c.metrics.RecordMutation("add_token", "failure")
			c.notifyError("Failed to add token")
			c.logger.Printf("[mutation] add token rolled back: %v", err)
			settled <- AddResult{Err: err}
			return
		}

		// Reconcile the placeholder with the authoritative record without
		// disturbing its position; selection follows the new id.
		c.cache.ReplaceID(category, placeholder.ID, tok)
		c.state.ReplaceID(category, placeholder.ID, tok)
		c.untrack(placeholder.ID)
		c.track(tok.ID, category)
		c.metrics.RecordMutation("add_token", "success")
		settled <- AddResult{ID: tok.ID}
	}()
	return placeholder.ID, settled, nil
}

// RemoveToken optimistically removes a token from both stores and deletes the
// authoritative record in the background. On failure the token is reinserted
// at its original position. The returned channel settles the write the same
// way UpdatePrice's does.
func (c *Coordinator) RemoveToken(tokenID string, category domain.Category) (<-chan error, error) {
	if !domain.ValidCategory(category) {
		return nil, fmt.Errorf("%w: category %q", storage.ErrUnknownCategory, category)
	}

	c.cancelRefetch(category)

	removed, index, ok := c.cache.RemoveToken(category, tokenID)
	if !ok {
		c.notifyError(fmt.Sprintf("Failed to remove token: %s not found", tokenID))
		return nil, fmt.Errorf("%w: token %s", storage.ErrNotFound, tokenID)
	}
	c.state.RemoveToken(category, tokenID)
	c.untrack(tokenID)

	settled := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(settled)
		defer c.cache.MarkStale(category)

		err := c.retry.Do(c.ctx, func(ctx context.Context) error {
			return c.backend.DeleteToken(ctx, tokenID, category)
		})
		if err != nil {
			c.cache.InsertTokenAt(category, removed, index)
			c.state.InsertTokenAt(category, removed, index)
			c.track(tokenID, category)
			c.metrics.RecordRollback("remove_token")
			c.metrics.RecordMutation("remove_token", "failure")
			c.notifyError(fmt.Sprintf("Failed to remove %s", removed.Symbol))
			c.logger.Printf("[mutation] remove token %s rolled back: %v", tokenID, err)
			settled <- err
			return
		}
		c.metrics.RecordMutation("remove_token", "success")
	}()
	return settled, nil
}

// Wait blocks until all in-flight authoritative writes settle.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight writes and waits for them to settle.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// rollbackToken restores a cache snapshot and mirrors it into the state store.
func (c *Coordinator) rollbackToken(category domain.Category, snap *cache.Snapshot, operation string) {
	c.cache.Restore(category, snap)
	if !c.state.SetToken(category, snap.Token) {
		c.state.InsertTokenAt(category, &snap.Token, snap.Index)
	}
	c.metrics.RecordRollback(operation)
}

func (c *Coordinator) cancelRefetch(category domain.Category) {
	if c.refetch != nil {
		c.refetch.CancelRefetch(category)
	}
}

func (c *Coordinator) track(tokenID string, category domain.Category) {
	if c.tracker != nil {
		c.tracker.Track(tokenID, category)
	}
}

func (c *Coordinator) untrack(tokenID string) {
	if c.tracker != nil {
		c.tracker.Untrack(tokenID)
	}
}

func (c *Coordinator) notifyError(message string) {
	if c.notifications == nil {
		return
	}
	c.notifications.Push(message, domain.SeverityError)
	c.metrics.RecordNotification(domain.SeverityError)
}
