// Package syncer drives the empty → converged → live transition: it applies
// warm-up batches and live price deltas to the cache layer and the state
// store so that no observer ever sees one store reflect a batch the other
// does not.
package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pulseboard/internal/cache"
	"pulseboard/internal/domain"
	"pulseboard/internal/feed"
	"pulseboard/internal/observability"
	"pulseboard/internal/resilience"
	"pulseboard/internal/state"
	"pulseboard/internal/storage"
)

// DefaultFlushInterval is the price history flush cadence.
const DefaultFlushInterval = 5 * time.Second

// Coordinator synchronizes the feed into both stores.
//
// Every write goes through one internal critical section: the cache layer
// and the state store are mutated back to back inside it, which is the
// all-or-nothing apply primitive backing the dual-store consistency
// invariant. Delta application is last-write-wins; updates for ids that are
// not in the local index are dropped (and counted), which is the tolerance
// mechanism for deltas racing not-yet-flushed batches.
type Coordinator struct {
	feed          feed.Source
	cache         *cache.Cache
	state         *state.Store
	history       storage.PriceHistoryStore
	notifications *resilience.Center
	metrics       *observability.Metrics
	logger        *log.Logger

	flushInterval time.Duration

	mu           sync.Mutex
	index        map[string]domain.Category // id → owning category
	received     map[domain.Category]int
	target       int
	connecting   bool
	liveStarted  bool
	unsubscribe  func()
	cancelWarmup func()
	closed       bool

	histMu  sync.Mutex
	histBuf []*domain.AppliedUpdate

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options configures a Coordinator.
type Options struct {
	Feed  feed.Source
	Cache *cache.Cache
	State *state.Store

	// History is an optional archive sink for applied deltas.
	History storage.PriceHistoryStore
	// FlushInterval is the history flush cadence. Defaults to 5s.
	FlushInterval time.Duration

	// Notifications is an optional sink for warm-up failure notices.
	Notifications *resilience.Center

	Metrics *observability.Metrics
	Logger  *log.Logger
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Coordinator{
		feed:          opts.Feed,
		cache:         opts.Cache,
		state:         opts.State,
		history:       opts.History,
		notifications: opts.Notifications,
		metrics:       opts.Metrics,
		logger:        logger,
		flushInterval: flushInterval,
		index:         make(map[string]domain.Category),
		received:      make(map[domain.Category]int),
		stopCh:        make(chan struct{}),
	}
}

// Start begins warm-up delivery. The live feed is subscribed and started
// exactly once, when the aggregate convergence target is reached.
func (c *Coordinator) Start(countPerCategory, batchSize int, batchDelayMs int64) error {
	c.mu.Lock()
	c.target = countPerCategory * len(domain.Categories())
	c.mu.Unlock()

	cancel, err := c.feed.StartWarmup(feed.WarmupOptions{
		CountPerCategory: countPerCategory,
		BatchSize:        batchSize,
		BatchDelayMs:     batchDelayMs,
		OnBatch:          c.handleBatch,
		OnError:          c.handleWarmupError,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cancelWarmup = cancel
	c.mu.Unlock()

	if c.history != nil {
		c.wg.Add(1)
		go c.flushLoop()
	}
	return nil
}

// handleBatch applies one warm-up delivery to both stores synchronously.
func (c *Coordinator) handleBatch(category domain.Category, accumulated []*domain.Token, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if !c.connecting {
		c.connecting = true
		c.setStatusLocked(domain.StatusConnecting)
	}

	// Dual write: state store first, then cache, inside one handler.
	c.state.ReplaceCategory(category, accumulated)
	c.cache.ReplaceCategory(category, accumulated)

	for _, t := range accumulated {
		c.index[t.ID] = category
	}
	c.received[category] = len(accumulated)
	c.metrics.RecordWarmupBatch(category, len(accumulated))

	total := 0
	for _, n := range c.received {
		total += n
	}
	if total == c.target && !c.liveStarted {
		c.liveStarted = true
		c.setStatusLocked(domain.StatusConnected)

		var all []*domain.Token
		for _, cat := range domain.Categories() {
			all = append(all, c.state.Tokens(cat)...)
		}

		// Subscribe exactly once per coordinator lifetime.
		c.unsubscribe = c.feed.Subscribe(c.handleDeltas)
		c.feed.StartLive(all)
		c.logger.Printf("[syncer] converged: %d tokens, live feed started", total)
	}
}

// handleWarmupError records a terminal warm-up failure: no further batches
// for the category will arrive, so the category cannot converge. The status
// flips to error and the failure is surfaced as a notification.
func (c *Coordinator) handleWarmupError(category domain.Category, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.setStatusLocked(domain.StatusError)
	c.logger.Printf("[syncer] warm-up failed for %s: %v", category, err)

	if c.notifications != nil {
		c.notifications.Push(fmt.Sprintf("warm-up failed for %s: %v", category, err), domain.SeverityError)
		c.metrics.RecordNotification(domain.SeverityError)
	}
}

// handleDeltas applies one live delta batch to both stores synchronously.
// Unknown ids are dropped silently and counted.
func (c *Coordinator) handleDeltas(updates []domain.PriceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	applied := 0
	for _, u := range updates {
		category, ok := c.index[u.TokenID]
		if !ok {
			c.metrics.RecordDeltaDropped()
			continue
		}

		c.state.ApplyPriceUpdate(category, u)
		c.cache.ApplyPriceUpdate(category, u)
		applied++

		if c.history != nil {
			c.bufferApplied(category, u)
		}
	}
	c.metrics.RecordDeltasApplied(applied)
}

// Track registers a token id with its owning category so later deltas for it
// resolve. Used when a mutation adds a token outside warm-up.
func (c *Coordinator) Track(tokenID string, category domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index[tokenID] = category
}

// Untrack removes a token id from the index.
func (c *Coordinator) Untrack(tokenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.index, tokenID)
}

// Converged reports whether warm-up reached the aggregate target.
func (c *Coordinator) Converged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.liveStarted
}

// Close cancels pending batch timers, unsubscribes from the live feed and
// stops the feed source. Safe to call more than once; a final history flush
// runs before return.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancelWarmup := c.cancelWarmup
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if cancelWarmup != nil {
		cancelWarmup()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	c.feed.Stop()

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	if c.history != nil {
		c.flushHistory()
	}
}

func (c *Coordinator) bufferApplied(category domain.Category, u domain.PriceUpdate) {
	c.histMu.Lock()
	defer c.histMu.Unlock()

	c.histBuf = append(c.histBuf, &domain.AppliedUpdate{
		TokenID:       u.TokenID,
		Category:      category,
		Price:         u.Price,
		PriceChange1m: u.PriceChange1m,
		PriceChange5m: u.PriceChange5m,
		Timestamp:     u.Timestamp,
	})
}

func (c *Coordinator) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.flushHistory()
		}
	}
}

// flushHistory archives buffered deltas. Archiving is best-effort: a failed
// batch is dropped and counted, never retried into the hot path.
func (c *Coordinator) flushHistory() {
	c.histMu.Lock()
	buf := c.histBuf
	c.histBuf = nil
	c.histMu.Unlock()

	if len(buf) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.history.InsertBatch(ctx, buf); err != nil {
		c.metrics.RecordHistoryFlushError()
		c.logger.Printf("[syncer] history flush failed (%d updates): %v", len(buf), err)
	}
}

func (c *Coordinator) setStatusLocked(status domain.ConnectionStatus) {
	c.state.SetStatus(status)
	c.metrics.RecordConnectionStatus(status)
}
