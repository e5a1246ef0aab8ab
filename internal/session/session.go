// Package session is the facade tying the feed, both stores, the resilience
// layer and the coordinators into the surface the presentation layer
// consumes.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"pulseboard/internal/cache"
	"pulseboard/internal/domain"
	"pulseboard/internal/feed"
	"pulseboard/internal/mutation"
	"pulseboard/internal/observability"
	"pulseboard/internal/ranking"
	"pulseboard/internal/resilience"
	"pulseboard/internal/state"
	"pulseboard/internal/storage"
	"pulseboard/internal/syncer"
)

// Session owns the full dashboard core lifecycle.
type Session struct {
	cfg     Config
	feed    feed.Source
	backend storage.TokenBackend
	metrics *observability.Metrics
	logger  *log.Logger

	cache     *cache.Cache
	state     *state.Store
	ranking   *ranking.Engine
	center    *resilience.Center
	monitor   *resilience.Monitor
	syncer    *syncer.Coordinator
	mutations *mutation.Coordinator

	ctx    context.Context
	cancel context.CancelFunc

	// refetches maps categories to the cancel of their in-flight backend
	// refetch. Applying a refetch result and cancelling both run under mu,
	// so a cancelled refetch can never clobber an optimistic value.
	mu        sync.Mutex
	refetches map[domain.Category]*refetchHandle
	wg        sync.WaitGroup

	closeOnce sync.Once
}

// Options configures a Session. Feed and Backend are required.
type Options struct {
	Feed    feed.Source
	Backend storage.TokenBackend

	// History is an optional price delta archive.
	History storage.PriceHistoryStore

	Metrics *observability.Metrics
	Logger  *log.Logger
	Config  Config
}

// New creates a Session. Call Start to begin warm-up.
func New(opts Options) (*Session, error) {
	if opts.Feed == nil {
		return nil, fmt.Errorf("session: feed is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("session: backend is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:       opts.Config,
		feed:      opts.Feed,
		backend:   opts.Backend,
		metrics:   opts.Metrics,
		logger:    logger,
		cache:     cache.New(),
		state:     state.New(),
		center:    resilience.NewCenter(opts.Config.NotificationCapacity, opts.Config.NotificationTTL),
		ctx:       ctx,
		cancel:    cancel,
		refetches: make(map[domain.Category]*refetchHandle),
	}
	s.ranking = ranking.New(s.state)

	s.syncer = syncer.New(syncer.Options{
		Feed:          opts.Feed,
		Cache:         s.cache,
		State:         s.state,
		History:       opts.History,
		FlushInterval: opts.Config.FlushInterval,
		Notifications: s.center,
		Metrics:       opts.Metrics,
		Logger:        logger,
	})

	s.mutations = mutation.New(mutation.Options{
		Backend:       opts.Backend,
		Cache:         s.cache,
		State:         s.state,
		Notifications: s.center,
		Refetch:       s,
		Tracker:       s.syncer,
		Retry: resilience.Policy{
			MaxRetries: opts.Config.MaxRetries,
			BaseDelay:  opts.Config.BaseDelay,
			MaxDelay:   opts.Config.MaxDelay,
		},
		Metrics: opts.Metrics,
		Logger:  logger,
	})

	s.monitor = resilience.NewMonitor(resilience.MonitorOptions{
		Probe:       s.probe,
		Interval:    opts.Config.CheckInterval,
		MaxRetries:  maxProbeFailures(opts.Config.MaxRetries),
		OnExhausted: s.onProbesExhausted,
		Logger:      logger,
	})

	return s, nil
}

// maxProbeFailures keeps the monitor's failure budget positive even when the
// caller disables mutation retries.
func maxProbeFailures(maxRetries int) int {
	if maxRetries < 1 {
		return 1
	}
	return maxRetries
}

// Start begins warm-up delivery and connectivity probing.
func (s *Session) Start() error {
	if err := s.syncer.Start(s.cfg.CountPerCategory, s.cfg.BatchSize, s.cfg.BatchDelayMs); err != nil {
		return fmt.Errorf("start warm-up: %w", err)
	}
	s.monitor.Start(s.ctx)
	return nil
}

// Close tears everything down: pending refetches, in-flight writes, the
// probe loop and the feed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		for _, h := range s.refetches {
			h.cancel()
		}
		s.refetches = make(map[domain.Category]*refetchHandle)
		s.mu.Unlock()

		s.mutations.Close()
		s.monitor.Close()
		s.syncer.Close()
		s.wg.Wait()
	})
}

// GetTokens returns a category's collection ordered by its sort config.
// A stale category triggers a background refetch; the returned slice still
// reflects the current (possibly stale) content.
func (s *Session) GetTokens(category domain.Category) ([]*domain.Token, error) {
	if !domain.ValidCategory(category) {
		return nil, fmt.Errorf("%w: category %q", storage.ErrUnknownCategory, category)
	}

	if s.cache.IsStale(category) && s.syncer.Converged() {
		s.refetch(category)
	}
	return s.ranking.Tokens(category), nil
}

// GetConnectionStatus returns the current connection status.
func (s *Session) GetConnectionStatus() domain.ConnectionStatus {
	return s.state.Status()
}

// GetNotifications returns live notifications, newest last.
func (s *Session) GetNotifications() []domain.Notification {
	return s.center.List()
}

// UpdatePrice issues an optimistic price update. The returned channel
// settles the authoritative write: nil on confirmation, the write error
// after rollback.
func (s *Session) UpdatePrice(tokenID string, price float64) (<-chan error, error) {
	return s.mutations.UpdatePrice(tokenID, price)
}

// AddToken issues an optimistic add and returns the placeholder id visible
// until the backend assigns the authoritative one. The settle channel
// carries the authoritative id on confirmation.
func (s *Session) AddToken(category domain.Category) (string, <-chan mutation.AddResult, error) {
	return s.mutations.AddToken(category)
}

// RemoveToken issues an optimistic remove. The returned channel settles the
// authoritative write the same way UpdatePrice's does.
func (s *Session) RemoveToken(tokenID string, category domain.Category) (<-chan error, error) {
	return s.mutations.RemoveToken(tokenID, category)
}

// DismissNotification removes a notification by id. Idempotent.
func (s *Session) DismissNotification(id string) {
	s.center.Dismiss(id)
}

// ClearNotifications removes all notifications.
func (s *Session) ClearNotifications() {
	s.center.Clear()
}

// ResetErrorState clears the probe failure budget and restores the
// connection status from the convergence state. It is the only way out of
// probe exhaustion.
func (s *Session) ResetErrorState() {
	s.monitor.Reset()

	status := domain.StatusDisconnected
	if s.syncer.Converged() {
		status = domain.StatusConnected
	}
	s.setStatus(status)
}

// Invalidate marks a category stale so its next read refetches. An empty
// category invalidates everything.
func (s *Session) Invalidate(category domain.Category) error {
	if category == "" {
		s.cache.MarkAllStale()
		return nil
	}
	if !domain.ValidCategory(category) {
		return fmt.Errorf("%w: category %q", storage.ErrUnknownCategory, category)
	}
	s.cache.MarkStale(category)
	return nil
}

// Prefetch refetches a category from the backend immediately.
func (s *Session) Prefetch(category domain.Category) error {
	if !domain.ValidCategory(category) {
		return fmt.Errorf("%w: category %q", storage.ErrUnknownCategory, category)
	}
	s.refetch(category)
	return nil
}

// SetSortConfig sets a category's sort configuration.
func (s *Session) SetSortConfig(category domain.Category, cfg domain.SortConfig) {
	s.state.SetSortConfig(category, cfg)
}

// Select records the selected token id. An empty id clears the selection.
func (s *Session) Select(tokenID string) {
	s.state.Select(tokenID)
}

// Selected resolves the selected token inside a category's current ordering.
func (s *Session) Selected(category domain.Category) (*domain.Token, bool) {
	return s.ranking.Selected(category)
}

// Wait blocks until all in-flight mutation writes settle. Intended for tests
// and graceful drains.
func (s *Session) Wait() {
	s.mutations.Wait()
	s.waitRefetches()
}

// refetchHandle identifies one in-flight refetch.
type refetchHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// CancelRefetch cancels the in-flight refetch for a category, if any.
// Implements mutation.RefetchCanceller.
func (s *Session) CancelRefetch(category domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.refetches[category]; ok {
		h.cancel()
		delete(s.refetches, category)
	}
}

// refetch loads a category from the backend in the background and applies it
// to both stores unless cancelled first.
func (s *Session) refetch(category domain.Category) {
	s.mu.Lock()
	if h, ok := s.refetches[category]; ok {
		h.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	handle := &refetchHandle{ctx: ctx, cancel: cancel}
	s.refetches[category] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		policy := resilience.Policy{
			MaxRetries: s.cfg.MaxRetries,
			BaseDelay:  s.cfg.BaseDelay,
			MaxDelay:   s.cfg.MaxDelay,
			RetryIf:    storage.IsTransient,
		}

		var tokens []*domain.Token
		err := policy.Do(ctx, func(ctx context.Context) error {
			var opErr error
			tokens, opErr = s.backend.ListTokens(ctx, category)
			return opErr
		})
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("[session] refetch %s failed: %v", category, err)
			}
			return
		}

		// The cancellation check and the dual apply are one atomic step
		// with respect to CancelRefetch.
		s.mu.Lock()
		defer s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.state.ReplaceCategory(category, tokens)
		s.cache.ReplaceCategory(category, tokens)
		if h, ok := s.refetches[category]; ok && h.ctx == ctx {
			delete(s.refetches, category)
		}
	}()
}

func (s *Session) waitRefetches() {
	s.wg.Wait()
}

// probe wraps the backend ping with failure accounting.
func (s *Session) probe(ctx context.Context) error {
	err := s.backend.Ping(ctx)
	if err != nil {
		s.metrics.RecordProbeFailure()
	}
	return err
}

// onProbesExhausted surfaces terminal connectivity loss: status goes to
// error and a notification is emitted. Only ResetErrorState resumes probing.
func (s *Session) onProbesExhausted() {
	s.setStatus(domain.StatusError)
	s.center.Push("Connection lost: retries exhausted", domain.SeverityError)
	s.metrics.RecordExhaustion()
	s.metrics.RecordNotification(domain.SeverityError)
	s.logger.Printf("[session] connectivity probes exhausted")
}

func (s *Session) setStatus(status domain.ConnectionStatus) {
	s.state.SetStatus(status)
	s.metrics.RecordConnectionStatus(status)
}
