package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"pulseboard/internal/domain"
	"pulseboard/internal/resilience"
	"pulseboard/internal/storage"
)

// warmupLoadTimeout bounds one category's backend load, retries included.
const warmupLoadTimeout = 30 * time.Second

// BackendSource serves warm-up batches from the authoritative token backend
// and simulates live deltas over the delivered tokens. Warm-up and refetch
// then agree on token identity, which a free-running simulation cannot
// guarantee.
type BackendSource struct {
	backend storage.TokenBackend
	sim     *SimSource
	retry   resilience.Policy
	logger  *log.Logger

	mu            sync.Mutex
	warmupCancels []*warmupCancel
	stopped       bool
	wg            sync.WaitGroup
}

// BackendSourceOptions configures a BackendSource.
type BackendSourceOptions struct {
	// Sim provides the live tick cadence and seed.
	Sim SimOptions
	// Retry governs the backend list/create calls during warm-up. The error
	// filter is installed by the source; zero values fall back to the
	// resilience defaults.
	Retry  resilience.Policy
	Logger *log.Logger
}

type warmupCancel struct {
	ch   chan struct{}
	once sync.Once
}

func (c *warmupCancel) cancel() {
	c.once.Do(func() { close(c.ch) })
}

// NewBackendSource creates a BackendSource.
func NewBackendSource(backend storage.TokenBackend, opts BackendSourceOptions) *BackendSource {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	retry := opts.Retry
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = resilience.DefaultMaxRetries
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = resilience.DefaultBaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = resilience.DefaultMaxDelay
	}
	retry.RetryIf = storage.IsTransient

	return &BackendSource{
		backend: backend,
		sim:     NewSim(opts.Sim),
		retry:   retry,
		logger:  logger,
	}
}

// StartWarmup lists each category from the backend, topping it up with
// created tokens until the convergence target is met, then delivers batches
// at the configured cadence.
func (s *BackendSource) StartWarmup(opts WarmupOptions) (func(), error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	wc := &warmupCancel{ch: make(chan struct{})}
	s.warmupCancels = append(s.warmupCancels, wc)
	s.mu.Unlock()

	for _, category := range domain.Categories() {
		s.wg.Add(1)
		go s.warmupCategory(category, opts, wc.ch)
	}

	return wc.cancel, nil
}

func (s *BackendSource) warmupCategory(category domain.Category, opts WarmupOptions, cancelCh chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), warmupLoadTimeout)
	defer cancel()
	go func() {
		select {
		case <-cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var tokens []*domain.Token
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var loadErr error
		tokens, loadErr = s.loadCategory(ctx, category, opts.CountPerCategory)
		return loadErr
	})
	if err != nil {
		select {
		case <-cancelCh:
			// Cancelled warm-up: the caller no longer wants batches, so a
			// load abort is not a failure.
			return
		default:
		}
		s.logger.Printf("[feed] warm-up load failed for %s: %v", category, err)
		if opts.OnError != nil {
			opts.OnError(category, err)
		}
		return
	}

	delay := time.Duration(opts.BatchDelayMs) * time.Millisecond

	for delivered := 0; delivered < len(tokens); {
		if delay > 0 {
			select {
			case <-cancelCh:
				return
			case <-time.After(delay):
			}
		} else {
			select {
			case <-cancelCh:
				return
			default:
			}
		}

		delivered += opts.BatchSize
		if delivered > len(tokens) {
			delivered = len(tokens)
		}

		complete := delivered == len(tokens)
		opts.OnBatch(category, copyTokens(tokens[:delivered]), complete)
	}
}

// loadCategory fetches a category's tokens and creates the shortfall.
func (s *BackendSource) loadCategory(ctx context.Context, category domain.Category, count int) ([]*domain.Token, error) {
	tokens, err := s.backend.ListTokens(ctx, category)
	if err != nil {
		return nil, err
	}
	for len(tokens) < count {
		t, err := s.backend.CreateToken(ctx, category)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if len(tokens) > count {
		tokens = tokens[:count]
	}
	return tokens, nil
}

// StartLive begins simulated delta emission over the given tokens.
func (s *BackendSource) StartLive(tokens []*domain.Token) {
	s.sim.StartLive(tokens)
}

// Subscribe registers a live delta listener.
func (s *BackendSource) Subscribe(fn func([]domain.PriceUpdate)) func() {
	return s.sim.Subscribe(fn)
}

// Stop halts warm-up and ticking and clears all listeners.
// Safe to call more than once.
func (s *BackendSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, wc := range s.warmupCancels {
		wc.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.sim.Stop()
}

var _ Source = (*BackendSource)(nil)
