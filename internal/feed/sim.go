package feed

import (
	"math/rand"
	"sync"
	"time"

	"pulseboard/internal/domain"
	"pulseboard/internal/idgen"
	"pulseboard/internal/tokengen"
)

// Default simulation cadence.
const (
	DefaultTickInterval = 500 * time.Millisecond
	maxUpdatesPerTick   = 8
)

// SimOptions configures the simulated source.
type SimOptions struct {
	// TickInterval is the live delta cadence. Defaults to DefaultTickInterval.
	TickInterval time.Duration
	// Seed makes the simulation reproducible. 0 seeds from the clock.
	Seed int64
}

// SimSource is the in-process feed simulation. It is an explicitly owned
// instance with its own lifecycle; nothing about it is process-global.
type SimSource struct {
	tickInterval time.Duration

	mu         sync.Mutex
	rng        *rand.Rand
	seq        uint64
	subs       map[int]func([]domain.PriceUpdate)
	nextSubID  int
	livePrices map[string]float64 // last emitted price per live token id
	liveIDs    []string
	stopCh     chan struct{}
	stopped    bool
	liveOnce   sync.Once

	warmupCancels []chan struct{}
	wg            sync.WaitGroup
}

// NewSim creates a simulated feed source.
func NewSim(opts SimOptions) *SimSource {
	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimSource{
		tickInterval: interval,
		rng:          rand.New(rand.NewSource(seed)),
		subs:         make(map[int]func([]domain.PriceUpdate)),
		livePrices:   make(map[string]float64),
		stopCh:       make(chan struct{}),
	}
}

// StartWarmup delivers sequential batches per category at fixed cadence.
// The returned cancel function stops all pending batch timers.
func (s *SimSource) StartWarmup(opts WarmupOptions) (func(), error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	cancelCh := make(chan struct{})
	s.warmupCancels = append(s.warmupCancels, cancelCh)
	s.mu.Unlock()

	for _, category := range domain.Categories() {
		s.wg.Add(1)
		go s.warmupCategory(category, opts, cancelCh)
	}

	var once sync.Once
	return func() {
		once.Do(func() { close(cancelCh) })
	}, nil
}

// warmupCategory drives one category to its convergence target.
// Delivery is strictly sequential: the next delay starts only after OnBatch
// returned.
func (s *SimSource) warmupCategory(category domain.Category, opts WarmupOptions, cancelCh chan struct{}) {
	defer s.wg.Done()

	delay := time.Duration(opts.BatchDelayMs) * time.Millisecond
	accumulated := make([]*domain.Token, 0, opts.CountPerCategory)

	for len(accumulated) < opts.CountPerCategory {
		if delay > 0 {
			select {
			case <-cancelCh:
				return
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}
		} else {
			select {
			case <-cancelCh:
				return
			case <-s.stopCh:
				return
			default:
			}
		}

		n := opts.BatchSize
		if remaining := opts.CountPerCategory - len(accumulated); n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			accumulated = append(accumulated, s.generateToken(category))
		}

		complete := len(accumulated) == opts.CountPerCategory
		opts.OnBatch(category, copyTokens(accumulated), complete)
	}
}

// StartLive begins periodic delta emission for random subsets of tokens.
// Subsequent calls extend the live set; the ticker starts once.
func (s *SimSource) StartLive(tokens []*domain.Token) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	for _, t := range tokens {
		if _, ok := s.livePrices[t.ID]; !ok {
			s.liveIDs = append(s.liveIDs, t.ID)
		}
		s.livePrices[t.ID] = t.Price
	}
	s.mu.Unlock()

	s.liveOnce.Do(func() {
		s.wg.Add(1)
		go s.tickLoop()
	})
}

func (s *SimSource) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.emitTick()
		}
	}
}

// emitTick builds one delta batch for a random token subset and fans it out.
func (s *SimSource) emitTick() {
	s.mu.Lock()
	if len(s.liveIDs) == 0 {
		s.mu.Unlock()
		return
	}

	n := 1 + s.rng.Intn(maxUpdatesPerTick)
	if n > len(s.liveIDs) {
		n = len(s.liveIDs)
	}

	now := time.Now().UnixMilli()
	updates := make([]domain.PriceUpdate, 0, n)
	seen := make(map[string]struct{}, n)
	for len(updates) < n {
		id := s.liveIDs[s.rng.Intn(len(s.liveIDs))]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		price := s.livePrices[id] * (1 + (s.rng.Float64()-0.5)*0.1)
		s.livePrices[id] = price
		updates = append(updates, domain.PriceUpdate{
			TokenID:       id,
			Price:         price,
			PriceChange1m: (s.rng.Float64() - 0.5) * 10,
			PriceChange5m: (s.rng.Float64() - 0.5) * 30,
			Timestamp:     now,
		})
	}

	listeners := make([]func([]domain.PriceUpdate), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(updates)
	}
}

// Subscribe registers a live delta listener.
func (s *SimSource) Subscribe(fn func([]domain.PriceUpdate)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Stop halts warm-up and ticking and clears all listeners.
// Safe to call more than once.
func (s *SimSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.subs = make(map[int]func([]domain.PriceUpdate))
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *SimSource) generateToken(category domain.Category) *domain.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	createdAt := time.Now().UnixMilli() - int64(s.rng.Intn(86_400_000))
	id := idgen.TokenID(category, s.seq, createdAt)
	return tokengen.Random(s.rng, category, id, createdAt)
}

func copyTokens(tokens []*domain.Token) []*domain.Token {
	out := make([]*domain.Token, len(tokens))
	for i, t := range tokens {
		tokenCopy := *t
		out[i] = &tokenCopy
	}
	return out
}

var _ Source = (*SimSource)(nil)
