package resilience

import (
	"context"
	"log"
	"sync"
	"time"
)

// State is a connectivity state machine state.
type State string

// Monitor states.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Monitor drives periodic connectivity probes with a bounded failure budget.
//
// Transitions: idle→connecting on a scheduled probe; connecting→connected on
// probe success (attempt counter resets); connecting→error on probe failure
// (counter increments); error/disconnected→connecting on the next scheduled
// probe while the counter is below the ceiling; any→disconnected on an
// explicit external signal. Reaching the ceiling stops scheduling probes and
// fires OnExhausted exactly once; only Reset resumes probing.
type Monitor struct {
	probe       func(ctx context.Context) error
	interval    time.Duration
	maxRetries  int
	onState     func(State)
	onExhausted func()
	logger      *log.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	exhausted bool

	stopCh   chan struct{}
	resumeCh chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Probe checks connectivity. Required.
	Probe func(ctx context.Context) error
	// Interval between scheduled probes. Required, > 0.
	Interval time.Duration
	// MaxRetries is the consecutive-failure ceiling. Required, > 0.
	MaxRetries int
	// OnStateChange is invoked on every state transition.
	OnStateChange func(State)
	// OnExhausted is invoked exactly once when the ceiling is reached.
	OnExhausted func()
	Logger      *log.Logger
}

// NewMonitor creates a Monitor in the idle state. Call Start to begin probing.
func NewMonitor(opts MonitorOptions) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		probe:       opts.Probe,
		interval:    opts.Interval,
		maxRetries:  opts.MaxRetries,
		onState:     opts.OnStateChange,
		onExhausted: opts.OnExhausted,
		logger:      logger,
		state:       StateIdle,
		stopCh:      make(chan struct{}),
		resumeCh:    make(chan struct{}, 1),
	}
}

// Start launches the probe loop. The loop exits when ctx is cancelled or
// Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.resumeCh:
			// Reset signal: resume the schedule.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.interval)
		case <-timer.C:
			if m.probeOnce(ctx) {
				timer.Reset(m.interval)
			}
			// Terminal: the interval stays cleared until Reset.
		}
	}
}

// probeOnce runs a single probe. Returns false when the monitor went
// terminal and no further probe may be scheduled.
func (m *Monitor) probeOnce(ctx context.Context) bool {
	m.mu.Lock()
	if m.exhausted {
		m.mu.Unlock()
		return false
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	err := m.probe(ctx)

	m.mu.Lock()

	if err == nil {
		m.attempts = 0
		m.setStateLocked(StateConnected)
		m.mu.Unlock()
		return true
	}

	m.attempts++
	m.setStateLocked(StateError)
	m.logger.Printf("[monitor] probe failed (attempt %d/%d): %v", m.attempts, m.maxRetries, err)
	terminal := m.attempts >= m.maxRetries
	if terminal {
		m.exhausted = true
	}
	// Release the lock before the callback so it may call State, Attempts
	// or Reset without deadlocking.
	m.mu.Unlock()

	if terminal {
		if m.onExhausted != nil {
			m.onExhausted()
		}
		return false
	}
	return true
}

// Disconnect signals an external disconnect. The next scheduled probe still
// attempts recovery unless the failure budget is already exhausted.
func (m *Monitor) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setStateLocked(StateDisconnected)
}

// Reset clears the failure counter and terminal state and resumes probing.
// It is the only way out of exhaustion.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.attempts = 0
	m.exhausted = false
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	select {
	case m.resumeCh <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Attempts returns the consecutive-failure counter.
func (m *Monitor) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempts
}

// Exhausted reports whether the failure budget is spent.
func (m *Monitor) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.exhausted
}

// Close stops the probe loop. Safe to call more than once.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Monitor) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}
