package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pulseboard/internal/domain"
)

// WSConfig configures the WebSocket feed client.
type WSConfig struct {
	// HandshakeTimeout bounds the dial. Defaults to 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds control writes. Defaults to 10s.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket client configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSSource consumes the feed contract over a WebSocket transport. It
// satisfies the same Source interface as the simulation, so the
// synchronization coordinator cannot tell them apart.
type WSSource struct {
	endpoint string
	config   WSConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[int]func([]domain.PriceUpdate)
	nextSubID int
	onBatch   BatchFunc
	warmupOff atomic.Bool // cancelled warm-up: drop further batch frames
	closed    atomic.Bool

	wg sync.WaitGroup
}

// NewWS creates a WebSocket feed source for the given endpoint.
// The connection is established by StartWarmup.
func NewWS(endpoint string, config *WSConfig) *WSSource {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	return &WSSource{
		endpoint: endpoint,
		config:   cfg,
		subs:     make(map[int]func([]domain.PriceUpdate)),
	}
}

// StartWarmup dials the feed server, sends the warm-up parameters and starts
// the read loop. The returned cancel function stops batch delivery; live
// deltas keep flowing to subscribers.
func (s *WSSource) StartWarmup(opts WarmupOptions) (func(), error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrStopped
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.Dial(s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed server: %w", err)
	}

	req := StartRequest{
		Type:             MsgStart,
		CountPerCategory: opts.CountPerCategory,
		BatchSize:        opts.BatchSize,
		BatchDelayMs:     opts.BatchDelayMs,
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send start request: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.onBatch = opts.OnBatch
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn)

	return func() { s.warmupOff.Store(true) }, nil
}

// readLoop dispatches server frames until the connection closes.
func (s *WSSource) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case MsgWarmupBatch:
			if s.warmupOff.Load() {
				continue
			}
			s.mu.Lock()
			onBatch := s.onBatch
			s.mu.Unlock()
			if onBatch != nil && domain.ValidCategory(msg.Category) {
				onBatch(msg.Category, msg.Tokens, msg.Complete)
			}
		case MsgPriceUpdates:
			s.mu.Lock()
			listeners := make([]func([]domain.PriceUpdate), 0, len(s.subs))
			for _, fn := range s.subs {
				listeners = append(listeners, fn)
			}
			s.mu.Unlock()
			for _, fn := range listeners {
				fn(msg.Updates)
			}
		}
	}
}

// StartLive is a no-op for the WebSocket transport: the server begins
// streaming deltas on its own once warm-up completes.
func (s *WSSource) StartLive([]*domain.Token) {}

// Subscribe registers a live delta listener.
func (s *WSSource) Subscribe(fn func([]domain.PriceUpdate)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
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

// Stop closes the connection and clears all listeners.
// Safe to call more than once.
func (s *WSSource) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.subs = make(map[int]func([]domain.PriceUpdate))
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		conn.Close()
	}
	s.wg.Wait()
}

var _ Source = (*WSSource)(nil)
