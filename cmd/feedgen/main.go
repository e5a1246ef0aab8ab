// Package main runs a standalone WebSocket feed server. Each connection
// gets its own simulated token universe: the client sends a start frame
// with warm-up parameters, receives warmup_batch frames per category,
// then a stream of price_updates frames.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulseboard/internal/domain"
	"pulseboard/internal/feed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The feed is a development tool; accept any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", ":8090", "WebSocket listen address")
	tickInterval := flag.Duration("tick-interval", 500*time.Millisecond, "Live price delta cadence")
	seed := flag.Int64("seed", 0, "Seed for generated token data (0 seeds from the clock)")
	flag.Parse()

	logger := log.New(os.Stdout, "[feedgen] ", log.LstdFlags|log.Lshortfile)

	srv := &feedServer{
		tickInterval: *tickInterval,
		seed:         *seed,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", srv.handleFeed)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	logger.Printf("Feed server listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Fatalf("HTTP server error: %v", err)
	}
}

type feedServer struct {
	tickInterval time.Duration
	seed         int64
	logger       *log.Logger
}

// handleFeed upgrades the connection and streams one simulated feed.
func (s *feedServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req feed.StartRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Printf("Read start request: %v", err)
		return
	}
	if req.Type != feed.MsgStart {
		s.logger.Printf("Unexpected first frame type %q", req.Type)
		return
	}

	s.logger.Printf("Client %s: warm-up %d per category, batches of %d every %dms",
		conn.RemoteAddr(), req.CountPerCategory, req.BatchSize, req.BatchDelayMs)

	sim := feed.NewSim(feed.SimOptions{TickInterval: s.tickInterval, Seed: s.seed})
	defer sim.Stop()

	// Gorilla connections allow one concurrent writer; warm-up batches,
	// live updates and control frames all funnel through writeMu.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	writeErr := make(chan error, 1)
	reportWriteErr := func(err error) {
		select {
		case writeErr <- err:
		default:
		}
	}

	var warmupMu sync.Mutex
	var all []*domain.Token
	remaining := len(domain.Categories())

	cancelWarmup, err := sim.StartWarmup(feed.WarmupOptions{
		CountPerCategory: req.CountPerCategory,
		BatchSize:        req.BatchSize,
		BatchDelayMs:     req.BatchDelayMs,
		OnBatch: func(category domain.Category, accumulated []*domain.Token, complete bool) {
			if err := writeJSON(feed.Message{
				Type:     feed.MsgWarmupBatch,
				Category: category,
				Tokens:   accumulated,
				Complete: complete,
			}); err != nil {
				reportWriteErr(err)
				return
			}
			if !complete {
				return
			}
			warmupMu.Lock()
			defer warmupMu.Unlock()
			all = append(all, accumulated...)
			remaining--
			if remaining == 0 {
				unsubscribe := sim.Subscribe(func(updates []domain.PriceUpdate) {
					if err := writeJSON(feed.Message{
						Type:    feed.MsgPriceUpdates,
						Updates: updates,
					}); err != nil {
						reportWriteErr(err)
					}
				})
				_ = unsubscribe // released by sim.Stop on disconnect
				sim.StartLive(all)
			}
		},
	})
	if err != nil {
		s.logger.Printf("Start warm-up: %v", err)
		return
	}
	defer cancelWarmup()

	// Drain reads to observe disconnect; clients send nothing after start.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case err := <-readErr:
		s.logger.Printf("Client %s disconnected: %v", conn.RemoteAddr(), err)
	case err := <-writeErr:
		s.logger.Printf("Client %s write failed: %v", conn.RemoteAddr(), err)
	}
}
