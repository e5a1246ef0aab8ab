// Package main runs the token dashboard core as a service:
// progressive warm-up from a token backend, live price deltas applied
// to the cache and state store, optimistic mutations with rollback,
// and a JSON API over the session facade.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pulseboard/internal/domain"
	"pulseboard/internal/feed"
	"pulseboard/internal/observability"
	"pulseboard/internal/session"
	"pulseboard/internal/storage"
	chstore "pulseboard/internal/storage/clickhouse"
	"pulseboard/internal/storage/memory"
	"pulseboard/internal/storage/migrations"
	pgstore "pulseboard/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", envOr("PULSEBOARD_ADDR", ":8080"), "API HTTP address")
	metricsAddr := flag.String("metrics-addr", envOr("PULSEBOARD_METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	feedKind := flag.String("feed", envOr("PULSEBOARD_FEED", "backend"), "Feed source: backend, sim, ws")
	backendKind := flag.String("backend", envOr("PULSEBOARD_BACKEND", "memory"), "Token backend: memory, postgres")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for price history (optional)")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("PULSEBOARD_WS_ENDPOINT"), "WebSocket feed endpoint (feed=ws)")
	seed := flag.Int64("seed", 0, "Seed for generated token data (0 seeds from the clock)")
	tickInterval := flag.Duration("tick-interval", 500*time.Millisecond, "Live price delta cadence")
	countPerCategory := flag.Int("count-per-category", 30, "Warm-up token count per category")
	batchSize := flag.Int("batch-size", 10, "Warm-up batch size")
	batchDelay := flag.Int64("batch-delay-ms", 400, "Delay between warm-up batches in milliseconds")
	maxRetries := flag.Int("max-retries", 3, "Retry budget for backend writes and probes")
	baseDelay := flag.Duration("base-delay", time.Second, "Base retry backoff delay")
	maxDelay := flag.Duration("max-delay", 10*time.Second, "Retry backoff delay cap")
	checkInterval := flag.Duration("check-interval", 10*time.Second, "Connectivity probe interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg := session.DefaultConfig()
	cfg.MaxRetries = *maxRetries
	cfg.BaseDelay = *baseDelay
	cfg.MaxDelay = *maxDelay
	cfg.CheckInterval = *checkInterval
	cfg.CountPerCategory = *countPerCategory
	cfg.BatchSize = *batchSize
	cfg.BatchDelayMs = *batchDelay
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create backend
	backend, cleanupBackend, err := createBackend(ctx, *backendKind, *postgresDSN, *seed)
	if err != nil {
		logger.Fatalf("Failed to create backend: %v", err)
	}
	defer cleanupBackend()

	// Create optional price history archive
	history, cleanupHistory, err := createHistory(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to create price history store: %v", err)
	}
	defer cleanupHistory()
	if history != nil {
		logger.Println("Price history archiving enabled")
	}

	// Create feed source
	source, err := createFeed(*feedKind, *wsEndpoint, backend, feed.SimOptions{
		TickInterval: *tickInterval,
		Seed:         *seed,
	})
	if err != nil {
		logger.Fatalf("Failed to create feed source: %v", err)
	}

	metrics := observability.NewMetrics("pulseboard", nil)

	sess, err := session.New(session.Options{
		Feed:    source,
		Backend: backend,
		History: history,
		Metrics: metrics,
		Logger:  logger,
		Config:  cfg,
	})
	if err != nil {
		logger.Fatalf("Failed to create session: %v", err)
	}

	if err := sess.Start(); err != nil {
		logger.Fatalf("Failed to start session: %v", err)
	}
	logger.Printf("Session started (feed=%s backend=%s)", *feedKind, *backendKind)

	// Metrics endpoint on its own listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		logger.Printf("Metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Metrics server error: %v", err)
		}
	}()

	api := &apiServer{session: sess, logger: logger}
	httpServer := &http.Server{
		Addr:    *addr,
		Handler: api.routes(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
		cancel()
	}()

	logger.Printf("API listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("HTTP server error: %v", err)
	}

	sess.Close()
	logger.Println("Shutdown complete")
}

// createBackend creates the authoritative token backend.
func createBackend(ctx context.Context, kind, postgresDSN string, seed int64) (storage.TokenBackend, func(), error) {
	switch kind {
	case "memory":
		return memory.NewTokenBackend(seed), func() {}, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required with --backend=postgres")
		}
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		return pgstore.NewTokenBackend(pool, seed), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want memory or postgres)", kind)
	}
}

// createHistory creates the ClickHouse price history archive when a DSN
// is configured. A nil store disables archiving.
func createHistory(ctx context.Context, dsn string) (storage.PriceHistoryStore, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}
	cleanup := func() { conn.Close() }
	return chstore.NewPriceHistoryStore(conn), cleanup, nil
}

// createFeed creates the feed source for warm-up and live deltas.
func createFeed(kind, wsEndpoint string, backend storage.TokenBackend, simOpts feed.SimOptions) (feed.Source, error) {
	switch kind {
	case "backend":
		return feed.NewBackendSource(backend, feed.BackendSourceOptions{Sim: simOpts}), nil
	case "sim":
		// The sim path generates tokens the backend never saw: the first
		// stale read after convergence refetches from the backend and
		// replaces them. Useful for demos of the pure feed path only.
		log.Printf("[server] feed=sim: warm-up tokens do not exist in the backend; refetches will replace them")
		return feed.NewSim(simOpts), nil
	case "ws":
		if wsEndpoint == "" {
			return nil, fmt.Errorf("--ws-endpoint is required with --feed=ws")
		}
		return feed.NewWS(wsEndpoint, nil), nil
	default:
		return nil, fmt.Errorf("unknown feed %q (want backend, sim or ws)", kind)
	}
}

// apiServer exposes the session facade over HTTP.
type apiServer struct {
	session *session.Session
	logger  *log.Logger
}

func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/tokens", a.handleGetTokens)
	mux.HandleFunc("GET /api/connection", a.handleConnection)
	mux.HandleFunc("GET /api/notifications", a.handleGetNotifications)
	mux.HandleFunc("POST /api/tokens", a.handleAddToken)
	mux.HandleFunc("POST /api/tokens/{id}/price", a.handleUpdatePrice)
	mux.HandleFunc("DELETE /api/tokens/{id}", a.handleRemoveToken)
	mux.HandleFunc("DELETE /api/notifications/{id}", a.handleDismissNotification)
	mux.HandleFunc("DELETE /api/notifications", a.handleClearNotifications)
	mux.HandleFunc("POST /api/connection/reset", a.handleResetErrorState)
	mux.HandleFunc("POST /api/invalidate", a.handleInvalidate)
	mux.HandleFunc("POST /api/prefetch", a.handlePrefetch)
	mux.HandleFunc("PUT /api/sort", a.handleSetSort)
	mux.HandleFunc("PUT /api/selection", a.handleSelect)
	mux.HandleFunc("GET /api/selection", a.handleSelected)

	return mux
}

func (a *apiServer) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	category := domain.Category(r.URL.Query().Get("category"))
	tokens, err := a.session.GetTokens(category)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, map[string]any{"tokens": tokens})
}

func (a *apiServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, map[string]any{"status": a.session.GetConnectionStatus()})
}

func (a *apiServer) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	notifications := a.session.GetNotifications()
	a.writeJSON(w, map[string]any{"notifications": notifications})
}

func (a *apiServer) handleAddToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category domain.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	_, settled, err := a.session.AddToken(req.Category)
	if err != nil {
		a.writeError(w, err)
		return
	}
	// Resolve on settle: the write either confirmed with the authoritative
	// id or was rejected and rolled back.
	res := <-settled
	if res.Err != nil {
		a.writeError(w, res.Err)
		return
	}
	a.writeJSON(w, map[string]any{"id": res.ID})
}

func (a *apiServer) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	settled, err := a.session.UpdatePrice(r.PathValue("id"), req.Price)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := <-settled; err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	category := domain.Category(r.URL.Query().Get("category"))
	settled, err := a.session.RemoveToken(r.PathValue("id"), category)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := <-settled; err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	a.session.DismissNotification(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	a.session.ClearNotifications()
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleResetErrorState(w http.ResponseWriter, r *http.Request) {
	a.session.ResetErrorState()
	a.writeJSON(w, map[string]any{"status": a.session.GetConnectionStatus()})
}

func (a *apiServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category domain.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.session.Invalidate(req.Category); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category domain.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.session.Prefetch(req.Category); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *apiServer) handleSetSort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category  domain.Category  `json:"category"`
		SortBy    domain.SortKey   `json:"sortBy"`
		SortOrder domain.SortOrder `json:"sortOrder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !domain.ValidCategory(req.Category) {
		a.writeError(w, storage.ErrUnknownCategory)
		return
	}
	a.session.SetSortConfig(req.Category, domain.SortConfig{SortBy: req.SortBy, SortOrder: req.SortOrder})
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID string `json:"tokenId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a.session.Select(req.TokenID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleSelected(w http.ResponseWriter, r *http.Request) {
	category := domain.Category(r.URL.Query().Get("category"))
	if !domain.ValidCategory(category) {
		a.writeError(w, storage.ErrUnknownCategory)
		return
	}
	token, ok := a.session.Selected(category)
	if !ok {
		a.writeJSON(w, map[string]any{"selected": nil})
		return
	}
	a.writeJSON(w, map[string]any{"selected": token})
}

func (a *apiServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Printf("Failed to encode response: %v", err)
	}
}

// writeError maps storage errors to HTTP status codes.
func (a *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrUnknownCategory), errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

// envOr returns the environment variable value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
