package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulseboard/internal/domain"
	"pulseboard/internal/feed"
	"pulseboard/internal/resilience"
	"pulseboard/internal/storage"
	"pulseboard/internal/storage/memory"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.CheckInterval = 5 * time.Millisecond
	cfg.CountPerCategory = 4
	cfg.BatchSize = 2
	cfg.BatchDelayMs = 5
	cfg.NotificationTTL = time.Minute
	return cfg
}

func newTestSession(t *testing.T, backend storage.TokenBackend, cfg Config) *Session {
	t.Helper()

	src := feed.NewBackendSource(backend, feed.BackendSourceOptions{
		Sim: feed.SimOptions{TickInterval: time.Hour, Seed: 1},
		Retry: resilience.Policy{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
	})
	s, err := New(Options{
		Feed:    src,
		Backend: backend,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func startAndConverge(t *testing.T, s *Session) {
	t.Helper()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.GetConnectionStatus() == domain.StatusConnected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session did not converge, status %s", s.GetConnectionStatus())
}

func tokenIDs(tokens []*domain.Token) []string {
	ids := make([]string, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.ID
	}
	return ids
}

func TestSession_ColdStartStatusSequence(t *testing.T) {
	backend := memory.NewTokenBackend(1)
	s := newTestSession(t, backend, testConfig())

	var mu sync.Mutex
	var observed []domain.ConnectionStatus
	record := func() {
		status := s.GetConnectionStatus()
		mu.Lock()
		defer mu.Unlock()
		if len(observed) == 0 || observed[len(observed)-1] != status {
			observed = append(observed, status)
		}
	}

	record()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				record()
				time.Sleep(500 * time.Microsecond)
			}
		}
	}()

	startAndConverge(t, s)
	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	// A successful cold start must pass through connecting then connected,
	// with no error in between.
	for _, status := range observed {
		if status == domain.StatusError {
			t.Fatalf("observed error during cold start: %v", observed)
		}
	}
	if len(observed) < 2 {
		t.Fatalf("too few transitions: %v", observed)
	}
	if observed[len(observed)-1] != domain.StatusConnected {
		t.Errorf("final status %s, want connected", observed[len(observed)-1])
	}
	if observed[len(observed)-2] != domain.StatusConnecting {
		t.Errorf("penultimate status %s, want connecting", observed[len(observed)-2])
	}
}

func TestSession_ConvergedCounts(t *testing.T) {
	backend := memory.NewTokenBackend(2)
	cfg := testConfig()
	s := newTestSession(t, backend, cfg)
	startAndConverge(t, s)

	for _, cat := range domain.Categories() {
		tokens, err := s.GetTokens(cat)
		if err != nil {
			t.Fatalf("GetTokens(%s): %v", cat, err)
		}
		if len(tokens) != cfg.CountPerCategory {
			t.Errorf("%s: got %d tokens, want %d", cat, len(tokens), cfg.CountPerCategory)
		}
	}
}

func TestSession_UpdatePriceUnknownID(t *testing.T) {
	backend := memory.NewTokenBackend(3)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	before, _ := s.GetTokens(domain.CategoryNewPairs)

	_, err := s.UpdatePrice("no-such-token", 1.0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s.Wait()

	after, _ := s.GetTokens(domain.CategoryNewPairs)
	if len(after) != len(before) {
		t.Fatalf("collection size changed: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i].ID != before[i].ID || after[i].Price != before[i].Price {
			t.Errorf("token %s changed by unknown-id update", after[i].ID)
		}
	}
	if got := len(s.GetNotifications()); got != 1 {
		t.Errorf("notifications: got %d, want 1", got)
	}
}

func TestSession_UpdatePriceSettlesToBackend(t *testing.T) {
	backend := memory.NewTokenBackend(4)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	tokens, _ := s.GetTokens(domain.CategoryMigrated)
	target := tokens[0].ID

	settled, err := s.UpdatePrice(target, 777.0)
	if err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}

	// Optimistic value is visible before the write settles.
	tokens, _ = s.GetTokens(domain.CategoryMigrated)
	found := false
	for _, tok := range tokens {
		if tok.ID == target && tok.Price == 777.0 {
			found = true
		}
	}
	if !found {
		t.Error("optimistic price not visible")
	}

	if err := <-settled; err != nil {
		t.Fatalf("settle: %v", err)
	}

	listed, err := backend.ListTokens(context.Background(), domain.CategoryMigrated)
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	for _, tok := range listed {
		if tok.ID == target && tok.Price != 777.0 {
			t.Errorf("backend price: got %v, want 777", tok.Price)
		}
	}
}

func TestSession_FailedUpdateRollsBackBothStores(t *testing.T) {
	backend := memory.NewTokenBackend(5)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	tokens, _ := s.GetTokens(domain.CategoryNewPairs)
	target := tokens[0]

	backend.FailNext("update", storage.ErrNotFound)
	settled, err := s.UpdatePrice(target.ID, 999.0)
	if err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}
	if err := <-settled; !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("settle: expected ErrNotFound, got %v", err)
	}

	after, _ := s.GetTokens(domain.CategoryNewPairs)
	for _, tok := range after {
		if tok.ID == target.ID && tok.Price != target.Price {
			t.Errorf("price after rollback: got %v, want %v", tok.Price, target.Price)
		}
	}
	if got := len(s.GetNotifications()); got != 1 {
		t.Errorf("notifications: got %d, want 1", got)
	}
}

func TestSession_AddThenRemoveRestoresCollection(t *testing.T) {
	backend := memory.NewTokenBackend(6)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	cat := domain.CategoryFinalStretch
	before, _ := s.GetTokens(cat)
	beforeIDs := tokenIDs(before)

	placeholderID, addSettled, err := s.AddToken(cat)
	if err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	res := <-addSettled
	if res.Err != nil {
		t.Fatalf("add settle: %v", res.Err)
	}
	addedID := res.ID
	if addedID == "" || addedID == placeholderID {
		t.Fatalf("server id not reconciled: %q", addedID)
	}

	mid, _ := s.GetTokens(cat)
	if len(mid) != len(before)+1 {
		t.Fatalf("after add: got %d tokens, want %d", len(mid), len(before)+1)
	}

	removeSettled, err := s.RemoveToken(addedID, cat)
	if err != nil {
		t.Fatalf("RemoveToken: %v", err)
	}
	if err := <-removeSettled; err != nil {
		t.Fatalf("remove settle: %v", err)
	}

	after, _ := s.GetTokens(cat)
	afterIDs := tokenIDs(after)
	if len(afterIDs) != len(beforeIDs) {
		t.Fatalf("after remove: got %d tokens, want %d", len(afterIDs), len(beforeIDs))
	}
	for i := range afterIDs {
		if afterIDs[i] != beforeIDs[i] {
			t.Errorf("position %d: got %s, want %s", i, afterIDs[i], beforeIDs[i])
		}
	}
}

func TestSession_SortConfigChangesOrdering(t *testing.T) {
	backend := memory.NewTokenBackend(7)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	cat := domain.CategoryNewPairs
	s.SetSortConfig(cat, domain.SortConfig{SortBy: domain.SortByPrice, SortOrder: domain.SortAsc})

	tokens, _ := s.GetTokens(cat)
	for i := 1; i < len(tokens); i++ {
		if tokens[i-1].Price > tokens[i].Price {
			t.Fatalf("not ascending by price at %d: %v > %v", i, tokens[i-1].Price, tokens[i].Price)
		}
	}

	s.SetSortConfig(cat, domain.SortConfig{SortBy: domain.SortByPrice, SortOrder: domain.SortDesc})
	tokens, _ = s.GetTokens(cat)
	for i := 1; i < len(tokens); i++ {
		if tokens[i-1].Price < tokens[i].Price {
			t.Fatalf("not descending by price at %d", i)
		}
	}
}

func TestSession_SelectSurvivesResort(t *testing.T) {
	backend := memory.NewTokenBackend(8)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	cat := domain.CategoryMigrated
	tokens, _ := s.GetTokens(cat)
	s.Select(tokens[0].ID)

	s.SetSortConfig(cat, domain.SortConfig{SortBy: domain.SortByHolders, SortOrder: domain.SortAsc})

	selected, ok := s.Selected(cat)
	if !ok {
		t.Fatal("selection lost after resort")
	}
	if selected.ID != tokens[0].ID {
		t.Errorf("selected %s, want %s", selected.ID, tokens[0].ID)
	}

	s.Select("")
	if _, ok := s.Selected(cat); ok {
		t.Error("selection not cleared")
	}
}

func TestSession_InvalidateTriggersRefetch(t *testing.T) {
	backend := memory.NewTokenBackend(9)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	cat := domain.CategoryNewPairs
	tokens, _ := s.GetTokens(cat)
	target := tokens[0].ID

	// Mutate the backend behind the session's back, then invalidate.
	if err := backend.UpdatePrice(context.Background(), target, 123.0); err != nil {
		t.Fatalf("backend UpdatePrice: %v", err)
	}
	if err := s.Invalidate(cat); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tokens, _ = s.GetTokens(cat)
		for _, tok := range tokens {
			if tok.ID == target && tok.Price == 123.0 {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("refetch never surfaced the backend's value")
}

func TestSession_NotificationDismissIdempotent(t *testing.T) {
	backend := memory.NewTokenBackend(10)
	s := newTestSession(t, backend, testConfig())
	startAndConverge(t, s)

	_, _ = s.UpdatePrice("ghost-1", 1.0)
	_, _ = s.UpdatePrice("ghost-2", 1.0)
	s.Wait()

	notifications := s.GetNotifications()
	if len(notifications) != 2 {
		t.Fatalf("notifications: got %d, want 2", len(notifications))
	}

	s.DismissNotification(notifications[0].ID)
	s.DismissNotification(notifications[0].ID)
	if got := len(s.GetNotifications()); got != 1 {
		t.Errorf("after dismiss: got %d, want 1", got)
	}

	s.ClearNotifications()
	if got := len(s.GetNotifications()); got != 0 {
		t.Errorf("after clear: got %d, want 0", got)
	}
}

// flakyPingBackend lets a test hold the connectivity probe down.
type flakyPingBackend struct {
	storage.TokenBackend
	mu   sync.Mutex
	fail bool
}

func (b *flakyPingBackend) setFailing(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fail
}

func (b *flakyPingBackend) Ping(ctx context.Context) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return storage.ErrUnavailable
	}
	return b.TokenBackend.Ping(ctx)
}

func TestSession_ProbeExhaustionAndReset(t *testing.T) {
	backend := &flakyPingBackend{TokenBackend: memory.NewTokenBackend(11)}
	cfg := testConfig()
	cfg.MaxRetries = 2
	s := newTestSession(t, backend, cfg)
	startAndConverge(t, s)

	backend.setFailing(true)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && s.GetConnectionStatus() != domain.StatusError {
		time.Sleep(2 * time.Millisecond)
	}
	if s.GetConnectionStatus() != domain.StatusError {
		t.Fatal("exhaustion never surfaced status=error")
	}
	if len(s.GetNotifications()) == 0 {
		t.Error("exhaustion emitted no notification")
	}

	backend.setFailing(false)
	s.ResetErrorState()

	if got := s.GetConnectionStatus(); got != domain.StatusConnected {
		t.Errorf("status after reset: got %s, want connected", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := []func(*Config){
		func(c *Config) { c.MaxRetries = -1 },
		func(c *Config) { c.BaseDelay = 0 },
		func(c *Config) { c.MaxDelay = c.BaseDelay - 1 },
		func(c *Config) { c.CheckInterval = 0 },
		func(c *Config) { c.CountPerCategory = 0 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.BatchDelayMs = -1 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
}
