// Package ranking is the pure read-side derivation layer: it orders a
// category's collection per its sort configuration without ever mutating
// stored state.
package ranking

import (
	"sort"
	"sync"

	"pulseboard/internal/domain"
	"pulseboard/internal/state"
)

// Engine derives ordered token sequences from the state store.
// Results are memoized per category on exactly two inputs: the category's
// write version and its sort configuration. The stored insertion order is
// never touched, which keeps identity keys stable for consumers.
type Engine struct {
	store *state.Store

	mu   sync.Mutex
	memo map[domain.Category]memoEntry
}

type memoEntry struct {
	version uint64
	cfg     domain.SortConfig
	result  []*domain.Token
}

// New creates a ranking engine over the given store.
func New(store *state.Store) *Engine {
	return &Engine{
		store: store,
		memo:  make(map[domain.Category]memoEntry),
	}
}

// Tokens returns the category's collection ordered per its sort config.
// The returned slice is a derived sequence; callers must not mutate the
// token values. Recomputes only when the collection or config changed.
func (e *Engine) Tokens(category domain.Category) []*domain.Token {
	version, cfg := e.store.VersionAndConfig(category)

	e.mu.Lock()
	if entry, ok := e.memo[category]; ok && entry.version == version && entry.cfg == cfg {
		result := entry.result
		e.mu.Unlock()
		return result
	}
	e.mu.Unlock()

	tokens := e.store.Tokens(category)

	diff := fieldDiff(cfg.SortBy)
	desc := cfg.SortOrder == domain.SortDesc
	// Stable sort: ties keep underlying arrival order.
	sort.SliceStable(tokens, func(i, j int) bool {
		d := diff(tokens[i], tokens[j])
		if desc {
			d = -d
		}
		return d < 0
	})

	e.mu.Lock()
	e.memo[category] = memoEntry{version: version, cfg: cfg, result: tokens}
	e.mu.Unlock()
	return tokens
}

// Selected resolves the selected token id within a category's ordered
// sequence. Returns false when nothing is selected or the id left the
// collection.
func (e *Engine) Selected(category domain.Category) (*domain.Token, bool) {
	id := e.store.SelectedID()
	if id == "" {
		return nil, false
	}
	for _, t := range e.Tokens(category) {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// fieldDiff builds the comparator core for a sort key: numeric fields
// compare by subtraction, timestamp fields by epoch difference.
func fieldDiff(key domain.SortKey) func(a, b *domain.Token) float64 {
	switch key {
	case domain.SortByPrice:
		return func(a, b *domain.Token) float64 { return a.Price - b.Price }
	case domain.SortByPriceChange1m:
		return func(a, b *domain.Token) float64 { return a.PriceChange1m - b.PriceChange1m }
	case domain.SortByPriceChange5m:
		return func(a, b *domain.Token) float64 { return a.PriceChange5m - b.PriceChange5m }
	case domain.SortByPriceChange1h:
		return func(a, b *domain.Token) float64 { return a.PriceChange1h - b.PriceChange1h }
	case domain.SortByMarketCap:
		return func(a, b *domain.Token) float64 { return a.MarketCap - b.MarketCap }
	case domain.SortByLiquidity:
		return func(a, b *domain.Token) float64 { return a.Liquidity - b.Liquidity }
	case domain.SortByVolume24h:
		return func(a, b *domain.Token) float64 { return a.Volume24h - b.Volume24h }
	case domain.SortByCreatedAt:
		return func(a, b *domain.Token) float64 { return float64(a.CreatedAt - b.CreatedAt) }
	case domain.SortByHolders:
		return func(a, b *domain.Token) float64 { return float64(a.Holders - b.Holders) }
	default:
		return func(a, b *domain.Token) float64 { return float64(a.CreatedAt - b.CreatedAt) }
	}
}
