// Package cache implements the rollback-side token cache: per-category
// collections with independent staleness. Mutations are applied here first so
// failed writes can restore an exact pre-mutation snapshot.
package cache

import (
	"sync"
	"time"

	"pulseboard/internal/domain"
)

// Snapshot captures a token's value and position for rollback.
type Snapshot struct {
	Token domain.Token
	Index int
}

// entry is one category's cached collection.
type entry struct {
	tokens    []*domain.Token
	stale     bool
	fetchedAt int64
}

// Cache holds independently-stale token collections keyed by category.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.Category]*entry
}

// New creates a cache with an empty, stale entry per category.
func New() *Cache {
	entries := make(map[domain.Category]*entry, len(domain.Categories()))
	for _, c := range domain.Categories() {
		entries[c] = &entry{stale: true}
	}
	return &Cache{entries: entries}
}

// ReplaceCategory overwrites a category's collection and clears its staleness.
func (c *Cache) ReplaceCategory(category domain.Category, tokens []*domain.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return
	}

	e.tokens = copyTokens(tokens)
	e.stale = false
	e.fetchedAt = time.Now().UnixMilli()
}

// Tokens returns a copy of a category's collection in insertion order.
func (c *Cache) Tokens(category domain.Category) []*domain.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.entries[category]
	if e == nil {
		return nil
	}
	return copyTokens(e.tokens)
}

// FindToken scans all categories for a token id.
func (c *Cache) FindToken(tokenID string) (*domain.Token, domain.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, category := range domain.Categories() {
		for _, t := range c.entries[category].tokens {
			if t.ID == tokenID {
				tokenCopy := *t
				return &tokenCopy, category, true
			}
		}
	}
	return nil, "", false
}

// Snapshot captures the current value and position of a token for rollback.
// The snapshot reflects the live cached value, so a mutation issued while an
// earlier optimistic value is in place snapshots that optimistic value.
func (c *Cache) Snapshot(category domain.Category, tokenID string) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.entries[category]
	if e == nil {
		return nil, false
	}
	for i, t := range e.tokens {
		if t.ID == tokenID {
			return &Snapshot{Token: *t, Index: i}, true
		}
	}
	return nil, false
}

// Restore puts a snapshot back: overwrites the token in place if the id is
// still present, otherwise reinserts it at its original position.
func (c *Cache) Restore(category domain.Category, snap *Snapshot) {
	if snap == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return
	}

	for i, t := range e.tokens {
		if t.ID == snap.Token.ID {
			tokenCopy := snap.Token
			e.tokens[i] = &tokenCopy
			return
		}
	}

	c.insertAtLocked(e, snap.Token, snap.Index)
}

// AppendToken adds a token to the end of a category's collection.
func (c *Cache) AppendToken(category domain.Category, token *domain.Token) {
	if token == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return
	}
	tokenCopy := *token
	e.tokens = append(e.tokens, &tokenCopy)
}

// InsertTokenAt reinserts a token at a given position (clamped to bounds).
func (c *Cache) InsertTokenAt(category domain.Category, token *domain.Token, index int) {
	if token == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return
	}
	c.insertAtLocked(e, *token, index)
}

// RemoveToken removes a token, returning its value and position for rollback.
func (c *Cache) RemoveToken(category domain.Category, tokenID string) (*domain.Token, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return nil, 0, false
	}
	for i, t := range e.tokens {
		if t.ID == tokenID {
			removed := *t
			e.tokens = append(e.tokens[:i], e.tokens[i+1:]...)
			return &removed, i, true
		}
	}
	return nil, 0, false
}

// ReplaceID swaps a token's record for the authoritative one, preserving its
// position. Used to reconcile an optimistic placeholder with the server row.
func (c *Cache) ReplaceID(category domain.Category, oldID string, token *domain.Token) bool {
	if token == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return false
	}
	for i, t := range e.tokens {
		if t.ID == oldID {
			tokenCopy := *token
			e.tokens[i] = &tokenCopy
			return true
		}
	}
	return false
}

// UpdatePrice overwrites the price of a token. Returns false for unknown ids.
func (c *Cache) UpdatePrice(category domain.Category, tokenID string, price float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return false
	}
	for _, t := range e.tokens {
		if t.ID == tokenID {
			t.Price = price
			return true
		}
	}
	return false
}

// ApplyPriceUpdate overwrites price, priceChange1m and priceChange5m of a
// token, leaving all other fields untouched. Returns false for unknown ids.
func (c *Cache) ApplyPriceUpdate(category domain.Category, u domain.PriceUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[category]
	if e == nil {
		return false
	}
	for _, t := range e.tokens {
		if t.ID == u.TokenID {
			t.Price = u.Price
			t.PriceChange1m = u.PriceChange1m
			t.PriceChange5m = u.PriceChange5m
			return true
		}
	}
	return false
}

// MarkStale flags a category as needing refetch without discarding its value.
func (c *Cache) MarkStale(category domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.entries[category]; e != nil {
		e.stale = true
	}
}

// MarkAllStale flags every category as needing refetch.
func (c *Cache) MarkAllStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.stale = true
	}
}

// IsStale reports whether a category needs refetch.
func (c *Cache) IsStale(category domain.Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.entries[category]
	return e == nil || e.stale
}

// Clear discards a category's collection and marks it stale.
func (c *Cache) Clear(category domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.entries[category]; e != nil {
		e.tokens = nil
		e.stale = true
	}
}

func (c *Cache) insertAtLocked(e *entry, token domain.Token, index int) {
	if index < 0 {
		index = 0
	}
	if index > len(e.tokens) {
		index = len(e.tokens)
	}
	tokenCopy := token
	e.tokens = append(e.tokens, nil)
	copy(e.tokens[index+1:], e.tokens[index:])
	e.tokens[index] = &tokenCopy
}

func copyTokens(tokens []*domain.Token) []*domain.Token {
	if tokens == nil {
		return nil
	}
	out := make([]*domain.Token, len(tokens))
	for i, t := range tokens {
		tokenCopy := *t
		out[i] = &tokenCopy
	}
	return out
}
