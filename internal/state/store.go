// Package state implements the single source of truth consumed by the
// read-side derivation layer. It mirrors the cache layer's token content and
// additionally owns connection status, selection and sort configuration.
package state

import (
	"sync"

	"pulseboard/internal/domain"
)

// Store is the consumer-facing state container.
// Every write to a category's collection bumps that category's version, which
// is the memoization input of the ranking engine.
type Store struct {
	mu       sync.RWMutex
	tokens   map[domain.Category][]*domain.Token
	versions map[domain.Category]uint64
	sortCfg  map[domain.Category]domain.SortConfig
	status   domain.ConnectionStatus
	selected string
}

// New creates a store with empty collections and default sort configs.
func New() *Store {
	tokens := make(map[domain.Category][]*domain.Token, len(domain.Categories()))
	versions := make(map[domain.Category]uint64, len(domain.Categories()))
	sortCfg := make(map[domain.Category]domain.SortConfig, len(domain.Categories()))
	for _, c := range domain.Categories() {
		tokens[c] = nil
		versions[c] = 0
		sortCfg[c] = domain.DefaultSortConfig()
	}
	return &Store{
		tokens:   tokens,
		versions: versions,
		sortCfg:  sortCfg,
		status:   domain.StatusDisconnected,
	}
}

// ReplaceCategory overwrites a category's collection.
func (s *Store) ReplaceCategory(category domain.Category, tokens []*domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[category] = copyTokens(tokens)
	s.versions[category]++
}

// Tokens returns a copy of a category's collection in insertion order.
func (s *Store) Tokens(category domain.Category) []*domain.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyTokens(s.tokens[category])
}

// Version returns the current write version of a category.
func (s *Store) Version(category domain.Category) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.versions[category]
}

// VersionAndConfig returns both ranking inputs for a category atomically.
func (s *Store) VersionAndConfig(category domain.Category) (uint64, domain.SortConfig) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.versions[category], s.sortCfg[category]
}

// ApplyPriceUpdate overwrites price, priceChange1m and priceChange5m of a
// token, leaving all other fields untouched. Returns false for unknown ids.
func (s *Store) ApplyPriceUpdate(category domain.Category, u domain.PriceUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens[category] {
		if t.ID == u.TokenID {
			t.Price = u.Price
			t.PriceChange1m = u.PriceChange1m
			t.PriceChange5m = u.PriceChange5m
			s.versions[category]++
			return true
		}
	}
	return false
}

// UpdatePrice overwrites the price of a token. Returns false for unknown ids.
func (s *Store) UpdatePrice(category domain.Category, tokenID string, price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens[category] {
		if t.ID == tokenID {
			t.Price = price
			s.versions[category]++
			return true
		}
	}
	return false
}

// SetToken overwrites a token's full value in place. Used to undo an
// optimistic update with the pre-mutation value. Returns false for unknown ids.
func (s *Store) SetToken(category domain.Category, token domain.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tokens[category] {
		if t.ID == token.ID {
			tokenCopy := token
			s.tokens[category][i] = &tokenCopy
			s.versions[category]++
			return true
		}
	}
	return false
}

// AppendToken adds a token to the end of a category's collection.
func (s *Store) AppendToken(category domain.Category, token *domain.Token) {
	if token == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenCopy := *token
	s.tokens[category] = append(s.tokens[category], &tokenCopy)
	s.versions[category]++
}

// InsertTokenAt reinserts a token at a given position (clamped to bounds).
func (s *Store) InsertTokenAt(category domain.Category, token *domain.Token, index int) {
	if token == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.tokens[category]
	if index < 0 {
		index = 0
	}
	if index > len(tokens) {
		index = len(tokens)
	}
	tokenCopy := *token
	tokens = append(tokens, nil)
	copy(tokens[index+1:], tokens[index:])
	tokens[index] = &tokenCopy
	s.tokens[category] = tokens
	s.versions[category]++
}

// RemoveToken removes a token, returning its value and position.
func (s *Store) RemoveToken(category domain.Category, tokenID string) (*domain.Token, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.tokens[category]
	for i, t := range tokens {
		if t.ID == tokenID {
			removed := *t
			s.tokens[category] = append(tokens[:i], tokens[i+1:]...)
			s.versions[category]++
			return &removed, i, true
		}
	}
	return nil, 0, false
}

// ReplaceID swaps a token's record for the authoritative one, preserving its
// position. Returns false if the old id is not present.
func (s *Store) ReplaceID(category domain.Category, oldID string, token *domain.Token) bool {
	if token == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tokens[category] {
		if t.ID == oldID {
			tokenCopy := *token
			s.tokens[category][i] = &tokenCopy
			s.versions[category]++
			if s.selected == oldID {
				s.selected = token.ID
			}
			return true
		}
	}
	return false
}

// Clear discards a category's collection. Used on explicit category reload.
func (s *Store) Clear(category domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[category] = nil
	s.versions[category]++
}

// SetStatus sets the connection status.
func (s *Store) SetStatus(status domain.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
}

// Status returns the connection status.
func (s *Store) Status() domain.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// SetSortConfig sets a category's sort configuration.
// Invalid keys or orders are ignored.
func (s *Store) SetSortConfig(category domain.Category, cfg domain.SortConfig) {
	if !domain.ValidSortKey(cfg.SortBy) {
		return
	}
	if cfg.SortOrder != domain.SortAsc && cfg.SortOrder != domain.SortDesc {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sortCfg[category] = cfg
}

// SortConfig returns a category's sort configuration.
func (s *Store) SortConfig(category domain.Category) domain.SortConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortCfg[category]
}

// Select records the selected token id. An empty id clears the selection.
func (s *Store) Select(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected = tokenID
}

// SelectedID returns the selected token id, or "" when nothing is selected.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.selected
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
