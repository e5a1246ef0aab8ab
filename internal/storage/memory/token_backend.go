// Package memory provides in-memory storage implementations, used as the
// default backend and in tests.
package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"pulseboard/internal/domain"
	"pulseboard/internal/idgen"
	"pulseboard/internal/storage"
	"pulseboard/internal/tokengen"
)

// TokenBackend is an in-memory implementation of storage.TokenBackend.
// Collections preserve insertion order per category. Failure injection via
// FailNext lets tests exercise the retry and rollback paths.
type TokenBackend struct {
	mu     sync.RWMutex
	tokens map[domain.Category][]*domain.Token
	seq    uint64
	rng    *rand.Rand

	failures map[string]error // op name → injected error
}

// NewTokenBackend creates an empty in-memory token backend.
func NewTokenBackend(seed int64) *TokenBackend {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	tokens := make(map[domain.Category][]*domain.Token, len(domain.Categories()))
	for _, c := range domain.Categories() {
		tokens[c] = nil
	}
	return &TokenBackend{
		tokens:   tokens,
		rng:      rand.New(rand.NewSource(seed)),
		failures: make(map[string]error),
	}
}

// Seed populates a category with n generated tokens, replacing its contents.
func (s *TokenBackend) Seed(category domain.Category, n int) []*domain.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Token, n)
	for i := range out {
		out[i] = s.generateLocked(category)
	}
	s.tokens[category] = out
	return copyTokens(out)
}

// FailNext injects an error for the next call of the named operation
// ("ping", "list", "create", "update", "delete"). The injection is one-shot.
func (s *TokenBackend) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[op] = err
}

// ClearFailures drops all pending injected failures.
func (s *TokenBackend) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = make(map[string]error)
}

// Ping verifies the backend is reachable.
func (s *TokenBackend) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.takeFailureLocked("ping")
}

// ListTokens returns all tokens in a category in insertion order.
func (s *TokenBackend) ListTokens(_ context.Context, category domain.Category) ([]*domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked("list"); err != nil {
		return nil, err
	}
	if !domain.ValidCategory(category) {
		return nil, storage.ErrUnknownCategory
	}
	return copyTokens(s.tokens[category]), nil
}

// CreateToken generates a new token with a server-assigned id and appends it
// to the category.
func (s *TokenBackend) CreateToken(_ context.Context, category domain.Category) (*domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked("create"); err != nil {
		return nil, err
	}
	if !domain.ValidCategory(category) {
		return nil, storage.ErrUnknownCategory
	}

	t := s.generateLocked(category)
	s.tokens[category] = append(s.tokens[category], t)

	tokenCopy := *t
	return &tokenCopy, nil
}

// UpdatePrice overwrites the price of an existing token.
func (s *TokenBackend) UpdatePrice(_ context.Context, tokenID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked("update"); err != nil {
		return err
	}
	if tokenID == "" {
		return storage.ErrInvalidInput
	}

	for _, category := range domain.Categories() {
		for _, t := range s.tokens[category] {
			if t.ID == tokenID {
				t.Price = price
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

// DeleteToken removes a token from a category.
func (s *TokenBackend) DeleteToken(_ context.Context, tokenID string, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked("delete"); err != nil {
		return err
	}
	if !domain.ValidCategory(category) {
		return storage.ErrUnknownCategory
	}

	tokens := s.tokens[category]
	for i, t := range tokens {
		if t.ID == tokenID {
			s.tokens[category] = append(tokens[:i], tokens[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *TokenBackend) generateLocked(category domain.Category) *domain.Token {
	s.seq++
	createdAt := time.Now().UnixMilli()
	id := idgen.TokenID(category, s.seq, createdAt)
	return tokengen.Random(s.rng, category, id, createdAt)
}

func (s *TokenBackend) takeFailureLocked(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

func copyTokens(tokens []*domain.Token) []*domain.Token {
	out := make([]*domain.Token, len(tokens))
	for i, t := range tokens {
		tokenCopy := *t
		out[i] = &tokenCopy
	}
	return out
}

var _ storage.TokenBackend = (*TokenBackend)(nil)
