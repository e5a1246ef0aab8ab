// Package tokengen generates token records for the simulated feed and for
// optimistic add placeholders.
package tokengen

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"pulseboard/internal/domain"
)

const symbolAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// PlaceholderID returns a client-side temporary id for an optimistic add.
// The backend replaces it with a server-assigned id on confirmation.
func PlaceholderID() string {
	return "pending-" + uuid.NewString()
}

// IsPlaceholder reports whether id is a client-side temporary id.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, "pending-")
}

// Random generates a token with plausible market values.
// The caller provides the id and creation timestamp.
func Random(r *rand.Rand, category domain.Category, id string, createdAt int64) *domain.Token {
	symbol := randomSymbol(r)
	return &domain.Token{
		ID:            id,
		Category:      category,
		Symbol:        symbol,
		Name:          fmt.Sprintf("%s Token", symbol),
		Price:         0.000001 + r.Float64()*0.01,
		PriceChange1m: (r.Float64() - 0.5) * 10,
		PriceChange5m: (r.Float64() - 0.5) * 30,
		PriceChange1h: (r.Float64() - 0.5) * 80,
		MarketCap:     1_000 + r.Float64()*5_000_000,
		Liquidity:     500 + r.Float64()*500_000,
		Volume24h:     r.Float64() * 1_000_000,
		CreatedAt:     createdAt,
		Holders:       int64(r.Intn(10_000)),
	}
}

// Placeholder generates the optimistic token applied before the backend
// confirms an add. It carries a temporary id.
func Placeholder(r *rand.Rand, category domain.Category, createdAt int64) *domain.Token {
	return Random(r, category, PlaceholderID(), createdAt)
}

func randomSymbol(r *rand.Rand) string {
	n := 3 + r.Intn(3)
	b := make([]byte, n)
	for i := range b {
		b[i] = symbolAlphabet[r.Intn(len(symbolAlphabet))]
	}
	return string(b)
}
