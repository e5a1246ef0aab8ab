package storage

import (
	"context"

	"pulseboard/internal/domain"
)

// TokenBackend is the authoritative server-side token store.
// The Mutation Coordinator issues its asynchronous writes here, and stale
// categories are refetched from it.
type TokenBackend interface {
	// Ping verifies the backend is reachable. Used as the connectivity probe.
	Ping(ctx context.Context) error

	// ListTokens returns all tokens in a category in insertion order.
	ListTokens(ctx context.Context, category domain.Category) ([]*domain.Token, error)

	// CreateToken creates a new token in the category and returns the
	// authoritative record with the server-assigned id.
	CreateToken(ctx context.Context, category domain.Category) (*domain.Token, error)

	// UpdatePrice overwrites the price of an existing token.
	// Returns ErrNotFound if the id does not exist.
	UpdatePrice(ctx context.Context, tokenID string, price float64) error

	// DeleteToken removes a token from a category.
	// Returns ErrNotFound if the id does not exist in the category.
	DeleteToken(ctx context.Context, tokenID string, category domain.Category) error
}

// PriceHistoryStore archives price updates that were applied to the stores.
// Used as an optional sink; a nil store disables archiving.
type PriceHistoryStore interface {
	// InsertBatch appends a batch of applied updates.
	InsertBatch(ctx context.Context, updates []*domain.AppliedUpdate) error
}
