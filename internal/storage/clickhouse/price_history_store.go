package clickhouse

import (
	"context"
	"fmt"

	"pulseboard/internal/domain"
	"pulseboard/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
// The archive is append-only; duplicates are tolerated and collapse in reads.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBatch appends a batch of applied updates.
func (s *PriceHistoryStore) InsertBatch(ctx context.Context, updates []*domain.AppliedUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (
			token_id, category, price, price_change_1m, price_change_5m, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, u := range updates {
		err = batch.Append(
			u.TokenID, string(u.Category),
			u.Price, u.PriceChange1m, u.PriceChange5m,
			uint64(u.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountForToken returns the number of archived updates for a token id.
// Used by tests and consistency checks.
func (s *PriceHistoryStore) CountForToken(ctx context.Context, tokenID string) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM price_history WHERE token_id = ?`, tokenID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count price history: %w", err)
	}
	return count, nil
}
