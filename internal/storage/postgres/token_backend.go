package postgres

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"pulseboard/internal/domain"
	"pulseboard/internal/idgen"
	"pulseboard/internal/storage"
	"pulseboard/internal/tokengen"
)

// TokenBackend implements storage.TokenBackend using PostgreSQL.
// Collection order is a BIGSERIAL position column, so listings reproduce
// insertion order exactly.
type TokenBackend struct {
	pool *Pool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTokenBackend creates a new TokenBackend. Seed 0 seeds from the clock.
func NewTokenBackend(pool *Pool, seed int64) *TokenBackend {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TokenBackend{
		pool: pool,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Compile-time interface check.
var _ storage.TokenBackend = (*TokenBackend)(nil)

// Ping verifies the database is reachable.
func (s *TokenBackend) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapOp("ping", err)
	}
	return nil
}

// ListTokens returns all tokens in a category in insertion order.
func (s *TokenBackend) ListTokens(ctx context.Context, category domain.Category) ([]*domain.Token, error) {
	if !domain.ValidCategory(category) {
		return nil, storage.ErrUnknownCategory
	}

	query := `
		SELECT id, category, symbol, name, price,
		       price_change_1m, price_change_5m, price_change_1h,
		       market_cap, liquidity, volume_24h, created_at, holders
		FROM tokens
		WHERE category = $1
		ORDER BY position ASC
	`

	rows, err := s.pool.Query(ctx, query, string(category))
	if err != nil {
		return nil, wrapOp("list tokens", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, wrapOp("scan token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapOp("list tokens", err)
	}
	return tokens, nil
}

// CreateToken generates a token with a server-assigned id and appends it to
// the category.
func (s *TokenBackend) CreateToken(ctx context.Context, category domain.Category) (*domain.Token, error) {
	if !domain.ValidCategory(category) {
		return nil, storage.ErrUnknownCategory
	}

	// Claim the position first: the id is derived from the sequence value,
	// so concurrent creates cannot collide.
	var position uint64
	err := s.pool.QueryRow(ctx,
		`SELECT nextval(pg_get_serial_sequence('tokens', 'position'))`,
	).Scan(&position)
	if err != nil {
		return nil, wrapOp("claim position", err)
	}

	createdAt := time.Now().UnixMilli()
	id := idgen.TokenID(category, position, createdAt)

	s.rngMu.Lock()
	t := tokengen.Random(s.rng, category, id, createdAt)
	s.rngMu.Unlock()

	query := `
		INSERT INTO tokens (
			position, id, category, symbol, name, price,
			price_change_1m, price_change_5m, price_change_1h,
			market_cap, liquidity, volume_24h, created_at, holders
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = s.pool.Exec(ctx, query,
		position, t.ID, string(t.Category), t.Symbol, t.Name, t.Price,
		t.PriceChange1m, t.PriceChange5m, t.PriceChange1h,
		t.MarketCap, t.Liquidity, t.Volume24h, t.CreatedAt, t.Holders,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrInvalidInput
		}
		return nil, wrapOp("insert token", err)
	}
	return t, nil
}

// UpdatePrice overwrites the price of an existing token.
func (s *TokenBackend) UpdatePrice(ctx context.Context, tokenID string, price float64) error {
	if tokenID == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens SET price = $2 WHERE id = $1`, tokenID, price)
	if err != nil {
		return wrapOp("update price", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteToken removes a token from a category.
func (s *TokenBackend) DeleteToken(ctx context.Context, tokenID string, category domain.Category) error {
	if !domain.ValidCategory(category) {
		return storage.ErrUnknownCategory
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tokens WHERE id = $1 AND category = $2`, tokenID, string(category))
	if err != nil {
		return wrapOp("delete token", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanToken scans a single row into a Token.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	var category string

	err := row.Scan(
		&t.ID, &category, &t.Symbol, &t.Name, &t.Price,
		&t.PriceChange1m, &t.PriceChange5m, &t.PriceChange1h,
		&t.MarketCap, &t.Liquidity, &t.Volume24h, &t.CreatedAt, &t.Holders,
	)
	if err != nil {
		return nil, err
	}
	t.Category = domain.Category(category)
	return &t, nil
}
