package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL container, applies the embedded schema and
// returns a pool. Returns a cleanup function that must be called after tests
// complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := pgcontainer.Run(ctx, "postgres:15-alpine",
		pgcontainer.WithDatabase("testdb"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	applySchema(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// applySchema creates the tokens table directly; importing the migrations
// package here would be an import cycle.
func applySchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	const schema = `
		CREATE TABLE IF NOT EXISTS tokens (
			position        BIGSERIAL,
			id              TEXT PRIMARY KEY,
			category        TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			name            TEXT NOT NULL,
			price           DOUBLE PRECISION NOT NULL,
			price_change_1m DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_change_5m DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_change_1h DOUBLE PRECISION NOT NULL DEFAULT 0,
			market_cap      DOUBLE PRECISION NOT NULL DEFAULT 0,
			liquidity       DOUBLE PRECISION NOT NULL DEFAULT 0,
			volume_24h      DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at      BIGINT NOT NULL,
			holders         BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tokens_category_position
			ON tokens (category, position);
	`
	_, err := pool.Exec(ctx, schema)
	require.NoError(t, err, "failed to apply schema")
}
