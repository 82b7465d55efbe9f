package testhelpers

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"nftmarket/pkg/db"
)

var uniqueCounter int64

func nextSuffix() int64 {
	return atomic.AddInt64(&uniqueCounter, 1)
}

// SetupTestPool connects to DATABASE_URL_FOR_TEST, migrates it and empties
// the ledger tables. The test is skipped when the variable is not set.
func SetupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL_FOR_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_FOR_TEST not set; skipping repository tests")
	}
	require.NoError(t, db.MigrateUp(dsn))

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	CleanDatabase(t, pool)
	return pool
}

func CleanDatabase(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE TABLE assets, users RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

// CreateTestUser inserts a user with a unique chat id and returns its ID.
func CreateTestUser(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()

	suffix := nextSuffix()
	var id int64
	err := pool.QueryRow(context.Background(),
		"INSERT INTO users (external_id, display_name) VALUES ($1, $2) RETURNING id",
		1_000_000+suffix, fmt.Sprintf("test-user-%d", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateTestAsset inserts an active asset owned by ownerID and returns its ID.
func CreateTestAsset(t *testing.T, pool *pgxpool.Pool, ownerID int64) int64 {
	t.Helper()

	suffix := nextSuffix()
	var id int64
	err := pool.QueryRow(context.Background(),
		"INSERT INTO assets (owner_id, name, content_uri, onchain_token_id, status) VALUES ($1, $2, $3, $4, 'active') RETURNING id",
		ownerID, fmt.Sprintf("test-asset-%d", suffix), fmt.Sprintf("file:///test-%d", suffix), fmt.Sprintf("local-test-%d", suffix)).Scan(&id)
	require.NoError(t, err)
	return id
}
