package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"nftmarket/pkg/ledger"
	"nftmarket/pkg/testhelpers"
)

func TestPostgresStore_SectionRollsBack(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	store := ledger.NewPostgresStore(pool, nil)
	ctx := context.Background()

	owner := testhelpers.CreateTestUser(t, pool)
	id := testhelpers.CreateTestAsset(t, pool, owner)

	_, err := store.WithAssetLock(ctx, id, func(ctx context.Context, a *ledger.Asset) error {
		a.ListedPrice = 15
		return context.DeadlineExceeded
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := store.GetAsset(ctx, id)
	require.NoError(t, err)
	require.Zero(t, got.ListedPrice)
	require.Equal(t, ledger.StatusActive, got.Status)
}

func TestPostgresStore_TransferOwnership(t *testing.T) {
	pool := testhelpers.SetupTestPool(t)
	store := ledger.NewPostgresStore(pool, nil)
	ctx := context.Background()

	seller := testhelpers.CreateTestUser(t, pool)
	buyer := testhelpers.CreateTestUser(t, pool)
	id := testhelpers.CreateTestAsset(t, pool, seller)

	got, err := store.WithAssetLock(ctx, id, func(ctx context.Context, a *ledger.Asset) error {
		a.OwnerID = buyer
		a.ListedPrice = 0
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, buyer, got.OwnerID)

	owned, total, err := store.ListAssetsByOwner(ctx, buyer, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, id, owned[0].ID)
}

func TestPostgresStore_SectionsLeaveReadConnections(t *testing.T) {
	shared := testhelpers.SetupTestPool(t)
	ctx := context.Background()

	cfg := shared.Config()
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	store := ledger.NewPostgresStore(pool, nil)

	owner := testhelpers.CreateTestUser(t, shared)
	ids := make([]int64, 4)
	for i := range ids {
		ids[i] = testhelpers.CreateTestAsset(t, shared, owner)
	}

	// Three sections fill the slots a four-connection pool allows.
	release := make(chan struct{})
	entered := make(chan struct{}, 3)
	done := make(chan error, 3)
	for _, id := range ids[:3] {
		go func(id int64) {
			_, err := store.WithAssetLock(ctx, id, func(ctx context.Context, a *ledger.Asset) error {
				entered <- struct{}{}
				<-release
				return nil
			})
			done <- err
		}(id)
	}
	for i := 0; i < 3; i++ {
		<-entered
	}

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = store.GetAsset(readCtx, ids[3])
	require.NoError(t, err)

	waitCtx, cancelWait := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancelWait()
	_, err = store.WithAssetLock(waitCtx, ids[3], func(ctx context.Context, a *ledger.Asset) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-done)
	}
}
