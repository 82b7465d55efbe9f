package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftmarket/pkg/chain"
	"nftmarket/pkg/content"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/notify"
)

type failingContent struct{}

func (failingContent) Put(ctx context.Context, data []byte) (string, error) {
	return "", content.ErrStoreUnavailable
}

// lostReplyChain forwards to the simulator but reports a timeout for the
// first mint submission after the simulator has accepted it.
type lostReplyChain struct {
	*chain.Simulator
	submits int
}

func (c *lostReplyChain) SubmitMint(ctx context.Context, contentURI, ownerAddress string) (chain.TxHandle, error) {
	c.submits++
	handle, err := c.Simulator.SubmitMint(ctx, contentURI, ownerAddress)
	if err == nil && c.submits == 1 {
		return "", fmt.Errorf("%w: mint.submit", chain.ErrTimeout)
	}
	return handle, err
}

type eventLog struct {
	events []notify.Event
}

func (e *eventLog) Publish(userID int64, ev notify.Event) {
	e.events = append(e.events, ev)
}

type registryFixture struct {
	store  ledger.Store
	sim    *chain.Simulator
	events *eventLog
	svc    AssetService
	owner  ledger.User
}

func newRegistry(t *testing.T, adapter chain.Adapter, store content.Store) *registryFixture {
	t.Helper()
	if store == nil {
		var err error
		store, err = content.NewLocalStore(t.TempDir(), "")
		require.NoError(t, err)
	}
	f := &registryFixture{
		store:  ledger.NewMemoryStore(nil),
		events: &eventLog{},
	}
	if sim, ok := adapter.(*chain.Simulator); ok {
		f.sim = sim
	}
	f.svc = NewAssetService(Deps{
		Store:           f.store,
		Content:         store,
		Chain:           adapter,
		Wallets:         chain.DerivedWallets{Salt: "t"},
		Events:          f.events,
		ConfirmTimeout:  100 * time.Millisecond,
		ResumeTimeout:   50 * time.Millisecond,
		MaxContentBytes: 64,
	})

	var err error
	f.owner, err = f.store.GetOrCreateUser(context.Background(), 1001, "alice")
	require.NoError(t, err)
	return f
}

func TestMint_NoChainIsActiveAtOnce(t *testing.T) {
	f := newRegistry(t, nil, nil)

	asset, err := f.svc.Mint(context.Background(), MintRequest{
		OwnerID: f.owner.ID,
		Name:    "X",
		Content: []byte("0123456789"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusActive, asset.Status)
	require.Equal(t, f.owner.ID, asset.OwnerID)
	require.Zero(t, asset.ListedPrice)
	require.True(t, chain.IsSurrogate(asset.TokenID()))
	require.NotEmpty(t, asset.ContentURI)
	require.NotNil(t, asset.Metadata)

	require.Len(t, f.events.events, 1)
	require.Equal(t, notify.EventMinted, f.events.events[0].Type)
}

func TestMint_SameContentTwiceYieldsDistinctTokens(t *testing.T) {
	for name, adapter := range map[string]chain.Adapter{
		"noop":      nil,
		"simulator": chain.NewSimulator(0),
	} {
		t.Run(name, func(t *testing.T) {
			f := newRegistry(t, adapter, nil)
			req := MintRequest{OwnerID: f.owner.ID, Name: "twin", Content: []byte("same bytes")}

			first, err := f.svc.Mint(context.Background(), req)
			require.NoError(t, err)
			second, err := f.svc.Mint(context.Background(), req)
			require.NoError(t, err)

			require.NotEqual(t, first.ID, second.ID)
			require.NotEqual(t, first.TokenID(), second.TokenID())
			require.Equal(t, first.ContentURI, second.ContentURI)
		})
	}
}

func TestMint_OnChainOwnerIsOwnersAddress(t *testing.T) {
	sim := chain.NewSimulator(0)
	f := newRegistry(t, sim, nil)

	asset, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("abc")})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(asset.Name, "NFT-"))
	require.NotNil(t, asset.MintTx)

	addr, _ := chain.DerivedWallets{Salt: "t"}.AddressFor(context.Background(), f.owner.ID)
	owner, err := sim.CurrentOwner(context.Background(), asset.TokenID())
	require.NoError(t, err)
	require.Equal(t, addr, owner)
}

func TestMint_Validation(t *testing.T) {
	f := newRegistry(t, nil, nil)

	cases := map[string]MintRequest{
		"empty content": {OwnerID: f.owner.ID, Content: nil},
		"too large":     {OwnerID: f.owner.ID, Content: make([]byte, 65)},
		"unknown owner": {OwnerID: 999, Content: []byte("x")},
		"name too long": {OwnerID: f.owner.ID, Name: strings.Repeat("n", maxNameLength+1), Content: []byte("x")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Mint(context.Background(), req)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	_, total, err := f.store.ListAssets(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestMint_ContentUploadFailureCreatesNoRow(t *testing.T) {
	f := newRegistry(t, nil, failingContent{})

	_, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
	require.ErrorIs(t, err, ErrContentUpload)
	require.ErrorIs(t, err, content.ErrStoreUnavailable)

	_, total, err := f.store.ListAssets(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestMint_ChainFailureLeavesMintFailedRow(t *testing.T) {
	cases := []struct {
		fault  chain.Fault
		reason string
		target error
	}{
		{chain.FaultReject, ledger.FailureRejected, chain.ErrRejected},
		{chain.FaultStall, ledger.FailureTimeout, chain.ErrTimeout},
		{chain.FaultSubmit, ledger.FailureSubmit, chain.ErrUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			sim := chain.NewSimulator(0)
			f := newRegistry(t, sim, nil)
			sim.InjectFault(tc.fault)

			asset, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
			require.ErrorIs(t, err, ErrMintFailed)
			require.ErrorIs(t, err, tc.target)
			require.Equal(t, ledger.StatusMintFailed, asset.Status)
			require.Equal(t, tc.reason, asset.Reason())
			require.Nil(t, asset.OnchainTokenID)

			stored, err := f.store.GetAsset(context.Background(), asset.ID)
			require.NoError(t, err)
			require.Equal(t, ledger.StatusMintFailed, stored.Status)

			items, err := f.store.ListPurchasable(context.Background(), 10)
			require.NoError(t, err)
			require.Empty(t, items)

			require.Equal(t, notify.EventMintFailed, f.events.events[len(f.events.events)-1].Type)
		})
	}
}

func TestResumeMint_RecoversTimedOutMintWithoutResubmitting(t *testing.T) {
	sim := chain.NewSimulator(0)
	f := newRegistry(t, sim, nil)
	sim.InjectFault(chain.FaultStall)

	asset, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
	require.ErrorIs(t, err, chain.ErrTimeout)

	// Still unknown: the row stays failed/timeout.
	_, err = f.svc.ResumeMint(context.Background(), asset.ID)
	require.ErrorIs(t, err, ErrMintPending)

	pending := sim.Pending()
	require.Len(t, pending, 1)
	sim.Settle(pending[0])

	recovered, err := f.svc.ResumeMint(context.Background(), asset.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusActive, recovered.Status)
	require.NotEmpty(t, recovered.TokenID())
	require.Equal(t, *asset.MintTx, *recovered.MintTx)
	require.Nil(t, recovered.FailureReason)
	require.Empty(t, sim.Pending())
}

func TestResumeMint_InterruptedPendingRow(t *testing.T) {
	f := newRegistry(t, chain.NewSimulator(0), nil)
	row, err := f.store.InsertAsset(context.Background(), ledger.Asset{OwnerID: f.owner.ID, Name: "p", ContentURI: "file:///p"})
	require.NoError(t, err)

	got, err := f.svc.ResumeMint(context.Background(), row.ID)
	require.ErrorIs(t, err, ErrMintFailed)
	require.Equal(t, ledger.StatusMintFailed, got.Status)
	require.Equal(t, ledger.FailureInterrupted, got.Reason())
}

func TestRetryMint_ResubmitsRejectedMint(t *testing.T) {
	sim := chain.NewSimulator(0)
	f := newRegistry(t, sim, nil)
	sim.InjectFault(chain.FaultReject)

	failed, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
	require.ErrorIs(t, err, ErrMintFailed)

	retried, err := f.svc.RetryMint(context.Background(), failed.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusActive, retried.Status)
	require.NotEqual(t, *failed.MintTx, *retried.MintTx)
	require.Equal(t, failed.ContentURI, retried.ContentURI)
}

func TestRetryMint_DoesNotResubmitUnresolvedTimeout(t *testing.T) {
	sim := chain.NewSimulator(0)
	f := newRegistry(t, sim, nil)
	sim.InjectFault(chain.FaultStall)

	failed, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
	require.ErrorIs(t, err, ErrMintFailed)

	_, err = f.svc.RetryMint(context.Background(), failed.ID)
	require.ErrorIs(t, err, chain.ErrTimeout)
	require.Len(t, sim.Pending(), 1, "the stalled mint must not be duplicated")
}

func TestRetryMint_RefusesSubmitWithUnknownOutcome(t *testing.T) {
	sim := chain.NewSimulator(0)
	adapter := &lostReplyChain{Simulator: sim}
	f := newRegistry(t, adapter, nil)
	sim.InjectFault(chain.FaultStall)

	failed, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
	require.ErrorIs(t, err, ErrMintFailed)
	require.ErrorIs(t, err, chain.ErrTimeout)
	require.Equal(t, ledger.StatusMintFailed, failed.Status)
	require.Equal(t, ledger.FailureSubmitUnknown, failed.Reason())
	require.Nil(t, failed.MintTx)

	_, err = f.svc.RetryMint(context.Background(), failed.ID)
	require.ErrorIs(t, err, ErrNotRetryable)

	_, err = f.svc.ResumeMint(context.Background(), failed.ID)
	require.ErrorIs(t, err, ErrNotRetryable)

	stored, err := f.store.GetAsset(context.Background(), failed.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusMintFailed, stored.Status)
	require.Equal(t, ledger.FailureSubmitUnknown, stored.Reason())
	require.Nil(t, stored.OnchainTokenID)

	require.Equal(t, 1, adapter.submits)
	require.Len(t, sim.Pending(), 1)
}

func TestRetryMint_ActiveAssetNotRetryable(t *testing.T) {
	f := newRegistry(t, nil, nil)
	asset, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte("x")})
	require.NoError(t, err)

	_, err = f.svc.RetryMint(context.Background(), asset.ID)
	require.True(t, errors.Is(err, ErrNotRetryable))

	_, err = f.svc.RetryMint(context.Background(), 4242)
	require.ErrorIs(t, err, ledger.ErrAssetNotFound)
}

func TestListAssets_Pagination(t *testing.T) {
	f := newRegistry(t, nil, nil)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Mint(context.Background(), MintRequest{OwnerID: f.owner.ID, Content: []byte{byte(i)}})
		require.NoError(t, err)
	}

	items, total, err := f.svc.ListAssets(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, items, 1)
}
