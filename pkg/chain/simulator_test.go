package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimulator_MintAndTransfer(t *testing.T) {
	sim := NewSimulator(0)
	ctx := context.Background()

	h, err := sim.SubmitMint(ctx, "file:///x", "0xaaa")
	require.NoError(t, err)
	conf, err := sim.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, conf.TokenID)

	owner, err := sim.CurrentOwner(ctx, conf.TokenID)
	require.NoError(t, err)
	require.Equal(t, "0xaaa", owner)

	h, err = sim.SubmitTransfer(ctx, conf.TokenID, "0xaaa", "0xbbb")
	require.NoError(t, err)
	_, err = sim.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)

	owner, err = sim.CurrentOwner(ctx, conf.TokenID)
	require.NoError(t, err)
	require.Equal(t, "0xbbb", owner)
}

func TestSimulator_TransferFromNonOwnerRejected(t *testing.T) {
	sim := NewSimulator(0)
	ctx := context.Background()

	h, _ := sim.SubmitMint(ctx, "file:///x", "0xaaa")
	conf, err := sim.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)

	h, err = sim.SubmitTransfer(ctx, conf.TokenID, "0xccc", "0xbbb")
	require.NoError(t, err)
	_, err = sim.AwaitConfirmation(ctx, h, time.Second)
	require.ErrorIs(t, err, ErrRejected)
}

func TestSimulator_InjectedFaults(t *testing.T) {
	sim := NewSimulator(0)
	ctx := context.Background()

	sim.InjectFault(FaultSubmit)
	_, err := sim.SubmitMint(ctx, "file:///x", "0xaaa")
	require.ErrorIs(t, err, ErrUnavailable)

	sim.InjectFault(FaultReject)
	h, err := sim.SubmitMint(ctx, "file:///x", "0xaaa")
	require.NoError(t, err)
	_, err = sim.AwaitConfirmation(ctx, h, time.Second)
	require.ErrorIs(t, err, ErrRejected)
}

func TestSimulator_StalledTxLandsAfterTimeout(t *testing.T) {
	sim := NewSimulator(0)
	ctx := context.Background()

	sim.InjectFault(FaultStall)
	h, err := sim.SubmitMint(ctx, "file:///x", "0xaaa")
	require.NoError(t, err)

	_, err = sim.AwaitConfirmation(ctx, h, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, []TxHandle{h}, sim.Pending())

	sim.Settle(h)
	conf, err := sim.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, conf.TokenID)
	require.Empty(t, sim.Pending())
}

func TestSimulator_DelayedConfirmation(t *testing.T) {
	sim := NewSimulator(10 * time.Millisecond)
	ctx := context.Background()

	h, err := sim.SubmitMint(ctx, "file:///x", "0xaaa")
	require.NoError(t, err)
	conf, err := sim.AwaitConfirmation(ctx, h, time.Second)
	require.NoError(t, err)
	require.Equal(t, "1", conf.TokenID)
}

func TestSimulator_UnknownHandle(t *testing.T) {
	sim := NewSimulator(0)
	_, err := sim.AwaitConfirmation(context.Background(), "0xnope", time.Second)
	require.ErrorIs(t, err, ErrUnknownTx)
}

func TestNoop_SurrogateTokens(t *testing.T) {
	ctx := context.Background()
	var adapter Adapter = Noop{}

	h1, err := adapter.SubmitMint(ctx, "file:///same", "")
	require.NoError(t, err)
	h2, err := adapter.SubmitMint(ctx, "file:///same", "")
	require.NoError(t, err)

	c1, err := adapter.AwaitConfirmation(ctx, h1, time.Second)
	require.NoError(t, err)
	c2, err := adapter.AwaitConfirmation(ctx, h2, time.Second)
	require.NoError(t, err)

	require.True(t, IsSurrogate(c1.TokenID))
	require.True(t, IsSurrogate(c2.TokenID))
	require.NotEqual(t, c1.TokenID, c2.TokenID)
	require.False(t, IsSurrogate("42"))
}

func TestDerivedWallets(t *testing.T) {
	ctx := context.Background()
	w := DerivedWallets{Salt: "pepper"}

	a1, err := w.AddressFor(ctx, 1)
	require.NoError(t, err)
	again, err := w.AddressFor(ctx, 1)
	require.NoError(t, err)
	a2, err := w.AddressFor(ctx, 2)
	require.NoError(t, err)

	require.Equal(t, a1, again)
	require.NotEqual(t, a1, a2)
	require.Len(t, a1, 42)

	other, _ := DerivedWallets{Salt: "salt"}.AddressFor(ctx, 1)
	require.NotEqual(t, a1, other)
}
