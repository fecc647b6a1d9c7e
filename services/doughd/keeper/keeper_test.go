package keeper

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dough/core"
	"dough/storage"
)

var (
	admin      = common.HexToAddress("0xad")
	governance = common.HexToAddress("0x60")
	alice      = common.HexToAddress("0xa11ce")
	keeperAddr = common.HexToAddress("0x4ee9")
)

func newNode(t *testing.T) *core.Node {
	t.Helper()
	cfg := core.DefaultConfig(admin, governance)
	cfg.Controller.FeeBps = 500
	node, err := core.NewNode(context.Background(), storage.NewMemDB(), cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, node.Faucet(ctx, alice, big.NewInt(10_000)))
	_, err = node.Hub().ApproveAndDeposit(ctx, alice, big.NewInt(10_000))
	require.NoError(t, err)
	return node
}

func TestRunOnceHarvestsAndReleasesFees(t *testing.T) {
	ctx := context.Background()
	node := newNode(t)
	adapter, ok := node.Splitter().Adapter("aave")
	require.True(t, ok)
	require.NoError(t, node.RewardSource().Credit(ctx, admin, adapter.Account(), big.NewInt(1_000)))

	k := New(node.Hub(), keeperAddr, time.Minute)
	report := k.RunOnce(ctx)
	require.NoError(t, report.HarvestErr)
	require.NoError(t, report.ReleaseErr)
	require.Equal(t, 1, report.Harvested)
	require.Equal(t, "500", report.Released)

	fees, err := node.Controller().FeesAccrued()
	require.NoError(t, err)
	require.Zero(t, fees.Sign())

	second := k.RunOnce(ctx)
	require.Equal(t, 0, second.Harvested)
	require.Equal(t, "0", second.Released)
}

func TestRunOnceContinuesAfterHarvestFailure(t *testing.T) {
	ctx := context.Background()
	node := newNode(t)
	require.NoError(t, node.Hub().SetPaused(ctx, admin, "controller", true))

	report := New(node.Hub(), keeperAddr, time.Minute).RunOnce(ctx)
	require.Error(t, report.HarvestErr)
	require.NoError(t, report.ReleaseErr)
	require.Equal(t, "500", report.Released)
}

func TestRunStopsOnCancel(t *testing.T) {
	node := newNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(node.Hub(), keeperAddr, 10*time.Millisecond).Run(ctx) }()
	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}
