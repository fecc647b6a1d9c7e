package controller_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dough/core"
	"dough/core/events"
	"dough/core/state"
	nativecommon "dough/native/common"
	"dough/native/controller"
	"dough/storage"
)

var (
	admin      = common.HexToAddress("0xad")
	governance = common.HexToAddress("0x60")
	alice      = common.HexToAddress("0xa11ce")
)

func newNode(t *testing.T, cfg controller.Config) (*core.Node, *events.Recorder) {
	t.Helper()
	recorder := new(events.Recorder)
	nodeCfg := core.DefaultConfig(admin, governance)
	nodeCfg.Controller = cfg
	node, err := core.NewNode(context.Background(), storage.NewMemDB(), nodeCfg, state.WithEmitter(recorder))
	require.NoError(t, err)
	recorder.Reset()
	return node, recorder
}

func deposit(t *testing.T, node *core.Node, who common.Address, amount int64) *big.Int {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, node.Faucet(ctx, who, big.NewInt(amount)))
	minted, err := node.Hub().ApproveAndDeposit(ctx, who, big.NewInt(amount))
	require.NoError(t, err)
	return minted
}

func TestOnlyVaultMintsAndBurns(t *testing.T) {
	ctx := context.Background()
	node, _ := newNode(t, controller.Config{})
	c := node.Controller()

	_, err := c.MintFor(ctx, alice, alice, big.NewInt(100))
	require.ErrorIs(t, err, nativecommon.ErrAuthorization)

	deposit(t, node, alice, 100)
	require.ErrorIs(t, c.BurnFor(ctx, admin, alice, big.NewInt(10)), nativecommon.ErrAuthorization)

	_, err = c.SettleFees(ctx, admin, big.NewInt(1))
	require.ErrorIs(t, err, nativecommon.ErrAuthorization)

	_, err = c.MintFor(ctx, node.Vault().Account(), alice, big.NewInt(0))
	require.ErrorIs(t, err, nativecommon.ErrValidation)
}

func TestFullFeeMintsNothing(t *testing.T) {
	node, recorder := newNode(t, controller.Config{FeeBps: nativecommon.BasisPoints})
	minted := deposit(t, node, alice, 1_000)
	require.Zero(t, minted.Sign())

	totals, err := node.Controller().Totals()
	require.NoError(t, err)
	require.Equal(t, int64(1_000), totals.FeesAccrued.Int64())
	require.Zero(t, totals.ClaimSupply.Sign())
	require.Zero(t, totals.CumulativeMinted.Sign())

	mints := recorder.OfType(events.TypeClaimsMinted)
	require.Len(t, mints, 1)
	attrs := mints[0].Event().Attributes
	require.Equal(t, "1000", attrs["fee"])
	require.Equal(t, "0", attrs["minted"])
}

func TestSetFeeBps(t *testing.T) {
	ctx := context.Background()
	node, recorder := newNode(t, controller.Config{FeeBps: 10})
	c := node.Controller()

	require.ErrorIs(t, c.SetFeeBps(ctx, alice, 20), nativecommon.ErrAuthorization)
	require.ErrorIs(t, c.SetFeeBps(ctx, admin, nativecommon.BasisPoints+1), nativecommon.ErrInvalidFee)
	require.NoError(t, c.SetFeeBps(ctx, admin, nativecommon.BasisPoints))

	fee, err := c.FeeBps()
	require.NoError(t, err)
	require.Equal(t, nativecommon.BasisPoints, fee)

	updates := recorder.OfType(events.TypeFeeUpdated)
	require.Len(t, updates, 1)
	require.Equal(t, "10", updates[0].Event().Attributes["previousBps"])
	require.Equal(t, "10000", updates[0].Event().Attributes["feeBps"])
}

func TestEmergencyBurn(t *testing.T) {
	ctx := context.Background()

	disabled, _ := newNode(t, controller.Config{})
	deposit(t, disabled, alice, 500)
	err := disabled.Controller().EmergencyBurn(ctx, governance, alice, big.NewInt(100))
	require.ErrorIs(t, err, controller.ErrEmergencyBurnDisabled)

	node, recorder := newNode(t, controller.Config{AllowEmergencyBurn: true})
	deposit(t, node, alice, 500)
	require.ErrorIs(t, node.Controller().EmergencyBurn(ctx, admin, alice, big.NewInt(100)), nativecommon.ErrAuthorization)
	require.NoError(t, node.Controller().EmergencyBurn(ctx, governance, alice, big.NewInt(100)))

	held, err := node.ClaimToken().BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(400), held.Int64())
	totals, err := node.Controller().Totals()
	require.NoError(t, err)
	require.Equal(t, int64(100), totals.CumulativeBurned.Int64())
	require.Len(t, recorder.OfType(events.TypeEmergencyBurn), 1)
	require.Empty(t, recorder.OfType(events.TypeClaimsBurned))
}

func TestHarvestRespectsPause(t *testing.T) {
	ctx := context.Background()
	node, _ := newNode(t, controller.Config{})
	require.NoError(t, node.Hub().SetPaused(ctx, admin, controller.ModuleName, true))
	_, err := node.Controller().Harvest(ctx, alice)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	require.NoError(t, node.Hub().SetPaused(ctx, admin, controller.ModuleName, false))
	result, err := node.Controller().Harvest(ctx, alice)
	require.NoError(t, err)
	require.Empty(t, result.Distributions)
}
