package vault_test

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
	"dough/native/vault"
	"dough/storage"
)

var (
	admin      = common.HexToAddress("0xad")
	governance = common.HexToAddress("0x60")
	alice      = common.HexToAddress("0xa11ce")
	bob        = common.HexToAddress("0xb0b")
)

func newNode(t *testing.T, feeBps uint64) (*core.Node, *events.Recorder) {
	t.Helper()
	recorder := new(events.Recorder)
	cfg := core.DefaultConfig(admin, governance)
	cfg.Controller.FeeBps = feeBps
	node, err := core.NewNode(context.Background(), storage.NewMemDB(), cfg, state.WithEmitter(recorder))
	require.NoError(t, err)
	recorder.Reset()
	return node, recorder
}

func fund(t *testing.T, node *core.Node, who common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, node.Faucet(ctx, who, big.NewInt(amount)))
	require.NoError(t, node.BaseToken().Approve(ctx, who, node.Vault().Account(), big.NewInt(amount)))
}

func TestDepositRequiresAllowance(t *testing.T) {
	ctx := context.Background()
	node, recorder := newNode(t, 0)
	require.NoError(t, node.Faucet(ctx, alice, big.NewInt(100)))
	root := node.Ledger().Root()

	_, err := node.Vault().Deposit(ctx, alice, big.NewInt(100))
	require.ErrorIs(t, err, nativecommon.ErrInsufficientAllowance)
	require.Equal(t, root, node.Ledger().Root())
	require.Empty(t, recorder.OfType(events.TypeDeposited))

	_, err = node.Vault().Deposit(ctx, alice, big.NewInt(0))
	require.ErrorIs(t, err, nativecommon.ErrValidation)
}

func TestDepositForwardsToStrategies(t *testing.T) {
	ctx := context.Background()
	node, recorder := newNode(t, 500)
	fund(t, node, alice, 1_000)

	minted, err := node.Vault().Deposit(ctx, alice, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(950), minted.Int64())

	idle, err := node.BaseToken().BalanceOf(node.Vault().Account())
	require.NoError(t, err)
	require.Zero(t, idle.Sign())
	deployed, err := node.Splitter().TotalAssets(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), deployed.Int64())

	totals, err := node.Vault().Totals()
	require.NoError(t, err)
	require.Equal(t, int64(1_000), totals.TotalCollateral.Int64())
	require.Equal(t, int64(950), totals.TotalClaims.Int64())

	deposits := recorder.OfType(events.TypeDeposited)
	require.Len(t, deposits, 1)
	attrs := deposits[0].Event().Attributes
	require.Equal(t, alice.Hex(), attrs["account"])
	require.Equal(t, "1000", attrs["collateral"])
	require.Equal(t, "950", attrs["minted"])
}

func TestBreakdownSeparatesFees(t *testing.T) {
	ctx := context.Background()
	node, _ := newNode(t, 500)
	fund(t, node, alice, 1_000)
	_, err := node.Vault().Deposit(ctx, alice, big.NewInt(1_000))
	require.NoError(t, err)

	b, err := node.Vault().Breakdown(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), b.LiveAssets.Int64())
	require.Equal(t, int64(950), b.TotalClaims.Int64())
	require.Equal(t, int64(950), b.Redeemable.Int64())
	require.Equal(t, int64(50), b.NonRedeemable.Int64())
	require.Equal(t, int64(50), b.FeesAccrued.Int64())
	require.Zero(t, b.Treasury.Sign())

	claims, value, err := node.Vault().Position(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(950), claims.Int64())
	require.Equal(t, int64(950), value.Int64())

	quote, err := node.Vault().Quote(ctx, big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, quote.Sign())
}

func TestRedeemPaysProRata(t *testing.T) {
	ctx := context.Background()
	node, recorder := newNode(t, 0)
	fund(t, node, alice, 600)
	fund(t, node, bob, 400)
	_, err := node.Vault().Deposit(ctx, alice, big.NewInt(600))
	require.NoError(t, err)
	_, err = node.Vault().Deposit(ctx, bob, big.NewInt(400))
	require.NoError(t, err)

	_, err = node.Vault().Redeem(ctx, bob, big.NewInt(401))
	require.ErrorIs(t, err, nativecommon.ErrInsufficientBalance)

	payout, err := node.Vault().Redeem(ctx, bob, big.NewInt(400))
	require.NoError(t, err)
	require.Equal(t, int64(400), payout.Int64())

	held, err := node.BaseToken().BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, int64(400), held.Int64())
	claims, err := node.ClaimToken().BalanceOf(bob)
	require.NoError(t, err)
	require.Zero(t, claims.Sign())

	totals, err := node.Vault().Totals()
	require.NoError(t, err)
	require.Equal(t, int64(600), totals.TotalCollateral.Int64())
	require.Equal(t, int64(600), totals.TotalClaims.Int64())

	redeemed := recorder.OfType(events.TypeRedeemed)
	require.Len(t, redeemed, 1)
	require.Equal(t, "400", redeemed[0].Event().Attributes["pulled"])
}

func TestPausedVaultRejectsFlows(t *testing.T) {
	ctx := context.Background()
	node, _ := newNode(t, 0)
	fund(t, node, alice, 100)
	_, err := node.Vault().Deposit(ctx, alice, big.NewInt(50))
	require.NoError(t, err)

	require.NoError(t, node.Registry().SetPaused(ctx, admin, vault.ModuleName, true))
	_, err = node.Vault().Deposit(ctx, alice, big.NewInt(50))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	_, err = node.Vault().Redeem(ctx, alice, big.NewInt(50))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	require.NoError(t, node.Registry().SetPaused(ctx, admin, vault.ModuleName, false))
	_, err = node.Vault().Redeem(ctx, alice, big.NewInt(50))
	require.NoError(t, err)
}

func TestReleaseFees(t *testing.T) {
	ctx := context.Background()
	node, recorder := newNode(t, 500)

	empty, err := node.Vault().ReleaseFees(ctx)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Zero(t, empty.AmountIn.Sign())
	require.Empty(t, empty.Payouts)

	fund(t, node, alice, 1_000)
	_, err = node.Vault().Deposit(ctx, alice, big.NewInt(1_000))
	require.NoError(t, err)

	d, err := node.Vault().ReleaseFees(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(50), d.Proceeds.Int64())
	require.Len(t, d.Payouts, 2)

	require.Equal(t, node.BaseToken().Address(), node.Vault().Asset().Address())
	require.Equal(t, node.BaseToken().Address(), node.Treasury().Base().Address())
	parked, err := node.BaseToken().BalanceOf(node.Treasury().Account())
	require.NoError(t, err)
	require.Zero(t, parked.Sign())

	ops, err := node.BaseToken().BalanceOf(admin)
	require.NoError(t, err)
	require.Equal(t, int64(30), ops.Int64())
	gov, err := node.BaseToken().BalanceOf(governance)
	require.NoError(t, err)
	require.Equal(t, int64(20), gov.Int64())

	totals, err := node.Controller().Totals()
	require.NoError(t, err)
	require.Zero(t, totals.FeesAccrued.Sign())
	require.Equal(t, int64(50), totals.FeesReleased.Int64())
	require.Len(t, recorder.OfType(events.TypeFeesSettled), 1)

	// Backing now equals claims, so claim holders are still made whole.
	_, value, err := node.Vault().Position(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(950), value.Int64())

	again, err := node.Vault().ReleaseFees(ctx)
	require.NoError(t, err)
	require.Zero(t, again.AmountIn.Sign())
}
