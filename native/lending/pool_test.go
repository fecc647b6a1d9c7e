package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/token"
	"dough/storage"
)

type poolFixture struct {
	pool  *Pool
	asset *token.Token
	admin common.Address
	now   time.Time
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	ctx := context.Background()
	ledger, err := state.NewLedger(storage.NewMemDB())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	exec := state.NewExecutor(ledger)
	reg := access.NewRegistry(exec)
	admin := common.HexToAddress("0xad")
	if err := reg.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	asset, err := token.New(exec, reg, "USDC", 6)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if err := reg.Grant(ctx, admin, token.MinterRole("USDC"), admin); err != nil {
		t.Fatalf("grant: %v", err)
	}
	pool, err := NewPool(exec, asset, DefaultConfig())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	f := &poolFixture{pool: pool, asset: asset, admin: admin, now: time.Unix(1_700_000_000, 0)}
	pool.SetNowFunc(func() time.Time { return f.now })
	return f
}

func (f *poolFixture) fund(t *testing.T, who common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.asset.Mint(ctx, f.admin, who, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.asset.Approve(ctx, who, f.pool.Account(), big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestSupplyWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t)
	supplier := common.HexToAddress("0x51")
	f.fund(t, supplier, 1_000)
	if err := f.pool.Supply(ctx, supplier, big.NewInt(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	bal, err := f.pool.BalanceOf(supplier)
	if err != nil || bal.Int64() != 1_000 {
		t.Fatalf("expected balance 1000, got %v (%v)", bal, err)
	}
	got, err := f.pool.Withdraw(ctx, supplier, supplier, big.NewInt(5_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Int64() != 1_000 {
		t.Fatalf("expected full position back, got %s", got)
	}
	if cash, _ := f.asset.BalanceOf(supplier); cash.Int64() != 1_000 {
		t.Fatalf("supplier cash %s", cash)
	}
}

func TestInterestAccruesToSuppliers(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t)
	supplier := common.HexToAddress("0x51")
	borrower := common.HexToAddress("0xb0")
	f.fund(t, supplier, 1_000_000_000)
	if err := f.pool.Supply(ctx, supplier, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := f.pool.Borrow(ctx, borrower, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	apr, _ := f.pool.BorrowAPRBps()
	if apr != 200 {
		t.Fatalf("expected 2%% borrow APR at 50%% utilisation, got %d bps", apr)
	}
	f.now = f.now.Add(365 * 24 * time.Hour)

	debt, err := f.pool.DebtOf(borrower)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Int64() != 510_000_000 {
		t.Fatalf("expected debt 510000000, got %s", debt)
	}
	bal, _ := f.pool.BalanceOf(supplier)
	// 10_000_000 interest less the 10% reserve factor.
	if bal.Int64() != 1_009_000_000 {
		t.Fatalf("expected supplier balance 1009000000, got %s", bal)
	}

	// Only the unborrowed cash can leave the venue.
	got, err := f.pool.Withdraw(ctx, supplier, supplier, bal)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Int64() != 500_000_000 {
		t.Fatalf("expected withdrawal capped by cash, got %s", got)
	}
}

func TestRepayClearsDebt(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t)
	supplier := common.HexToAddress("0x51")
	borrower := common.HexToAddress("0xb0")
	f.fund(t, supplier, 1_000)
	if err := f.pool.Supply(ctx, supplier, big.NewInt(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := f.pool.Borrow(ctx, borrower, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.asset.Approve(ctx, borrower, f.pool.Account(), big.NewInt(400)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	applied, err := f.pool.Repay(ctx, borrower, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if applied.Int64() != 400 {
		t.Fatalf("expected 400 applied, got %s", applied)
	}
	if _, err := f.pool.Repay(ctx, borrower, big.NewInt(1)); !errors.Is(err, nativecommon.ErrValidation) {
		t.Fatalf("expected no-debt validation error, got %v", err)
	}
}

func TestBorrowBeyondCashFails(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t)
	err := f.pool.Borrow(ctx, common.HexToAddress("0xb0"), big.NewInt(1))
	if !errors.Is(err, nativecommon.ErrLiquidity) {
		t.Fatalf("expected liquidity error, got %v", err)
	}
}
