package router

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

type routerFixture struct {
	exec     *state.Executor
	registry *access.Registry
	admin    common.Address
	usdc     *token.Token
	rwd      *token.Token
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ctx := context.Background()
	ledger, err := state.NewLedger(storage.NewMemDB())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	f := &routerFixture{exec: state.NewExecutor(ledger), admin: common.HexToAddress("0xad")}
	f.registry = access.NewRegistry(f.exec)
	if err := f.registry.Bootstrap(ctx, f.admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	f.usdc, _ = token.New(f.exec, f.registry, "USDC", 6)
	f.rwd, _ = token.New(f.exec, f.registry, "RWD", 6)
	for _, sym := range []string{"USDC", "RWD"} {
		if err := f.registry.Grant(ctx, f.admin, token.MinterRole(sym), f.admin); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	return f
}

func (f *routerFixture) pool(t *testing.T, name string, num, den int64) *PoolRouter {
	t.Helper()
	ctx := context.Background()
	r := NewPoolRouter(f.exec, f.registry, name, f.usdc, f.rwd)
	if err := r.SetPrice(ctx, f.admin, f.rwd.Address(), f.usdc.Address(), big.NewInt(num), big.NewInt(den)); err != nil {
		t.Fatalf("price: %v", err)
	}
	if err := f.usdc.Mint(ctx, f.admin, r.Account(), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("reserves: %v", err)
	}
	return r
}

func (f *routerFixture) path(t *testing.T, fee uint32) Path {
	t.Helper()
	p, err := EncodePath([]common.Address{f.rwd.Address(), f.usdc.Address()}, []uint32{fee})
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	return p
}

func TestPathRoundTrip(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	c := common.HexToAddress("0x03")
	p, err := EncodePath([]common.Address{a, b, c}, []uint32{3000, 500})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := ParsePath(p.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	hops, err := parsed.Hops()
	if err != nil {
		t.Fatalf("hops: %v", err)
	}
	if len(hops) != 2 || hops[0].Fee != 3000 || hops[1].TokenOut != c {
		t.Fatalf("unexpected hops %+v", hops)
	}
	if parsed.TokenIn() != a || parsed.TokenOut() != c {
		t.Fatalf("unexpected endpoints")
	}
	if _, err := ParsePath("0x1234"); err == nil {
		t.Fatalf("expected malformed path error")
	}
}

func TestPoolRouterQuoteAndSwap(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	r := f.pool(t, "uniswap", 2, 1)
	path := f.path(t, 3000)

	quoted, err := r.Quote(ctx, big.NewInt(1_000), path)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 1000 * 2 less the 0.3% tier.
	if quoted.Int64() != 1_994 {
		t.Fatalf("expected 1994, got %s", quoted)
	}

	trader := common.HexToAddress("0x7a")
	if err := f.rwd.Mint(ctx, f.admin, trader, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.rwd.Approve(ctx, trader, r.Account(), big.NewInt(1_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	out, err := r.Swap(ctx, SwapRequest{From: trader, To: trader, AmountIn: big.NewInt(1_000), MinOut: quoted, Path: path})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Cmp(quoted) != 0 {
		t.Fatalf("expected fill at quote, got %s", out)
	}
	if bal, _ := f.usdc.BalanceOf(trader); bal.Cmp(quoted) != 0 {
		t.Fatalf("trader received %s", bal)
	}
}

func TestPoolRouterEnforcesMinOutAndDeadline(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	r := f.pool(t, "uniswap", 1, 1)
	path := f.path(t, 0)
	now := time.Unix(1_700_000_000, 0)
	r.SetNowFunc(func() time.Time { return now })
	if err := r.SetExecutionSkew(ctx, f.admin, 600); err != nil {
		t.Fatalf("skew: %v", err)
	}
	trader := common.HexToAddress("0x7a")
	if err := f.rwd.Mint(ctx, f.admin, trader, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.rwd.Approve(ctx, trader, r.Account(), big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := r.Swap(ctx, SwapRequest{From: trader, To: trader, AmountIn: big.NewInt(100), MinOut: big.NewInt(95), Path: path})
	if !errors.Is(err, nativecommon.ErrSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if bal, _ := f.rwd.BalanceOf(trader); bal.Int64() != 100 {
		t.Fatalf("input must not move on a reverted swap, trader holds %s", bal)
	}
	_, err = r.Swap(ctx, SwapRequest{From: trader, To: trader, AmountIn: big.NewInt(100), Path: path, Deadline: now.Add(-time.Second)})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestAggregatorRoutesToBestSource(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	cheap := f.pool(t, "venue-a", 1, 1)
	rich := f.pool(t, "venue-b", 3, 2)
	agg := NewAggregator(f.exec, "oneinch", []Router{cheap, rich}, f.usdc, f.rwd)
	path := f.path(t, 0)

	quoted, err := agg.Quote(ctx, big.NewInt(100), path)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quoted.Int64() != 150 {
		t.Fatalf("expected best quote 150, got %s", quoted)
	}
	trader := common.HexToAddress("0x7a")
	if err := f.rwd.Mint(ctx, f.admin, trader, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.rwd.Approve(ctx, trader, agg.Account(), big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	out, err := agg.Swap(ctx, SwapRequest{From: trader, To: trader, AmountIn: big.NewInt(100), MinOut: big.NewInt(149), Path: path})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Int64() != 150 {
		t.Fatalf("expected 150 out, got %s", out)
	}
	if bal, _ := f.rwd.BalanceOf(rich.Account()); bal.Int64() != 100 {
		t.Fatalf("expected input to land at the best venue, got %s", bal)
	}
}

func TestRegistryNormalisesNames(t *testing.T) {
	f := newRouterFixture(t)
	reg := NewRegistry()
	reg.Register(NewPoolRouter(f.exec, f.registry, "Uniswap"))
	if _, ok := reg.Get(" UNISWAP "); !ok {
		t.Fatalf("expected lookup to normalise names")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "uniswap" {
		t.Fatalf("unexpected names %v", names)
	}
}
