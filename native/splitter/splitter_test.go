package splitter

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
	"dough/native/lending"
	"dough/native/rewards"
	"dough/native/strategy"
	"dough/native/token"
	"dough/storage"
)

type splitterFixture struct {
	exec      *state.Executor
	registry  *access.Registry
	admin     common.Address
	depositor common.Address
	harvester common.Address
	asset     *token.Token
	reward    *token.Token
	source    *rewards.Source
	splitter  *StrategySplitter
	aave      *strategy.LendingStrategy
	compound  *strategy.LendingStrategy
	flaky     *flakyStrategy
}

func newSplitterFixture(t *testing.T) *splitterFixture {
	t.Helper()
	ctx := context.Background()
	ledger, err := state.NewLedger(storage.NewMemDB())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	f := &splitterFixture{
		exec:      state.NewExecutor(ledger, state.WithAcquireTimeout(100*time.Millisecond)),
		admin:     common.HexToAddress("0xad"),
		depositor: common.HexToAddress("0xde"),
		harvester: common.HexToAddress("0x4a"),
	}
	f.registry = access.NewRegistry(f.exec)
	if err := f.registry.Bootstrap(ctx, f.admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if f.asset, err = token.New(f.exec, f.registry, "USDC", 6); err != nil {
		t.Fatalf("asset: %v", err)
	}
	if f.reward, err = token.New(f.exec, f.registry, "RWD", 18); err != nil {
		t.Fatalf("reward: %v", err)
	}
	for _, role := range []string{token.MinterRole("USDC"), token.MinterRole("RWD")} {
		if err := f.registry.Grant(ctx, f.admin, role, f.admin); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	f.source = rewards.NewSource(f.exec, f.registry, "incentives", f.reward)
	f.source.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })

	f.splitter = New(f.exec, f.registry, f.asset)
	f.splitter.RegisterRewardToken(f.reward)
	for _, name := range []string{"aave", "compound"} {
		cfg := lending.DefaultConfig()
		cfg.Name = name
		pool, err := lending.NewPool(f.exec, f.asset, cfg)
		if err != nil {
			t.Fatalf("pool %s: %v", name, err)
		}
		adapter, err := strategy.NewLendingStrategy(f.exec, f.registry, name, f.asset, pool, f.source)
		if err != nil {
			t.Fatalf("strategy %s: %v", name, err)
		}
		f.register(t, adapter)
		if name == "aave" {
			f.aave = adapter
		} else {
			f.compound = adapter
		}
	}
	f.flaky = &flakyStrategy{id: "flaky", asset: f.asset, account: nativecommon.AccountAddress("strategy/flaky")}
	f.register(t, f.flaky)

	if err := f.registry.Grant(ctx, f.admin, DepositorRole, f.depositor); err != nil {
		t.Fatalf("grant depositor: %v", err)
	}
	if err := f.registry.Grant(ctx, f.admin, HarvesterRole, f.harvester); err != nil {
		t.Fatalf("grant harvester: %v", err)
	}
	return f
}

func (f *splitterFixture) register(t *testing.T, adapter strategy.Strategy) {
	t.Helper()
	f.splitter.Register(adapter)
	if err := f.registry.GrantInternal(context.Background(), strategy.OperatorRole(adapter.ID()), f.splitter.Account()); err != nil {
		t.Fatalf("grant operator: %v", err)
	}
}

func (f *splitterFixture) setTable(t *testing.T, entries ...Allocation) {
	t.Helper()
	if err := f.splitter.SetStrategies(context.Background(), f.admin, entries); err != nil {
		t.Fatalf("set strategies: %v", err)
	}
}

func (f *splitterFixture) allocate(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.asset.Mint(ctx, f.admin, f.splitter.Account(), big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.splitter.Allocate(ctx, f.depositor, big.NewInt(amount)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
}

func assetsOf(t *testing.T, s strategy.Strategy) int64 {
	t.Helper()
	total, err := s.TotalAssets(context.Background())
	if err != nil {
		t.Fatalf("total assets %s: %v", s.ID(), err)
	}
	return total.Int64()
}

// flakyStrategy keeps deposits as cash and fails on demand.
type flakyStrategy struct {
	id           string
	asset        *token.Token
	account      common.Address
	failWithdraw bool
	failHarvest  bool
}

func (s *flakyStrategy) ID() string                  { return s.id }
func (s *flakyStrategy) Account() common.Address     { return s.account }
func (s *flakyStrategy) RewardToken() common.Address { return common.Address{} }

func (s *flakyStrategy) Deposit(context.Context, common.Address, *big.Int) error { return nil }

func (s *flakyStrategy) Withdraw(ctx context.Context, _ common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if s.failWithdraw {
		return nil, errors.New("venue halted")
	}
	if err := s.asset.Transfer(ctx, s.account, to, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (s *flakyStrategy) Harvest(ctx context.Context, _ common.Address, to common.Address) (*big.Int, error) {
	if s.failHarvest {
		// Leave a partial effect behind to prove it is reverted.
		_ = s.asset.Transfer(ctx, s.account, to, big.NewInt(1))
		return nil, errors.New("rewards contract reverted")
	}
	return big.NewInt(0), nil
}

func (s *flakyStrategy) TotalAssets(context.Context) (*big.Int, error) {
	return s.asset.BalanceOf(s.account)
}

// callbackStrategy calls back into the splitter from its own hooks,
// optionally with a context that carries no marker at all.
type callbackStrategy struct {
	flakyStrategy
	splitter *StrategySplitter
	caller   common.Address
	to       common.Address
	detach   bool
	err      error
}

func (s *callbackStrategy) context(ctx context.Context) context.Context {
	if s.detach {
		return context.Background()
	}
	return ctx
}

func (s *callbackStrategy) Deposit(ctx context.Context, _ common.Address, amount *big.Int) error {
	s.err = s.splitter.Allocate(s.context(ctx), s.caller, amount)
	return s.err
}

func (s *callbackStrategy) Harvest(ctx context.Context, _ common.Address, _ common.Address) (*big.Int, error) {
	_, s.err = s.splitter.Withdraw(s.context(ctx), s.caller, big.NewInt(500), s.to)
	if s.err != nil {
		return nil, s.err
	}
	return big.NewInt(0), nil
}

func TestSetStrategiesRejectsInvalidTable(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	f.setTable(t, Allocation{StrategyID: "aave", WeightBps: 10_000})

	cases := map[string][]Allocation{
		"short sum":  {{StrategyID: "aave", WeightBps: 6_000}, {StrategyID: "compound", WeightBps: 3_000}},
		"zero entry": {{StrategyID: "aave", WeightBps: 10_000}, {StrategyID: "compound", WeightBps: 0}},
		"duplicate":  {{StrategyID: "aave", WeightBps: 5_000}, {StrategyID: "AAVE", WeightBps: 5_000}},
		"unknown":    {{StrategyID: "maker", WeightBps: 10_000}},
	}
	for name, entries := range cases {
		err := f.splitter.SetStrategies(ctx, f.admin, entries)
		if !errors.Is(err, nativecommon.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	table, err := f.splitter.Strategies()
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	if len(table) != 1 || table[0].StrategyID != "aave" || table[0].WeightBps != 10_000 {
		t.Fatalf("previous table must remain, got %+v", table)
	}

	err = f.splitter.SetStrategies(ctx, f.depositor, []Allocation{{StrategyID: "compound", WeightBps: 10_000}})
	if !errors.Is(err, nativecommon.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestAllocateGivesRemainderToLastEntry(t *testing.T) {
	f := newSplitterFixture(t)
	f.setTable(t,
		Allocation{StrategyID: "aave", WeightBps: 6_000},
		Allocation{StrategyID: "compound", WeightBps: 4_000},
	)
	f.allocate(t, 1_001)
	if got := assetsOf(t, f.aave); got != 600 {
		t.Fatalf("aave expected 600, got %d", got)
	}
	if got := assetsOf(t, f.compound); got != 401 {
		t.Fatalf("compound expected 401, got %d", got)
	}
	total, err := f.splitter.TotalAssets(context.Background())
	if err != nil || total.Int64() != 1_001 {
		t.Fatalf("expected total 1001, got %v (%v)", total, err)
	}
}

func TestAllocateWithEmptyTableHoldsIdle(t *testing.T) {
	f := newSplitterFixture(t)
	f.allocate(t, 500)
	idle, _ := f.asset.BalanceOf(f.splitter.Account())
	if idle.Int64() != 500 {
		t.Fatalf("expected 500 idle, got %s", idle)
	}
}

func TestAllocateRequiresDepositor(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	err := f.splitter.Allocate(ctx, f.harvester, big.NewInt(1))
	if !errors.Is(err, nativecommon.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestWithdrawDrainsSmallestWeightFirst(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	f.setTable(t,
		Allocation{StrategyID: "aave", WeightBps: 7_000},
		Allocation{StrategyID: "compound", WeightBps: 3_000},
	)
	f.allocate(t, 1_000)

	to := common.HexToAddress("0x70")
	got, err := f.splitter.Withdraw(ctx, f.depositor, big.NewInt(400), to)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Int64() != 400 {
		t.Fatalf("expected 400, got %s", got)
	}
	if rest := assetsOf(t, f.compound); rest != 0 {
		t.Fatalf("compound should be drained first, holds %d", rest)
	}
	if rest := assetsOf(t, f.aave); rest != 600 {
		t.Fatalf("aave expected 600, holds %d", rest)
	}
	if bal, _ := f.asset.BalanceOf(to); bal.Int64() != 400 {
		t.Fatalf("recipient holds %s", bal)
	}
}

func TestWithdrawOrderBreaksTiesFromTheEnd(t *testing.T) {
	table := []Allocation{
		{StrategyID: "a", WeightBps: 5_000},
		{StrategyID: "b", WeightBps: 2_500},
		{StrategyID: "c", WeightBps: 2_500},
	}
	order := withdrawOrder(table)
	want := []string{"c", "b", "a"}
	for i, entry := range order {
		if entry.StrategyID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], entry.StrategyID)
		}
	}
}

func TestWithdrawSkipsFailingAdapter(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	f.setTable(t,
		Allocation{StrategyID: "aave", WeightBps: 5_000},
		Allocation{StrategyID: "flaky", WeightBps: 5_000},
	)
	f.allocate(t, 1_000)
	f.flaky.failWithdraw = true

	got, err := f.splitter.Withdraw(ctx, f.depositor, big.NewInt(800), common.HexToAddress("0x70"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Int64() != 500 {
		t.Fatalf("expected 500 from the healthy adapter, got %s", got)
	}
	if rest := assetsOf(t, f.flaky); rest != 500 {
		t.Fatalf("failing adapter must be untouched, holds %d", rest)
	}
}

func TestHarvestIsolatesFailuresAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	f.setTable(t,
		Allocation{StrategyID: "aave", WeightBps: 5_000},
		Allocation{StrategyID: "flaky", WeightBps: 5_000},
	)
	f.allocate(t, 1_000)
	if err := f.reward.Mint(ctx, f.admin, f.source.Account(), big.NewInt(1_000)); err != nil {
		t.Fatalf("mint rewards: %v", err)
	}
	if err := f.source.Credit(ctx, f.admin, f.aave.Account(), big.NewInt(75)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	f.flaky.failHarvest = true

	treasury := common.HexToAddress("0x7e")
	report, err := f.splitter.Harvest(ctx, f.harvester, treasury)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if got := report.Total(f.reward.Address()); got.Int64() != 75 {
		t.Fatalf("expected 75 harvested, got %s", got)
	}
	if len(report.Failures) != 1 || report.Failures[0].StrategyID != "flaky" {
		t.Fatalf("expected flaky failure, got %+v", report.Failures)
	}
	if !errors.Is(report.Failures[0].Err, nativecommon.ErrExternal) {
		t.Fatalf("failure should be external, got %v", report.Failures[0].Err)
	}
	if bal, _ := f.asset.BalanceOf(treasury); bal.Sign() != 0 {
		t.Fatalf("failed harvest side effects must revert, treasury holds %s base", bal)
	}

	again, err := f.splitter.Harvest(ctx, f.harvester, treasury)
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if !again.Empty() {
		t.Fatalf("second harvest should collect nothing, got %v", again.Rewards)
	}
}

func TestHarvestRequiresHarvester(t *testing.T) {
	f := newSplitterFixture(t)
	_, err := f.splitter.Harvest(context.Background(), f.depositor, common.HexToAddress("0x7e"))
	if !errors.Is(err, nativecommon.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestRemovingAdapterRedeploysItsCapital(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	f.setTable(t,
		Allocation{StrategyID: "aave", WeightBps: 6_000},
		Allocation{StrategyID: "compound", WeightBps: 4_000},
	)
	f.allocate(t, 1_000)
	f.setTable(t, Allocation{StrategyID: "aave", WeightBps: 10_000})

	if rest := assetsOf(t, f.compound); rest != 0 {
		t.Fatalf("removed adapter should be empty, holds %d", rest)
	}
	if got := assetsOf(t, f.aave); got != 1_000 {
		t.Fatalf("expected aave to hold 1000, got %d", got)
	}
	idle, _ := f.asset.BalanceOf(f.splitter.Account())
	if idle.Sign() != 0 {
		t.Fatalf("expected nothing idle, got %s", idle)
	}
	total, err := f.splitter.TotalAssets(ctx)
	if err != nil || total.Int64() != 1_000 {
		t.Fatalf("expected total 1000, got %v (%v)", total, err)
	}
}

func TestTableSwapLeavesNothingIdle(t *testing.T) {
	f := newSplitterFixture(t)
	f.setTable(t, Allocation{StrategyID: "aave", WeightBps: 10_000})
	f.allocate(t, 1_000)
	f.setTable(t, Allocation{StrategyID: "compound", WeightBps: 10_000})
	f.allocate(t, 100)

	if got := assetsOf(t, f.compound); got != 1_100 {
		t.Fatalf("expected compound to hold 1100, got %d", got)
	}
	if got := assetsOf(t, f.aave); got != 0 {
		t.Fatalf("expected aave to be empty, got %d", got)
	}
	idle, _ := f.asset.BalanceOf(f.splitter.Account())
	if idle.Sign() != 0 {
		t.Fatalf("expected nothing idle, got %s", idle)
	}

	f.setTable(t)
	if got := assetsOf(t, f.compound); got != 0 {
		t.Fatalf("empty table should drain compound, holds %d", got)
	}
	idle, _ = f.asset.BalanceOf(f.splitter.Account())
	if idle.Int64() != 1_100 {
		t.Fatalf("empty table should hold 1100 idle, got %s", idle)
	}
}

func TestAdapterCallbacksAreRejected(t *testing.T) {
	for _, tc := range []struct {
		name   string
		detach bool
	}{
		{name: "handed context", detach: false},
		{name: "fresh context", detach: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newSplitterFixture(t)
			thief := common.HexToAddress("0xbad")
			cb := &callbackStrategy{
				flakyStrategy: flakyStrategy{id: "callback", asset: f.asset, account: nativecommon.AccountAddress("strategy/callback")},
				splitter:      f.splitter,
				caller:        f.depositor,
				to:            thief,
				detach:        tc.detach,
			}
			f.register(t, cb)
			f.setTable(t, Allocation{StrategyID: "aave", WeightBps: 10_000})
			f.allocate(t, 1_000)

			root := f.exec.Ledger().Root()
			err := f.splitter.SetStrategies(ctx, f.admin, []Allocation{{StrategyID: "callback", WeightBps: 10_000}})
			if !errors.Is(err, state.ErrReentrant) {
				t.Fatalf("expected ErrReentrant from deposit callback, got %v", err)
			}
			if got := f.exec.Ledger().Root(); got != root {
				t.Fatalf("ledger changed after rejected callback: %s != %s", got, root)
			}
			if got := assetsOf(t, f.aave); got != 1_000 {
				t.Fatalf("aave should keep 1000, holds %d", got)
			}

			f.setTable(t,
				Allocation{StrategyID: "aave", WeightBps: 5_000},
				Allocation{StrategyID: "callback", WeightBps: 5_000},
			)
			cb.err = nil
			report, err := f.splitter.Harvest(ctx, f.harvester, f.harvester)
			if err != nil {
				t.Fatalf("harvest: %v", err)
			}
			if !errors.Is(cb.err, state.ErrReentrant) {
				t.Fatalf("expected the callback withdraw to be rejected, got %v", cb.err)
			}
			if len(report.Failures) != 1 || report.Failures[0].StrategyID != "callback" {
				t.Fatalf("expected the callback adapter to be reported, got %+v", report.Failures)
			}
			if held, _ := f.asset.BalanceOf(thief); held.Sign() != 0 {
				t.Fatalf("callback moved %s out of the splitter", held)
			}
			total, err := f.splitter.TotalAssets(ctx)
			if err != nil || total.Int64() != 1_000 {
				t.Fatalf("expected total 1000, got %v (%v)", total, err)
			}
		})
	}
}

func TestConservationAcrossRandomFlows(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t)
	f.setTable(t,
		Allocation{StrategyID: "aave", WeightBps: 3_333},
		Allocation{StrategyID: "compound", WeightBps: 6_667},
	)
	expected := int64(0)
	amounts := []int64{1, 17, 1_001, 9_999, 3, 250}
	for i, amount := range amounts {
		f.allocate(t, amount)
		expected += amount
		if i%2 == 1 {
			out := amount / 2
			if out == 0 {
				continue
			}
			got, err := f.splitter.Withdraw(ctx, f.depositor, big.NewInt(out), common.HexToAddress("0x70"))
			if err != nil {
				t.Fatalf("withdraw: %v", err)
			}
			expected -= got.Int64()
		}
		total, err := f.splitter.TotalAssets(ctx)
		if err != nil {
			t.Fatalf("total: %v", err)
		}
		if total.Int64() != expected {
			t.Fatalf("step %d: total %s, expected %d", i, total, expected)
		}
	}
}
