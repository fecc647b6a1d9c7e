// Package splitter implements the StrategySplitter: a weighted table of yield
// adapters that receives vault capital, returns it on demand and collects
// harvested rewards.
package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/events"
	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/strategy"
	"dough/native/token"
)

const (
	// DepositorRole may allocate and withdraw capital (the vault).
	DepositorRole = "splitter.depositor"
	// HarvesterRole may trigger harvests (the controller).
	HarvesterRole = "splitter.harvester"
)

var tableKey = state.Key("splitter", []byte("table"))

// Allocation is one row of the strategy table.
type Allocation struct {
	StrategyID string
	WeightBps  uint64
}

type tableRecord struct {
	Entries []Allocation
}

// HarvestFailure records an adapter whose harvest was skipped.
type HarvestFailure struct {
	StrategyID string
	Err        error
}

// HarvestReport is the outcome of one harvest pass.
type HarvestReport struct {
	Rewards   map[common.Address]*big.Int
	Succeeded []string
	Failures  []HarvestFailure
}

// Total returns the harvested amount of rewardToken.
func (r *HarvestReport) Total(rewardToken common.Address) *big.Int {
	if r == nil || r.Rewards[rewardToken] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(r.Rewards[rewardToken])
}

// Empty reports whether nothing was harvested.
func (r *HarvestReport) Empty() bool {
	for _, amount := range r.Rewards {
		if amount.Sign() > 0 {
			return false
		}
	}
	return true
}

// StrategySplitter routes capital across registered adapters by weight.
type StrategySplitter struct {
	exec       *state.Executor
	ledger     *state.Ledger
	registry   *access.Registry
	asset      token.Asset
	strategies map[string]strategy.Strategy
	rewards    map[common.Address]token.Asset
	account    common.Address
	logger     *slog.Logger
}

// New constructs a splitter holding asset.
func New(exec *state.Executor, registry *access.Registry, asset token.Asset) *StrategySplitter {
	return &StrategySplitter{
		exec:       exec,
		ledger:     exec.Ledger(),
		registry:   registry,
		asset:      asset,
		strategies: make(map[string]strategy.Strategy),
		rewards:    make(map[common.Address]token.Asset),
		account:    nativecommon.AccountAddress("splitter"),
		logger:     slog.Default().With(slog.String("component", "splitter")),
	}
}

// SetLogger overrides the default logger.
func (s *StrategySplitter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Account is the splitter's custody account.
func (s *StrategySplitter) Account() common.Address { return s.account }

// Asset is the base asset the splitter routes.
func (s *StrategySplitter) Asset() token.Asset { return s.asset }

// Register makes adapter available to the strategy table. Adapters are
// registered at startup; the table decides which ones receive capital.
func (s *StrategySplitter) Register(adapter strategy.Strategy) {
	s.strategies[nativecommon.NormalizeLabel(adapter.ID())] = adapter
}

// RegisterRewardToken lets the splitter measure harvests of tok by balance
// delta instead of trusting adapter reports.
func (s *StrategySplitter) RegisterRewardToken(tok token.Asset) {
	s.rewards[tok.Address()] = tok
}

// Registered lists the IDs of all registered adapters.
func (s *StrategySplitter) Registered() []string {
	ids := make([]string, 0, len(s.strategies))
	for id := range s.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Adapter returns a registered adapter.
func (s *StrategySplitter) Adapter(id string) (strategy.Strategy, bool) {
	adapter, ok := s.strategies[nativecommon.NormalizeLabel(id)]
	return adapter, ok
}

// Strategies returns the active table.
func (s *StrategySplitter) Strategies() ([]Allocation, error) {
	rec := new(tableRecord)
	if _, err := s.ledger.GetRLP(tableKey, rec); err != nil {
		return nil, err
	}
	return rec.Entries, nil
}

func (s *StrategySplitter) validate(entries []Allocation) ([]Allocation, error) {
	normalised := make([]Allocation, len(entries))
	weights := make([]uint64, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		id := nativecommon.NormalizeLabel(entry.StrategyID)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate strategy %q", nativecommon.ErrInvalidWeights, id)
		}
		seen[id] = struct{}{}
		if _, ok := s.strategies[id]; !ok {
			return nil, fmt.Errorf("%w: unknown strategy %q", nativecommon.ErrInvalidWeights, id)
		}
		normalised[i] = Allocation{StrategyID: id, WeightBps: entry.WeightBps}
		weights[i] = entry.WeightBps
	}
	if err := nativecommon.ValidateWeights(weights); err != nil {
		return nil, err
	}
	return normalised, nil
}

// SetStrategies replaces the table. Adapters dropped from the table are
// emptied and the whole idle balance is spread across the new table; if a
// dropped adapter cannot return everything it reports, the update fails and
// the old table stays. An empty table keeps the capital idle.
func (s *StrategySplitter) SetStrategies(ctx context.Context, caller common.Address, entries []Allocation) error {
	next, err := s.validate(entries)
	if err != nil {
		return err
	}
	return s.exec.Run(ctx, "splitter.set_strategies", func(ctx context.Context) error {
		if err := s.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		current, err := s.Strategies()
		if err != nil {
			return err
		}
		keep := make(map[string]struct{}, len(next))
		for _, entry := range next {
			keep[entry.StrategyID] = struct{}{}
		}
		for _, entry := range current {
			if _, ok := keep[entry.StrategyID]; ok {
				continue
			}
			if err := s.drain(ctx, entry.StrategyID); err != nil {
				return err
			}
		}
		if err := s.ledger.PutRLP(tableKey, &tableRecord{Entries: next}); err != nil {
			return err
		}
		idle, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		if err := s.deploy(ctx, next, idle); err != nil {
			return err
		}
		summary := make([]events.WeightEntry, len(next))
		for i, entry := range next {
			summary[i] = events.WeightEntry{Name: entry.StrategyID, Weight: entry.WeightBps}
		}
		s.ledger.Emit(events.StrategiesUpdated{Entries: summary})
		return nil
	})
}

func (s *StrategySplitter) drain(ctx context.Context, id string) error {
	adapter := s.strategies[id]
	total, err := s.totalOf(ctx, adapter)
	if err != nil {
		return nativecommon.External(id, err)
	}
	if total.Sign() == 0 {
		return nil
	}
	var got *big.Int
	err = s.exec.CallOut(ctx, func(ctx context.Context) error {
		var err error
		got, err = adapter.Withdraw(ctx, s.account, total, s.account)
		return err
	})
	if err != nil {
		return nativecommon.External(id, err)
	}
	if got.Cmp(total) < 0 {
		return fmt.Errorf("%w: strategy %s returned %s of %s", nativecommon.ErrInsufficientLiquidity, id, got, total)
	}
	return nil
}

// Allocate spreads amount, already held by the splitter, across the table.
// Every entry but the last gets amount*weight/10000; the last gets the rest.
// An empty table keeps the capital idle.
func (s *StrategySplitter) Allocate(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return s.exec.Run(ctx, "splitter.allocate", func(ctx context.Context) error {
		if err := s.registry.Require(DepositorRole, caller); err != nil {
			return err
		}
		idle, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		if idle.Cmp(amount) < 0 {
			return fmt.Errorf("splitter: %w: idle %s < %s", nativecommon.ErrInsufficientBalance, idle, amount)
		}
		table, err := s.Strategies()
		if err != nil {
			return err
		}
		return s.deploy(ctx, table, amount)
	})
}

// deploy hands amount of idle capital to the table by weight.
func (s *StrategySplitter) deploy(ctx context.Context, table []Allocation, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if len(table) == 0 {
		s.ledger.Emit(events.Allocated{Amount: amount, Idle: true})
		return nil
	}
	weights := make([]uint64, len(table))
	for i, entry := range table {
		weights[i] = entry.WeightBps
	}
	for i, share := range nativecommon.Split(amount, weights) {
		if share.Sign() == 0 {
			continue
		}
		adapter := s.strategies[table[i].StrategyID]
		if err := s.asset.Transfer(ctx, s.account, adapter.Account(), share); err != nil {
			return err
		}
		err := s.exec.CallOut(ctx, func(ctx context.Context) error {
			return adapter.Deposit(ctx, s.account, share)
		})
		if err != nil {
			return nativecommon.External(adapter.ID(), err)
		}
	}
	s.ledger.Emit(events.Allocated{Amount: amount})
	return nil
}

// totalOf asks adapter for its assets through an external context.
func (s *StrategySplitter) totalOf(ctx context.Context, adapter strategy.Strategy) (*big.Int, error) {
	var total *big.Int
	err := s.exec.CallOut(ctx, func(ctx context.Context) error {
		var err error
		total, err = adapter.TotalAssets(ctx)
		return err
	})
	return total, err
}

// withdrawOrder lists the table smallest weight first; equal weights are
// drained from the end of the table first.
func withdrawOrder(table []Allocation) []Allocation {
	ordered := make([]Allocation, len(table))
	for i := range table {
		ordered[i] = table[len(table)-1-i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].WeightBps < ordered[j].WeightBps
	})
	return ordered
}

// Withdraw gathers up to amount from idle capital and then from adapters,
// and pays it to `to`. Adapters that fail are skipped. The returned value is
// what was actually paid; callers decide whether a shortfall is fatal.
func (s *StrategySplitter) Withdraw(ctx context.Context, caller common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	var paid *big.Int
	err := s.exec.Run(ctx, "splitter.withdraw", func(ctx context.Context) error {
		if err := s.registry.Require(DepositorRole, caller); err != nil {
			return err
		}
		idle, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		remaining := new(big.Int).Sub(amount, nativecommon.MinBig(idle, amount))
		table, err := s.Strategies()
		if err != nil {
			return err
		}
		for _, entry := range withdrawOrder(table) {
			if remaining.Sign() == 0 {
				break
			}
			got, err := s.withdrawOne(ctx, entry.StrategyID, remaining)
			if err != nil {
				s.logger.Warn("strategy withdraw skipped", slog.String("strategy", entry.StrategyID), slog.String("error", err.Error()))
				s.ledger.Emit(events.StrategyFailed{Strategy: entry.StrategyID, Operation: "withdraw", Reason: err.Error()})
				continue
			}
			remaining.Sub(remaining, got)
		}
		paid = new(big.Int).Sub(amount, remaining)
		return s.asset.Transfer(ctx, s.account, to, paid)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (s *StrategySplitter) withdrawOne(ctx context.Context, id string, want *big.Int) (*big.Int, error) {
	adapter := s.strategies[id]
	var got *big.Int
	err := s.exec.Run(ctx, "splitter.withdraw_one", func(ctx context.Context) error {
		available, err := s.totalOf(ctx, adapter)
		if err != nil {
			return err
		}
		take := nativecommon.MinBig(available, want)
		if take.Sign() == 0 {
			got = big.NewInt(0)
			return nil
		}
		before, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		err = s.exec.CallOut(ctx, func(ctx context.Context) error {
			_, err := adapter.Withdraw(ctx, s.account, take, s.account)
			return err
		})
		if err != nil {
			return err
		}
		after, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		got = new(big.Int).Sub(after, before)
		if got.Sign() < 0 {
			return fmt.Errorf("balance fell during withdraw")
		}
		got = nativecommon.MinBig(got, take)
		return nil
	})
	if err != nil {
		return nil, nativecommon.External(id, err)
	}
	return got, nil
}

// Harvest collects rewards from every adapter in the table and pays them to
// `to`. A failing adapter is reverted and reported; the others still run.
func (s *StrategySplitter) Harvest(ctx context.Context, caller, to common.Address) (*HarvestReport, error) {
	report := &HarvestReport{Rewards: make(map[common.Address]*big.Int)}
	err := s.exec.Run(ctx, "splitter.harvest", func(ctx context.Context) error {
		if err := s.registry.Require(HarvesterRole, caller); err != nil {
			return err
		}
		table, err := s.Strategies()
		if err != nil {
			return err
		}
		for _, entry := range table {
			rewardToken, amount, err := s.harvestOne(ctx, entry.StrategyID, to)
			if err != nil {
				s.logger.Warn("strategy harvest failed", slog.String("strategy", entry.StrategyID), slog.String("error", err.Error()))
				report.Failures = append(report.Failures, HarvestFailure{StrategyID: entry.StrategyID, Err: err})
				s.ledger.Emit(events.StrategyFailed{Strategy: entry.StrategyID, Operation: "harvest", Reason: err.Error()})
				continue
			}
			report.Succeeded = append(report.Succeeded, entry.StrategyID)
			if amount.Sign() == 0 {
				continue
			}
			if report.Rewards[rewardToken] == nil {
				report.Rewards[rewardToken] = big.NewInt(0)
			}
			report.Rewards[rewardToken].Add(report.Rewards[rewardToken], amount)
		}
		for tok, amount := range report.Rewards {
			s.ledger.Emit(events.Harvested{Token: tok, Amount: amount, Succeeded: len(report.Succeeded), Failed: len(report.Failures)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *StrategySplitter) harvestOne(ctx context.Context, id string, to common.Address) (common.Address, *big.Int, error) {
	adapter := s.strategies[id]
	rewardToken := adapter.RewardToken()
	var amount *big.Int
	err := s.exec.Run(ctx, "splitter.harvest_one", func(ctx context.Context) error {
		tok, measured := s.rewards[rewardToken]
		var before *big.Int
		if measured {
			b, err := tok.BalanceOf(to)
			if err != nil {
				return err
			}
			before = b
		}
		var reported *big.Int
		err := s.exec.CallOut(ctx, func(ctx context.Context) error {
			var err error
			reported, err = adapter.Harvest(ctx, s.account, to)
			return err
		})
		if err != nil {
			return err
		}
		amount = reported
		if measured {
			after, err := tok.BalanceOf(to)
			if err != nil {
				return err
			}
			amount = after.Sub(after, before)
			if amount.Sign() < 0 {
				return fmt.Errorf("reward balance fell during harvest")
			}
		}
		return nil
	})
	if err != nil {
		return rewardToken, nil, nativecommon.External(id, err)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	return rewardToken, amount, nil
}

// TotalAssets is the idle balance plus every table adapter's own report,
// queried fresh on each call.
func (s *StrategySplitter) TotalAssets(ctx context.Context) (*big.Int, error) {
	total, err := s.asset.BalanceOf(s.account)
	if err != nil {
		return nil, err
	}
	table, err := s.Strategies()
	if err != nil {
		return nil, err
	}
	for _, entry := range table {
		assets, err := s.totalOf(ctx, s.strategies[entry.StrategyID])
		if err != nil {
			return nil, nativecommon.External(entry.StrategyID, err)
		}
		total.Add(total, assets)
	}
	return total, nil
}

// Reports returns venue figures for table adapters that expose them.
func (s *StrategySplitter) Reports(ctx context.Context) ([]*strategy.Stats, error) {
	table, err := s.Strategies()
	if err != nil {
		return nil, err
	}
	out := make([]*strategy.Stats, 0, len(table))
	for _, entry := range table {
		reporter, ok := s.strategies[entry.StrategyID].(strategy.Reporter)
		if !ok {
			continue
		}
		var stats *strategy.Stats
		err := s.exec.CallOut(ctx, func(ctx context.Context) error {
			var err error
			stats, err = reporter.Stats(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// PendingRewards sums unclaimed incentives across reporting adapters.
func (s *StrategySplitter) PendingRewards(ctx context.Context) (*big.Int, error) {
	reports, err := s.Reports(ctx)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, r := range reports {
		if r.PendingRewards != nil {
			total.Add(total, r.PendingRewards)
		}
	}
	return total, nil
}
