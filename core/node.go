package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/controller"
	"dough/native/hub"
	"dough/native/lending"
	"dough/native/rewards"
	"dough/native/router"
	"dough/native/splitter"
	"dough/native/strategy"
	"dough/native/token"
	"dough/native/treasury"
	"dough/native/vault"
	"dough/storage"
)

// Router kinds accepted in RouterConfig.
const (
	RouterKindPool       = "pool"
	RouterKindAggregator = "aggregator"
)

var (
	ErrFaucetLimit = nativecommon.NewError(nativecommon.ErrValidation, "faucet: amount above limit")

	bootstrapKey = state.Key("node", []byte("bootstrapped"))
)

// AssetConfig names a token.
type AssetConfig struct {
	Symbol   string
	Decimals uint8
}

// StrategyConfig describes one lending venue and the adapter that uses it.
type StrategyConfig struct {
	Venue             lending.Config
	WeightBps         uint64
	EmissionPerSecond *big.Int
}

// RouterConfig describes one DEX venue. Pool routers price the reward token
// at PriceNum/PriceDen base units; aggregators route across Sources.
type RouterConfig struct {
	Name     string
	Kind     string
	PriceNum *big.Int
	PriceDen *big.Int
	SkewBps  uint64
	Reserves *big.Int
	Sources  []string
}

// TreasuryConfig seeds the treasury on first boot.
type TreasuryConfig struct {
	Primary     string
	Fallback    string
	SlippageBps uint64
	FeeTier     uint32
	Deadline    time.Duration
	Recipients  []treasury.Recipient
}

// Config is everything needed to assemble a protocol instance.
type Config struct {
	Admin         common.Address
	Governance    common.Address
	Base          AssetConfig
	Claim         AssetConfig
	Reward        AssetConfig
	Controller    controller.Config
	Strategies    []StrategyConfig
	Routers       []RouterConfig
	Treasury      TreasuryConfig
	RewardFunding *big.Int
	FaucetLimit   *big.Int
}

// DefaultConfig returns a single-strategy deployment with two routers and a
// 60/40 treasury split between the admin and governance.
func DefaultConfig(admin, governance common.Address) Config {
	units := new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil)
	million := new(big.Int).Mul(big.NewInt(1_000_000), units)
	return Config{
		Admin:      admin,
		Governance: governance,
		Base:       AssetConfig{Symbol: "USDC", Decimals: 6},
		Claim:      AssetConfig{Symbol: "DOUGH", Decimals: 6},
		Reward:     AssetConfig{Symbol: "AAVE", Decimals: 6},
		Controller: controller.Config{FeeBps: 0},
		Strategies: []StrategyConfig{{Venue: lending.DefaultConfig(), WeightBps: nativecommon.BasisPoints}},
		Routers: []RouterConfig{
			{Name: "uniswap", Kind: RouterKindPool, PriceNum: big.NewInt(1), PriceDen: big.NewInt(1), Reserves: million},
			{Name: "sushiswap", Kind: RouterKindPool, PriceNum: big.NewInt(1), PriceDen: big.NewInt(1), Reserves: million},
		},
		Treasury: TreasuryConfig{
			Primary:     "uniswap",
			Fallback:    "sushiswap",
			SlippageBps: treasury.DefaultSlippageBps,
			FeeTier:     3_000,
			Deadline:    treasury.DefaultDeadline,
			Recipients:  defaultRecipients(admin, governance),
		},
		RewardFunding: new(big.Int).Set(million),
		FaucetLimit:   new(big.Int).Mul(big.NewInt(100_000), units),
	}
}

func defaultRecipients(admin, governance common.Address) []treasury.Recipient {
	if governance == (common.Address{}) || governance == admin {
		return []treasury.Recipient{{Address: admin, WeightBps: nativecommon.BasisPoints, Label: "operations"}}
	}
	return []treasury.Recipient{
		{Address: admin, WeightBps: 6_000, Label: "operations"},
		{Address: governance, WeightBps: 4_000, Label: "governance"},
	}
}

// Node wires every protocol component over one ledger.
type Node struct {
	db       storage.Database
	ledger   *state.Ledger
	exec     *state.Executor
	registry *access.Registry
	logger   *slog.Logger
	cfg      Config

	base    *token.Token
	claims  *token.Token
	reward  *token.Token
	source  *rewards.Source
	pools   map[string]*lending.Pool
	order   []string
	routers *router.Registry

	splitter   *splitter.StrategySplitter
	treasury   *treasury.TreasurySplitter
	controller *controller.Controller
	vault      *vault.Vault
	hub        *hub.Hub

	faucet common.Address
}

// NewNode assembles the protocol over db. Grants between components are
// installed on every start; the strategy table, treasury setup and venue
// funding are applied only on the first start against an empty ledger.
func NewNode(ctx context.Context, db storage.Database, cfg Config, opts ...state.Option) (*Node, error) {
	if cfg.Admin == (common.Address{}) {
		return nil, errors.New("node: admin address required")
	}
	ledger, err := state.NewLedger(db)
	if err != nil {
		return nil, err
	}
	n := &Node{
		db:     db,
		ledger: ledger,
		exec:   state.NewExecutor(ledger, opts...),
		logger: slog.Default().With(slog.String("component", "node")),
		cfg:    cfg,
		pools:  make(map[string]*lending.Pool),
		faucet: nativecommon.AccountAddress("faucet"),
	}
	n.registry = access.NewRegistry(n.exec)
	if err := n.registry.Bootstrap(ctx, cfg.Admin); err != nil {
		return nil, fmt.Errorf("node: bootstrap admin: %w", err)
	}
	if err := n.buildTokens(ctx); err != nil {
		return nil, err
	}
	if err := n.buildVenues(ctx); err != nil {
		return nil, err
	}
	if err := n.buildProtocol(ctx); err != nil {
		return nil, err
	}
	if err := n.firstBoot(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// SetLogger overrides the node and component loggers.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	n.logger = logger.With(slog.String("component", "node"))
	n.splitter.SetLogger(logger.With(slog.String("component", "splitter")))
	n.treasury.SetLogger(logger.With(slog.String("component", "treasury")))
	n.controller.SetLogger(logger.With(slog.String("component", "controller")))
}

func (n *Node) buildTokens(ctx context.Context) error {
	var err error
	if n.base, err = token.New(n.exec, n.registry, n.cfg.Base.Symbol, n.cfg.Base.Decimals); err != nil {
		return err
	}
	if n.claims, err = token.New(n.exec, n.registry, n.cfg.Claim.Symbol, n.cfg.Claim.Decimals); err != nil {
		return err
	}
	if n.reward, err = token.New(n.exec, n.registry, n.cfg.Reward.Symbol, n.cfg.Reward.Decimals); err != nil {
		return err
	}
	grants := map[string]common.Address{
		token.MinterRole(n.base.Symbol()):   n.faucet,
		token.MinterRole(n.reward.Symbol()): n.faucet,
		token.MinterRole(n.claims.Symbol()): nativecommon.AccountAddress("controller"),
		token.BurnerRole(n.claims.Symbol()): nativecommon.AccountAddress("controller"),
	}
	return n.grantAll(ctx, grants)
}

func (n *Node) grantAll(ctx context.Context, grants map[string]common.Address) error {
	for role, holder := range grants {
		if err := n.registry.GrantInternal(ctx, role, holder); err != nil {
			return fmt.Errorf("node: grant %s: %w", role, err)
		}
	}
	return nil
}

func (n *Node) buildVenues(ctx context.Context) error {
	n.source = rewards.NewSource(n.exec, n.registry, "incentives", n.reward)
	for _, sc := range n.cfg.Strategies {
		pool, err := lending.NewPool(n.exec, n.base, sc.Venue)
		if err != nil {
			return fmt.Errorf("node: lending venue %s: %w", sc.Venue.Name, err)
		}
		if _, dup := n.pools[pool.Name()]; dup {
			return fmt.Errorf("node: duplicate lending venue %q", pool.Name())
		}
		n.pools[pool.Name()] = pool
		n.order = append(n.order, pool.Name())
	}
	n.routers = router.NewRegistry()
	for _, rc := range n.cfg.Routers {
		if rc.Kind == RouterKindAggregator {
			continue
		}
		n.routers.Register(router.NewPoolRouter(n.exec, n.registry, rc.Name, n.base, n.reward))
	}
	for _, rc := range n.cfg.Routers {
		if rc.Kind != RouterKindAggregator {
			continue
		}
		sources := make([]router.Router, 0, len(rc.Sources))
		for _, name := range rc.Sources {
			src, ok := n.routers.Get(name)
			if !ok {
				return fmt.Errorf("node: aggregator %s: unknown source %q", rc.Name, name)
			}
			sources = append(sources, src)
		}
		n.routers.Register(router.NewAggregator(n.exec, rc.Name, sources, n.base, n.reward))
	}
	return nil
}

func (n *Node) buildProtocol(ctx context.Context) error {
	n.splitter = splitter.New(n.exec, n.registry, n.base)
	n.splitter.RegisterRewardToken(n.reward)
	grants := make(map[string]common.Address)
	for _, name := range n.order {
		pool := n.pools[name]
		adapter, err := strategy.NewLendingStrategy(n.exec, n.registry, pool.Name(), n.base, pool, n.source)
		if err != nil {
			return err
		}
		n.splitter.Register(adapter)
		grants[strategy.OperatorRole(adapter.ID())] = n.splitter.Account()
	}

	n.treasury = treasury.New(n.exec, n.registry, n.routers, n.base)
	n.treasury.RegisterToken(n.reward)
	n.treasury.SetDeadline(n.cfg.Treasury.Deadline)

	var err error
	if n.controller, err = controller.New(n.exec, n.registry, n.claims, n.splitter, n.treasury, n.cfg.Controller); err != nil {
		return err
	}
	n.vault = vault.New(n.exec, n.registry, n.base, n.controller, n.splitter, n.treasury)
	n.hub = hub.New(n.exec, n.registry, n.vault, n.controller, n.splitter, n.treasury)

	grants[splitter.DepositorRole] = n.vault.Account()
	grants[splitter.HarvesterRole] = n.controller.Account()
	grants[treasury.OperatorRole] = n.controller.Account()
	if err := n.grantAll(ctx, grants); err != nil {
		return err
	}
	// The vault grant is admin-revocable, so it is only seeded once.
	if _, ok, err := n.controller.Vault(); err != nil {
		return err
	} else if !ok {
		if err := n.registry.GrantInternal(ctx, controller.VaultRole, n.vault.Account()); err != nil {
			return err
		}
	}
	if n.cfg.Governance != (common.Address{}) {
		if _, ok, err := n.registry.Holder(access.RoleGovernance); err != nil {
			return err
		} else if !ok {
			return n.registry.GrantInternal(ctx, access.RoleGovernance, n.cfg.Governance)
		}
	}
	return nil
}

func (n *Node) firstBoot(ctx context.Context) error {
	return n.exec.Run(ctx, "node.first_boot", func(ctx context.Context) error {
		if _, done, err := n.ledger.Get(bootstrapKey); err != nil || done {
			return err
		}
		admin := n.cfg.Admin
		for _, rc := range n.cfg.Routers {
			if rc.Kind == RouterKindAggregator {
				continue
			}
			venue, _ := n.routers.Get(rc.Name)
			pool := venue.(*router.PoolRouter)
			num, den := rc.PriceNum, rc.PriceDen
			if num == nil || den == nil {
				num, den = big.NewInt(1), big.NewInt(1)
			}
			if err := pool.SetPrice(ctx, admin, n.reward.Address(), n.base.Address(), num, den); err != nil {
				return err
			}
			if rc.SkewBps > 0 {
				if err := pool.SetExecutionSkew(ctx, admin, rc.SkewBps); err != nil {
					return err
				}
			}
			if rc.Reserves != nil && rc.Reserves.Sign() > 0 {
				if err := n.base.Mint(ctx, n.faucet, pool.Account(), rc.Reserves); err != nil {
					return err
				}
			}
		}
		if n.cfg.RewardFunding != nil && n.cfg.RewardFunding.Sign() > 0 {
			if err := n.reward.Mint(ctx, n.faucet, n.source.Account(), n.cfg.RewardFunding); err != nil {
				return err
			}
		}

		allocations := make([]splitter.Allocation, 0, len(n.cfg.Strategies))
		for i, sc := range n.cfg.Strategies {
			id := n.order[i]
			allocations = append(allocations, splitter.Allocation{StrategyID: id, WeightBps: sc.WeightBps})
			if sc.EmissionPerSecond != nil && sc.EmissionPerSecond.Sign() > 0 {
				adapter, _ := n.splitter.Adapter(id)
				if err := n.source.SetEmission(ctx, admin, adapter.Account(), sc.EmissionPerSecond); err != nil {
					return err
				}
			}
		}
		if err := n.splitter.SetStrategies(ctx, admin, allocations); err != nil {
			return fmt.Errorf("node: strategy table: %w", err)
		}

		tc := n.cfg.Treasury
		if tc.Primary != "" {
			if err := n.treasury.SetRouters(ctx, admin, tc.Primary, tc.Fallback); err != nil {
				return err
			}
			path, err := router.EncodePath([]common.Address{n.reward.Address(), n.base.Address()}, []uint32{tc.FeeTier})
			if err != nil {
				return err
			}
			if err := n.treasury.SetPath(ctx, admin, n.reward.Address(), path); err != nil {
				return err
			}
		}
		if tc.SlippageBps != treasury.DefaultSlippageBps {
			if err := n.treasury.SetSlippageBps(ctx, admin, tc.SlippageBps); err != nil {
				return err
			}
		}
		if len(tc.Recipients) > 0 {
			if err := n.treasury.SetRecipients(ctx, admin, tc.Recipients); err != nil {
				return fmt.Errorf("node: treasury recipients: %w", err)
			}
		}
		n.logger.Info("protocol bootstrapped",
			slog.String("base", n.base.Symbol()),
			slog.String("claim", n.claims.Symbol()),
			slog.Int("strategies", len(allocations)))
		return n.ledger.Put(bootstrapKey, []byte{1})
	})
}

func (n *Node) Executor() *state.Executor            { return n.exec }
func (n *Node) Ledger() *state.Ledger                { return n.ledger }
func (n *Node) Registry() *access.Registry           { return n.registry }
func (n *Node) Hub() *hub.Hub                        { return n.hub }
func (n *Node) Vault() *vault.Vault                  { return n.vault }
func (n *Node) Controller() *controller.Controller   { return n.controller }
func (n *Node) Splitter() *splitter.StrategySplitter { return n.splitter }
func (n *Node) Treasury() *treasury.TreasurySplitter { return n.treasury }
func (n *Node) Routers() *router.Registry            { return n.routers }
func (n *Node) RewardSource() *rewards.Source        { return n.source }
func (n *Node) BaseToken() *token.Token              { return n.base }
func (n *Node) ClaimToken() *token.Token             { return n.claims }
func (n *Node) RewardToken() *token.Token            { return n.reward }

// Pool returns the lending venue registered under name.
func (n *Node) Pool(name string) (*lending.Pool, bool) {
	pool, ok := n.pools[nativecommon.NormalizeLabel(name)]
	return pool, ok
}

// Faucet mints mock base asset to `to`, bounded by the configured limit.
func (n *Node) Faucet(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	if limit := n.cfg.FaucetLimit; limit != nil && amount.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrFaucetLimit, amount, limit)
	}
	return n.base.Mint(ctx, n.faucet, to, amount)
}

// Close releases the storage engine.
func (n *Node) Close() error {
	return n.db.Close()
}
