// Package controller owns the claim token. It mints claims for deposits net
// of the protocol fee, burns them on redemption and drives harvests into the
// treasury.
package controller

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
	"dough/native/splitter"
	"dough/native/token"
	"dough/native/treasury"
)

const (
	// VaultRole names the single delegate allowed to mint and burn.
	VaultRole = "controller.vault"
	// ModuleName is the pause flag checked by harvests.
	ModuleName = "controller"
)

var (
	ErrEmergencyBurnDisabled = nativecommon.NewError(nativecommon.ErrAuthorization, "controller: emergency burn disabled")
	ErrFeesExceeded          = nativecommon.NewError(nativecommon.ErrValidation, "controller: settlement exceeds accrued fees")

	recordKey = state.Key("controller", []byte("record"))
)

// Config carries the deployment choices of the controller.
type Config struct {
	FeeBps             uint64 `yaml:"fee_bps"`
	AllowEmergencyBurn bool   `yaml:"allow_emergency_burn"`
}

type record struct {
	FeeBps           uint64
	CumulativeMinted *big.Int
	CumulativeBurned *big.Int
	FeesAccrued      *big.Int
	FeesReleased     *big.Int
}

func (r *record) normalise() {
	for _, v := range []**big.Int{&r.CumulativeMinted, &r.CumulativeBurned, &r.FeesAccrued, &r.FeesReleased} {
		if *v == nil {
			*v = big.NewInt(0)
		}
	}
}

// Totals is the reporting view of the controller ledger.
type Totals struct {
	FeeBps           uint64
	CumulativeMinted *big.Int
	CumulativeBurned *big.Int
	FeesAccrued      *big.Int
	FeesReleased     *big.Int
	ClaimSupply      *big.Int
}

// HarvestResult combines the splitter report with the treasury payouts.
type HarvestResult struct {
	Report        *splitter.HarvestReport
	Distributions []*treasury.Distribution
}

// Controller mints and burns claims on behalf of the vault.
type Controller struct {
	exec     *state.Executor
	ledger   *state.Ledger
	registry *access.Registry
	claims   token.Mintable
	splitter *splitter.StrategySplitter
	treasury *treasury.TreasurySplitter
	account  common.Address
	cfg      Config
	logger   *slog.Logger
}

// New constructs a controller. The fee in cfg is only the initial value;
// later changes go through SetFeeBps.
func New(exec *state.Executor, registry *access.Registry, claims token.Mintable, strategies *splitter.StrategySplitter, treasurer *treasury.TreasurySplitter, cfg Config) (*Controller, error) {
	if cfg.FeeBps > nativecommon.BasisPoints {
		return nil, fmt.Errorf("%w: %d", nativecommon.ErrInvalidFee, cfg.FeeBps)
	}
	return &Controller{
		exec:     exec,
		ledger:   exec.Ledger(),
		registry: registry,
		claims:   claims,
		splitter: strategies,
		treasury: treasurer,
		account:  nativecommon.AccountAddress("controller"),
		cfg:      cfg,
		logger:   slog.Default().With(slog.String("component", "controller")),
	}, nil
}

func (c *Controller) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Account is the address holding the claim token's mint and burn grants.
func (c *Controller) Account() common.Address { return c.account }

// Claims returns the claim token.
func (c *Controller) Claims() token.Mintable { return c.claims }

func (c *Controller) load() (*record, error) {
	rec := &record{FeeBps: c.cfg.FeeBps}
	if _, err := c.ledger.GetRLP(recordKey, rec); err != nil {
		return nil, err
	}
	rec.normalise()
	return rec, nil
}

func (c *Controller) store(rec *record) error {
	return c.ledger.PutRLP(recordKey, rec)
}

// FeeBps returns the current mint fee.
func (c *Controller) FeeBps() (uint64, error) {
	rec, err := c.load()
	if err != nil {
		return 0, err
	}
	return rec.FeeBps, nil
}

// FeesAccrued returns fees owed to the treasury and not yet released.
func (c *Controller) FeesAccrued() (*big.Int, error) {
	rec, err := c.load()
	if err != nil {
		return nil, err
	}
	return rec.FeesAccrued, nil
}

// Totals reports the cumulative figures.
func (c *Controller) Totals() (*Totals, error) {
	rec, err := c.load()
	if err != nil {
		return nil, err
	}
	supply, err := c.claims.TotalSupply()
	if err != nil {
		return nil, err
	}
	return &Totals{
		FeeBps:           rec.FeeBps,
		CumulativeMinted: rec.CumulativeMinted,
		CumulativeBurned: rec.CumulativeBurned,
		FeesAccrued:      rec.FeesAccrued,
		FeesReleased:     rec.FeesReleased,
		ClaimSupply:      supply,
	}, nil
}

// MintFor mints claims for collateral deposited on behalf of account. The
// fee stays in the vault as protocol-owned surplus. Vault only.
func (c *Controller) MintFor(ctx context.Context, caller, account common.Address, collateral *big.Int) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(collateral); err != nil {
		return nil, err
	}
	var minted *big.Int
	err := c.exec.Run(ctx, "controller.mint_for", func(ctx context.Context) error {
		if err := c.registry.Require(VaultRole, caller); err != nil {
			return err
		}
		rec, err := c.load()
		if err != nil {
			return err
		}
		fee := nativecommon.ApplyBps(collateral, rec.FeeBps)
		minted = new(big.Int).Sub(collateral, fee)
		if minted.Sign() > 0 {
			if err := c.claims.Mint(ctx, c.account, account, minted); err != nil {
				return err
			}
		}
		rec.FeesAccrued.Add(rec.FeesAccrued, fee)
		rec.CumulativeMinted.Add(rec.CumulativeMinted, minted)
		if err := c.store(rec); err != nil {
			return err
		}
		c.ledger.Emit(events.ClaimsMinted{Account: account, Gross: collateral, Fee: fee, Minted: minted})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// BurnFor burns claims held by account. No fee applies. Vault only.
func (c *Controller) BurnFor(ctx context.Context, caller, account common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return c.exec.Run(ctx, "controller.burn_for", func(ctx context.Context) error {
		if err := c.registry.Require(VaultRole, caller); err != nil {
			return err
		}
		return c.burn(ctx, account, amount, false)
	})
}

func (c *Controller) burn(ctx context.Context, account common.Address, amount *big.Int, emergency bool) error {
	rec, err := c.load()
	if err != nil {
		return err
	}
	if err := c.claims.Burn(ctx, c.account, account, amount); err != nil {
		return err
	}
	rec.CumulativeBurned.Add(rec.CumulativeBurned, amount)
	if err := c.store(rec); err != nil {
		return err
	}
	c.ledger.Emit(events.ClaimsBurned{Account: account, Amount: amount, Emergency: emergency})
	return nil
}

// EmergencyBurn destroys claims without a payout. It is only available
// when the deployment enables it, and only to governance.
func (c *Controller) EmergencyBurn(ctx context.Context, caller, account common.Address, amount *big.Int) error {
	if !c.cfg.AllowEmergencyBurn {
		return ErrEmergencyBurnDisabled
	}
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return c.exec.Run(ctx, "controller.emergency_burn", func(ctx context.Context) error {
		if err := c.registry.Require(access.RoleGovernance, caller); err != nil {
			return err
		}
		c.logger.Warn("emergency burn", slog.String("account", account.Hex()), slog.String("amount", amount.String()))
		return c.burn(ctx, account, amount, true)
	})
}

// SetFeeBps updates the mint fee. 10000 is legal.
func (c *Controller) SetFeeBps(ctx context.Context, caller common.Address, feeBps uint64) error {
	if feeBps > nativecommon.BasisPoints {
		return fmt.Errorf("%w: %d", nativecommon.ErrInvalidFee, feeBps)
	}
	return c.exec.Run(ctx, "controller.set_fee", func(ctx context.Context) error {
		if err := c.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		rec, err := c.load()
		if err != nil {
			return err
		}
		prev := rec.FeeBps
		rec.FeeBps = feeBps
		if err := c.store(rec); err != nil {
			return err
		}
		c.ledger.Emit(events.FeeUpdated{Previous: prev, Current: feeBps})
		return nil
	})
}

// GrantVault names the vault delegate, replacing any previous one.
func (c *Controller) GrantVault(ctx context.Context, caller, vault common.Address) error {
	return c.registry.Grant(ctx, caller, VaultRole, vault)
}

// RevokeVault clears the vault delegate.
func (c *Controller) RevokeVault(ctx context.Context, caller common.Address) error {
	return c.registry.Revoke(ctx, caller, VaultRole)
}

// Vault returns the current vault delegate.
func (c *Controller) Vault() (common.Address, bool, error) {
	return c.registry.Holder(VaultRole)
}

// Harvest collects rewards from every strategy into the treasury and swaps
// them for distribution. Anyone may call it. A failed swap reverts the whole
// harvest, leaving the rewards in the strategies.
func (c *Controller) Harvest(ctx context.Context, caller common.Address) (*HarvestResult, error) {
	result := new(HarvestResult)
	err := c.exec.Run(ctx, "controller.harvest", func(ctx context.Context) error {
		if err := nativecommon.Guard(c.registry, ModuleName); err != nil {
			return err
		}
		report, err := c.splitter.Harvest(ctx, c.account, c.treasury.Account())
		if err != nil {
			return err
		}
		result.Report = report
		tokens := make([]common.Address, 0, len(report.Rewards))
		for tok := range report.Rewards {
			tokens = append(tokens, tok)
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i].Cmp(tokens[j]) < 0 })
		for _, tok := range tokens {
			d, err := c.treasury.SwapAndDistribute(ctx, tok, report.Rewards[tok])
			if err != nil {
				return err
			}
			result.Distributions = append(result.Distributions, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("harvest complete", slog.String("caller", caller.Hex()), slog.Int("distributions", len(result.Distributions)))
	for _, failure := range result.Report.Failures {
		c.logger.Warn("strategy harvest failed", slog.String("strategy", failure.StrategyID), slog.String("error", failure.Err.Error()))
	}
	return result, nil
}

// SettleFees records that amount of accrued fees reached the treasury and
// distributes it. Vault only.
func (c *Controller) SettleFees(ctx context.Context, caller common.Address, amount *big.Int) (*treasury.Distribution, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	var out *treasury.Distribution
	err := c.exec.Run(ctx, "controller.settle_fees", func(ctx context.Context) error {
		if err := c.registry.Require(VaultRole, caller); err != nil {
			return err
		}
		rec, err := c.load()
		if err != nil {
			return err
		}
		if rec.FeesAccrued.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s > %s", ErrFeesExceeded, amount, rec.FeesAccrued)
		}
		rec.FeesAccrued.Sub(rec.FeesAccrued, amount)
		rec.FeesReleased.Add(rec.FeesReleased, amount)
		if err := c.store(rec); err != nil {
			return err
		}
		if out, err = c.treasury.Distribute(ctx, c.account, amount); err != nil {
			return err
		}
		c.ledger.Emit(events.FeesSettled{Amount: amount, Remaining: new(big.Int).Set(rec.FeesAccrued)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
