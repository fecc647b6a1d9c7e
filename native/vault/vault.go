// Package vault takes custody of the base asset. Deposits mint claims through
// the controller and are forwarded to the strategy splitter; redemptions pay
// out pro rata against redeemable backing.
package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/events"
	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/controller"
	"dough/native/splitter"
	"dough/native/token"
	"dough/native/treasury"
)

// ModuleName is the pause flag checked by deposits and redemptions.
const ModuleName = "vault"

var recordKey = state.Key("vault", []byte("record"))

type record struct {
	TotalCollateral *big.Int
}

// Totals is the vault's persisted view.
type Totals struct {
	TotalCollateral *big.Int
	TotalClaims     *big.Int
}

// Breakdown splits live assets into what claim holders can redeem and what
// belongs to the protocol.
type Breakdown struct {
	LiveAssets    *big.Int
	TotalClaims   *big.Int
	Redeemable    *big.Int
	NonRedeemable *big.Int
	FeesAccrued   *big.Int
	Treasury      *big.Int
}

// Vault holds collateral on behalf of claim holders.
type Vault struct {
	exec       *state.Executor
	ledger     *state.Ledger
	registry   *access.Registry
	asset      token.Asset
	controller *controller.Controller
	splitter   *splitter.StrategySplitter
	treasury   *treasury.TreasurySplitter
	account    common.Address
}

// New constructs the vault.
func New(exec *state.Executor, registry *access.Registry, asset token.Asset, ctrl *controller.Controller, strategies *splitter.StrategySplitter, treasurer *treasury.TreasurySplitter) *Vault {
	return &Vault{
		exec:       exec,
		ledger:     exec.Ledger(),
		registry:   registry,
		asset:      asset,
		controller: ctrl,
		splitter:   strategies,
		treasury:   treasurer,
		account:    nativecommon.AccountAddress("vault"),
	}
}

// Account is the address users approve before depositing.
func (v *Vault) Account() common.Address { return v.account }

// Asset is the base collateral the vault holds.
func (v *Vault) Asset() token.Asset { return v.asset }

func (v *Vault) load() (*record, error) {
	rec := new(record)
	if _, err := v.ledger.GetRLP(recordKey, rec); err != nil {
		return nil, err
	}
	if rec.TotalCollateral == nil {
		rec.TotalCollateral = big.NewInt(0)
	}
	return rec, nil
}

// Totals returns collateral under custody and outstanding claims.
func (v *Vault) Totals() (*Totals, error) {
	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	claims, err := v.controller.Claims().TotalSupply()
	if err != nil {
		return nil, err
	}
	return &Totals{TotalCollateral: rec.TotalCollateral, TotalClaims: claims}, nil
}

// LiveAssets is the vault's idle balance plus everything the splitter
// reports.
func (v *Vault) LiveAssets(ctx context.Context) (*big.Int, error) {
	idle, err := v.asset.BalanceOf(v.account)
	if err != nil {
		return nil, err
	}
	deployed, err := v.splitter.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	return idle.Add(idle, deployed), nil
}

// Breakdown reports redeemable and protocol-owned backing.
func (v *Vault) Breakdown(ctx context.Context) (*Breakdown, error) {
	live, err := v.LiveAssets(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := v.controller.Claims().TotalSupply()
	if err != nil {
		return nil, err
	}
	fees, err := v.controller.FeesAccrued()
	if err != nil {
		return nil, err
	}
	held, err := v.treasury.Balance(v.asset.Address())
	if err != nil {
		return nil, err
	}
	redeemable := nativecommon.MinBig(claims, live)
	return &Breakdown{
		LiveAssets:    live,
		TotalClaims:   claims,
		Redeemable:    redeemable,
		NonRedeemable: new(big.Int).Sub(live, redeemable),
		FeesAccrued:   fees,
		Treasury:      held,
	}, nil
}

// Deposit takes amount of the base asset from caller, mints claims net of
// the fee and forwards the vault's idle balance to the strategies.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	var minted *big.Int
	err := v.exec.Run(ctx, "vault.deposit", func(ctx context.Context) error {
		if err := nativecommon.Guard(v.registry, ModuleName); err != nil {
			return err
		}
		allowance, err := v.asset.Allowance(caller, v.account)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("vault: %w: %s < %s", nativecommon.ErrInsufficientAllowance, allowance, amount)
		}
		if err := v.asset.TransferFrom(ctx, v.account, caller, v.account, amount); err != nil {
			return err
		}
		if minted, err = v.controller.MintFor(ctx, v.account, caller, amount); err != nil {
			return err
		}
		rec, err := v.load()
		if err != nil {
			return err
		}
		rec.TotalCollateral.Add(rec.TotalCollateral, amount)
		if err := v.ledger.PutRLP(recordKey, rec); err != nil {
			return err
		}
		idle, err := v.asset.BalanceOf(v.account)
		if err != nil {
			return err
		}
		if idle.Sign() > 0 {
			if err := v.asset.Transfer(ctx, v.account, v.splitter.Account(), idle); err != nil {
				return err
			}
			if err := v.splitter.Allocate(ctx, v.account, idle); err != nil {
				return err
			}
		}
		v.ledger.Emit(events.Deposited{Account: caller, Collateral: amount, Minted: minted})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Quote returns the payout claimAmount would receive now.
func (v *Vault) Quote(ctx context.Context, claimAmount *big.Int) (*big.Int, error) {
	claims, err := v.controller.Claims().TotalSupply()
	if err != nil {
		return nil, err
	}
	if claims.Sign() == 0 || claimAmount == nil || claimAmount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	live, err := v.LiveAssets(ctx)
	if err != nil {
		return nil, err
	}
	payout := new(big.Int).Mul(claimAmount, nativecommon.MinBig(claims, live))
	return payout.Quo(payout, claims), nil
}

// Redeem burns claimAmount of caller's claims and pays out its share of the
// redeemable backing. The payout is all or nothing.
func (v *Vault) Redeem(ctx context.Context, caller common.Address, claimAmount *big.Int) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(claimAmount); err != nil {
		return nil, err
	}
	var payout *big.Int
	err := v.exec.Run(ctx, "vault.redeem", func(ctx context.Context) error {
		if err := nativecommon.Guard(v.registry, ModuleName); err != nil {
			return err
		}
		held, err := v.controller.Claims().BalanceOf(caller)
		if err != nil {
			return err
		}
		if held.Cmp(claimAmount) < 0 {
			return fmt.Errorf("vault: %w: holds %s claims, redeeming %s", nativecommon.ErrInsufficientBalance, held, claimAmount)
		}
		if payout, err = v.Quote(ctx, claimAmount); err != nil {
			return err
		}
		idle, err := v.asset.BalanceOf(v.account)
		if err != nil {
			return err
		}
		pulled := big.NewInt(0)
		if payout.Cmp(idle) > 0 {
			short := new(big.Int).Sub(payout, idle)
			if pulled, err = v.splitter.Withdraw(ctx, v.account, short, v.account); err != nil {
				return err
			}
			if pulled.Cmp(short) < 0 {
				return fmt.Errorf("vault: %w: strategies returned %s of %s", nativecommon.ErrInsufficientLiquidity, pulled, short)
			}
		}
		if err := v.controller.BurnFor(ctx, v.account, caller, claimAmount); err != nil {
			return err
		}
		if payout.Sign() > 0 {
			if err := v.payOut(ctx, caller, payout); err != nil {
				return err
			}
		}
		v.ledger.Emit(events.Redeemed{Account: caller, Claims: claimAmount, Payout: payout, Pulled: pulled})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (v *Vault) payOut(ctx context.Context, to common.Address, amount *big.Int) error {
	before, err := v.asset.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := v.asset.Transfer(ctx, v.account, to, amount); err != nil {
		return err
	}
	after, err := v.asset.BalanceOf(to)
	if err != nil {
		return err
	}
	if delta := after.Sub(after, before); delta.Cmp(amount) != 0 {
		return nativecommon.External(v.asset.Symbol(), fmt.Errorf("paid %s, recipient credited %s", amount, delta))
	}
	return v.debit(amount)
}

func (v *Vault) debit(amount *big.Int) error {
	rec, err := v.load()
	if err != nil {
		return err
	}
	rec.TotalCollateral.Sub(rec.TotalCollateral, nativecommon.MinBig(amount, rec.TotalCollateral))
	return v.ledger.PutRLP(recordKey, rec)
}

// ReleaseFees moves accrued fees that are covered by surplus backing to the
// treasury and has the controller distribute them. Anyone may call it; it
// returns zero when nothing is releasable.
func (v *Vault) ReleaseFees(ctx context.Context) (*treasury.Distribution, error) {
	var out *treasury.Distribution
	err := v.exec.Run(ctx, "vault.release_fees", func(ctx context.Context) error {
		fees, err := v.controller.FeesAccrued()
		if err != nil {
			return err
		}
		live, err := v.LiveAssets(ctx)
		if err != nil {
			return err
		}
		claims, err := v.controller.Claims().TotalSupply()
		if err != nil {
			return err
		}
		surplus := new(big.Int).Sub(live, claims)
		if surplus.Sign() <= 0 || fees.Sign() == 0 {
			return nil
		}
		releasable := nativecommon.MinBig(fees, surplus)
		idle, err := v.asset.BalanceOf(v.account)
		if err != nil {
			return err
		}
		fromIdle := nativecommon.MinBig(idle, releasable)
		if fromIdle.Sign() > 0 {
			if err := v.asset.Transfer(ctx, v.account, v.treasury.Account(), fromIdle); err != nil {
				return err
			}
		}
		if rest := new(big.Int).Sub(releasable, fromIdle); rest.Sign() > 0 {
			got, err := v.splitter.Withdraw(ctx, v.account, rest, v.treasury.Account())
			if err != nil {
				return err
			}
			if got.Cmp(rest) < 0 {
				return fmt.Errorf("vault: %w: strategies returned %s of %s fees", nativecommon.ErrInsufficientLiquidity, got, rest)
			}
		}
		if err := v.debit(releasable); err != nil {
			return err
		}
		out, err = v.controller.SettleFees(ctx, v.account, releasable)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &treasury.Distribution{Token: v.asset.Address(), AmountIn: big.NewInt(0), Proceeds: big.NewInt(0)}
	}
	return out, nil
}

// Position returns the claims addr holds and what they are worth.
func (v *Vault) Position(ctx context.Context, addr common.Address) (claims, value *big.Int, err error) {
	if claims, err = v.controller.Claims().BalanceOf(addr); err != nil {
		return nil, nil, err
	}
	if value, err = v.Quote(ctx, claims); err != nil {
		return nil, nil, err
	}
	return claims, value, nil
}
