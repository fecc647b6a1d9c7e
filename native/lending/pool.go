// Package lending implements the reference lending venue that strategies
// supply collateral to. Suppliers hold shares of a growing liquidity pool;
// borrowers hold shares of growing debt. The venue has no collateral or
// liquidation logic, borrowing only exists to drive utilisation.
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	nativecommon "dough/native/common"
	"dough/native/token"
)

var (
	errNilAsset         = errors.New("lending pool: asset not configured")
	errInsufficientCash = nativecommon.NewError(nativecommon.ErrLiquidity, "lending pool: insufficient cash")
	errNoDebt           = nativecommon.NewError(nativecommon.ErrValidation, "lending pool: no outstanding debt")
)

// Pool is a single-asset lending venue.
type Pool struct {
	name    string
	exec    *state.Executor
	ledger  *state.Ledger
	asset   token.Asset
	model   *InterestModel
	reserve uint64
	account common.Address
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewPool constructs a venue lending asset under cfg.
func NewPool(exec *state.Executor, asset token.Asset, cfg Config) (*Pool, error) {
	if asset == nil {
		return nil, errNilAsset
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := nativecommon.NormalizeLabel(cfg.Name)
	if name == "" {
		name = "lending"
	}
	return &Pool{
		name:    name,
		exec:    exec,
		ledger:  exec.Ledger(),
		asset:   asset,
		model:   cfg.Model(),
		reserve: cfg.ReserveFactorBps,
		account: nativecommon.AccountAddress("lending/" + name),
		logger:  slog.Default(),
		nowFn:   time.Now,
	}, nil
}

// SetNowFunc overrides the clock, used by tests to move time forward.
func (p *Pool) SetNowFunc(now func() time.Time) {
	if now != nil {
		p.nowFn = now
	}
}

// SetLogger overrides the default logger.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *Pool) Name() string             { return p.name }
func (p *Pool) Account() common.Address  { return p.account }
func (p *Pool) Asset() token.Asset       { return p.asset }
func (p *Pool) Model() *InterestModel    { return p.model }
func (p *Pool) ReserveFactorBps() uint64 { return p.reserve }

func (p *Pool) marketKey() []byte {
	return state.Key("lending", []byte(p.name), []byte("market"))
}

func (p *Pool) supplyKey(holder common.Address) []byte {
	return state.Key("lending", []byte(p.name), []byte("supply"), holder.Bytes())
}

func (p *Pool) debtKey(holder common.Address) []byte {
	return state.Key("lending", []byte(p.name), []byte("debt"), holder.Bytes())
}

func (p *Pool) now() uint64 {
	ts := p.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (p *Pool) loadMarket() (*Market, error) {
	market := new(Market)
	ok, err := p.ledger.GetRLP(p.marketKey(), market)
	if err != nil {
		return nil, err
	}
	if !ok {
		market = &Market{LastAccrual: p.now()}
	}
	market.normalise()
	return market, nil
}

// accrue brings market up to now without persisting it.
func (p *Pool) accrue(market *Market) {
	now := p.now()
	if now <= market.LastAccrual {
		return
	}
	delta := now - market.LastAccrual
	market.LastAccrual = now
	if market.TotalBorrowed.Sign() == 0 {
		return
	}
	rate := p.model.BorrowAPR(market.TotalBorrowed, market.TotalSupplied)
	interest := computeInterest(market.TotalBorrowed, rate, delta)
	if interest.Sign() == 0 {
		return
	}
	reserveShare := nativecommon.ApplyBps(interest, p.reserve)
	market.TotalBorrowed.Add(market.TotalBorrowed, interest)
	market.TotalSupplied.Add(market.TotalSupplied, new(big.Int).Sub(interest, reserveShare))
	market.Reserves.Add(market.Reserves, reserveShare)
}

// Market returns the venue state accrued to now.
func (p *Pool) Market() (*Market, error) {
	market, err := p.loadMarket()
	if err != nil {
		return nil, err
	}
	p.accrue(market)
	return market, nil
}

// BalanceOf reports holder's supplied balance including accrued interest.
func (p *Pool) BalanceOf(holder common.Address) (*big.Int, error) {
	market, err := p.Market()
	if err != nil {
		return nil, err
	}
	shares, err := p.ledger.GetBig(p.supplyKey(holder))
	if err != nil {
		return nil, err
	}
	return assetsFor(shares, market.TotalSupplied, market.TotalSupplyShares), nil
}

// DebtOf reports holder's outstanding debt including accrued interest.
func (p *Pool) DebtOf(holder common.Address) (*big.Int, error) {
	market, err := p.Market()
	if err != nil {
		return nil, err
	}
	shares, err := p.ledger.GetBig(p.debtKey(holder))
	if err != nil {
		return nil, err
	}
	debt := assetsFor(shares, market.TotalBorrowed, market.TotalDebtShares)
	if shares.Sign() > 0 && market.TotalDebtShares.Sign() > 0 {
		// Round debt up so repaying the reported figure always clears it.
		rem := new(big.Int).Mul(shares, market.TotalBorrowed)
		if rem.Mod(rem, market.TotalDebtShares).Sign() != 0 {
			debt.Add(debt, big.NewInt(1))
		}
	}
	return debt, nil
}

// SupplyAPYBps returns the current supply rate in basis points.
func (p *Pool) SupplyAPYBps() (uint64, error) {
	market, err := p.Market()
	if err != nil {
		return 0, err
	}
	return ratToBps(p.model.SupplyAPY(market.TotalBorrowed, market.TotalSupplied, p.reserve)), nil
}

// BorrowAPRBps returns the current borrow rate in basis points.
func (p *Pool) BorrowAPRBps() (uint64, error) {
	market, err := p.Market()
	if err != nil {
		return 0, err
	}
	return ratToBps(p.model.BorrowAPR(market.TotalBorrowed, market.TotalSupplied)), nil
}

// Supply pulls amount from `from` (which must have approved the venue) and
// credits supply shares.
func (p *Pool) Supply(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return p.exec.Atomic(ctx, "lending.supply", func(ctx context.Context) error {
		market, err := p.Market()
		if err != nil {
			return err
		}
		if err := p.asset.TransferFrom(ctx, p.account, from, p.account, amount); err != nil {
			return err
		}
		minted := sharesFor(amount, market.TotalSupplied, market.TotalSupplyShares)
		if minted.Sign() == 0 {
			return fmt.Errorf("lending pool: %w: amount below one share", nativecommon.ErrValidation)
		}
		if err := p.addShares(p.supplyKey(from), minted); err != nil {
			return err
		}
		market.TotalSupplied.Add(market.TotalSupplied, amount)
		market.TotalSupplyShares.Add(market.TotalSupplyShares, minted)
		return p.ledger.PutRLP(p.marketKey(), market)
	})
}

// Withdraw returns up to amount of holder's supplied balance to `to`. The
// venue pays out no more than the position and its cash allow; the actual
// amount is returned.
func (p *Pool) Withdraw(ctx context.Context, holder, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	var paid *big.Int
	err := p.exec.Atomic(ctx, "lending.withdraw", func(ctx context.Context) error {
		market, err := p.Market()
		if err != nil {
			return err
		}
		shares, err := p.ledger.GetBig(p.supplyKey(holder))
		if err != nil {
			return err
		}
		balance := assetsFor(shares, market.TotalSupplied, market.TotalSupplyShares)
		want := nativecommon.MinBig(amount, balance)
		want = nativecommon.MinBig(want, market.Cash())
		if want.Sign() == 0 {
			paid = big.NewInt(0)
			return nil
		}
		burn := sharesForUp(want, market.TotalSupplied, market.TotalSupplyShares)
		if burn.Cmp(shares) > 0 || want.Cmp(balance) == 0 {
			burn = shares
		}
		if err := p.ledger.PutBig(p.supplyKey(holder), new(big.Int).Sub(shares, burn)); err != nil {
			return err
		}
		market.TotalSupplied.Sub(market.TotalSupplied, want)
		market.TotalSupplyShares.Sub(market.TotalSupplyShares, burn)
		if market.TotalSupplyShares.Sign() == 0 && market.TotalSupplied.Sign() > 0 {
			// Dust left by rounding belongs to the reserves once no supplier remains.
			market.Reserves.Add(market.Reserves, market.TotalSupplied)
			market.TotalSupplied.SetInt64(0)
		}
		if err := p.ledger.PutRLP(p.marketKey(), market); err != nil {
			return err
		}
		if err := p.asset.Transfer(ctx, p.account, to, want); err != nil {
			return err
		}
		paid = want
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Borrow lends amount of cash to borrower.
func (p *Pool) Borrow(ctx context.Context, borrower common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return p.exec.Atomic(ctx, "lending.borrow", func(ctx context.Context) error {
		market, err := p.Market()
		if err != nil {
			return err
		}
		if market.Cash().Cmp(amount) < 0 {
			return errInsufficientCash
		}
		minted := sharesForUp(amount, market.TotalBorrowed, market.TotalDebtShares)
		if err := p.addShares(p.debtKey(borrower), minted); err != nil {
			return err
		}
		market.TotalBorrowed.Add(market.TotalBorrowed, amount)
		market.TotalDebtShares.Add(market.TotalDebtShares, minted)
		if err := p.ledger.PutRLP(p.marketKey(), market); err != nil {
			return err
		}
		p.logger.Debug("lending borrow", slog.String("venue", p.name), slog.String("borrower", borrower.Hex()), slog.String("amount", amount.String()))
		return p.asset.Transfer(ctx, p.account, borrower, amount)
	})
}

// Repay pulls up to amount from payer against its debt and returns the
// amount actually applied.
func (p *Pool) Repay(ctx context.Context, payer common.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	var applied *big.Int
	err := p.exec.Atomic(ctx, "lending.repay", func(ctx context.Context) error {
		debt, err := p.DebtOf(payer)
		if err != nil {
			return err
		}
		if debt.Sign() == 0 {
			return errNoDebt
		}
		market, err := p.Market()
		if err != nil {
			return err
		}
		shares, err := p.ledger.GetBig(p.debtKey(payer))
		if err != nil {
			return err
		}
		applied = nativecommon.MinBig(amount, debt)
		burn := shares
		if applied.Cmp(debt) < 0 {
			burn = sharesFor(applied, market.TotalBorrowed, market.TotalDebtShares)
		}
		if err := p.asset.TransferFrom(ctx, p.account, payer, p.account, applied); err != nil {
			return err
		}
		if err := p.ledger.PutBig(p.debtKey(payer), new(big.Int).Sub(shares, burn)); err != nil {
			return err
		}
		market.TotalDebtShares.Sub(market.TotalDebtShares, burn)
		market.TotalBorrowed.Sub(market.TotalBorrowed, applied)
		if market.TotalBorrowed.Sign() < 0 || market.TotalDebtShares.Sign() == 0 {
			market.TotalBorrowed.SetInt64(0)
		}
		return p.ledger.PutRLP(p.marketKey(), market)
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Sync persists the accrued market so later reads start from now.
func (p *Pool) Sync(ctx context.Context) error {
	return p.exec.Atomic(ctx, "lending.sync", func(ctx context.Context) error {
		market, err := p.Market()
		if err != nil {
			return err
		}
		return p.ledger.PutRLP(p.marketKey(), market)
	})
}

func (p *Pool) addShares(key []byte, delta *big.Int) error {
	current, err := p.ledger.GetBig(key)
	if err != nil {
		return err
	}
	return p.ledger.PutBig(key, current.Add(current, delta))
}
