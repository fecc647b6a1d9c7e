package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/lending"
	"dough/native/token"
)

// LendingVenue is the capability set consumed from a lending pool.
type LendingVenue interface {
	Name() string
	Account() common.Address
	Supply(ctx context.Context, from common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, holder, to common.Address, amount *big.Int) (*big.Int, error)
	BalanceOf(holder common.Address) (*big.Int, error)
	Market() (*lending.Market, error)
	SupplyAPYBps() (uint64, error)
	BorrowAPRBps() (uint64, error)
}

// RewardVenue is the capability set consumed from an incentive source.
type RewardVenue interface {
	Token() token.Asset
	Pending(beneficiary common.Address) (*big.Int, error)
	Claim(ctx context.Context, beneficiary, to common.Address) (*big.Int, error)
}

var errVenueShortfall = errors.New("venue balance moved less than expected")

// LendingStrategy supplies the base asset to a lending venue and claims
// incentive rewards. Every venue call is checked by balance delta.
type LendingStrategy struct {
	id       string
	exec     *state.Executor
	registry *access.Registry
	asset    token.Asset
	venue    LendingVenue
	rewards  RewardVenue
	account  common.Address
	logger   *slog.Logger
}

// NewLendingStrategy constructs the adapter. rewards may be nil.
func NewLendingStrategy(exec *state.Executor, registry *access.Registry, id string, asset token.Asset, venue LendingVenue, rewards RewardVenue) (*LendingStrategy, error) {
	id = nativecommon.NormalizeLabel(id)
	if id == "" {
		return nil, fmt.Errorf("strategy: id required")
	}
	if asset == nil || venue == nil {
		return nil, fmt.Errorf("strategy %s: asset and venue required", id)
	}
	return &LendingStrategy{
		id:       id,
		exec:     exec,
		registry: registry,
		asset:    asset,
		venue:    venue,
		rewards:  rewards,
		account:  nativecommon.AccountAddress("strategy/" + id),
		logger:   slog.Default().With(slog.String("strategy", id)),
	}, nil
}

func (s *LendingStrategy) ID() string              { return s.id }
func (s *LendingStrategy) Account() common.Address { return s.account }

func (s *LendingStrategy) RewardToken() common.Address {
	if s.rewards == nil {
		return common.Address{}
	}
	return s.rewards.Token().Address()
}

func (s *LendingStrategy) requireOperator(caller common.Address) error {
	return s.registry.Require(OperatorRole(s.id), caller)
}

// Deposit supplies amount, already held by the adapter account, to the venue.
func (s *LendingStrategy) Deposit(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return s.exec.Atomic(ctx, "strategy.deposit", func(ctx context.Context) error {
		if err := s.requireOperator(caller); err != nil {
			return err
		}
		cashBefore, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		if cashBefore.Cmp(amount) < 0 {
			return fmt.Errorf("strategy %s: %w: holds %s, asked to deposit %s", s.id, nativecommon.ErrInsufficientBalance, cashBefore, amount)
		}
		positionBefore, err := s.venue.BalanceOf(s.account)
		if err != nil {
			return nativecommon.External(s.venue.Name(), err)
		}
		if err := s.asset.Approve(ctx, s.account, s.venue.Account(), amount); err != nil {
			return err
		}
		err = s.exec.CallOut(ctx, func(ctx context.Context) error {
			return s.venue.Supply(ctx, s.account, amount)
		})
		if err != nil {
			return nativecommon.External(s.venue.Name(), err)
		}
		cashAfter, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		positionAfter, err := s.venue.BalanceOf(s.account)
		if err != nil {
			return nativecommon.External(s.venue.Name(), err)
		}
		spent := new(big.Int).Sub(cashBefore, cashAfter)
		if spent.Cmp(amount) != 0 || positionAfter.Cmp(positionBefore) <= 0 {
			return nativecommon.External(s.venue.Name(), fmt.Errorf("%w: spent %s, position %s -> %s", errVenueShortfall, spent, positionBefore, positionAfter))
		}
		return s.asset.Approve(ctx, s.account, s.venue.Account(), big.NewInt(0))
	})
}

// Withdraw recovers up to amount from idle cash and the venue and pays it
// to `to`. The returned figure is the measured amount paid.
func (s *LendingStrategy) Withdraw(ctx context.Context, caller common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	var paid *big.Int
	err := s.exec.Atomic(ctx, "strategy.withdraw", func(ctx context.Context) error {
		if err := s.requireOperator(caller); err != nil {
			return err
		}
		cash, err := s.asset.BalanceOf(s.account)
		if err != nil {
			return err
		}
		if cash.Cmp(amount) < 0 {
			need := new(big.Int).Sub(amount, cash)
			err := s.exec.CallOut(ctx, func(ctx context.Context) error {
				_, err := s.venue.Withdraw(ctx, s.account, s.account, need)
				return err
			})
			if err != nil {
				return nativecommon.External(s.venue.Name(), err)
			}
			after, err := s.asset.BalanceOf(s.account)
			if err != nil {
				return err
			}
			if after.Cmp(cash) < 0 {
				return nativecommon.External(s.venue.Name(), fmt.Errorf("%w: balance fell from %s to %s", errVenueShortfall, cash, after))
			}
			cash = after
		}
		paid = nativecommon.MinBig(cash, amount)
		return s.asset.Transfer(ctx, s.account, to, paid)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Harvest claims incentive rewards and forwards every reward token the
// adapter holds to `to`.
func (s *LendingStrategy) Harvest(ctx context.Context, caller, to common.Address) (*big.Int, error) {
	if s.rewards == nil {
		return big.NewInt(0), nil
	}
	var harvested *big.Int
	err := s.exec.Atomic(ctx, "strategy.harvest", func(ctx context.Context) error {
		if err := s.requireOperator(caller); err != nil {
			return err
		}
		reward := s.rewards.Token()
		before, err := reward.BalanceOf(s.account)
		if err != nil {
			return err
		}
		err = s.exec.CallOut(ctx, func(ctx context.Context) error {
			_, err := s.rewards.Claim(ctx, s.account, s.account)
			return err
		})
		if err != nil {
			return nativecommon.External("rewards", err)
		}
		after, err := reward.BalanceOf(s.account)
		if err != nil {
			return err
		}
		if after.Cmp(before) < 0 {
			return nativecommon.External("rewards", fmt.Errorf("%w: reward balance fell", errVenueShortfall))
		}
		harvested = after
		if harvested.Sign() > 0 {
			s.logger.Debug("harvested rewards", slog.String("amount", harvested.String()))
		}
		return reward.Transfer(ctx, s.account, to, harvested)
	})
	if err != nil {
		return nil, err
	}
	return harvested, nil
}

// TotalAssets is idle cash plus the venue position, re-read on every call.
func (s *LendingStrategy) TotalAssets(ctx context.Context) (*big.Int, error) {
	cash, err := s.asset.BalanceOf(s.account)
	if err != nil {
		return nil, err
	}
	position, err := s.venue.BalanceOf(s.account)
	if err != nil {
		return nil, nativecommon.External(s.venue.Name(), err)
	}
	return cash.Add(cash, position), nil
}

// Stats implements Reporter.
func (s *LendingStrategy) Stats(ctx context.Context) (*Stats, error) {
	market, err := s.venue.Market()
	if err != nil {
		return nil, nativecommon.External(s.venue.Name(), err)
	}
	supplyAPY, err := s.venue.SupplyAPYBps()
	if err != nil {
		return nil, nativecommon.External(s.venue.Name(), err)
	}
	borrowAPR, err := s.venue.BorrowAPRBps()
	if err != nil {
		return nil, nativecommon.External(s.venue.Name(), err)
	}
	supplied, err := s.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	pending := big.NewInt(0)
	if s.rewards != nil {
		if pending, err = s.rewards.Pending(s.account); err != nil {
			return nil, nativecommon.External("rewards", err)
		}
	}
	return &Stats{
		ID:             s.id,
		Venue:          s.venue.Name(),
		SupplyAPYBps:   supplyAPY,
		BorrowAPRBps:   borrowAPR,
		Supplied:       supplied,
		VenueSupplied:  market.TotalSupplied,
		VenueBorrowed:  market.TotalBorrowed,
		PendingRewards: pending,
	}, nil
}
