// Package rewards implements the incentive source that pays reward tokens to
// venue participants. Rewards accrue per beneficiary at a configured rate and
// can also be credited directly.
package rewards

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/token"
)

type stream struct {
	RatePerSecond *big.Int
	Accrued       *big.Int
	LastUpdate    uint64
}

// Source pays reward tokens from its own balance.
type Source struct {
	name     string
	exec     *state.Executor
	ledger   *state.Ledger
	registry *access.Registry
	reward   token.Asset
	account  common.Address
	nowFn    func() time.Time
}

// NewSource constructs a reward source paying reward.
func NewSource(exec *state.Executor, registry *access.Registry, name string, reward token.Asset) *Source {
	name = nativecommon.NormalizeLabel(name)
	if name == "" {
		name = "rewards"
	}
	return &Source{
		name:     name,
		exec:     exec,
		ledger:   exec.Ledger(),
		registry: registry,
		reward:   reward,
		account:  nativecommon.AccountAddress("rewards/" + name),
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock.
func (s *Source) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

func (s *Source) Account() common.Address { return s.account }
func (s *Source) Token() token.Asset       { return s.reward }

func (s *Source) streamKey(beneficiary common.Address) []byte {
	return state.Key("rewards", []byte(s.name), beneficiary.Bytes())
}

func (s *Source) now() uint64 {
	ts := s.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (s *Source) load(beneficiary common.Address) (*stream, error) {
	st := new(stream)
	ok, err := s.ledger.GetRLP(s.streamKey(beneficiary), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		st = &stream{LastUpdate: s.now()}
	}
	if st.RatePerSecond == nil {
		st.RatePerSecond = big.NewInt(0)
	}
	if st.Accrued == nil {
		st.Accrued = big.NewInt(0)
	}
	now := s.now()
	if now > st.LastUpdate && st.RatePerSecond.Sign() > 0 {
		elapsed := new(big.Int).SetUint64(now - st.LastUpdate)
		st.Accrued.Add(st.Accrued, elapsed.Mul(elapsed, st.RatePerSecond))
	}
	if now > st.LastUpdate {
		st.LastUpdate = now
	}
	return st, nil
}

// Pending returns the rewards beneficiary could claim now, before the
// source's balance is taken into account.
func (s *Source) Pending(beneficiary common.Address) (*big.Int, error) {
	st, err := s.load(beneficiary)
	if err != nil {
		return nil, err
	}
	return st.Accrued, nil
}

// SetEmission changes the per-second reward rate of beneficiary. Admin only.
func (s *Source) SetEmission(ctx context.Context, caller, beneficiary common.Address, ratePerSecond *big.Int) error {
	if ratePerSecond == nil || ratePerSecond.Sign() < 0 {
		return nativecommon.ErrNegativeAmount
	}
	return s.exec.Atomic(ctx, "rewards.set_emission", func(ctx context.Context) error {
		if err := s.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		st, err := s.load(beneficiary)
		if err != nil {
			return err
		}
		st.RatePerSecond = new(big.Int).Set(ratePerSecond)
		return s.ledger.PutRLP(s.streamKey(beneficiary), st)
	})
}

// Credit adds a one-off reward for beneficiary. Admin only.
func (s *Source) Credit(ctx context.Context, caller, beneficiary common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return s.exec.Atomic(ctx, "rewards.credit", func(ctx context.Context) error {
		if err := s.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		st, err := s.load(beneficiary)
		if err != nil {
			return err
		}
		st.Accrued.Add(st.Accrued, amount)
		return s.ledger.PutRLP(s.streamKey(beneficiary), st)
	})
}

// Claim pays beneficiary's pending rewards to `to`, bounded by what the
// source holds, and returns the amount paid.
func (s *Source) Claim(ctx context.Context, beneficiary, to common.Address) (*big.Int, error) {
	var paid *big.Int
	err := s.exec.Atomic(ctx, "rewards.claim", func(ctx context.Context) error {
		st, err := s.load(beneficiary)
		if err != nil {
			return err
		}
		available, err := s.reward.BalanceOf(s.account)
		if err != nil {
			return err
		}
		paid = nativecommon.MinBig(st.Accrued, available)
		st.Accrued.Sub(st.Accrued, paid)
		if err := s.ledger.PutRLP(s.streamKey(beneficiary), st); err != nil {
			return err
		}
		return s.reward.Transfer(ctx, s.account, to, paid)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
