package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/token"
)

var errVenueDown = errors.New("router: venue unavailable")

type priceRecord struct {
	Num *big.Int
	Den *big.Int
}

type venueFlags struct {
	SkewBps uint64
	Down    bool
}

// PoolRouter is a constant-price venue in the style of a concentrated
// liquidity router: each hop is priced from a configured pair rate and
// charged the fee tier encoded in the path. Output is paid from the router's
// own reserves.
type PoolRouter struct {
	name     string
	exec     *state.Executor
	ledger   *state.Ledger
	registry *access.Registry
	tokens   map[common.Address]token.Asset
	account  common.Address
	nowFn    func() time.Time
}

// NewPoolRouter constructs a venue that can trade the supplied tokens.
func NewPoolRouter(exec *state.Executor, registry *access.Registry, name string, tokens ...token.Asset) *PoolRouter {
	name = nativecommon.NormalizeLabel(name)
	book := make(map[common.Address]token.Asset, len(tokens))
	for _, tok := range tokens {
		book[tok.Address()] = tok
	}
	return &PoolRouter{
		name:     name,
		exec:     exec,
		ledger:   exec.Ledger(),
		registry: registry,
		tokens:   book,
		account:  nativecommon.AccountAddress("router/" + name),
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock used for deadlines.
func (r *PoolRouter) SetNowFunc(now func() time.Time) {
	if now != nil {
		r.nowFn = now
	}
}

func (r *PoolRouter) Name() string            { return r.name }
func (r *PoolRouter) Account() common.Address { return r.account }

func (r *PoolRouter) priceKey(in, out common.Address) []byte {
	return state.Key("router", []byte(r.name), []byte("price"), in.Bytes(), out.Bytes())
}

func (r *PoolRouter) flagsKey() []byte {
	return state.Key("router", []byte(r.name), []byte("flags"))
}

// SetPrice sets how many units of out one unit of in buys, as num/den.
func (r *PoolRouter) SetPrice(ctx context.Context, caller, in, out common.Address, num, den *big.Int) error {
	if num == nil || den == nil || num.Sign() <= 0 || den.Sign() <= 0 {
		return fmt.Errorf("router %s: %w: price must be positive", r.name, nativecommon.ErrValidation)
	}
	return r.exec.Atomic(ctx, "router.set_price", func(ctx context.Context) error {
		if err := r.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		return r.ledger.PutRLP(r.priceKey(in, out), &priceRecord{Num: num, Den: den})
	})
}

// SetExecutionSkew makes fills land skewBps below the quote.
func (r *PoolRouter) SetExecutionSkew(ctx context.Context, caller common.Address, skewBps uint64) error {
	if skewBps > nativecommon.BasisPoints {
		return fmt.Errorf("router %s: %w: skew %d", r.name, nativecommon.ErrValidation, skewBps)
	}
	return r.updateFlags(ctx, caller, func(f *venueFlags) { f.SkewBps = skewBps })
}

// SetDown toggles a simulated venue outage.
func (r *PoolRouter) SetDown(ctx context.Context, caller common.Address, down bool) error {
	return r.updateFlags(ctx, caller, func(f *venueFlags) { f.Down = down })
}

func (r *PoolRouter) updateFlags(ctx context.Context, caller common.Address, mutate func(*venueFlags)) error {
	return r.exec.Atomic(ctx, "router.flags", func(ctx context.Context) error {
		if err := r.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		flags, err := r.flags()
		if err != nil {
			return err
		}
		mutate(flags)
		return r.ledger.PutRLP(r.flagsKey(), flags)
	})
}

func (r *PoolRouter) flags() (*venueFlags, error) {
	flags := new(venueFlags)
	if _, err := r.ledger.GetRLP(r.flagsKey(), flags); err != nil {
		return nil, err
	}
	return flags, nil
}

func (r *PoolRouter) route(amountIn *big.Int, path Path, skewBps uint64) (*big.Int, error) {
	hops, err := path.Hops()
	if err != nil {
		return nil, err
	}
	amount, err := toU256(amountIn)
	if err != nil {
		return nil, err
	}
	for _, hop := range hops {
		price := new(priceRecord)
		ok, err := r.ledger.GetRLP(r.priceKey(hop.TokenIn, hop.TokenOut), price)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s -> %s on %s", ErrNoRoute, hop.TokenIn.Hex(), hop.TokenOut.Hex(), r.name)
		}
		num, err := toU256(price.Num)
		if err != nil {
			return nil, err
		}
		den, err := toU256(price.Den)
		if err != nil {
			return nil, err
		}
		if amount, err = applyHop(amount, num, den, hop.Fee, 0); err != nil {
			return nil, err
		}
	}
	if skewBps > 0 {
		if amount, err = applyHop(amount, uint256.NewInt(1), uint256.NewInt(1), 0, skewBps); err != nil {
			return nil, err
		}
	}
	return amount.ToBig(), nil
}

// Quote prices amountIn along path at the configured rates.
func (r *PoolRouter) Quote(_ context.Context, amountIn *big.Int, path Path) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientIn
	}
	return r.route(amountIn, path, 0)
}

// Swap executes an exact-input swap and reverts when the fill is below
// req.MinOut.
func (r *PoolRouter) Swap(ctx context.Context, req SwapRequest) (*big.Int, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, ErrInsufficientIn
	}
	if !req.Deadline.IsZero() && r.nowFn().After(req.Deadline) {
		return nil, ErrExpired
	}
	var out *big.Int
	err := r.exec.Atomic(ctx, "router.swap", func(ctx context.Context) error {
		flags, err := r.flags()
		if err != nil {
			return err
		}
		if flags.Down {
			return errVenueDown
		}
		tokenIn, ok := r.tokens[req.Path.TokenIn()]
		if !ok {
			return fmt.Errorf("%w: unknown input token %s", ErrNoRoute, req.Path.TokenIn().Hex())
		}
		tokenOut, ok := r.tokens[req.Path.TokenOut()]
		if !ok {
			return fmt.Errorf("%w: unknown output token %s", ErrNoRoute, req.Path.TokenOut().Hex())
		}
		filled, err := r.route(req.AmountIn, req.Path, flags.SkewBps)
		if err != nil {
			return err
		}
		if req.MinOut != nil && filled.Cmp(req.MinOut) < 0 {
			return fmt.Errorf("router %s: %w: out %s < min %s", r.name, nativecommon.ErrSlippageExceeded, filled, req.MinOut)
		}
		reserves, err := tokenOut.BalanceOf(r.account)
		if err != nil {
			return err
		}
		if reserves.Cmp(filled) < 0 {
			return ErrNoLiquidity
		}
		if err := tokenIn.TransferFrom(ctx, r.account, req.From, r.account, req.AmountIn); err != nil {
			return err
		}
		if err := tokenOut.Transfer(ctx, r.account, req.To, filled); err != nil {
			return err
		}
		out = filled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
