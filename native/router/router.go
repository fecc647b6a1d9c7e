// Package router implements the DEX collaborators used to convert reward
// tokens into the base asset. Both venues settle through the token ledger;
// callers verify settlement by balance delta.
package router

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "dough/native/common"
)

var (
	ErrExpired        = nativecommon.NewError(nativecommon.ErrValidation, "router: deadline passed")
	ErrNoRoute        = errors.New("router: no route for path")
	ErrInsufficientIn = nativecommon.NewError(nativecommon.ErrValidation, "router: zero input")
	ErrOverflow       = errors.New("router: amount overflows 256 bits")
	ErrNoLiquidity    = nativecommon.NewError(nativecommon.ErrLiquidity, "router: insufficient output reserves")
)

// SwapRequest describes one exact-input swap.
type SwapRequest struct {
	// From must have approved the router's account for AmountIn.
	From     common.Address
	To       common.Address
	AmountIn *big.Int
	MinOut   *big.Int
	Path     Path
	Deadline time.Time
}

// Router is the DEX capability set.
type Router interface {
	Name() string
	Account() common.Address
	Quote(ctx context.Context, amountIn *big.Int, path Path) (*big.Int, error)
	Swap(ctx context.Context, req SwapRequest) (*big.Int, error)
}

// Registry resolves routers by name. Variants are registered at startup.
type Registry struct {
	routers map[string]Router
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{routers: make(map[string]Router)}
}

// Register adds r under its normalised name.
func (r *Registry) Register(router Router) {
	name := nativecommon.NormalizeLabel(router.Name())
	if _, ok := r.routers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.routers[name] = router
}

// Get returns the router registered as name.
func (r *Registry) Get(name string) (Router, bool) {
	router, ok := r.routers[nativecommon.NormalizeLabel(name)]
	return router, ok
}

// Names lists registered routers in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrInsufficientIn
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// applyHop converts amount through one hop priced num/den with fee in
// FeeUnits, less skew in basis points.
func applyHop(amount *uint256.Int, num, den *uint256.Int, fee uint32, skewBps uint64) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, ErrNoRoute
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amount, num, den)
	if overflow {
		return nil, ErrOverflow
	}
	keep := uint256.NewInt(uint64(FeeUnits - fee))
	if out, overflow = new(uint256.Int).MulDivOverflow(out, keep, uint256.NewInt(FeeUnits)); overflow {
		return nil, ErrOverflow
	}
	if skewBps > 0 {
		if skewBps > nativecommon.BasisPoints {
			skewBps = nativecommon.BasisPoints
		}
		factor := uint256.NewInt(nativecommon.BasisPoints - skewBps)
		if out, overflow = new(uint256.Int).MulDivOverflow(out, factor, uint256.NewInt(nativecommon.BasisPoints)); overflow {
			return nil, ErrOverflow
		}
	}
	return out, nil
}
