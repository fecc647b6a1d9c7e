package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	nativecommon "dough/native/common"
	"dough/native/token"
)

// Aggregator quotes every source venue and routes each swap through the one
// with the best output.
type Aggregator struct {
	name    string
	exec    *state.Executor
	sources []Router
	tokens  map[common.Address]token.Asset
	account common.Address
	logger  *slog.Logger
}

// NewAggregator constructs an aggregator over sources.
func NewAggregator(exec *state.Executor, name string, sources []Router, tokens ...token.Asset) *Aggregator {
	name = nativecommon.NormalizeLabel(name)
	book := make(map[common.Address]token.Asset, len(tokens))
	for _, tok := range tokens {
		book[tok.Address()] = tok
	}
	return &Aggregator{
		name:    name,
		exec:    exec,
		sources: append([]Router(nil), sources...),
		tokens:  book,
		account: nativecommon.AccountAddress("router/" + name),
		logger:  slog.Default().With(slog.String("router", name)),
	}
}

func (a *Aggregator) Name() string            { return a.name }
func (a *Aggregator) Account() common.Address { return a.account }

func (a *Aggregator) best(ctx context.Context, amountIn *big.Int, path Path) (Router, *big.Int, error) {
	var (
		chosen  Router
		bestOut *big.Int
		lastErr error
	)
	for _, src := range a.sources {
		out, err := src.Quote(ctx, amountIn, path)
		if err != nil {
			lastErr = err
			continue
		}
		if bestOut == nil || out.Cmp(bestOut) > 0 {
			chosen, bestOut = src, out
		}
	}
	if chosen == nil {
		if lastErr == nil {
			lastErr = ErrNoRoute
		}
		return nil, nil, fmt.Errorf("aggregator %s: %w", a.name, lastErr)
	}
	return chosen, bestOut, nil
}

// Quote returns the best quote across sources.
func (a *Aggregator) Quote(ctx context.Context, amountIn *big.Int, path Path) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientIn
	}
	_, out, err := a.best(ctx, amountIn, path)
	return out, err
}

// Swap pulls the input into the aggregator account and routes it through the
// best-quoting source, paying req.To directly.
func (a *Aggregator) Swap(ctx context.Context, req SwapRequest) (*big.Int, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, ErrInsufficientIn
	}
	tokenIn, ok := a.tokens[req.Path.TokenIn()]
	if !ok {
		return nil, fmt.Errorf("%w: unknown input token %s", ErrNoRoute, req.Path.TokenIn().Hex())
	}
	var out *big.Int
	err := a.exec.Atomic(ctx, "aggregator.swap", func(ctx context.Context) error {
		src, quoted, err := a.best(ctx, req.AmountIn, req.Path)
		if err != nil {
			return err
		}
		if err := tokenIn.TransferFrom(ctx, a.account, req.From, a.account, req.AmountIn); err != nil {
			return err
		}
		if err := tokenIn.Approve(ctx, a.account, src.Account(), req.AmountIn); err != nil {
			return err
		}
		inner := req
		inner.From = a.account
		filled, err := src.Swap(ctx, inner)
		if err != nil {
			return fmt.Errorf("aggregator %s via %s: %w", a.name, src.Name(), err)
		}
		a.logger.Debug("aggregated swap", slog.String("source", src.Name()), slog.String("quoted", quoted.String()), slog.String("filled", filled.String()))
		out = filled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
