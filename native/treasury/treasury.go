// Package treasury implements the TreasurySplitter. It converts harvested
// reward tokens into the base asset through a primary DEX router with a
// single fallback, then pays the proceeds out to a weighted recipient table.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/events"
	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
	"dough/native/router"
	"dough/native/token"
)

const (
	// OperatorRole may distribute base asset without a swap (the controller).
	OperatorRole = "treasury.operator"
	// DefaultSlippageBps applies until governance sets a value.
	DefaultSlippageBps uint64 = 50
	// DefaultDeadline bounds how long a submitted swap stays valid.
	DefaultDeadline = 5 * time.Minute
	// ModuleName is the pause flag checked before swaps and payouts.
	ModuleName = "treasury"
)

var (
	ErrUnknownToken = nativecommon.NewError(nativecommon.ErrValidation, "treasury: unknown token")
	ErrNoPath       = nativecommon.NewError(nativecommon.ErrValidation, "treasury: no swap path configured")
	ErrNoRouter     = nativecommon.NewError(nativecommon.ErrValidation, "treasury: no router configured")
	ErrInvalidPath  = nativecommon.NewError(nativecommon.ErrValidation, "treasury: invalid swap path")
	ErrBadRecipient = nativecommon.NewError(nativecommon.ErrValidation, "treasury: invalid recipient")

	configKey = state.Key("treasury", []byte("config"))
)

// Recipient is one row of the payout table.
type Recipient struct {
	Address   common.Address
	WeightBps uint64
	Label     string
}

// PathEntry binds a reward token to its encoded swap path.
type PathEntry struct {
	Token common.Address
	Path  []byte
}

type configRecord struct {
	Recipients  []Recipient
	Primary     string
	Fallback    string
	SlippageBps uint64
	Paths       []PathEntry
}

func (c *configRecord) path(tok common.Address) (router.Path, bool) {
	for _, entry := range c.Paths {
		if entry.Token == tok {
			return router.Path(entry.Path), true
		}
	}
	return nil, false
}

// Payout is one verified transfer to a recipient.
type Payout struct {
	Recipient common.Address
	Label     string
	Amount    *big.Int
}

// Distribution is the result of one swap-and-distribute pass.
type Distribution struct {
	Token    common.Address
	AmountIn *big.Int
	Proceeds *big.Int
	Router   string
	Payouts  []Payout
}

// TreasurySplitter owns the treasury account.
type TreasurySplitter struct {
	exec     *state.Executor
	ledger   *state.Ledger
	registry *access.Registry
	routers  *router.Registry
	base     token.Asset
	tokens   map[common.Address]token.Asset
	account  common.Address
	deadline time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time
}

// New constructs a treasury paying out in base.
func New(exec *state.Executor, registry *access.Registry, routers *router.Registry, base token.Asset) *TreasurySplitter {
	t := &TreasurySplitter{
		exec:     exec,
		ledger:   exec.Ledger(),
		registry: registry,
		routers:  routers,
		base:     base,
		tokens:   make(map[common.Address]token.Asset),
		account:  nativecommon.AccountAddress("treasury"),
		deadline: DefaultDeadline,
		logger:   slog.Default().With(slog.String("component", "treasury")),
		nowFn:    time.Now,
	}
	t.tokens[base.Address()] = base
	return t
}

func (t *TreasurySplitter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

func (t *TreasurySplitter) SetNowFunc(now func() time.Time) {
	if now != nil {
		t.nowFn = now
	}
}

// SetDeadline overrides the swap validity window.
func (t *TreasurySplitter) SetDeadline(window time.Duration) {
	if window > 0 {
		t.deadline = window
	}
}

// RegisterToken makes a reward token known to the treasury.
func (t *TreasurySplitter) RegisterToken(tok token.Asset) {
	t.tokens[tok.Address()] = tok
}

// Account is the treasury's custody account. Rewards and released fees are
// paid into it before distribution.
func (t *TreasurySplitter) Account() common.Address { return t.account }

// Base is the asset rewards are swapped into and recipients are paid in.
func (t *TreasurySplitter) Base() token.Asset { return t.base }

// Token resolves a registered token.
func (t *TreasurySplitter) Token(addr common.Address) (token.Asset, bool) {
	tok, ok := t.tokens[addr]
	return tok, ok
}

// Balance returns the treasury's holding of addr.
func (t *TreasurySplitter) Balance(addr common.Address) (*big.Int, error) {
	tok, ok := t.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return tok.BalanceOf(t.account)
}

func (t *TreasurySplitter) load() (*configRecord, error) {
	rec := &configRecord{SlippageBps: DefaultSlippageBps}
	if _, err := t.ledger.GetRLP(configKey, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *TreasurySplitter) update(ctx context.Context, op string, caller common.Address, mutate func(*configRecord) (events.Event, error)) error {
	return t.exec.Run(ctx, op, func(ctx context.Context) error {
		if err := t.registry.Require(access.RoleAdmin, caller); err != nil {
			return err
		}
		rec, err := t.load()
		if err != nil {
			return err
		}
		ev, err := mutate(rec)
		if err != nil {
			return err
		}
		if err := t.ledger.PutRLP(configKey, rec); err != nil {
			return err
		}
		t.ledger.Emit(ev)
		return nil
	})
}

// Recipients returns the payout table.
func (t *TreasurySplitter) Recipients() ([]Recipient, error) {
	rec, err := t.load()
	if err != nil {
		return nil, err
	}
	return rec.Recipients, nil
}

// Routers returns the configured primary and fallback router names.
func (t *TreasurySplitter) Routers() (string, string, error) {
	rec, err := t.load()
	if err != nil {
		return "", "", err
	}
	return rec.Primary, rec.Fallback, nil
}

// SlippageBps returns the tolerated slippage.
func (t *TreasurySplitter) SlippageBps() (uint64, error) {
	rec, err := t.load()
	if err != nil {
		return 0, err
	}
	return rec.SlippageBps, nil
}

// Path returns the swap path configured for tok.
func (t *TreasurySplitter) Path(tok common.Address) (router.Path, bool, error) {
	rec, err := t.load()
	if err != nil {
		return nil, false, err
	}
	path, ok := rec.path(tok)
	return path, ok, nil
}

// SetRecipients replaces the payout table. An empty table keeps proceeds in
// the treasury account.
func (t *TreasurySplitter) SetRecipients(ctx context.Context, caller common.Address, recipients []Recipient) error {
	weights := make([]uint64, len(recipients))
	seen := make(map[common.Address]struct{}, len(recipients))
	for i, r := range recipients {
		if r.Address == (common.Address{}) {
			return fmt.Errorf("%w: entry %d has no address", ErrBadRecipient, i)
		}
		if _, dup := seen[r.Address]; dup {
			return fmt.Errorf("%w: duplicate %s", ErrBadRecipient, r.Address.Hex())
		}
		seen[r.Address] = struct{}{}
		weights[i] = r.WeightBps
	}
	if err := nativecommon.ValidateWeights(weights); err != nil {
		return err
	}
	next := append([]Recipient(nil), recipients...)
	return t.update(ctx, "treasury.set_recipients", caller, func(rec *configRecord) (events.Event, error) {
		rec.Recipients = next
		summary := make([]events.WeightEntry, len(next))
		for i, r := range next {
			name := r.Label
			if name == "" {
				name = r.Address.Hex()
			}
			summary[i] = events.WeightEntry{Name: name, Weight: r.WeightBps}
		}
		return events.RecipientsUpdated{Entries: summary}, nil
	})
}

// SetRouters selects the primary router and an optional fallback.
func (t *TreasurySplitter) SetRouters(ctx context.Context, caller common.Address, primary, fallback string) error {
	primary = nativecommon.NormalizeLabel(primary)
	fallback = nativecommon.NormalizeLabel(fallback)
	if _, ok := t.routers.Get(primary); !ok {
		return fmt.Errorf("%w: primary router %q", nativecommon.ErrUnknownVenue, primary)
	}
	if fallback != "" {
		if _, ok := t.routers.Get(fallback); !ok {
			return fmt.Errorf("%w: fallback router %q", nativecommon.ErrUnknownVenue, fallback)
		}
		if fallback == primary {
			return fmt.Errorf("%w: fallback must differ from primary", nativecommon.ErrUnknownVenue)
		}
	}
	return t.update(ctx, "treasury.set_routers", caller, func(rec *configRecord) (events.Event, error) {
		rec.Primary, rec.Fallback = primary, fallback
		return events.RoutersUpdated{Primary: primary, Fallback: fallback}, nil
	})
}

// SetSlippageBps sets the tolerated slippage; 10000 disables the floor.
func (t *TreasurySplitter) SetSlippageBps(ctx context.Context, caller common.Address, bps uint64) error {
	if bps > nativecommon.BasisPoints {
		return fmt.Errorf("%w: %d", nativecommon.ErrInvalidSlippage, bps)
	}
	return t.update(ctx, "treasury.set_slippage", caller, func(rec *configRecord) (events.Event, error) {
		prev := rec.SlippageBps
		rec.SlippageBps = bps
		return events.SlippageUpdated{Previous: prev, Current: bps}, nil
	})
}

// SetPath configures the route from a reward token into the base asset.
func (t *TreasurySplitter) SetPath(ctx context.Context, caller, tok common.Address, path router.Path) error {
	if _, ok := t.tokens[tok]; !ok || tok == t.base.Address() {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	if err := path.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if path.TokenIn() != tok || path.TokenOut() != t.base.Address() {
		return fmt.Errorf("%w: path must run %s -> %s", ErrInvalidPath, tok.Hex(), t.base.Address().Hex())
	}
	encoded := append([]byte(nil), path...)
	return t.update(ctx, "treasury.set_path", caller, func(rec *configRecord) (events.Event, error) {
		replaced := false
		for i := range rec.Paths {
			if rec.Paths[i].Token == tok {
				rec.Paths[i].Path = encoded
				replaced = true
			}
		}
		if !replaced {
			rec.Paths = append(rec.Paths, PathEntry{Token: tok, Path: encoded})
		}
		return events.PathUpdated{Token: tok, Path: path.String()}, nil
	})
}

// SwapAndDistribute converts amount of tok held by the treasury into the
// base asset and pays it out. A zero amount is a no-op.
func (t *TreasurySplitter) SwapAndDistribute(ctx context.Context, tok common.Address, amount *big.Int) (*Distribution, error) {
	result := &Distribution{Token: tok, AmountIn: big.NewInt(0), Proceeds: big.NewInt(0)}
	if amount == nil || amount.Sign() == 0 {
		return result, nil
	}
	if amount.Sign() < 0 {
		return nil, nativecommon.ErrNegativeAmount
	}
	asset, ok := t.tokens[tok]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	err := t.exec.Run(ctx, "treasury.swap_and_distribute", func(ctx context.Context) error {
		if err := nativecommon.Guard(t.registry, ModuleName); err != nil {
			return err
		}
		held, err := asset.BalanceOf(t.account)
		if err != nil {
			return err
		}
		if held.Cmp(amount) < 0 {
			return fmt.Errorf("treasury: %w: holds %s of %s", nativecommon.ErrInsufficientBalance, held, amount)
		}
		rec, err := t.load()
		if err != nil {
			return err
		}
		result.AmountIn = new(big.Int).Set(amount)
		proceeds := new(big.Int).Set(amount)
		if tok != t.base.Address() {
			proceeds, result.Router, err = t.swap(ctx, asset, amount, rec)
			if err != nil {
				return err
			}
		}
		result.Proceeds = proceeds
		result.Payouts, err = t.distribute(ctx, t.base, proceeds, rec.Recipients)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SwapPending swaps and distributes the treasury's whole balance of every
// token that has a configured path.
func (t *TreasurySplitter) SwapPending(ctx context.Context) ([]*Distribution, error) {
	var out []*Distribution
	err := t.exec.Run(ctx, "treasury.swap_pending", func(ctx context.Context) error {
		rec, err := t.load()
		if err != nil {
			return err
		}
		for _, entry := range rec.Paths {
			asset, ok := t.tokens[entry.Token]
			if !ok {
				continue
			}
			held, err := asset.BalanceOf(t.account)
			if err != nil {
				return err
			}
			if held.Sign() == 0 {
				continue
			}
			d, err := t.SwapAndDistribute(ctx, entry.Token, held)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Distribute pays amount of base asset held by the treasury to the
// recipient table without swapping. Operator only.
func (t *TreasurySplitter) Distribute(ctx context.Context, caller common.Address, amount *big.Int) (*Distribution, error) {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return nil, err
	}
	result := &Distribution{Token: t.base.Address(), AmountIn: new(big.Int).Set(amount), Proceeds: new(big.Int).Set(amount)}
	err := t.exec.Run(ctx, "treasury.distribute", func(ctx context.Context) error {
		if err := t.registry.Require(OperatorRole, caller); err != nil {
			return err
		}
		if err := nativecommon.Guard(t.registry, ModuleName); err != nil {
			return err
		}
		held, err := t.base.BalanceOf(t.account)
		if err != nil {
			return err
		}
		if held.Cmp(amount) < 0 {
			return fmt.Errorf("treasury: %w: holds %s of %s", nativecommon.ErrInsufficientBalance, held, amount)
		}
		rec, err := t.load()
		if err != nil {
			return err
		}
		result.Payouts, err = t.distribute(ctx, t.base, amount, rec.Recipients)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *TreasurySplitter) swap(ctx context.Context, asset token.Asset, amount *big.Int, rec *configRecord) (*big.Int, string, error) {
	path, ok := rec.path(asset.Address())
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNoPath, asset.Symbol())
	}
	if rec.Primary == "" {
		return nil, "", ErrNoRouter
	}
	out, err := t.attempt(ctx, rec.Primary, asset, amount, path, rec.SlippageBps)
	if err == nil {
		return out, rec.Primary, nil
	}
	if rec.Fallback == "" {
		return nil, "", err
	}
	t.logger.Warn("primary router failed, trying fallback",
		slog.String("primary", rec.Primary),
		slog.String("fallback", rec.Fallback),
		slog.String("error", err.Error()))
	t.ledger.Emit(events.SwapFallback{Primary: rec.Primary, Fallback: rec.Fallback, Reason: err.Error()})
	out, err = t.attempt(ctx, rec.Fallback, asset, amount, path, rec.SlippageBps)
	if err != nil {
		return nil, "", err
	}
	return out, rec.Fallback, nil
}

// attempt runs one router under its own snapshot so a failed attempt leaves
// no approval or partial transfer behind.
func (t *TreasurySplitter) attempt(ctx context.Context, name string, asset token.Asset, amount *big.Int, path router.Path, slippageBps uint64) (*big.Int, error) {
	venue, ok := t.routers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: router %q", nativecommon.ErrUnknownVenue, name)
	}
	var proceeds *big.Int
	err := t.exec.Run(ctx, "treasury.swap_attempt", func(ctx context.Context) error {
		var quoted *big.Int
		err := t.exec.CallOut(ctx, func(ctx context.Context) error {
			var err error
			quoted, err = venue.Quote(ctx, amount, path)
			return err
		})
		if err != nil {
			return nativecommon.External(name, err)
		}
		minOut := nativecommon.MinOut(quoted, slippageBps)
		inBefore, err := asset.BalanceOf(t.account)
		if err != nil {
			return err
		}
		outBefore, err := t.base.BalanceOf(t.account)
		if err != nil {
			return err
		}
		if err := asset.Approve(ctx, t.account, venue.Account(), amount); err != nil {
			return err
		}
		err = t.exec.CallOut(ctx, func(ctx context.Context) error {
			_, err := venue.Swap(ctx, router.SwapRequest{
				From:     t.account,
				To:       t.account,
				AmountIn: amount,
				MinOut:   minOut,
				Path:     path,
				Deadline: t.nowFn().Add(t.deadline),
			})
			return err
		})
		if err != nil {
			return nativecommon.External(name, err)
		}
		if err := asset.Approve(ctx, t.account, venue.Account(), big.NewInt(0)); err != nil {
			return err
		}
		inAfter, err := asset.BalanceOf(t.account)
		if err != nil {
			return err
		}
		if spent := new(big.Int).Sub(inBefore, inAfter); spent.Cmp(amount) > 0 {
			return nativecommon.External(name, fmt.Errorf("spent %s, approved %s", spent, amount))
		}
		outAfter, err := t.base.BalanceOf(t.account)
		if err != nil {
			return err
		}
		proceeds = new(big.Int).Sub(outAfter, outBefore)
		if proceeds.Cmp(minOut) < 0 {
			return fmt.Errorf("router %s: %w: received %s, quoted %s, min %s", name, nativecommon.ErrSlippageExceeded, proceeds, quoted, minOut)
		}
		t.ledger.Emit(events.RewardsSwapped{
			Router:    name,
			TokenIn:   asset.Address(),
			AmountIn:  new(big.Int).Set(amount),
			Quoted:    quoted,
			MinOut:    minOut,
			AmountOut: new(big.Int).Set(proceeds),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proceeds, nil
}

func (t *TreasurySplitter) distribute(ctx context.Context, asset token.Asset, amount *big.Int, recipients []Recipient) ([]Payout, error) {
	if len(recipients) == 0 || amount.Sign() == 0 {
		return nil, nil
	}
	weights := make([]uint64, len(recipients))
	for i, r := range recipients {
		weights[i] = r.WeightBps
	}
	payouts := make([]Payout, 0, len(recipients))
	for i, share := range nativecommon.Split(amount, weights) {
		if share.Sign() == 0 {
			continue
		}
		r := recipients[i]
		if r.Address != t.account {
			before, err := asset.BalanceOf(r.Address)
			if err != nil {
				return nil, err
			}
			if err := asset.Transfer(ctx, t.account, r.Address, share); err != nil {
				return nil, err
			}
			after, err := asset.BalanceOf(r.Address)
			if err != nil {
				return nil, err
			}
			if delta := after.Sub(after, before); delta.Cmp(share) != 0 {
				return nil, nativecommon.External(asset.Symbol(), fmt.Errorf("recipient %s credited %s, sent %s", r.Address.Hex(), delta, share))
			}
		}
		payouts = append(payouts, Payout{Recipient: r.Address, Label: r.Label, Amount: share})
		t.ledger.Emit(events.Distributed{Token: asset.Address(), Recipient: r.Address, Label: r.Label, Amount: share})
	}
	return payouts, nil
}
