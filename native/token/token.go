// Package token implements the fungible asset ledger used for the base
// collateral, the DOUGH claim and reward tokens.
package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	"dough/native/access"
	nativecommon "dough/native/common"
)

// Asset is the capability set the protocol consumes from a fungible asset.
type Asset interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(addr common.Address) (*big.Int, error)
	Allowance(owner, spender common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
}

// Mintable is an asset whose supply is controlled by capability grants.
type Mintable interface {
	Asset
	TotalSupply() (*big.Int, error)
	Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, caller, from common.Address, amount *big.Int) error
}

// MinterRole names the grant that allows minting symbol.
func MinterRole(symbol string) string {
	return "token." + nativecommon.NormalizeLabel(symbol) + ".minter"
}

// BurnerRole names the grant that allows burning symbol.
func BurnerRole(symbol string) string {
	return "token." + nativecommon.NormalizeLabel(symbol) + ".burner"
}

// Token is a ledger-backed fungible asset.
type Token struct {
	exec     *state.Executor
	ledger   *state.Ledger
	registry *access.Registry
	symbol   string
	decimals uint8
	address  common.Address
}

// New registers a token with the given symbol and precision.
func New(exec *state.Executor, registry *access.Registry, symbol string, decimals uint8) (*Token, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("token: symbol required")
	}
	if decimals > 36 {
		return nil, fmt.Errorf("token: decimals %d out of range", decimals)
	}
	return &Token{
		exec:     exec,
		ledger:   exec.Ledger(),
		registry: registry,
		symbol:   symbol,
		decimals: decimals,
		address:  nativecommon.AccountAddress("token/" + symbol),
	}, nil
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string           { return t.symbol }
func (t *Token) Decimals() uint8          { return t.decimals }

func (t *Token) balanceKey(addr common.Address) []byte {
	return state.Key("token", []byte(t.symbol), []byte("balance"), addr.Bytes())
}

func (t *Token) allowanceKey(owner, spender common.Address) []byte {
	return state.Key("token", []byte(t.symbol), []byte("allowance"), owner.Bytes(), spender.Bytes())
}

func (t *Token) supplyKey() []byte {
	return state.Key("token", []byte(t.symbol), []byte("supply"))
}

// BalanceOf returns the balance of addr.
func (t *Token) BalanceOf(addr common.Address) (*big.Int, error) {
	return t.ledger.GetBig(t.balanceKey(addr))
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender common.Address) (*big.Int, error) {
	return t.ledger.GetBig(t.allowanceKey(owner, spender))
}

// TotalSupply returns the outstanding supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	return t.ledger.GetBig(t.supplyKey())
}

// Transfer moves amount from one account to another.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return nativecommon.ErrNegativeAmount
	}
	return t.exec.Atomic(ctx, "token.transfer", func(ctx context.Context) error {
		return t.move(from, to, amount)
	})
}

// TransferFrom moves amount on behalf of from, consuming spender's allowance.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return nativecommon.ErrNegativeAmount
	}
	return t.exec.Atomic(ctx, "token.transfer_from", func(ctx context.Context) error {
		allowance, err := t.Allowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%s: %w: have %s need %s", t.symbol, nativecommon.ErrInsufficientAllowance, allowance, amount)
		}
		if err := t.ledger.PutBig(t.allowanceKey(from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
		return t.move(from, to, amount)
	})
}

// Approve sets the allowance of spender over owner's balance.
func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nativecommon.ErrNegativeAmount
	}
	return t.exec.Atomic(ctx, "token.approve", func(ctx context.Context) error {
		return t.ledger.PutBig(t.allowanceKey(owner, spender), amount)
	})
}

// Mint creates amount for to. The caller must hold the minter grant.
func (t *Token) Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return t.exec.Atomic(ctx, "token.mint", func(ctx context.Context) error {
		if err := t.registry.Require(MinterRole(t.symbol), caller); err != nil {
			return err
		}
		return t.adjust(to, amount, true)
	})
}

// Burn destroys amount held by from. The caller must hold the burner grant.
func (t *Token) Burn(ctx context.Context, caller, from common.Address, amount *big.Int) error {
	if err := nativecommon.ValidateAmount(amount); err != nil {
		return err
	}
	return t.exec.Atomic(ctx, "token.burn", func(ctx context.Context) error {
		if err := t.registry.Require(BurnerRole(t.symbol), caller); err != nil {
			return err
		}
		return t.adjust(from, amount, false)
	})
}

func (t *Token) move(from, to common.Address, amount *big.Int) error {
	balance, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%s: %w: have %s need %s", t.symbol, nativecommon.ErrInsufficientBalance, balance, amount)
	}
	if from == to {
		return nil
	}
	if err := t.ledger.PutBig(t.balanceKey(from), balance.Sub(balance, amount)); err != nil {
		return err
	}
	dest, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	return t.ledger.PutBig(t.balanceKey(to), dest.Add(dest, amount))
}

func (t *Token) adjust(addr common.Address, amount *big.Int, credit bool) error {
	balance, err := t.BalanceOf(addr)
	if err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	if credit {
		balance.Add(balance, amount)
		supply.Add(supply, amount)
	} else {
		if balance.Cmp(amount) < 0 {
			return fmt.Errorf("%s: %w: have %s burn %s", t.symbol, nativecommon.ErrInsufficientBalance, balance, amount)
		}
		balance.Sub(balance, amount)
		supply.Sub(supply, amount)
	}
	if err := t.ledger.PutBig(t.balanceKey(addr), balance); err != nil {
		return err
	}
	return t.ledger.PutBig(t.supplyKey(), supply)
}

// FormatUnits renders amount with the token's decimals.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	digits := new(big.Int).Abs(amount).String()
	if decimals > 0 {
		if len(digits) <= int(decimals) {
			digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
		}
		point := len(digits) - int(decimals)
		frac := strings.TrimRight(digits[point:], "0")
		digits = digits[:point]
		if frac != "" {
			digits += "." + frac
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}
