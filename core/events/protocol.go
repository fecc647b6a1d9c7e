package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/types"
)

const (
	TypeDeposited         = "vault.deposited"
	TypeRedeemed          = "vault.redeemed"
	TypeClaimsMinted      = "controller.minted"
	TypeClaimsBurned      = "controller.burned"
	TypeEmergencyBurn     = "controller.emergency_burn"
	TypeFeeUpdated        = "controller.fee_updated"
	TypeFeesSettled       = "controller.fees_settled"
	TypeRoleGranted       = "access.role_granted"
	TypeRoleRevoked       = "access.role_revoked"
	TypeStrategiesUpdated = "splitter.strategies_updated"
	TypeAllocated         = "splitter.allocated"
	TypeStrategyFailed    = "splitter.strategy_failed"
	TypeHarvested         = "splitter.harvested"
	TypeRecipientsUpdated = "treasury.recipients_updated"
	TypeRoutersUpdated    = "treasury.routers_updated"
	TypeSlippageUpdated   = "treasury.slippage_updated"
	TypePathUpdated       = "treasury.path_updated"
	TypeRewardsSwapped    = "treasury.swapped"
	TypeSwapFallback      = "treasury.swap_fallback"
	TypeDistributed       = "treasury.distributed"
	TypeModulePaused      = "admin.module_paused"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Deposited is emitted when collateral enters the vault and claims are minted.
type Deposited struct {
	Account    common.Address
	Collateral *big.Int
	Minted     *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{Type: TypeDeposited, Attributes: map[string]string{
		"account":    e.Account.Hex(),
		"collateral": amountString(e.Collateral),
		"minted":     amountString(e.Minted),
	}}
}

// Redeemed is emitted when claims are burned for collateral.
type Redeemed struct {
	Account common.Address
	Claims  *big.Int
	Payout  *big.Int
	Pulled  *big.Int
}

func (Redeemed) EventType() string { return TypeRedeemed }

func (e Redeemed) Event() *types.Event {
	return &types.Event{Type: TypeRedeemed, Attributes: map[string]string{
		"account": e.Account.Hex(),
		"claims":  amountString(e.Claims),
		"payout":  amountString(e.Payout),
		"pulled":  amountString(e.Pulled),
	}}
}

// ClaimsMinted records a mint performed by the controller.
type ClaimsMinted struct {
	Account common.Address
	Gross   *big.Int
	Fee     *big.Int
	Minted  *big.Int
}

func (ClaimsMinted) EventType() string { return TypeClaimsMinted }

func (e ClaimsMinted) Event() *types.Event {
	return &types.Event{Type: TypeClaimsMinted, Attributes: map[string]string{
		"account": e.Account.Hex(),
		"gross":   amountString(e.Gross),
		"fee":     amountString(e.Fee),
		"minted":  amountString(e.Minted),
	}}
}

// ClaimsBurned records a burn performed by the controller.
type ClaimsBurned struct {
	Account   common.Address
	Amount    *big.Int
	Emergency bool
}

func (e ClaimsBurned) EventType() string {
	if e.Emergency {
		return TypeEmergencyBurn
	}
	return TypeClaimsBurned
}

func (e ClaimsBurned) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"account": e.Account.Hex(),
		"amount":  amountString(e.Amount),
	}}
}

// FeeUpdated is emitted when the mint fee changes.
type FeeUpdated struct {
	Previous uint64
	Current  uint64
}

func (FeeUpdated) EventType() string { return TypeFeeUpdated }

func (e FeeUpdated) Event() *types.Event {
	return &types.Event{Type: TypeFeeUpdated, Attributes: map[string]string{
		"previousBps": strconv.FormatUint(e.Previous, 10),
		"feeBps":      strconv.FormatUint(e.Current, 10),
	}}
}

// FeesSettled is emitted when accrued fees are released to the treasury.
type FeesSettled struct {
	Amount    *big.Int
	Remaining *big.Int
}

func (FeesSettled) EventType() string { return TypeFeesSettled }

func (e FeesSettled) Event() *types.Event {
	return &types.Event{Type: TypeFeesSettled, Attributes: map[string]string{
		"amount":    amountString(e.Amount),
		"remaining": amountString(e.Remaining),
	}}
}

// RoleGranted is emitted for every capability grant.
type RoleGranted struct {
	Role      string
	Holder    common.Address
	GrantedBy common.Address
	Nonce     uint64
}

func (RoleGranted) EventType() string { return TypeRoleGranted }

func (e RoleGranted) Event() *types.Event {
	return &types.Event{Type: TypeRoleGranted, Attributes: map[string]string{
		"role":      e.Role,
		"holder":    e.Holder.Hex(),
		"grantedBy": e.GrantedBy.Hex(),
		"nonce":     strconv.FormatUint(e.Nonce, 10),
	}}
}

// RoleRevoked is emitted when a grant is withdrawn or replaced.
type RoleRevoked struct {
	Role      string
	Holder    common.Address
	RevokedBy common.Address
}

func (RoleRevoked) EventType() string { return TypeRoleRevoked }

func (e RoleRevoked) Event() *types.Event {
	return &types.Event{Type: TypeRoleRevoked, Attributes: map[string]string{
		"role":      e.Role,
		"holder":    e.Holder.Hex(),
		"revokedBy": e.RevokedBy.Hex(),
	}}
}

// WeightEntry is the flattened view of one weighted table row.
type WeightEntry struct {
	Name   string
	Weight uint64
}

func joinWeights(entries []WeightEntry) string {
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		parts = append(parts, entry.Name+"="+strconv.FormatUint(entry.Weight, 10))
	}
	return strings.Join(parts, ",")
}

// StrategiesUpdated is emitted when the strategy table is replaced.
type StrategiesUpdated struct {
	Entries []WeightEntry
}

func (StrategiesUpdated) EventType() string { return TypeStrategiesUpdated }

func (e StrategiesUpdated) Event() *types.Event {
	return &types.Event{Type: TypeStrategiesUpdated, Attributes: map[string]string{
		"strategies": joinWeights(e.Entries),
	}}
}

// Allocated is emitted when new capital is spread across strategies.
type Allocated struct {
	Amount *big.Int
	Idle   bool
}

func (Allocated) EventType() string { return TypeAllocated }

func (e Allocated) Event() *types.Event {
	return &types.Event{Type: TypeAllocated, Attributes: map[string]string{
		"amount": amountString(e.Amount),
		"idle":   strconv.FormatBool(e.Idle),
	}}
}

// StrategyFailed reports a strategy call that was skipped.
type StrategyFailed struct {
	Strategy  string
	Operation string
	Reason    string
}

func (StrategyFailed) EventType() string { return TypeStrategyFailed }

func (e StrategyFailed) Event() *types.Event {
	return &types.Event{Type: TypeStrategyFailed, Attributes: map[string]string{
		"strategy":  e.Strategy,
		"operation": e.Operation,
		"reason":    e.Reason,
	}}
}

// Harvested summarises one harvest pass.
type Harvested struct {
	Token     common.Address
	Amount    *big.Int
	Succeeded int
	Failed    int
}

func (Harvested) EventType() string { return TypeHarvested }

func (e Harvested) Event() *types.Event {
	return &types.Event{Type: TypeHarvested, Attributes: map[string]string{
		"token":     e.Token.Hex(),
		"amount":    amountString(e.Amount),
		"succeeded": strconv.Itoa(e.Succeeded),
		"failed":    strconv.Itoa(e.Failed),
	}}
}

// RecipientsUpdated is emitted when the treasury table is replaced.
type RecipientsUpdated struct {
	Entries []WeightEntry
}

func (RecipientsUpdated) EventType() string { return TypeRecipientsUpdated }

func (e RecipientsUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRecipientsUpdated, Attributes: map[string]string{
		"recipients": joinWeights(e.Entries),
	}}
}

// RoutersUpdated is emitted when swap venues change.
type RoutersUpdated struct {
	Primary  string
	Fallback string
}

func (RoutersUpdated) EventType() string { return TypeRoutersUpdated }

func (e RoutersUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRoutersUpdated, Attributes: map[string]string{
		"primary":  e.Primary,
		"fallback": e.Fallback,
	}}
}

// SlippageUpdated is emitted when the swap bound changes.
type SlippageUpdated struct {
	Previous uint64
	Current  uint64
}

func (SlippageUpdated) EventType() string { return TypeSlippageUpdated }

func (e SlippageUpdated) Event() *types.Event {
	return &types.Event{Type: TypeSlippageUpdated, Attributes: map[string]string{
		"previousBps": strconv.FormatUint(e.Previous, 10),
		"slippageBps": strconv.FormatUint(e.Current, 10),
	}}
}

// PathUpdated is emitted when the swap path for a reward token changes.
type PathUpdated struct {
	Token common.Address
	Path  string
}

func (PathUpdated) EventType() string { return TypePathUpdated }

func (e PathUpdated) Event() *types.Event {
	return &types.Event{Type: TypePathUpdated, Attributes: map[string]string{
		"token": e.Token.Hex(),
		"path":  e.Path,
	}}
}

// RewardsSwapped is emitted after a settled swap.
type RewardsSwapped struct {
	Router    string
	TokenIn   common.Address
	AmountIn  *big.Int
	Quoted    *big.Int
	MinOut    *big.Int
	AmountOut *big.Int
}

func (RewardsSwapped) EventType() string { return TypeRewardsSwapped }

func (e RewardsSwapped) Event() *types.Event {
	return &types.Event{Type: TypeRewardsSwapped, Attributes: map[string]string{
		"router":    e.Router,
		"tokenIn":   e.TokenIn.Hex(),
		"amountIn":  amountString(e.AmountIn),
		"quoted":    amountString(e.Quoted),
		"minOut":    amountString(e.MinOut),
		"amountOut": amountString(e.AmountOut),
	}}
}

// SwapFallback is emitted when the primary router failed and the fallback ran.
type SwapFallback struct {
	Primary  string
	Fallback string
	Reason   string
}

func (SwapFallback) EventType() string { return TypeSwapFallback }

func (e SwapFallback) Event() *types.Event {
	return &types.Event{Type: TypeSwapFallback, Attributes: map[string]string{
		"primary":  e.Primary,
		"fallback": e.Fallback,
		"reason":   e.Reason,
	}}
}

// Distributed records one payout of a weighted distribution.
type Distributed struct {
	Token     common.Address
	Recipient common.Address
	Label     string
	Amount    *big.Int
}

func (Distributed) EventType() string { return TypeDistributed }

func (e Distributed) Event() *types.Event {
	return &types.Event{Type: TypeDistributed, Attributes: map[string]string{
		"token":     e.Token.Hex(),
		"recipient": e.Recipient.Hex(),
		"label":     e.Label,
		"amount":    amountString(e.Amount),
	}}
}

// ModulePaused is emitted when a module pause flag changes.
type ModulePaused struct {
	Module string
	Paused bool
}

func (ModulePaused) EventType() string { return TypeModulePaused }

func (e ModulePaused) Event() *types.Event {
	return &types.Event{Type: TypeModulePaused, Attributes: map[string]string{
		"module": e.Module,
		"paused": strconv.FormatBool(e.Paused),
	}}
}
