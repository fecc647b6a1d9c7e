// Package api defines the JSON bodies exchanged with doughd. Amounts are
// decimal strings in base units.
package api

// AmountRequest carries a single amount.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// DepositRequest deposits base asset the caller has approved to the vault.
// With Approve set the allowance is granted in the same operation.
type DepositRequest struct {
	Amount  string `json:"amount"`
	Approve bool   `json:"approve,omitempty"`
}

// FaucetRequest mints mock base asset.
type FaucetRequest struct {
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

// AmountResponse reports the result of a deposit, approval, redemption or
// faucet call.
type AmountResponse struct {
	Amount     string `json:"amount"`
	LedgerRoot string `json:"ledger_root"`
}

// Stats mirrors hub.Stats.
type Stats struct {
	TVL              string `json:"tvl"`
	Minted           string `json:"minted"`
	PendingRewards   string `json:"pending_rewards"`
	Treasury         string `json:"treasury"`
	FeeBps           uint64 `json:"fee_bps"`
	FeesAccrued      string `json:"fees_accrued"`
	CumulativeMinted string `json:"cumulative_minted"`
	CumulativeBurned string `json:"cumulative_burned"`
	LedgerRoot       string `json:"ledger_root"`
}

// Strategy mirrors hub.StrategyData.
type Strategy struct {
	ID             string `json:"id"`
	WeightBps      uint64 `json:"weight_bps"`
	Venue          string `json:"venue,omitempty"`
	TotalAssets    string `json:"total_assets"`
	SupplyAPYBps   uint64 `json:"supply_apy_bps"`
	BorrowAPRBps   uint64 `json:"borrow_apr_bps"`
	VenueSupplied  string `json:"venue_supplied,omitempty"`
	VenueBorrowed  string `json:"venue_borrowed,omitempty"`
	PendingRewards string `json:"pending_rewards,omitempty"`
}

// Breakdown mirrors vault.Breakdown.
type Breakdown struct {
	LiveAssets    string `json:"live_assets"`
	TotalClaims   string `json:"total_claims"`
	Redeemable    string `json:"redeemable"`
	NonRedeemable string `json:"non_redeemable"`
	FeesAccrued   string `json:"fees_accrued"`
	Treasury      string `json:"treasury"`
}

// Account mirrors hub.Account.
type Account struct {
	Address    string `json:"address"`
	Collateral string `json:"collateral"`
	Claims     string `json:"claims"`
	Redeemable string `json:"redeemable"`
	Allowance  string `json:"allowance"`
}

// Payout is one recipient transfer.
type Payout struct {
	Recipient string `json:"recipient"`
	Label     string `json:"label,omitempty"`
	Amount    string `json:"amount"`
}

// Distribution mirrors treasury.Distribution.
type Distribution struct {
	Token    string   `json:"token"`
	AmountIn string   `json:"amount_in"`
	Proceeds string   `json:"proceeds"`
	Router   string   `json:"router,omitempty"`
	Payouts  []Payout `json:"payouts"`
}

// StrategyFailure is one adapter skipped during a harvest.
type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// HarvestResponse reports a harvest.
type HarvestResponse struct {
	Succeeded     []string          `json:"succeeded"`
	Failures      []StrategyFailure `json:"failures"`
	Distributions []Distribution    `json:"distributions"`
}

// Allocation is one row of the strategy table.
type Allocation struct {
	Strategy  string `json:"strategy"`
	WeightBps uint64 `json:"weight_bps"`
}

// Recipient is one row of the treasury table.
type Recipient struct {
	Address   string `json:"address"`
	WeightBps uint64 `json:"weight_bps"`
	Label     string `json:"label,omitempty"`
}

// TreasuryConfig mirrors hub.TreasuryConfig.
type TreasuryConfig struct {
	Primary     string      `json:"primary"`
	Fallback    string      `json:"fallback,omitempty"`
	SlippageBps uint64      `json:"slippage_bps"`
	Recipients  []Recipient `json:"recipients"`
}

// FeeRequest sets the mint fee.
type FeeRequest struct {
	FeeBps uint64 `json:"fee_bps"`
}

// SlippageRequest sets the treasury slippage tolerance.
type SlippageRequest struct {
	SlippageBps uint64 `json:"slippage_bps"`
}

// StrategiesRequest replaces the strategy table.
type StrategiesRequest struct {
	Strategies []Allocation `json:"strategies"`
}

// RecipientsRequest replaces the treasury table.
type RecipientsRequest struct {
	Recipients []Recipient `json:"recipients"`
}

// RoutersRequest selects the primary and fallback routers.
type RoutersRequest struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback,omitempty"`
}

// PathRequest sets the swap path of a reward token. Tokens and fees are
// hop-ordered; len(Fees) == len(Tokens)-1.
type PathRequest struct {
	Token  string   `json:"token"`
	Tokens []string `json:"tokens"`
	Fees   []uint32 `json:"fees"`
}

// PauseRequest toggles a module.
type PauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Event is one committed protocol event on the stream.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
