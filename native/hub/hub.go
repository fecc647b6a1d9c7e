// Package hub is the read and admin façade over the protocol components. It
// holds no state of its own.
package hub

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	"dough/native/access"
	"dough/native/controller"
	"dough/native/router"
	"dough/native/splitter"
	"dough/native/treasury"
	"dough/native/vault"
)

// Stats is the protocol summary.
type Stats struct {
	TVL              *big.Int
	Minted           *big.Int
	PendingRewards   *big.Int
	Treasury         *big.Int
	FeeBps           uint64
	FeesAccrued      *big.Int
	CumulativeMinted *big.Int
	CumulativeBurned *big.Int
	LedgerRoot       string
}

// StrategyData describes one active strategy.
type StrategyData struct {
	ID             string
	WeightBps      uint64
	Venue          string
	TotalAssets    *big.Int
	SupplyAPYBps   uint64
	BorrowAPRBps   uint64
	Supplied       *big.Int
	VenueSupplied  *big.Int
	VenueBorrowed  *big.Int
	PendingRewards *big.Int
}

// Account is a holder's position.
type Account struct {
	Address    common.Address
	Collateral *big.Int
	Claims     *big.Int
	Redeemable *big.Int
	Allowance  *big.Int
}

// TreasuryConfig is the current swap and payout setup.
type TreasuryConfig struct {
	Primary     string
	Fallback    string
	SlippageBps uint64
	Recipients  []treasury.Recipient
}

// Hub fronts the vault, controller and both splitters.
type Hub struct {
	exec       *state.Executor
	registry   *access.Registry
	vault      *vault.Vault
	controller *controller.Controller
	splitter   *splitter.StrategySplitter
	treasury   *treasury.TreasurySplitter
}

// New constructs a hub.
func New(exec *state.Executor, registry *access.Registry, v *vault.Vault, c *controller.Controller, s *splitter.StrategySplitter, t *treasury.TreasurySplitter) *Hub {
	return &Hub{exec: exec, registry: registry, vault: v, controller: c, splitter: s, treasury: t}
}

func (h *Hub) Vault() *vault.Vault                  { return h.vault }
func (h *Hub) Controller() *controller.Controller   { return h.controller }
func (h *Hub) Splitter() *splitter.StrategySplitter { return h.splitter }
func (h *Hub) Treasury() *treasury.TreasurySplitter { return h.treasury }
func (h *Hub) Registry() *access.Registry           { return h.registry }

// ProtocolStats reports TVL, claim supply, pending rewards and the treasury
// position (base asset held plus fees not yet released).
func (h *Hub) ProtocolStats(ctx context.Context) (*Stats, error) {
	out := new(Stats)
	err := h.exec.View(ctx, func(ctx context.Context) error {
		live, err := h.vault.LiveAssets(ctx)
		if err != nil {
			return err
		}
		totals, err := h.controller.Totals()
		if err != nil {
			return err
		}
		pending, err := h.splitter.PendingRewards(ctx)
		if err != nil {
			return err
		}
		held, err := h.treasury.Balance(h.vault.Asset().Address())
		if err != nil {
			return err
		}
		*out = Stats{
			TVL:              live,
			Minted:           totals.ClaimSupply,
			PendingRewards:   pending,
			Treasury:         new(big.Int).Add(held, totals.FeesAccrued),
			FeeBps:           totals.FeeBps,
			FeesAccrued:      totals.FeesAccrued,
			CumulativeMinted: totals.CumulativeMinted,
			CumulativeBurned: totals.CumulativeBurned,
			LedgerRoot:       h.exec.Ledger().Root(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StrategyData reports every strategy in the active table.
func (h *Hub) StrategyData(ctx context.Context) ([]StrategyData, error) {
	var out []StrategyData
	err := h.exec.View(ctx, func(ctx context.Context) error {
		table, err := h.splitter.Strategies()
		if err != nil {
			return err
		}
		reports, err := h.splitter.Reports(ctx)
		if err != nil {
			return err
		}
		out = make([]StrategyData, 0, len(table))
		for _, entry := range table {
			adapter, ok := h.splitter.Adapter(entry.StrategyID)
			if !ok {
				continue
			}
			total, err := adapter.TotalAssets(ctx)
			if err != nil {
				return err
			}
			data := StrategyData{ID: entry.StrategyID, WeightBps: entry.WeightBps, TotalAssets: total}
			for _, r := range reports {
				if r.ID != entry.StrategyID {
					continue
				}
				data.Venue = r.Venue
				data.SupplyAPYBps = r.SupplyAPYBps
				data.BorrowAPRBps = r.BorrowAPRBps
				data.Supplied = r.Supplied
				data.VenueSupplied = r.VenueSupplied
				data.VenueBorrowed = r.VenueBorrowed
				data.PendingRewards = r.PendingRewards
			}
			out = append(out, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RedeemableBreakdown splits backing into redeemable and protocol-owned.
func (h *Hub) RedeemableBreakdown(ctx context.Context) (*vault.Breakdown, error) {
	var out *vault.Breakdown
	err := h.exec.View(ctx, func(ctx context.Context) error {
		var err error
		out, err = h.vault.Breakdown(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AccountInfo returns the position of addr.
func (h *Hub) AccountInfo(ctx context.Context, addr common.Address) (*Account, error) {
	out := &Account{Address: addr}
	err := h.exec.View(ctx, func(ctx context.Context) error {
		asset := h.vault.Asset()
		var err error
		if out.Collateral, err = asset.BalanceOf(addr); err != nil {
			return err
		}
		if out.Allowance, err = asset.Allowance(addr, h.vault.Account()); err != nil {
			return err
		}
		out.Claims, out.Redeemable, err = h.vault.Position(ctx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TreasuryConfig reports the current swap and payout setup.
func (h *Hub) TreasuryConfig(ctx context.Context) (*TreasuryConfig, error) {
	out := new(TreasuryConfig)
	err := h.exec.View(ctx, func(ctx context.Context) error {
		var err error
		if out.Primary, out.Fallback, err = h.treasury.Routers(); err != nil {
			return err
		}
		if out.SlippageBps, err = h.treasury.SlippageBps(); err != nil {
			return err
		}
		out.Recipients, err = h.treasury.Recipients()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DepositAndMint deposits amount for caller, who must have approved the
// vault account.
func (h *Hub) DepositAndMint(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	return h.vault.Deposit(ctx, caller, amount)
}

// ApproveVault sets the vault's allowance over caller's base asset.
func (h *Hub) ApproveVault(ctx context.Context, caller common.Address, amount *big.Int) error {
	return h.exec.Run(ctx, "hub.approve", func(ctx context.Context) error {
		return h.vault.Asset().Approve(ctx, caller, h.vault.Account(), amount)
	})
}

// ApproveAndDeposit approves the vault for amount and deposits it in one
// operation.
func (h *Hub) ApproveAndDeposit(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	var minted *big.Int
	err := h.exec.Run(ctx, "hub.approve_and_deposit", func(ctx context.Context) error {
		if err := h.vault.Asset().Approve(ctx, caller, h.vault.Account(), amount); err != nil {
			return err
		}
		var err error
		minted, err = h.vault.Deposit(ctx, caller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// RedeemAndWithdraw burns claims for the base asset.
func (h *Hub) RedeemAndWithdraw(ctx context.Context, caller common.Address, claims *big.Int) (*big.Int, error) {
	return h.vault.Redeem(ctx, caller, claims)
}

// Harvest collects and distributes strategy rewards.
func (h *Hub) Harvest(ctx context.Context, caller common.Address) (*controller.HarvestResult, error) {
	return h.controller.Harvest(ctx, caller)
}

// SwapRewards swaps and distributes every reward token the treasury holds.
func (h *Hub) SwapRewards(ctx context.Context) ([]*treasury.Distribution, error) {
	return h.treasury.SwapPending(ctx)
}

// ContributeToTreasury releases accrued fees covered by surplus backing.
func (h *Hub) ContributeToTreasury(ctx context.Context) (*treasury.Distribution, error) {
	return h.vault.ReleaseFees(ctx)
}

func (h *Hub) SetDexSlippageBps(ctx context.Context, caller common.Address, bps uint64) error {
	return h.treasury.SetSlippageBps(ctx, caller, bps)
}

func (h *Hub) SetDexPath(ctx context.Context, caller, tok common.Address, path router.Path) error {
	return h.treasury.SetPath(ctx, caller, tok, path)
}

func (h *Hub) SetRouters(ctx context.Context, caller common.Address, primary, fallback string) error {
	return h.treasury.SetRouters(ctx, caller, primary, fallback)
}

func (h *Hub) UpdateStrategyWeights(ctx context.Context, caller common.Address, entries []splitter.Allocation) error {
	return h.splitter.SetStrategies(ctx, caller, entries)
}

func (h *Hub) UpdateTreasuryRecipients(ctx context.Context, caller common.Address, recipients []treasury.Recipient) error {
	return h.treasury.SetRecipients(ctx, caller, recipients)
}

func (h *Hub) SetFeeBps(ctx context.Context, caller common.Address, bps uint64) error {
	return h.controller.SetFeeBps(ctx, caller, bps)
}

// SetPaused toggles a module pause flag.
func (h *Hub) SetPaused(ctx context.Context, caller common.Address, module string, paused bool) error {
	return h.registry.SetPaused(ctx, caller, module, paused)
}

// Owner returns the admin.
func (h *Hub) Owner() (common.Address, error) {
	addr, _, err := h.registry.Holder(access.RoleAdmin)
	return addr, err
}

// Governance returns the governance holder, if any.
func (h *Hub) Governance() (common.Address, bool, error) {
	return h.registry.Holder(access.RoleGovernance)
}
