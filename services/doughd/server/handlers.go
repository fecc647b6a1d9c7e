package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dough/native/controller"
	"dough/native/treasury"
	"dough/services/doughd/api"
	"dough/services/doughd/auth"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"ledger_root": s.node.Ledger().Root(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.Hub().ProtocolStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Stats{
		TVL:              amountString(stats.TVL),
		Minted:           amountString(stats.Minted),
		PendingRewards:   amountString(stats.PendingRewards),
		Treasury:         amountString(stats.Treasury),
		FeeBps:           stats.FeeBps,
		FeesAccrued:      amountString(stats.FeesAccrued),
		CumulativeMinted: amountString(stats.CumulativeMinted),
		CumulativeBurned: amountString(stats.CumulativeBurned),
		LedgerRoot:       stats.LedgerRoot,
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	data, err := s.node.Hub().StrategyData(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]api.Strategy, 0, len(data))
	for _, d := range data {
		entry := api.Strategy{
			ID:           d.ID,
			WeightBps:    d.WeightBps,
			Venue:        d.Venue,
			TotalAssets:  amountString(d.TotalAssets),
			SupplyAPYBps: d.SupplyAPYBps,
			BorrowAPRBps: d.BorrowAPRBps,
		}
		if d.VenueSupplied != nil {
			entry.VenueSupplied = d.VenueSupplied.String()
		}
		if d.VenueBorrowed != nil {
			entry.VenueBorrowed = d.VenueBorrowed.String()
		}
		if d.PendingRewards != nil {
			entry.PendingRewards = d.PendingRewards.String()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := s.node.Hub().RedeemableBreakdown(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Breakdown{
		LiveAssets:    amountString(b.LiveAssets),
		TotalClaims:   amountString(b.TotalClaims),
		Redeemable:    amountString(b.Redeemable),
		NonRedeemable: amountString(b.NonRedeemable),
		FeesAccrued:   amountString(b.FeesAccrued),
		Treasury:      amountString(b.Treasury),
	})
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.node.Hub().TreasuryConfig(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := api.TreasuryConfig{
		Primary:     cfg.Primary,
		Fallback:    cfg.Fallback,
		SlippageBps: cfg.SlippageBps,
		Recipients:  make([]api.Recipient, 0, len(cfg.Recipients)),
	}
	for _, rec := range cfg.Recipients {
		out.Recipients = append(out.Recipients, api.Recipient{
			Address:   rec.Address.Hex(),
			WeightBps: rec.WeightBps,
			Label:     rec.Label,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.node.Hub().AccountInfo(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Account{
		Address:    acct.Address.Hex(),
		Collateral: amountString(acct.Collateral),
		Claims:     amountString(acct.Claims),
		Redeemable: amountString(acct.Redeemable),
		Allowance:  amountString(acct.Allowance),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Hub().ApproveVault(r.Context(), id.Address, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AmountResponse{Amount: amount.String(), LedgerRoot: s.node.Ledger().Root()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.DepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deposit := s.node.Hub().DepositAndMint
	if req.Approve {
		deposit = s.node.Hub().ApproveAndDeposit
	}
	minted, err := deposit(r.Context(), id.Address, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AmountResponse{Amount: minted.String(), LedgerRoot: s.node.Ledger().Root()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	claims, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	paid, err := s.node.Hub().RedeemAndWithdraw(r.Context(), id.Address, claims)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AmountResponse{Amount: paid.String(), LedgerRoot: s.node.Ledger().Root()})
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	result, err := s.node.Hub().Harvest(r.Context(), id.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, harvestResponse(result))
}

func (s *Server) handleSwapRewards(w http.ResponseWriter, r *http.Request) {
	dists, err := s.node.Hub().SwapRewards(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]api.Distribution, 0, len(dists))
	for _, d := range dists {
		out = append(out, distribution(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	d, err := s.node.Hub().ContributeToTreasury(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, distribution(d))
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if !s.faucet {
		http.NotFound(w, r)
		return
	}
	id, _ := auth.FromContext(r.Context())
	var req api.FaucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to := id.Address
	if req.To != "" {
		addr, err := parseAddress(req.To)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		to = addr
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Faucet(r.Context(), to, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AmountResponse{Amount: amount.String(), LedgerRoot: s.node.Ledger().Root()})
}

func harvestResponse(result *controller.HarvestResult) api.HarvestResponse {
	out := api.HarvestResponse{
		Succeeded:     []string{},
		Failures:      []api.StrategyFailure{},
		Distributions: []api.Distribution{},
	}
	if result == nil {
		return out
	}
	if result.Report != nil {
		out.Succeeded = append(out.Succeeded, result.Report.Succeeded...)
		for _, f := range result.Report.Failures {
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
			}
			out.Failures = append(out.Failures, api.StrategyFailure{Strategy: f.StrategyID, Error: msg})
		}
	}
	for _, d := range result.Distributions {
		out.Distributions = append(out.Distributions, distribution(d))
	}
	return out
}

func distribution(d *treasury.Distribution) api.Distribution {
	out := api.Distribution{
		Token:    d.Token.Hex(),
		AmountIn: amountString(d.AmountIn),
		Proceeds: amountString(d.Proceeds),
		Router:   d.Router,
		Payouts:  make([]api.Payout, 0, len(d.Payouts)),
	}
	for _, p := range d.Payouts {
		out.Payouts = append(out.Payouts, api.Payout{
			Recipient: p.Recipient.Hex(),
			Label:     p.Label,
			Amount:    amountString(p.Amount),
		})
	}
	return out
}
