package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/native/router"
	"dough/native/splitter"
	"dough/native/treasury"
	"dough/services/doughd/api"
	"dough/services/doughd/audit"
	"dough/services/doughd/auth"
)

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.FeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Hub().SetFeeBps(r.Context(), id.Address, req.FeeBps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "fee_bps", strconv.FormatUint(req.FeeBps, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStrategies(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.StrategiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := make([]splitter.Allocation, 0, len(req.Strategies))
	for _, a := range req.Strategies {
		entries = append(entries, splitter.Allocation{StrategyID: a.Strategy, WeightBps: a.WeightBps})
	}
	if err := s.node.Hub().UpdateStrategyWeights(r.Context(), id.Address, entries); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "strategies", strconv.Itoa(len(entries)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRecipients(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.RecipientsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	recipients := make([]treasury.Recipient, 0, len(req.Recipients))
	for _, rec := range req.Recipients {
		addr, err := parseAddress(rec.Address)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		recipients = append(recipients, treasury.Recipient{Address: addr, WeightBps: rec.WeightBps, Label: rec.Label})
	}
	if err := s.node.Hub().UpdateTreasuryRecipients(r.Context(), id.Address, recipients); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "recipients", strconv.Itoa(len(recipients)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSlippage(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.SlippageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Hub().SetDexSlippageBps(r.Context(), id.Address, req.SlippageBps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "slippage_bps", strconv.FormatUint(req.SlippageBps, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPath(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.PathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, err := parseAddress(req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hops := make([]common.Address, 0, len(req.Tokens))
	for _, raw := range req.Tokens {
		addr, err := parseAddress(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		hops = append(hops, addr)
	}
	path, err := router.EncodePath(hops, req.Fees)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.node.Hub().SetDexPath(r.Context(), id.Address, tok, path); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "path", tok.Hex())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRouters(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.RoutersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Hub().SetRouters(r.Context(), id.Address, req.Primary, req.Fallback); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "routers", req.Primary+","+req.Fallback)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req api.PauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Hub().SetPaused(r.Context(), id.Address, req.Module, req.Paused); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.auditLog(r, "pause."+req.Module, strconv.FormatBool(req.Paused))
	w.WriteHeader(http.StatusNoContent)
}

// handleAuditExport streams audit records as parquet. Query parameters
// type, account, since (RFC 3339) and limit narrow the export.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit store disabled", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{Type: q.Get("type"), Account: q.Get("account")}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: since: %v", errBadRequest, err))
			return
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		filter.Limit = limit
	}
	var buf bytes.Buffer
	n, err := s.audit.Export(r.Context(), &buf, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="dough-audit.parquet"`)
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) auditLog(r *http.Request, setting, value string) {
	id, _ := auth.FromContext(r.Context())
	s.logger.Info("admin setting changed",
		"op", setting,
		"value", value,
		"caller", id.Address.Hex())
}
