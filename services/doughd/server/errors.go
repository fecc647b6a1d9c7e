package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/state"
	nativecommon "dough/native/common"
	"dough/services/doughd/api"
)

var errBadRequest = nativecommon.NewError(nativecommon.ErrValidation, "bad request")

// statusFor maps a protocol error onto an HTTP status and a short kind label.
// Paused and slippage are checked first: a paused module may surface through
// a collaborator, and slippage failures can be wrapped as external.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusLocked, "paused"
	case errors.Is(err, nativecommon.ErrSlippage):
		return http.StatusConflict, "slippage"
	case errors.Is(err, nativecommon.ErrLiquidity):
		return http.StatusConflict, "liquidity"
	case errors.Is(err, state.ErrReentrant):
		return http.StatusConflict, "reentrant"
	case errors.Is(err, state.ErrBusy):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, nativecommon.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, nativecommon.ErrAuthorization):
		return http.StatusForbidden, "authorization"
	case errors.Is(err, nativecommon.ErrExternal):
		return http.StatusBadGateway, "external"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, api.Error{Error: err.Error(), Kind: kind})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: amount required", errBadRequest)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", errBadRequest, raw)
	}
	return amount, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errBadRequest, raw)
	}
	return common.HexToAddress(raw), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
