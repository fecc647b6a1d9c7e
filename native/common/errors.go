package common

import (
	"errors"
	"fmt"
)

// Error kinds. Every protocol error wraps exactly one of them so callers can
// branch with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrLiquidity     = errors.New("liquidity error")
	ErrExternal      = errors.New("external failure")
	ErrSlippage      = errors.New("slippage error")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// NewError builds a sentinel that matches kind under errors.Is.
func NewError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrZeroAmount            = NewError(ErrValidation, "zero amount")
	ErrNegativeAmount        = NewError(ErrValidation, "negative amount")
	ErrInvalidFee            = NewError(ErrValidation, "fee bps out of range")
	ErrInvalidWeights        = NewError(ErrValidation, "invalid weights")
	ErrInvalidSlippage       = NewError(ErrValidation, "slippage bps out of range")
	ErrInsufficientAllowance = NewError(ErrValidation, "insufficient allowance")
	ErrInsufficientBalance   = NewError(ErrValidation, "insufficient balance")
	ErrUnknownVenue          = NewError(ErrValidation, "unknown venue")
	ErrUnauthorized          = NewError(ErrAuthorization, "caller lacks capability")
	ErrInsufficientLiquidity = NewError(ErrLiquidity, "insufficient liquidity")
	ErrSlippageExceeded      = NewError(ErrSlippage, "slippage exceeded")
)

// ExternalError wraps a collaborator failure.
type ExternalError struct {
	Collaborator string
	Err          error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrExternal, e.Collaborator, e.Err)
}

func (e *ExternalError) Unwrap() []error { return []error{ErrExternal, e.Err} }

// External tags err as a failure of the named collaborator. Errors that
// already carry a kind keep it; ErrExternal is added alongside.
func External(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Collaborator: collaborator, Err: err}
}

// Kind returns the kind sentinel carried by err, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrAuthorization, ErrSlippage, ErrLiquidity, ErrModulePaused, ErrExternal} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
