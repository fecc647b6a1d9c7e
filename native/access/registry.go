// Package access stores capability grants as ledger records. A role has at
// most one holder; granting it again replaces the previous holder.
package access

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/events"
	"dough/core/state"
	nativecommon "dough/native/common"
)

const (
	RoleAdmin      = "admin"
	RoleGovernance = "governance"
)

// Grant is the stored form of a capability.
type Grant struct {
	Role      string
	Holder    common.Address
	GrantedBy common.Address
	Nonce     uint64
}

type pauseRecord struct {
	Paused bool
}

var nonceKey = state.Key("access", []byte("nonce"))

func grantKey(role string) []byte {
	return state.Key("access", []byte("grant"), []byte(role))
}

func pauseKey(module string) []byte {
	return state.Key("access", []byte("pause"), []byte(module))
}

// Registry reads and writes grants.
type Registry struct {
	exec   *state.Executor
	ledger *state.Ledger
}

// NewRegistry constructs a registry bound to exec.
func NewRegistry(exec *state.Executor) *Registry {
	return &Registry{exec: exec, ledger: exec.Ledger()}
}

// Bootstrap installs the first admin when none exists.
func (r *Registry) Bootstrap(ctx context.Context, admin common.Address) error {
	return r.exec.Run(ctx, "access.bootstrap", func(ctx context.Context) error {
		if _, ok, err := r.Holder(RoleAdmin); err != nil || ok {
			return err
		}
		return r.put(RoleAdmin, admin, admin)
	})
}

// Grant assigns role to holder. Only the admin may grant.
func (r *Registry) Grant(ctx context.Context, caller common.Address, role string, holder common.Address) error {
	role = nativecommon.NormalizeLabel(role)
	if role == "" || holder == (common.Address{}) {
		return fmt.Errorf("access: %w: role and holder required", nativecommon.ErrValidation)
	}
	return r.exec.Run(ctx, "access.grant", func(ctx context.Context) error {
		if err := r.Require(RoleAdmin, caller); err != nil {
			return err
		}
		return r.put(role, holder, caller)
	})
}

// GrantInternal assigns role on behalf of a component during wiring. It is
// not reachable from the admin surface.
func (r *Registry) GrantInternal(ctx context.Context, role string, holder common.Address) error {
	return r.exec.Run(ctx, "access.grant_internal", func(ctx context.Context) error {
		return r.put(nativecommon.NormalizeLabel(role), holder, common.Address{})
	})
}

// Revoke clears role.
func (r *Registry) Revoke(ctx context.Context, caller common.Address, role string) error {
	role = nativecommon.NormalizeLabel(role)
	return r.exec.Run(ctx, "access.revoke", func(ctx context.Context) error {
		if err := r.Require(RoleAdmin, caller); err != nil {
			return err
		}
		if role == RoleAdmin {
			return fmt.Errorf("access: %w: admin cannot be revoked, transfer it instead", nativecommon.ErrValidation)
		}
		prev, ok, err := r.Holder(role)
		if err != nil || !ok {
			return err
		}
		if err := r.ledger.Delete(grantKey(role)); err != nil {
			return err
		}
		r.ledger.Emit(events.RoleRevoked{Role: role, Holder: prev, RevokedBy: caller})
		return nil
	})
}

func (r *Registry) put(role string, holder, by common.Address) error {
	prev, had, err := r.Holder(role)
	if err != nil {
		return err
	}
	if had && prev == holder {
		return nil
	}
	nonce, err := r.ledger.GetBig(nonceKey)
	if err != nil {
		return err
	}
	nonce.Add(nonce, common.Big1)
	if err := r.ledger.PutBig(nonceKey, nonce); err != nil {
		return err
	}
	grant := Grant{Role: role, Holder: holder, GrantedBy: by, Nonce: nonce.Uint64()}
	if err := r.ledger.PutRLP(grantKey(role), &grant); err != nil {
		return err
	}
	if had {
		r.ledger.Emit(events.RoleRevoked{Role: role, Holder: prev, RevokedBy: by})
	}
	r.ledger.Emit(events.RoleGranted{Role: role, Holder: holder, GrantedBy: by, Nonce: grant.Nonce})
	return nil
}

// Lookup returns the full grant record for role.
func (r *Registry) Lookup(role string) (*Grant, error) {
	grant := new(Grant)
	ok, err := r.ledger.GetRLP(grantKey(nativecommon.NormalizeLabel(role)), grant)
	if err != nil || !ok {
		return nil, err
	}
	return grant, nil
}

// Holder returns the current holder of role.
func (r *Registry) Holder(role string) (common.Address, bool, error) {
	grant, err := r.Lookup(role)
	if err != nil || grant == nil {
		return common.Address{}, false, err
	}
	return grant.Holder, true, nil
}

// Has reports whether addr holds role.
func (r *Registry) Has(role string, addr common.Address) bool {
	holder, ok, err := r.Holder(role)
	return err == nil && ok && holder == addr
}

// Require fails with an authorization error unless caller holds role.
func (r *Registry) Require(role string, caller common.Address) error {
	if !r.Has(role, caller) {
		return fmt.Errorf("%w: %s required for %s", nativecommon.ErrUnauthorized, role, caller.Hex())
	}
	return nil
}

// SetPaused toggles the pause flag of module. Admin only.
func (r *Registry) SetPaused(ctx context.Context, caller common.Address, module string, paused bool) error {
	module = nativecommon.NormalizeLabel(module)
	return r.exec.Run(ctx, "access.pause", func(ctx context.Context) error {
		if err := r.Require(RoleAdmin, caller); err != nil {
			return err
		}
		if paused {
			if err := r.ledger.PutRLP(pauseKey(module), &pauseRecord{Paused: true}); err != nil {
				return err
			}
		} else if err := r.ledger.Delete(pauseKey(module)); err != nil {
			return err
		}
		r.ledger.Emit(events.ModulePaused{Module: module, Paused: paused})
		return nil
	})
}

// IsPaused implements common.PauseView.
func (r *Registry) IsPaused(module string) bool {
	var rec pauseRecord
	ok, err := r.ledger.GetRLP(pauseKey(nativecommon.NormalizeLabel(module)), &rec)
	return err == nil && ok && rec.Paused
}
