package access

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dough/core/events"
	"dough/core/state"
	nativecommon "dough/native/common"
	"dough/storage"
)

func newRegistry(t *testing.T) (*Registry, *events.Recorder) {
	t.Helper()
	ledger, err := state.NewLedger(storage.NewMemDB())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	recorder := &events.Recorder{}
	return NewRegistry(state.NewExecutor(ledger, state.WithEmitter(recorder))), recorder
}

func TestGrantReplacesPreviousHolder(t *testing.T) {
	ctx := context.Background()
	reg, recorder := newRegistry(t)
	admin := common.HexToAddress("0x01")
	first := common.HexToAddress("0x02")
	second := common.HexToAddress("0x03")
	if err := reg.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := reg.Grant(ctx, admin, "controller.vault", first); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := reg.Grant(ctx, admin, "controller.vault", second); err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if reg.Has("controller.vault", first) {
		t.Fatalf("previous holder kept the grant")
	}
	if !reg.Has("controller.vault", second) {
		t.Fatalf("new holder missing grant")
	}
	if got := len(recorder.OfType(events.TypeRoleRevoked)); got != 1 {
		t.Fatalf("expected one revoke event, got %d", got)
	}
	grant, err := reg.Lookup("controller.vault")
	if err != nil || grant == nil {
		t.Fatalf("lookup: %v", err)
	}
	if grant.GrantedBy != admin || grant.Nonce != 3 {
		t.Fatalf("unexpected grant record %+v", grant)
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	admin := common.HexToAddress("0x01")
	stranger := common.HexToAddress("0x09")
	if err := reg.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	err := reg.Grant(ctx, stranger, RoleGovernance, stranger)
	if !errors.Is(err, nativecommon.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if reg.Has(RoleGovernance, stranger) {
		t.Fatalf("grant must not survive a rejected call")
	}
}

func TestRevokeAndPause(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	admin := common.HexToAddress("0x01")
	gov := common.HexToAddress("0x05")
	if err := reg.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := reg.Grant(ctx, admin, RoleGovernance, gov); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := reg.Revoke(ctx, admin, RoleGovernance); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if reg.Has(RoleGovernance, gov) {
		t.Fatalf("expected revoked grant")
	}
	if err := reg.Revoke(ctx, admin, RoleAdmin); !errors.Is(err, nativecommon.ErrValidation) {
		t.Fatalf("expected admin revoke to be rejected, got %v", err)
	}
	if err := reg.SetPaused(ctx, admin, "Vault", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := nativecommon.Guard(reg, "vault"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused guard, got %v", err)
	}
	if err := reg.SetPaused(ctx, admin, "vault", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if reg.IsPaused("vault") {
		t.Fatalf("expected unpaused module")
	}
}
