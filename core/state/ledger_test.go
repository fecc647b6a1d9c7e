package state

import (
	"math/big"
	"testing"

	"dough/core/events"
	"dough/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	ledger, err := NewLedger(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger, db
}

func TestLedgerRevertRestoresPriorValues(t *testing.T) {
	ledger, _ := newTestLedger(t)
	key := Key("test", []byte("balance"))
	if err := ledger.PutBig(key, big.NewInt(10)); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap := ledger.Snapshot()
	if err := ledger.PutBig(key, big.NewInt(25)); err != nil {
		t.Fatalf("put: %v", err)
	}
	ledger.Emit(events.FeeUpdated{Previous: 1, Current: 2})
	ledger.RevertToSnapshot(snap)

	got, err := ledger.GetBig(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected 10 after revert, got %s", got)
	}
	emitted, err := ledger.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("expected reverted event to be dropped, got %d", len(emitted))
	}
}

func TestLedgerCommitPersistsAndAdvancesRoot(t *testing.T) {
	ledger, db := newTestLedger(t)
	before := ledger.Root()
	key := Key("test", []byte("x"))
	if err := ledger.PutRLP(key, []string{"a", "b"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := ledger.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ledger.Root() == before {
		t.Fatalf("expected root to change")
	}
	if ledger.Dirty() {
		t.Fatalf("expected clean ledger after commit")
	}

	reopened, err := NewLedger(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var out []string
	ok, err := reopened.GetRLP(key, &out)
	if err != nil || !ok {
		t.Fatalf("expected persisted record, ok=%v err=%v", ok, err)
	}
	if len(out) != 2 || out[1] != "b" {
		t.Fatalf("unexpected record %v", out)
	}
	if reopened.Root() != ledger.Root() {
		t.Fatalf("root not persisted")
	}
}

func TestLedgerZeroAmountDeletes(t *testing.T) {
	ledger, _ := newTestLedger(t)
	key := Key("test", []byte("zero"))
	if err := ledger.PutBig(key, big.NewInt(5)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ledger.PutBig(key, new(big.Int)); err != nil {
		t.Fatalf("put zero: %v", err)
	}
	if _, ok, _ := ledger.Get(key); ok {
		t.Fatalf("expected zero amount to delete the key")
	}
	if err := ledger.PutBig(key, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative amount to be rejected")
	}
}
