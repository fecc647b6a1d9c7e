package state

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"dough/core/events"
	"dough/storage"
)

var rootKey = []byte("dough:ledger-root")

type entry struct {
	value   []byte
	deleted bool
}

type journalKind uint8

const (
	journalWrite journalKind = iota
	journalEvent
)

type journalEntry struct {
	kind    journalKind
	key     string
	prev    entry
	hadPrev bool
}

// Ledger is a journaled key/value overlay on top of a storage backend. Writes
// stay in memory until Commit; any snapshot can be reverted, which also drops
// the events emitted after it.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	dirty   map[string]entry
	journal []journalEntry
	pending []events.Event
	root    [32]byte
}

// NewLedger opens a ledger over the provided backend.
func NewLedger(db storage.Database) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("state: nil database")
	}
	l := &Ledger{db: db, dirty: make(map[string]entry)}
	stored, err := db.Get(rootKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load root: %w", err)
	default:
		copy(l.root[:], stored)
	}
	return l, nil
}

// Key hashes a namespaced key with keccak256 so record keys have a fixed width.
func Key(namespace string, parts ...[]byte) []byte {
	buf := bytes.NewBufferString(namespace)
	for _, part := range parts {
		buf.WriteByte(':')
		buf.Write(part)
	}
	return ethcrypto.Keccak256(buf.Bytes())
}

// Get returns the current value of key, including uncommitted writes.
func (l *Ledger) Get(key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, fmt.Errorf("state: key must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.dirty[string(key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), e.value...), true, nil
	}
	value, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stages a write.
func (l *Ledger) Put(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stage(string(key), entry{value: append([]byte(nil), value...)})
	return nil
}

// Delete stages a removal.
func (l *Ledger) Delete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stage(string(key), entry{deleted: true})
	return nil
}

func (l *Ledger) stage(key string, next entry) {
	prev, had := l.dirty[key]
	l.journal = append(l.journal, journalEntry{kind: journalWrite, key: key, prev: prev, hadPrev: had})
	l.dirty[key] = next
}

// Emit buffers an event until the surrounding operation commits.
func (l *Ledger) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, ev)
	l.journal = append(l.journal, journalEntry{kind: journalEvent})
}

// Snapshot returns a revision identifier for RevertToSnapshot.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every write and event recorded after id.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		j := l.journal[i]
		switch j.kind {
		case journalEvent:
			l.pending = l.pending[:len(l.pending)-1]
		case journalWrite:
			if j.hadPrev {
				l.dirty[j.key] = j.prev
			} else {
				delete(l.dirty, j.key)
			}
		}
	}
	if id < len(l.journal) {
		l.journal = l.journal[:id]
	}
}

// Discard drops all uncommitted writes and events.
func (l *Ledger) Discard() {
	l.RevertToSnapshot(0)
}

// Commit flushes staged writes to the backend in one batch, advances the
// ledger root and returns the events emitted since the last commit.
func (l *Ledger) Commit() ([]events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.dirty) == 0 {
		emitted := l.pending
		l.pending = nil
		l.journal = nil
		return emitted, nil
	}
	keys := make([]string, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := blake3.New(32, nil)
	hasher.Write(l.root[:])
	batch := new(storage.Batch)
	for _, k := range keys {
		e := l.dirty[k]
		hasher.Write([]byte(k))
		if e.deleted {
			hasher.Write([]byte{0})
			batch.Delete([]byte(k))
			continue
		}
		hasher.Write([]byte{1})
		hasher.Write(e.value)
		batch.Put([]byte(k), e.value)
	}
	var next [32]byte
	copy(next[:], hasher.Sum(nil))
	batch.Put(rootKey, next[:])
	if err := l.db.Apply(batch); err != nil {
		return nil, fmt.Errorf("state: commit: %w", err)
	}
	l.root = next
	emitted := l.pending
	l.dirty = make(map[string]entry)
	l.journal = nil
	l.pending = nil
	return emitted, nil
}

// Root returns the digest chaining every committed batch.
func (l *Ledger) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return hex.EncodeToString(l.root[:])
}

// Dirty reports whether uncommitted writes exist.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dirty) > 0
}

// GetRLP decodes the value stored under key into out.
func (l *Ledger) GetRLP(key []byte, out interface{}) (bool, error) {
	data, ok, err := l.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

// PutRLP stores value under key using RLP encoding.
func (l *Ledger) PutRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return l.Put(key, encoded)
}

// GetBig returns the integer stored under key, zero when absent.
func (l *Ledger) GetBig(key []byte) (*big.Int, error) {
	out := new(big.Int)
	if _, err := l.GetRLP(key, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutBig stores a non-negative integer.
func (l *Ledger) PutBig(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	if value.Sign() == 0 {
		return l.Delete(key)
	}
	return l.PutRLP(key, value)
}
