// Package audit persists every committed protocol event together with the
// ledger root it was committed under.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dough/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnsupportedDriver = errors.New("audit: unsupported driver")

// Record is one committed event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	LedgerRoot string    `gorm:"size:64;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "audit_records" }

// Filter narrows List and Export.
type Filter struct {
	Type    string
	Account string
	Since   time.Time
	Limit   int
}

// Store writes audit records. It implements events.Emitter.
type Store struct {
	db     *gorm.DB
	root   func() string
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	seq uint64
}

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the audit schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// NewStore wraps db. root reports the ledger root stamped on each record.
func NewStore(db *gorm.DB, root func() string) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if root == nil {
		root = func() string { return "" }
	}
	s := &Store{db: db, root: root, now: time.Now, logger: slog.Default().With(slog.String("component", "audit"))}
	var last Record
	err := db.Order("seq desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("audit: load sequence: %w", err)
	}
	s.seq = last.Seq
	return s, nil
}

func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Emit records ev, logging failures. Audit writes never fail an operation
// that has already committed.
func (s *Store) Emit(ev events.Event) {
	if s == nil || ev == nil {
		return
	}
	if err := s.Record(context.Background(), ev); err != nil {
		s.logger.Error("audit write failed", slog.String("type", ev.EventType()), slog.String("error", err.Error()))
	}
}

// Record persists ev.
func (s *Store) Record(ctx context.Context, ev events.Event) error {
	payload := ev.Event()
	if payload == nil {
		return nil
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return fmt.Errorf("audit: encode attributes: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{
		ID:         uuid.New(),
		Seq:        s.seq + 1,
		Type:       payload.Type,
		Account:    strings.ToLower(payload.Attributes["account"]),
		Attributes: string(attrs),
		LedgerRoot: s.root(),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	s.seq = rec.Seq
	return nil
}

// List returns records matching f in sequence order.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	q := s.db.WithContext(ctx).Model(&Record{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Account != "" {
		q = q.Where("account = ?", strings.ToLower(f.Account))
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []Record
	if err := q.Order("seq asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

// AttributeMap decodes the stored attribute map of rec.
func (rec Record) AttributeMap() (map[string]string, error) {
	out := make(map[string]string)
	if err := json.Unmarshal([]byte(rec.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}
