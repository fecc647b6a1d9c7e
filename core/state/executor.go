package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"dough/core/events"
)

// ErrReentrant is returned when a collaborator calls back into the protocol
// while one of its operations is still in flight.
var ErrReentrant = errors.New("state: re-entrant call rejected")

// ErrBusy is returned when the writer slot stays taken for longer than the
// acquire timeout.
var ErrBusy = errors.New("state: writer busy")

// DefaultAcquireTimeout bounds how long an operation waits for the writer
// slot.
const DefaultAcquireTimeout = 30 * time.Second

type ctxKey int

const (
	txKey ctxKey = iota
	externalKey
)

// Observer receives the outcome of every top-level operation.
type Observer func(op string, elapsed time.Duration, err error)

// Executor serialises operations against a ledger. Each top-level operation
// commits in full or leaves the ledger untouched.
type Executor struct {
	ledger   *Ledger
	sem      *semaphore.Weighted
	emitter  events.Emitter
	logger   *slog.Logger
	observer Observer
	nowFn    func() time.Time
	timeout  time.Duration
	calling  atomic.Int32
}

// Option customises an Executor.
type Option func(*Executor)

// WithEmitter forwards committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Executor) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver installs an operation observer, typically a metrics recorder.
func WithObserver(observer Observer) Option {
	return func(e *Executor) { e.observer = observer }
}

// WithAcquireTimeout bounds the wait for the writer slot. Zero waits for as
// long as the caller's context allows.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(e *Executor) { e.timeout = timeout }
}

// NewExecutor constructs an executor over ledger.
func NewExecutor(ledger *Ledger, opts ...Option) *Executor {
	e := &Executor{
		ledger:  ledger,
		sem:     semaphore.NewWeighted(1),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   time.Now,
		timeout: DefaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger exposes the underlying ledger.
func (e *Executor) Ledger() *Ledger { return e.ledger }

// SetEmitter replaces the committed-event sink.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// External marks ctx as handed to an external collaborator. Any executor
// entry made with the returned context fails with ErrReentrant.
func External(ctx context.Context) context.Context {
	return context.WithValue(ctx, externalKey, true)
}

// CallOut runs fn, a call into a collaborator, with an external context.
// While it runs, an entry that gives up waiting for the writer slot is
// reported as ErrReentrant: the collaborator is calling back without the
// context it was handed.
func (e *Executor) CallOut(ctx context.Context, fn func(ctx context.Context) error) error {
	e.calling.Add(1)
	defer e.calling.Add(-1)
	return fn(External(ctx))
}

// IsExternal reports whether ctx was handed to a collaborator.
func IsExternal(ctx context.Context) bool {
	v, _ := ctx.Value(externalKey).(bool)
	return v
}

// InTx reports whether ctx belongs to an operation in flight.
func InTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey).(bool)
	return v
}

// Run executes fn as an atomic protocol operation. Calls made from inside
// another operation run under a nested snapshot instead of taking the writer
// slot. Calls arriving through a collaborator fail with ErrReentrant.
func (e *Executor) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if IsExternal(ctx) {
		return fmt.Errorf("%s: %w", op, ErrReentrant)
	}
	return e.Atomic(ctx, op, fn)
}

// Atomic is Run without the re-entry check. Collaborator venues (tokens,
// pools, routers) use it so they can be driven both directly and from
// inside a protocol operation.
func (e *Executor) Atomic(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		snap := e.ledger.Snapshot()
		if err := fn(ctx); err != nil {
			e.ledger.RevertToSnapshot(snap)
			return err
		}
		return nil
	}
	if err := e.acquire(ctx, op); err != nil {
		return err
	}
	defer e.sem.Release(1)

	start := e.nowFn()
	err := e.runTop(context.WithValue(ctx, txKey, true), op, fn)
	if e.observer != nil {
		e.observer(op, e.nowFn().Sub(start), err)
	}
	return err
}

func (e *Executor) acquire(ctx context.Context, op string) error {
	if e.sem.TryAcquire(1) {
		return nil
	}
	wait := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.sem.Acquire(wait, 1); err != nil {
		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case e.calling.Load() > 0:
			return fmt.Errorf("%s: %w", op, ErrReentrant)
		default:
			return fmt.Errorf("%s: %w", op, ErrBusy)
		}
	}
	return nil
}

func (e *Executor) runTop(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.ledger.Discard()
			panic(r)
		}
	}()
	if err = fn(ctx); err != nil {
		e.ledger.Discard()
		e.logger.Debug("operation reverted", slog.String("op", op), slog.String("error", err.Error()))
		return err
	}
	emitted, err := e.ledger.Commit()
	if err != nil {
		e.ledger.Discard()
		e.logger.Error("commit failed", slog.String("op", op), slog.String("error", err.Error()))
		return err
	}
	for _, ev := range emitted {
		e.emitter.Emit(ev)
	}
	return nil
}

// View runs a read-only function against a consistent ledger view. Writes
// made by fn are discarded.
func (e *Executor) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	if err := e.acquire(ctx, "view"); err != nil {
		return err
	}
	defer e.sem.Release(1)
	defer e.ledger.Discard()
	return fn(context.WithValue(ctx, txKey, true))
}
