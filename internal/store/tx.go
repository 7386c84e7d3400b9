package store

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactor runs fn as one atomic unit. Repositories pick up the unit through the
// context (see Conn), so callers never handle the transaction directly.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PostgresTransactor binds a pgx.Tx to the context for the duration of fn.
type PostgresTransactor struct {
	db *pgxpool.Pool
}

// NewPostgresTransactor builds a transactor over the shared pool.
func NewPostgresTransactor(db *pgxpool.Pool) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx commits when fn returns nil and rolls back otherwise. Nested calls reuse
// the outer transaction.
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Classify(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return Classify(tx.Commit(ctx))
}

// MemoryTransactor serializes units of work against the in-memory repositories.
// Repositories register compensations with RegisterUndo; when a unit fails they run
// in reverse order before the lock is released, so a failed unit leaves no rows.
type MemoryTransactor struct {
	mu sync.Mutex
}

type memUnit struct {
	undo []func()
}

// RegisterUndo records fn to revert a write if the enclosing memory unit fails.
// Outside a memory unit it does nothing.
func RegisterUndo(ctx context.Context, fn func()) {
	if u, ok := ctx.Value(memTxKey{}).(*memUnit); ok {
		u.undo = append(u.undo, fn)
	}
}

// NewMemoryTransactor builds a transactor for memory-backed wiring and tests.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

type memTxKey struct{}

// WithinTx runs fn while holding the unit lock and reverts its writes when fn fails.
// Nested calls join the outer unit.
func (t *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memUnit); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	unit := &memUnit{}
	err := fn(context.WithValue(ctx, memTxKey{}, unit))
	if err != nil {
		for i := len(unit.undo) - 1; i >= 0; i-- {
			unit.undo[i]()
		}
	}
	return err
}
