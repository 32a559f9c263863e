package db

import (
	"context"
	"sync"
)

// MemoryTransactor gives in-memory repositories the same all-or-nothing
// semantics as Postgres. Transactions are serialized; each one keeps an undo
// log that repositories append to through OnRollback, replayed in reverse
// when fn fails.
type MemoryTransactor struct {
	mu sync.Mutex
}

func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

type memTx struct {
	undo []func()
}

type memTxKey struct{}

func (t *MemoryTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &memTx{}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(context.WithValue(ctx, memTxKey{}, tx))
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// OnRollback registers undo to run if the transaction bound to ctx fails.
// Outside a transaction the change is final and undo is dropped.
func OnRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}
