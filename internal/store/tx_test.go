package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryTransactorRevertsFailedUnit(t *testing.T) {
	tx := NewMemoryTransactor()
	rows := map[string]bool{}
	write := func(ctx context.Context, id string) {
		rows[id] = true
		RegisterUndo(ctx, func() { delete(rows, id) })
	}

	if err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		write(ctx, "kept")
		return nil
	}); err != nil {
		t.Fatalf("commit unit: %v", err)
	}

	boom := errors.New("boom")
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		write(ctx, "a")
		return tx.WithinTx(ctx, func(ctx context.Context) error {
			write(ctx, "b")
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(rows) != 1 || !rows["kept"] {
		t.Fatalf("expected only the committed row, got %v", rows)
	}
}

func TestRegisterUndoOutsideUnitIsNoop(t *testing.T) {
	called := false
	RegisterUndo(context.Background(), func() { called = true })
	if called {
		t.Fatal("undo ran outside a unit")
	}
}
