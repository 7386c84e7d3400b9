package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "identities_external_id_key"}, ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: "23503"}, ErrNotFound},
		{"not null", &pgconn.PgError{Code: "23502"}, ErrInvalid},
		{"bad encoding", &pgconn.PgError{Code: "22P02"}, ErrInvalid},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, ErrUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrUnavailable},
		{"already classified", fmt.Errorf("wrapped: %w", ErrDuplicate), ErrDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if Classify(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	plain := errors.New("boom")
	if got := Classify(plain); got != plain {
		t.Fatalf("expected unknown errors to pass through, got %v", got)
	}
}

func TestMemoryTransactorNested(t *testing.T) {
	tx := NewMemoryTransactor()
	ctx := context.Background()

	calls := 0
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		calls++
		return tx.WithinTx(ctx, func(context.Context) error {
			calls++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both units to run, got %d", calls)
	}
}
