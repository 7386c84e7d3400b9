package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/biosync/biosync/internal/store"
)

func TestRecordAndLookup(t *testing.T) {
	m := NewMapper(NewMemoryRepository())
	ctx := context.Background()

	if _, ok, err := m.Lookup(ctx, "dev-1", "local-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	rec, err := m.Record(ctx, Mapping{DeviceID: "dev-1", LocalUUID: "local-1", EntityType: "usuario", RemoteID: "remote-1"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("expected created timestamp")
	}

	got, ok, err := m.Lookup(ctx, "dev-1", "local-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.RemoteID != "remote-1" {
		t.Fatalf("unexpected remote id %s", got.RemoteID)
	}

	// Same local uuid on another device is a different key.
	if _, ok, _ := m.Lookup(ctx, "dev-2", "local-1"); ok {
		t.Fatalf("mapping leaked across devices")
	}
}

func TestRecordIsImmutable(t *testing.T) {
	m := NewMapper(NewMemoryRepository())
	ctx := context.Background()

	if _, err := m.Record(ctx, Mapping{DeviceID: "dev-1", LocalUUID: "l", RemoteID: "first"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := m.Record(ctx, Mapping{DeviceID: "dev-1", LocalUUID: "l", RemoteID: "second"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	got, _, _ := m.Lookup(ctx, "dev-1", "l")
	if got.RemoteID != "first" {
		t.Fatalf("mapping was overwritten: %s", got.RemoteID)
	}
}

func TestRecordWithoutLocalUUIDIsNotPersisted(t *testing.T) {
	m := NewMapper(NewMemoryRepository())
	ctx := context.Background()
	if _, err := m.Record(ctx, Mapping{DeviceID: "dev-1", RemoteID: "r"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := m.Record(ctx, Mapping{DeviceID: "dev-1", RemoteID: "r2"}); err != nil {
		t.Fatalf("second record without local uuid: %v", err)
	}
}
