package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/biosync/biosync/internal/store"
)

func TestCreateAndGet(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{ExternalID: "CI-0912345678", GivenNames: "Ana", FamilyNames: "Mora"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.State != StateActive {
		t.Fatalf("expected default state active, got %s", created.State)
	}

	fetched, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.ExternalID != "CI-0912345678" {
		t.Fatalf("unexpected external id %s", fetched.ExternalID)
	}
}

func TestCreateDuplicateExternalID(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{ExternalID: "dup", GivenNames: "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{ExternalID: "dup", GivenNames: "B"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{GivenNames: "A"}); !errors.Is(err, ErrExternalIDRequired) {
		t.Fatalf("expected missing external id, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{ExternalID: "x"}); !errors.Is(err, ErrNamesRequired) {
		t.Fatalf("expected missing names, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{ExternalID: "x", GivenNames: "A", State: "archived"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestVisibleAppliesSharingPolicy(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	caller, _ := svc.Create(ctx, CreateInput{ExternalID: "caller", GivenNames: "C", State: StateSuspended})
	_, _ = svc.Create(ctx, CreateInput{ExternalID: "active", GivenNames: "A"})
	_, _ = svc.Create(ctx, CreateInput{ExternalID: "gone", GivenNames: "G", State: StateDeleted})

	visible, err := svc.Visible(ctx, caller.ID)
	if err != nil {
		t.Fatalf("visible: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("expected caller plus one active identity, got %d", len(visible))
	}
	for _, v := range visible {
		if v.ExternalID == "gone" {
			t.Fatalf("deleted identity must not be visible")
		}
	}
}
