package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/biosync/biosync/internal/identity"
)

func TestResolveRoundTrip(t *testing.T) {
	ids := identity.NewService(identity.NewMemoryRepository())
	ctx := context.Background()
	who, err := ids.Create(ctx, identity.CreateInput{ExternalID: "EXT-1", GivenNames: "Ana"})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}

	s := NewSessions("secret", ids)
	token, err := s.Issue(who.ID, "dev-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := s.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != who.ID {
		t.Fatalf("expected subject %s got %s", who.ID, got)
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	s := NewSessions("secret", nil)
	other := NewSessions("other", nil)

	forged, err := other.Issue("id-1", "", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Resolve(context.Background(), forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign signature, got %v", err)
	}

	expired, err := s.Issue("id-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Resolve(context.Background(), expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for expired session, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "id-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Resolve(context.Background(), none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestResolveRejectsUnknownSubject(t *testing.T) {
	s := NewSessions("secret", identity.NewService(identity.NewMemoryRepository()))
	token, err := s.Issue("7c1d2c1e-0000-4000-8000-000000000000", "", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Resolve(context.Background(), token); err == nil {
		t.Fatal("expected unknown subject to be rejected")
	}
}
