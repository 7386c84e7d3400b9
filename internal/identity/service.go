package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biosync/biosync/internal/store"
)

var (
	// ErrExternalIDRequired is returned when the unique external identifier is missing.
	ErrExternalIDRequired = fmt.Errorf("identificador_unico is required: %w", store.ErrInvalid)
	// ErrNamesRequired is returned when the given names are missing.
	ErrNamesRequired = fmt.Errorf("nombres is required: %w", store.ErrInvalid)
	// ErrInvalidState is returned for a lifecycle state outside active/suspended/deleted.
	ErrInvalidState = fmt.Errorf("identity state: %w", store.ErrInvalid)
)

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create validates the input, mints a server id and stores the identity.
func (s *Service) Create(ctx context.Context, in CreateInput) (Identity, error) {
	if strings.TrimSpace(in.ExternalID) == "" {
		return Identity{}, ErrExternalIDRequired
	}
	if strings.TrimSpace(in.GivenNames) == "" {
		return Identity{}, ErrNamesRequired
	}
	state := in.State
	if state == "" {
		state = StateActive
	}
	switch state {
	case StateActive, StateSuspended, StateDeleted:
	default:
		return Identity{}, ErrInvalidState
	}

	identity := Identity{
		ID:          uuid.New().String(),
		ExternalID:  strings.TrimSpace(in.ExternalID),
		GivenNames:  in.GivenNames,
		FamilyNames: in.FamilyNames,
		State:       state,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Get retrieves an identity by server id.
func (s *Service) Get(ctx context.Context, id string) (Identity, error) {
	return s.repo.FindByID(ctx, id)
}

// Visible lists the identities the caller may download.
func (s *Service) Visible(ctx context.Context, callerID string) ([]Identity, error) {
	return s.repo.ListVisible(ctx, callerID)
}
