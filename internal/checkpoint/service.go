package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biosync/biosync/internal/store"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Service manages checkpoints. Checkpoints never expire and are never updated;
// retrying a create simply adds another marker.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a checkpoint service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create records a new marker for (identity, device).
func (s *Service) Create(ctx context.Context, identityID, deviceID, label, notes string) (Checkpoint, error) {
	if strings.TrimSpace(identityID) == "" {
		return Checkpoint{}, fmt.Errorf("checkpoint identity is required: %w", store.ErrInvalid)
	}
	if strings.TrimSpace(deviceID) == "" {
		return Checkpoint{}, fmt.Errorf("checkpoint device is required: %w", store.ErrInvalid)
	}
	cp := Checkpoint{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		DeviceID:   deviceID,
		Label:      label,
		Notes:      notes,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// List returns up to limit checkpoints, newest first. An empty deviceID lists all devices.
func (s *Service) List(ctx context.Context, identityID, deviceID string, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, identityID, deviceID, limit)
}

// Latest returns the newest checkpoint of (identity, device), or false when there is none.
func (s *Service) Latest(ctx context.Context, identityID, deviceID string) (Checkpoint, bool, error) {
	if deviceID == "" {
		return Checkpoint{}, false, nil
	}
	cps, err := s.repo.List(ctx, identityID, deviceID, 1)
	if err != nil || len(cps) == 0 {
		return Checkpoint{}, false, err
	}
	return cps[0], true, nil
}

// Count reports how many checkpoints an identity holds across devices.
func (s *Service) Count(ctx context.Context, identityID string) (int, error) {
	return s.repo.Count(ctx, identityID)
}

func sortNewestFirst(cps []Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		return cps[i].CreatedAt.After(cps[j].CreatedAt)
	})
}
