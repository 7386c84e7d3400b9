package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/biosync/biosync/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
	// DefaultMaxAttempts bounds how often an item may be requeued before it fails permanently.
	DefaultMaxAttempts = 5
)

// ErrRetriesExhausted is returned by Requeue once an item used up its attempts.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Service is the per-(identity, device) outbound queue. Retry timing is driven by
// clients re-polling; the service never schedules anything itself.
type Service struct {
	repo        Repository
	maxAttempts int
	now         func() time.Time
}

// NewService builds a queue service. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewService(repo Repository, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{repo: repo, maxAttempts: maxAttempts, now: time.Now}
}

// Enqueue snapshots the payload and stores a pending item.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (Item, error) {
	var payload json.RawMessage
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return Item{}, fmt.Errorf("encode queue payload: %w", err)
		}
		payload = raw
	}
	op := in.Operation
	if op == "" {
		op = OperationCreate
	}
	item := Item{
		ID:         uuid.New().String(),
		IdentityID: in.IdentityID,
		DeviceID:   in.DeviceID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Operation:  op,
		Payload:    payload,
		ClientRef:  in.ClientRef,
		State:      StatePending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// ListPending returns up to limit pending items in creation order.
func (s *Service) ListPending(ctx context.Context, identityID, deviceID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repo.ListPending(ctx, identityID, deviceID, limit)
}

// MarkSent confirms delivery of the given items. Marking an already sent item succeeds
// without side effect. The returned count is the number of ids that exist.
func (s *Service) MarkSent(ctx context.Context, identityID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.repo.MarkSent(ctx, identityID, ids, s.now())
}

// Requeue puts an item back into the pending set and bumps its attempt counter.
func (s *Service) Requeue(ctx context.Context, identityID, id string) (Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if identityID != "" && item.IdentityID != identityID {
		return Item{}, fmt.Errorf("queue item %s: %w", id, store.ErrNotFound)
	}
	if item.State == StateFailed {
		return item, ErrRetriesExhausted
	}

	now := s.now().UTC()
	item.Attempts++
	if item.Attempts >= s.maxAttempts {
		item.State = StateFailed
		item.NextRetryAt = nil
		if err := s.repo.Update(ctx, item); err != nil {
			return Item{}, err
		}
		return item, ErrRetriesExhausted
	}
	item.State = StatePending
	item.NextRetryAt = &now
	item.SentAt = nil
	if err := s.repo.Update(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Counts tallies the identity's items by state.
func (s *Service) Counts(ctx context.Context, identityID string) (Counts, error) {
	return s.repo.Counts(ctx, identityID)
}
