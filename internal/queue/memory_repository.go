package queue

import (
	"context"
	"sync"
	"time"

	"github.com/biosync/biosync/internal/store"
)

type memoryRepository struct {
	mu    sync.RWMutex
	order []string
	items map[string]Item
}

// NewMemoryRepository constructs an in-memory queue for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[string]Item)}
}

func (r *memoryRepository) Insert(ctx context.Context, item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[item.ID]; exists {
		return store.ErrDuplicate
	}
	r.items[item.ID] = item
	r.order = append(r.order, item.ID)
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, item.ID)
		for i, id := range r.order {
			if id == item.ID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, store.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepository) ListPending(_ context.Context, identityID, deviceID string, limit int) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Item
	for _, id := range r.order {
		item := r.items[id]
		if item.IdentityID != identityID || item.State != StatePending {
			continue
		}
		if deviceID != "" && item.DeviceID != deviceID {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepository) MarkSent(_ context.Context, identityID string, ids []string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		item, ok := r.items[id]
		if !ok || (identityID != "" && item.IdentityID != identityID) {
			continue
		}
		known++
		if item.State == StateSent {
			continue
		}
		sentAt := at.UTC()
		item.State = StateSent
		item.SentAt = &sentAt
		r.items[id] = item
	}
	return known, nil
}

func (r *memoryRepository) Update(_ context.Context, item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Attempts = item.Attempts
	existing.NextRetryAt = item.NextRetryAt
	existing.State = item.State
	existing.SentAt = item.SentAt
	r.items[item.ID] = existing
	return nil
}

func (r *memoryRepository) Counts(_ context.Context, identityID string) (Counts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var c Counts
	for _, item := range r.items {
		if item.IdentityID == identityID {
			c.add(item.State, 1)
		}
	}
	return c, nil
}
