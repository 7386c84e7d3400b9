package mapping

import (
	"context"
	"sync"

	"github.com/biosync/biosync/internal/store"
)

type key struct{ device, local string }

type memoryRepository struct {
	mu       sync.RWMutex
	mappings map[key]Mapping
}

// NewMemoryRepository builds an in-memory mapping store.
func NewMemoryRepository() Repository {
	return &memoryRepository{mappings: make(map[key]Mapping)}
}

func (r *memoryRepository) Insert(ctx context.Context, m Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{m.DeviceID, m.LocalUUID}
	if _, exists := r.mappings[k]; exists {
		return store.ErrDuplicate
	}
	r.mappings[k] = m
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.mappings, k)
	})
	return nil
}

func (r *memoryRepository) Find(_ context.Context, deviceID, localUUID string) (Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[key{deviceID, localUUID}]
	if !ok {
		return Mapping{}, store.ErrNotFound
	}
	return m, nil
}
