package identity

import (
	"context"
	"sort"
	"sync"

	"github.com/biosync/biosync/internal/store"
)

type memoryRepository struct {
	mu         sync.RWMutex
	identities map[string]Identity
	byExternal map[string]string
}

// NewMemoryRepository builds an in-memory identity store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{identities: make(map[string]Identity), byExternal: make(map[string]string)}
}

func (r *memoryRepository) Create(ctx context.Context, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byExternal[identity.ExternalID]; exists {
		return store.ErrDuplicate
	}
	if _, exists := r.identities[identity.ID]; exists {
		return store.ErrDuplicate
	}
	r.identities[identity.ID] = identity
	r.byExternal[identity.ExternalID] = identity.ID
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.identities, identity.ID)
		delete(r.byExternal, identity.ExternalID)
	})
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[id]
	if !ok {
		return Identity{}, store.ErrNotFound
	}
	return identity, nil
}

func (r *memoryRepository) ListVisible(_ context.Context, callerID string) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Identity
	for _, identity := range r.identities {
		if identity.ID == callerID || identity.State == StateActive {
			out = append(out, identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
