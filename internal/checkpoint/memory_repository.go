package checkpoint

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu  sync.RWMutex
	all []Checkpoint
}

// NewMemoryRepository constructs an in-memory checkpoint store. Insertion order stands
// in for the Postgres sequence column.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Insert(_ context.Context, cp Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, cp)
	return nil
}

func (r *memoryRepository) List(_ context.Context, identityID, deviceID string, limit int) ([]Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Checkpoint
	// walk backwards, then stable-order by timestamp so same-tick markers keep insertion order
	for i := len(r.all) - 1; i >= 0; i-- {
		cp := r.all[i]
		if cp.IdentityID != identityID || (deviceID != "" && cp.DeviceID != deviceID) {
			continue
		}
		out = append(out, cp)
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) Count(_ context.Context, identityID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, cp := range r.all {
		if cp.IdentityID == identityID {
			n++
		}
	}
	return n, nil
}
