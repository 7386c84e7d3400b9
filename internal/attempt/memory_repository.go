package attempt

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu   sync.RWMutex
	recs []Record
}

// NewMemoryRepository constructs an in-memory attempt log.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memoryRepository) Recent(_ context.Context, identityID string, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for i := len(r.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.recs[i].IdentityID == identityID {
			out = append(out, r.recs[i])
		}
	}
	return out, nil
}

func (r *memoryRepository) Count(_ context.Context, identityID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.recs {
		if rec.IdentityID == identityID {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) Identities(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, rec := range r.recs {
		if rec.IdentityID != "" && !seen[rec.IdentityID] {
			seen[rec.IdentityID] = true
			out = append(out, rec.IdentityID)
		}
	}
	sort.Strings(out)
	return out, nil
}
