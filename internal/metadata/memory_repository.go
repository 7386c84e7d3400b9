package metadata

import (
	"context"
	"sort"
	"sync"

	"github.com/biosync/biosync/internal/store"
)

type memoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]Record
	byKey map[string]string
}

// NewMemoryRepository constructs an in-memory metadata store.
func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]Record), byKey: make(map[string]string)}
}

func key(entityType, entityID, deviceID string) string {
	return entityType + "|" + entityID + "|" + deviceID
}

// LockEntity is a no-op: MemoryTransactor already serializes units.
func (r *memoryRepository) LockEntity(context.Context, string, string) error {
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepository) Find(_ context.Context, entityType, entityID, deviceID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key(entityType, entityID, deviceID)]
	if !ok {
		return Record{}, store.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) Save(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(rec.EntityType, rec.EntityID, rec.DeviceID)
	if existing, ok := r.byKey[k]; ok && existing != rec.ID {
		// upsert keeps the original row id
		rec.ID = existing
	}
	prev, existed := r.byID[rec.ID]
	r.byKey[k] = rec.ID
	r.byID[rec.ID] = rec
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existed {
			r.byID[rec.ID] = prev
			return
		}
		delete(r.byID, rec.ID)
		delete(r.byKey, k)
	})
	return nil
}

func (r *memoryRepository) List(_ context.Context, f Filter) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, rec := range r.byID {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

func matches(rec Record, f Filter) bool {
	switch {
	case f.IdentityID != "" && rec.IdentityID != f.IdentityID,
		f.DeviceID != "" && rec.DeviceID != f.DeviceID,
		f.ExcludeDevice != "" && rec.DeviceID == f.ExcludeDevice,
		f.EntityType != "" && rec.EntityType != f.EntityType,
		f.EntityID != "" && rec.EntityID != f.EntityID,
		f.ConflictOnly && !rec.Conflict,
		!f.ModifiedAfter.IsZero() && !rec.LastModified.After(f.ModifiedAfter):
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if rec.State == s {
			return true
		}
	}
	return false
}

func (r *memoryRepository) Devices(_ context.Context, identityID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, rec := range r.byID {
		if rec.IdentityID == identityID && !seen[rec.DeviceID] {
			seen[rec.DeviceID] = true
			out = append(out, rec.DeviceID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepository) DeleteDevices(_ context.Context, identityID string, devices []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[string]bool, len(devices))
	for _, d := range devices {
		drop[d] = true
	}
	n := 0
	for id, rec := range r.byID {
		if rec.IdentityID == identityID && drop[rec.DeviceID] {
			delete(r.byID, id)
			delete(r.byKey, key(rec.EntityType, rec.EntityID, rec.DeviceID))
			n++
		}
	}
	return n, nil
}
