package mapping

import (
	"context"
	"errors"
	"time"

	"github.com/biosync/biosync/internal/store"
)

// Mapping binds a client-generated local UUID to the server id minted for it.
// Mappings are immutable once recorded.
type Mapping struct {
	DeviceID    string
	LocalUUID   string
	EntityType  string
	RemoteID    string
	QueueItemID string
	CreatedAt   time.Time
}

// Repository persists mappings keyed by (device, local uuid).
type Repository interface {
	// Insert stores m; an existing key yields store.ErrDuplicate and leaves the stored row untouched.
	Insert(ctx context.Context, m Mapping) error
	Find(ctx context.Context, deviceID, localUUID string) (Mapping, error)
}

// Mapper resolves replayed local UUIDs and records new ones.
type Mapper struct {
	repo Repository
	now  func() time.Time
}

// NewMapper builds a mapper over the given repository.
func NewMapper(repo Repository) *Mapper {
	return &Mapper{repo: repo, now: time.Now}
}

// Lookup returns the mapping recorded for (device, local uuid), if any.
func (m *Mapper) Lookup(ctx context.Context, deviceID, localUUID string) (Mapping, bool, error) {
	if localUUID == "" {
		return Mapping{}, false, nil
	}
	found, err := m.repo.Find(ctx, deviceID, localUUID)
	if errors.Is(err, store.ErrNotFound) {
		return Mapping{}, false, nil
	}
	if err != nil {
		return Mapping{}, false, err
	}
	return found, true, nil
}

// Record stores a new mapping. Mappings without a local UUID are returned as-is and
// not persisted since they cannot be replayed.
func (m *Mapper) Record(ctx context.Context, mp Mapping) (Mapping, error) {
	if mp.CreatedAt.IsZero() {
		mp.CreatedAt = m.now().UTC()
	}
	if mp.LocalUUID == "" {
		return mp, nil
	}
	if err := m.repo.Insert(ctx, mp); err != nil {
		return Mapping{}, err
	}
	return mp, nil
}
