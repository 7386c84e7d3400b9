package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biosync/biosync/internal/checkpoint"
	"github.com/biosync/biosync/internal/store"
)

// ErrUnknownStrategy is returned for a resolution outside the accepted set.
var ErrUnknownStrategy = fmt.Errorf("unknown resolution strategy: %w", store.ErrInvalid)

// Checkpoints supplies the agreed cutoff for conflict detection.
type Checkpoints interface {
	Latest(ctx context.Context, identityID, deviceID string) (checkpoint.Checkpoint, bool, error)
}

// Tracker keeps per-(entity, device) sync state and flags concurrent writers.
//
// Two records of the same entity conflict when both devices modified it after the
// toucher's latest checkpoint. The flag is cleared only by ResolveConflict, which
// stamps the chosen strategy and leaves entity data untouched.
type Tracker struct {
	repo        Repository
	checkpoints Checkpoints
	tx          store.Transactor
	logger      *slog.Logger
	now         func() time.Time
}

// NewTracker wires a tracker.
func NewTracker(repo Repository, checkpoints Checkpoints, tx store.Transactor, logger *slog.Logger) *Tracker {
	return &Tracker{repo: repo, checkpoints: checkpoints, tx: tx, logger: logger, now: time.Now}
}

// Touch upserts the toucher's record and raises the conflict flag on both sides when
// another device modified the entity after the agreed cutoff.
func (t *Tracker) Touch(ctx context.Context, in Touch) (Record, error) {
	if strings.TrimSpace(in.EntityType) == "" || strings.TrimSpace(in.EntityID) == "" {
		return Record{}, fmt.Errorf("entity type and id are required: %w", store.ErrInvalid)
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		return Record{}, fmt.Errorf("device is required: %w", store.ErrInvalid)
	}
	now := t.now().UTC()
	modified := in.ModifiedAt
	if modified.IsZero() {
		modified = now
	}

	var out Record
	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := t.repo.LockEntity(ctx, in.EntityType, in.EntityID); err != nil {
			return err
		}
		rec, err := t.repo.Find(ctx, in.EntityType, in.EntityID, in.DeviceID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			rec = Record{
				ID:         uuid.New().String(),
				EntityType: in.EntityType,
				EntityID:   in.EntityID,
				IdentityID: in.IdentityID,
				DeviceID:   in.DeviceID,
			}
		case err != nil:
			return err
		}
		if rec.IdentityID == "" {
			rec.IdentityID = in.IdentityID
		}
		rec.LastModified = modified.UTC()
		rec.UpdatedAt = now
		if !rec.Conflict {
			rec.State = StatePending
		}

		cutoff, err := t.cutoff(ctx, rec.IdentityID, rec.DeviceID)
		if err != nil {
			return err
		}
		counterparts, err := t.repo.List(ctx, Filter{
			EntityType:    rec.EntityType,
			EntityID:      rec.EntityID,
			ExcludeDevice: rec.DeviceID,
			ModifiedAfter: cutoff,
		})
		if err != nil {
			return err
		}
		if rec.LastModified.After(cutoff) {
			for _, other := range counterparts {
				rec.Conflict, rec.State = true, StateConflict
				if other.Conflict {
					continue
				}
				other.Conflict, other.State, other.UpdatedAt = true, StateConflict, now
				if err := t.repo.Save(ctx, other); err != nil {
					return err
				}
				t.logger.Warn("sync conflict detected",
					slog.String("entity_type", rec.EntityType),
					slog.String("entity_id", rec.EntityID),
					slog.String("device_id", rec.DeviceID),
					slog.String("other_device_id", other.DeviceID))
			}
		}
		if err := t.repo.Save(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (t *Tracker) cutoff(ctx context.Context, identityID, deviceID string) (time.Time, error) {
	if t.checkpoints == nil || identityID == "" {
		return time.Time{}, nil
	}
	cp, ok, err := t.checkpoints.Latest(ctx, identityID, deviceID)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return cp.CreatedAt, nil
}

// MarkSynced moves the device's record to synced. A conflicted record keeps its state
// and the call reports false.
func (t *Tracker) MarkSynced(ctx context.Context, entityType, entityID, deviceID string) (bool, error) {
	rec, err := t.repo.Find(ctx, entityType, entityID, deviceID)
	if err != nil {
		return false, err
	}
	if rec.Conflict {
		return false, nil
	}
	now := t.now().UTC()
	rec.State = StateSynced
	rec.SyncedAt = &now
	rec.UpdatedAt = now
	if err := t.repo.Save(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Pending computes what a device still has to exchange: its own pending or errored
// records plus entities other devices of the identity modified after the device's
// latest checkpoint.
func (t *Tracker) Pending(ctx context.Context, identityID, deviceID, entityType string) ([]Record, error) {
	own, err := t.repo.List(ctx, Filter{
		IdentityID: identityID,
		DeviceID:   deviceID,
		EntityType: entityType,
		States:     []string{StatePending, StateError},
	})
	if err != nil {
		return nil, err
	}
	cutoff, err := t.cutoff(ctx, identityID, deviceID)
	if err != nil {
		return nil, err
	}
	foreign, err := t.repo.List(ctx, Filter{
		IdentityID:    identityID,
		ExcludeDevice: deviceID,
		EntityType:    entityType,
		ModifiedAfter: cutoff,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(own))
	for _, rec := range own {
		seen[rec.EntityType+"|"+rec.EntityID] = true
	}
	out := own
	for _, rec := range foreign {
		k := rec.EntityType + "|" + rec.EntityID
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rec)
	}
	return out, nil
}

// Conflicts lists flagged records. Empty arguments widen the scope.
func (t *Tracker) Conflicts(ctx context.Context, identityID, deviceID string) ([]Record, error) {
	return t.repo.List(ctx, Filter{IdentityID: identityID, DeviceID: deviceID, ConflictOnly: true})
}

// List returns the device's records, optionally narrowed to one state.
func (t *Tracker) List(ctx context.Context, identityID, deviceID, state string) ([]Record, error) {
	f := Filter{IdentityID: identityID, DeviceID: deviceID}
	if state != "" {
		f.States = []string{state}
	}
	return t.repo.List(ctx, f)
}

// ResolveConflict clears the flag on the record and on the counterparts it conflicts
// with, stamps the strategy and puts them back to pending. The caller is expected to
// issue the corrective write itself.
func (t *Tracker) ResolveConflict(ctx context.Context, id, strategy string) (Record, error) {
	if !resolutions[strategy] {
		return Record{}, fmt.Errorf("%q: %w", strategy, ErrUnknownStrategy)
	}
	var out Record
	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		rec, err := t.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := t.repo.LockEntity(ctx, rec.EntityType, rec.EntityID); err != nil {
			return err
		}
		now := t.now().UTC()
		others, err := t.repo.List(ctx, Filter{
			EntityType:    rec.EntityType,
			EntityID:      rec.EntityID,
			ExcludeDevice: rec.DeviceID,
			ConflictOnly:  true,
		})
		if err != nil {
			return err
		}
		for _, r := range append(others, rec) {
			r.Conflict = false
			r.Resolution = strategy
			r.State = StatePending
			r.UpdatedAt = now
			if err := t.repo.Save(ctx, r); err != nil {
				return err
			}
			if r.ID == rec.ID {
				out = r
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	t.logger.Info("sync conflict resolved",
		slog.String("metadata_id", out.ID),
		slog.String("strategy", strategy))
	return out, nil
}

// PruneDevices deletes the identity's records for devices outside active and returns
// the devices removed.
func (t *Tracker) PruneDevices(ctx context.Context, identityID string, active []string) ([]string, int, error) {
	if identityID == "" {
		return nil, 0, fmt.Errorf("identity is required: %w", store.ErrInvalid)
	}
	devices, err := t.repo.Devices(ctx, identityID)
	if err != nil {
		return nil, 0, err
	}
	keep := make(map[string]bool, len(active))
	for _, d := range active {
		keep[d] = true
	}
	var stale []string
	for _, d := range devices {
		if !keep[d] {
			stale = append(stale, d)
		}
	}
	if len(stale) == 0 {
		return nil, 0, nil
	}
	n, err := t.repo.DeleteDevices(ctx, identityID, stale)
	if err != nil {
		return nil, 0, err
	}
	t.logger.Info("pruned inactive devices",
		slog.String("identity_id", identityID),
		slog.Int("devices", len(stale)),
		slog.Int("records", n))
	return stale, n, nil
}
