package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// Repository persists metadata records.
type Repository interface {
	Get(ctx context.Context, id string) (Record, error)
	Find(ctx context.Context, entityType, entityID, deviceID string) (Record, error)
	// Save inserts or replaces the record keyed by (entity type, entity id, device).
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Devices(ctx context.Context, identityID string) ([]string, error)
	DeleteDevices(ctx context.Context, identityID string, devices []string) (int, error)
	// LockEntity serializes writers of one entity until the enclosing unit ends.
	LockEntity(ctx context.Context, entityType, entityID string) error
}

// PostgresRepository stores metadata in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed metadata repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, entity_type, entity_id, identity_id, device_id, last_modified, state, conflict, resolution, synced_at, updated_at`

// LockEntity takes a transaction-scoped advisory lock on the entity, so a concurrent
// toucher waits and then sees the committed counterpart. It must run inside WithinTx.
func (r *PostgresRepository) LockEntity(ctx context.Context, entityType, entityID string) error {
	_, err := store.Conn(ctx, r.db).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, entityType, entityID)
	return store.Classify(err)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	recID, err := uuid.Parse(id)
	if err != nil {
		return Record{}, store.ErrNotFound
	}
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+recordColumns+` FROM sync_metadata WHERE id = $1`, recID)
	rec, err := scanRecord(row)
	return rec, store.Classify(err)
}

func (r *PostgresRepository) Find(ctx context.Context, entityType, entityID, deviceID string) (Record, error) {
	eid, err := uuid.Parse(entityID)
	if err != nil {
		return Record{}, store.ErrNotFound
	}
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+recordColumns+` FROM sync_metadata
        WHERE entity_type = $1 AND entity_id = $2 AND device_id = $3`, entityType, eid, deviceID)
	rec, err := scanRecord(row)
	return rec, store.Classify(err)
}

func (r *PostgresRepository) Save(ctx context.Context, rec Record) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return err
	}
	eid, err := uuid.Parse(rec.EntityID)
	if err != nil {
		return fmt.Errorf("entity id %q: %w", rec.EntityID, store.ErrInvalid)
	}
	owner, err := uuid.Parse(rec.IdentityID)
	if err != nil {
		return fmt.Errorf("identity id %q: %w", rec.IdentityID, store.ErrInvalid)
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO sync_metadata (`+recordColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (entity_type, entity_id, device_id) DO UPDATE SET
            identity_id = EXCLUDED.identity_id,
            last_modified = EXCLUDED.last_modified,
            state = EXCLUDED.state,
            conflict = EXCLUDED.conflict,
            resolution = EXCLUDED.resolution,
            synced_at = EXCLUDED.synced_at,
            updated_at = EXCLUDED.updated_at`,
		id, rec.EntityType, eid, owner, rec.DeviceID, rec.LastModified.UTC(), rec.State, rec.Conflict,
		rec.Resolution, utcPtr(rec.SyncedAt), rec.UpdatedAt.UTC())
	return store.Classify(err)
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.IdentityID != "" {
		owner, err := uuid.Parse(f.IdentityID)
		if err != nil {
			return nil, nil
		}
		add("identity_id = $%d", owner)
	}
	if f.DeviceID != "" {
		add("device_id = $%d", f.DeviceID)
	}
	if f.ExcludeDevice != "" {
		add("device_id <> $%d", f.ExcludeDevice)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		eid, err := uuid.Parse(f.EntityID)
		if err != nil {
			return nil, nil
		}
		add("entity_id = $%d", eid)
	}
	if len(f.States) > 0 {
		add("state = ANY($%d)", f.States)
	}
	if f.ConflictOnly {
		where = append(where, "conflict")
	}
	if !f.ModifiedAfter.IsZero() {
		add("last_modified > $%d", f.ModifiedAfter.UTC())
	}

	query := `SELECT ` + recordColumns + ` FROM sync_metadata`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_modified DESC, id`

	rows, err := store.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, rec)
	}
	return out, store.Classify(rows.Err())
}

func (r *PostgresRepository) Devices(ctx context.Context, identityID string) ([]string, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return nil, nil
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT DISTINCT device_id FROM sync_metadata WHERE identity_id = $1 ORDER BY device_id`, owner)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, d)
	}
	return out, store.Classify(rows.Err())
}

func (r *PostgresRepository) DeleteDevices(ctx context.Context, identityID string, devices []string) (int, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil || len(devices) == 0 {
		return 0, nil
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `DELETE FROM sync_metadata WHERE identity_id = $1 AND device_id = ANY($2)`, owner, devices)
	if err != nil {
		return 0, store.Classify(err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		id       uuid.UUID
		entityID uuid.UUID
		owner    uuid.UUID
	)
	if err := row.Scan(&id, &rec.EntityType, &entityID, &owner, &rec.DeviceID, &rec.LastModified, &rec.State,
		&rec.Conflict, &rec.Resolution, &rec.SyncedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.ID = id.String()
	rec.EntityID = entityID.String()
	rec.IdentityID = owner.String()
	return rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
