package mapping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// PostgresRepository stores mappings in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed mapping repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores a mapping; the (device_id, local_uuid) primary key rejects replays.
func (r *PostgresRepository) Insert(ctx context.Context, m Mapping) error {
	remoteID, err := uuid.Parse(m.RemoteID)
	if err != nil {
		return err
	}
	var queueItemID *uuid.UUID
	if m.QueueItemID != "" {
		id, err := uuid.Parse(m.QueueItemID)
		if err != nil {
			return err
		}
		queueItemID = &id
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO id_mappings (device_id, local_uuid, entity_type, remote_id, queue_item_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, m.DeviceID, m.LocalUUID, m.EntityType, remoteID, queueItemID, m.CreatedAt.UTC())
	return store.Classify(err)
}

// Find fetches the mapping for a device-local uuid.
func (r *PostgresRepository) Find(ctx context.Context, deviceID, localUUID string) (Mapping, error) {
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT device_id, local_uuid, entity_type, remote_id, queue_item_id, created_at
        FROM id_mappings WHERE device_id = $1 AND local_uuid = $2`, deviceID, localUUID)
	var (
		m           Mapping
		remoteID    uuid.UUID
		queueItemID *uuid.UUID
		createdAt   time.Time
	)
	if err := row.Scan(&m.DeviceID, &m.LocalUUID, &m.EntityType, &remoteID, &queueItemID, &createdAt); err != nil {
		return Mapping{}, store.Classify(err)
	}
	m.RemoteID = remoteID.String()
	if queueItemID != nil {
		m.QueueItemID = queueItemID.String()
	}
	m.CreatedAt = createdAt.UTC()
	return m, nil
}
