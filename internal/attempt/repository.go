package attempt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// PostgresRepository stores attempts in sync_attempts.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return err
	}
	var owner *uuid.UUID
	if rec.IdentityID != "" {
		parsed, err := uuid.Parse(rec.IdentityID)
		if err == nil {
			owner = &parsed
		}
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO sync_attempts (id, identity_id, device_id, direction, outcome, items, errors, error_message, bytes, duration_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`,
		id, owner, rec.DeviceID, rec.Direction, rec.Outcome, rec.Items, rec.Errors, rec.ErrorMessage, rec.Bytes,
		rec.Duration.Milliseconds(), rec.CreatedAt.UTC())
	return store.Classify(err)
}

func (r *PostgresRepository) Recent(ctx context.Context, identityID string, limit int) ([]Record, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return nil, nil
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT id, device_id, direction, outcome, items, errors, COALESCE(error_message, ''), bytes, duration_ms, created_at
        FROM sync_attempts WHERE identity_id = $1
        ORDER BY created_at DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			id  uuid.UUID
			ms  int64
		)
		if err := rows.Scan(&id, &rec.DeviceID, &rec.Direction, &rec.Outcome, &rec.Items, &rec.Errors, &rec.ErrorMessage, &rec.Bytes, &ms, &rec.CreatedAt); err != nil {
			return nil, store.Classify(err)
		}
		rec.ID = id.String()
		rec.IdentityID = identityID
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, store.Classify(rows.Err())
}

func (r *PostgresRepository) Count(ctx context.Context, identityID string) (int, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return 0, nil
	}
	var n int
	err = store.Conn(ctx, r.db).QueryRow(ctx, `SELECT COUNT(*) FROM sync_attempts WHERE identity_id = $1`, owner).Scan(&n)
	return n, store.Classify(err)
}

func (r *PostgresRepository) Identities(ctx context.Context) ([]string, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT DISTINCT identity_id FROM sync_attempts WHERE identity_id IS NOT NULL ORDER BY identity_id`)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, id.String())
	}
	return out, store.Classify(rows.Err())
}
