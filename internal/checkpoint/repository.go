package checkpoint

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// Repository persists checkpoints. List returns newest first.
type Repository interface {
	Insert(ctx context.Context, cp Checkpoint) error
	List(ctx context.Context, identityID, deviceID string, limit int) ([]Checkpoint, error)
	Count(ctx context.Context, identityID string) (int, error)
}

// PostgresRepository stores checkpoints in PostgreSQL. The seq column breaks ties
// between markers created in the same clock tick.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, cp Checkpoint) error {
	id, err := uuid.Parse(cp.ID)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(cp.IdentityID)
	if err != nil {
		return store.ErrNotFound
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO sync_checkpoints (id, identity_id, device_id, label, notes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, id, owner, cp.DeviceID, cp.Label, cp.Notes, cp.CreatedAt.UTC())
	return store.Classify(err)
}

func (r *PostgresRepository) List(ctx context.Context, identityID, deviceID string, limit int) ([]Checkpoint, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return nil, nil
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT id, identity_id, device_id, label, notes, created_at
        FROM sync_checkpoints
        WHERE identity_id = $1 AND ($2 = '' OR device_id = $2)
        ORDER BY created_at DESC, seq DESC LIMIT $3`, owner, deviceID, limit)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, cp)
	}
	return out, store.Classify(rows.Err())
}

func (r *PostgresRepository) Count(ctx context.Context, identityID string) (int, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return 0, nil
	}
	var n int
	err = store.Conn(ctx, r.db).QueryRow(ctx, `SELECT COUNT(*) FROM sync_checkpoints WHERE identity_id = $1`, owner).Scan(&n)
	return n, store.Classify(err)
}

func scanCheckpoint(row pgx.Row) (Checkpoint, error) {
	var (
		cp       Checkpoint
		id       uuid.UUID
		identity uuid.UUID
	)
	if err := row.Scan(&id, &identity, &cp.DeviceID, &cp.Label, &cp.Notes, &cp.CreatedAt); err != nil {
		return Checkpoint{}, err
	}
	cp.ID = id.String()
	cp.IdentityID = identity.String()
	return cp, nil
}
