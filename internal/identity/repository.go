package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// Repository persists identities.
type Repository interface {
	Create(ctx context.Context, identity Identity) error
	FindByID(ctx context.Context, id string) (Identity, error)
	// ListVisible returns the caller plus every active identity.
	ListVisible(ctx context.Context, callerID string) ([]Identity, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new identity. A reused external id surfaces as store.ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, identity Identity) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return err
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO identities (id, external_id, given_names, family_names, state, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, id, identity.ExternalID, identity.GivenNames, identity.FamilyNames, identity.State, identity.CreatedAt.UTC())
	return store.Classify(err)
}

// FindByID fetches an identity by its server id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	identityID, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, store.ErrNotFound
	}
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT id, external_id, given_names, family_names, state, created_at, last_access_at
        FROM identities WHERE id = $1`, identityID)
	identity, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Classify(err)
	}
	return identity, nil
}

// ListVisible applies the relaxed sharing policy: the caller plus all active identities.
func (r *PostgresRepository) ListVisible(ctx context.Context, callerID string) ([]Identity, error) {
	caller, err := uuid.Parse(callerID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT id, external_id, given_names, family_names, state, created_at, last_access_at
        FROM identities WHERE id = $1 OR state = $2 ORDER BY created_at DESC`, caller, StateActive)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, identity)
	}
	return out, store.Classify(rows.Err())
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		id         uuid.UUID
		createdAt  time.Time
		lastAccess *time.Time
		identity   Identity
	)
	if err := row.Scan(&id, &identity.ExternalID, &identity.GivenNames, &identity.FamilyNames, &identity.State, &createdAt, &lastAccess); err != nil {
		return Identity{}, err
	}
	identity.ID = id.String()
	identity.CreatedAt = createdAt.UTC()
	if lastAccess != nil {
		t := lastAccess.UTC()
		identity.LastAccessAt = &t
	}
	return identity, nil
}
