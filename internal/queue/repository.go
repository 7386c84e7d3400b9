package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// Repository persists queue items.
type Repository interface {
	Insert(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	// ListPending returns pending items in creation order. An empty deviceID matches all devices.
	ListPending(ctx context.Context, identityID, deviceID string, limit int) ([]Item, error)
	// MarkSent flags the given items as sent and returns how many of the ids exist.
	// Items already sent keep their original SentAt. An empty identityID skips the owner check.
	MarkSent(ctx context.Context, identityID string, ids []string, at time.Time) (int, error)
	Update(ctx context.Context, item Item) error
	Counts(ctx context.Context, identityID string) (Counts, error)
}

// PostgresRepository stores queue items in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed queue repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const itemColumns = `id, identity_id, device_id, entity_type, entity_id, operation, payload, client_ref, attempts, next_retry_at, state, created_at, sent_at`

// Insert stores a new item.
func (r *PostgresRepository) Insert(ctx context.Context, item Item) error {
	id, err := uuid.Parse(item.ID)
	if err != nil {
		return err
	}
	identityID, err := uuid.Parse(item.IdentityID)
	if err != nil {
		return store.ErrNotFound
	}
	entityID, err := uuid.Parse(item.EntityID)
	if err != nil {
		return err
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO sync_queue (id, identity_id, device_id, entity_type, entity_id, operation, payload, client_ref, attempts, next_retry_at, state, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, identityID, item.DeviceID, item.EntityType, entityID, item.Operation, []byte(item.Payload), item.ClientRef,
		item.Attempts, item.NextRetryAt, item.State, item.CreatedAt.UTC())
	return store.Classify(err)
}

// Get fetches an item by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Item, error) {
	itemID, err := uuid.Parse(id)
	if err != nil {
		return Item{}, store.ErrNotFound
	}
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+itemColumns+` FROM sync_queue WHERE id = $1`, itemID)
	item, err := scanItem(row)
	if err != nil {
		return Item{}, store.Classify(err)
	}
	return item, nil
}

// ListPending returns a bounded page of pending items, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context, identityID, deviceID string, limit int) ([]Item, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT `+itemColumns+` FROM sync_queue
        WHERE identity_id = $1 AND state = $2 AND ($3 = '' OR device_id = $3)
        ORDER BY created_at, seq LIMIT $4`, owner, StatePending, deviceID, limit)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, item)
	}
	return out, store.Classify(rows.Err())
}

// MarkSent flips pending/failed items to sent. Re-marking is a no-op.
func (r *PostgresRepository) MarkSent(ctx context.Context, identityID string, ids []string, at time.Time) (int, error) {
	parsed := parseIDs(ids)
	if len(parsed) == 0 {
		return 0, nil
	}
	var owner *uuid.UUID
	if identityID != "" {
		id, err := uuid.Parse(identityID)
		if err != nil {
			return 0, nil
		}
		owner = &id
	}
	conn := store.Conn(ctx, r.db)
	if _, err := conn.Exec(ctx, `UPDATE sync_queue SET state = $1, sent_at = $2
        WHERE id = ANY($3) AND state <> $1 AND ($4::uuid IS NULL OR identity_id = $4)`, StateSent, at.UTC(), parsed, owner); err != nil {
		return 0, store.Classify(err)
	}
	var known int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue
        WHERE id = ANY($1) AND ($2::uuid IS NULL OR identity_id = $2)`, parsed, owner).Scan(&known); err != nil {
		return 0, store.Classify(err)
	}
	return known, nil
}

// Update rewrites the mutable retry fields of an item.
func (r *PostgresRepository) Update(ctx context.Context, item Item) error {
	id, err := uuid.Parse(item.ID)
	if err != nil {
		return store.ErrNotFound
	}
	cmd, err := store.Conn(ctx, r.db).Exec(ctx, `UPDATE sync_queue SET attempts = $1, next_retry_at = $2, state = $3, sent_at = $4 WHERE id = $5`,
		item.Attempts, item.NextRetryAt, item.State, item.SentAt, id)
	if err != nil {
		return store.Classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Counts tallies an identity's items by state.
func (r *PostgresRepository) Counts(ctx context.Context, identityID string) (Counts, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return Counts{}, nil
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT state, COUNT(*) FROM sync_queue WHERE identity_id = $1 GROUP BY state`, owner)
	if err != nil {
		return Counts{}, store.Classify(err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, store.Classify(err)
		}
		c.add(state, n)
	}
	return c, store.Classify(rows.Err())
}

func (c *Counts) add(state string, n int) {
	switch state {
	case StatePending:
		c.Pending += n
	case StateSent:
		c.Sent += n
	case StateFailed:
		c.Failed += n
	}
}

func parseIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		if id, err := uuid.Parse(raw); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item                     Item
		id, identityID, entityID uuid.UUID
		payload                  []byte
		createdAt                time.Time
	)
	if err := row.Scan(&id, &identityID, &item.DeviceID, &item.EntityType, &entityID, &item.Operation, &payload,
		&item.ClientRef, &item.Attempts, &item.NextRetryAt, &item.State, &createdAt, &item.SentAt); err != nil {
		return Item{}, err
	}
	item.ID = id.String()
	item.IdentityID = identityID.String()
	item.EntityID = entityID.String()
	if len(payload) > 0 {
		item.Payload = json.RawMessage(payload)
	}
	item.CreatedAt = createdAt.UTC()
	return item, nil
}
