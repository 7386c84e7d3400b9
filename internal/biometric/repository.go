package biometric

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosync/biosync/internal/store"
)

// Repository persists credentials, phrases and validation events.
type Repository interface {
	CreateCredential(ctx context.Context, c Credential) error
	GetCredential(ctx context.Context, id string) (Credential, error)
	// ActiveCredentials returns credentials in the active state whose window is still open at now.
	ActiveCredentials(ctx context.Context, identityID string, now time.Time) ([]Credential, error)
	CreatePhrase(ctx context.Context, p Phrase) error
	ActivePhrases(ctx context.Context, identityID string) ([]Phrase, error)
	CreateValidation(ctx context.Context, v ValidationEvent) error
}

// PostgresRepository stores biometric rows in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const credentialColumns = `id, identity_id, modality, template, algorithm_version, integrity_hash, valid_from, valid_until, state, created_at`

// CreateCredential inserts a credential. A missing owner surfaces as store.ErrNotFound.
func (r *PostgresRepository) CreateCredential(ctx context.Context, c Credential) error {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(c.IdentityID)
	if err != nil {
		return store.ErrNotFound
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO biometric_credentials (`+credentialColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, owner, c.Modality, c.Template, c.AlgorithmVersion, c.IntegrityHash, c.ValidFrom.UTC(), utcPtr(c.ValidUntil), c.State, c.CreatedAt.UTC())
	return store.Classify(err)
}

// GetCredential fetches a credential including its template payload.
func (r *PostgresRepository) GetCredential(ctx context.Context, id string) (Credential, error) {
	credID, err := uuid.Parse(id)
	if err != nil {
		return Credential{}, store.ErrNotFound
	}
	row := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+credentialColumns+` FROM biometric_credentials WHERE id = $1`, credID)
	c, err := scanCredential(row)
	if err != nil {
		return Credential{}, store.Classify(err)
	}
	return c, nil
}

// ActiveCredentials lists the owner's active, unexpired credentials.
func (r *PostgresRepository) ActiveCredentials(ctx context.Context, identityID string, now time.Time) ([]Credential, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT `+credentialColumns+` FROM biometric_credentials
        WHERE identity_id = $1 AND state = $2 AND (valid_until IS NULL OR valid_until > $3)
        ORDER BY created_at DESC`, owner, CredentialActive, now.UTC())
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, store.Classify(err)
		}
		out = append(out, c)
	}
	return out, store.Classify(rows.Err())
}

// CreatePhrase inserts an audio phrase.
func (r *PostgresRepository) CreatePhrase(ctx context.Context, p Phrase) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(p.IdentityID)
	if err != nil {
		return store.ErrNotFound
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO audio_phrases (id, identity_id, text, state, created_at)
        VALUES ($1, $2, $3, $4, $5)`, id, owner, p.Text, p.State, p.CreatedAt.UTC())
	return store.Classify(err)
}

// ActivePhrases lists the owner's active phrases.
func (r *PostgresRepository) ActivePhrases(ctx context.Context, identityID string) ([]Phrase, error) {
	owner, err := uuid.Parse(identityID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT id, identity_id, text, state, created_at
        FROM audio_phrases WHERE identity_id = $1 AND state = $2 ORDER BY created_at`, owner, PhraseActive)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	var out []Phrase
	for rows.Next() {
		var (
			p         Phrase
			id, ownID uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &ownID, &p.Text, &p.State, &createdAt); err != nil {
			return nil, store.Classify(err)
		}
		p.ID = id.String()
		p.IdentityID = ownID.String()
		p.CreatedAt = createdAt.UTC()
		out = append(out, p)
	}
	return out, store.Classify(rows.Err())
}

// CreateValidation inserts a validation event.
func (r *PostgresRepository) CreateValidation(ctx context.Context, v ValidationEvent) error {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(v.IdentityID)
	if err != nil {
		return store.ErrNotFound
	}
	var location *string
	if v.Location != "" {
		location = &v.Location
	}
	_, err = store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO validation_events (id, identity_id, modality, result, mode, device_id, confidence, location, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, owner, v.Modality, v.Result, v.Mode, v.DeviceID, v.Confidence, location, v.CreatedAt.UTC())
	return store.Classify(err)
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c          Credential
		id, owner  uuid.UUID
		validFrom  time.Time
		validUntil *time.Time
		createdAt  time.Time
	)
	if err := row.Scan(&id, &owner, &c.Modality, &c.Template, &c.AlgorithmVersion, &c.IntegrityHash, &validFrom, &validUntil, &c.State, &createdAt); err != nil {
		return Credential{}, err
	}
	c.ID = id.String()
	c.IdentityID = owner.String()
	c.ValidFrom = validFrom.UTC()
	c.ValidUntil = utcPtr(validUntil)
	c.CreatedAt = createdAt.UTC()
	return c, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
