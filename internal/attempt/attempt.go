// Package attempt keeps the append-only log of sync calls.
package attempt

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"

	OutcomeComplete = "complete"
	OutcomeError    = "error"
)

// Record is one sync call as seen by the server.
type Record struct {
	ID string
	// IdentityID is empty for anonymous uploads.
	IdentityID string
	DeviceID   string
	Direction  string
	Outcome    string
	Items      int
	Errors     int
	// ErrorMessage holds the first failure of an errored attempt.
	ErrorMessage string
	Bytes        int64
	Duration     time.Duration
	CreatedAt    time.Time
}

// Repository appends and reads attempt records.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	// Recent returns the identity's latest records, newest first.
	Recent(ctx context.Context, identityID string, limit int) ([]Record, error)
	Count(ctx context.Context, identityID string) (int, error)
	// Identities lists every identity with at least one record.
	Identities(ctx context.Context) ([]string, error)
}

// Log stamps and appends records.
type Log struct {
	repo Repository
	now  func() time.Time
}

// NewLog wraps a repository.
func NewLog(repo Repository) *Log {
	return &Log{repo: repo, now: time.Now}
}

// Append assigns an id and timestamp and stores the record.
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = l.now().UTC()
	if rec.Outcome == "" {
		rec.Outcome = OutcomeComplete
		if rec.Errors > 0 || rec.ErrorMessage != "" {
			rec.Outcome = OutcomeError
		}
	}
	if err := l.repo.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (l *Log) Recent(ctx context.Context, identityID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	return l.repo.Recent(ctx, identityID, limit)
}

func (l *Log) Count(ctx context.Context, identityID string) (int, error) {
	return l.repo.Count(ctx, identityID)
}

func (l *Log) Identities(ctx context.Context) ([]string, error) {
	return l.repo.Identities(ctx)
}
