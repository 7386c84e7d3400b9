// Package status rolls sync activity up per identity. It never writes.
package status

import (
	"context"
	"time"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/checkpoint"
	"github.com/biosync/biosync/internal/metadata"
	"github.com/biosync/biosync/internal/queue"
)

// Summary is the sync picture of one identity.
type Summary struct {
	IdentityID    string
	LastSyncAt    *time.Time
	LastOutcome   string
	LastDirection string
	Attempts      int
	Queue         queue.Counts
	OpenConflicts int
	Checkpoints   int
}

// Aggregator reads from the sync components.
type Aggregator struct {
	attempts    *attempt.Log
	queue       *queue.Service
	tracker     *metadata.Tracker
	checkpoints *checkpoint.Service
}

func NewAggregator(attempts *attempt.Log, q *queue.Service, tracker *metadata.Tracker, checkpoints *checkpoint.Service) *Aggregator {
	return &Aggregator{attempts: attempts, queue: q, tracker: tracker, checkpoints: checkpoints}
}

// Summary builds the rollup for one identity.
func (a *Aggregator) Summary(ctx context.Context, identityID string) (Summary, error) {
	s := Summary{IdentityID: identityID}

	last, err := a.attempts.Recent(ctx, identityID, 1)
	if err != nil {
		return Summary{}, err
	}
	if len(last) == 1 {
		at := last[0].CreatedAt
		s.LastSyncAt = &at
		s.LastOutcome = last[0].Outcome
		s.LastDirection = last[0].Direction
	}
	if s.Attempts, err = a.attempts.Count(ctx, identityID); err != nil {
		return Summary{}, err
	}
	if s.Queue, err = a.queue.Counts(ctx, identityID); err != nil {
		return Summary{}, err
	}
	conflicts, err := a.tracker.Conflicts(ctx, identityID, "")
	if err != nil {
		return Summary{}, err
	}
	s.OpenConflicts = len(conflicts)
	if s.Checkpoints, err = a.checkpoints.Count(ctx, identityID); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// All returns one summary per identity that has synced at least once.
func (a *Aggregator) All(ctx context.Context) ([]Summary, error) {
	ids, err := a.attempts.Identities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := a.Summary(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// History returns the identity's latest attempts, newest first.
func (a *Aggregator) History(ctx context.Context, identityID string, limit int) ([]attempt.Record, error) {
	return a.attempts.Recent(ctx, identityID, limit)
}
