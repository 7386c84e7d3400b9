package status

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/checkpoint"
	"github.com/biosync/biosync/internal/logging"
	"github.com/biosync/biosync/internal/metadata"
	"github.com/biosync/biosync/internal/queue"
	"github.com/biosync/biosync/internal/store"
)

func TestSummaryCountsSentOnce(t *testing.T) {
	ctx := context.Background()
	attempts := attempt.NewLog(attempt.NewMemoryRepository())
	q := queue.NewService(queue.NewMemoryRepository(), 0)
	cps := checkpoint.NewService(checkpoint.NewMemoryRepository())
	tracker := metadata.NewTracker(metadata.NewMemoryRepository(), cps, store.NewMemoryTransactor(), logging.Discard())
	agg := NewAggregator(attempts, q, tracker, cps)

	owner := uuid.NewString()
	item, err := q.Enqueue(ctx, queue.EnqueueInput{IdentityID: owner, DeviceID: "dev-1", EntityType: "usuario", EntityID: uuid.NewString()})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.EnqueueInput{IdentityID: owner, DeviceID: "dev-1", EntityType: "usuario", EntityID: uuid.NewString()})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := q.MarkSent(ctx, owner, []string{item.ID})
		require.NoError(t, err)
	}
	_, err = attempts.Append(ctx, attempt.Record{IdentityID: owner, DeviceID: "dev-1", Direction: attempt.DirectionUpload, Items: 2})
	require.NoError(t, err)
	_, err = cps.Create(ctx, owner, "dev-1", "", "")
	require.NoError(t, err)

	entity := uuid.NewString()
	for _, dev := range []string{"dev-1", "dev-2"} {
		_, err := tracker.Touch(ctx, metadata.Touch{EntityType: "usuario", EntityID: entity, IdentityID: owner, DeviceID: dev})
		require.NoError(t, err)
	}

	s, err := agg.Summary(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{Pending: 1, Sent: 1}, s.Queue)
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, attempt.OutcomeComplete, s.LastOutcome)
	require.NotNil(t, s.LastSyncAt)
	assert.Equal(t, 1, s.Checkpoints)
	assert.Equal(t, 2, s.OpenConflicts)

	all, err := agg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, owner, all[0].IdentityID)
}
