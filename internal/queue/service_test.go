package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biosync/biosync/internal/store"
)

func enqueue(t *testing.T, svc *Service, identityID, deviceID string) Item {
	t.Helper()
	item, err := svc.Enqueue(context.Background(), EnqueueInput{
		IdentityID: identityID,
		DeviceID:   deviceID,
		EntityType: "usuario",
		EntityID:   uuid.NewString(),
		Payload:    map[string]string{"nombres": "Ana"},
	})
	require.NoError(t, err)
	return item
}

func TestListPendingCreationOrder(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 0)
	owner := uuid.NewString()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueue(t, svc, owner, "dev-1").ID)
	}
	enqueue(t, svc, uuid.NewString(), "dev-1")

	pending, err := svc.ListPending(context.Background(), owner, "", 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, item := range pending {
		assert.Equal(t, ids[i], item.ID)
		assert.Equal(t, OperationCreate, item.Operation)
		assert.JSONEq(t, `{"nombres":"Ana"}`, string(item.Payload))
	}

	page, err := svc.ListPending(context.Background(), owner, "", 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestListPendingFiltersDevice(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 0)
	owner := uuid.NewString()
	enqueue(t, svc, owner, "dev-1")
	enqueue(t, svc, owner, "dev-2")

	pending, err := svc.ListPending(context.Background(), owner, "dev-2", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dev-2", pending[0].DeviceID)
}

func TestMarkSentIsIdempotent(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 0)
	ctx := context.Background()
	owner := uuid.NewString()
	item := enqueue(t, svc, owner, "dev-1")

	n, err := svc.MarkSent(ctx, "", []string{item.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := svc.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, first.SentAt)

	n, err = svc.MarkSent(ctx, "", []string{item.ID, item.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := svc.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, first.SentAt, second.SentAt, "re-marking must not touch the item")

	pending, err := svc.ListPending(ctx, owner, "", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	counts, err := svc.Counts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, Counts{Sent: 1}, counts)
}

func TestMarkSentScopedToOwner(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 0)
	ctx := context.Background()
	item := enqueue(t, svc, uuid.NewString(), "dev-1")

	n, err := svc.MarkSent(ctx, uuid.NewString(), []string{item.ID, "unknown"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequeueUntilExhausted(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 3)
	ctx := context.Background()
	owner := uuid.NewString()
	item := enqueue(t, svc, owner, "dev-1")

	for i := 1; i <= 2; i++ {
		_, err := svc.MarkSent(ctx, owner, []string{item.ID})
		require.NoError(t, err)
		requeued, err := svc.Requeue(ctx, owner, item.ID)
		require.NoError(t, err, fmt.Sprintf("attempt %d", i))
		assert.Equal(t, StatePending, requeued.State)
		assert.Equal(t, i, requeued.Attempts)
		assert.NotNil(t, requeued.NextRetryAt)
	}

	failed, err := svc.Requeue(ctx, owner, item.ID)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, StateFailed, failed.State)

	_, err = svc.Requeue(ctx, owner, item.ID)
	require.ErrorIs(t, err, ErrRetriesExhausted)

	counts, err := svc.Counts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 1}, counts)
}

func TestRequeueRejectsForeignItem(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 0)
	item := enqueue(t, svc, uuid.NewString(), "dev-1")

	_, err := svc.Requeue(context.Background(), uuid.NewString(), item.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
