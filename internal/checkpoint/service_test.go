package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biosync/biosync/internal/store"
)

func TestListNewestFirstWithinSameTick(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	tick := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return tick }
	ctx := context.Background()
	owner := uuid.NewString()

	first, err := svc.Create(ctx, owner, "dev-1", "a", "")
	require.NoError(t, err)
	second, err := svc.Create(ctx, owner, "dev-1", "b", "")
	require.NoError(t, err)

	cps, err := svc.List(ctx, owner, "dev-1", 0)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, second.ID, cps[0].ID)
	assert.Equal(t, first.ID, cps[1].ID)

	latest, ok, err := svc.Latest(ctx, owner, "dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)
}

func TestListLimitAndDeviceScope(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	owner := uuid.NewString()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, err := svc.Create(ctx, owner, "dev-1", "", "")
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, owner, "dev-2", "", "")
	require.NoError(t, err)

	cps, err := svc.List(ctx, owner, "dev-1", 0)
	require.NoError(t, err)
	assert.Len(t, cps, defaultListLimit)
	assert.Equal(t, base.Add(11*time.Minute), cps[0].CreatedAt)

	n, err := svc.Count(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	_, ok, err := svc.Latest(ctx, uuid.NewString(), "dev-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateRequiresDevice(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	_, err := svc.Create(context.Background(), uuid.NewString(), " ", "", "")
	require.ErrorIs(t, err, store.ErrInvalid)
}
