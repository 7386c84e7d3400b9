package download

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/biometric"
	"github.com/biosync/biosync/internal/identity"
	"github.com/biosync/biosync/internal/logging"
)

func TestSnapshotContainsOnlyActiveCredentials(t *testing.T) {
	ctx := context.Background()
	ids := identity.NewService(identity.NewMemoryRepository())
	bio := biometric.NewService(biometric.NewMemoryRepository(nil))
	attempts := attempt.NewLog(attempt.NewMemoryRepository())
	p := NewProvider(ids, bio, attempts, nil, logging.Discard())

	caller, err := ids.Create(ctx, identity.CreateInput{ExternalID: "EXT-1", GivenNames: "Ana"})
	require.NoError(t, err)
	_, err = ids.Create(ctx, identity.CreateInput{ExternalID: "EXT-2", GivenNames: "Luis"})
	require.NoError(t, err)
	_, err = ids.Create(ctx, identity.CreateInput{ExternalID: "EXT-3", GivenNames: "Eva", State: identity.StateSuspended})
	require.NoError(t, err)

	future := time.Now().Add(72 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)
	from := time.Now().Add(-48 * time.Hour)
	for _, in := range []biometric.CredentialInput{
		{IdentityID: caller.ID, Modality: "oreja", Template: []byte("a")},
		{IdentityID: caller.ID, Modality: "voz", Template: []byte("b"), ValidUntil: &future},
		{IdentityID: caller.ID, Modality: "voz", Template: []byte("c"), ValidFrom: &from, ValidUntil: &past},
	} {
		_, err := bio.EnrollCredential(ctx, in)
		require.NoError(t, err)
	}
	_, err = bio.AddPhrase(ctx, caller.ID, "el cielo es azul")
	require.NoError(t, err)

	snap, err := p.Snapshot(ctx, Request{IdentityID: caller.ID, DeviceID: "dev-1", LastSync: "2020-01-01T00:00:00Z"})
	require.NoError(t, err)

	assert.Len(t, snap.Data.Credentials, 2)
	for _, c := range snap.Data.Credentials {
		assert.True(t, c.IntegrityOK)
	}
	assert.Len(t, snap.Data.Identities, 2, "caller plus other active identities")
	assert.Len(t, snap.Data.Phrases, 1)
	assert.Equal(t, 5, snap.Items)
	assert.NotContains(t, string(snap.Encoded), `"template"`)

	recent, err := attempts.Recent(ctx, caller.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, attempt.DirectionDownload, recent[0].Direction)
	assert.Equal(t, int64(len(snap.Encoded)), recent[0].Bytes)
	assert.Equal(t, snap.AttemptID, recent[0].ID)
}
