package reconcile

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/audit"
	"github.com/biosync/biosync/internal/biometric"
	"github.com/biosync/biosync/internal/checkpoint"
	"github.com/biosync/biosync/internal/identity"
	"github.com/biosync/biosync/internal/logging"
	"github.com/biosync/biosync/internal/mapping"
	"github.com/biosync/biosync/internal/metadata"
	"github.com/biosync/biosync/internal/queue"
	"github.com/biosync/biosync/internal/store"
)

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Emit(_ context.Context, ev audit.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

type fixture struct {
	svc        *Service
	identities *identity.Service
	biometrics *biometric.Service
	queue      *queue.Service
	tracker    *metadata.Tracker
	attempts   *attempt.Log
	events     *eventLog
}

// fixtureOptions lets a test wrap repositories, e.g. to inject datastore failures.
type fixtureOptions struct {
	identities func(identity.Repository) identity.Repository
	mappings   func(mapping.Repository) mapping.Repository
}

func newFixture(t *testing.T) fixture {
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) fixture {
	t.Helper()
	idRepo := identity.NewMemoryRepository()
	var idStore identity.Repository = idRepo
	if opts.identities != nil {
		idStore = opts.identities(idRepo)
	}
	var mapRepo mapping.Repository = mapping.NewMemoryRepository()
	if opts.mappings != nil {
		mapRepo = opts.mappings(mapRepo)
	}
	ids := identity.NewService(idStore)
	bio := biometric.NewService(biometric.NewMemoryRepository(func(ctx context.Context, id string) bool {
		_, err := idRepo.FindByID(ctx, id)
		return err == nil
	}))
	tx := store.NewMemoryTransactor()
	logger := logging.Discard()
	q := queue.NewService(queue.NewMemoryRepository(), 0)
	tr := metadata.NewTracker(metadata.NewMemoryRepository(), checkpoint.NewService(checkpoint.NewMemoryRepository()), tx, logger)
	att := attempt.NewLog(attempt.NewMemoryRepository())
	events := &eventLog{}

	svc := NewService(Deps{
		Tx:         tx,
		Mapper:     mapping.NewMapper(mapRepo),
		Identities: ids,
		Biometrics: bio,
		Queue:      q,
		Tracker:    tr,
		Attempts:   att,
		Audit:      events,
		Logger:     logger,
	})
	return fixture{svc: svc, identities: ids, biometrics: bio, queue: q, tracker: tr, attempts: att, events: events}
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func userItem(t *testing.T, local, externalID string) CreationItem {
	return CreationItem{
		EntityType: "usuario",
		LocalUUID:  local,
		QueueRef:   "7",
		Data:       raw(t, map[string]any{"identificador_unico": externalID, "nombres": "Ana", "apellidos": "Ruiz"}),
	}
}

func TestUploadPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := UploadInput{
		DeviceID: "dev-1",
		Creations: []CreationItem{
			userItem(t, "l-1", "EXT-1"),
			{EntityType: "usuario", LocalUUID: "l-2", Data: raw(t, map[string]any{"nombres": "Sin identificador"})},
			userItem(t, "l-3", "EXT-3"),
		},
	}
	res, err := f.svc.Upload(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, KindValidation, res.Errors[0].Kind)
	assert.Equal(t, "l-2", res.Errors[0].LocalUUID)
	require.Len(t, res.Mappings, 2)
	assert.Equal(t, "7", res.Mappings[0].ClientRef)
	assert.NotEmpty(t, res.Mappings[0].QueueItemID)
	assert.NotEmpty(t, res.AttemptID)

	for _, m := range res.Mappings {
		got, err := f.identities.Get(ctx, m.RemoteID)
		require.NoError(t, err)
		assert.Equal(t, m.RemoteID, got.ID)

		pending, err := f.queue.ListPending(ctx, m.RemoteID, "dev-1", 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		recs, err := f.tracker.List(ctx, m.RemoteID, "dev-1", metadata.StateSynced)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	}

	require.Len(t, f.events.events, 1)
	assert.Equal(t, audit.OutcomeOK, f.events.events[0].Outcome)
	assert.Equal(t, 2, f.events.events[0].Attrs["succeeded"])
}

func TestUploadReplayReturnsExistingMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := UploadInput{DeviceID: "dev-1", Creations: []CreationItem{userItem(t, "l-1", "EXT-1")}}

	first, err := f.svc.Upload(ctx, in)
	require.NoError(t, err)
	require.Len(t, first.Mappings, 1)

	second, err := f.svc.Upload(ctx, in)
	require.NoError(t, err)
	require.Len(t, second.Mappings, 1)
	assert.Empty(t, second.Errors)
	assert.True(t, second.Mappings[0].Replayed)
	assert.Equal(t, first.Mappings[0].RemoteID, second.Mappings[0].RemoteID)

	visible, err := f.identities.Visible(ctx, first.Mappings[0].RemoteID)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestUploadWithoutLocalUUIDReliesOnUniqueExternalID(t *testing.T) {
	f := newFixture(t)
	in := UploadInput{DeviceID: "dev-1", Creations: []CreationItem{userItem(t, "", "EXT-1")}}

	_, err := f.svc.Upload(context.Background(), in)
	require.NoError(t, err)
	res, err := f.svc.Upload(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindDuplicate, res.Errors[0].Kind)
}

func TestUploadRequiresDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), UploadInput{Creations: []CreationItem{userItem(t, "l-1", "EXT-1")}})
	require.ErrorIs(t, err, ErrDeviceRequired)
	require.ErrorIs(t, err, store.ErrInvalid)
}

func TestUploadCredentialOwnerResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, err := f.identities.Create(ctx, identity.CreateInput{ExternalID: "EXT-9", GivenNames: "Luis"})
	require.NoError(t, err)

	template := base64.StdEncoding.EncodeToString([]byte("template-bytes"))
	in := UploadInput{
		DeviceID: "dev-1",
		Creations: []CreationItem{
			{EntityType: "credencial", LocalUUID: "c-1", Data: raw(t, map[string]any{"tipo_biometria": "oreja", "template": template})},
			{EntityType: "credencial_biometrica", LocalUUID: "c-2", Data: raw(t, map[string]any{
				"tipo_biometria": "voz", "template": template, "id_usuario_remote": owner.ID, "estado": "activo",
			})},
			{EntityType: "texto_audio", LocalUUID: "p-1", Data: raw(t, map[string]any{"frase": "hola mundo", "id_usuario_remote": "00000000-0000-0000-0000-000000000000"})},
			{EntityType: "huella", LocalUUID: "x-1"},
		},
	}
	res, err := f.svc.Upload(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Errors, 3)

	assert.Equal(t, KindNotFound, res.Errors[0].Kind)
	assert.True(t, errors.Is(ErrOwnerUnresolved, store.ErrNotFound))
	assert.Equal(t, KindNotFound, res.Errors[1].Kind)
	assert.Equal(t, 2, res.Errors[1].Index)
	assert.Equal(t, KindValidation, res.Errors[2].Kind)

	require.Len(t, res.Mappings, 1)
	assert.Equal(t, "credencial", res.Mappings[0].EntityType)

	creds, err := f.biometrics.ActiveCredentials(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.NoError(t, creds[0].IntegrityErr)
	assert.Equal(t, biometric.Hash([]byte("template-bytes")), creds[0].IntegrityHash)

	recent, err := f.attempts.Recent(ctx, "", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, attempt.OutcomeError, recent[0].Outcome)
	assert.Equal(t, 3, recent[0].Errors)
}

func TestUploadValidations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, err := f.identities.Create(ctx, identity.CreateInput{ExternalID: "EXT-5", GivenNames: "Eva"})
	require.NoError(t, err)

	items := []ValidationItem{
		{LocalUUID: "v-1", Modality: "oreja", Result: "exito", Confidence: 0.93},
		{LocalUUID: "v-2", Modality: "voz"},
	}

	anon, err := f.svc.Upload(ctx, UploadInput{DeviceID: "dev-1", Validations: items[:1]})
	require.NoError(t, err)
	require.Len(t, anon.Errors, 1)
	assert.Equal(t, KindNotFound, anon.Errors[0].Kind)
	assert.Equal(t, "validaciones", anon.Errors[0].Section)

	res, err := f.svc.Upload(ctx, UploadInput{DeviceID: "dev-1", IdentityID: owner.ID, Validations: items})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindValidation, res.Errors[0].Kind)

	again, err := f.svc.Upload(ctx, UploadInput{DeviceID: "dev-1", IdentityID: owner.ID, Validations: items[:1]})
	require.NoError(t, err)
	require.Len(t, again.Mappings, 1)
	assert.True(t, again.Mappings[0].Replayed)
}

func TestClientRefAcceptsNumbers(t *testing.T) {
	var item CreationItem
	require.NoError(t, json.Unmarshal([]byte(`{"tipo_entidad":"usuario","id_cola":42}`), &item))
	assert.Equal(t, ClientRef("42"), item.QueueRef)
	require.NoError(t, json.Unmarshal([]byte(`{"id_cola":"q-1"}`), &item))
	assert.Equal(t, ClientRef("q-1"), item.QueueRef)
}

// flakyIdentities lets the first allow creates through and then fails every call
// with err.
type flakyIdentities struct {
	identity.Repository
	allow int
	calls int
	err   error
}

func (r *flakyIdentities) Create(ctx context.Context, id identity.Identity) error {
	r.calls++
	if r.calls > r.allow {
		return r.err
	}
	return r.Repository.Create(ctx, id)
}

// failingMappings rejects every insert.
type failingMappings struct {
	mapping.Repository
}

func (failingMappings) Insert(context.Context, mapping.Mapping) error {
	return fmt.Errorf("mapping insert: %w", store.ErrInvalid)
}

func TestUploadAbortsWhenDatastoreUnavailable(t *testing.T) {
	flaky := &flakyIdentities{allow: 1, err: fmt.Errorf("insert identity: %w", store.ErrUnavailable)}
	f := newFixtureWith(t, fixtureOptions{identities: func(r identity.Repository) identity.Repository {
		flaky.Repository = r
		return flaky
	}})
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, UploadInput{
		DeviceID: "dev-1",
		Creations: []CreationItem{
			userItem(t, "l-1", "EXT-1"),
			userItem(t, "l-2", "EXT-2"),
			userItem(t, "l-3", "EXT-3"),
		},
		Validations: []ValidationItem{{LocalUUID: "v-1", Modality: "voz", Result: "exito"}},
	})
	require.ErrorIs(t, err, store.ErrUnavailable)

	// the item before the failure stays committed
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, 1, res.Succeeded)
	got, err := f.identities.Get(ctx, res.Mappings[0].RemoteID)
	require.NoError(t, err)
	assert.Equal(t, "EXT-1", got.ExternalID)

	// later items are never attempted
	assert.Equal(t, 2, flaky.calls)
	assert.Empty(t, res.Errors)

	recent, err := f.attempts.Recent(ctx, "", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, attempt.OutcomeError, recent[0].Outcome)
	assert.Equal(t, 1, recent[0].Items)
	assert.Contains(t, recent[0].ErrorMessage, store.ErrUnavailable.Error())

	require.Len(t, f.events.events, 1)
	assert.Equal(t, audit.OutcomeError, f.events.events[0].Outcome)
}

func TestFailedItemLeavesNoPartialRows(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{mappings: func(r mapping.Repository) mapping.Repository {
		return failingMappings{Repository: r}
	}})
	ctx := context.Background()
	owner, err := f.identities.Create(ctx, identity.CreateInput{ExternalID: "EXT-OWNER", GivenNames: "Olga", State: identity.StateSuspended})
	require.NoError(t, err)
	template := base64.StdEncoding.EncodeToString([]byte("tpl"))

	res, err := f.svc.Upload(ctx, UploadInput{DeviceID: "dev-1", Creations: []CreationItem{
		userItem(t, "l-1", "EXT-1"),
		{EntityType: "credencial", LocalUUID: "c-1", Data: raw(t, map[string]any{
			"tipo_biometria": "voz", "template": template, "id_usuario_remote": owner.ID,
		})},
	}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, KindValidation, res.Errors[0].Kind)
	assert.Zero(t, res.Succeeded)

	// the suspended owner is not visible, so any identity here leaked from the failed item
	visible, err := f.identities.Visible(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, visible)

	creds, err := f.biometrics.ActiveCredentials(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, creds)

	counts, err := f.queue.Counts(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)

	recent, err := f.attempts.Recent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.Errors[0].Message, recent[0].ErrorMessage)
}

func TestUploadCredentialStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, err := f.identities.Create(ctx, identity.CreateInput{ExternalID: "EXT-7", GivenNames: "Irma"})
	require.NoError(t, err)
	template := base64.StdEncoding.EncodeToString([]byte("tpl"))

	var items []CreationItem
	for i, state := range []string{"eliminado", "inactivo", "activo", "suspendido", "whatever"} {
		items = append(items, CreationItem{
			EntityType: "credencial",
			LocalUUID:  fmt.Sprintf("c-%d", i),
			Data: raw(t, map[string]any{
				"tipo_biometria": "voz", "template": template, "id_usuario_remote": owner.ID, "estado": state,
			}),
		})
	}
	res, err := f.svc.Upload(ctx, UploadInput{DeviceID: "dev-1", Creations: items})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	require.Len(t, res.Errors, 2)
	for i, e := range res.Errors {
		assert.Equal(t, KindValidation, e.Kind)
		assert.Equal(t, 3+i, e.Index)
		assert.Contains(t, e.Message, "credential state")
	}

	states := map[string]int{}
	for _, m := range res.Mappings {
		cred, err := f.biometrics.Verify(ctx, m.RemoteID, "")
		require.NoError(t, err)
		states[cred.State]++
	}
	assert.Equal(t, map[string]int{biometric.CredentialEliminated: 2, biometric.CredentialActive: 1}, states)
}
