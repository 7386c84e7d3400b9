package reconcile

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/audit"
	"github.com/biosync/biosync/internal/biometric"
	"github.com/biosync/biosync/internal/identity"
	"github.com/biosync/biosync/internal/mapping"
	"github.com/biosync/biosync/internal/metadata"
	"github.com/biosync/biosync/internal/queue"
	"github.com/biosync/biosync/internal/store"
)

// Entity types as stored in metadata and queue rows.
const (
	EntityIdentity   = "usuario"
	EntityCredential = "credencial_biometrica"
	EntityPhrase     = "texto_audio"
	EntityValidation = "validacion"
)

const (
	sectionCreations   = "creaciones"
	sectionValidations = "validaciones"
)

// UploadInput is one device upload. IdentityID is empty for anonymous uploads.
type UploadInput struct {
	DeviceID    string
	IdentityID  string
	RequestID   string
	Creations   []CreationItem
	Validations []ValidationItem
	// Bytes is the encoded request size, recorded on the attempt row.
	Bytes int64
}

// MappingResult tells the device which server id its local record received.
type MappingResult struct {
	LocalUUID   string
	EntityType  string
	RemoteID    string
	ClientRef   string
	QueueItemID string
	Replayed    bool
}

// Result summarises a processed upload.
type Result struct {
	Succeeded int
	Errors    []ItemError
	Mappings  []MappingResult
	AttemptID string
}

// Deps bundles the collaborators of the reconciler.
type Deps struct {
	Tx         store.Transactor
	Mapper     *mapping.Mapper
	Identities *identity.Service
	Biometrics *biometric.Service
	Queue      *queue.Service
	Tracker    *metadata.Tracker
	Attempts   *attempt.Log
	Audit      audit.Sink
	Logger     *slog.Logger
}

// Service applies device uploads item by item. Every item commits on its own so one
// bad item never discards the rest of the batch.
type Service struct {
	Deps
	now func() time.Time
}

// NewService wires the reconciler.
func NewService(deps Deps) *Service {
	return &Service{Deps: deps, now: time.Now}
}

// Upload processes the batch. Item failures are collected in the result; only an
// unavailable datastore aborts the call. Items committed before the abort stay committed.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Result, error) {
	ev := audit.Event{
		Operation:  "sync.upload",
		IdentityID: in.IdentityID,
		DeviceID:   in.DeviceID,
		RequestID:  in.RequestID,
	}
	return audit.Run(ctx, s.Audit, s.Logger, ev, func(ctx context.Context, ev *audit.Event) (Result, error) {
		res, err := s.upload(ctx, in)
		ev.Set("succeeded", res.Succeeded)
		ev.Set("failed", len(res.Errors))
		return res, err
	})
}

func (s *Service) upload(ctx context.Context, in UploadInput) (Result, error) {
	if strings.TrimSpace(in.DeviceID) == "" {
		return Result{}, ErrDeviceRequired
	}
	start := s.now()
	var res Result

	for i, item := range in.Creations {
		m, err := s.create(ctx, in, item)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				s.recordAttempt(ctx, in, &res, start, err)
				return res, err
			}
			res.Errors = append(res.Errors, ItemError{
				Section:    sectionCreations,
				Index:      i,
				Kind:       kindOf(err),
				LocalUUID:  item.LocalUUID,
				EntityType: item.EntityType,
				Message:    err.Error(),
			})
			continue
		}
		res.Succeeded++
		res.Mappings = append(res.Mappings, m)
	}

	for i, item := range in.Validations {
		m, err := s.validation(ctx, in, item)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				s.recordAttempt(ctx, in, &res, start, err)
				return res, err
			}
			res.Errors = append(res.Errors, ItemError{
				Section:    sectionValidations,
				Index:      i,
				Kind:       kindOf(err),
				LocalUUID:  item.LocalUUID,
				EntityType: EntityValidation,
				Message:    err.Error(),
			})
			continue
		}
		res.Succeeded++
		if m.LocalUUID != "" {
			res.Mappings = append(res.Mappings, m)
		}
	}

	s.recordAttempt(ctx, in, &res, start, nil)
	return res, nil
}

// recordAttempt never fails the upload; the log row is best effort. fatal is the
// infrastructure error that aborted the batch, if any.
func (s *Service) recordAttempt(ctx context.Context, in UploadInput, res *Result, start time.Time, fatal error) {
	outcome := attempt.OutcomeComplete
	var message string
	switch {
	case fatal != nil:
		outcome, message = attempt.OutcomeError, fatal.Error()
	case len(res.Errors) > 0:
		outcome, message = attempt.OutcomeError, res.Errors[0].Message
	}
	rec, err := s.Attempts.Append(ctx, attempt.Record{
		IdentityID:   in.IdentityID,
		DeviceID:     in.DeviceID,
		Direction:    attempt.DirectionUpload,
		Outcome:      outcome,
		Items:        res.Succeeded,
		Errors:       len(res.Errors),
		ErrorMessage: message,
		Bytes:        in.Bytes,
		Duration:     s.now().Sub(start),
	})
	if err != nil {
		s.Logger.Error("record upload attempt", slog.String("device_id", in.DeviceID), slog.Any("error", err))
		return
	}
	res.AttemptID = rec.ID
}

// applied is what one successful creation produced.
type applied struct {
	entityType string
	entityID   string
	ownerID    string
	modifiedAt *time.Time
	payload    any
}

func (s *Service) create(ctx context.Context, in UploadInput, item CreationItem) (MappingResult, error) {
	label, err := entityLabel(item.EntityType)
	if err != nil {
		return MappingResult{}, fmt.Errorf("%q: %w", item.EntityType, err)
	}

	if found, ok, err := s.Mapper.Lookup(ctx, in.DeviceID, item.LocalUUID); err != nil {
		return MappingResult{}, err
	} else if ok {
		return replayed(found, item.QueueRef), nil
	}

	var out MappingResult
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var (
			a   applied
			err error
		)
		switch label {
		case "usuario":
			a, err = s.createIdentity(ctx, item.Data)
		case "credencial":
			a, err = s.createCredential(ctx, in.IdentityID, item.Data)
		case "texto_audio":
			a, err = s.createPhrase(ctx, in.IdentityID, item.Data)
		}
		if err != nil {
			return err
		}

		qi, err := s.Queue.Enqueue(ctx, queue.EnqueueInput{
			IdentityID: a.ownerID,
			DeviceID:   in.DeviceID,
			EntityType: a.entityType,
			EntityID:   a.entityID,
			Operation:  queue.OperationCreate,
			Payload:    a.payload,
			ClientRef:  string(item.QueueRef),
		})
		if err != nil {
			return err
		}

		m, err := s.Mapper.Record(ctx, mapping.Mapping{
			DeviceID:    in.DeviceID,
			LocalUUID:   item.LocalUUID,
			EntityType:  label,
			RemoteID:    a.entityID,
			QueueItemID: qi.ID,
		})
		if err != nil {
			return err
		}

		touch := metadata.Touch{
			EntityType: a.entityType,
			EntityID:   a.entityID,
			IdentityID: a.ownerID,
			DeviceID:   in.DeviceID,
		}
		if a.modifiedAt != nil {
			touch.ModifiedAt = *a.modifiedAt
		}
		if _, err := s.Tracker.Touch(ctx, touch); err != nil {
			return err
		}
		if _, err := s.Tracker.MarkSynced(ctx, a.entityType, a.entityID, in.DeviceID); err != nil {
			return err
		}

		out = MappingResult{
			LocalUUID:   m.LocalUUID,
			EntityType:  label,
			RemoteID:    a.entityID,
			ClientRef:   string(item.QueueRef),
			QueueItemID: qi.ID,
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) && item.LocalUUID != "" {
		// a concurrent upload of the same local record won the mapping insert
		if found, ok, lookupErr := s.Mapper.Lookup(ctx, in.DeviceID, item.LocalUUID); lookupErr == nil && ok {
			return replayed(found, item.QueueRef), nil
		}
	}
	if err != nil {
		return MappingResult{}, err
	}
	return out, nil
}

func replayed(m mapping.Mapping, ref ClientRef) MappingResult {
	return MappingResult{
		LocalUUID:   m.LocalUUID,
		EntityType:  m.EntityType,
		RemoteID:    m.RemoteID,
		ClientRef:   string(ref),
		QueueItemID: m.QueueItemID,
		Replayed:    true,
	}
}

func entityLabel(entityType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(entityType)) {
	case "usuario":
		return "usuario", nil
	case "credencial", "credencial_biometrica":
		return "credencial", nil
	case "texto_audio", "texto":
		return "texto_audio", nil
	default:
		return "", ErrUnknownEntity
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("datos: %v: %w", err, store.ErrInvalid)
	}
	return nil
}

func (s *Service) createIdentity(ctx context.Context, raw json.RawMessage) (applied, error) {
	var d identityData
	if err := decode(raw, &d); err != nil {
		return applied{}, err
	}
	created, err := s.Identities.Create(ctx, identity.CreateInput{
		ExternalID:  d.ExternalID,
		GivenNames:  d.GivenNames,
		FamilyNames: d.FamilyNames,
		State:       normalizeState(identityStates, d.State),
	})
	if err != nil {
		return applied{}, err
	}
	return applied{
		entityType: EntityIdentity,
		entityID:   created.ID,
		ownerID:    created.ID,
		modifiedAt: d.ModifiedAt,
		payload: map[string]any{
			"identificador_unico": created.ExternalID,
			"nombres":             created.GivenNames,
			"apellidos":           created.FamilyNames,
			"estado":              created.State,
		},
	}, nil
}

// resolveOwner prefers the owner named in the payload over the session identity.
func (s *Service) resolveOwner(ctx context.Context, fromData, session string) (string, error) {
	owner := strings.TrimSpace(fromData)
	if owner == "" {
		owner = session
	}
	if owner == "" {
		return "", ErrOwnerUnresolved
	}
	if _, err := s.Identities.Get(ctx, owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("owner %s: %w", owner, store.ErrNotFound)
		}
		return "", err
	}
	return owner, nil
}

func (s *Service) createCredential(ctx context.Context, session string, raw json.RawMessage) (applied, error) {
	var d credentialData
	if err := decode(raw, &d); err != nil {
		return applied{}, err
	}
	if strings.TrimSpace(d.Modality) == "" {
		return applied{}, biometric.ErrModalityRequired
	}
	if d.Template == "" {
		return applied{}, biometric.ErrTemplateRequired
	}
	template, err := base64.StdEncoding.DecodeString(d.Template)
	if err != nil {
		return applied{}, ErrBadTemplate
	}
	validUntil, err := parseDate(d.ValidUntil)
	if err != nil {
		return applied{}, err
	}
	owner, err := s.resolveOwner(ctx, d.OwnerID, session)
	if err != nil {
		return applied{}, err
	}
	cred, err := s.Biometrics.EnrollCredential(ctx, biometric.CredentialInput{
		IdentityID:       owner,
		Modality:         d.Modality,
		Template:         template,
		AlgorithmVersion: d.AlgorithmVersion,
		IntegrityHash:    d.IntegrityHash,
		ValidUntil:       validUntil,
		State:            normalizeState(credentialStates, d.State),
	})
	if err != nil {
		return applied{}, err
	}
	return applied{
		entityType: EntityCredential,
		entityID:   cred.ID,
		ownerID:    owner,
		modifiedAt: d.ModifiedAt,
		payload: map[string]any{
			"tipo_biometria":    cred.Modality,
			"version_algoritmo": cred.AlgorithmVersion,
			"hash_integridad":   cred.IntegrityHash,
			"validez_hasta":     cred.ValidUntil,
		},
	}, nil
}

func (s *Service) createPhrase(ctx context.Context, session string, raw json.RawMessage) (applied, error) {
	var d phraseData
	if err := decode(raw, &d); err != nil {
		return applied{}, err
	}
	if strings.TrimSpace(d.Text) == "" {
		return applied{}, biometric.ErrPhraseRequired
	}
	owner, err := s.resolveOwner(ctx, d.OwnerID, session)
	if err != nil {
		return applied{}, err
	}
	p, err := s.Biometrics.AddPhrase(ctx, owner, d.Text)
	if err != nil {
		return applied{}, err
	}
	return applied{
		entityType: EntityPhrase,
		entityID:   p.ID,
		ownerID:    owner,
		modifiedAt: d.ModifiedAt,
		payload:    map[string]any{"frase": p.Text},
	}, nil
}

func (s *Service) validation(ctx context.Context, in UploadInput, item ValidationItem) (MappingResult, error) {
	if in.IdentityID == "" {
		return MappingResult{}, fmt.Errorf("validation without session: %w", ErrOwnerUnresolved)
	}
	if found, ok, err := s.Mapper.Lookup(ctx, in.DeviceID, item.LocalUUID); err != nil {
		return MappingResult{}, err
	} else if ok {
		return replayed(found, item.QueueRef), nil
	}

	var out MappingResult
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ev, err := s.Biometrics.RecordValidation(ctx, biometric.ValidationEvent{
			IdentityID: in.IdentityID,
			Modality:   item.Modality,
			Result:     item.Result,
			Mode:       item.Mode,
			DeviceID:   in.DeviceID,
			Confidence: item.Confidence,
			Location:   item.Location,
		})
		if err != nil {
			return err
		}
		m, err := s.Mapper.Record(ctx, mapping.Mapping{
			DeviceID:   in.DeviceID,
			LocalUUID:  item.LocalUUID,
			EntityType: EntityValidation,
			RemoteID:   ev.ID,
		})
		if err != nil {
			return err
		}
		out = MappingResult{
			LocalUUID:  m.LocalUUID,
			EntityType: EntityValidation,
			RemoteID:   ev.ID,
			ClientRef:  string(item.QueueRef),
		}
		return nil
	})
	if err != nil {
		return MappingResult{}, err
	}
	return out, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("validez_hasta %q: %w", s, store.ErrInvalid)
}
