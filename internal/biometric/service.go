package biometric

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biosync/biosync/internal/store"
)

var (
	// ErrModalityRequired is returned when tipo_biometria is missing.
	ErrModalityRequired = fmt.Errorf("tipo_biometria is required: %w", store.ErrInvalid)
	// ErrTemplateRequired is returned when the template payload is empty.
	ErrTemplateRequired = fmt.Errorf("template is required: %w", store.ErrInvalid)
	// ErrHashMismatch is returned when a device-supplied hash does not match the template.
	ErrHashMismatch = fmt.Errorf("hash_integridad does not match template: %w", store.ErrInvalid)
	// ErrPhraseRequired is returned when the phrase text is empty.
	ErrPhraseRequired = fmt.Errorf("frase is required: %w", store.ErrInvalid)
	// ErrResultRequired is returned when a validation event carries no result.
	ErrResultRequired = fmt.Errorf("resultado is required: %w", store.ErrInvalid)
	// ErrInvalidCredentialState is returned for a state outside active/eliminated.
	ErrInvalidCredentialState = fmt.Errorf("credential state: %w", store.ErrInvalid)
	// ErrInvalidWindow is returned when the validity window ends before it starts.
	ErrInvalidWindow = fmt.Errorf("validez_hasta precedes validez_desde: %w", store.ErrInvalid)
)

// Service exposes biometric enrolment and read operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a biometric service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// EnrollCredential stores a new credential, computing its integrity hash server side.
func (s *Service) EnrollCredential(ctx context.Context, in CredentialInput) (Credential, error) {
	if strings.TrimSpace(in.Modality) == "" {
		return Credential{}, ErrModalityRequired
	}
	if len(in.Template) == 0 {
		return Credential{}, ErrTemplateRequired
	}
	hash := Hash(in.Template)
	if in.IntegrityHash != "" && !strings.EqualFold(in.IntegrityHash, hash) {
		return Credential{}, ErrHashMismatch
	}

	now := s.now().UTC()
	validFrom := now
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC()
	}
	if in.ValidUntil != nil && in.ValidUntil.Before(validFrom) {
		return Credential{}, ErrInvalidWindow
	}
	state := in.State
	switch state {
	case "":
		state = CredentialActive
	case CredentialActive, CredentialEliminated:
	default:
		return Credential{}, fmt.Errorf("%q: %w", state, ErrInvalidCredentialState)
	}

	c := Credential{
		ID:               uuid.New().String(),
		IdentityID:       in.IdentityID,
		Modality:         in.Modality,
		Template:         in.Template,
		AlgorithmVersion: in.AlgorithmVersion,
		IntegrityHash:    hash,
		ValidFrom:        validFrom,
		ValidUntil:       in.ValidUntil,
		State:            state,
		CreatedAt:        now,
	}
	if err := s.repo.CreateCredential(ctx, c); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// AddPhrase stores a new active audio phrase for the identity.
func (s *Service) AddPhrase(ctx context.Context, identityID, text string) (Phrase, error) {
	if strings.TrimSpace(text) == "" {
		return Phrase{}, ErrPhraseRequired
	}
	p := Phrase{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Text:       text,
		State:      PhraseActive,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreatePhrase(ctx, p); err != nil {
		return Phrase{}, err
	}
	return p, nil
}

// RecordValidation stores a validation event reported by a device.
func (s *Service) RecordValidation(ctx context.Context, v ValidationEvent) (ValidationEvent, error) {
	if strings.TrimSpace(v.Modality) == "" {
		return ValidationEvent{}, ErrModalityRequired
	}
	if strings.TrimSpace(v.Result) == "" {
		return ValidationEvent{}, ErrResultRequired
	}
	if v.Mode == "" {
		v.Mode = "offline"
	}
	v.ID = uuid.New().String()
	v.CreatedAt = s.now().UTC()
	if err := s.repo.CreateValidation(ctx, v); err != nil {
		return ValidationEvent{}, err
	}
	return v, nil
}

// CheckedCredential pairs a credential with the outcome of its integrity check.
type CheckedCredential struct {
	Credential
	IntegrityErr error
}

// ActiveCredentials returns the identity's active, unexpired credentials. Each row is
// re-hashed; a mismatch is reported on the row and never repaired.
func (s *Service) ActiveCredentials(ctx context.Context, identityID string) ([]CheckedCredential, error) {
	creds, err := s.repo.ActiveCredentials(ctx, identityID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	out := make([]CheckedCredential, 0, len(creds))
	for _, c := range creds {
		out = append(out, CheckedCredential{Credential: c, IntegrityErr: CheckIntegrity(c)})
	}
	return out, nil
}

// ActivePhrases returns the identity's active phrases.
func (s *Service) ActivePhrases(ctx context.Context, identityID string) ([]Phrase, error) {
	return s.repo.ActivePhrases(ctx, identityID)
}

// Verify re-reads a credential and checks its content hash against the stored hash and,
// when given, the hash the caller expects.
func (s *Service) Verify(ctx context.Context, credentialID, expected string) (Credential, error) {
	c, err := s.repo.GetCredential(ctx, credentialID)
	if err != nil {
		return Credential{}, err
	}
	if err := CheckIntegrity(c); err != nil {
		return c, err
	}
	if expected != "" && !strings.EqualFold(expected, c.IntegrityHash) {
		return c, fmt.Errorf("credential %s: expected hash differs: %w", c.ID, store.ErrIntegrity)
	}
	return c, nil
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, store.ErrInvalid)
}
