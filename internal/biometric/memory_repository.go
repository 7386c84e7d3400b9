package biometric

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/biosync/biosync/internal/store"
)

// OwnerCheck reports whether an identity exists. The memory repository uses it to
// emulate the foreign keys the Postgres schema enforces.
type OwnerCheck func(ctx context.Context, identityID string) bool

type memoryRepository struct {
	mu          sync.RWMutex
	credentials map[string]Credential
	phrases     map[string]Phrase
	validations []ValidationEvent
	ownerExists OwnerCheck
}

// NewMemoryRepository constructs an in-memory repository for tests. ownerExists may be nil.
func NewMemoryRepository(ownerExists OwnerCheck) Repository {
	return &memoryRepository{
		credentials: make(map[string]Credential),
		phrases:     make(map[string]Phrase),
		ownerExists: ownerExists,
	}
}

func (r *memoryRepository) checkOwner(ctx context.Context, id string) error {
	if r.ownerExists != nil && !r.ownerExists(ctx, id) {
		return store.ErrNotFound
	}
	return nil
}

func (r *memoryRepository) CreateCredential(ctx context.Context, c Credential) error {
	if err := r.checkOwner(ctx, c.IdentityID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.credentials[c.ID]; exists {
		return store.ErrDuplicate
	}
	c.Template = append([]byte(nil), c.Template...)
	r.credentials[c.ID] = c
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.credentials, c.ID)
	})
	return nil
}

func (r *memoryRepository) GetCredential(_ context.Context, id string) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credentials[id]
	if !ok {
		return Credential{}, store.ErrNotFound
	}
	return c, nil
}

func (r *memoryRepository) ActiveCredentials(_ context.Context, identityID string, now time.Time) ([]Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Credential
	for _, c := range r.credentials {
		if c.IdentityID == identityID && c.State == CredentialActive && !c.Expired(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CreatePhrase(ctx context.Context, p Phrase) error {
	if err := r.checkOwner(ctx, p.IdentityID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.phrases[p.ID]; exists {
		return store.ErrDuplicate
	}
	r.phrases[p.ID] = p
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.phrases, p.ID)
	})
	return nil
}

func (r *memoryRepository) ActivePhrases(_ context.Context, identityID string) ([]Phrase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Phrase
	for _, p := range r.phrases {
		if p.IdentityID == identityID && p.State == PhraseActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CreateValidation(ctx context.Context, v ValidationEvent) error {
	if err := r.checkOwner(ctx, v.IdentityID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, v)
	store.RegisterUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := len(r.validations) - 1; i >= 0; i-- {
			if r.validations[i].ID == v.ID {
				r.validations = append(r.validations[:i], r.validations[i+1:]...)
				break
			}
		}
	})
	return nil
}
