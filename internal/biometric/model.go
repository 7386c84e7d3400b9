package biometric

import "time"

const (
	CredentialActive     = "active"
	CredentialEliminated = "eliminated"

	PhraseActive  = "active"
	PhraseRetired = "retired"
)

// Credential is an enrolled biometric template bound to an identity and modality.
type Credential struct {
	ID               string
	IdentityID       string
	Modality         string
	Template         []byte
	AlgorithmVersion string
	IntegrityHash    string
	ValidFrom        time.Time
	ValidUntil       *time.Time
	State            string
	CreatedAt        time.Time
}

// Expired reports whether the validity window closed at or before now.
func (c Credential) Expired(now time.Time) bool {
	return c.ValidUntil != nil && !c.ValidUntil.After(now)
}

// Phrase is a dynamic audio phrase used for liveness challenges.
type Phrase struct {
	ID         string
	IdentityID string
	Text       string
	State      string
	CreatedAt  time.Time
}

// ValidationEvent records a biometric validation performed on a device, possibly offline.
type ValidationEvent struct {
	ID         string
	IdentityID string
	Modality   string
	Result     string
	Mode       string
	DeviceID   string
	Confidence float64
	Location   string
	CreatedAt  time.Time
}

// CredentialInput carries the fields accepted when a credential is enrolled.
type CredentialInput struct {
	IdentityID       string
	Modality         string
	Template         []byte
	AlgorithmVersion string
	// IntegrityHash, when supplied by the device, must match the template content.
	IntegrityHash string
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	State         string
}
