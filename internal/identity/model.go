package identity

import "time"

const (
	StateActive    = "active"
	StateSuspended = "suspended"
	StateDeleted   = "deleted"
)

// Identity is the root subject entity every credential and phrase hangs off.
type Identity struct {
	ID           string
	ExternalID   string
	GivenNames   string
	FamilyNames  string
	State        string
	CreatedAt    time.Time
	LastAccessAt *time.Time
}

// CreateInput carries the fields accepted when an identity is created offline.
type CreateInput struct {
	ExternalID  string
	GivenNames  string
	FamilyNames string
	State       string
}
