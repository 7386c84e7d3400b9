package checkpoint

import "time"

// Checkpoint is an immutable marker of an agreed sync state for one device.
type Checkpoint struct {
	ID         string
	IdentityID string
	DeviceID   string
	Label      string
	Notes      string
	CreatedAt  time.Time
}
