package metadata

import "time"

const (
	StatePending  = "pending"
	StateSynced   = "synced"
	StateConflict = "conflict"
	StateError    = "error"
)

// Resolution strategies accepted by ResolveConflict.
const (
	ResolutionServerWins = "server-wins"
	ResolutionDeviceWins = "device-wins"
	ResolutionManual     = "manual"
	ResolutionMerge      = "merge"
)

var resolutions = map[string]bool{
	ResolutionServerWins: true,
	ResolutionDeviceWins: true,
	ResolutionManual:     true,
	ResolutionMerge:      true,
}

// Record is the sync state of one entity as seen by one device.
type Record struct {
	ID           string
	EntityType   string
	EntityID     string
	IdentityID   string
	DeviceID     string
	LastModified time.Time
	State        string
	Conflict     bool
	Resolution   string
	SyncedAt     *time.Time
	UpdatedAt    time.Time
}

// Touch reports that a device modified an entity.
type Touch struct {
	EntityType string
	EntityID   string
	IdentityID string
	DeviceID   string
	// ModifiedAt defaults to the tracker clock when zero.
	ModifiedAt time.Time
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	IdentityID    string
	DeviceID      string
	ExcludeDevice string
	EntityType    string
	EntityID      string
	States        []string
	ConflictOnly  bool
	ModifiedAfter time.Time
}
