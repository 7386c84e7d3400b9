package queue

import (
	"encoding/json"
	"time"
)

const (
	StatePending = "pending"
	StateSent    = "sent"
	StateFailed  = "failed"

	OperationCreate = "create"
)

// Item is an outbound entry awaiting confirmation by a device.
type Item struct {
	ID         string
	IdentityID string
	DeviceID   string
	EntityType string
	EntityID   string
	Operation  string
	Payload    json.RawMessage
	// ClientRef echoes the device's own queue reference, if it sent one.
	ClientRef   string
	Attempts    int
	NextRetryAt *time.Time
	State       string
	CreatedAt   time.Time
	SentAt      *time.Time
}

// Counts is the per-state tally of an identity's queue.
type Counts struct {
	Pending int
	Sent    int
	Failed  int
}

// EnqueueInput captures what a write path hands to the queue.
type EnqueueInput struct {
	IdentityID string
	DeviceID   string
	EntityType string
	EntityID   string
	Operation  string
	Payload    any
	ClientRef  string
}
