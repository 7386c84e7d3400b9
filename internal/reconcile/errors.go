package reconcile

import (
	"errors"
	"fmt"

	"github.com/biosync/biosync/internal/store"
)

// Item error kinds reported back to the device.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindDuplicate  = "duplicate"
	KindIntegrity  = "integrity"
	KindInternal   = "internal"
)

var (
	// ErrDeviceRequired rejects a whole upload without dispositivo_id.
	ErrDeviceRequired  = fmt.Errorf("dispositivo_id is required: %w", store.ErrInvalid)
	ErrUnknownEntity   = fmt.Errorf("unknown tipo_entidad: %w", store.ErrInvalid)
	ErrOwnerUnresolved = fmt.Errorf("owner unresolved: %w", store.ErrNotFound)
	ErrBadTemplate     = fmt.Errorf("template must be base64: %w", store.ErrInvalid)
)

// ItemError describes why one item of a batch was not applied.
type ItemError struct {
	Section    string
	Index      int
	Kind       string
	LocalUUID  string
	EntityType string
	Message    string
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalid):
		return KindValidation
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, store.ErrIntegrity):
		return KindIntegrity
	default:
		return KindInternal
	}
}
