package store

import "errors"

var (
	// ErrNotFound indicates the requested row (or a referenced owner row) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique identifier collision at the datastore.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalid indicates a missing required field or a value the datastore rejected.
	ErrInvalid = errors.New("invalid value")

	// ErrIntegrity indicates a recomputed content hash no longer matches the stored one.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrUnavailable indicates the datastore could not be reached. It is fatal for the
	// whole request; already committed work is not rolled back.
	ErrUnavailable = errors.New("datastore unavailable")
)
