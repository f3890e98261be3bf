// Package sentinel holds the store-level error facts services translate into
// coded domain errors. Stores return them, optionally wrapped.
package sentinel

import "errors"

var (
	// ErrNotFound means the session, draft or registration is not stored.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a write raced an existing record.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means the record exists but cannot take the requested transition.
	ErrInvalidState = errors.New("invalid state")
)
