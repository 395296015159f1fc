// Package apperr defines the sentinel errors shared across the host
// layers. Handlers match them with errors.Is to pick status codes.
package apperr

import "errors"

var (
	// ErrNotFound reports a slot or state key that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid reports a record or request that failed validation.
	ErrInvalid = errors.New("invalid")
	// ErrClosed reports an operation against a manager or store that
	// has already shut down.
	ErrClosed = errors.New("closed")
)
