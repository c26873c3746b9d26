package ledger

import "errors"

var (
	// ErrNotFound is returned when a transaction or account does not exist or
	// is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input is rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrAtomicity is returned when an atomic unit failed and was rolled back.
	// The operation may be retried.
	ErrAtomicity = errors.New("atomic unit rolled back")
)
