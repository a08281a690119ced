package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key (including idempotency keys) already exists.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a record violates a check constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a referenced record is missing.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrStaleState is returned when a conditional update found the row in an unexpected state.
	ErrStaleState = errors.New("persistence: stale state")
	// ErrInsufficientBalance is returned when a guarded debit would take a balance below zero.
	ErrInsufficientBalance = errors.New("persistence: insufficient balance")
)
