package application

import (
	"errors"
	"fmt"

	"github.com/example/coaching-scheduler/internal/persistence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidTransition is returned when a meeting, RSVP or reschedule request
	// cannot move to the requested state.
	ErrInvalidTransition = errors.New("application: invalid state transition")
	// ErrRescheduleInFlight is returned when a meeting already has a pending reschedule request.
	ErrRescheduleInFlight = errors.New("application: reschedule already in flight")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 1 {
		for field, msg := range v.FieldErrors {
			return fmt.Sprintf("validation failed: %s: %s", field, msg)
		}
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func newValidationError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// StorageError reports a failed write or read against the store. Callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable reports that the operation can be attempted again.
func (e *StorageError) Retryable() bool {
	return true
}

// CollaboratorError wraps a failure of the video link provisioner or the
// calendar sink. It is logged and retried by the outbox, never surfaced to callers.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// LedgerError reports a failed credit movement for one client.
type LedgerError struct {
	ClientID string
	Amount   int
	Err      error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger: move %d credits for %s: %v", e.Amount, e.ClientID, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func mapRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrStaleState):
		return ErrInvalidTransition
	case errors.Is(err, persistence.ErrConstraintViolation):
		return newValidationError("record", "violates a data constraint")
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return newValidationError("record", "related records are missing")
	}
	var sErr *StorageError
	if errors.As(err, &sErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}
