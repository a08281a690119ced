package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/coaching-scheduler/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	single := &ValidationError{FieldErrors: map[string]string{"field": "invalid"}}
	if got := single.Error(); got != "validation failed: field: invalid" {
		t.Fatalf("expected field detail for single error, got %q", got)
	}

	multiple := &ValidationError{FieldErrors: map[string]string{"a": "bad", "b": "worse"}}
	if got := multiple.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for multiple errors, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestMapRepoError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   error
		kind string
	}{
		{name: "not found", in: fmt.Errorf("get: %w", persistence.ErrNotFound), kind: "not_found"},
		{name: "stale", in: persistence.ErrStaleState, kind: "invalid_transition"},
		{name: "constraint", in: persistence.ErrConstraintViolation, kind: "validation"},
		{name: "foreign key", in: persistence.ErrForeignKeyViolation, kind: "validation"},
		{name: "other", in: errors.New("disk full"), kind: "storage"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := mapRepoError("op", tc.in)
			if kind := ErrorKind(got); kind != tc.kind {
				t.Fatalf("expected kind %q, got %q (%v)", tc.kind, kind, got)
			}
		})
	}

	if mapRepoError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}

	wrapped := &StorageError{Op: "first", Err: errors.New("boom")}
	if got := mapRepoError("second", wrapped); got != wrapped {
		t.Fatalf("expected storage errors to pass through unchanged")
	}
}

func TestStorageErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := &StorageError{Op: "insert participants", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected storage error to unwrap its cause")
	}
	if !err.Retryable() {
		t.Fatalf("expected storage errors to be retryable")
	}
}
