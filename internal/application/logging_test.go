package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/coaching-scheduler/internal/logging"
	"github.com/example/coaching-scheduler/internal/persistence"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var base, scoped bytes.Buffer
	baseLogger := slog.New(slog.NewTextHandler(&base, nil))
	ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&scoped, nil)))

	serviceLogger(ctx, baseLogger, "MeetingService", "CreateMeeting", "coach_id", "coach-1").Info("hello")

	if base.Len() != 0 {
		t.Fatalf("expected base logger to stay silent, got %q", base.String())
	}
	for _, want := range []string{"service=MeetingService", "operation=CreateMeeting", "coach_id=coach-1"} {
		if !strings.Contains(scoped.String(), want) {
			t.Fatalf("expected %q in %q", want, scoped.String())
		}
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"":                     nil,
		"unauthorized":         ErrUnauthorized,
		"not_found":            ErrNotFound,
		"invalid_transition":   ErrInvalidTransition,
		"reschedule_in_flight": ErrRescheduleInFlight,
		"insufficient_balance": persistence.ErrInsufficientBalance,
		"validation":           newValidationError("title", "required"),
		"storage":              &StorageError{Op: "op", Err: errors.New("boom")},
		"collaborator":         &CollaboratorError{Collaborator: "calendar", Err: errors.New("down")},
		"ledger":               &LedgerError{ClientID: "client-1", Amount: 2, Err: errors.New("boom")},
		"unexpected":           errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}

	if outcome(nil) != "ok" {
		t.Fatalf("expected ok outcome for nil error")
	}
}
