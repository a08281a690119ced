package application

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/coaching-scheduler/internal/logging"
	"github.com/example/coaching-scheduler/internal/persistence"
)

var tracer = otel.Tracer("github.com/example/coaching-scheduler/internal/application")

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
	}
	span.End()
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrRescheduleInFlight):
		return "reschedule_in_flight"
	case errors.Is(err, persistence.ErrInsufficientBalance):
		return "insufficient_balance"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var sErr *StorageError
	if errors.As(err, &sErr) {
		return "storage"
	}
	var cErr *CollaboratorError
	if errors.As(err, &cErr) {
		return "collaborator"
	}
	var lErr *LedgerError
	if errors.As(err, &lErr) {
		return "ledger"
	}

	return "unexpected"
}

// outcome converts an error into a metrics label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorKind(err)
}
