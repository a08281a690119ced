package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/example/coaching-scheduler/internal/application"
)

// Identity headers are set by the upstream gateway after it authenticated the caller.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserAdmin = "X-User-Admin"
	HeaderRequestID = "X-Request-ID"
)

var tracer = otel.Tracer("github.com/example/coaching-scheduler/internal/http")

// HTTPRecorder observes served requests.
type HTTPRecorder interface {
	HTTPRequest(method, path string, status int, elapsed time.Duration)
}

// RequirePrincipal resolves the caller from the gateway identity headers.
func RequirePrincipal(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingIdentity)
				return
			}

			principal := application.Principal{UserID: userID}
			if raw := strings.TrimSpace(r.Header.Get(HeaderUserAdmin)); raw != "" {
				isAdmin, err := strconv.ParseBool(raw)
				if err != nil {
					responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidAdmin)
					return
				}
				principal.IsAdmin = isAdmin
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("user_id", userID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request scoped logger, opens a server span and logs
// the outcome of every request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if requestID == "" {
				requestID = strconv.FormatUint(counter.Add(1), 10)
			}
			route := routeTemplate(r)

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route)
			defer span.End()

			logger := base.With(
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = ContextWithLogger(ctx, logger)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rec.status),
			)
			logger.InfoContext(ctx, "request completed", "status", rec.status, "duration", time.Since(start))
		})
	}
}

// Instrument records request counts and latency per route template.
func Instrument(recorder HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			recorder.HTTPRequest(r.Method, routeTemplate(r), rec.status, time.Since(start))
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					responder.loggerFor(r.Context()).ErrorContext(r.Context(), "handler panicked", "panic", rec)
					responder.writeJSON(r.Context(), w, http.StatusInternalServerError, errorResponse{Message: localizedStatusMessage(http.StatusInternalServerError)})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}
