package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// HealthCheck reports whether the service can reach its dependencies.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Meetings      *MeetingHandler
	Reschedules   *RescheduleHandler
	Availability  *AvailabilityHandler
	Credits       *CreditHandler
	CalendarFeeds *CalendarFeedHandler

	Health         HealthCheck
	MetricsHandler http.Handler
	Recorder       HTTPRecorder
	Logger         *slog.Logger
}

// NewRouter wires every endpoint. /healthz and /metrics are served without an
// identity; all other routes require the gateway headers.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := defaultLogger(cfg.Logger)
	r := mux.NewRouter()
	r.Use(Recover(logger), RequestLogger(logger), Instrument(cfg.Recorder))

	responder := newResponder(logger)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(req.Context()); err != nil {
				responder.loggerFor(req.Context()).WarnContext(req.Context(), "health check failed", "error", err)
				responder.writeJSON(req.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		responder.writeJSON(req.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(RequirePrincipal(logger))

	if h := cfg.Meetings; h != nil {
		api.HandleFunc("/meetings", h.Create).Methods(http.MethodPost)
		api.HandleFunc("/meetings/{id}", h.Get).Methods(http.MethodGet)
		api.HandleFunc("/meetings/{id}", h.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/meetings/{id}/cancel", h.Cancel).Methods(http.MethodPost)
		api.HandleFunc("/meetings/{id}/guests", h.AddGuest).Methods(http.MethodPost)
		api.HandleFunc("/meetings/{id}/guests/{personID}", h.RemoveGuest).Methods(http.MethodDelete)
		api.HandleFunc("/meetings/{id}/participants/{personID}/rsvp", h.RespondRSVP).Methods(http.MethodPut)
		api.HandleFunc("/overlap-checks", h.CheckOverlap).Methods(http.MethodPost)
		api.HandleFunc("/coaches/{coachID}/meetings", h.ListCoachMonth).Methods(http.MethodGet)
	}

	if h := cfg.Reschedules; h != nil {
		api.HandleFunc("/meetings/{id}/reschedule", h.Propose).Methods(http.MethodPost)
		api.HandleFunc("/meetings/{id}/reschedule-requests", h.List).Methods(http.MethodGet)
		api.HandleFunc("/reschedule-requests/{id}/accept", h.Accept).Methods(http.MethodPost)
		api.HandleFunc("/reschedule-requests/{id}/reject", h.Reject).Methods(http.MethodPost)
		api.HandleFunc("/reschedule-requests/{id}/withdraw", h.Withdraw).Methods(http.MethodPost)
	}

	if h := cfg.Availability; h != nil {
		api.HandleFunc("/coaches/{coachID}/availability", h.List).Methods(http.MethodGet)
		api.HandleFunc("/coaches/{coachID}/availability", h.Set).Methods(http.MethodPut)
		api.HandleFunc("/coaches/{coachID}/availability/{groupKey}", h.Delete).Methods(http.MethodDelete)
	}

	if h := cfg.Credits; h != nil {
		api.HandleFunc("/coaches/{coachID}/clients/{clientID}/credits", h.Statement).Methods(http.MethodGet)
		api.HandleFunc("/coaches/{coachID}/clients/{clientID}/credits", h.Grant).Methods(http.MethodPost)
	}

	if h := cfg.CalendarFeeds; h != nil {
		api.HandleFunc("/people/{personID}/calendar-feed", h.Put).Methods(http.MethodPut)
	}

	return r
}
