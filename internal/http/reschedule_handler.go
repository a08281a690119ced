package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/coaching-scheduler/internal/application"
	"github.com/example/coaching-scheduler/internal/persistence"
)

type rescheduleService interface {
	RequestReschedule(ctx context.Context, params application.RequestRescheduleParams) (application.RescheduleResult, error)
	AcceptReschedule(ctx context.Context, principal application.Principal, requestID string) (application.RescheduleResult, error)
	RejectReschedule(ctx context.Context, principal application.Principal, requestID string) (application.RescheduleResult, error)
	WithdrawReschedule(ctx context.Context, principal application.Principal, requestID string) (application.RescheduleResult, error)
	ListRescheduleRequests(ctx context.Context, principal application.Principal, meetingID string) ([]persistence.RescheduleRequest, error)
}

// RescheduleHandler serves proposals to move a meeting and their resolution.
type RescheduleHandler struct {
	service   rescheduleService
	responder responder
}

func NewRescheduleHandler(service rescheduleService, logger *slog.Logger) *RescheduleHandler {
	return &RescheduleHandler{service: service, responder: newResponder(logger)}
}

type rescheduleRequestBody struct {
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end" validate:"required"`
	Reason string    `json:"reason" validate:"max=1000"`
}

type rescheduleResponse struct {
	Meeting   meetingDTO            `json:"meeting"`
	Request   *rescheduleRequestDTO `json:"request,omitempty"`
	Applied   bool                  `json:"applied"`
	Conflicts []conflictDTO         `json:"conflicts"`
	Warnings  []string              `json:"warnings"`
}

func toRescheduleResponse(result application.RescheduleResult) rescheduleResponse {
	resp := rescheduleResponse{
		Meeting:   toMeetingDTO(result.Meeting),
		Applied:   result.Applied,
		Conflicts: toConflictDTOs(result.Conflicts),
		Warnings:  emptyIfNil(result.Warnings),
	}
	if result.Request != nil {
		req := toRescheduleRequestDTO(*result.Request)
		resp.Request = &req
	}
	return resp
}

// Propose applies the move directly when a guest is still pending, otherwise
// it opens a request the other participants must accept (202).
func (h *RescheduleHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequestBody
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.RequestReschedule(r.Context(), application.RequestRescheduleParams{
		Principal: principal,
		MeetingID: mux.Vars(r)["id"],
		Start:     req.Start,
		End:       req.End,
		Reason:    req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if !result.Applied {
		status = http.StatusAccepted
	}
	h.responder.writeJSON(r.Context(), w, status, toRescheduleResponse(result))
}

func (h *RescheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	requests, err := h.service.ListRescheduleRequests(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]rescheduleRequestDTO, 0, len(requests))
	for _, request := range requests {
		out = append(out, toRescheduleRequestDTO(request))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"requests": out})
}

func (h *RescheduleHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.service.AcceptReschedule)
}

func (h *RescheduleHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.service.RejectReschedule)
}

func (h *RescheduleHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.service.WithdrawReschedule)
}

func (h *RescheduleHandler) resolve(w http.ResponseWriter, r *http.Request, action func(context.Context, application.Principal, string) (application.RescheduleResult, error)) {
	principal, _ := PrincipalFromContext(r.Context())
	result, err := action(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRescheduleResponse(result))
}
