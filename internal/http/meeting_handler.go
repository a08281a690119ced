package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/coaching-scheduler/internal/application"
	"github.com/example/coaching-scheduler/internal/persistence"
)

type meetingService interface {
	CreateMeeting(ctx context.Context, params application.CreateMeetingParams) (application.CreateMeetingResult, error)
	GetMeeting(ctx context.Context, principal application.Principal, meetingID string) (application.MeetingView, error)
	DeleteMeeting(ctx context.Context, principal application.Principal, meetingID string) error
	CancelMeeting(ctx context.Context, params application.CancelMeetingParams) (application.MeetingView, error)
	AddGuest(ctx context.Context, params application.AddGuestParams) (application.AddGuestResult, error)
	RemoveGuest(ctx context.Context, principal application.Principal, meetingID, personID string) error
	RespondRSVP(ctx context.Context, params application.RespondRSVPParams) (persistence.Participant, error)
	CheckOverlap(ctx context.Context, params application.CheckOverlapParams) (application.OverlapResult, error)
	ListCoachMonth(ctx context.Context, principal application.Principal, coachID string, year int, month time.Month) ([]application.MeetingView, error)
}

// MeetingHandler serves the meeting lifecycle endpoints.
type MeetingHandler struct {
	service   meetingService
	responder responder
	logger    *slog.Logger
}

func NewMeetingHandler(service meetingService, logger *slog.Logger) *MeetingHandler {
	return &MeetingHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

type createMeetingRequest struct {
	CoachID         string    `json:"coach_id"`
	Title           string    `json:"title" validate:"required,max=200"`
	Start           time.Time `json:"start" validate:"required"`
	End             time.Time `json:"end" validate:"required"`
	Type            string    `json:"type" validate:"omitempty,oneof=consultation workshop other"`
	IsFree          bool      `json:"is_free"`
	Price           int64     `json:"price" validate:"gte=0"`
	Currency        string    `json:"currency" validate:"omitempty,len=3"`
	ActivityID      *string   `json:"activity_id"`
	EnrollmentID    *string   `json:"enrollment_id"`
	MaxParticipants int       `json:"max_participants" validate:"gte=0"`
	GuestIDs        []string  `json:"guest_ids" validate:"required,min=1,dive,required"`
}

type createMeetingResponse struct {
	Meeting   meetingDTO    `json:"meeting"`
	Charges   []chargeDTO   `json:"charges"`
	Conflicts []conflictDTO `json:"conflicts"`
	Warnings  []string      `json:"warnings"`
}

type cancelMeetingRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type addGuestRequest struct {
	PersonID string `json:"person_id" validate:"required"`
}

type addGuestResponse struct {
	Participant participantDTO `json:"participant"`
	Created     bool           `json:"created"`
	Charge      *chargeDTO     `json:"charge,omitempty"`
	Warnings    []string       `json:"warnings"`
}

type rsvpRequest struct {
	Decision string `json:"decision" validate:"required,oneof=confirmed declined cancelled"`
}

type overlapRequest struct {
	CoachID          string    `json:"coach_id"`
	ClientID         string    `json:"client_id"`
	Start            time.Time `json:"start" validate:"required"`
	End              time.Time `json:"end" validate:"required"`
	ExcludeMeetingID string    `json:"exclude_meeting_id"`
}

type overlapResponse struct {
	HasOverlap bool          `json:"has_overlap"`
	Conflicts  []conflictDTO `json:"conflicts"`
}

func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	coachID := strings.TrimSpace(req.CoachID)
	if coachID == "" {
		coachID = principal.UserID
	}

	result, err := h.service.CreateMeeting(r.Context(), application.CreateMeetingParams{
		Principal: principal,
		CoachID:   coachID,
		Title:     req.Title,
		Start:     req.Start,
		End:       req.End,
		Type:      persistence.MeetingType(req.Type),
		Pricing:   persistence.Pricing{IsFree: req.IsFree, Price: req.Price, Currency: req.Currency},
		Relations: persistence.Relations{
			ActivityID:      req.ActivityID,
			EnrollmentID:    req.EnrollmentID,
			MaxParticipants: req.MaxParticipants,
		},
		GuestIDs: req.GuestIDs,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := createMeetingResponse{
		Meeting:   toMeetingDTO(result.Meeting),
		Charges:   make([]chargeDTO, 0, len(result.Charges)),
		Conflicts: toConflictDTOs(result.Conflicts),
		Warnings:  emptyIfNil(result.Warnings),
	}
	for _, charge := range result.Charges {
		resp.Charges = append(resp.Charges, toChargeDTO(charge))
	}
	if len(result.Warnings) > 0 {
		handlerLogger(r.Context(), h.logger, "MeetingHandler", "Create", "meeting_id", result.Meeting.Meeting.ID).
			WarnContext(r.Context(), "meeting created with degraded collaborators", "warnings", result.Warnings)
	}
	w.Header().Set("Location", "/meetings/"+result.Meeting.Meeting.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, resp)
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	view, err := h.service.GetMeeting(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toMeetingDTO(view))
}

func (h *MeetingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteMeeting(r.Context(), principal, mux.Vars(r)["id"]); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *MeetingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelMeetingRequest
	if !h.responder.decode(w, r, &req, true) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	view, err := h.service.CancelMeeting(r.Context(), application.CancelMeetingParams{
		Principal: principal,
		MeetingID: mux.Vars(r)["id"],
		Reason:    req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toMeetingDTO(view))
}

func (h *MeetingHandler) AddGuest(w http.ResponseWriter, r *http.Request) {
	var req addGuestRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.AddGuest(r.Context(), application.AddGuestParams{
		Principal: principal,
		MeetingID: mux.Vars(r)["id"],
		PersonID:  req.PersonID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := addGuestResponse{
		Participant: toParticipantDTO(result.Participant),
		Created:     result.Created,
		Warnings:    emptyIfNil(result.Warnings),
	}
	if result.Charge != nil {
		charge := toChargeDTO(*result.Charge)
		resp.Charge = &charge
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	h.responder.writeJSON(r.Context(), w, status, resp)
}

func (h *MeetingHandler) RemoveGuest(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	vars := mux.Vars(r)
	if err := h.service.RemoveGuest(r.Context(), principal, vars["id"], vars["personID"]); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *MeetingHandler) RespondRSVP(w http.ResponseWriter, r *http.Request) {
	var req rsvpRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	vars := mux.Vars(r)
	participant, err := h.service.RespondRSVP(r.Context(), application.RespondRSVPParams{
		Principal: principal,
		MeetingID: vars["id"],
		PersonID:  vars["personID"],
		Decision:  persistence.RSVPStatus(req.Decision),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toParticipantDTO(participant))
}

func (h *MeetingHandler) CheckOverlap(w http.ResponseWriter, r *http.Request) {
	var req overlapRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	coachID := req.CoachID
	if coachID == "" {
		coachID = principal.UserID
	}
	result, err := h.service.CheckOverlap(r.Context(), application.CheckOverlapParams{
		Principal:        principal,
		CoachID:          coachID,
		ClientID:         req.ClientID,
		Start:            req.Start,
		End:              req.End,
		ExcludeMeetingID: req.ExcludeMeetingID,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, overlapResponse{
		HasOverlap: result.HasOverlap,
		Conflicts:  toConflictDTOs(result.Conflicts),
	})
}

// ListCoachMonth serves GET /coaches/{coachID}/meetings?year=&month=.
func (h *MeetingHandler) ListCoachMonth(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	year, yErr := strconv.Atoi(strings.TrimSpace(query.Get("year")))
	month, mErr := strconv.Atoi(strings.TrimSpace(query.Get("month")))
	if yErr != nil || mErr != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	views, err := h.service.ListCoachMonth(r.Context(), principal, mux.Vars(r)["coachID"], year, time.Month(month))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	meetings := make([]meetingDTO, 0, len(views))
	for _, view := range views {
		meetings = append(meetings, toMeetingDTO(view))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"meetings": meetings})
}
