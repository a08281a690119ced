package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/coaching-scheduler/internal/application"
	"github.com/example/coaching-scheduler/internal/persistence"
)

type availabilityService interface {
	SetRuleGroup(ctx context.Context, params application.SetRuleGroupParams) (application.RuleGroup, error)
	DeleteRuleGroup(ctx context.Context, principal application.Principal, coachID string, key persistence.RuleGroupKey) error
	ListRuleGroups(ctx context.Context, coachID string) ([]application.RuleGroup, error)
}

// AvailabilityHandler manages a coach's recurring availability windows.
type AvailabilityHandler struct {
	service   availabilityService
	responder responder
}

func NewAvailabilityHandler(service availabilityService, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{service: service, responder: newResponder(logger)}
}

type ruleGroupRequest struct {
	// Previous is the key of the group being replaced, if any.
	Previous    string `json:"previous"`
	Weekdays    []int  `json:"weekdays" validate:"required,min=1,dive,min=0,max=6"`
	StartMinute int    `json:"start_minute" validate:"gte=0,lte=1440"`
	EndMinute   int    `json:"end_minute" validate:"gt=0,lte=1440"`
	Scope       string `json:"scope" validate:"omitempty,oneof=always month"`
	Year        int    `json:"year"`
	Month       int    `json:"month" validate:"gte=0,lte=12"`
	Timezone    string `json:"timezone"`
}

type ruleGroupDTO struct {
	Key         string `json:"key"`
	Weekdays    []int  `json:"weekdays"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Scope       string `json:"scope"`
	Year        int    `json:"year,omitempty"`
	Month       int    `json:"month,omitempty"`
	Timezone    string `json:"timezone"`
}

func toRuleGroupDTO(group application.RuleGroup) ruleGroupDTO {
	days := make([]int, 0, len(group.Weekdays))
	for _, day := range group.Weekdays {
		days = append(days, int(day))
	}
	return ruleGroupDTO{
		Key:         application.FormatRuleGroupKey(group.Key),
		Weekdays:    days,
		StartMinute: group.Key.StartMinute,
		EndMinute:   group.Key.EndMinute,
		Scope:       string(group.Key.Scope),
		Year:        group.Key.Year,
		Month:       int(group.Key.Month),
		Timezone:    group.Timezone,
	}
}

func (h *AvailabilityHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListRuleGroups(r.Context(), mux.Vars(r)["coachID"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]ruleGroupDTO, 0, len(groups))
	for _, group := range groups {
		out = append(out, toRuleGroupDTO(group))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"groups": out})
}

func (h *AvailabilityHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req ruleGroupRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params := application.SetRuleGroupParams{
		Principal:   principal,
		CoachID:     mux.Vars(r)["coachID"],
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		Scope:       persistence.AvailabilityScope(req.Scope),
		Year:        req.Year,
		Month:       time.Month(req.Month),
		Timezone:    req.Timezone,
	}
	for _, day := range req.Weekdays {
		params.Weekdays = append(params.Weekdays, time.Weekday(day))
	}
	if previous := strings.TrimSpace(req.Previous); previous != "" {
		key, err := application.ParseRuleGroupKey(previous)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		params.Previous = &key
	}

	group, err := h.service.SetRuleGroup(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRuleGroupDTO(group))
}

func (h *AvailabilityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, err := application.ParseRuleGroupKey(vars["groupKey"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteRuleGroup(r.Context(), principal, vars["coachID"], key); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}
