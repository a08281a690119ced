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

type creditService interface {
	Grant(ctx context.Context, params application.GrantCreditsParams) (int, error)
	Statement(ctx context.Context, principal application.Principal, coachID, clientID string) (application.CreditStatement, error)
}

type calendarFeedService interface {
	SetFeed(ctx context.Context, principal application.Principal, personID, feedURL string) (persistence.CalendarFeed, error)
}

// CreditHandler exposes a client's balance with a coach and lets coaches top it up.
type CreditHandler struct {
	service   creditService
	responder responder
}

func NewCreditHandler(service creditService, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{service: service, responder: newResponder(logger)}
}

type grantCreditsRequest struct {
	Amount int    `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"max=200"`
}

type creditTransactionDTO struct {
	ID        string    `json:"id"`
	Delta     int       `json:"delta"`
	MeetingID string    `json:"meeting_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type creditStatementDTO struct {
	CoachID      string                 `json:"coach_id"`
	ClientID     string                 `json:"client_id"`
	Balance      int                    `json:"balance"`
	Transactions []creditTransactionDTO `json:"transactions"`
}

func (h *CreditHandler) Statement(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	vars := mux.Vars(r)
	statement, err := h.service.Statement(r.Context(), principal, vars["coachID"], vars["clientID"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := creditStatementDTO{
		CoachID:      statement.CoachID,
		ClientID:     statement.ClientID,
		Balance:      statement.Balance,
		Transactions: make([]creditTransactionDTO, 0, len(statement.Transactions)),
	}
	for _, tx := range statement.Transactions {
		resp.Transactions = append(resp.Transactions, creditTransactionDTO{
			ID:        tx.ID,
			Delta:     tx.Delta,
			MeetingID: tx.MeetingID,
			Reason:    tx.Reason,
			CreatedAt: tx.CreatedAt,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *CreditHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantCreditsRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	vars := mux.Vars(r)
	balance, err := h.service.Grant(r.Context(), application.GrantCreditsParams{
		Principal: principal,
		CoachID:   vars["coachID"],
		ClientID:  vars["clientID"],
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]int{"balance": balance})
}

// CalendarFeedHandler registers a person's external calendar export.
type CalendarFeedHandler struct {
	service   calendarFeedService
	responder responder
}

func NewCalendarFeedHandler(service calendarFeedService, logger *slog.Logger) *CalendarFeedHandler {
	return &CalendarFeedHandler{service: service, responder: newResponder(logger)}
}

type calendarFeedRequest struct {
	URL string `json:"url" validate:"required,url"`
}

func (h *CalendarFeedHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req calendarFeedRequest
	if !h.responder.decode(w, r, &req, false) {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	feed, err := h.service.SetFeed(r.Context(), principal, mux.Vars(r)["personID"], req.URL)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"person_id":  feed.PersonID,
		"url":        feed.URL,
		"updated_at": feed.UpdatedAt,
	})
}
