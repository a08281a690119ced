package http

import (
	"time"

	"github.com/example/coaching-scheduler/internal/application"
	"github.com/example/coaching-scheduler/internal/persistence"
)

type pricingDTO struct {
	IsFree   bool   `json:"is_free"`
	Price    int64  `json:"price"`
	Currency string `json:"currency,omitempty"`
}

type cancellationDTO struct {
	ActorID string    `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type participantDTO struct {
	PersonID        string  `json:"person_id"`
	Role            string  `json:"role"`
	RSVP            string  `json:"rsvp"`
	Payment         string  `json:"payment"`
	PaymentRecordID *string `json:"payment_record_id,omitempty"`
}

type rescheduleRequestDTO struct {
	ID            string     `json:"id"`
	MeetingID     string     `json:"meeting_id"`
	RequesterID   string     `json:"requester_id"`
	OriginalStart time.Time  `json:"original_start"`
	OriginalEnd   time.Time  `json:"original_end"`
	ProposedStart time.Time  `json:"proposed_start"`
	ProposedEnd   time.Time  `json:"proposed_end"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

type meetingDTO struct {
	ID              string                `json:"id"`
	CoachID         string                `json:"coach_id"`
	Title           string                `json:"title"`
	Start           time.Time             `json:"start"`
	End             time.Time             `json:"end"`
	Type            string                `json:"type"`
	Status          string                `json:"status"`
	EffectiveStatus string                `json:"effective_status"`
	Pricing         pricingDTO            `json:"pricing"`
	ActivityID      *string               `json:"activity_id,omitempty"`
	EnrollmentID    *string               `json:"enrollment_id,omitempty"`
	MaxParticipants int                   `json:"max_participants,omitempty"`
	VideoLink       *string               `json:"video_link,omitempty"`
	Cancellation    *cancellationDTO      `json:"cancellation,omitempty"`
	Participants    []participantDTO      `json:"participants"`
	PendingRequest  *rescheduleRequestDTO `json:"pending_request,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type chargeDTO struct {
	GuestID          string `json:"guest_id"`
	Cost             int    `json:"cost"`
	Payment          string `json:"payment"`
	Debited          int    `json:"debited"`
	ShortfallCredits int    `json:"shortfall_credits"`
	AmountDue        int64  `json:"amount_due"`
	Currency         string `json:"currency,omitempty"`
}

type conflictDTO struct {
	Kind      string    `json:"kind"`
	MeetingID string    `json:"meeting_id,omitempty"`
	PersonID  string    `json:"person_id,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

func toMeetingDTO(view application.MeetingView) meetingDTO {
	m := view.Meeting
	dto := meetingDTO{
		ID:              m.ID,
		CoachID:         m.CoachID,
		Title:           m.Title,
		Start:           m.Start,
		End:             m.End,
		Type:            string(m.Type),
		Status:          string(m.Status),
		EffectiveStatus: string(view.EffectiveStatus),
		Pricing:         pricingDTO{IsFree: m.Pricing.IsFree, Price: m.Pricing.Price, Currency: m.Pricing.Currency},
		ActivityID:      m.Relations.ActivityID,
		EnrollmentID:    m.Relations.EnrollmentID,
		MaxParticipants: m.Relations.MaxParticipants,
		VideoLink:       m.VideoLink,
		Participants:    make([]participantDTO, 0, len(view.Participants)),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.Cancellation != nil {
		dto.Cancellation = &cancellationDTO{ActorID: m.Cancellation.ActorID, Reason: m.Cancellation.Reason, At: m.Cancellation.At}
	}
	for _, p := range view.Participants {
		dto.Participants = append(dto.Participants, toParticipantDTO(p))
	}
	if view.PendingRequest != nil {
		req := toRescheduleRequestDTO(*view.PendingRequest)
		dto.PendingRequest = &req
	}
	return dto
}

func toParticipantDTO(p persistence.Participant) participantDTO {
	return participantDTO{
		PersonID:        p.PersonID,
		Role:            string(p.Role),
		RSVP:            string(p.RSVP),
		Payment:         string(p.Payment),
		PaymentRecordID: p.PaymentRecordID,
	}
}

func toRescheduleRequestDTO(r persistence.RescheduleRequest) rescheduleRequestDTO {
	return rescheduleRequestDTO{
		ID:            r.ID,
		MeetingID:     r.MeetingID,
		RequesterID:   r.RequesterID,
		OriginalStart: r.OriginalStart,
		OriginalEnd:   r.OriginalEnd,
		ProposedStart: r.ProposedStart,
		ProposedEnd:   r.ProposedEnd,
		Status:        string(r.Status),
		Reason:        r.Reason,
		CreatedAt:     r.CreatedAt,
		ResolvedBy:    r.ResolvedBy,
		ResolvedAt:    r.ResolvedAt,
	}
}

func toChargeDTO(c application.Charge) chargeDTO {
	return chargeDTO{
		GuestID:          c.GuestID,
		Cost:             c.Cost,
		Payment:          string(c.Payment),
		Debited:          c.Debited,
		ShortfallCredits: c.ShortfallCredits,
		AmountDue:        c.AmountDue,
		Currency:         c.Currency,
	}
}

func toConflictDTOs(warnings []application.ConflictWarning) []conflictDTO {
	out := make([]conflictDTO, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, conflictDTO{Kind: w.Kind, MeetingID: w.MeetingID, PersonID: w.PersonID, Start: w.Start, End: w.End})
	}
	return out
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
