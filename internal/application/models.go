package application

import (
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Warning kinds that are not conflict sources.
const (
	WarningOutsideAvailability = "outside_availability"
)

// ConflictWarning describes an advisory finding. Kind is a conflict source
// (coach_meeting, client_meeting, external_calendar) or outside_availability.
type ConflictWarning struct {
	Kind      string
	MeetingID string
	PersonID  string
	Start     time.Time
	End       time.Time
}

// MeetingView is a meeting with its participants and derived status.
type MeetingView struct {
	Meeting         persistence.Meeting
	Participants    []persistence.Participant
	EffectiveStatus persistence.MeetingStatus
	PendingRequest  *persistence.RescheduleRequest
}

// Charge reports how one guest's seat was paid for.
type Charge struct {
	GuestID          string
	Cost             int
	Payment          persistence.PaymentStatus
	Debited          int
	ShortfallCredits int
	AmountDue        int64
	Currency         string
}

// CreateMeetingParams wraps the data required to create a meeting.
type CreateMeetingParams struct {
	Principal Principal
	CoachID   string
	Title     string
	Start     time.Time
	End       time.Time
	Type      persistence.MeetingType
	Pricing   persistence.Pricing
	Relations persistence.Relations
	GuestIDs  []string
}

// CreateMeetingResult is returned by a successful CreateMeeting.
type CreateMeetingResult struct {
	Meeting   MeetingView
	Charges   []Charge
	Conflicts []ConflictWarning
	// Warnings lists collaborator problems that did not fail the booking.
	Warnings []string
}

// CancelMeetingParams wraps the data required to cancel a meeting.
type CancelMeetingParams struct {
	Principal Principal
	MeetingID string
	Reason    string
}

// RespondRSVPParams carries a guest's answer to an invitation.
type RespondRSVPParams struct {
	Principal Principal
	MeetingID string
	PersonID  string
	Decision  persistence.RSVPStatus
}

// CheckOverlapParams describes an advisory overlap query. ClientID is optional
// and adds that client's confirmed and external commitments.
type CheckOverlapParams struct {
	Principal        Principal
	CoachID          string
	ClientID         string
	Start            time.Time
	End              time.Time
	ExcludeMeetingID string
}

// OverlapResult is the outcome of CheckOverlap.
type OverlapResult struct {
	HasOverlap bool
	Conflicts  []ConflictWarning
}

// AddGuestParams invites one more client to an existing meeting.
type AddGuestParams struct {
	Principal Principal
	MeetingID string
	PersonID  string
}

// AddGuestResult reports the participant and, when newly invited, the charge.
type AddGuestResult struct {
	Participant persistence.Participant
	Created     bool
	Charge      *Charge
	Warnings    []string
}

// RequestRescheduleParams wraps a proposal to move a meeting.
type RequestRescheduleParams struct {
	Principal Principal
	MeetingID string
	Start     time.Time
	End       time.Time
	Reason    string
}

// RescheduleOutcome is what the negotiator did with a proposal or resolution.
type RescheduleOutcome struct {
	Meeting persistence.Meeting
	Request *persistence.RescheduleRequest
	// Moved is set when the meeting interval changed.
	Moved    bool
	Previous Interval
	// Superseded counts pending requests dropped by a direct move.
	Superseded int
	// NoOp is set when the request was already in the requested state.
	NoOp bool
}

// RescheduleResult is returned by the orchestrator's reschedule operations.
type RescheduleResult struct {
	Meeting   MeetingView
	Request   *persistence.RescheduleRequest
	Applied   bool
	Conflicts []ConflictWarning
	Warnings  []string
}

// RuleGroup is the user facing view of availability rows that share a window.
type RuleGroup struct {
	Key      persistence.RuleGroupKey
	Weekdays []time.Weekday
	Timezone string
}

// SetRuleGroupParams creates a rule group or replaces Previous with it.
type SetRuleGroupParams struct {
	Principal   Principal
	CoachID     string
	Previous    *persistence.RuleGroupKey
	Weekdays    []time.Weekday
	StartMinute int
	EndMinute   int
	Scope       persistence.AvailabilityScope
	Year        int
	Month       time.Month
	Timezone    string
}

// GrantCreditsParams tops up a client's balance with a coach.
type GrantCreditsParams struct {
	Principal Principal
	CoachID   string
	ClientID  string
	Amount    int
	Reason    string
}
