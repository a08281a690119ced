package persistence

import (
	"context"
	"time"
)

// MeetingFilter narrows meeting queries. Interval bounds use half-open overlap
// semantics: a meeting matches when Start < EndsBefore and End > StartsAfter.
type MeetingFilter struct {
	CoachID          string
	ParticipantID    string
	StartsAfter      *time.Time
	EndsBefore       *time.Time
	IncludeCancelled bool
}

// MeetingRepository stores meeting aggregate roots.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
	// UpdateMeetingInterval moves a meeting and sets its status when the current
	// status is one of from. It returns ErrStaleState otherwise.
	UpdateMeetingInterval(ctx context.Context, id string, from []MeetingStatus, start, end time.Time, status MeetingStatus, updatedAt time.Time) error
	// TransitionMeetingStatus is a compare-and-set on the status column.
	TransitionMeetingStatus(ctx context.Context, id string, from []MeetingStatus, to MeetingStatus, updatedAt time.Time) error
	CancelMeeting(ctx context.Context, id string, from []MeetingStatus, cancellation Cancellation) error
	SetVideoLink(ctx context.Context, id, link string, updatedAt time.Time) error
	// DeleteMeeting removes the meeting together with its participants and reschedule requests.
	DeleteMeeting(ctx context.Context, id string) error
}

// ParticipantRepository stores participants keyed by (meeting, person).
type ParticipantRepository interface {
	// InsertParticipants writes every row or none of them.
	InsertParticipants(ctx context.Context, participants []Participant) error
	// InsertParticipantIfAbsent reports whether a new row was written.
	InsertParticipantIfAbsent(ctx context.Context, participant Participant) (bool, error)
	GetParticipant(ctx context.Context, meetingID, personID string) (Participant, error)
	ListParticipants(ctx context.Context, meetingID string) ([]Participant, error)
	UpdateRSVP(ctx context.Context, meetingID, personID string, from, to RSVPStatus, updatedAt time.Time) error
	UpdatePayment(ctx context.Context, meetingID, personID string, status PaymentStatus, recordID *string, updatedAt time.Time) error
	// DeleteParticipant removes a participant only while its RSVP equals rsvp.
	DeleteParticipant(ctx context.Context, meetingID, personID string, rsvp RSVPStatus) error
}

// RescheduleRepository stores reschedule negotiations.
type RescheduleRepository interface {
	// CreateRescheduleRequest returns ErrDuplicate when the store itself rejects
	// a second pending request for the same meeting.
	CreateRescheduleRequest(ctx context.Context, request RescheduleRequest) error
	GetRescheduleRequest(ctx context.Context, id string) (RescheduleRequest, error)
	// ListRescheduleRequests returns requests ordered by CreatedAt then ID.
	ListRescheduleRequests(ctx context.Context, meetingID string) ([]RescheduleRequest, error)
	// ResolveRescheduleRequest moves a pending request to a terminal status.
	// It returns ErrStaleState when the request is no longer pending.
	ResolveRescheduleRequest(ctx context.Context, id string, status RescheduleStatus, resolvedBy string, resolvedAt time.Time) error
	DeletePendingRescheduleRequests(ctx context.Context, meetingID string) (int, error)
}

// RuleGroupKey identifies the weekday rows that form one availability rule group.
type RuleGroupKey struct {
	StartMinute int
	EndMinute   int
	Scope       AvailabilityScope
	Year        int
	Month       time.Month
}

// GroupKey returns the group the rule belongs to.
func (r AvailabilityRule) GroupKey() RuleGroupKey {
	return RuleGroupKey{
		StartMinute: r.StartMinute,
		EndMinute:   r.EndMinute,
		Scope:       r.Scope,
		Year:        r.Year,
		Month:       r.Month,
	}
}

// AvailabilityRepository stores per-weekday availability rows.
type AvailabilityRepository interface {
	ListAvailabilityRules(ctx context.Context, coachID string) ([]AvailabilityRule, error)
	// ReplaceAvailabilityGroup deletes the rows of previous (when set) and of the
	// incoming rules' group, then inserts rules.
	ReplaceAvailabilityGroup(ctx context.Context, coachID string, previous *RuleGroupKey, rules []AvailabilityRule) error
	DeleteAvailabilityGroup(ctx context.Context, coachID string, key RuleGroupKey) (int, error)
}

// CreditTransactionFilter narrows ledger history queries.
type CreditTransactionFilter struct {
	CoachID   string
	ClientID  string
	MeetingID string
}

// CreditRepository stores credit balances and their append-only history.
type CreditRepository interface {
	GetBalance(ctx context.Context, coachID, clientID string) (int, error)
	// ApplyCreditTransaction adjusts the balance by tx.Delta and records tx.
	// Negative deltas are guarded by the store and fail with ErrInsufficientBalance.
	// A reused idempotency key fails with ErrDuplicate and leaves the balance untouched.
	ApplyCreditTransaction(ctx context.Context, tx CreditTransaction) (int, error)
	ListCreditTransactions(ctx context.Context, filter CreditTransactionFilter) ([]CreditTransaction, error)
}

// TaskRepository is the durable outbox backing asynchronous side effects.
type TaskRepository interface {
	// EnqueueTask reports false when a task with the same idempotency key exists.
	EnqueueTask(ctx context.Context, task Task) (bool, error)
	// ClaimDueTasks leases up to limit tasks whose next attempt is due.
	ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error)
	CompleteTask(ctx context.Context, id string, at time.Time) error
	FailTask(ctx context.Context, id, lastError string, nextAttemptAt time.Time, dead bool, at time.Time) error
}

// CalendarFeedRepository stores the external calendar feed of each person.
type CalendarFeedRepository interface {
	UpsertCalendarFeed(ctx context.Context, feed CalendarFeed) error
	GetCalendarFeed(ctx context.Context, personID string) (CalendarFeed, error)
}

// Store is implemented by every backend.
type Store interface {
	MeetingRepository
	ParticipantRepository
	RescheduleRepository
	AvailabilityRepository
	CreditRepository
	TaskRepository
	CalendarFeedRepository
	Migrate(ctx context.Context) error
	Close() error
}
