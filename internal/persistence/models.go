package persistence

import "time"

// MeetingType classifies what kind of session a meeting is.
type MeetingType string

const (
	MeetingTypeConsultation MeetingType = "consultation"
	MeetingTypeWorkshop     MeetingType = "workshop"
	MeetingTypeOther        MeetingType = "other"
)

// MeetingStatus is the stored lifecycle status of a meeting.
type MeetingStatus string

const (
	MeetingStatusScheduled   MeetingStatus = "scheduled"
	MeetingStatusRescheduled MeetingStatus = "rescheduled"
	MeetingStatusCompleted   MeetingStatus = "completed"
	MeetingStatusCancelled   MeetingStatus = "cancelled"
)

// ParticipantRole distinguishes the host from invited guests.
type ParticipantRole string

const (
	RoleCoach  ParticipantRole = "coach"
	RoleClient ParticipantRole = "client"
)

// RSVPStatus tracks a participant's answer to an invitation.
type RSVPStatus string

const (
	RSVPPending   RSVPStatus = "pending"
	RSVPConfirmed RSVPStatus = "confirmed"
	RSVPDeclined  RSVPStatus = "declined"
	RSVPCancelled RSVPStatus = "cancelled"
)

// PaymentStatus records how a participant's seat is paid for.
type PaymentStatus string

const (
	PaymentFree            PaymentStatus = "free"
	PaymentCreditDeduction PaymentStatus = "credit_deduction"
	PaymentUnpaid          PaymentStatus = "unpaid"
	PaymentPaid            PaymentStatus = "paid"
)

// RescheduleStatus tracks the negotiation state of a reschedule request.
type RescheduleStatus string

const (
	ReschedulePending  RescheduleStatus = "pending"
	RescheduleAccepted RescheduleStatus = "accepted"
	RescheduleRejected RescheduleStatus = "rejected"
)

// AvailabilityScope bounds when an availability rule applies.
type AvailabilityScope string

const (
	ScopeAlways AvailabilityScope = "always"
	ScopeMonth  AvailabilityScope = "month"
)

// TaskStatus tracks delivery of an outbox task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskDead      TaskStatus = "dead"
)

// Pricing describes whether a meeting is free and, if not, its price in minor units.
type Pricing struct {
	IsFree   bool
	Price    int64
	Currency string
}

// Relations links a meeting to catalog entities owned by other parts of the platform.
type Relations struct {
	ActivityID      *string
	EnrollmentID    *string
	MaxParticipants int
}

// Cancellation records who cancelled a meeting, why, and when.
type Cancellation struct {
	ActorID string
	Reason  string
	At      time.Time
}

// Meeting is the root record of the meeting aggregate.
type Meeting struct {
	ID           string
	CoachID      string
	Title        string
	Start        time.Time
	End          time.Time
	Type         MeetingType
	Status       MeetingStatus
	Pricing      Pricing
	Relations    Relations
	VideoLink    *string
	Cancellation *Cancellation
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Participant is a person attached to a meeting, keyed by (MeetingID, PersonID).
type Participant struct {
	MeetingID       string
	PersonID        string
	Role            ParticipantRole
	RSVP            RSVPStatus
	Payment         PaymentStatus
	PaymentRecordID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RescheduleRequest is a proposal to move a fully confirmed meeting.
type RescheduleRequest struct {
	ID            string
	MeetingID     string
	RequesterID   string
	OriginalStart time.Time
	OriginalEnd   time.Time
	ProposedStart time.Time
	ProposedEnd   time.Time
	Status        RescheduleStatus
	Reason        string
	CreatedAt     time.Time
	ResolvedBy    string
	ResolvedAt    *time.Time
}

// AvailabilityRule is one weekday row of a coach's recurring availability.
// StartMinute and EndMinute count minutes from midnight in the rule's timezone.
type AvailabilityRule struct {
	ID          string
	CoachID     string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	Scope       AvailabilityScope
	Year        int
	Month       time.Month
	Timezone    string
	CreatedAt   time.Time
}

// CreditTransaction is one append-only balance movement for a (coach, client) pair.
// Delta is negative for debits.
type CreditTransaction struct {
	ID             string
	CoachID        string
	ClientID       string
	Delta          int
	MeetingID      string
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Task is a durable outbox entry delivered at least once to a collaborator handler.
type Task struct {
	ID             string
	Kind           string
	MeetingID      string
	Payload        []byte
	IdempotencyKey string
	Status         TaskStatus
	Attempts       int
	LastError      string
	NextAttemptAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CalendarFeed points at a person's third-party calendar export.
type CalendarFeed struct {
	PersonID  string
	URL       string
	UpdatedAt time.Time
}
