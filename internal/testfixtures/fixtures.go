package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

var meetingCounter uint64

// referenceTime is a Monday morning.
var referenceTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ---------------------------- Meeting fixtures ----------------------------

// MeetingFixture is a deterministic meeting aggregate that can be seeded into
// any persistence.Store.
type MeetingFixture struct {
	Meeting persistence.Meeting
	Guests  []persistence.Participant
}

// MeetingOption customises a MeetingFixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns a free one hour consultation hosted by coach-1 one
// day after ReferenceTime with a single pending guest, client-1.
func NewMeetingFixture(opts ...MeetingOption) MeetingFixture {
	seq := atomic.AddUint64(&meetingCounter, 1)
	start := referenceTime.Add(24 * time.Hour)
	fixture := MeetingFixture{
		Meeting: persistence.Meeting{
			ID:        fmt.Sprintf("meeting-fixture-%d", seq),
			CoachID:   "coach-1",
			Title:     fmt.Sprintf("Session %d", seq),
			Start:     start,
			End:       start.Add(time.Hour),
			Type:      persistence.MeetingTypeConsultation,
			Status:    persistence.MeetingStatusScheduled,
			Pricing:   persistence.Pricing{IsFree: true},
			CreatedAt: referenceTime,
			UpdatedAt: referenceTime,
		},
	}
	fixture.Guests = []persistence.Participant{fixture.guest("client-1", persistence.RSVPPending)}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func (f MeetingFixture) guest(personID string, rsvp persistence.RSVPStatus) persistence.Participant {
	return persistence.Participant{
		MeetingID: f.Meeting.ID,
		PersonID:  personID,
		Role:      persistence.RoleClient,
		RSVP:      rsvp,
		Payment:   persistence.PaymentFree,
		CreatedAt: f.Meeting.CreatedAt,
		UpdatedAt: f.Meeting.CreatedAt,
	}
}

// WithMeetingID overrides the meeting identifier.
func WithMeetingID(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Meeting.ID = id
		for i := range f.Guests {
			f.Guests[i].MeetingID = id
		}
	}
}

// WithMeetingCoach sets the host.
func WithMeetingCoach(coachID string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Meeting.CoachID = coachID
	}
}

// WithMeetingInterval sets the meeting window.
func WithMeetingInterval(start, end time.Time) MeetingOption {
	return func(f *MeetingFixture) {
		f.Meeting.Start = start
		f.Meeting.End = end
	}
}

// WithMeetingStatus sets the stored status.
func WithMeetingStatus(status persistence.MeetingStatus) MeetingOption {
	return func(f *MeetingFixture) {
		f.Meeting.Status = status
	}
}

// WithMeetingPrice makes the meeting priced.
func WithMeetingPrice(price int64, currency string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Meeting.Pricing = persistence.Pricing{Price: price, Currency: currency}
	}
}

// WithGuests replaces the guest list; every guest gets the same RSVP.
func WithGuests(rsvp persistence.RSVPStatus, personIDs ...string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Guests = f.Guests[:0]
		for _, personID := range personIDs {
			f.Guests = append(f.Guests, f.guest(personID, rsvp))
		}
	}
}

// WithGuest appends one guest.
func WithGuest(personID string, rsvp persistence.RSVPStatus) MeetingOption {
	return func(f *MeetingFixture) {
		f.Guests = append(f.Guests, f.guest(personID, rsvp))
	}
}

// Participants returns the host row followed by the guests.
func (f MeetingFixture) Participants() []persistence.Participant {
	participants := make([]persistence.Participant, 0, len(f.Guests)+1)
	participants = append(participants, persistence.Participant{
		MeetingID: f.Meeting.ID,
		PersonID:  f.Meeting.CoachID,
		Role:      persistence.RoleCoach,
		RSVP:      persistence.RSVPConfirmed,
		Payment:   persistence.PaymentFree,
		CreatedAt: f.Meeting.CreatedAt,
		UpdatedAt: f.Meeting.CreatedAt,
	})
	return append(participants, f.Guests...)
}
