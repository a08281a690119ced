package application

import (
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

var meetingTransitions = map[persistence.MeetingStatus][]persistence.MeetingStatus{
	persistence.MeetingStatusScheduled:   {persistence.MeetingStatusRescheduled, persistence.MeetingStatusCompleted, persistence.MeetingStatusCancelled},
	persistence.MeetingStatusRescheduled: {persistence.MeetingStatusScheduled, persistence.MeetingStatusCompleted, persistence.MeetingStatusCancelled},
}

var rsvpTransitions = map[persistence.RSVPStatus][]persistence.RSVPStatus{
	persistence.RSVPPending:   {persistence.RSVPConfirmed, persistence.RSVPDeclined},
	persistence.RSVPConfirmed: {persistence.RSVPCancelled},
}

// activeStatuses are the stored statuses a meeting can still leave.
var activeStatuses = []persistence.MeetingStatus{
	persistence.MeetingStatusScheduled,
	persistence.MeetingStatusRescheduled,
}

func canTransitionMeeting(from, to persistence.MeetingStatus) bool {
	for _, allowed := range meetingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func canTransitionRSVP(from, to persistence.RSVPStatus) bool {
	for _, allowed := range rsvpTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EffectiveStatus derives the status callers should see. Precedence, highest first:
// cancelled, completed (stored, or now past the end), a pending reschedule
// request, an accepted reschedule request, then the stored status.
func EffectiveStatus(meeting persistence.Meeting, requests []persistence.RescheduleRequest, now time.Time) persistence.MeetingStatus {
	if meeting.Status == persistence.MeetingStatusCancelled {
		return persistence.MeetingStatusCancelled
	}
	if meeting.Status == persistence.MeetingStatusCompleted || now.After(meeting.End) {
		return persistence.MeetingStatusCompleted
	}

	accepted := false
	for _, request := range requests {
		switch request.Status {
		case persistence.ReschedulePending:
			return persistence.MeetingStatusRescheduled
		case persistence.RescheduleAccepted:
			accepted = true
		}
	}
	if accepted {
		return persistence.MeetingStatusRescheduled
	}
	return meeting.Status
}

// isTerminal reports whether no further transition may leave the meeting.
func isTerminal(meeting persistence.Meeting, now time.Time) bool {
	status := EffectiveStatus(meeting, nil, now)
	return status == persistence.MeetingStatusCancelled || status == persistence.MeetingStatusCompleted
}

func pendingRequest(requests []persistence.RescheduleRequest) *persistence.RescheduleRequest {
	for i := range requests {
		if requests[i].Status == persistence.ReschedulePending {
			request := requests[i]
			return &request
		}
	}
	return nil
}

func findParticipant(participants []persistence.Participant, personID string) (persistence.Participant, bool) {
	for _, participant := range participants {
		if participant.PersonID == personID {
			return participant, true
		}
	}
	return persistence.Participant{}, false
}

func hasPendingGuest(participants []persistence.Participant) bool {
	for _, participant := range participants {
		if participant.Role == persistence.RoleClient && participant.RSVP == persistence.RSVPPending {
			return true
		}
	}
	return false
}

// needsNegotiation reports whether moving the meeting requires consent: at
// least one guest still holds a seat and every seat holder has confirmed.
func needsNegotiation(participants []persistence.Participant) bool {
	return len(seatHolders(participants)) > 0 && !hasPendingGuest(participants)
}

func holdsSeat(rsvp persistence.RSVPStatus) bool {
	return rsvp == persistence.RSVPPending || rsvp == persistence.RSVPConfirmed
}

// seatHolders returns guests that still hold a seat (pending or confirmed).
func seatHolders(participants []persistence.Participant) []persistence.Participant {
	holders := make([]persistence.Participant, 0, len(participants))
	for _, participant := range participants {
		if participant.Role != persistence.RoleClient {
			continue
		}
		if holdsSeat(participant.RSVP) {
			holders = append(holders, participant)
		}
	}
	return holders
}
