package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence"
)

// RequestReschedule proposes a new interval. When a guest has not answered yet
// the meeting moves at once; otherwise a request is opened for the other
// participants to accept.
func (s *MeetingService) RequestReschedule(ctx context.Context, params RequestRescheduleParams) (result RescheduleResult, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}

	ctx, span := tracer.Start(ctx, "MeetingService.RequestReschedule")
	logger := s.loggerWith(ctx, "RequestReschedule", "meeting_id", params.MeetingID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("reschedule_request", outcome(err))
		switch {
		case err != nil:
			s.recorder.RescheduleOutcome(ErrorKind(err))
			logger.ErrorContext(ctx, "reschedule request failed", "error", err, "error_kind", ErrorKind(err))
		case result.Applied:
			s.recorder.RescheduleOutcome("moved")
			logger.InfoContext(ctx, "meeting rescheduled directly", "conflicts", len(result.Conflicts))
		default:
			s.recorder.RescheduleOutcome("requested")
			logger.InfoContext(ctx, "reschedule negotiation opened", "conflicts", len(result.Conflicts))
		}
	}()

	var negotiated RescheduleOutcome
	negotiated, err = s.negotiator.Propose(ctx, params)
	if err != nil {
		return
	}

	result, err = s.afterNegotiation(ctx, logger, negotiated)
	return
}

// AcceptReschedule applies a pending request on behalf of another participant.
func (s *MeetingService) AcceptReschedule(ctx context.Context, principal Principal, requestID string) (RescheduleResult, error) {
	return s.resolveReschedule(ctx, "accept", requestID, func(ctx context.Context) (RescheduleOutcome, error) {
		return s.negotiator.Accept(ctx, principal, requestID)
	})
}

// RejectReschedule declines a pending request.
func (s *MeetingService) RejectReschedule(ctx context.Context, principal Principal, requestID string) (RescheduleResult, error) {
	return s.resolveReschedule(ctx, "reject", requestID, func(ctx context.Context) (RescheduleOutcome, error) {
		return s.negotiator.Reject(ctx, principal, requestID)
	})
}

// WithdrawReschedule lets the requester take a pending request back.
func (s *MeetingService) WithdrawReschedule(ctx context.Context, principal Principal, requestID string) (RescheduleResult, error) {
	return s.resolveReschedule(ctx, "withdraw", requestID, func(ctx context.Context) (RescheduleOutcome, error) {
		return s.negotiator.Withdraw(ctx, principal, requestID)
	})
}

// ListRescheduleRequests returns a meeting's negotiation history.
func (s *MeetingService) ListRescheduleRequests(ctx context.Context, principal Principal, meetingID string) ([]persistence.RescheduleRequest, error) {
	if s == nil {
		return nil, fmt.Errorf("MeetingService is nil")
	}
	return s.negotiator.ListRequests(ctx, principal, meetingID)
}

func (s *MeetingService) resolveReschedule(ctx context.Context, action, requestID string, resolve func(context.Context) (RescheduleOutcome, error)) (result RescheduleResult, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}

	ctx, span := tracer.Start(ctx, "MeetingService.Reschedule."+action)
	logger := s.loggerWith(ctx, "Reschedule", "action", action, "request_id", requestID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("reschedule_"+action, outcome(err))
		if err != nil {
			s.recorder.RescheduleOutcome(ErrorKind(err))
			logger.ErrorContext(ctx, "reschedule resolution failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		s.recorder.RescheduleOutcome(action)
		logger.InfoContext(ctx, "reschedule request resolved", "applied", result.Applied)
	}()

	var negotiated RescheduleOutcome
	negotiated, err = resolve(ctx)
	if err != nil {
		return
	}
	result, err = s.afterNegotiation(ctx, logger, negotiated)
	return
}

// afterNegotiation runs the side effects of a negotiation step: advisory
// conflicts for the new interval, collaborator tasks and cache invalidation.
func (s *MeetingService) afterNegotiation(ctx context.Context, logger *slog.Logger, negotiated RescheduleOutcome) (RescheduleResult, error) {
	meeting := negotiated.Meeting
	result := RescheduleResult{Request: negotiated.Request, Applied: negotiated.Moved}

	participants, err := s.store.ListParticipants(ctx, meeting.ID)
	if err != nil {
		logger.WarnContext(ctx, "participants unavailable after reschedule", "error", err)
	}

	proposing := negotiated.Request != nil && negotiated.Request.Status == persistence.ReschedulePending
	candidate := Interval{Start: meeting.Start, End: meeting.End}
	if proposing {
		candidate = Interval{Start: negotiated.Request.ProposedStart, End: negotiated.Request.ProposedEnd}
	}
	if negotiated.Moved || proposing {
		var confirmed []string
		for _, participant := range participants {
			if participant.Role == persistence.RoleClient && participant.RSVP == persistence.RSVPConfirmed {
				confirmed = append(confirmed, participant.PersonID)
			}
		}
		result.Conflicts = s.advisoryConflicts(ctx, logger, meeting.CoachID, confirmed, candidate, meeting.ID)
	}

	if negotiated.Moved {
		result.Warnings = appendWarnings(result.Warnings,
			s.enqueueVideoLink(ctx, logger, meeting),
			s.enqueueCalendarPush(ctx, logger, meeting, participants, notify.EventMeetingRescheduled),
		)
		s.cache.Invalidate(meeting.CoachID, negotiated.Previous.Start, negotiated.Previous.End)
	}
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)

	view, err := s.loadView(ctx, meeting.ID)
	if err != nil {
		logger.WarnContext(ctx, "meeting view unavailable after reschedule", "error", err)
		requests := []persistence.RescheduleRequest(nil)
		if negotiated.Request != nil {
			requests = append(requests, *negotiated.Request)
		}
		view = s.view(meeting, participants, requests)
	}
	result.Meeting = view
	return result, nil
}
