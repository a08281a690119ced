package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// RescheduleService negotiates interval changes. Meetings with a guest still
// pending move directly; fully confirmed meetings go through a request that
// another participant accepts or rejects. At most one request per meeting is
// pending at any time.
type RescheduleService struct {
	store       MeetingStore
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewRescheduleService wires the negotiator.
func NewRescheduleService(store MeetingStore, idGenerator func() string, now func() time.Time) *RescheduleService {
	return NewRescheduleServiceWithLogger(store, idGenerator, now, nil)
}

// NewRescheduleServiceWithLogger wires the negotiator with a specified logger.
func NewRescheduleServiceWithLogger(store MeetingStore, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RescheduleService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &RescheduleService{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *RescheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RescheduleService", operation, attrs...)
}

// Propose moves the meeting or opens a reschedule request, depending on
// whether every guest has confirmed.
func (s *RescheduleService) Propose(ctx context.Context, params RequestRescheduleParams) (result RescheduleOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("RescheduleService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	logger := s.loggerWith(ctx, "Propose", "meeting_id", params.MeetingID, "requester_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reschedule proposal failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if result.Moved {
			logger.InfoContext(ctx, "meeting moved", "superseded", result.Superseded)
			return
		}
		logger.InfoContext(ctx, "reschedule requested", "request_id", result.Request.ID)
	}()

	if vErr := validateInterval(params.Start, params.End); vErr.HasErrors() {
		err = vErr
		return
	}
	reason := strings.TrimSpace(params.Reason)
	if len(reason) > 1000 {
		err = newValidationError("reason", "must be at most 1000 characters")
		return
	}

	meeting, err := s.store.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		err = mapRepoError("get meeting", err)
		return
	}
	participants, err := s.store.ListParticipants(ctx, meeting.ID)
	if err != nil {
		err = mapRepoError("list participants", err)
		return
	}
	if !params.Principal.IsAdmin && !isActiveParticipant(participants, params.Principal.UserID) {
		err = ErrUnauthorized
		return
	}

	now := s.now()
	if isTerminal(meeting, now) {
		err = ErrInvalidTransition
		return
	}
	result.Previous = Interval{Start: meeting.Start, End: meeting.End}

	if !needsNegotiation(participants) {
		err = s.store.UpdateMeetingInterval(ctx, meeting.ID, activeStatuses, params.Start, params.End, persistence.MeetingStatusScheduled, now)
		if err != nil {
			err = mapRepoError("update meeting interval", err)
			return
		}
		// Requests opened before the move no longer describe the meeting.
		superseded, deleteErr := s.store.DeletePendingRescheduleRequests(ctx, meeting.ID)
		if deleteErr != nil {
			err = mapRepoError("delete pending reschedule requests", deleteErr)
			return
		}
		meeting.Start, meeting.End = params.Start, params.End
		meeting.Status = persistence.MeetingStatusScheduled
		meeting.UpdatedAt = now
		result.Meeting = meeting
		result.Moved = true
		result.Superseded = superseded
		return
	}

	if params.Start.Equal(meeting.Start) && params.End.Equal(meeting.End) {
		err = newValidationError("time", "proposed interval matches the current one")
		return
	}

	request := persistence.RescheduleRequest{
		ID:            s.idGenerator(),
		MeetingID:     meeting.ID,
		RequesterID:   params.Principal.UserID,
		OriginalStart: meeting.Start,
		OriginalEnd:   meeting.End,
		ProposedStart: params.Start,
		ProposedEnd:   params.End,
		Status:        persistence.ReschedulePending,
		Reason:        reason,
		CreatedAt:     now,
	}
	if err = s.store.CreateRescheduleRequest(ctx, request); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			err = ErrRescheduleInFlight
			return
		}
		err = mapRepoError("create reschedule request", err)
		return
	}

	if err = s.keepEarliestPending(ctx, logger, request); err != nil {
		return
	}

	if err = s.store.TransitionMeetingStatus(ctx, meeting.ID, activeStatuses, persistence.MeetingStatusRescheduled, now); err != nil {
		s.resolveQuietly(ctx, logger, request.ID, params.Principal.UserID)
		err = mapRepoError("mark meeting rescheduled", err)
		return
	}
	meeting.Status = persistence.MeetingStatusRescheduled
	meeting.UpdatedAt = now
	result.Meeting = meeting
	result.Request = &request
	return
}

// keepEarliestPending resolves a race between two proposals that both got past
// the store. The earliest pending request by (CreatedAt, ID) survives.
func (s *RescheduleService) keepEarliestPending(ctx context.Context, logger *slog.Logger, ours persistence.RescheduleRequest) error {
	requests, err := s.store.ListRescheduleRequests(ctx, ours.MeetingID)
	if err != nil {
		s.resolveQuietly(ctx, logger, ours.ID, ours.RequesterID)
		return mapRepoError("list reschedule requests", err)
	}

	var pending []persistence.RescheduleRequest
	for _, request := range requests {
		if request.Status == persistence.ReschedulePending {
			pending = append(pending, request)
		}
	}
	if len(pending) <= 1 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	for _, loser := range pending[1:] {
		s.resolveQuietly(ctx, logger, loser.ID, ours.RequesterID)
	}
	if pending[0].ID != ours.ID {
		return ErrRescheduleInFlight
	}
	return nil
}

func (s *RescheduleService) resolveQuietly(ctx context.Context, logger *slog.Logger, requestID, actorID string) {
	err := s.store.ResolveRescheduleRequest(context.WithoutCancel(ctx), requestID, persistence.RescheduleRejected, actorID, s.now())
	if err != nil && !errors.Is(err, persistence.ErrStaleState) {
		logger.WarnContext(ctx, "reschedule request left pending", "request_id", requestID, "error", err)
	}
}

// Accept applies a pending request. The requester cannot accept their own
// proposal. Accepting an accepted request is a no-op.
func (s *RescheduleService) Accept(ctx context.Context, principal Principal, requestID string) (result RescheduleOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("RescheduleService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	logger := s.loggerWith(ctx, "Accept", "request_id", requestID, "actor_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reschedule acceptance failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reschedule accepted", "no_op", result.NoOp)
	}()

	request, meeting, participants, err := s.load(ctx, requestID)
	if err != nil {
		return
	}
	if !canRespondToRequest(principal, request, participants) {
		err = ErrUnauthorized
		return
	}

	now := s.now()
	switch request.Status {
	case persistence.RescheduleAccepted:
		result, err = s.repairAccepted(ctx, meeting, request, now)
		return
	case persistence.RescheduleRejected:
		err = ErrInvalidTransition
		return
	}
	if isTerminal(meeting, now) {
		err = ErrInvalidTransition
		return
	}

	if err = s.store.ResolveRescheduleRequest(ctx, request.ID, persistence.RescheduleAccepted, principal.UserID, now); err != nil {
		if errors.Is(err, persistence.ErrStaleState) {
			current, getErr := s.store.GetRescheduleRequest(ctx, request.ID)
			if getErr == nil && current.Status == persistence.RescheduleAccepted {
				result, err = s.repairAccepted(ctx, meeting, current, now)
				return
			}
		}
		err = mapRepoError("accept reschedule request", err)
		return
	}
	request.Status = persistence.RescheduleAccepted
	request.ResolvedBy = principal.UserID
	request.ResolvedAt = &now

	err = s.store.UpdateMeetingInterval(ctx, meeting.ID, activeStatuses, request.ProposedStart, request.ProposedEnd, persistence.MeetingStatusScheduled, now)
	if err != nil {
		err = mapRepoError("apply reschedule request", err)
		return
	}

	result.Previous = Interval{Start: meeting.Start, End: meeting.End}
	meeting.Start, meeting.End = request.ProposedStart, request.ProposedEnd
	meeting.Status = persistence.MeetingStatusScheduled
	meeting.UpdatedAt = now
	result.Meeting = meeting
	result.Request = &request
	result.Moved = true
	return
}

// repairAccepted finishes an acceptance whose interval update did not land.
func (s *RescheduleService) repairAccepted(ctx context.Context, meeting persistence.Meeting, request persistence.RescheduleRequest, now time.Time) (RescheduleOutcome, error) {
	result := RescheduleOutcome{Meeting: meeting, Request: &request, NoOp: true}
	if meeting.Status != persistence.MeetingStatusRescheduled || !meeting.Start.Equal(request.OriginalStart) || !meeting.End.Equal(request.OriginalEnd) {
		return result, nil
	}
	requests, err := s.store.ListRescheduleRequests(ctx, meeting.ID)
	if err != nil {
		return result, mapRepoError("list reschedule requests", err)
	}
	if pendingRequest(requests) != nil {
		return result, nil
	}

	err = s.store.UpdateMeetingInterval(ctx, meeting.ID, []persistence.MeetingStatus{persistence.MeetingStatusRescheduled}, request.ProposedStart, request.ProposedEnd, persistence.MeetingStatusScheduled, now)
	if err != nil {
		if errors.Is(err, persistence.ErrStaleState) {
			return result, nil
		}
		return result, mapRepoError("apply reschedule request", err)
	}
	result.Previous = Interval{Start: meeting.Start, End: meeting.End}
	result.Meeting.Start, result.Meeting.End = request.ProposedStart, request.ProposedEnd
	result.Meeting.Status = persistence.MeetingStatusScheduled
	result.Meeting.UpdatedAt = now
	result.Moved = true
	return result, nil
}

// Reject declines a pending request on behalf of a participant other than the requester.
func (s *RescheduleService) Reject(ctx context.Context, principal Principal, requestID string) (RescheduleOutcome, error) {
	return s.close(ctx, principal, requestID, "Reject", canRespondToRequest)
}

// Withdraw lets the requester take back their own pending request.
func (s *RescheduleService) Withdraw(ctx context.Context, principal Principal, requestID string) (RescheduleOutcome, error) {
	return s.close(ctx, principal, requestID, "Withdraw", func(principal Principal, request persistence.RescheduleRequest, _ []persistence.Participant) bool {
		return principal.IsAdmin || principal.UserID == request.RequesterID
	})
}

type requestAuthorizer func(principal Principal, request persistence.RescheduleRequest, participants []persistence.Participant) bool

func (s *RescheduleService) close(ctx context.Context, principal Principal, requestID, operation string, authorize requestAuthorizer) (result RescheduleOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("RescheduleService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	logger := s.loggerWith(ctx, operation, "request_id", requestID, "actor_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reschedule request not closed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reschedule request closed", "no_op", result.NoOp)
	}()

	request, meeting, participants, err := s.load(ctx, requestID)
	if err != nil {
		return
	}
	if !authorize(principal, request, participants) {
		err = ErrUnauthorized
		return
	}

	now := s.now()
	switch request.Status {
	case persistence.RescheduleAccepted:
		err = ErrInvalidTransition
		return
	case persistence.RescheduleRejected:
		result.NoOp = true
	default:
		if err = s.store.ResolveRescheduleRequest(ctx, request.ID, persistence.RescheduleRejected, principal.UserID, now); err != nil {
			if !errors.Is(err, persistence.ErrStaleState) {
				err = mapRepoError("reject reschedule request", err)
				return
			}
			current, getErr := s.store.GetRescheduleRequest(ctx, request.ID)
			if getErr != nil || current.Status != persistence.RescheduleRejected {
				err = ErrInvalidTransition
				return
			}
			request = current
			result.NoOp = true
		} else {
			request.Status = persistence.RescheduleRejected
			request.ResolvedBy = principal.UserID
			request.ResolvedAt = &now
		}
	}

	// The meeting returns to scheduled unless another request is already pending.
	if meeting.Status == persistence.MeetingStatusRescheduled {
		requests, listErr := s.store.ListRescheduleRequests(ctx, meeting.ID)
		if listErr != nil {
			err = mapRepoError("list reschedule requests", listErr)
			return
		}
		if pendingRequest(requests) == nil {
			restoreErr := s.store.TransitionMeetingStatus(ctx, meeting.ID, []persistence.MeetingStatus{persistence.MeetingStatusRescheduled}, persistence.MeetingStatusScheduled, now)
			switch {
			case restoreErr == nil:
				meeting.Status = persistence.MeetingStatusScheduled
				meeting.UpdatedAt = now
			case !errors.Is(restoreErr, persistence.ErrStaleState):
				err = mapRepoError("restore meeting status", restoreErr)
				return
			}
		}
	}

	result.Meeting = meeting
	result.Request = &request
	return
}

// ListRequests returns a meeting's negotiation history to its participants.
func (s *RescheduleService) ListRequests(ctx context.Context, principal Principal, meetingID string) ([]persistence.RescheduleRequest, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("meeting store not configured")
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, mapRepoError("get meeting", err)
	}
	if !principal.IsAdmin && principal.UserID != meeting.CoachID {
		participants, err := s.store.ListParticipants(ctx, meetingID)
		if err != nil {
			return nil, mapRepoError("list participants", err)
		}
		if _, ok := findParticipant(participants, principal.UserID); !ok {
			return nil, ErrUnauthorized
		}
	}
	requests, err := s.store.ListRescheduleRequests(ctx, meetingID)
	if err != nil {
		return nil, mapRepoError("list reschedule requests", err)
	}
	return requests, nil
}

func (s *RescheduleService) load(ctx context.Context, requestID string) (persistence.RescheduleRequest, persistence.Meeting, []persistence.Participant, error) {
	request, err := s.store.GetRescheduleRequest(ctx, requestID)
	if err != nil {
		return persistence.RescheduleRequest{}, persistence.Meeting{}, nil, mapRepoError("get reschedule request", err)
	}
	meeting, err := s.store.GetMeeting(ctx, request.MeetingID)
	if err != nil {
		return persistence.RescheduleRequest{}, persistence.Meeting{}, nil, mapRepoError("get meeting", err)
	}
	participants, err := s.store.ListParticipants(ctx, meeting.ID)
	if err != nil {
		return persistence.RescheduleRequest{}, persistence.Meeting{}, nil, mapRepoError("list participants", err)
	}
	return request, meeting, participants, nil
}

// isActiveParticipant reports whether personID is the host or a guest still holding a seat.
func isActiveParticipant(participants []persistence.Participant, personID string) bool {
	participant, ok := findParticipant(participants, personID)
	if !ok || personID == "" {
		return false
	}
	if participant.Role == persistence.RoleCoach {
		return true
	}
	return participant.RSVP == persistence.RSVPPending || participant.RSVP == persistence.RSVPConfirmed
}

func canRespondToRequest(principal Principal, request persistence.RescheduleRequest, participants []persistence.Participant) bool {
	if principal.IsAdmin {
		return true
	}
	return principal.UserID != request.RequesterID && isActiveParticipant(participants, principal.UserID)
}
