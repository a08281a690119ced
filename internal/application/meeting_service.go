package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/coaching-scheduler/internal/credits"
	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/scheduler"
	"github.com/example/coaching-scheduler/internal/tasks"
)

// MeetingStore is the persistence surface of the meeting aggregate.
type MeetingStore interface {
	persistence.MeetingRepository
	persistence.ParticipantRepository
	persistence.RescheduleRepository
}

// TaskQueue records collaborator work for asynchronous, at-least-once delivery.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind, meetingID, idempotencyKey string, payload any) (bool, error)
}

// BusySource lists a person's busy blocks from a third-party calendar.
type BusySource interface {
	BusyIntervals(ctx context.Context, personID string, from, to time.Time) ([]scheduler.Interval, error)
}

// Recorder receives scheduling metrics.
type Recorder interface {
	MeetingOperation(operation, outcome string)
	Compensation()
	RescheduleOutcome(outcome string)
	CreditDebit(kind, outcome string)
	CacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) MeetingOperation(string, string) {}
func (nopRecorder) Compensation()                   {}
func (nopRecorder) RescheduleOutcome(string)        {}
func (nopRecorder) CreditDebit(string, string)      {}
func (nopRecorder) CacheLookup(bool)                {}

// MeetingServiceOptions carries the optional collaborators of MeetingService.
type MeetingServiceOptions struct {
	Ledger       *CreditLedger
	Availability *AvailabilityService
	Negotiator   *RescheduleService
	BusySource   BusySource
	Tasks        TaskQueue
	Cache        *MonthCache
	Recorder     Recorder
	// Location is the reference zone used for month boundaries.
	Location *time.Location
	Logger   *slog.Logger
}

// MeetingService is the scheduling orchestrator. It sequences validation,
// advisory conflict checks, aggregate writes, credit reconciliation and the
// collaborator tasks, and it is the only component that enqueues those tasks.
type MeetingService struct {
	store        MeetingStore
	ledger       *CreditLedger
	availability *AvailabilityService
	negotiator   *RescheduleService
	busy         BusySource
	tasks        TaskQueue
	cache        *MonthCache
	recorder     Recorder
	location     *time.Location
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewMeetingService wires the orchestrator.
func NewMeetingService(store MeetingStore, idGenerator func() string, now func() time.Time, opts MeetingServiceOptions) *MeetingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Negotiator == nil {
		opts.Negotiator = NewRescheduleServiceWithLogger(store, idGenerator, now, opts.Logger)
	}
	return &MeetingService{
		store:        store,
		ledger:       opts.Ledger,
		availability: opts.Availability,
		negotiator:   opts.Negotiator,
		busy:         opts.BusySource,
		tasks:        opts.Tasks,
		cache:        opts.Cache,
		recorder:     opts.Recorder,
		location:     opts.Location,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(opts.Logger),
	}
}

func (s *MeetingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MeetingService", operation, attrs...)
}

// CreateMeeting books a meeting for a coach and its guests. The meeting row is
// written first; if the participants cannot be written the meeting is deleted
// again. Conflicts are advisory and collaborator failures only produce warnings.
func (s *MeetingService) CreateMeeting(ctx context.Context, params CreateMeetingParams) (result CreateMeetingResult, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	coachID := strings.TrimSpace(params.CoachID)
	if coachID == "" {
		coachID = params.Principal.UserID
	}

	ctx, span := tracer.Start(ctx, "MeetingService.CreateMeeting")
	logger := s.loggerWith(ctx, "CreateMeeting", "coach_id", coachID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("create", outcome(err))
		if err != nil {
			logger.ErrorContext(ctx, "meeting creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"meeting_id", result.Meeting.Meeting.ID,
			"guests", len(result.Charges),
			"conflicts", len(result.Conflicts),
		).InfoContext(ctx, "meeting created")
	}()

	if coachID != params.Principal.UserID && !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	guests := uniqueStrings(params.GuestIDs)
	if vErr := validateMeetingInput(params, coachID, guests); vErr.HasErrors() {
		err = vErr
		return
	}

	meetingType := params.Type
	if meetingType == "" {
		meetingType = persistence.MeetingTypeConsultation
	}
	pricing := params.Pricing
	pricing.Currency = strings.ToUpper(strings.TrimSpace(pricing.Currency))
	if pricing.IsFree {
		pricing.Price = 0
	}

	now := s.now()
	meeting := persistence.Meeting{
		ID:        s.idGenerator(),
		CoachID:   coachID,
		Title:     strings.TrimSpace(params.Title),
		Start:     params.Start,
		End:       params.End,
		Type:      meetingType,
		Status:    persistence.MeetingStatusScheduled,
		Pricing:   pricing,
		Relations: params.Relations,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result.Conflicts = s.advisoryConflicts(ctx, logger, coachID, nil, Interval{Start: meeting.Start, End: meeting.End}, "")

	if err = s.store.CreateMeeting(ctx, meeting); err != nil {
		err = mapRepoError("create meeting", err)
		return
	}

	cost := credits.Cost(meeting.End.Sub(meeting.Start))
	participants := make([]persistence.Participant, 0, len(guests)+1)
	participants = append(participants, persistence.Participant{
		MeetingID: meeting.ID,
		PersonID:  coachID,
		Role:      persistence.RoleCoach,
		RSVP:      persistence.RSVPConfirmed,
		Payment:   persistence.PaymentFree,
		CreatedAt: now,
		UpdatedAt: now,
	})
	plans := make([]credits.Plan, len(guests))
	for i, guestID := range guests {
		plans[i] = s.classify(ctx, logger, meeting, guestID, cost)
		participants = append(participants, persistence.Participant{
			MeetingID: meeting.ID,
			PersonID:  guestID,
			Role:      persistence.RoleClient,
			RSVP:      persistence.RSVPPending,
			Payment:   plans[i].Payment,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err = s.store.InsertParticipants(ctx, participants); err != nil {
		s.compensate(ctx, logger, meeting.ID)
		err = &StorageError{Op: "insert participants", Err: err}
		return
	}

	for i := range guests {
		result.Charges = append(result.Charges, s.settle(ctx, logger, meeting, participants[i+1], plans[i]))
	}

	result.Warnings = appendWarnings(result.Warnings,
		s.enqueueVideoLink(ctx, logger, meeting),
		s.enqueueCalendarPush(ctx, logger, meeting, participants, notify.EventMeetingCreated),
	)
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)

	result.Meeting = s.view(meeting, participants, nil)
	return
}

// CancelMeeting cancels a meeting on behalf of its coach or an administrator.
// Pending reschedule requests are rejected and seat holders are refunded.
// Cancelling an already cancelled meeting returns it unchanged.
func (s *MeetingService) CancelMeeting(ctx context.Context, params CancelMeetingParams) (view MeetingView, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	ctx, span := tracer.Start(ctx, "MeetingService.CancelMeeting")
	logger := s.loggerWith(ctx, "CancelMeeting", "meeting_id", params.MeetingID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("cancel", outcome(err))
		if err != nil {
			logger.ErrorContext(ctx, "meeting cancellation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting cancelled", "actor_id", params.Principal.UserID)
	}()

	var meeting persistence.Meeting
	meeting, err = s.store.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		err = mapRepoError("get meeting", err)
		return
	}
	if !canManageCoach(params.Principal, meeting.CoachID) {
		err = ErrUnauthorized
		return
	}

	reason := strings.TrimSpace(params.Reason)
	if len(reason) > 1000 {
		err = newValidationError("reason", "must be at most 1000 characters")
		return
	}

	if meeting.Status == persistence.MeetingStatusCancelled {
		view, err = s.loadView(ctx, meeting.ID)
		return
	}
	now := s.now()
	if isTerminal(meeting, now) {
		err = ErrInvalidTransition
		return
	}

	cancellation := persistence.Cancellation{ActorID: params.Principal.UserID, Reason: reason, At: now}
	if err = s.store.CancelMeeting(ctx, meeting.ID, activeStatuses, cancellation); err != nil {
		if errors.Is(err, persistence.ErrStaleState) {
			if current, getErr := s.store.GetMeeting(ctx, meeting.ID); getErr == nil && current.Status == persistence.MeetingStatusCancelled {
				view, err = s.loadView(ctx, meeting.ID)
				return
			}
		}
		err = mapRepoError("cancel meeting", err)
		return
	}
	meeting.Status = persistence.MeetingStatusCancelled
	meeting.Cancellation = &cancellation
	meeting.UpdatedAt = now

	participants, listErr := s.store.ListParticipants(ctx, meeting.ID)
	if listErr != nil {
		logger.WarnContext(ctx, "participants unavailable after cancellation; refunds skipped", "error", listErr)
	}
	requests := s.rejectPendingRequests(ctx, logger, meeting.ID, params.Principal.UserID, now)
	for i := range participants {
		if participants[i].Role == persistence.RoleClient && holdsSeat(participants[i].RSVP) {
			participants[i].Payment = s.release(ctx, logger, meeting, participants[i], now)
		}
	}

	if warning := s.enqueueCalendarPush(ctx, logger, meeting, participants, notify.EventMeetingCancelled); warning != "" {
		logger.WarnContext(ctx, warning)
	}
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)

	view = s.view(meeting, participants, requests)
	return
}

// RespondRSVP records a guest's answer. Repeating the current answer is a no-op;
// the host's RSVP and answers on finished meetings cannot change.
func (s *MeetingService) RespondRSVP(ctx context.Context, params RespondRSVPParams) (participant persistence.Participant, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	personID := strings.TrimSpace(params.PersonID)
	if personID == "" {
		personID = params.Principal.UserID
	}

	ctx, span := tracer.Start(ctx, "MeetingService.RespondRSVP")
	logger := s.loggerWith(ctx, "RespondRSVP",
		"meeting_id", params.MeetingID,
		"person_id", personID,
		"decision", params.Decision,
	)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("rsvp", outcome(err))
		if err != nil {
			logger.ErrorContext(ctx, "rsvp failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "rsvp recorded", "rsvp", participant.RSVP)
	}()

	if personID != params.Principal.UserID && !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	switch params.Decision {
	case persistence.RSVPConfirmed, persistence.RSVPDeclined, persistence.RSVPCancelled:
	default:
		err = newValidationError("decision", "must be confirmed, declined or cancelled")
		return
	}

	var meeting persistence.Meeting
	meeting, err = s.store.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		err = mapRepoError("get meeting", err)
		return
	}
	participant, err = s.store.GetParticipant(ctx, meeting.ID, personID)
	if err != nil {
		err = mapRepoError("get participant", err)
		return
	}

	if participant.Role == persistence.RoleCoach {
		err = ErrInvalidTransition
		return
	}
	if participant.RSVP == params.Decision {
		return
	}
	now := s.now()
	if isTerminal(meeting, now) || !canTransitionRSVP(participant.RSVP, params.Decision) {
		err = ErrInvalidTransition
		return
	}

	if err = s.store.UpdateRSVP(ctx, meeting.ID, personID, participant.RSVP, params.Decision, now); err != nil {
		if errors.Is(err, persistence.ErrStaleState) {
			if current, getErr := s.store.GetParticipant(ctx, meeting.ID, personID); getErr == nil && current.RSVP == params.Decision {
				participant, err = current, nil
				return
			}
		}
		err = mapRepoError("update rsvp", err)
		return
	}
	participant.RSVP = params.Decision
	participant.UpdatedAt = now

	if params.Decision != persistence.RSVPConfirmed {
		participant.Payment = s.release(ctx, logger, meeting, participant, now)
	}
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)
	return
}

// maxOverlapWindow bounds the interval CheckOverlap scans.
const maxOverlapWindow = 31 * 24 * time.Hour

// CheckOverlap runs the advisory conflict check for a candidate interval
// without side effects.
func (s *MeetingService) CheckOverlap(ctx context.Context, params CheckOverlapParams) (OverlapResult, error) {
	if s == nil || s.store == nil {
		return OverlapResult{}, fmt.Errorf("meeting store not configured")
	}

	vErr := &ValidationError{}
	if strings.TrimSpace(params.CoachID) == "" {
		vErr.add("coach_id", "coach is required")
	}
	vErr.merge(validateInterval(params.Start, params.End))
	if !vErr.HasErrors() && params.End.Sub(params.Start) > maxOverlapWindow {
		vErr.add("time", "window must not exceed 31 days")
	}
	if vErr.HasErrors() {
		return OverlapResult{}, vErr
	}
	if !canManageCoach(params.Principal, params.CoachID) {
		return OverlapResult{}, ErrUnauthorized
	}

	ctx, span := tracer.Start(ctx, "MeetingService.CheckOverlap")
	defer span.End()
	logger := s.loggerWith(ctx, "CheckOverlap", "coach_id", params.CoachID)

	var clients []string
	if params.ClientID != "" {
		clients = []string{params.ClientID}
	}
	conflicts := s.advisoryConflicts(ctx, logger, params.CoachID, clients, Interval{Start: params.Start, End: params.End}, params.ExcludeMeetingID)

	result := OverlapResult{Conflicts: conflicts}
	for _, conflict := range conflicts {
		if conflict.Kind != WarningOutsideAvailability {
			result.HasOverlap = true
			break
		}
	}
	return result, nil
}

// GetMeeting returns a meeting to its coach, its participants or an administrator.
func (s *MeetingService) GetMeeting(ctx context.Context, principal Principal, meetingID string) (MeetingView, error) {
	if s == nil || s.store == nil {
		return MeetingView{}, fmt.Errorf("meeting store not configured")
	}
	view, err := s.loadView(ctx, meetingID)
	if err != nil {
		return MeetingView{}, err
	}
	if !canSeeMeeting(principal, view) {
		return MeetingView{}, ErrUnauthorized
	}
	return view, nil
}

// ListCoachMonth returns a coach's meetings overlapping a calendar month,
// reading through the month cache.
func (s *MeetingService) ListCoachMonth(ctx context.Context, principal Principal, coachID string, year int, month time.Month) ([]MeetingView, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("meeting store not configured")
	}
	if !canManageCoach(principal, coachID) {
		return nil, ErrUnauthorized
	}
	vErr := &ValidationError{}
	if year < 1970 || year > 9999 {
		vErr.add("year", "year is out of range")
	}
	if month < time.January || month > time.December {
		vErr.add("month", "month must be between 1 and 12")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	key := MonthKey{CoachID: coachID, Year: year, Month: month}
	entries, ok := s.cache.get(key)
	if !ok {
		start, end := monthBounds(key, s.location)
		meetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{
			CoachID:          coachID,
			StartsAfter:      &start,
			EndsBefore:       &end,
			IncludeCancelled: true,
		})
		if err != nil {
			return nil, mapRepoError("list meetings", err)
		}
		entries = make([]monthEntry, 0, len(meetings))
		for _, meeting := range meetings {
			participants, err := s.store.ListParticipants(ctx, meeting.ID)
			if err != nil {
				return nil, mapRepoError("list participants", err)
			}
			requests, err := s.store.ListRescheduleRequests(ctx, meeting.ID)
			if err != nil {
				return nil, mapRepoError("list reschedule requests", err)
			}
			entries = append(entries, monthEntry{meeting: meeting, participants: participants, requests: requests})
		}
		s.cache.store(key, entries)
	}

	views := make([]MeetingView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.view(entry.meeting, entry.participants, entry.requests))
	}
	return views, nil
}

// DeleteMeeting removes a meeting with its participants and requests. Seat
// holders are refunded and calendars are told the meeting is gone.
func (s *MeetingService) DeleteMeeting(ctx context.Context, principal Principal, meetingID string) (err error) {
	if s == nil {
		return fmt.Errorf("MeetingService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("meeting store not configured")
	}

	ctx, span := tracer.Start(ctx, "MeetingService.DeleteMeeting")
	logger := s.loggerWith(ctx, "DeleteMeeting", "meeting_id", meetingID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("delete", outcome(err))
		if err != nil {
			logger.ErrorContext(ctx, "meeting deletion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting deleted")
	}()

	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return mapRepoError("get meeting", err)
	}
	if !canManageCoach(principal, meeting.CoachID) {
		return ErrUnauthorized
	}
	participants, err := s.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return mapRepoError("list participants", err)
	}

	if err = s.store.DeleteMeeting(ctx, meetingID); err != nil {
		return mapRepoError("delete meeting", err)
	}

	for _, participant := range seatHolders(participants) {
		s.refund(ctx, logger, meeting, participant)
	}
	if warning := s.enqueueCalendarPush(ctx, logger, meeting, participants, notify.EventMeetingDeleted); warning != "" {
		logger.WarnContext(ctx, warning)
	}
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)
	return nil
}

// AddGuest invites one more client. Inviting someone already on the meeting
// returns the existing participant without charging again.
func (s *MeetingService) AddGuest(ctx context.Context, params AddGuestParams) (result AddGuestResult, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("meeting store not configured")
		return
	}

	personID := strings.TrimSpace(params.PersonID)
	ctx, span := tracer.Start(ctx, "MeetingService.AddGuest")
	logger := s.loggerWith(ctx, "AddGuest", "meeting_id", params.MeetingID, "person_id", personID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("add_guest", outcome(err))
		if err != nil {
			logger.ErrorContext(ctx, "guest invitation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "guest invited", "created", result.Created)
	}()

	var meeting persistence.Meeting
	meeting, err = s.store.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		err = mapRepoError("get meeting", err)
		return
	}
	if !canManageCoach(params.Principal, meeting.CoachID) {
		err = ErrUnauthorized
		return
	}
	if personID == "" {
		err = newValidationError("person_id", "guest is required")
		return
	}
	if personID == meeting.CoachID {
		err = newValidationError("person_id", "the coach cannot be invited as a guest")
		return
	}
	now := s.now()
	if isTerminal(meeting, now) {
		err = ErrInvalidTransition
		return
	}

	var participants []persistence.Participant
	participants, err = s.store.ListParticipants(ctx, meeting.ID)
	if err != nil {
		err = mapRepoError("list participants", err)
		return
	}
	if existing, ok := findParticipant(participants, personID); ok {
		result.Participant = existing
		return
	}
	if limit := meeting.Relations.MaxParticipants; limit > 0 && len(seatHolders(participants)) >= limit {
		err = newValidationError("person_id", "meeting is full")
		return
	}

	plan := s.classify(ctx, logger, meeting, personID, credits.Cost(meeting.End.Sub(meeting.Start)))
	participant := persistence.Participant{
		MeetingID: meeting.ID,
		PersonID:  personID,
		Role:      persistence.RoleClient,
		RSVP:      persistence.RSVPPending,
		Payment:   plan.Payment,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var created bool
	created, err = s.store.InsertParticipantIfAbsent(ctx, participant)
	if err != nil {
		err = mapRepoError("insert participant", err)
		return
	}
	if !created {
		result.Participant, err = s.store.GetParticipant(ctx, meeting.ID, personID)
		err = mapRepoError("get participant", err)
		return
	}

	charge := s.settle(ctx, logger, meeting, participant, plan)
	result = AddGuestResult{Participant: participant, Created: true, Charge: &charge}
	result.Warnings = appendWarnings(result.Warnings,
		s.enqueueCalendarPush(ctx, logger, meeting, append(participants, participant), notify.EventMeetingUpdated),
	)
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)
	return
}

// RemoveGuest withdraws a still pending invitation and refunds its credits. The
// last remaining guest cannot be removed.
func (s *MeetingService) RemoveGuest(ctx context.Context, principal Principal, meetingID, personID string) (err error) {
	if s == nil {
		return fmt.Errorf("MeetingService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("meeting store not configured")
	}

	ctx, span := tracer.Start(ctx, "MeetingService.RemoveGuest")
	logger := s.loggerWith(ctx, "RemoveGuest", "meeting_id", meetingID, "person_id", personID)
	defer func() {
		finishSpan(span, err)
		s.recorder.MeetingOperation("remove_guest", outcome(err))
		if err != nil {
			logger.ErrorContext(ctx, "guest removal failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "guest removed")
	}()

	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return mapRepoError("get meeting", err)
	}
	if !canManageCoach(principal, meeting.CoachID) {
		return ErrUnauthorized
	}
	if isTerminal(meeting, s.now()) {
		return ErrInvalidTransition
	}

	participants, err := s.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return mapRepoError("list participants", err)
	}
	target, ok := findParticipant(participants, personID)
	if !ok {
		return ErrNotFound
	}
	if target.Role != persistence.RoleClient || target.RSVP != persistence.RSVPPending {
		return ErrInvalidTransition
	}
	if len(seatHolders(participants)) <= 1 {
		return newValidationError("person_id", "a meeting needs at least one guest")
	}

	if err = s.store.DeleteParticipant(ctx, meetingID, personID, persistence.RSVPPending); err != nil {
		return mapRepoError("delete participant", err)
	}

	s.refund(ctx, logger, meeting, target)
	remaining := make([]persistence.Participant, 0, len(participants)-1)
	for _, participant := range participants {
		if participant.PersonID != personID {
			remaining = append(remaining, participant)
		}
	}
	if warning := s.enqueueCalendarPush(ctx, logger, meeting, remaining, notify.EventMeetingUpdated); warning != "" {
		logger.WarnContext(ctx, warning)
	}
	s.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)
	return nil
}

func (s *MeetingService) loadView(ctx context.Context, meetingID string) (MeetingView, error) {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return MeetingView{}, mapRepoError("get meeting", err)
	}
	participants, err := s.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return MeetingView{}, mapRepoError("list participants", err)
	}
	requests, err := s.store.ListRescheduleRequests(ctx, meetingID)
	if err != nil {
		return MeetingView{}, mapRepoError("list reschedule requests", err)
	}
	return s.view(meeting, participants, requests), nil
}

func (s *MeetingService) view(meeting persistence.Meeting, participants []persistence.Participant, requests []persistence.RescheduleRequest) MeetingView {
	return MeetingView{
		Meeting:         meeting,
		Participants:    participants,
		EffectiveStatus: EffectiveStatus(meeting, requests, s.now()),
		PendingRequest:  pendingRequest(requests),
	}
}

func (s *MeetingService) classify(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting, guestID string, cost int) credits.Plan {
	balance, err := s.ledger.AvailableCredits(ctx, meeting.CoachID, guestID)
	if err != nil {
		logger.WarnContext(ctx, "credit balance unavailable; classifying without credits", "guest_id", guestID, "error", err)
		balance = 0
	}
	return credits.Classify(meeting.Pricing, balance, cost)
}

// settle performs the debit a plan calls for. A failed partial debit is
// skipped; a failed full debit is an integrity failure but the booking stands.
func (s *MeetingService) settle(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting, participant persistence.Participant, plan credits.Plan) Charge {
	charge := Charge{
		GuestID:          participant.PersonID,
		Cost:             plan.Cost,
		Payment:          plan.Payment,
		ShortfallCredits: plan.ShortfallCredits,
		AmountDue:        plan.AmountDue,
		Currency:         meeting.Pricing.Currency,
	}
	amount := plan.Debit()
	if amount == 0 || s.ledger == nil {
		return charge
	}

	kind := "partial"
	if plan.FullDebit > 0 {
		kind = "full"
	}
	_, err := s.ledger.Debit(ctx, SeatCharge{
		CoachID:   meeting.CoachID,
		ClientID:  participant.PersonID,
		MeetingID: meeting.ID,
		Seat:      seatOf(participant),
		Amount:    amount,
		Reason:    "meeting " + kind + " debit",
	})
	if err != nil {
		s.recorder.CreditDebit(kind, "failed")
		if kind == "full" {
			logger.ErrorContext(ctx, "credit deduction integrity failure; booking kept",
				"guest_id", participant.PersonID, "credits", amount, "error", err)
		} else {
			logger.WarnContext(ctx, "partial credit consumption skipped",
				"guest_id", participant.PersonID, "credits", amount, "error", err)
		}
		return charge
	}
	s.recorder.CreditDebit(kind, "ok")
	charge.Debited = amount
	return charge
}

func (s *MeetingService) refund(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting, participant persistence.Participant) int {
	if s.ledger == nil || participant.Role != persistence.RoleClient {
		return 0
	}
	refunded, err := s.ledger.Refund(ctx, SeatCharge{
		CoachID:   meeting.CoachID,
		ClientID:  participant.PersonID,
		MeetingID: meeting.ID,
		Seat:      seatOf(participant),
	})
	if err != nil {
		logger.WarnContext(ctx, "credit refund failed", "guest_id", participant.PersonID, "error", err)
		return 0
	}
	if refunded > 0 {
		logger.InfoContext(ctx, "credits refunded", "guest_id", participant.PersonID, "credits", refunded)
	}
	return refunded
}

// release refunds a seat that is kept on the meeting and clears its
// credit_deduction status once the credits are back with the client.
func (s *MeetingService) release(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting, participant persistence.Participant, at time.Time) persistence.PaymentStatus {
	refunded := s.refund(ctx, logger, meeting, participant)
	if refunded == 0 || participant.Payment != persistence.PaymentCreditDeduction {
		return participant.Payment
	}
	status := persistence.PaymentUnpaid
	if meeting.Pricing.IsFree {
		status = persistence.PaymentFree
	}
	if err := s.store.UpdatePayment(ctx, meeting.ID, participant.PersonID, status, participant.PaymentRecordID, at); err != nil {
		logger.WarnContext(ctx, "payment status not updated after refund", "guest_id", participant.PersonID, "error", err)
		return participant.Payment
	}
	return status
}

// compensate deletes a meeting whose participants could not be written. It
// runs detached from the caller's cancellation.
func (s *MeetingService) compensate(ctx context.Context, logger *slog.Logger, meetingID string) {
	s.recorder.Compensation()
	if err := s.store.DeleteMeeting(context.WithoutCancel(ctx), meetingID); err != nil && !isNotFoundError(err) {
		logger.ErrorContext(ctx, "compensating delete failed; meeting may be orphaned", "meeting_id", meetingID, "error", err)
		return
	}
	logger.WarnContext(ctx, "meeting creation compensated", "meeting_id", meetingID)
}

func (s *MeetingService) rejectPendingRequests(ctx context.Context, logger *slog.Logger, meetingID, actorID string, at time.Time) []persistence.RescheduleRequest {
	requests, err := s.store.ListRescheduleRequests(ctx, meetingID)
	if err != nil {
		logger.WarnContext(ctx, "reschedule requests unavailable", "error", err)
		return nil
	}
	for i := range requests {
		if requests[i].Status != persistence.ReschedulePending {
			continue
		}
		err := s.store.ResolveRescheduleRequest(ctx, requests[i].ID, persistence.RescheduleRejected, actorID, at)
		if err != nil && !errors.Is(err, persistence.ErrStaleState) {
			logger.WarnContext(ctx, "pending reschedule request not rejected", "request_id", requests[i].ID, "error", err)
			continue
		}
		resolvedAt := at
		requests[i].Status = persistence.RescheduleRejected
		requests[i].ResolvedBy = actorID
		requests[i].ResolvedAt = &resolvedAt
	}
	return requests
}

// advisoryConflicts gathers the coach's meetings, the listed clients' confirmed
// commitments and their external busy blocks, and reports every overlap with
// the candidate. Lookup failures degrade to fewer warnings.
func (s *MeetingService) advisoryConflicts(ctx context.Context, logger *slog.Logger, coachID string, clientIDs []string, candidate Interval, excludeID string) []ConflictWarning {
	start, end := candidate.Start, candidate.End
	var existing []scheduler.Interval

	coachMeetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{CoachID: coachID, StartsAfter: &start, EndsBefore: &end})
	if err != nil {
		logger.WarnContext(ctx, "coach meetings unavailable for conflict check", "error", err)
	}
	for _, meeting := range coachMeetings {
		existing = append(existing, scheduler.Interval{
			ID:       meeting.ID,
			Source:   scheduler.SourceCoachMeeting,
			PersonID: coachID,
			Start:    meeting.Start,
			End:      meeting.End,
		})
	}
	for _, clientID := range clientIDs {
		existing = append(existing, s.clientCommitments(ctx, logger, coachID, clientID, start, end)...)
	}

	conflicts := scheduler.DetectConflicts(scheduler.Interval{ID: excludeID, Start: start, End: end}, existing, excludeID)
	warnings := make([]ConflictWarning, 0, len(conflicts)+1)
	for _, conflict := range conflicts {
		warnings = append(warnings, ConflictWarning{
			Kind:      string(conflict.Source),
			MeetingID: conflict.WithID,
			PersonID:  conflict.PersonID,
			Start:     conflict.Start,
			End:       conflict.End,
		})
	}

	outside, err := s.availability.outsideAvailability(ctx, coachID, start, end)
	if err != nil {
		logger.WarnContext(ctx, "availability unavailable for conflict check", "error", err)
	} else if outside {
		warnings = append(warnings, ConflictWarning{Kind: WarningOutsideAvailability, PersonID: coachID, Start: start, End: end})
	}

	if len(warnings) == 0 {
		return nil
	}
	return warnings
}

func (s *MeetingService) clientCommitments(ctx context.Context, logger *slog.Logger, coachID, clientID string, start, end time.Time) []scheduler.Interval {
	var intervals []scheduler.Interval

	meetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{ParticipantID: clientID, StartsAfter: &start, EndsBefore: &end})
	if err != nil {
		logger.WarnContext(ctx, "client meetings unavailable for conflict check", "client_id", clientID, "error", err)
	}
	for _, meeting := range meetings {
		// Already reported as the coach's own meeting.
		if meeting.CoachID == coachID {
			continue
		}
		participant, err := s.store.GetParticipant(ctx, meeting.ID, clientID)
		if err != nil || participant.RSVP != persistence.RSVPConfirmed {
			continue
		}
		intervals = append(intervals, scheduler.Interval{
			ID:       meeting.ID,
			Source:   scheduler.SourceClientMeeting,
			PersonID: clientID,
			Start:    meeting.Start,
			End:      meeting.End,
		})
	}

	if s.busy == nil {
		return intervals
	}
	busy, err := s.busy.BusyIntervals(ctx, clientID, start, end)
	if err != nil {
		logger.WarnContext(ctx, "external calendar unavailable; assuming no external conflicts", "client_id", clientID, "error", err)
		return intervals
	}
	for _, block := range busy {
		block.Source = scheduler.SourceExternalCalendar
		block.PersonID = clientID
		intervals = append(intervals, block)
	}
	return intervals
}

func (s *MeetingService) enqueueVideoLink(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting) string {
	if s.tasks == nil {
		return ""
	}
	key := fmt.Sprintf("%s:%s:%d", tasks.KindVideoLink, meeting.ID, meeting.Start.Unix())
	if _, err := s.tasks.Enqueue(ctx, tasks.KindVideoLink, meeting.ID, key, tasks.VideoLinkPayload{MeetingID: meeting.ID}); err != nil {
		logger.WarnContext(ctx, "video link task not queued", "meeting_id", meeting.ID, "error", err)
		return "video link could not be scheduled; it can be attached later"
	}
	return ""
}

func (s *MeetingService) enqueueCalendarPush(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting, participants []persistence.Participant, eventType string) string {
	if s.tasks == nil {
		return ""
	}
	occurredAt := s.now()
	event := notify.Event{
		ID:         fmt.Sprintf("%s:%s:%s:%d", tasks.KindCalendarPush, meeting.ID, eventType, occurredAt.UnixNano()),
		Type:       eventType,
		MeetingID:  meeting.ID,
		CoachID:    meeting.CoachID,
		Title:      meeting.Title,
		Start:      meeting.Start,
		End:        meeting.End,
		Status:     string(meeting.Status),
		OccurredAt: occurredAt,
	}
	if meeting.VideoLink != nil {
		event.VideoLink = *meeting.VideoLink
	}
	for _, participant := range participants {
		if participant.Role == persistence.RoleCoach || participant.RSVP == persistence.RSVPPending || participant.RSVP == persistence.RSVPConfirmed {
			event.Participants = append(event.Participants, participant.PersonID)
		}
	}

	if _, err := s.tasks.Enqueue(ctx, tasks.KindCalendarPush, meeting.ID, event.ID, tasks.CalendarPushPayload{Event: event}); err != nil {
		logger.WarnContext(ctx, "calendar push task not queued", "meeting_id", meeting.ID, "event_type", eventType, "error", err)
		return "calendar update could not be scheduled"
	}
	return ""
}

func validateMeetingInput(params CreateMeetingParams, coachID string, guests []string) *ValidationError {
	vErr := &ValidationError{}
	if coachID == "" {
		vErr.add("coach_id", "coach is required")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		vErr.add("title", "title is required")
	} else if len(title) > 200 {
		vErr.add("title", "must be at most 200 characters")
	}
	vErr.merge(validateInterval(params.Start, params.End))

	switch params.Type {
	case "", persistence.MeetingTypeConsultation, persistence.MeetingTypeWorkshop, persistence.MeetingTypeOther:
	default:
		vErr.add("type", "must be consultation, workshop or other")
	}

	if len(guests) == 0 {
		vErr.add("guest_ids", "at least one guest is required")
	}
	for _, guest := range guests {
		if guest == coachID {
			vErr.add("guest_ids", "the coach cannot be invited as a guest")
			break
		}
	}

	if params.Pricing.Price < 0 {
		vErr.add("price", "must not be negative")
	}
	if !params.Pricing.IsFree {
		if params.Pricing.Price <= 0 {
			vErr.add("price", "priced meetings need a positive price")
		}
		if len(strings.TrimSpace(params.Pricing.Currency)) != 3 {
			vErr.add("currency", "must be a three letter currency code")
		}
	}

	if limit := params.Relations.MaxParticipants; limit < 0 {
		vErr.add("max_participants", "must not be negative")
	} else if limit > 0 && len(guests) > limit {
		vErr.add("guest_ids", "exceeds the maximum number of participants")
	}
	return vErr
}

func validateInterval(start, end time.Time) *ValidationError {
	vErr := &ValidationError{}
	if start.IsZero() {
		vErr.add("start", "start is required")
	}
	if end.IsZero() {
		vErr.add("end", "end is required")
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		vErr.add("time", "end must be after start")
	}
	return vErr
}

func canSeeMeeting(principal Principal, view MeetingView) bool {
	if canManageCoach(principal, view.Meeting.CoachID) {
		return true
	}
	_, ok := findParticipant(view.Participants, principal.UserID)
	return ok && principal.UserID != ""
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func appendWarnings(warnings []string, candidates ...string) []string {
	for _, candidate := range candidates {
		if candidate != "" {
			warnings = append(warnings, candidate)
		}
	}
	return warnings
}
