// Package memory implements persistence.Store with mutex guarded maps. It
// enforces the same constraints as the SQL backend so services behave alike
// on both.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

type participantKey struct {
	meetingID string
	personID  string
}

type balanceKey struct {
	coachID  string
	clientID string
}

// Storage is an in-memory persistence.Store.
type Storage struct {
	mu           sync.RWMutex
	meetings     map[string]persistence.Meeting
	participants map[participantKey]persistence.Participant
	requests     map[string]persistence.RescheduleRequest
	rules        map[string]persistence.AvailabilityRule
	balances     map[balanceKey]int
	transactions []persistence.CreditTransaction
	txKeys       map[string]struct{}
	tasks        map[string]persistence.Task
	taskKeys     map[string]string
	feeds        map[string]persistence.CalendarFeed
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		meetings:     make(map[string]persistence.Meeting),
		participants: make(map[participantKey]persistence.Participant),
		requests:     make(map[string]persistence.RescheduleRequest),
		rules:        make(map[string]persistence.AvailabilityRule),
		balances:     make(map[balanceKey]int),
		txKeys:       make(map[string]struct{}),
		tasks:        make(map[string]persistence.Task),
		taskKeys:     make(map[string]string),
		feeds:        make(map[string]persistence.CalendarFeed),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Migrate initialises the storage. No-op for the in-memory implementation.
func (s *Storage) Migrate(context.Context) error {
	return nil
}

// --- MeetingRepository implementation ---

// CreateMeeting stores a new meeting.
func (s *Storage) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if !meeting.End.After(meeting.Start) {
		return fmt.Errorf("memory: meeting %s: %w", meeting.ID, persistence.ErrConstraintViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[meeting.ID]; ok {
		return fmt.Errorf("memory: meeting %s: %w", meeting.ID, persistence.ErrDuplicate)
	}
	s.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// GetMeeting retrieves a meeting by ID.
func (s *Storage) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

// ListMeetings returns meetings matching filter ordered by start then ID.
func (s *Storage) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Meeting, 0)
	for _, meeting := range s.meetings {
		if !s.matchesFilterLocked(meeting, filter) {
			continue
		}
		result = append(result, cloneMeeting(meeting))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Start.Equal(result[j].Start) {
			return result[i].ID < result[j].ID
		}
		return result[i].Start.Before(result[j].Start)
	})
	return result, nil
}

func (s *Storage) matchesFilterLocked(meeting persistence.Meeting, filter persistence.MeetingFilter) bool {
	if !filter.IncludeCancelled && meeting.Status == persistence.MeetingStatusCancelled {
		return false
	}
	if filter.CoachID != "" && meeting.CoachID != filter.CoachID {
		return false
	}
	if filter.StartsAfter != nil && !meeting.End.After(*filter.StartsAfter) {
		return false
	}
	if filter.EndsBefore != nil && !meeting.Start.Before(*filter.EndsBefore) {
		return false
	}
	if filter.ParticipantID != "" {
		if _, ok := s.participants[participantKey{meeting.ID, filter.ParticipantID}]; !ok {
			return false
		}
	}
	return true
}

// UpdateMeetingInterval moves a meeting when its status is one of from.
func (s *Storage) UpdateMeetingInterval(ctx context.Context, id string, from []persistence.MeetingStatus, start, end time.Time, status persistence.MeetingStatus, updatedAt time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("memory: meeting %s: %w", id, persistence.ErrConstraintViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, err := s.meetingInStatusLocked(id, from)
	if err != nil {
		return err
	}
	meeting.Start = start
	meeting.End = end
	meeting.Status = status
	meeting.UpdatedAt = updatedAt
	s.meetings[id] = meeting
	return nil
}

// TransitionMeetingStatus sets the status when the current one is in from.
func (s *Storage) TransitionMeetingStatus(ctx context.Context, id string, from []persistence.MeetingStatus, to persistence.MeetingStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, err := s.meetingInStatusLocked(id, from)
	if err != nil {
		return err
	}
	meeting.Status = to
	meeting.UpdatedAt = updatedAt
	s.meetings[id] = meeting
	return nil
}

// CancelMeeting marks a meeting cancelled and records who did it.
func (s *Storage) CancelMeeting(ctx context.Context, id string, from []persistence.MeetingStatus, cancellation persistence.Cancellation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, err := s.meetingInStatusLocked(id, from)
	if err != nil {
		return err
	}
	c := cancellation
	meeting.Status = persistence.MeetingStatusCancelled
	meeting.Cancellation = &c
	meeting.UpdatedAt = cancellation.At
	s.meetings[id] = meeting
	return nil
}

// SetVideoLink attaches the conferencing link to a meeting.
func (s *Storage) SetVideoLink(ctx context.Context, id, link string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.ErrNotFound
	}
	meeting.VideoLink = &link
	meeting.UpdatedAt = updatedAt
	s.meetings[id] = meeting
	return nil
}

// DeleteMeeting removes a meeting and everything attached to it.
func (s *Storage) DeleteMeeting(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.meetings, id)
	for key := range s.participants {
		if key.meetingID == id {
			delete(s.participants, key)
		}
	}
	for requestID, request := range s.requests {
		if request.MeetingID == id {
			delete(s.requests, requestID)
		}
	}
	return nil
}

func (s *Storage) meetingInStatusLocked(id string, from []persistence.MeetingStatus) (persistence.Meeting, error) {
	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	if len(from) > 0 && !slices.Contains(from, meeting.Status) {
		return persistence.Meeting{}, fmt.Errorf("memory: meeting %s is %s: %w", id, meeting.Status, persistence.ErrStaleState)
	}
	return meeting, nil
}

// --- ParticipantRepository implementation ---

// InsertParticipants stores every participant or none of them.
func (s *Storage) InsertParticipants(ctx context.Context, participants []persistence.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[participantKey]struct{}, len(participants))
	for _, p := range participants {
		key := participantKey{p.MeetingID, p.PersonID}
		if _, ok := s.meetings[p.MeetingID]; !ok {
			return fmt.Errorf("memory: participant %s: %w", p.PersonID, persistence.ErrForeignKeyViolation)
		}
		if _, ok := s.participants[key]; ok {
			return fmt.Errorf("memory: participant %s: %w", p.PersonID, persistence.ErrDuplicate)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("memory: participant %s: %w", p.PersonID, persistence.ErrDuplicate)
		}
		seen[key] = struct{}{}
	}
	for _, p := range participants {
		s.participants[participantKey{p.MeetingID, p.PersonID}] = cloneParticipant(p)
	}
	return nil
}

// InsertParticipantIfAbsent stores the participant unless the key is taken.
func (s *Storage) InsertParticipantIfAbsent(ctx context.Context, participant persistence.Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[participant.MeetingID]; !ok {
		return false, fmt.Errorf("memory: participant %s: %w", participant.PersonID, persistence.ErrForeignKeyViolation)
	}
	key := participantKey{participant.MeetingID, participant.PersonID}
	if _, ok := s.participants[key]; ok {
		return false, nil
	}
	s.participants[key] = cloneParticipant(participant)
	return true, nil
}

// GetParticipant retrieves one participant.
func (s *Storage) GetParticipant(ctx context.Context, meetingID, personID string) (persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[participantKey{meetingID, personID}]
	if !ok {
		return persistence.Participant{}, persistence.ErrNotFound
	}
	return cloneParticipant(p), nil
}

// ListParticipants returns the participants of a meeting, host first.
func (s *Storage) ListParticipants(ctx context.Context, meetingID string) ([]persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Participant, 0)
	for key, p := range s.participants {
		if key.meetingID == meetingID {
			result = append(result, cloneParticipant(p))
		}
	}
	sortParticipants(result)
	return result, nil
}

// UpdateRSVP is a compare-and-set on a participant's RSVP.
func (s *Storage) UpdateRSVP(ctx context.Context, meetingID, personID string, from, to persistence.RSVPStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey{meetingID, personID}
	p, ok := s.participants[key]
	if !ok {
		return persistence.ErrNotFound
	}
	if p.RSVP != from {
		return fmt.Errorf("memory: participant %s is %s: %w", personID, p.RSVP, persistence.ErrStaleState)
	}
	p.RSVP = to
	p.UpdatedAt = updatedAt
	s.participants[key] = p
	return nil
}

// UpdatePayment overwrites the payment fields of a participant.
func (s *Storage) UpdatePayment(ctx context.Context, meetingID, personID string, status persistence.PaymentStatus, recordID *string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey{meetingID, personID}
	p, ok := s.participants[key]
	if !ok {
		return persistence.ErrNotFound
	}
	p.Payment = status
	p.PaymentRecordID = cloneStringPtr(recordID)
	p.UpdatedAt = updatedAt
	s.participants[key] = p
	return nil
}

// DeleteParticipant removes a participant while its RSVP equals rsvp.
func (s *Storage) DeleteParticipant(ctx context.Context, meetingID, personID string, rsvp persistence.RSVPStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participantKey{meetingID, personID}
	p, ok := s.participants[key]
	if !ok {
		return persistence.ErrNotFound
	}
	if p.RSVP != rsvp {
		return fmt.Errorf("memory: participant %s is %s: %w", personID, p.RSVP, persistence.ErrStaleState)
	}
	delete(s.participants, key)
	return nil
}

// --- RescheduleRepository implementation ---

// CreateRescheduleRequest stores a request, rejecting a second pending one for the same meeting.
func (s *Storage) CreateRescheduleRequest(ctx context.Context, request persistence.RescheduleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[request.MeetingID]; !ok {
		return fmt.Errorf("memory: reschedule request %s: %w", request.ID, persistence.ErrForeignKeyViolation)
	}
	if _, ok := s.requests[request.ID]; ok {
		return fmt.Errorf("memory: reschedule request %s: %w", request.ID, persistence.ErrDuplicate)
	}
	if request.Status == persistence.ReschedulePending {
		for _, existing := range s.requests {
			if existing.MeetingID == request.MeetingID && existing.Status == persistence.ReschedulePending {
				return fmt.Errorf("memory: meeting %s already has a pending request: %w", request.MeetingID, persistence.ErrDuplicate)
			}
		}
	}
	s.requests[request.ID] = cloneRequest(request)
	return nil
}

// GetRescheduleRequest retrieves a request by ID.
func (s *Storage) GetRescheduleRequest(ctx context.Context, id string) (persistence.RescheduleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[id]
	if !ok {
		return persistence.RescheduleRequest{}, persistence.ErrNotFound
	}
	return cloneRequest(request), nil
}

// ListRescheduleRequests returns a meeting's requests, oldest first.
func (s *Storage) ListRescheduleRequests(ctx context.Context, meetingID string) ([]persistence.RescheduleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.RescheduleRequest, 0)
	for _, request := range s.requests {
		if request.MeetingID == meetingID {
			result = append(result, cloneRequest(request))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ResolveRescheduleRequest moves a pending request to status.
func (s *Storage) ResolveRescheduleRequest(ctx context.Context, id string, status persistence.RescheduleStatus, resolvedBy string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if request.Status != persistence.ReschedulePending {
		return fmt.Errorf("memory: reschedule request %s is %s: %w", id, request.Status, persistence.ErrStaleState)
	}
	at := resolvedAt
	request.Status = status
	request.ResolvedBy = resolvedBy
	request.ResolvedAt = &at
	s.requests[id] = request
	return nil
}

// DeletePendingRescheduleRequests drops every pending request of a meeting.
func (s *Storage) DeletePendingRescheduleRequests(ctx context.Context, meetingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, request := range s.requests {
		if request.MeetingID == meetingID && request.Status == persistence.ReschedulePending {
			delete(s.requests, id)
			removed++
		}
	}
	return removed, nil
}

// --- AvailabilityRepository implementation ---

// ListAvailabilityRules returns a coach's rows ordered by group then weekday.
func (s *Storage) ListAvailabilityRules(ctx context.Context, coachID string) ([]persistence.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.AvailabilityRule, 0)
	for _, rule := range s.rules {
		if rule.CoachID == coachID {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.StartMinute != b.StartMinute {
			return a.StartMinute < b.StartMinute
		}
		if a.EndMinute != b.EndMinute {
			return a.EndMinute < b.EndMinute
		}
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		return a.ID < b.ID
	})
	return result, nil
}

// ReplaceAvailabilityGroup deletes the affected groups and inserts rules.
func (s *Storage) ReplaceAvailabilityGroup(ctx context.Context, coachID string, previous *persistence.RuleGroupKey, rules []persistence.AvailabilityRule) error {
	for _, rule := range rules {
		if rule.StartMinute >= rule.EndMinute || rule.Weekday < time.Sunday || rule.Weekday > time.Saturday {
			return fmt.Errorf("memory: availability rule %s: %w", rule.ID, persistence.ErrConstraintViolation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if previous != nil {
		s.deleteGroupLocked(coachID, *previous)
	}
	for _, rule := range rules {
		s.deleteGroupLocked(coachID, rule.GroupKey())
	}
	for _, rule := range rules {
		s.rules[rule.ID] = rule
	}
	return nil
}

// DeleteAvailabilityGroup removes every row of a rule group.
func (s *Storage) DeleteAvailabilityGroup(ctx context.Context, coachID string, key persistence.RuleGroupKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteGroupLocked(coachID, key), nil
}

func (s *Storage) deleteGroupLocked(coachID string, key persistence.RuleGroupKey) int {
	removed := 0
	for id, rule := range s.rules {
		if rule.CoachID == coachID && rule.GroupKey() == key {
			delete(s.rules, id)
			removed++
		}
	}
	return removed
}

// --- CreditRepository implementation ---

// GetBalance returns the balance of a (coach, client) pair, zero when unknown.
func (s *Storage) GetBalance(ctx context.Context, coachID, clientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[balanceKey{coachID, clientID}], nil
}

// ApplyCreditTransaction adjusts a balance atomically and appends tx to the history.
func (s *Storage) ApplyCreditTransaction(ctx context.Context, tx persistence.CreditTransaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if _, ok := s.txKeys[tx.IdempotencyKey]; ok {
			return 0, fmt.Errorf("memory: credit transaction %s: %w", tx.IdempotencyKey, persistence.ErrDuplicate)
		}
	}
	key := balanceKey{tx.CoachID, tx.ClientID}
	balance := s.balances[key] + tx.Delta
	if balance < 0 {
		return s.balances[key], persistence.ErrInsufficientBalance
	}
	s.balances[key] = balance
	s.transactions = append(s.transactions, tx)
	if tx.IdempotencyKey != "" {
		s.txKeys[tx.IdempotencyKey] = struct{}{}
	}
	return balance, nil
}

// ListCreditTransactions returns matching history entries in insertion order.
func (s *Storage) ListCreditTransactions(ctx context.Context, filter persistence.CreditTransactionFilter) ([]persistence.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.CreditTransaction, 0)
	for _, tx := range s.transactions {
		if filter.CoachID != "" && tx.CoachID != filter.CoachID {
			continue
		}
		if filter.ClientID != "" && tx.ClientID != filter.ClientID {
			continue
		}
		if filter.MeetingID != "" && tx.MeetingID != filter.MeetingID {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

// --- TaskRepository implementation ---

// EnqueueTask stores a task unless its idempotency key is already queued.
func (s *Storage) EnqueueTask(ctx context.Context, task persistence.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.IdempotencyKey != "" {
		if _, ok := s.taskKeys[task.IdempotencyKey]; ok {
			return false, nil
		}
	}
	if _, ok := s.tasks[task.ID]; ok {
		return false, fmt.Errorf("memory: task %s: %w", task.ID, persistence.ErrDuplicate)
	}
	task.Payload = slices.Clone(task.Payload)
	s.tasks[task.ID] = task
	if task.IdempotencyKey != "" {
		s.taskKeys[task.IdempotencyKey] = task.ID
	}
	return true, nil
}

// ClaimDueTasks leases due tasks. Running tasks whose lease expired are reclaimed.
func (s *Storage) ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]persistence.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]persistence.Task, 0)
	for _, task := range s.tasks {
		if task.Status != persistence.TaskPending && task.Status != persistence.TaskRunning {
			continue
		}
		if task.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, task)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]persistence.Task, 0, len(due))
	for _, task := range due {
		task.Status = persistence.TaskRunning
		task.Attempts++
		task.NextAttemptAt = now.Add(lease)
		task.UpdatedAt = now
		s.tasks[task.ID] = task
		task.Payload = slices.Clone(task.Payload)
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// CompleteTask marks a task delivered.
func (s *Storage) CompleteTask(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return persistence.ErrNotFound
	}
	task.Status = persistence.TaskCompleted
	task.LastError = ""
	task.UpdatedAt = at
	s.tasks[id] = task
	return nil
}

// FailTask records a failed attempt and schedules the next one.
func (s *Storage) FailTask(ctx context.Context, id, lastError string, nextAttemptAt time.Time, dead bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return persistence.ErrNotFound
	}
	task.Status = persistence.TaskPending
	if dead {
		task.Status = persistence.TaskDead
	}
	task.LastError = lastError
	task.NextAttemptAt = nextAttemptAt
	task.UpdatedAt = at
	s.tasks[id] = task
	return nil
}

// Task returns a stored task. It exists for inspection in tests and tooling.
func (s *Storage) Task(id string) (persistence.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	return task, ok
}

// Tasks returns every stored task ordered by creation.
func (s *Storage) Tasks() []persistence.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		result = append(result, task)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// --- CalendarFeedRepository implementation ---

// UpsertCalendarFeed stores or replaces a person's feed.
func (s *Storage) UpsertCalendarFeed(ctx context.Context, feed persistence.CalendarFeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feeds[feed.PersonID] = feed
	return nil
}

// GetCalendarFeed returns a person's feed.
func (s *Storage) GetCalendarFeed(ctx context.Context, personID string) (persistence.CalendarFeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feed, ok := s.feeds[personID]
	if !ok {
		return persistence.CalendarFeed{}, persistence.ErrNotFound
	}
	return feed, nil
}

func sortParticipants(participants []persistence.Participant) {
	sort.Slice(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		if a.Role != b.Role {
			return a.Role == persistence.RoleCoach
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.PersonID < b.PersonID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func cloneMeeting(m persistence.Meeting) persistence.Meeting {
	out := m
	out.Relations.ActivityID = cloneStringPtr(m.Relations.ActivityID)
	out.Relations.EnrollmentID = cloneStringPtr(m.Relations.EnrollmentID)
	out.VideoLink = cloneStringPtr(m.VideoLink)
	if m.Cancellation != nil {
		c := *m.Cancellation
		out.Cancellation = &c
	}
	return out
}

func cloneParticipant(p persistence.Participant) persistence.Participant {
	out := p
	out.PaymentRecordID = cloneStringPtr(p.PaymentRecordID)
	return out
}

func cloneRequest(r persistence.RescheduleRequest) persistence.RescheduleRequest {
	out := r
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}

func cloneStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
