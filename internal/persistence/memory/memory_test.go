package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

var base = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func seedMeeting(t *testing.T, s *Storage, id string) persistence.Meeting {
	t.Helper()

	meeting := persistence.Meeting{
		ID:        id,
		CoachID:   "coach-1",
		Title:     "Intro",
		Start:     base,
		End:       base.Add(time.Hour),
		Type:      persistence.MeetingTypeConsultation,
		Status:    persistence.MeetingStatusScheduled,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := s.CreateMeeting(context.Background(), meeting); err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	return meeting
}

func TestMeetingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMeeting(t, s, "m-1")

	invalid := persistence.Meeting{ID: "m-bad", Start: base, End: base}
	if err := s.CreateMeeting(ctx, invalid); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}

	err := s.InsertParticipants(ctx, []persistence.Participant{
		{MeetingID: "m-1", PersonID: "coach-1", Role: persistence.RoleCoach, RSVP: persistence.RSVPConfirmed},
		{MeetingID: "m-1", PersonID: "client-1", Role: persistence.RoleClient, RSVP: persistence.RSVPPending},
	})
	if err != nil {
		t.Fatalf("InsertParticipants failed: %v", err)
	}

	err = s.TransitionMeetingStatus(ctx, "m-1", []persistence.MeetingStatus{persistence.MeetingStatusRescheduled}, persistence.MeetingStatusScheduled, base)
	if !errors.Is(err, persistence.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}

	listed, err := s.ListMeetings(ctx, persistence.MeetingFilter{ParticipantID: "client-1"})
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected meeting for participant, got %v (%v)", listed, err)
	}

	if err := s.DeleteMeeting(ctx, "m-1"); err != nil {
		t.Fatalf("DeleteMeeting failed: %v", err)
	}
	if _, err := s.GetMeeting(ctx, "m-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	participants, _ := s.ListParticipants(ctx, "m-1")
	if len(participants) != 0 {
		t.Fatalf("expected participants to cascade, got %d", len(participants))
	}
}

func TestInsertParticipantsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMeeting(t, s, "m-1")

	err := s.InsertParticipants(ctx, []persistence.Participant{
		{MeetingID: "m-1", PersonID: "client-1"},
		{MeetingID: "m-1", PersonID: "client-1"},
	})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	participants, _ := s.ListParticipants(ctx, "m-1")
	if len(participants) != 0 {
		t.Fatalf("expected no rows written, got %d", len(participants))
	}

	inserted, err := s.InsertParticipantIfAbsent(ctx, persistence.Participant{MeetingID: "m-1", PersonID: "client-2"})
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v %v", inserted, err)
	}
	inserted, err = s.InsertParticipantIfAbsent(ctx, persistence.Participant{MeetingID: "m-1", PersonID: "client-2"})
	if err != nil || inserted {
		t.Fatalf("expected no-op on existing key, got %v %v", inserted, err)
	}
}

func TestPendingRescheduleRequestIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMeeting(t, s, "m-1")

	first := persistence.RescheduleRequest{ID: "r-1", MeetingID: "m-1", Status: persistence.ReschedulePending, CreatedAt: base}
	if err := s.CreateRescheduleRequest(ctx, first); err != nil {
		t.Fatalf("CreateRescheduleRequest failed: %v", err)
	}
	second := persistence.RescheduleRequest{ID: "r-2", MeetingID: "m-1", Status: persistence.ReschedulePending, CreatedAt: base}
	if err := s.CreateRescheduleRequest(ctx, second); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected duplicate pending request, got %v", err)
	}

	if err := s.ResolveRescheduleRequest(ctx, "r-1", persistence.RescheduleRejected, "client-1", base); err != nil {
		t.Fatalf("ResolveRescheduleRequest failed: %v", err)
	}
	if err := s.ResolveRescheduleRequest(ctx, "r-1", persistence.RescheduleAccepted, "client-1", base); !errors.Is(err, persistence.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}
	if err := s.CreateRescheduleRequest(ctx, second); err != nil {
		t.Fatalf("expected new pending request after resolution, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.ApplyCreditTransaction(ctx, persistence.CreditTransaction{CoachID: "c", ClientID: "k", Delta: 10}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyCreditTransaction(ctx, persistence.CreditTransaction{CoachID: "c", ClientID: "k", Delta: -4})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 2 {
		t.Fatalf("expected exactly 2 debits to succeed, got %d", succeeded)
	}
	balance, _ := s.GetBalance(ctx, "c", "k")
	if balance != 2 {
		t.Fatalf("expected balance 2, got %d", balance)
	}
}

func TestTaskClaimAndLease(t *testing.T) {
	ctx := context.Background()
	s := New()

	task := persistence.Task{ID: "t-1", Kind: "video_link.attach", IdempotencyKey: "k-1", Status: persistence.TaskPending, NextAttemptAt: base, CreatedAt: base}
	if ok, err := s.EnqueueTask(ctx, task); err != nil || !ok {
		t.Fatalf("EnqueueTask failed: %v %v", ok, err)
	}
	if ok, err := s.EnqueueTask(ctx, persistence.Task{ID: "t-2", IdempotencyKey: "k-1"}); err != nil || ok {
		t.Fatalf("expected duplicate key to be skipped, got %v %v", ok, err)
	}

	claimed, err := s.ClaimDueTasks(ctx, base, time.Minute, 10)
	if err != nil || len(claimed) != 1 || claimed[0].Attempts != 1 {
		t.Fatalf("unexpected claim: %#v %v", claimed, err)
	}
	again, _ := s.ClaimDueTasks(ctx, base.Add(30*time.Second), time.Minute, 10)
	if len(again) != 0 {
		t.Fatalf("expected leased task to stay hidden, got %d", len(again))
	}
	expired, _ := s.ClaimDueTasks(ctx, base.Add(2*time.Minute), time.Minute, 10)
	if len(expired) != 1 || expired[0].Attempts != 2 {
		t.Fatalf("expected lease expiry to reclaim, got %#v", expired)
	}

	if err := s.CompleteTask(ctx, "t-1", base); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	stored, _ := s.Task("t-1")
	if stored.Status != persistence.TaskCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}

func TestReplaceAvailabilityGroup(t *testing.T) {
	ctx := context.Background()
	s := New()

	rule := func(id string, day time.Weekday, start, end int) persistence.AvailabilityRule {
		return persistence.AvailabilityRule{ID: id, CoachID: "coach-1", Weekday: day, StartMinute: start, EndMinute: end, Scope: persistence.ScopeAlways}
	}

	if err := s.ReplaceAvailabilityGroup(ctx, "coach-1", nil, []persistence.AvailabilityRule{
		rule("a", time.Monday, 540, 720),
		rule("b", time.Tuesday, 540, 720),
	}); err != nil {
		t.Fatalf("ReplaceAvailabilityGroup failed: %v", err)
	}

	previous := rule("", 0, 540, 720).GroupKey()
	if err := s.ReplaceAvailabilityGroup(ctx, "coach-1", &previous, []persistence.AvailabilityRule{
		rule("c", time.Friday, 600, 720),
	}); err != nil {
		t.Fatalf("ReplaceAvailabilityGroup failed: %v", err)
	}

	rules, _ := s.ListAvailabilityRules(ctx, "coach-1")
	if len(rules) != 1 || rules[0].ID != "c" {
		t.Fatalf("expected group to be replaced, got %#v", rules)
	}

	if err := s.ReplaceAvailabilityGroup(ctx, "coach-1", nil, []persistence.AvailabilityRule{rule("d", time.Monday, 720, 600)}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}
