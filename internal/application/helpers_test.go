package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/scheduler"
	"github.com/example/coaching-scheduler/internal/testfixtures"
)

type recordingRecorder struct {
	mu            sync.Mutex
	operations    map[string]int
	compensations int
	reschedules   []string
	debits        []string
	hits          int
	misses        int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{operations: make(map[string]int)}
}

func (r *recordingRecorder) MeetingOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[operation+":"+outcome]++
}

func (r *recordingRecorder) Compensation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations++
}

func (r *recordingRecorder) RescheduleOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reschedules = append(r.reschedules, outcome)
}

func (r *recordingRecorder) CreditDebit(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debits = append(r.debits, kind+":"+outcome)
}

func (r *recordingRecorder) CacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

type queuedTask struct {
	kind      string
	meetingID string
	key       string
	payload   any
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
	keys  map[string]struct{}
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, kind, meetingID, key string, payload any) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.keys == nil {
		q.keys = make(map[string]struct{})
	}
	if _, ok := q.keys[key]; ok {
		return false, nil
	}
	q.keys[key] = struct{}{}
	q.tasks = append(q.tasks, queuedTask{kind: kind, meetingID: meetingID, key: key, payload: payload})
	return true, nil
}

func (q *recordingQueue) ofKind(kind string) []queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedTask
	for _, task := range q.tasks {
		if task.kind == kind {
			out = append(out, task)
		}
	}
	return out
}

type stubBusySource struct {
	intervals map[string][]scheduler.Interval
	err       error
}

func (s *stubBusySource) BusyIntervals(ctx context.Context, personID string, from, to time.Time) ([]scheduler.Interval, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.intervals[personID], nil
}

// failingParticipantStore fails every bulk participant insert.
type failingParticipantStore struct {
	persistence.Store
}

func (failingParticipantStore) InsertParticipants(context.Context, []persistence.Participant) error {
	return errors.New("participants table unavailable")
}

type testEnv struct {
	harness      *testfixtures.Harness
	store        persistence.Store
	service      *MeetingService
	ledger       *CreditLedger
	availability *AvailabilityService
	queue        *recordingQueue
	recorder     *recordingRecorder
	cache        *MonthCache
	busy         *stubBusySource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	harness := testfixtures.NewMemoryHarness(t)
	return newTestEnvWithStore(t, harness, harness.Store)
}

func newTestEnvWithStore(t *testing.T, harness *testfixtures.Harness, store persistence.Store) *testEnv {
	t.Helper()

	ids := harness.IDs.NextFunc()
	now := harness.Clock.NowFunc()
	recorder := newRecordingRecorder()

	ledger := NewCreditLedger(store, ids, now)
	ledger.SetRecorder(recorder)
	cache := NewMonthCache(16, time.Hour, time.UTC)
	cache.SetRecorder(recorder)
	availability := NewAvailabilityService(store, ids, now, time.UTC)
	queue := &recordingQueue{}
	busy := &stubBusySource{intervals: make(map[string][]scheduler.Interval)}

	service := NewMeetingService(store, ids, now, MeetingServiceOptions{
		Ledger:       ledger,
		Availability: availability,
		BusySource:   busy,
		Tasks:        queue,
		Cache:        cache,
		Recorder:     recorder,
		Location:     time.UTC,
	})

	return &testEnv{
		harness:      harness,
		store:        store,
		service:      service,
		ledger:       ledger,
		availability: availability,
		queue:        queue,
		recorder:     recorder,
		cache:        cache,
		busy:         busy,
	}
}

func coach() Principal {
	return Principal{UserID: "coach-1"}
}

func as(userID string) Principal {
	return Principal{UserID: userID}
}

// tomorrowAt returns an instant on Tuesday 2026-03-03, the day after the reference time.
func tomorrowAt(hour, minute int) time.Time {
	return time.Date(2026, time.March, 3, hour, minute, 0, 0, time.UTC)
}

func createParams(guests ...string) CreateMeetingParams {
	return CreateMeetingParams{
		Principal: coach(),
		CoachID:   "coach-1",
		Title:     "Goal setting",
		Start:     tomorrowAt(10, 0),
		End:       tomorrowAt(11, 0),
		Pricing:   persistence.Pricing{IsFree: true},
		GuestIDs:  guests,
	}
}

func mustCreate(t *testing.T, env *testEnv, params CreateMeetingParams) CreateMeetingResult {
	t.Helper()
	result, err := env.service.CreateMeeting(context.Background(), params)
	if err != nil {
		t.Fatalf("CreateMeeting returned error: %v", err)
	}
	return result
}

func mustRSVP(t *testing.T, env *testEnv, meetingID, personID string, decision persistence.RSVPStatus) {
	t.Helper()
	_, err := env.service.RespondRSVP(context.Background(), RespondRSVPParams{
		Principal: as(personID),
		MeetingID: meetingID,
		Decision:  decision,
	})
	if err != nil {
		t.Fatalf("RespondRSVP(%s, %s) returned error: %v", personID, decision, err)
	}
}

func chargeFor(t *testing.T, charges []Charge, guestID string) Charge {
	t.Helper()
	for _, charge := range charges {
		if charge.GuestID == guestID {
			return charge
		}
	}
	t.Fatalf("no charge for %s in %+v", guestID, charges)
	return Charge{}
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	if got := ErrorKind(err); got != kind {
		t.Fatalf("expected %s error, got %q (%v)", kind, got, err)
	}
}
