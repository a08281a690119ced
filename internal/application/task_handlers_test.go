package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/tasks"
	"github.com/example/coaching-scheduler/internal/testfixtures"
)

type stubProvisioner struct {
	link  string
	err   error
	calls int
}

func (p *stubProvisioner) AttachLink(ctx context.Context, meetingID string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.link + "/" + meetingID, nil
}

type stubPublisher struct {
	events []notify.Event
	err    error
}

func (p *stubPublisher) Publish(ctx context.Context, event notify.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func taskWith(t *testing.T, kind string, payload any) persistence.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return persistence.Task{ID: "task-1", Kind: kind, Payload: body}
}

func TestVideoLinkHandler(t *testing.T) {
	t.Parallel()

	harness := testfixtures.NewMemoryHarness(t)
	fixture := harness.SeedMeeting(t, testfixtures.NewMeetingFixture())
	provisioner := &stubProvisioner{link: "https://meet.example.com"}
	cache := NewMonthCache(8, time.Hour, time.UTC)
	handler := NewVideoLinkHandler(harness.Store, provisioner, cache, harness.Clock.NowFunc(), nil)
	ctx := context.Background()
	task := taskWith(t, tasks.KindVideoLink, tasks.VideoLinkPayload{MeetingID: fixture.Meeting.ID})
	warmed := cache.monthsTouched(fixture.Meeting.CoachID, fixture.Meeting.Start, fixture.Meeting.End)
	for _, key := range warmed {
		cache.store(key, []monthEntry{{meeting: fixture.Meeting}})
	}

	if err := handler.Handle(ctx, task); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	for _, key := range warmed {
		if cache.entries.Contains(key) {
			t.Fatalf("expected month %+v to be invalidated after the link was stored", key)
		}
	}
	meeting, err := harness.Store.GetMeeting(ctx, fixture.Meeting.ID)
	if err != nil || meeting.VideoLink == nil || *meeting.VideoLink != "https://meet.example.com/"+fixture.Meeting.ID {
		t.Fatalf("expected the link to be stored, got %+v (%v)", meeting.VideoLink, err)
	}

	harness.Clock.Advance(1)
	if err := handler.Handle(ctx, task); err != nil {
		t.Fatalf("expected redelivery to succeed, got %v", err)
	}
	unchanged, _ := harness.Store.GetMeeting(ctx, fixture.Meeting.ID)
	if !unchanged.UpdatedAt.Equal(meeting.UpdatedAt) {
		t.Fatalf("expected an unchanged link not to be rewritten")
	}

	provisioner.err = errors.New("provider down")
	other := harness.SeedMeeting(t, testfixtures.NewMeetingFixture())
	err = handler.Handle(ctx, taskWith(t, tasks.KindVideoLink, tasks.VideoLinkPayload{MeetingID: other.Meeting.ID}))
	var cErr *CollaboratorError
	if !errors.As(err, &cErr) || cErr.Collaborator != "video_link" {
		t.Fatalf("expected a collaborator error, got %v", err)
	}
}

func TestVideoLinkHandler_SkipsGoneMeetings(t *testing.T) {
	t.Parallel()

	harness := testfixtures.NewMemoryHarness(t)
	cancelled := harness.SeedMeeting(t, testfixtures.NewMeetingFixture(testfixtures.WithMeetingStatus(persistence.MeetingStatusCancelled)))
	provisioner := &stubProvisioner{link: "https://meet.example.com"}
	handler := NewVideoLinkHandler(harness.Store, provisioner, nil, harness.Clock.NowFunc(), nil)
	ctx := context.Background()

	if err := handler.Handle(ctx, taskWith(t, tasks.KindVideoLink, tasks.VideoLinkPayload{MeetingID: "missing"})); err != nil {
		t.Fatalf("expected deleted meetings to be skipped, got %v", err)
	}
	if err := handler.Handle(ctx, taskWith(t, tasks.KindVideoLink, tasks.VideoLinkPayload{MeetingID: cancelled.Meeting.ID})); err != nil {
		t.Fatalf("expected cancelled meetings to be skipped, got %v", err)
	}
	if provisioner.calls != 0 {
		t.Fatalf("expected no provisioning for skipped meetings, got %d calls", provisioner.calls)
	}

	err := handler.Handle(ctx, persistence.Task{Kind: tasks.KindVideoLink, Payload: []byte("{")})
	if !errors.Is(err, tasks.ErrPermanent) {
		t.Fatalf("expected undecodable payloads to be permanent failures, got %v", err)
	}
}

func TestCalendarPushHandler(t *testing.T) {
	t.Parallel()

	publisher := &stubPublisher{}
	handler := NewCalendarPushHandler(publisher)
	event := notify.Event{ID: "calendar.push:m-1:meeting.created:1", Type: notify.EventMeetingCreated, MeetingID: "m-1", Participants: []string{"coach-1", "client-a"}}

	if err := handler.Handle(context.Background(), taskWith(t, tasks.KindCalendarPush, tasks.CalendarPushPayload{Event: event})); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(publisher.events) != 1 || publisher.events[0].ID != event.ID || len(publisher.events[0].Participants) != 2 {
		t.Fatalf("expected the event snapshot to be published, got %+v", publisher.events)
	}

	publisher.err = errors.New("sink unavailable")
	err := handler.Handle(context.Background(), taskWith(t, tasks.KindCalendarPush, tasks.CalendarPushPayload{Event: event}))
	var cErr *CollaboratorError
	if !errors.As(err, &cErr) || cErr.Collaborator != "calendar" {
		t.Fatalf("expected a collaborator error, got %v", err)
	}

	if err := handler.Handle(context.Background(), persistence.Task{Kind: tasks.KindCalendarPush, Payload: []byte("nope")}); !errors.Is(err, tasks.ErrPermanent) {
		t.Fatalf("expected undecodable payloads to be permanent failures, got %v", err)
	}
}
