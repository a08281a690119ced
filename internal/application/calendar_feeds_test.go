package application

import (
	"context"
	"errors"
	"testing"

	"github.com/example/coaching-scheduler/internal/testfixtures"
)

func TestCalendarFeedService_SetFeed(t *testing.T) {
	t.Parallel()

	harness := testfixtures.NewMemoryHarness(t)
	service := NewCalendarFeedService(harness.Store, harness.Clock.NowFunc(), nil)
	ctx := context.Background()

	if _, err := service.SetFeed(ctx, as("client-b"), "client-a", "https://cal.example.com/a.ics"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected other people to be refused, got %v", err)
	}
	for _, bad := range []string{"", "ftp://cal.example.com/a.ics", "not a url", "https://"} {
		_, err := service.SetFeed(ctx, as("client-a"), "client-a", bad)
		assertKind(t, err, "validation")
	}

	feed, err := service.SetFeed(ctx, as("client-a"), "client-a", " https://cal.example.com/a.ics ")
	if err != nil {
		t.Fatalf("SetFeed returned error: %v", err)
	}
	if feed.URL != "https://cal.example.com/a.ics" || !feed.UpdatedAt.Equal(harness.Clock.Now().UTC()) {
		t.Fatalf("unexpected feed: %+v", feed)
	}

	if _, err := service.SetFeed(ctx, Principal{UserID: "ops", IsAdmin: true}, "client-a", "https://cal.example.com/b.ics"); err != nil {
		t.Fatalf("expected admins to replace feeds, got %v", err)
	}
	stored, err := harness.Store.GetCalendarFeed(ctx, "client-a")
	if err != nil || stored.URL != "https://cal.example.com/b.ics" {
		t.Fatalf("expected the replaced feed to be stored, got %+v (%v)", stored, err)
	}
}
