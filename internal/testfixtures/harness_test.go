package testfixtures

import (
	"context"
	"testing"

	"github.com/example/coaching-scheduler/internal/persistence"
)

func TestHarness_SeedsEveryBackend(t *testing.T) {
	t.Parallel()

	harnesses := map[string]func(testing.TB) *Harness{
		"memory": NewMemoryHarness,
		"sqlite": NewSQLiteHarness,
	}
	for name, build := range harnesses {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			harness := build(t)
			fixture := harness.SeedMeeting(t, NewMeetingFixture(
				WithMeetingID("m-seed"),
				WithGuest("client-2", persistence.RSVPConfirmed),
			))

			participants, err := harness.Store.ListParticipants(context.Background(), fixture.Meeting.ID)
			if err != nil {
				t.Fatalf("ListParticipants failed: %v", err)
			}
			if len(participants) != 3 || participants[0].Role != persistence.RoleCoach {
				t.Fatalf("expected coach plus two guests, got %+v", participants)
			}

			harness.SeedCredits(t, "coach-1", "client-1", 5)
			harness.SeedCredits(t, "coach-1", "client-1", 3)
			if got := harness.Balance(t, "coach-1", "client-1"); got != 8 {
				t.Fatalf("expected balance 8, got %d", got)
			}
		})
	}
}
