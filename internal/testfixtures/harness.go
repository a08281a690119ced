package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/persistence/memory"
	"github.com/example/coaching-scheduler/internal/persistence/sqlstore"
)

// Harness bundles a store with a deterministic clock and identifier source.
type Harness struct {
	Store persistence.Store
	Clock *Clock
	IDs   *IDGenerator
}

// NewMemoryHarness returns a harness over the in-memory store.
func NewMemoryHarness(tb testing.TB) *Harness {
	tb.Helper()
	return &Harness{Store: memory.New(), Clock: NewClock(ReferenceTime()), IDs: NewIDGenerator("id")}
}

// NewSQLiteHarness returns a harness over a migrated SQLite file in a
// temporary directory. The store is closed when the test finishes.
func NewSQLiteHarness(tb testing.TB) *Harness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "coaching.db")
	store, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, "file:"+path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return &Harness{Store: store, Clock: NewClock(ReferenceTime()), IDs: NewIDGenerator("id")}
}

// SeedMeeting writes a meeting fixture with its participants.
func (h *Harness) SeedMeeting(tb testing.TB, fixture MeetingFixture) MeetingFixture {
	tb.Helper()

	ctx := context.Background()
	if err := h.Store.CreateMeeting(ctx, fixture.Meeting); err != nil {
		tb.Fatalf("failed to seed meeting: %v", err)
	}
	if err := h.Store.InsertParticipants(ctx, fixture.Participants()); err != nil {
		tb.Fatalf("failed to seed participants: %v", err)
	}
	return fixture
}

// SeedCredits grants amount credits to a (coach, client) pair.
func (h *Harness) SeedCredits(tb testing.TB, coachID, clientID string, amount int) {
	tb.Helper()

	_, err := h.Store.ApplyCreditTransaction(context.Background(), persistence.CreditTransaction{
		ID:             h.IDs.Next(),
		CoachID:        coachID,
		ClientID:       clientID,
		Delta:          amount,
		Reason:         "seed",
		IdempotencyKey: "seed:" + h.IDs.Next(),
		CreatedAt:      h.Clock.Now(),
	})
	if err != nil {
		tb.Fatalf("failed to seed credits: %v", err)
	}
}

// Balance reads a pair's balance.
func (h *Harness) Balance(tb testing.TB, coachID, clientID string) int {
	tb.Helper()

	balance, err := h.Store.GetBalance(context.Background(), coachID, clientID)
	if err != nil {
		tb.Fatalf("failed to read balance: %v", err)
	}
	return balance
}
