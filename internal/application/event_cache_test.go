package application

import (
	"testing"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

func TestMonthCache_MonthsTouched(t *testing.T) {
	t.Parallel()

	cache := NewMonthCache(8, time.Hour, time.UTC)
	at := func(month time.Month, day, hour int) time.Time {
		return time.Date(2026, month, day, hour, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		name       string
		start, end time.Time
		want       []time.Month
	}{
		{name: "inside one month", start: at(time.March, 3, 10), end: at(time.March, 3, 11), want: []time.Month{time.March}},
		{name: "crosses month boundary", start: at(time.March, 31, 23), end: at(time.April, 1, 1), want: []time.Month{time.March, time.April}},
		{name: "ends at midnight", start: at(time.March, 31, 23), end: at(time.April, 1, 0), want: []time.Month{time.March}},
		{name: "empty interval", start: at(time.May, 5, 9), end: at(time.May, 5, 9), want: []time.Month{time.May}},
	}
	for _, tc := range cases {
		keys := cache.monthsTouched("coach-1", tc.start, tc.end)
		if len(keys) != len(tc.want) {
			t.Fatalf("%s: got %+v, want months %v", tc.name, keys, tc.want)
		}
		for i, key := range keys {
			if key.Month != tc.want[i] || key.Year != 2026 || key.CoachID != "coach-1" {
				t.Fatalf("%s: key %d = %+v, want %s 2026", tc.name, i, key, tc.want[i])
			}
		}
	}
}

func TestMonthCache_MonthsTouchedUsesReferenceZone(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("UTC+2", 2*60*60)
	cache := NewMonthCache(8, time.Hour, zone)

	// 23:00 UTC on March 31 is already April in the reference zone.
	keys := cache.monthsTouched("coach-1", time.Date(2026, time.March, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, time.March, 31, 23, 30, 0, 0, time.UTC))
	if len(keys) != 1 || keys[0].Month != time.April {
		t.Fatalf("expected April in the reference zone, got %+v", keys)
	}
}

func TestMonthCache_StoreGetInvalidate(t *testing.T) {
	t.Parallel()

	cache := NewMonthCache(8, time.Hour, time.UTC)
	recorder := newRecordingRecorder()
	cache.SetRecorder(recorder)
	key := MonthKey{CoachID: "coach-1", Year: 2026, Month: time.March}

	if _, ok := cache.get(key); ok {
		t.Fatalf("expected an empty cache to miss")
	}

	entries := []monthEntry{{
		meeting:      persistence.Meeting{ID: "m-1", CoachID: "coach-1"},
		participants: []persistence.Participant{{PersonID: "coach-1"}},
	}}
	cache.store(key, entries)
	entries[0].participants[0].PersonID = "mutated"

	got, ok := cache.get(key)
	if !ok || len(got) != 1 || got[0].participants[0].PersonID != "coach-1" {
		t.Fatalf("expected an isolated copy of the stored entries, got %+v", got)
	}
	got[0].participants[0].PersonID = "mutated again"
	again, _ := cache.get(key)
	if again[0].participants[0].PersonID != "coach-1" {
		t.Fatalf("expected reads to be isolated from the cache")
	}
	if recorder.hits != 2 || recorder.misses != 1 {
		t.Fatalf("expected two hits and a miss, got %d hits %d misses", recorder.hits, recorder.misses)
	}

	cache.Invalidate("coach-2", tomorrowAt(10, 0), tomorrowAt(11, 0))
	if cache.Len() != 1 {
		t.Fatalf("expected other coaches' invalidations to leave the entry")
	}
	cache.Invalidate("coach-1", tomorrowAt(10, 0), tomorrowAt(11, 0))
	if cache.Len() != 0 {
		t.Fatalf("expected the month to be dropped")
	}
}

func TestMonthCache_NilIsSafe(t *testing.T) {
	t.Parallel()

	var cache *MonthCache
	cache.store(MonthKey{}, nil)
	cache.Invalidate("coach-1", tomorrowAt(10, 0), tomorrowAt(11, 0))
	if _, ok := cache.get(MonthKey{}); ok || cache.Len() != 0 {
		t.Fatalf("expected a nil cache to always miss")
	}
}
