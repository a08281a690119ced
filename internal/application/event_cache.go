package application

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// MonthKey identifies one coach's calendar month.
type MonthKey struct {
	CoachID string
	Year    int
	Month   time.Month
}

// monthEntry is the raw aggregate data cached per meeting. Derived status is
// computed at read time so entries never go stale as the clock moves.
type monthEntry struct {
	meeting      persistence.Meeting
	participants []persistence.Participant
	requests     []persistence.RescheduleRequest
}

// MonthCache is a read-through cache of a coach's meetings per calendar month.
// Writers must call Invalidate for every interval they touch.
type MonthCache struct {
	entries  *expirable.LRU[MonthKey, []monthEntry]
	location *time.Location
	recorder Recorder
}

// NewMonthCache builds a cache holding at most size months for ttl. Month
// boundaries are computed in location.
func NewMonthCache(size int, ttl time.Duration, location *time.Location) *MonthCache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if location == nil {
		location = time.UTC
	}
	return &MonthCache{
		entries:  expirable.NewLRU[MonthKey, []monthEntry](size, nil, ttl),
		location: location,
		recorder: nopRecorder{},
	}
}

// SetRecorder installs a metrics recorder.
func (c *MonthCache) SetRecorder(recorder Recorder) {
	if c != nil && recorder != nil {
		c.recorder = recorder
	}
}

func (c *MonthCache) get(key MonthKey) ([]monthEntry, bool) {
	if c == nil {
		return nil, false
	}
	entries, ok := c.entries.Get(key)
	c.recorder.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	return cloneMonthEntries(entries), true
}

func (c *MonthCache) store(key MonthKey, entries []monthEntry) {
	if c == nil {
		return
	}
	c.entries.Add(key, cloneMonthEntries(entries))
}

// Invalidate drops every month of coachID that [start, end) touches.
func (c *MonthCache) Invalidate(coachID string, start, end time.Time) {
	if c == nil {
		return
	}
	for _, key := range c.monthsTouched(coachID, start, end) {
		c.entries.Remove(key)
	}
}

// Len reports the number of cached months.
func (c *MonthCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func (c *MonthCache) monthsTouched(coachID string, start, end time.Time) []MonthKey {
	if end.Before(start) {
		start, end = end, start
	}
	last := end
	if end.After(start) {
		last = end.Add(-time.Nanosecond)
	}

	first := monthStart(start.In(c.location))
	stop := monthStart(last.In(c.location))
	var keys []MonthKey
	for cursor := first; !cursor.After(stop); cursor = cursor.AddDate(0, 1, 0) {
		keys = append(keys, MonthKey{CoachID: coachID, Year: cursor.Year(), Month: cursor.Month()})
	}
	return keys
}

// monthBounds returns the [start, end) window of a month key in location.
func monthBounds(key MonthKey, location *time.Location) (time.Time, time.Time) {
	start := time.Date(key.Year, key.Month, 1, 0, 0, 0, 0, location)
	return start, start.AddDate(0, 1, 0)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func cloneMonthEntries(entries []monthEntry) []monthEntry {
	if entries == nil {
		return nil
	}
	out := make([]monthEntry, len(entries))
	for i, entry := range entries {
		out[i] = monthEntry{
			meeting:      entry.meeting,
			participants: append([]persistence.Participant(nil), entry.participants...),
			requests:     append([]persistence.RescheduleRequest(nil), entry.requests...),
		}
	}
	return out
}
