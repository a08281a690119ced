package scheduler

import (
	"sort"
	"time"
)

// Source describes where a busy interval came from.
type Source string

const (
	// SourceCoachMeeting marks a meeting hosted by the coach.
	SourceCoachMeeting Source = "coach_meeting"
	// SourceClientMeeting marks a meeting a client has confirmed.
	SourceClientMeeting Source = "client_meeting"
	// SourceExternalCalendar marks a busy block merged from a third-party calendar.
	SourceExternalCalendar Source = "external_calendar"
)

// Interval is a half-open [Start, End) busy window.
type Interval struct {
	ID       string
	Source   Source
	PersonID string
	Start    time.Time
	End      time.Time
}

// Duration returns the interval length. Inverted intervals report zero.
func (i Interval) Duration() time.Duration {
	if !i.End.After(i.Start) {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Conflict details an overlap between the candidate and one existing interval.
type Conflict struct {
	WithID   string
	Source   Source
	PersonID string
	Start    time.Time
	End      time.Time
}

// Overlaps reports whether a and b share any instant. Touching endpoints do not
// overlap and empty intervals overlap nothing.
func Overlaps(a, b Interval) bool {
	if a.Duration() == 0 || b.Duration() == 0 {
		return false
	}
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// HasOverlap reports whether [start, end) overlaps any existing interval other
// than the one whose ID equals excludeID.
func HasOverlap(start, end time.Time, existing []Interval, excludeID string) bool {
	candidate := Interval{Start: start, End: end}
	for _, other := range existing {
		if excludeID != "" && other.ID == excludeID {
			continue
		}
		if Overlaps(candidate, other) {
			return true
		}
	}
	return false
}

// DetectConflicts lists every existing interval the candidate overlaps, with
// the overlapping window, ordered by window start.
func DetectConflicts(candidate Interval, existing []Interval, excludeID string) []Conflict {
	var conflicts []Conflict
	for _, other := range existing {
		if excludeID != "" && other.ID == excludeID {
			continue
		}
		if candidate.ID != "" && other.ID == candidate.ID && other.Source != SourceExternalCalendar {
			continue
		}
		if !Overlaps(candidate, other) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithID:   other.ID,
			Source:   other.Source,
			PersonID: other.PersonID,
			Start:    later(candidate.Start, other.Start),
			End:      earlier(candidate.End, other.End),
		})
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Start.Equal(conflicts[j].Start) {
			return conflicts[i].WithID < conflicts[j].WithID
		}
		return conflicts[i].Start.Before(conflicts[j].Start)
	})
	return conflicts
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
