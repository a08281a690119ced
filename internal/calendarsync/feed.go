// Package calendarsync merges busy blocks from people's third-party calendar
// feeds into conflict checks.
package calendarsync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/scheduler"
)

// maxFeedBytes caps how much of a feed is read.
const maxFeedBytes = 4 << 20

// FeedSource fetches the iCal feed registered for a person.
type FeedSource struct {
	feeds      persistence.CalendarFeedRepository
	httpClient *http.Client
}

// NewFeedSource creates a source bounded by timeout per fetch.
func NewFeedSource(feeds persistence.CalendarFeedRepository, timeout time.Duration) *FeedSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FeedSource{
		feeds:      feeds,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BusyIntervals returns the person's busy blocks overlapping [from, to).
// A person without a registered feed has no external commitments.
func (s *FeedSource) BusyIntervals(ctx context.Context, personID string, from, to time.Time) ([]scheduler.Interval, error) {
	if s == nil || s.feeds == nil {
		return nil, nil
	}
	feed, err := s.feeds.GetCalendarFeed(ctx, personID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calendarsync: load feed for %s: %w", personID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("calendarsync: build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendarsync: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendarsync: feed returned status %d", resp.StatusCode)
	}

	events, err := Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}

	var busy []scheduler.Interval
	for _, event := range events {
		if !event.Start.Before(to) || !event.End.After(from) {
			continue
		}
		busy = append(busy, scheduler.Interval{
			ID:       event.UID,
			Source:   scheduler.SourceExternalCalendar,
			PersonID: personID,
			Start:    event.Start,
			End:      event.End,
		})
	}
	return busy, nil
}

// Event is one busy VEVENT from a feed.
type Event struct {
	UID   string
	Start time.Time
	End   time.Time
}

// Parse reads VEVENT blocks from iCal data. Transparent and cancelled events
// are skipped since they do not block time. An event without DTEND ends after
// its DURATION.
func Parse(r io.Reader) ([]Event, error) {
	var (
		events   []Event
		current  *Event
		duration time.Duration
		skip     bool
		lines    []string
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("calendarsync: read feed: %w", err)
	}

	for _, line := range lines {
		colon := strings.Index(line, ":")
		if colon == -1 {
			continue
		}
		name, value := line[:colon], line[colon+1:]
		params := ""
		if semi := strings.Index(name, ";"); semi != -1 {
			name, params = name[:semi], name[semi+1:]
		}

		switch name {
		case "BEGIN":
			if value == "VEVENT" {
				current = &Event{}
				duration = 0
				skip = false
			}
		case "END":
			if value == "VEVENT" && current != nil {
				if current.End.IsZero() && duration > 0 && !current.Start.IsZero() {
					current.End = current.Start.Add(duration)
				}
				if !skip && !current.Start.IsZero() && current.End.After(current.Start) {
					events = append(events, *current)
				}
				current = nil
			}
		case "UID":
			if current != nil {
				current.UID = value
			}
		case "DTSTART":
			if current != nil {
				current.Start = parseDateTime(value, params)
			}
		case "DTEND":
			if current != nil {
				current.End = parseDateTime(value, params)
			}
		case "DURATION":
			if current != nil {
				duration = parseDuration(value)
			}
		case "TRANSP":
			if current != nil && value == "TRANSPARENT" {
				skip = true
			}
		case "STATUS":
			if current != nil && value == "CANCELLED" {
				skip = true
			}
		}
	}
	return events, nil
}

func parseDateTime(value, params string) time.Time {
	loc := time.UTC
	for _, param := range strings.Split(params, ";") {
		if tz, ok := strings.CutPrefix(param, "TZID="); ok {
			if l, err := time.LoadLocation(strings.Trim(tz, `"`)); err == nil {
				loc = l
			}
		}
	}

	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t
	}
	for _, layout := range []string{"20060102T150405", "20060102"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseDuration reads an iCal DURATION such as PT1H30M, P1D or P2W. Negative
// or malformed values yield zero.
func parseDuration(value string) time.Duration {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(value, "+"), "P")
	if !ok {
		return 0
	}
	var (
		total  time.Duration
		number int
		digits bool
		inTime bool
	)
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			number = number*10 + int(r-'0')
			digits = true
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if !digits {
			return 0
		}
		unit := time.Duration(number)
		switch {
		case r == 'W' && !inTime:
			total += unit * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += unit * 24 * time.Hour
		case r == 'H' && inTime:
			total += unit * time.Hour
		case r == 'M' && inTime:
			total += unit * time.Minute
		case r == 'S' && inTime:
			total += unit * time.Second
		default:
			return 0
		}
		number, digits = 0, false
	}
	if digits {
		return 0
	}
	return total
}
