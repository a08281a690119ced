package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

// CalendarFeedService registers the third-party calendar export of a person so
// conflict checks can include their external commitments.
type CalendarFeedService struct {
	feeds  persistence.CalendarFeedRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewCalendarFeedService wires the service over a feed repository.
func NewCalendarFeedService(feeds persistence.CalendarFeedRepository, now func() time.Time, logger *slog.Logger) *CalendarFeedService {
	if now == nil {
		now = time.Now
	}
	return &CalendarFeedService{feeds: feeds, now: now, logger: defaultLogger(logger)}
}

// SetFeed stores or replaces the feed of personID. Only the person or an
// administrator may change it.
func (s *CalendarFeedService) SetFeed(ctx context.Context, principal Principal, personID, feedURL string) (feed persistence.CalendarFeed, err error) {
	if s == nil || s.feeds == nil {
		return persistence.CalendarFeed{}, fmt.Errorf("calendar feed repository not configured")
	}
	logger := serviceLogger(ctx, s.logger, "CalendarFeedService", "SetFeed", "person_id", personID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "calendar feed update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "calendar feed updated")
	}()

	personID = strings.TrimSpace(personID)
	if personID == "" {
		return persistence.CalendarFeed{}, newValidationError("person_id", "person id is required")
	}
	if !principal.IsAdmin && principal.UserID != personID {
		return persistence.CalendarFeed{}, ErrUnauthorized
	}

	feedURL = strings.TrimSpace(feedURL)
	parsed, parseErr := url.Parse(feedURL)
	if feedURL == "" || parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return persistence.CalendarFeed{}, newValidationError("url", "must be a valid URL")
	}

	feed = persistence.CalendarFeed{PersonID: personID, URL: feedURL, UpdatedAt: s.now().UTC()}
	if err = s.feeds.UpsertCalendarFeed(ctx, feed); err != nil {
		return persistence.CalendarFeed{}, mapRepoError("upsert calendar feed", err)
	}
	return feed, nil
}
