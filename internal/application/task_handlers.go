package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/tasks"
)

// LinkProvisioner attaches a conferencing link to a meeting.
type LinkProvisioner interface {
	AttachLink(ctx context.Context, meetingID string) (string, error)
}

// VideoLinkHandler delivers video_link.attach tasks.
type VideoLinkHandler struct {
	meetings    persistence.MeetingRepository
	provisioner LinkProvisioner
	cache       *MonthCache
	now         func() time.Time
	logger      *slog.Logger
}

// NewVideoLinkHandler builds the handler. cache may be nil.
func NewVideoLinkHandler(meetings persistence.MeetingRepository, provisioner LinkProvisioner, cache *MonthCache, now func() time.Time, logger *slog.Logger) *VideoLinkHandler {
	if now == nil {
		now = time.Now
	}
	return &VideoLinkHandler{meetings: meetings, provisioner: provisioner, cache: cache, now: now, logger: defaultLogger(logger)}
}

// Handle provisions the link and stores it. Meetings that were deleted or
// cancelled in the meantime are skipped.
func (h *VideoLinkHandler) Handle(ctx context.Context, task persistence.Task) error {
	var payload tasks.VideoLinkPayload
	if err := tasks.Decode(task, &payload); err != nil {
		return fmt.Errorf("%w: %v", tasks.ErrPermanent, err)
	}

	meeting, err := h.meetings.GetMeeting(ctx, payload.MeetingID)
	if err != nil {
		if isNotFoundError(err) {
			h.logger.DebugContext(ctx, "video link skipped; meeting gone", "meeting_id", payload.MeetingID)
			return nil
		}
		return err
	}
	if meeting.Status == persistence.MeetingStatusCancelled {
		return nil
	}

	link, err := h.provisioner.AttachLink(ctx, meeting.ID)
	if err != nil {
		return &CollaboratorError{Collaborator: "video_link", Err: err}
	}
	if meeting.VideoLink != nil && *meeting.VideoLink == link {
		return nil
	}
	if err := h.meetings.SetVideoLink(ctx, meeting.ID, link, h.now()); err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return err
	}
	h.cache.Invalidate(meeting.CoachID, meeting.Start, meeting.End)
	h.logger.InfoContext(ctx, "video link attached", "meeting_id", meeting.ID)
	return nil
}

// CalendarPushHandler delivers calendar.push tasks to the event publisher.
type CalendarPushHandler struct {
	publisher notify.Publisher
}

// NewCalendarPushHandler builds the handler.
func NewCalendarPushHandler(publisher notify.Publisher) *CalendarPushHandler {
	return &CalendarPushHandler{publisher: publisher}
}

// Handle publishes the event snapshot carried by the task.
func (h *CalendarPushHandler) Handle(ctx context.Context, task persistence.Task) error {
	var payload tasks.CalendarPushPayload
	if err := tasks.Decode(task, &payload); err != nil {
		return fmt.Errorf("%w: %v", tasks.ErrPermanent, err)
	}
	if err := h.publisher.Publish(ctx, payload.Event); err != nil {
		return &CollaboratorError{Collaborator: "calendar", Err: err}
	}
	return nil
}
