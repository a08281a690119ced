// Package notify delivers meeting lifecycle events to the external calendar
// and notification sink.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event kinds published for meetings.
const (
	EventMeetingCreated     = "meeting.created"
	EventMeetingUpdated     = "meeting.updated"
	EventMeetingRescheduled = "meeting.rescheduled"
	EventMeetingCancelled   = "meeting.cancelled"
	EventMeetingDeleted     = "meeting.deleted"
)

// Event is the payload pushed to calendars of every participant.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"event_type"`
	MeetingID    string    `json:"meeting_id"`
	CoachID      string    `json:"coach_id"`
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Status       string    `json:"status"`
	VideoLink    string    `json:"video_link,omitempty"`
	Participants []string  `json:"participants"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher pushes events to the sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NatsPublisher publishes events as JSON on "<prefix>.<event_type>" subjects.
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNatsPublisher connects to the NATS server at url.
func NewNatsPublisher(url, subjectPrefix string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("coaching-scheduler"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("notify: connect nats: %w", err)
	}
	return &NatsPublisher{conn: nc, prefix: subjectPrefix}, nil
}

// Subject returns the subject an event type is published on.
func (p *NatsPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish sends the event. The Nats-Msg-Id header lets JetStream drop redeliveries.
func (p *NatsPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = body
	if event.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, event.ID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("notify: publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *NatsPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs the event.
func (p LogPublisher) Publish(ctx context.Context, event Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "meeting event",
		"event_id", event.ID,
		"event_type", event.Type,
		"meeting_id", event.MeetingID,
		"participants", len(event.Participants),
	)
	return nil
}
