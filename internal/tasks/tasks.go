// Package tasks is the durable outbox that delivers collaborator side effects
// (video links, calendar pushes) at least once, outside the request path.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/coaching-scheduler/internal/notify"
	"github.com/example/coaching-scheduler/internal/persistence"
)

// Task kinds.
const (
	KindVideoLink    = "video_link.attach"
	KindCalendarPush = "calendar.push"
)

// VideoLinkPayload asks the provisioner for a meeting's room link.
type VideoLinkPayload struct {
	MeetingID string `json:"meeting_id"`
}

// CalendarPushPayload carries a snapshot of the event so it can be delivered
// even after the meeting row is gone.
type CalendarPushPayload struct {
	Event notify.Event `json:"event"`
}

// Kicker is notified after a task is enqueued.
type Kicker interface {
	Kick()
}

// Queue writes tasks to the outbox.
type Queue struct {
	repo        persistence.TaskRepository
	kicker      Kicker
	idGenerator func() string
	now         func() time.Time
}

// NewQueue wires the outbox writer. kicker may be nil.
func NewQueue(repo persistence.TaskRepository, kicker Kicker, idGenerator func() string, now func() time.Time) *Queue {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{repo: repo, kicker: kicker, idGenerator: idGenerator, now: now}
}

// Enqueue stores a task due immediately. It reports false when a task with the
// same idempotency key was already queued.
func (q *Queue) Enqueue(ctx context.Context, kind, meetingID, idempotencyKey string, payload any) (bool, error) {
	if q == nil || q.repo == nil {
		return false, fmt.Errorf("tasks: queue not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("tasks: marshal %s payload: %w", kind, err)
	}

	now := q.now()
	created, err := q.repo.EnqueueTask(ctx, persistence.Task{
		ID:             q.idGenerator(),
		Kind:           kind,
		MeetingID:      meetingID,
		Payload:        body,
		IdempotencyKey: idempotencyKey,
		Status:         persistence.TaskPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return false, fmt.Errorf("tasks: enqueue %s: %w", kind, err)
	}
	if created && q.kicker != nil {
		q.kicker.Kick()
	}
	return created, nil
}

// Decode unmarshals a task payload into v.
func Decode(task persistence.Task, v any) error {
	if err := json.Unmarshal(task.Payload, v); err != nil {
		return fmt.Errorf("tasks: decode %s payload: %w", task.Kind, err)
	}
	return nil
}
