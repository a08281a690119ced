package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

const taskColumns = `id, kind, meeting_id, payload, idempotency_key, status, attempts, last_error, next_attempt_at, created_at, updated_at`

type taskRow struct {
	ID             string         `db:"id"`
	Kind           string         `db:"kind"`
	MeetingID      string         `db:"meeting_id"`
	Payload        string         `db:"payload"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	Status         string         `db:"status"`
	Attempts       int            `db:"attempts"`
	LastError      string         `db:"last_error"`
	NextAttemptAt  string         `db:"next_attempt_at"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r taskRow) toTask() (persistence.Task, error) {
	next, err := parseTime(r.NextAttemptAt)
	if err != nil {
		return persistence.Task{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.Task{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.Task{}, err
	}
	return persistence.Task{
		ID:             r.ID,
		Kind:           r.Kind,
		MeetingID:      r.MeetingID,
		Payload:        []byte(r.Payload),
		IdempotencyKey: r.IdempotencyKey.String,
		Status:         persistence.TaskStatus(r.Status),
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		NextAttemptAt:  next,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// EnqueueTask inserts a task unless its idempotency key is already queued.
func (s *Store) EnqueueTask(ctx context.Context, task persistence.Task) (bool, error) {
	query := s.db.Rebind(`INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`)
	result, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Kind,
		task.MeetingID,
		string(task.Payload),
		nullIfEmpty(task.IdempotencyKey),
		string(task.Status),
		task.Attempts,
		task.LastError,
		formatTime(task.NextAttemptAt),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("sqlstore: enqueue task %s: %w", task.ID, s.mapper.MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimDueTasks leases due tasks one row at a time with a guarded update, so
// two dispatchers racing for the same row cannot both win it.
func (s *Store) ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]persistence.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	nowText := formatTime(now)

	var candidates []taskRow
	query := s.db.Rebind(`SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN (?, ?) AND next_attempt_at <= ?
		ORDER BY next_attempt_at, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &candidates, query,
		string(persistence.TaskPending), string(persistence.TaskRunning), nowText, limit); err != nil {
		return nil, fmt.Errorf("sqlstore: select due tasks: %w", s.mapper.MapError(err))
	}

	claim := s.db.Rebind(`UPDATE tasks SET status = ?, attempts = attempts + 1, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?) AND next_attempt_at <= ?`)
	leaseUntil := formatTime(now.Add(lease))

	claimed := make([]persistence.Task, 0, len(candidates))
	for _, row := range candidates {
		result, err := s.db.ExecContext(ctx, claim,
			string(persistence.TaskRunning), leaseUntil, nowText,
			row.ID, string(persistence.TaskPending), string(persistence.TaskRunning), nowText)
		if err != nil {
			return claimed, fmt.Errorf("sqlstore: claim task %s: %w", row.ID, s.mapper.MapError(err))
		}
		n, err := rowsAffected(result)
		if err != nil {
			return claimed, err
		}
		if n == 0 {
			continue
		}
		task, err := row.toTask()
		if err != nil {
			return claimed, err
		}
		task.Status = persistence.TaskRunning
		task.Attempts++
		task.NextAttemptAt = now.Add(lease)
		task.UpdatedAt = now
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// CompleteTask marks a task delivered.
func (s *Store) CompleteTask(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE tasks SET status = ?, last_error = '', updated_at = ? WHERE id = ?`),
		string(persistence.TaskCompleted), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("sqlstore: complete task %s: %w", id, s.mapper.MapError(err))
	}
	return requireRow(result)
}

// FailTask records a failed attempt and schedules the next one.
func (s *Store) FailTask(ctx context.Context, id, lastError string, nextAttemptAt time.Time, dead bool, at time.Time) error {
	status := persistence.TaskPending
	if dead {
		status = persistence.TaskDead
	}
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE tasks SET status = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`),
		string(status), lastError, formatTime(nextAttemptAt), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("sqlstore: fail task %s: %w", id, s.mapper.MapError(err))
	}
	return requireRow(result)
}

// UpsertCalendarFeed stores or replaces a person's feed.
func (s *Store) UpsertCalendarFeed(ctx context.Context, feed persistence.CalendarFeed) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO calendar_feeds (person_id, url, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (person_id) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at`),
		feed.PersonID, feed.URL, formatTime(feed.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: upsert calendar feed %s: %w", feed.PersonID, s.mapper.MapError(err))
	}
	return nil
}

// GetCalendarFeed returns a person's feed.
func (s *Store) GetCalendarFeed(ctx context.Context, personID string) (persistence.CalendarFeed, error) {
	var row struct {
		PersonID  string `db:"person_id"`
		URL       string `db:"url"`
		UpdatedAt string `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT person_id, url, updated_at FROM calendar_feeds WHERE person_id = ?`), personID)
	if err != nil {
		return persistence.CalendarFeed{}, s.mapper.MapError(err)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return persistence.CalendarFeed{}, err
	}
	return persistence.CalendarFeed{PersonID: row.PersonID, URL: row.URL, UpdatedAt: updatedAt}, nil
}

func requireRow(result sql.Result) error {
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
