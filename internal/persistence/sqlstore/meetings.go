package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/coaching-scheduler/internal/persistence"
)

const meetingColumns = `id, coach_id, title, start_at, end_at, meeting_type, status, is_free, price, currency,
	activity_id, enrollment_id, max_participants, video_link, cancelled_by, cancellation_reason, cancelled_at,
	created_at, updated_at`

type meetingRow struct {
	ID                 string         `db:"id"`
	CoachID            string         `db:"coach_id"`
	Title              string         `db:"title"`
	StartAt            string         `db:"start_at"`
	EndAt              string         `db:"end_at"`
	MeetingType        string         `db:"meeting_type"`
	Status             string         `db:"status"`
	IsFree             bool           `db:"is_free"`
	Price              int64          `db:"price"`
	Currency           string         `db:"currency"`
	ActivityID         sql.NullString `db:"activity_id"`
	EnrollmentID       sql.NullString `db:"enrollment_id"`
	MaxParticipants    int            `db:"max_participants"`
	VideoLink          sql.NullString `db:"video_link"`
	CancelledBy        sql.NullString `db:"cancelled_by"`
	CancellationReason sql.NullString `db:"cancellation_reason"`
	CancelledAt        sql.NullString `db:"cancelled_at"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

func (r meetingRow) toMeeting() (persistence.Meeting, error) {
	start, err := parseTime(r.StartAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	end, err := parseTime(r.EndAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.Meeting{}, err
	}

	meeting := persistence.Meeting{
		ID:      r.ID,
		CoachID: r.CoachID,
		Title:   r.Title,
		Start:   start,
		End:     end,
		Type:    persistence.MeetingType(r.MeetingType),
		Status:  persistence.MeetingStatus(r.Status),
		Pricing: persistence.Pricing{IsFree: r.IsFree, Price: r.Price, Currency: r.Currency},
		Relations: persistence.Relations{
			ActivityID:      stringPtr(r.ActivityID),
			EnrollmentID:    stringPtr(r.EnrollmentID),
			MaxParticipants: r.MaxParticipants,
		},
		VideoLink: stringPtr(r.VideoLink),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	cancelledAt, err := parseNullTime(r.CancelledAt)
	if err != nil {
		return persistence.Meeting{}, err
	}
	if cancelledAt != nil {
		meeting.Cancellation = &persistence.Cancellation{
			ActorID: r.CancelledBy.String,
			Reason:  r.CancellationReason.String,
			At:      *cancelledAt,
		}
	}
	return meeting, nil
}

// CreateMeeting inserts the meeting row.
func (s *Store) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	query := s.db.Rebind(`INSERT INTO meetings (` + meetingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var cancelledBy, reason, cancelledAt sql.NullString
	if c := meeting.Cancellation; c != nil {
		cancelledBy = nullIfEmpty(c.ActorID)
		reason = sql.NullString{String: c.Reason, Valid: true}
		cancelledAt = sql.NullString{String: formatTime(c.At), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		meeting.ID,
		meeting.CoachID,
		meeting.Title,
		formatTime(meeting.Start),
		formatTime(meeting.End),
		string(meeting.Type),
		string(meeting.Status),
		meeting.Pricing.IsFree,
		meeting.Pricing.Price,
		meeting.Pricing.Currency,
		nullString(meeting.Relations.ActivityID),
		nullString(meeting.Relations.EnrollmentID),
		meeting.Relations.MaxParticipants,
		nullString(meeting.VideoLink),
		cancelledBy,
		reason,
		cancelledAt,
		formatTime(meeting.CreatedAt),
		formatTime(meeting.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create meeting %s: %w", meeting.ID, s.mapper.MapError(err))
	}
	return nil
}

// GetMeeting loads one meeting.
func (s *Store) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	var row meetingRow
	query := s.db.Rebind(`SELECT ` + meetingColumns + ` FROM meetings WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.Meeting{}, s.mapper.MapError(err)
	}
	return row.toMeeting()
}

// ListMeetings returns meetings matching filter ordered by start then ID.
func (s *Store) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeCancelled {
		clauses = append(clauses, "m.status <> ?")
		args = append(args, string(persistence.MeetingStatusCancelled))
	}
	if filter.CoachID != "" {
		clauses = append(clauses, "m.coach_id = ?")
		args = append(args, filter.CoachID)
	}
	if filter.StartsAfter != nil {
		clauses = append(clauses, "m.end_at > ?")
		args = append(args, formatTime(*filter.StartsAfter))
	}
	if filter.EndsBefore != nil {
		clauses = append(clauses, "m.start_at < ?")
		args = append(args, formatTime(*filter.EndsBefore))
	}
	if filter.ParticipantID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM participants p WHERE p.meeting_id = m.id AND p.person_id = ?)")
		args = append(args, filter.ParticipantID)
	}

	query := `SELECT ` + prefixColumns("m.", meetingColumns) + ` FROM meetings m`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY m.start_at, m.id"

	var rows []meetingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list meetings: %w", s.mapper.MapError(err))
	}

	meetings := make([]persistence.Meeting, 0, len(rows))
	for _, row := range rows {
		meeting, err := row.toMeeting()
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, meeting)
	}
	return meetings, nil
}

// UpdateMeetingInterval moves a meeting when its status is one of from.
func (s *Store) UpdateMeetingInterval(ctx context.Context, id string, from []persistence.MeetingStatus, start, end time.Time, status persistence.MeetingStatus, updatedAt time.Time) error {
	return s.conditionalMeetingUpdate(ctx, id, from,
		`UPDATE meetings SET start_at = ?, end_at = ?, status = ?, updated_at = ? WHERE id = ?`,
		formatTime(start), formatTime(end), string(status), formatTime(updatedAt), id)
}

// TransitionMeetingStatus sets the status when the current one is in from.
func (s *Store) TransitionMeetingStatus(ctx context.Context, id string, from []persistence.MeetingStatus, to persistence.MeetingStatus, updatedAt time.Time) error {
	return s.conditionalMeetingUpdate(ctx, id, from,
		`UPDATE meetings SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), formatTime(updatedAt), id)
}

// CancelMeeting marks a meeting cancelled and records who did it.
func (s *Store) CancelMeeting(ctx context.Context, id string, from []persistence.MeetingStatus, cancellation persistence.Cancellation) error {
	at := formatTime(cancellation.At)
	return s.conditionalMeetingUpdate(ctx, id, from,
		`UPDATE meetings SET status = ?, cancelled_by = ?, cancellation_reason = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
		string(persistence.MeetingStatusCancelled), cancellation.ActorID, cancellation.Reason, at, at, id)
}

// conditionalMeetingUpdate appends a status guard to base and distinguishes a
// missing row from a row in the wrong state when nothing was updated.
func (s *Store) conditionalMeetingUpdate(ctx context.Context, id string, from []persistence.MeetingStatus, base string, args ...any) error {
	query := base
	if len(from) > 0 {
		statuses := make([]string, len(from))
		for i, status := range from {
			statuses[i] = string(status)
		}
		expanded, inArgs, err := sqlx.In(base+" AND status IN (?)", append(args, statuses)...)
		if err != nil {
			return fmt.Errorf("sqlstore: build meeting update: %w", err)
		}
		query, args = expanded, inArgs
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update meeting %s: %w", id, s.mapper.MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status, s.db.Rebind(`SELECT status FROM meetings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return s.mapper.MapError(err)
	}
	return fmt.Errorf("sqlstore: meeting %s is %s: %w", id, status, persistence.ErrStaleState)
}

// SetVideoLink attaches the conferencing link to a meeting.
func (s *Store) SetVideoLink(ctx context.Context, id, link string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE meetings SET video_link = ?, updated_at = ? WHERE id = ?`),
		link, formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("sqlstore: set video link %s: %w", id, s.mapper.MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// DeleteMeeting removes a meeting and everything attached to it.
func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM participants WHERE meeting_id = ?`), id); err != nil {
			return fmt.Errorf("sqlstore: delete participants of %s: %w", id, s.mapper.MapError(err))
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reschedule_requests WHERE meeting_id = ?`), id); err != nil {
			return fmt.Errorf("sqlstore: delete reschedule requests of %s: %w", id, s.mapper.MapError(err))
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM meetings WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("sqlstore: delete meeting %s: %w", id, s.mapper.MapError(err))
		}
		n, err := rowsAffected(result)
		if err != nil {
			return err
		}
		if n == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = prefix + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
