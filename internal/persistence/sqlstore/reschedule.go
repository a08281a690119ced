package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/coaching-scheduler/internal/persistence"
)

const rescheduleColumns = `id, meeting_id, requester_id, original_start, original_end, proposed_start, proposed_end,
	status, reason, created_at, resolved_by, resolved_at`

type rescheduleRow struct {
	ID            string         `db:"id"`
	MeetingID     string         `db:"meeting_id"`
	RequesterID   string         `db:"requester_id"`
	OriginalStart string         `db:"original_start"`
	OriginalEnd   string         `db:"original_end"`
	ProposedStart string         `db:"proposed_start"`
	ProposedEnd   string         `db:"proposed_end"`
	Status        string         `db:"status"`
	Reason        string         `db:"reason"`
	CreatedAt     string         `db:"created_at"`
	ResolvedBy    string         `db:"resolved_by"`
	ResolvedAt    sql.NullString `db:"resolved_at"`
}

func (r rescheduleRow) toRequest() (persistence.RescheduleRequest, error) {
	var (
		times [5]time.Time
		err   error
	)
	for i, value := range []string{r.OriginalStart, r.OriginalEnd, r.ProposedStart, r.ProposedEnd, r.CreatedAt} {
		if times[i], err = parseTime(value); err != nil {
			return persistence.RescheduleRequest{}, err
		}
	}
	resolvedAt, err := parseNullTime(r.ResolvedAt)
	if err != nil {
		return persistence.RescheduleRequest{}, err
	}
	return persistence.RescheduleRequest{
		ID:            r.ID,
		MeetingID:     r.MeetingID,
		RequesterID:   r.RequesterID,
		OriginalStart: times[0],
		OriginalEnd:   times[1],
		ProposedStart: times[2],
		ProposedEnd:   times[3],
		Status:        persistence.RescheduleStatus(r.Status),
		Reason:        r.Reason,
		CreatedAt:     times[4],
		ResolvedBy:    r.ResolvedBy,
		ResolvedAt:    resolvedAt,
	}, nil
}

// CreateRescheduleRequest inserts a request. The partial unique index on
// pending requests turns a concurrent second proposal into ErrDuplicate.
func (s *Store) CreateRescheduleRequest(ctx context.Context, request persistence.RescheduleRequest) error {
	var resolvedAt sql.NullString
	if request.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: formatTime(*request.ResolvedAt), Valid: true}
	}
	query := s.db.Rebind(`INSERT INTO reschedule_requests (` + rescheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		request.ID,
		request.MeetingID,
		request.RequesterID,
		formatTime(request.OriginalStart),
		formatTime(request.OriginalEnd),
		formatTime(request.ProposedStart),
		formatTime(request.ProposedEnd),
		string(request.Status),
		request.Reason,
		formatTime(request.CreatedAt),
		request.ResolvedBy,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create reschedule request %s: %w", request.ID, s.mapper.MapError(err))
	}
	return nil
}

// GetRescheduleRequest loads one request.
func (s *Store) GetRescheduleRequest(ctx context.Context, id string) (persistence.RescheduleRequest, error) {
	var row rescheduleRow
	query := s.db.Rebind(`SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.RescheduleRequest{}, s.mapper.MapError(err)
	}
	return row.toRequest()
}

// ListRescheduleRequests returns a meeting's requests, oldest first.
func (s *Store) ListRescheduleRequests(ctx context.Context, meetingID string) ([]persistence.RescheduleRequest, error) {
	var rows []rescheduleRow
	query := s.db.Rebind(`SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE meeting_id = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &rows, query, meetingID); err != nil {
		return nil, fmt.Errorf("sqlstore: list reschedule requests of %s: %w", meetingID, s.mapper.MapError(err))
	}
	requests := make([]persistence.RescheduleRequest, 0, len(rows))
	for _, row := range rows {
		request, err := row.toRequest()
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// ResolveRescheduleRequest moves a pending request to status.
func (s *Store) ResolveRescheduleRequest(ctx context.Context, id string, status persistence.RescheduleStatus, resolvedBy string, resolvedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE reschedule_requests SET status = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND status = ?`),
		string(status), resolvedBy, formatTime(resolvedAt), id, string(persistence.ReschedulePending))
	if err != nil {
		return fmt.Errorf("sqlstore: resolve reschedule request %s: %w", id, s.mapper.MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, s.db.Rebind(`SELECT status FROM reschedule_requests WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return s.mapper.MapError(err)
	}
	return fmt.Errorf("sqlstore: reschedule request %s is %s: %w", id, current, persistence.ErrStaleState)
}

// DeletePendingRescheduleRequests drops every pending request of a meeting.
func (s *Store) DeletePendingRescheduleRequests(ctx context.Context, meetingID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM reschedule_requests WHERE meeting_id = ? AND status = ?`),
		meetingID, string(persistence.ReschedulePending))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete pending requests of %s: %w", meetingID, s.mapper.MapError(err))
	}
	n, err := rowsAffected(result)
	return int(n), err
}
