package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/coaching-scheduler/internal/persistence"
)

const participantColumns = `meeting_id, person_id, role, rsvp_status, payment_status, payment_record_id, created_at, updated_at`

type participantRow struct {
	MeetingID       string         `db:"meeting_id"`
	PersonID        string         `db:"person_id"`
	Role            string         `db:"role"`
	RSVPStatus      string         `db:"rsvp_status"`
	PaymentStatus   string         `db:"payment_status"`
	PaymentRecordID sql.NullString `db:"payment_record_id"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

func (r participantRow) toParticipant() (persistence.Participant, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.Participant{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.Participant{}, err
	}
	return persistence.Participant{
		MeetingID:       r.MeetingID,
		PersonID:        r.PersonID,
		Role:            persistence.ParticipantRole(r.Role),
		RSVP:            persistence.RSVPStatus(r.RSVPStatus),
		Payment:         persistence.PaymentStatus(r.PaymentStatus),
		PaymentRecordID: stringPtr(r.PaymentRecordID),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func participantArgs(p persistence.Participant) []any {
	return []any{
		p.MeetingID,
		p.PersonID,
		string(p.Role),
		string(p.RSVP),
		string(p.Payment),
		nullString(p.PaymentRecordID),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	}
}

// InsertParticipants writes every participant in one transaction.
func (s *Store) InsertParticipants(ctx context.Context, participants []persistence.Participant) error {
	query := `INSERT INTO participants (` + participantColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, p := range participants {
			if _, err := tx.ExecContext(ctx, tx.Rebind(query), participantArgs(p)...); err != nil {
				return fmt.Errorf("sqlstore: insert participant %s: %w", p.PersonID, s.mapper.MapError(err))
			}
		}
		return nil
	})
}

// InsertParticipantIfAbsent inserts the row unless (meeting, person) already exists.
func (s *Store) InsertParticipantIfAbsent(ctx context.Context, participant persistence.Participant) (bool, error) {
	query := s.db.Rebind(`INSERT INTO participants (` + participantColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (meeting_id, person_id) DO NOTHING`)
	result, err := s.db.ExecContext(ctx, query, participantArgs(participant)...)
	if err != nil {
		return false, fmt.Errorf("sqlstore: upsert participant %s: %w", participant.PersonID, s.mapper.MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetParticipant loads one participant.
func (s *Store) GetParticipant(ctx context.Context, meetingID, personID string) (persistence.Participant, error) {
	var row participantRow
	query := s.db.Rebind(`SELECT ` + participantColumns + ` FROM participants WHERE meeting_id = ? AND person_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, meetingID, personID); err != nil {
		return persistence.Participant{}, s.mapper.MapError(err)
	}
	return row.toParticipant()
}

// ListParticipants returns a meeting's participants, host first.
func (s *Store) ListParticipants(ctx context.Context, meetingID string) ([]persistence.Participant, error) {
	var rows []participantRow
	query := s.db.Rebind(`SELECT ` + participantColumns + ` FROM participants WHERE meeting_id = ?
		ORDER BY CASE WHEN role = 'coach' THEN 0 ELSE 1 END, created_at, person_id`)
	if err := s.db.SelectContext(ctx, &rows, query, meetingID); err != nil {
		return nil, fmt.Errorf("sqlstore: list participants of %s: %w", meetingID, s.mapper.MapError(err))
	}
	participants := make([]persistence.Participant, 0, len(rows))
	for _, row := range rows {
		p, err := row.toParticipant()
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// UpdateRSVP is a compare-and-set on a participant's RSVP.
func (s *Store) UpdateRSVP(ctx context.Context, meetingID, personID string, from, to persistence.RSVPStatus, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE participants SET rsvp_status = ?, updated_at = ? WHERE meeting_id = ? AND person_id = ? AND rsvp_status = ?`),
		string(to), formatTime(updatedAt), meetingID, personID, string(from))
	if err != nil {
		return fmt.Errorf("sqlstore: update rsvp %s/%s: %w", meetingID, personID, s.mapper.MapError(err))
	}
	return s.participantGuardResult(ctx, result, meetingID, personID)
}

// UpdatePayment overwrites a participant's payment fields.
func (s *Store) UpdatePayment(ctx context.Context, meetingID, personID string, status persistence.PaymentStatus, recordID *string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE participants SET payment_status = ?, payment_record_id = ?, updated_at = ? WHERE meeting_id = ? AND person_id = ?`),
		string(status), nullString(recordID), formatTime(updatedAt), meetingID, personID)
	if err != nil {
		return fmt.Errorf("sqlstore: update payment %s/%s: %w", meetingID, personID, s.mapper.MapError(err))
	}
	return s.participantGuardResult(ctx, result, meetingID, personID)
}

// DeleteParticipant removes a participant while its RSVP equals rsvp.
func (s *Store) DeleteParticipant(ctx context.Context, meetingID, personID string, rsvp persistence.RSVPStatus) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM participants WHERE meeting_id = ? AND person_id = ? AND rsvp_status = ?`),
		meetingID, personID, string(rsvp))
	if err != nil {
		return fmt.Errorf("sqlstore: delete participant %s/%s: %w", meetingID, personID, s.mapper.MapError(err))
	}
	return s.participantGuardResult(ctx, result, meetingID, personID)
}

func (s *Store) participantGuardResult(ctx context.Context, result sql.Result, meetingID, personID string) error {
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var rsvp string
	err = s.db.GetContext(ctx, &rsvp,
		s.db.Rebind(`SELECT rsvp_status FROM participants WHERE meeting_id = ? AND person_id = ?`), meetingID, personID)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return s.mapper.MapError(err)
	}
	return fmt.Errorf("sqlstore: participant %s is %s: %w", personID, rsvp, persistence.ErrStaleState)
}
