package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/coaching-scheduler/internal/persistence"
)

type creditTransactionRow struct {
	ID             string         `db:"id"`
	CoachID        string         `db:"coach_id"`
	ClientID       string         `db:"client_id"`
	Delta          int            `db:"delta"`
	MeetingID      string         `db:"meeting_id"`
	Reason         string         `db:"reason"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      string         `db:"created_at"`
}

// GetBalance returns the balance of a (coach, client) pair, zero when unknown.
func (s *Store) GetBalance(ctx context.Context, coachID, clientID string) (int, error) {
	var balance int
	err := s.db.GetContext(ctx, &balance,
		s.db.Rebind(`SELECT balance FROM credit_balances WHERE coach_id = ? AND client_id = ?`), coachID, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: get balance: %w", s.mapper.MapError(err))
	}
	return balance, nil
}

// ApplyCreditTransaction records tx and moves the balance in one transaction.
// Debits use a guarded decrement so concurrent bookings cannot overspend.
func (s *Store) ApplyCreditTransaction(ctx context.Context, ctr persistence.CreditTransaction) (int, error) {
	var balance int
	err := s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO credit_transactions (id, coach_id, client_id, delta, meeting_id, reason, idempotency_key, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			ctr.ID, ctr.CoachID, ctr.ClientID, ctr.Delta, ctr.MeetingID, ctr.Reason, nullIfEmpty(ctr.IdempotencyKey), formatTime(ctr.CreatedAt))
		if err != nil {
			return s.mapper.MapError(err)
		}

		if ctr.Delta >= 0 {
			_, err = tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO credit_balances (coach_id, client_id, balance) VALUES (?, ?, ?)
					ON CONFLICT (coach_id, client_id) DO UPDATE SET balance = credit_balances.balance + excluded.balance`),
				ctr.CoachID, ctr.ClientID, ctr.Delta)
			if err != nil {
				return s.mapper.MapError(err)
			}
		} else {
			result, err := tx.ExecContext(ctx,
				tx.Rebind(`UPDATE credit_balances SET balance = balance + ? WHERE coach_id = ? AND client_id = ? AND balance + ? >= 0`),
				ctr.Delta, ctr.CoachID, ctr.ClientID, ctr.Delta)
			if err != nil {
				return s.mapper.MapError(err)
			}
			n, err := rowsAffected(result)
			if err != nil {
				return err
			}
			if n == 0 {
				return persistence.ErrInsufficientBalance
			}
		}

		return tx.GetContext(ctx, &balance,
			tx.Rebind(`SELECT balance FROM credit_balances WHERE coach_id = ? AND client_id = ?`), ctr.CoachID, ctr.ClientID)
	})
	if err != nil {
		return 0, fmt.Errorf("sqlstore: apply credit transaction %s: %w", ctr.ID, err)
	}
	return balance, nil
}

// ListCreditTransactions returns matching history entries, oldest first.
func (s *Store) ListCreditTransactions(ctx context.Context, filter persistence.CreditTransactionFilter) ([]persistence.CreditTransaction, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.CoachID != "" {
		clauses = append(clauses, "coach_id = ?")
		args = append(args, filter.CoachID)
	}
	if filter.ClientID != "" {
		clauses = append(clauses, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.MeetingID != "" {
		clauses = append(clauses, "meeting_id = ?")
		args = append(args, filter.MeetingID)
	}
	query := `SELECT id, coach_id, client_id, delta, meeting_id, reason, idempotency_key, created_at FROM credit_transactions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	var rows []creditTransactionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list credit transactions: %w", s.mapper.MapError(err))
	}
	out := make([]persistence.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, persistence.CreditTransaction{
			ID:             row.ID,
			CoachID:        row.CoachID,
			ClientID:       row.ClientID,
			Delta:          row.Delta,
			MeetingID:      row.MeetingID,
			Reason:         row.Reason,
			IdempotencyKey: row.IdempotencyKey.String,
			CreatedAt:      createdAt,
		})
	}
	return out, nil
}
