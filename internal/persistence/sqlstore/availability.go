package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/coaching-scheduler/internal/persistence"
)

const availabilityColumns = `id, coach_id, weekday, start_minute, end_minute, scope, scope_year, scope_month, timezone, created_at`

type availabilityRow struct {
	ID          string `db:"id"`
	CoachID     string `db:"coach_id"`
	Weekday     int    `db:"weekday"`
	StartMinute int    `db:"start_minute"`
	EndMinute   int    `db:"end_minute"`
	Scope       string `db:"scope"`
	ScopeYear   int    `db:"scope_year"`
	ScopeMonth  int    `db:"scope_month"`
	Timezone    string `db:"timezone"`
	CreatedAt   string `db:"created_at"`
}

// ListAvailabilityRules returns a coach's rows ordered by group then weekday.
func (s *Store) ListAvailabilityRules(ctx context.Context, coachID string) ([]persistence.AvailabilityRule, error) {
	var rows []availabilityRow
	query := s.db.Rebind(`SELECT ` + availabilityColumns + ` FROM availability_rules WHERE coach_id = ?
		ORDER BY start_minute, end_minute, weekday, id`)
	if err := s.db.SelectContext(ctx, &rows, query, coachID); err != nil {
		return nil, fmt.Errorf("sqlstore: list availability of %s: %w", coachID, s.mapper.MapError(err))
	}

	rules := make([]persistence.AvailabilityRule, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTime(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		rules = append(rules, persistence.AvailabilityRule{
			ID:          row.ID,
			CoachID:     row.CoachID,
			Weekday:     time.Weekday(row.Weekday),
			StartMinute: row.StartMinute,
			EndMinute:   row.EndMinute,
			Scope:       persistence.AvailabilityScope(row.Scope),
			Year:        row.ScopeYear,
			Month:       time.Month(row.ScopeMonth),
			Timezone:    row.Timezone,
			CreatedAt:   createdAt,
		})
	}
	return rules, nil
}

// ReplaceAvailabilityGroup deletes the affected groups and inserts rules in one transaction.
func (s *Store) ReplaceAvailabilityGroup(ctx context.Context, coachID string, previous *persistence.RuleGroupKey, rules []persistence.AvailabilityRule) error {
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if previous != nil {
			if _, err := deleteGroup(ctx, tx, coachID, *previous); err != nil {
				return s.mapper.MapError(err)
			}
		}
		for _, rule := range rules {
			if _, err := deleteGroup(ctx, tx, coachID, rule.GroupKey()); err != nil {
				return s.mapper.MapError(err)
			}
		}

		insert := tx.Rebind(`INSERT INTO availability_rules (` + availabilityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, rule := range rules {
			_, err := tx.ExecContext(ctx, insert,
				rule.ID,
				coachID,
				int(rule.Weekday),
				rule.StartMinute,
				rule.EndMinute,
				string(rule.Scope),
				rule.Year,
				int(rule.Month),
				rule.Timezone,
				formatTime(rule.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("sqlstore: insert availability rule %s: %w", rule.ID, s.mapper.MapError(err))
			}
		}
		return nil
	})
}

// DeleteAvailabilityGroup removes every row of a rule group.
func (s *Store) DeleteAvailabilityGroup(ctx context.Context, coachID string, key persistence.RuleGroupKey) (int, error) {
	var removed int64
	err := s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		n, err := deleteGroup(ctx, tx, coachID, key)
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete availability group: %w", s.mapper.MapError(err))
	}
	return int(removed), nil
}

func deleteGroup(ctx context.Context, tx *sqlx.Tx, coachID string, key persistence.RuleGroupKey) (int64, error) {
	result, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM availability_rules WHERE coach_id = ? AND start_minute = ? AND end_minute = ? AND scope = ? AND scope_year = ? AND scope_month = ?`),
		coachID, key.StartMinute, key.EndMinute, string(key.Scope), key.Year, int(key.Month))
	if err != nil {
		return 0, err
	}
	return rowsAffected(result)
}
