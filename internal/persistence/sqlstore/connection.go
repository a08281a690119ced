// Package sqlstore implements persistence.Store on top of sqlx. The same
// queries serve SQLite (modernc.org/sqlite) and Postgres (pgx stdlib); sqlx
// rebinds placeholders per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/example/coaching-scheduler/internal/persistence"
	"github.com/example/coaching-scheduler/internal/persistence/migrations"
)

// Driver selects the SQL engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// timeLayout is fixed width so lexical order matches chronological order on both engines.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQL backed persistence.Store.
type Store struct {
	db      *sqlx.DB
	dialect goose.Dialect
	mapper  *ErrorMapper
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database identified by driver and dsn.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		db, err := sqlx.ConnectContext(ctx, "sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("sqlstore: connect sqlite: %w", err)
		}
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
		return New(db, goose.DialectSQLite3), nil
	case DriverPostgres:
		db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: connect postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return New(db, goose.DialectPostgres), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// New wraps an existing connection.
func New(db *sqlx.DB, dialect goose.Dialect) *Store {
	return &Store{db: db, dialect: dialect, mapper: NewErrorMapper()}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// DB exposes the underlying connection.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(s.dialect, s.db.DB, migrations.FS)
	if err != nil {
		return fmt.Errorf("sqlstore: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// TransactionFunc represents a function that executes within a transaction.
type TransactionFunc func(tx *sqlx.Tx) error

// WithTransaction runs fn in a transaction, rolling back when fn fails or panics.
func (s *Store) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit transaction: %w", s.mapper.MapError(err))
	}
	return nil
}

// ErrorMapper maps driver errors to persistence errors.
type ErrorMapper struct{}

// NewErrorMapper creates a new error mapper.
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// MapError wraps driver specific failures with the matching persistence sentinel.
func (em *ErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", persistence.ErrDuplicate, pgErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", persistence.ErrForeignKeyViolation, pgErr.Message)
		case "23514", "23502":
			return fmt.Errorf("%w: %s", persistence.ErrConstraintViolation, pgErr.Message)
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "NOT NULL constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: parse time %q: %w", value, err)
	}
	return t, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	out := v.String
	return &out
}

func rowsAffected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	return n, nil
}
