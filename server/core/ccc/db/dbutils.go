package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// TimeToString converts a time.Time to RFC3339Nano string for database storage
func TimeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StringToTime converts an RFC3339Nano string from database to time.Time
func StringToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// TimePtrToNull converts an optional timestamp for storage in a nullable TEXT column
func TimePtrToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: TimeToString(*t), Valid: true}
}

// NullToTimePtr converts a nullable TEXT column back to an optional timestamp
func NullToTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := StringToTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DurationPtrToNull stores an optional duration as whole seconds
func DurationPtrToNull(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(d.Seconds()), Valid: true}
}

// NullToDurationPtr converts a nullable seconds column back to an optional duration
func NullToDurationPtr(n sql.NullInt64) *time.Duration {
	if !n.Valid {
		return nil
	}
	d := time.Duration(n.Int64) * time.Second
	return &d
}

// IsUniqueViolation reports whether err stems from a UNIQUE or PRIMARY KEY constraint
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// RunInTx executes fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func RunInTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// OpenSQLite opens the database file with the pragmas the server runs with
func OpenSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	return conn, nil
}

// NewInMemoryDB creates a new in-memory SQLite database for testing.
// It is pinned to a single connection since every connection to ":memory:" sees its own database.
func NewInMemoryDB() (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}
