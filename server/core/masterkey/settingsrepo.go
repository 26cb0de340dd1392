package masterkey

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	_ "github.com/mattn/go-sqlite3"
)

// SettingBootstrapURL holds the URL the master key secret was last fetched from
const SettingBootstrapURL = "master.url"

type SettingsRepository interface {
	// Get returns the value of a setting and whether it exists
	Get(ctx context.Context, name string) (string, bool, error)
	// Set creates or replaces a setting
	Set(ctx context.Context, name, value string) error
	// Delete removes a setting. Removing a missing setting is not an error.
	Delete(ctx context.Context, name string) error
}

// SQLiteSettingsRepository implements SettingsRepository using SQLite
type SQLiteSettingsRepository struct {
	db *sql.DB
}

// NewSQLiteSettingsRepository creates a new SQLite-based SettingsRepository
func NewSQLiteSettingsRepository(db *sql.DB) (*SQLiteSettingsRepository, error) {
	repo := &SQLiteSettingsRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteSettingsRepository) createTables() error {
	createSettingsTable := `
	CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	_, err := r.db.Exec(createSettingsTable)
	return err
}

// Get returns the value of a setting and whether it exists
func (r *SQLiteSettingsRepository) Get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting %s: %w", name, err)
	}
	return value, true, nil
}

// Set creates or replaces a setting
func (r *SQLiteSettingsRepository) Set(ctx context.Context, name, value string) error {
	query := `
	INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, name, value, db.TimeToString(time.Now())); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", name, err)
	}
	return nil
}

// Delete removes a setting
func (r *SQLiteSettingsRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", name, err)
	}
	return nil
}
