package signatures

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	_ "github.com/mattn/go-sqlite3"
)

type SignatureRepository interface {
	// GetByChecksum retrieves a SignatureRecord by the checksum of its signature
	GetByChecksum(ctx context.Context, checksum string) (*SignatureRecord, error)
	// GetByMember retrieves the SignatureRecords of a signer, newest first
	GetByMember(ctx context.Context, memberID string) ([]*SignatureRecord, error)
	// Create adds a new SignatureRecord
	Create(ctx context.Context, record *SignatureRecord) error
	// IncrementVerifications adds one to the verification counter
	IncrementVerifications(ctx context.Context, id string, now time.Time) error
}

// SQLiteSignatureRepository implements SignatureRepository using SQLite
type SQLiteSignatureRepository struct {
	db *sql.DB
}

// NewSQLiteSignatureRepository creates a new SQLite-based SignatureRepository
func NewSQLiteSignatureRepository(db *sql.DB) (*SQLiteSignatureRepository, error) {
	repo := &SQLiteSignatureRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist.
// Signatures outlive their signer, so member_id carries no foreign key.
func (r *SQLiteSignatureRepository) createTables() error {
	createSignaturesTable := `
	CREATE TABLE IF NOT EXISTS signatures (
		id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL UNIQUE,
		member_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		expires TEXT,
		verifications INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signatures_member ON signatures(member_id);`

	_, err := r.db.Exec(createSignaturesTable)
	return err
}

const signatureColumns = `id, checksum, member_id, public_key, algorithm, expires, verifications, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignature(row rowScanner) (*SignatureRecord, error) {
	record := &SignatureRecord{}
	var expires sql.NullString
	var createdAtStr, updatedAtStr string
	err := row.Scan(
		&record.ID, &record.Checksum, &record.MemberID, &record.PublicKey, &record.Algorithm,
		&expires, &record.Verifications, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if record.Expires, err = db.NullToTimePtr(expires); err != nil {
		return nil, fmt.Errorf("failed to parse expires timestamp: %w", err)
	}
	if record.CreatedAt, err = db.StringToTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if record.UpdatedAt, err = db.StringToTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return record, nil
}

// GetByChecksum retrieves a SignatureRecord by the checksum of its signature
func (r *SQLiteSignatureRepository) GetByChecksum(ctx context.Context, checksum string) (*SignatureRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE checksum = ?`, checksum)

	record, err := scanSignature(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get signature: %w", err)
	}
	return record, nil
}

// GetByMember retrieves the SignatureRecords of a signer, newest first
func (r *SQLiteSignatureRepository) GetByMember(ctx context.Context, memberID string) ([]*SignatureRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+signatureColumns+` FROM signatures WHERE member_id = ? ORDER BY created_at DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signatures: %w", err)
	}
	defer rows.Close()

	var records []*SignatureRecord
	for rows.Next() {
		record, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Create adds a new SignatureRecord
func (r *SQLiteSignatureRepository) Create(ctx context.Context, record *SignatureRecord) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO signatures (`+signatureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Checksum, record.MemberID, record.PublicKey, record.Algorithm,
		db.TimePtrToNull(record.Expires), record.Verifications,
		db.TimeToString(record.CreatedAt), db.TimeToString(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create signature: %w", err)
	}
	return nil
}

// IncrementVerifications adds one to the verification counter
func (r *SQLiteSignatureRepository) IncrementVerifications(ctx context.Context, id string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
	UPDATE signatures SET verifications = verifications + 1, updated_at = ? WHERE id = ?`,
		db.TimeToString(now), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update signature: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("signature with ID %s not found", id)
	}
	return nil
}
