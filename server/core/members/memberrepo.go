package members

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	_ "github.com/mattn/go-sqlite3"
)

type MemberRepository interface {
	// GetByID retrieves a Member by its ID
	GetByID(ctx context.Context, id string) (*Member, error)
	// GetByAccountName retrieves a Member by its account name
	GetByAccountName(ctx context.Context, accountName string) (*Member, error)
	// GetBySessionChecksum retrieves the Member owning a session
	GetBySessionChecksum(ctx context.Context, checksum string) (*Member, error)
	// GetAll retrieves all Members
	GetAll(ctx context.Context) ([]*Member, error)
	// Count returns the number of Members
	Count(ctx context.Context) (int, error)
	// Create adds a new Member to the repository
	Create(ctx context.Context, member *Member) error
	// Update modifies an existing Member in the repository
	Update(ctx context.Context, member *Member) error
	// UpdateWith modifies a Member and runs fn inside the same transaction
	UpdateWith(ctx context.Context, member *Member, fn func(ctx context.Context, tx *sql.Tx) error) error
	// Delete removes a Member from the repository
	Delete(ctx context.Context, id string) error
}

// SQLiteMemberRepository implements MemberRepository using SQLite
type SQLiteMemberRepository struct {
	db *sql.DB
}

// NewSQLiteMemberRepository creates a new SQLite-based MemberRepository
func NewSQLiteMemberRepository(db *sql.DB) (*SQLiteMemberRepository, error) {
	repo := &SQLiteMemberRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteMemberRepository) createTables() error {
	createMembersTable := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		account_name TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		public_key TEXT NOT NULL,
		private_key TEXT NOT NULL,
		escrowed_salt TEXT NOT NULL,
		session_checksum TEXT,
		session_crypto TEXT,
		session_expires TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_members_session ON members(session_checksum);`

	_, err := r.db.Exec(createMembersTable)
	return err
}

const memberColumns = `id, account_name, role, public_key, private_key, escrowed_salt,
	session_checksum, session_crypto, session_expires, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*Member, error) {
	member := &Member{}
	var role, createdAtStr, updatedAtStr string
	var checksum, crypto, expires sql.NullString
	err := row.Scan(
		&member.ID, &member.AccountName, &role, &member.PublicKey, &member.PrivateKey, &member.EscrowedSalt,
		&checksum, &crypto, &expires, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	member.Role = Role(role)
	member.SessionChecksum = checksum.String
	member.SessionCrypto = crypto.String
	if member.SessionExpires, err = db.NullToTimePtr(expires); err != nil {
		return nil, fmt.Errorf("failed to parse session_expires timestamp: %w", err)
	}
	if member.CreatedAt, err = db.StringToTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if member.UpdatedAt, err = db.StringToTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}

	return member, nil
}

func (r *SQLiteMemberRepository) getOne(ctx context.Context, where string, arg any) (*Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE `+where, arg)

	member, err := scanMember(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// GetByID retrieves a Member by its ID
func (r *SQLiteMemberRepository) GetByID(ctx context.Context, id string) (*Member, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByAccountName retrieves a Member by its account name
func (r *SQLiteMemberRepository) GetByAccountName(ctx context.Context, accountName string) (*Member, error) {
	return r.getOne(ctx, "account_name = ?", accountName)
}

// GetBySessionChecksum retrieves the Member owning a session
func (r *SQLiteMemberRepository) GetBySessionChecksum(ctx context.Context, checksum string) (*Member, error) {
	return r.getOne(ctx, "session_checksum = ?", checksum)
}

// GetAll retrieves all Members
func (r *SQLiteMemberRepository) GetAll(ctx context.Context) ([]*Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY account_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// Count returns the number of Members
func (r *SQLiteMemberRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// Create adds a new Member to the repository
func (r *SQLiteMemberRepository) Create(ctx context.Context, member *Member) error {
	query := `
	INSERT INTO members (` + memberColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		member.ID, member.AccountName, string(member.Role), member.PublicKey, member.PrivateKey, member.EscrowedSalt,
		nullString(member.SessionChecksum), nullString(member.SessionCrypto), db.TimePtrToNull(member.SessionExpires),
		db.TimeToString(member.CreatedAt), db.TimeToString(member.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateMember(ctx context.Context, exec execer, member *Member) error {
	query := `
	UPDATE members
	SET role = ?, public_key = ?, private_key = ?, escrowed_salt = ?,
		session_checksum = ?, session_crypto = ?, session_expires = ?, updated_at = ?
	WHERE id = ?`

	result, err := exec.ExecContext(ctx, query,
		string(member.Role), member.PublicKey, member.PrivateKey, member.EscrowedSalt,
		nullString(member.SessionChecksum), nullString(member.SessionCrypto), db.TimePtrToNull(member.SessionExpires),
		db.TimeToString(member.UpdatedAt),
		member.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("member with ID %s not found", member.ID)
	}

	return nil
}

// Update modifies an existing Member in the repository
func (r *SQLiteMemberRepository) Update(ctx context.Context, member *Member) error {
	return updateMember(ctx, r.db, member)
}

// UpdateWith modifies a Member and runs fn inside the same transaction
func (r *SQLiteMemberRepository) UpdateWith(ctx context.Context, member *Member, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := updateMember(ctx, tx, member); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// Delete removes a Member from the repository
func (r *SQLiteMemberRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("member with ID %s not found", id)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
