package circles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/encryption"
	"github.com/HaugrNet/eds-sub006/server/core/trust"
	_ "github.com/mattn/go-sqlite3"
)

// Rotation is the outcome of a circle key rotation, persisted as one unit
type Rotation struct {
	Previous        *KeyGeneration // now deprecated, carrying its wrapped key
	Next            *KeyGeneration // the new active generation
	Trustees        []*Trustee     // every remaining trustee, re-wrapped for Next
	RemovedMemberID string         // trustee removed together with the rotation, if any
}

type CircleRepository interface {
	// GetCircle retrieves a Circle by its ID
	GetCircle(ctx context.Context, id string) (*Circle, error)
	// GetCircleByName retrieves a Circle by its name
	GetCircleByName(ctx context.Context, name string) (*Circle, error)
	// GetAllCircles retrieves all Circles
	GetAllCircles(ctx context.Context) ([]*Circle, error)
	// CreateCircle adds a Circle with its first generation and creator
	CreateCircle(ctx context.Context, circle *Circle, generation *KeyGeneration, creator *Trustee) error
	// DeleteCircle removes a Circle with its generations and trustees
	DeleteCircle(ctx context.Context, id string) error

	// GetGeneration retrieves a KeyGeneration by its ID
	GetGeneration(ctx context.Context, id string) (*KeyGeneration, error)
	// GetActiveGeneration retrieves the active KeyGeneration of a Circle
	GetActiveGeneration(ctx context.Context, circleID string) (*KeyGeneration, error)
	// GetGenerations retrieves every KeyGeneration of a Circle, newest first
	GetGenerations(ctx context.Context, circleID string) ([]*KeyGeneration, error)

	// GetTrustee retrieves the Trustee of a member in a Circle
	GetTrustee(ctx context.Context, circleID, memberID string) (*Trustee, error)
	// GetTrustees retrieves the Trustees of a Circle
	GetTrustees(ctx context.Context, circleID string) ([]*Trustee, error)
	// GetTrusteesByMember retrieves every Trustee record of a member
	GetTrusteesByMember(ctx context.Context, memberID string) ([]*Trustee, error)
	// CreateTrustee adds a Trustee
	CreateTrustee(ctx context.Context, trustee *Trustee) error
	// UpdateTrusteeLevel changes the trust level of a Trustee
	UpdateTrusteeLevel(ctx context.Context, trustee *Trustee) error
	// DeleteTrustee removes the Trustee of a member in a Circle
	DeleteTrustee(ctx context.Context, circleID, memberID string) error

	// Rotate persists a key rotation in one transaction
	Rotate(ctx context.Context, rotation *Rotation) error
	// UpdateEnvelopes replaces the envelopes of trustees inside tx
	UpdateEnvelopes(ctx context.Context, tx *sql.Tx, trustees []*Trustee) error
}

// SQLiteCircleRepository implements CircleRepository using SQLite
type SQLiteCircleRepository struct {
	db *sql.DB
}

// NewSQLiteCircleRepository creates a new SQLite-based CircleRepository.
// The members table must exist: trustees reference it.
func NewSQLiteCircleRepository(db *sql.DB) (*SQLiteCircleRepository, error) {
	repo := &SQLiteCircleRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteCircleRepository) createTables() error {
	createTables := `
	CREATE TABLE IF NOT EXISTS circles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		key_reference TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS key_generations (
		id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		algorithm TEXT NOT NULL,
		status TEXT NOT NULL,
		expires TEXT,
		grace_period INTEGER,
		wrapped_key TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (circle_id, number)
	);

	CREATE TABLE IF NOT EXISTS trustees (
		id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
		member_id TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		generation_id TEXT NOT NULL REFERENCES key_generations(id),
		trust_level TEXT NOT NULL,
		envelope TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (circle_id, member_id)
	);
	CREATE INDEX IF NOT EXISTS idx_trustees_member ON trustees(member_id);`

	_, err := r.db.Exec(createTables)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const circleColumns = `id, name, key_reference, created_at, updated_at`

func scanCircle(row rowScanner) (*Circle, error) {
	circle := &Circle{}
	var reference sql.NullString
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&circle.ID, &circle.Name, &reference, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	circle.KeyReference = reference.String
	var err error
	if circle.CreatedAt, err = db.StringToTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if circle.UpdatedAt, err = db.StringToTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return circle, nil
}

const generationColumns = `id, circle_id, number, algorithm, status, expires, grace_period, wrapped_key, created_at, updated_at`

func scanGeneration(row rowScanner) (*KeyGeneration, error) {
	generation := &KeyGeneration{}
	var algorithm, status, createdAtStr, updatedAtStr string
	var expires, wrapped sql.NullString
	var grace sql.NullInt64
	err := row.Scan(
		&generation.ID, &generation.CircleID, &generation.Number, &algorithm, &status,
		&expires, &grace, &wrapped, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	generation.Algorithm = encryption.AlgorithmID(algorithm)
	generation.Status = GenerationStatus(status)
	generation.GracePeriod = db.NullToDurationPtr(grace)
	generation.WrappedKey = wrapped.String
	if generation.Expires, err = db.NullToTimePtr(expires); err != nil {
		return nil, fmt.Errorf("failed to parse expires timestamp: %w", err)
	}
	if generation.CreatedAt, err = db.StringToTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if generation.UpdatedAt, err = db.StringToTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return generation, nil
}

const trusteeColumns = `t.id, t.circle_id, t.member_id, m.account_name, t.generation_id, t.trust_level, t.envelope, t.created_at, t.updated_at`

const trusteeFrom = ` FROM trustees t JOIN members m ON m.id = t.member_id`

func scanTrustee(row rowScanner) (*Trustee, error) {
	trustee := &Trustee{}
	var level, createdAtStr, updatedAtStr string
	err := row.Scan(
		&trustee.ID, &trustee.CircleID, &trustee.MemberID, &trustee.AccountName, &trustee.GenerationID,
		&level, &trustee.Envelope, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if trustee.Level, err = trust.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("failed to parse trust level: %w", err)
	}
	if trustee.CreatedAt, err = db.StringToTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if trustee.UpdatedAt, err = db.StringToTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return trustee, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetCircle retrieves a Circle by its ID
func (r *SQLiteCircleRepository) GetCircle(ctx context.Context, id string) (*Circle, error) {
	return r.getCircle(ctx, "id = ?", id)
}

// GetCircleByName retrieves a Circle by its name
func (r *SQLiteCircleRepository) GetCircleByName(ctx context.Context, name string) (*Circle, error) {
	return r.getCircle(ctx, "name = ?", name)
}

func (r *SQLiteCircleRepository) getCircle(ctx context.Context, where string, arg any) (*Circle, error) {
	circle, err := scanCircle(r.db.QueryRowContext(ctx, `SELECT `+circleColumns+` FROM circles WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get circle: %w", err)
	}
	return circle, nil
}

// GetAllCircles retrieves all Circles ordered by name
func (r *SQLiteCircleRepository) GetAllCircles(ctx context.Context) ([]*Circle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+circleColumns+` FROM circles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query circles: %w", err)
	}
	defer rows.Close()

	var circles []*Circle
	for rows.Next() {
		circle, err := scanCircle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan circle: %w", err)
		}
		circles = append(circles, circle)
	}
	return circles, rows.Err()
}

// CreateCircle adds a Circle with its first generation and creator in one transaction
func (r *SQLiteCircleRepository) CreateCircle(ctx context.Context, circle *Circle, generation *KeyGeneration, creator *Trustee) error {
	return db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO circles (id, name, key_reference, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			circle.ID, circle.Name, nullString(circle.KeyReference),
			db.TimeToString(circle.CreatedAt), db.TimeToString(circle.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create circle: %w", err)
		}

		if err := insertGeneration(ctx, tx, generation); err != nil {
			return err
		}
		return insertTrustee(ctx, tx, creator)
	})
}

// DeleteCircle removes a Circle. Generations, trustees and data go with it.
func (r *SQLiteCircleRepository) DeleteCircle(ctx context.Context, id string) error {
	return db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		// trustees reference generations without cascading
		if _, err := tx.ExecContext(ctx, `DELETE FROM trustees WHERE circle_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete trustees: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM circles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete circle: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("circle with ID %s not found", id)
		}
		return nil
	})
}

func insertGeneration(ctx context.Context, ex execer, generation *KeyGeneration) error {
	_, err := ex.ExecContext(ctx, `
	INSERT INTO key_generations (`+generationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		generation.ID, generation.CircleID, generation.Number, string(generation.Algorithm), string(generation.Status),
		db.TimePtrToNull(generation.Expires), db.DurationPtrToNull(generation.GracePeriod), nullString(generation.WrappedKey),
		db.TimeToString(generation.CreatedAt), db.TimeToString(generation.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create key generation: %w", err)
	}
	return nil
}

// errConcurrentChange reports a write that lost against a key rotation of the same circle
func errConcurrentChange() error {
	return failures.NewIllegalActionError("the circle key changed concurrently, try again")
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errConcurrentChange()
	}
	return nil
}

// deprecateGeneration stores the deprecated state of a generation that must still be active
func deprecateGeneration(ctx context.Context, ex execer, generation *KeyGeneration) error {
	result, err := ex.ExecContext(ctx, `
	UPDATE key_generations
	SET status = ?, expires = ?, grace_period = ?, wrapped_key = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		string(generation.Status), db.TimePtrToNull(generation.Expires), db.DurationPtrToNull(generation.GracePeriod),
		nullString(generation.WrappedKey), db.TimeToString(generation.UpdatedAt), generation.ID, string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to update key generation: %w", err)
	}
	return checkAffected(result)
}

// insertTrustee only inserts while the trustee's generation is active
func insertTrustee(ctx context.Context, ex execer, trustee *Trustee) error {
	result, err := ex.ExecContext(ctx, `
	INSERT INTO trustees (id, circle_id, member_id, generation_id, trust_level, envelope, created_at, updated_at)
	SELECT ?, ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM key_generations WHERE id = ? AND status = ?)`,
		trustee.ID, trustee.CircleID, trustee.MemberID, trustee.GenerationID, trustee.Level.String(), trustee.Envelope,
		db.TimeToString(trustee.CreatedAt), db.TimeToString(trustee.UpdatedAt),
		trustee.GenerationID, string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to create trustee: %w", err)
	}
	return checkAffected(result)
}

// updateEnvelope replaces the envelope of a trustee still wrapped for generation from
func updateEnvelope(ctx context.Context, ex execer, trustee *Trustee, from string) error {
	result, err := ex.ExecContext(ctx, `
	UPDATE trustees SET generation_id = ?, envelope = ?, updated_at = ? WHERE id = ? AND generation_id = ?`,
		trustee.GenerationID, trustee.Envelope, db.TimeToString(trustee.UpdatedAt), trustee.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update trustee envelope: %w", err)
	}
	return checkAffected(result)
}

// GetGeneration retrieves a KeyGeneration by its ID
func (r *SQLiteCircleRepository) GetGeneration(ctx context.Context, id string) (*KeyGeneration, error) {
	return r.getGeneration(ctx, "id = ?", id)
}

// GetActiveGeneration retrieves the active KeyGeneration of a Circle
func (r *SQLiteCircleRepository) GetActiveGeneration(ctx context.Context, circleID string) (*KeyGeneration, error) {
	return r.getGeneration(ctx, "circle_id = ? AND status = '"+string(StatusActive)+"'", circleID)
}

func (r *SQLiteCircleRepository) getGeneration(ctx context.Context, where string, arg any) (*KeyGeneration, error) {
	generation, err := scanGeneration(r.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM key_generations WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key generation: %w", err)
	}
	return generation, nil
}

// GetGenerations retrieves every KeyGeneration of a Circle, newest first
func (r *SQLiteCircleRepository) GetGenerations(ctx context.Context, circleID string) ([]*KeyGeneration, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+generationColumns+` FROM key_generations WHERE circle_id = ? ORDER BY number DESC`, circleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query key generations: %w", err)
	}
	defer rows.Close()

	var generations []*KeyGeneration
	for rows.Next() {
		generation, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key generation: %w", err)
		}
		generations = append(generations, generation)
	}
	return generations, rows.Err()
}

// GetTrustee retrieves the Trustee of a member in a Circle
func (r *SQLiteCircleRepository) GetTrustee(ctx context.Context, circleID, memberID string) (*Trustee, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+trusteeColumns+trusteeFrom+` WHERE t.circle_id = ? AND t.member_id = ?`, circleID, memberID)

	trustee, err := scanTrustee(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trustee: %w", err)
	}
	return trustee, nil
}

// GetTrustees retrieves the Trustees of a Circle ordered by account name
func (r *SQLiteCircleRepository) GetTrustees(ctx context.Context, circleID string) ([]*Trustee, error) {
	return r.queryTrustees(ctx, `WHERE t.circle_id = ? ORDER BY m.account_name`, circleID)
}

// GetTrusteesByMember retrieves every Trustee record of a member
func (r *SQLiteCircleRepository) GetTrusteesByMember(ctx context.Context, memberID string) ([]*Trustee, error) {
	return r.queryTrustees(ctx, `WHERE t.member_id = ? ORDER BY t.circle_id`, memberID)
}

func (r *SQLiteCircleRepository) queryTrustees(ctx context.Context, where string, arg any) ([]*Trustee, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+trusteeColumns+trusteeFrom+` `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query trustees: %w", err)
	}
	defer rows.Close()

	var trustees []*Trustee
	for rows.Next() {
		trustee, err := scanTrustee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trustee: %w", err)
		}
		trustees = append(trustees, trustee)
	}
	return trustees, rows.Err()
}

// CreateTrustee adds a Trustee
func (r *SQLiteCircleRepository) CreateTrustee(ctx context.Context, trustee *Trustee) error {
	return insertTrustee(ctx, r.db, trustee)
}

// UpdateTrusteeLevel changes the trust level of a Trustee
func (r *SQLiteCircleRepository) UpdateTrusteeLevel(ctx context.Context, trustee *Trustee) error {
	result, err := r.db.ExecContext(ctx, `UPDATE trustees SET trust_level = ?, updated_at = ? WHERE id = ?`,
		trustee.Level.String(), db.TimeToString(trustee.UpdatedAt), trustee.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trustee: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trustee with ID %s not found", trustee.ID)
	}
	return nil
}

// DeleteTrustee removes the Trustee of a member in a Circle
func (r *SQLiteCircleRepository) DeleteTrustee(ctx context.Context, circleID, memberID string) error {
	return deleteTrustee(ctx, r.db, circleID, memberID)
}

func deleteTrustee(ctx context.Context, ex execer, circleID, memberID string) error {
	result, err := ex.ExecContext(ctx, `DELETE FROM trustees WHERE circle_id = ? AND member_id = ?`, circleID, memberID)
	if err != nil {
		return fmt.Errorf("failed to delete trustee: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trustee of member %s in circle %s not found", memberID, circleID)
	}
	return nil
}

// Rotate persists a key rotation in one transaction
func (r *SQLiteCircleRepository) Rotate(ctx context.Context, rotation *Rotation) error {
	return db.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		if rotation.RemovedMemberID != "" {
			if err := deleteTrustee(ctx, tx, rotation.Previous.CircleID, rotation.RemovedMemberID); err != nil {
				return err
			}
		}
		// the previous generation leaves ACTIVE before the next one enters it
		if err := deprecateGeneration(ctx, tx, rotation.Previous); err != nil {
			return err
		}
		if err := insertGeneration(ctx, tx, rotation.Next); err != nil {
			return err
		}
		for _, trustee := range rotation.Trustees {
			if err := updateEnvelope(ctx, tx, trustee, rotation.Previous.ID); err != nil {
				return err
			}
		}

		// a trustee added after the rotation read the trustee list would be left behind
		var left int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM trustees WHERE generation_id = ?`, rotation.Previous.ID).Scan(&left)
		if err != nil {
			return fmt.Errorf("failed to count trustees: %w", err)
		}
		if left > 0 {
			return errConcurrentChange()
		}
		return nil
	})
}

// UpdateEnvelopes replaces the envelopes of trustees inside tx, keeping their generation
func (r *SQLiteCircleRepository) UpdateEnvelopes(ctx context.Context, tx *sql.Tx, trustees []*Trustee) error {
	for _, trustee := range trustees {
		if err := updateEnvelope(ctx, tx, trustee, trustee.GenerationID); err != nil {
			return err
		}
	}
	return nil
}
