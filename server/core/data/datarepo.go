package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/db"
	_ "github.com/mattn/go-sqlite3"
)

// DataRepository defines the interface for CRUD operations on DataObject entities
type DataRepository interface {
	// GetByID retrieves a DataObject by its ID
	GetByID(ctx context.Context, id string) (*DataObject, error)

	// QueryInfo retrieves DataInfo (metadata only) based on the provided query parameters
	// Returns infos and total count of matching records (before pagination)
	QueryInfo(ctx context.Context, query DataQuery) ([]*DataInfo, int, error)

	// Add stores a new DataObject in the repository
	Add(ctx context.Context, object *DataObject) error

	// Delete removes a DataObject by its ID
	Delete(ctx context.Context, id string) error
}

// SQLiteDataRepository implements DataRepository using SQLite
type SQLiteDataRepository struct {
	db *sql.DB
}

// NewSQLiteDataRepository creates a new SQLite-based DataRepository.
// The circles table must exist: data objects are deleted with their circle.
func NewSQLiteDataRepository(db *sql.DB) (*SQLiteDataRepository, error) {
	repo := &SQLiteDataRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteDataRepository) createTables() error {
	createDataTable := `
	CREATE TABLE IF NOT EXISTS data_objects (
		id TEXT PRIMARY KEY,
		circle_id TEXT NOT NULL REFERENCES circles(id) ON DELETE CASCADE,
		generation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		payload TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (circle_id, name)
	);`

	_, err := r.db.Exec(createDataTable)
	return err
}

// GetByID retrieves a DataObject by its ID
func (r *SQLiteDataRepository) GetByID(ctx context.Context, id string) (*DataObject, error) {
	query := `
	SELECT id, circle_id, generation_id, name, checksum, payload, size, created_at
	FROM data_objects WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)

	object := &DataObject{}
	var createdAtStr string
	err := row.Scan(
		&object.ID, &object.CircleID, &object.GenerationID, &object.Name,
		&object.Checksum, &object.Payload, &object.Size, &createdAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get data object by ID: %w", err)
	}

	object.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	return object, nil
}

// QueryInfo retrieves DataInfo (metadata only) based on the provided query parameters
func (r *SQLiteDataRepository) QueryInfo(ctx context.Context, query DataQuery) ([]*DataInfo, int, error) {
	where, args := buildConditions(query)

	var totalCount int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_objects"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	sqlQuery := `SELECT id, circle_id, generation_id, name, checksum, size, created_at FROM data_objects` + where + " ORDER BY name"
	if query.PageSize > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.PageSize)
		if query.Page > 1 {
			sqlQuery += " OFFSET ?"
			args = append(args, (query.Page-1)*query.PageSize)
		}
	}

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query data objects: %w", err)
	}
	defer rows.Close()

	var infos []*DataInfo
	for rows.Next() {
		info := &DataInfo{}
		var createdAtStr string
		err := rows.Scan(&info.ID, &info.CircleID, &info.GenerationID, &info.Name, &info.Checksum, &info.Size, &createdAtStr)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan data object: %w", err)
		}

		info.CreatedAt, err = db.StringToTime(createdAtStr)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse created_at timestamp: %w", err)
		}
		infos = append(infos, info)
	}

	return infos, totalCount, rows.Err()
}

// buildConditions builds the WHERE clause shared by the count and the page query
func buildConditions(query DataQuery) (string, []any) {
	var conditions []string
	var args []any

	if query.CircleID != "" {
		conditions = append(conditions, "circle_id = ?")
		args = append(args, query.CircleID)
	}

	if query.Name != "" {
		conditions = append(conditions, "name LIKE ? ESCAPE '\\'")
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query.Name)
		args = append(args, escaped+"%")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Add stores a new DataObject in the repository
func (r *SQLiteDataRepository) Add(ctx context.Context, object *DataObject) error {
	query := `
	INSERT INTO data_objects (id, circle_id, generation_id, name, checksum, payload, size, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		object.ID, object.CircleID, object.GenerationID, object.Name,
		object.Checksum, object.Payload, object.Size, db.TimeToString(object.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add data object: %w", err)
	}

	return nil
}

// Delete removes a DataObject by its ID
func (r *SQLiteDataRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM data_objects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data object: %w", err)
	}

	return nil
}
