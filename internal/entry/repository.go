package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for entry persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an entry by its identifier.
	// Returns ErrEntryNotFound if the entry does not exist.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// GetByUniqueID retrieves the entry carrying the given serial.
	// Returns ErrEntryNotFound if no entry has claimed it.
	GetByUniqueID(ctx context.Context, uniqueID string) (*Entry, error)

	// List retrieves all entries.
	List(ctx context.Context) ([]Entry, error)

	// Create inserts a new entry.
	// Returns ErrEntryExists if the ID is taken, or ErrUniqueIDConflict
	// if another entry already carries the same unique id.
	Create(ctx context.Context, entry *Entry) error

	// Update modifies an existing entry.
	// Returns ErrEntryNotFound if the entry does not exist, or
	// ErrUniqueIDConflict when attaching a serial another entry holds.
	Update(ctx context.Context, entry *Entry) error

	// UpdateOptions replaces only the options snapshot.
	// This is the hot path for the options editor; the rest of the row
	// is left untouched.
	UpdateOptions(ctx context.Context, id string, opts Options) error

	// Delete removes an entry by ID.
	// Returns ErrEntryNotFound if the entry does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, unique_id, title, host, serial, username, password, name,
		options, created_at, updated_at`

// GetByID retrieves an entry by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by id: %w", err)
	}
	return e, nil
}

// GetByUniqueID retrieves the entry carrying the given serial.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE unique_id = ?`

	row := r.db.QueryRowContext(ctx, query, uniqueID)
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry by unique id: %w", err)
	}
	return e, nil
}

// List retrieves all entries ordered by title.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		ORDER BY title, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return entries, nil
}

// Create inserts a new entry.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	optionsJSON, err := json.Marshal(entry.Options)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	query := `
		INSERT INTO entries (
			id, unique_id, title, host, serial, username, password, name,
			options, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		nullableStringPtr(entry.UniqueID),
		entry.Title,
		entry.Host,
		nullableString(entry.Serial),
		entry.Username,
		entry.Password,
		entry.Name,
		string(optionsJSON),
		entry.CreatedAt.Format(time.RFC3339),
		entry.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "unique_id") {
				return ErrUniqueIDConflict
			}
			return ErrEntryExists
		}
		return fmt.Errorf("inserting entry: %w", err)
	}

	return nil
}

// Update modifies an existing entry.
func (r *SQLiteRepository) Update(ctx context.Context, entry *Entry) error {
	exists, err := r.exists(ctx, entry.ID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrEntryNotFound
	}

	optionsJSON, err := json.Marshal(entry.Options)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}

	entry.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE entries SET
			unique_id = ?, title = ?, host = ?, serial = ?,
			username = ?, password = ?, name = ?, options = ?, updated_at = ?
		WHERE id = ?`

	_, err = r.db.ExecContext(ctx, query,
		nullableStringPtr(entry.UniqueID),
		entry.Title,
		entry.Host,
		nullableString(entry.Serial),
		entry.Username,
		entry.Password,
		entry.Name,
		string(optionsJSON),
		entry.UpdatedAt.Format(time.RFC3339),
		entry.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueIDConflict
		}
		return fmt.Errorf("updating entry: %w", err)
	}

	return nil
}

// UpdateOptions replaces only the options snapshot.
func (r *SQLiteRepository) UpdateOptions(ctx context.Context, id string, opts Options) error {
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshalling options: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE entries
		SET options = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(optionsJSON),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating entry options: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// Delete removes an entry by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// exists checks if an entry with the given ID exists.
func (r *SQLiteRepository) exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking entry exists: %w", err)
	}
	return count > 0, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntryRow scans a row or rows result into an Entry.
func scanEntryRow(scanner rowScanner) (*Entry, error) {
	var e Entry
	var uniqueID, serial sql.NullString
	var optionsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.ID,
		&uniqueID,
		&e.Title,
		&e.Host,
		&serial,
		&e.Username,
		&e.Password,
		&e.Name,
		&optionsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if uniqueID.Valid {
		e.UniqueID = &uniqueID.String
	}
	if serial.Valid {
		e.Serial = serial.String
	}

	e.Options, err = OptionsFromJSON([]byte(optionsJSON))
	if err != nil {
		return nil, err
	}

	e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &e, nil
}

// nullableString returns nil for empty strings.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableStringPtr returns nil for nil or empty string pointers.
func nullableStringPtr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
