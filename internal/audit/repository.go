// Package audit records entry lifecycle changes and flow outcomes in
// the audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known actions recorded by the setup and options flows.
const (
	ActionEntryCreated    = "entry.created"
	ActionEntryUpdated    = "entry.updated"
	ActionEntryDeleted    = "entry.deleted"
	ActionEntryReauthed   = "entry.reauthenticated"
	ActionHostUpdated     = "entry.host_updated"
	ActionSerialAttached  = "entry.serial_attached"
	ActionOptionsUpdated  = "entry.options_updated"
	ActionFlowAborted     = "flow.aborted"
	ActionFlowExpired     = "flow.expired"
	ActionFlowInvalidated = "flow.cancelled"
)

// Entity types referenced by audit records.
const (
	EntityEntry = "entry"
	EntityFlow  = "flow"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// AuditLog is a single audit trail record.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	FlowID     string         `json:"flow_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows a List call. Zero-value fields are not applied.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	FlowID     string
	Limit      int // clamped to [1, 200], default 50
	Offset     int
}

// ListResult is one page of audit records plus the unpaged total.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository is what the flow manager and the API handlers depend on.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit records in the entry store's database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts one record, generating ID and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	details, err := encodeDetails(log.Details)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, flow_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.EntityType,
		orNull(log.EntityID), orNull(log.FlowID),
		log.Source, details,
		log.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = clampPageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	whereSQL, args := buildWhere(filter)

	// Predicates are fixed strings; filter values only ever travel as
	// query args.
	var total int
	countSQL := "SELECT COUNT(*) FROM audit_logs" + whereSQL
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	pageSQL := "SELECT id, action, entity_type, entity_id, flow_id, source, details, created_at" +
		" FROM audit_logs" + whereSQL +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, pageSQL, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]AuditLog, 0, filter.Limit)
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func buildWhere(f Filter) (string, []any) {
	var preds []string
	var args []any
	add := func(expr, val string) {
		if val != "" {
			preds = append(preds, expr)
			args = append(args, val)
		}
	}
	add("action = ?", f.Action)
	add("entity_type = ?", f.EntityType)
	add("entity_id = ?", f.EntityID)
	add("flow_id = ?", f.FlowID)

	if len(preds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(preds, " AND "), args
}

func scanRow(rows *sql.Rows) (AuditLog, error) {
	var (
		rec       AuditLog
		entityID  sql.NullString
		flowID    sql.NullString
		details   sql.NullString
		createdAt string
	)
	if err := rows.Scan(&rec.ID, &rec.Action, &rec.EntityType,
		&entityID, &flowID, &rec.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}

	rec.EntityID = entityID.String
	rec.FlowID = flowID.String
	if details.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(details.String), &m) == nil {
			rec.Details = m
		}
	}

	at, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	rec.CreatedAt = at
	return rec, nil
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

// encodeDetails renders the details map as a JSON TEXT value, or NULL
// when there are none.
func encodeDetails(details map[string]any) (any, error) {
	if details == nil {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshalling audit details: %w", err)
	}
	return string(b), nil
}

// orNull maps empty strings to NULL for the optional TEXT columns.
func orNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
