package audit

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT,
			flow_id     TEXT,
			source      TEXT NOT NULL,
			details     TEXT,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX idx_audit_logs_created_at ON audit_logs (created_at);
		CREATE INDEX idx_audit_logs_entity ON audit_logs (entity_type, entity_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	log := &AuditLog{
		Action:     ActionEntryCreated,
		EntityType: EntityEntry,
		EntityID:   "ent-12345678",
		FlowID:     "flw-abcdef01",
		Source:     "api",
		Details:    map[string]any{"host": "192.168.1.50", "serial": "122212345678"},
	}

	if err := repo.Create(ctx, log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(log.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", log.ID)
	}
	if log.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	got := result.Logs[0]
	if got.Action != ActionEntryCreated || got.EntityID != "ent-12345678" {
		t.Errorf("got %+v", got)
	}
	if got.FlowID != "flw-abcdef01" {
		t.Errorf("FlowID = %q, want flw-abcdef01", got.FlowID)
	}
	if got.Details["host"] != "192.168.1.50" {
		t.Errorf("Details = %v", got.Details)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	seed := []AuditLog{
		{Action: ActionEntryCreated, EntityType: EntityEntry, EntityID: "ent-1", FlowID: "flw-1", Source: "api", CreatedAt: base},
		{Action: ActionOptionsUpdated, EntityType: EntityEntry, EntityID: "ent-1", FlowID: "flw-2", Source: "api", CreatedAt: base.Add(time.Minute)},
		{Action: ActionFlowAborted, EntityType: EntityFlow, EntityID: "flw-3", FlowID: "flw-3", Source: "discovery", CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	t.Run("returns most recent first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Logs) != 3 {
			t.Fatalf("got %d logs, want 3", len(result.Logs))
		}
		if result.Logs[0].Action != ActionFlowAborted {
			t.Errorf("first log = %q, want most recent", result.Logs[0].Action)
		}
	})

	t.Run("filters by action", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: ActionOptionsUpdated})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 || result.Logs[0].FlowID != "flw-2" {
			t.Errorf("got %+v", result)
		}
	})

	t.Run("filters by entity", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{EntityType: EntityEntry, EntityID: "ent-1"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("filters by flow id", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{FlowID: "flw-3"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 || result.Logs[0].Source != "discovery" {
			t.Errorf("got %+v", result)
		}
	})

	t.Run("clamps limit and paginates", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 3 {
			t.Errorf("Total = %d, want 3", result.Total)
		}
		if len(result.Logs) != 1 {
			t.Errorf("page size = %d, want 1", len(result.Logs))
		}
		if result.Logs[0].Action != ActionEntryCreated {
			t.Errorf("paged log = %q, want oldest", result.Logs[0].Action)
		}
	})

	t.Run("empty result is a non-nil slice", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: "never.happened"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Logs == nil || len(result.Logs) != 0 {
			t.Errorf("Logs = %v, want empty slice", result.Logs)
		}
	})
}
