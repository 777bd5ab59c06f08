package entry

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the entries table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Create entries table matching the schema
	schema := `
		CREATE TABLE entries (
			id          TEXT PRIMARY KEY,
			unique_id   TEXT,
			title       TEXT NOT NULL,
			host        TEXT NOT NULL,
			serial      TEXT,
			username    TEXT NOT NULL,
			password    TEXT NOT NULL,
			name        TEXT NOT NULL,
			options     TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_entries_unique_id
			ON entries (unique_id) WHERE unique_id IS NOT NULL;
		CREATE INDEX idx_entries_host ON entries (host);
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

// testEntry creates an entry for testing.
func testEntry(id, serial, host string) *Entry {
	e := &Entry{
		ID:       id,
		Title:    "Envoy " + serial,
		Host:     host,
		Serial:   serial,
		Username: "owner@example.com",
		Password: "hunter2",
		Name:     "Envoy " + serial,
		Options:  DefaultOptions(),
	}
	if serial != "" {
		uid := serial
		e.UniqueID = &uid
	}
	return e
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("creates entry successfully", func(t *testing.T) {
		e := testEntry("ent-00000001", "122212345678", "192.168.1.50")

		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "ent-00000001")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Host != "192.168.1.50" {
			t.Errorf("Host = %q, want %q", got.Host, "192.168.1.50")
		}
		if !got.HasUniqueID() || *got.UniqueID != "122212345678" {
			t.Errorf("UniqueID = %v, want 122212345678", got.UniqueID)
		}
		if got.Password != "hunter2" {
			t.Errorf("Password = %q, want %q", got.Password, "hunter2")
		}
		if got.Options.ScanInterval != DefaultScanInterval {
			t.Errorf("Options.ScanInterval = %d, want %d", got.Options.ScanInterval, DefaultScanInterval)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps were not set")
		}
	})

	t.Run("returns ErrEntryExists for duplicate ID", func(t *testing.T) {
		e := testEntry("ent-dup", "199912345678", "192.168.1.51")
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}

		e2 := testEntry("ent-dup", "188812345678", "192.168.1.52")
		err := repo.Create(ctx, e2)
		if !errors.Is(err, ErrEntryExists) {
			t.Errorf("Create() error = %v, want ErrEntryExists", err)
		}
	})

	t.Run("returns ErrUniqueIDConflict for duplicate serial", func(t *testing.T) {
		e := testEntry("ent-serial-a", "177712345678", "192.168.1.53")
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}

		e2 := testEntry("ent-serial-b", "177712345678", "192.168.1.54")
		err := repo.Create(ctx, e2)
		if !errors.Is(err, ErrUniqueIDConflict) {
			t.Errorf("Create() error = %v, want ErrUniqueIDConflict", err)
		}
	})

	t.Run("allows multiple entries without unique id", func(t *testing.T) {
		a := testEntry("ent-nouid-a", "", "192.168.1.60")
		b := testEntry("ent-nouid-b", "", "192.168.1.61")
		a.Title, a.Name = "Envoy", "Envoy"
		b.Title, b.Name = "Envoy", "Envoy"

		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create(a) error = %v", err)
		}
		if err := repo.Create(ctx, b); err != nil {
			t.Fatalf("Create(b) error = %v", err)
		}

		got, err := repo.GetByID(ctx, "ent-nouid-a")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.UniqueID != nil {
			t.Errorf("UniqueID = %v, want nil", got.UniqueID)
		}
	})
}

func TestSQLiteRepository_GetByUniqueID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	e := testEntry("ent-uid", "122249998888", "envoy.local")
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("finds entry by serial", func(t *testing.T) {
		got, err := repo.GetByUniqueID(ctx, "122249998888")
		if err != nil {
			t.Fatalf("GetByUniqueID() error = %v", err)
		}
		if got.ID != "ent-uid" {
			t.Errorf("ID = %q, want %q", got.ID, "ent-uid")
		}
	})

	t.Run("returns ErrEntryNotFound for unknown serial", func(t *testing.T) {
		_, err := repo.GetByUniqueID(ctx, "000000000000")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("GetByUniqueID() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if entries, err := repo.List(ctx); err != nil || len(entries) != 0 {
		t.Fatalf("List() on empty table = %v, %v; want empty, nil", entries, err)
	}

	for _, e := range []*Entry{
		testEntry("ent-b", "222200000002", "192.168.1.71"),
		testEntry("ent-a", "111100000001", "192.168.1.70"),
	} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	entries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	// Ordered by title: "Envoy 1111..." before "Envoy 2222...".
	if entries[0].ID != "ent-a" || entries[1].ID != "ent-b" {
		t.Errorf("List() order = %q, %q; want ent-a, ent-b", entries[0].ID, entries[1].ID)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	e := testEntry("ent-upd", "133312345678", "192.168.1.80")
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("updates host and title", func(t *testing.T) {
		e.Host = "192.168.1.81"
		e.Title = "Envoy 133312345678"

		if err := repo.Update(ctx, e); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "ent-upd")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Host != "192.168.1.81" {
			t.Errorf("Host = %q, want %q", got.Host, "192.168.1.81")
		}
	})

	t.Run("attaches unique id to bare entry", func(t *testing.T) {
		bare := testEntry("ent-bare", "", "192.168.1.82")
		bare.Title, bare.Name = "Envoy", "Envoy"
		if err := repo.Create(ctx, bare); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		uid := "144412345678"
		bare.UniqueID = &uid
		if err := repo.Update(ctx, bare); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := repo.GetByUniqueID(ctx, uid)
		if err != nil {
			t.Fatalf("GetByUniqueID() error = %v", err)
		}
		if got.ID != "ent-bare" {
			t.Errorf("ID = %q, want ent-bare", got.ID)
		}
	})

	t.Run("returns ErrUniqueIDConflict when serial is taken", func(t *testing.T) {
		other := testEntry("ent-other", "", "192.168.1.83")
		other.Title, other.Name = "Envoy", "Envoy"
		if err := repo.Create(ctx, other); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		taken := "133312345678"
		other.UniqueID = &taken
		err := repo.Update(ctx, other)
		if !errors.Is(err, ErrUniqueIDConflict) {
			t.Errorf("Update() error = %v, want ErrUniqueIDConflict", err)
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		ghost := testEntry("ent-ghost", "155512345678", "192.168.1.84")
		err := repo.Update(ctx, ghost)
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Update() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestSQLiteRepository_UpdateOptions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	e := testEntry("ent-opts", "166612345678", "192.168.1.90")
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("persists the new snapshot", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ScanInterval = 15
		opts.EnableRealtimeUpdates = true
		opts.RealtimeThrottle = 0
		opts.DisabledEndpoints = []string{"endpoint_inverters"}

		if err := repo.UpdateOptions(ctx, "ent-opts", opts); err != nil {
			t.Fatalf("UpdateOptions() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "ent-opts")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Options.ScanInterval != 15 {
			t.Errorf("ScanInterval = %d, want 15", got.Options.ScanInterval)
		}
		if !got.Options.EnableRealtimeUpdates {
			t.Error("EnableRealtimeUpdates not persisted")
		}
		if got.Options.RealtimeThrottle != 0 {
			t.Errorf("RealtimeThrottle = %d, want explicit 0", got.Options.RealtimeThrottle)
		}
		if len(got.Options.DisabledEndpoints) != 1 || got.Options.DisabledEndpoints[0] != "endpoint_inverters" {
			t.Errorf("DisabledEndpoints = %v", got.Options.DisabledEndpoints)
		}
		// The rest of the row is untouched.
		if got.Host != "192.168.1.90" || got.Password != "hunter2" {
			t.Error("UpdateOptions() modified non-option columns")
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		err := repo.UpdateOptions(ctx, "ent-missing", DefaultOptions())
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("UpdateOptions() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	e := testEntry("ent-del", "188899990000", "192.168.1.95")
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("deletes entry", func(t *testing.T) {
		if err := repo.Delete(ctx, "ent-del"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		_, err := repo.GetByID(ctx, "ent-del")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("GetByID() after delete error = %v, want ErrEntryNotFound", err)
		}
	})

	t.Run("frees the unique id for reuse", func(t *testing.T) {
		again := testEntry("ent-del-2", "188899990000", "192.168.1.96")
		if err := repo.Create(ctx, again); err != nil {
			t.Errorf("Create() after delete error = %v", err)
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		err := repo.Delete(ctx, "ent-never")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Delete() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestSQLiteRepository_OptionsColumnDefaults(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Rows written by other tools may carry the bare column default.
	_, err := db.Exec(`
		INSERT INTO entries (id, title, host, serial, username, password, name, created_at, updated_at)
		VALUES ('ent-raw', 'Envoy', '192.168.1.99', NULL, 'owner@example.com', 'pw', 'Envoy',
			'2026-02-15T10:00:00Z', '2026-02-15T10:00:00Z')`)
	if err != nil {
		t.Fatalf("raw insert error = %v", err)
	}

	got, err := repo.GetByID(ctx, "ent-raw")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Options.ScanInterval != DefaultScanInterval {
		t.Errorf("ScanInterval = %d, want default %d", got.Options.ScanInterval, DefaultScanInterval)
	}
	if got.Options.RealtimeThrottle != DefaultRealtimeThrottle {
		t.Errorf("RealtimeThrottle = %d, want default %d", got.Options.RealtimeThrottle, DefaultRealtimeThrottle)
	}
	if got.Serial != "" {
		t.Errorf("Serial = %q, want empty", got.Serial)
	}
}
