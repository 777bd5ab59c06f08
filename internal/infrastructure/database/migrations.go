package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS holds the embedded migration scripts. The migrations
// package sets it from an init func so the schema travels inside the
// binary:
//
//	//go:embed *.sql
//	var files embed.FS
//
//	func init() {
//	    database.MigrationsFS = files
//	    database.MigrationsDir = "."
//	}
var MigrationsFS embed.FS

// MigrationsDir is the path inside MigrationsFS where the scripts live.
var MigrationsDir = "migrations"

// Migration is one schema step, parsed from a pair of
// <version>_<label>.up.sql / .down.sql files where version is
// YYYYMMDD_HHMMSS.
type Migration struct {
	Version string
	Label   string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of the schema_migrations bookkeeping table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate brings the schema up to date, applying any scripts that are
// not yet recorded in schema_migrations, oldest first.
//
// Each script commits in its own transaction. A failure leaves earlier
// steps applied, rolls back the failing one, and skips the rest, so a
// fixed deployment can simply run Migrate again and resume where it
// stopped. Heliograph's migrations are additive (new tables, nullable
// columns, indexes), which keeps this resume-friendly model safe.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensuring schema_migrations: %w", err)
	}

	available, err := readMigrationSet()
	if err != nil {
		return fmt.Errorf("reading embedded scripts: %w", err)
	}
	if len(available) == 0 {
		return nil
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("reading applied versions: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	for _, m := range available {
		if done[m.Version] {
			continue
		}
		if err := db.runMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Label, err)
		}
	}
	return nil
}

// MigrateDown undoes the newest applied migration. Development and test
// tooling only; production schemas roll forward.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("reading applied versions: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	newest := applied[len(applied)-1].Version

	available, err := readMigrationSet()
	if err != nil {
		return fmt.Errorf("reading embedded scripts: %w", err)
	}
	var target *Migration
	for i := range available {
		if available[i].Version == newest {
			target = &available[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s not found in filesystem", newest)
	}
	if target.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", newest)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, target.DownSQL); err != nil {
		return fmt.Errorf("running down script: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", target.Version,
	); err != nil {
		return fmt.Errorf("deleting version row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing down step: %w", err)
	}
	return nil
}

// GetMigrationStatus reports which scripts have run and which are still
// waiting, for health and debug surfaces.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	applied, err = db.appliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}
	available, err := readMigrationSet()
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}
	for _, m := range available {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) ensureVersionTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedVersions reads schema_migrations in version order.
func (db *DB) appliedVersions(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("selecting schema_migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var stamp string
		if err := rows.Scan(&rec.Version, &stamp); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		rec.AppliedAt, _ = time.Parse(time.RFC3339, stamp) //nolint:errcheck // We wrote the stamp
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("walking version rows: %w", err)
	}
	return records, nil
}

// runMigration applies one up script and records it, atomically.
func (db *DB) runMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("running up script: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting version row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing up step: %w", err)
	}
	return nil
}

// readMigrationSet scans MigrationsFS and pairs up/down scripts by
// version, returning the set sorted oldest first. An unset filesystem
// or missing directory yields an empty set rather than an error, so
// binaries built without migrations still start.
func readMigrationSet() ([]Migration, error) {
	var unset embed.FS
	if MigrationsFS == unset {
		return nil, nil
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, nil
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		version, up, ok := splitMigrationName(name)
		if !ok {
			continue
		}

		sqlText, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if up {
			m.UpSQL = string(sqlText)
			m.Label = migrationLabel(name)
		} else {
			m.DownSQL = string(sqlText)
		}
	}

	set := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		set = append(set, *m)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Version < set[j].Version })
	return set, nil
}

// splitMigrationName pulls the version and direction out of a script
// filename. Anything that is not <version>_<label>.up.sql or .down.sql
// reports ok=false and is skipped.
func splitMigrationName(name string) (version string, up bool, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", false, false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		up = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", false, false
	}

	// Version is the date_time prefix: 20260215_100000_create_entries
	// keeps "20260215_100000".
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 2 {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], up, true
}

// migrationLabel recovers the human-readable label from a script name:
// "20260215_100000_create_entries.up.sql" gives "create_entries".
func migrationLabel(name string) string {
	base := strings.TrimSuffix(name, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return base
}
