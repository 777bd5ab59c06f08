// Package database owns the SQLite file that backs Heliograph: the
// entries table (one row per enrolled Envoy, credentials included) and
// the audit_logs trail written by the flow engine.
//
// The wrapper stays deliberately small. It opens the file with the
// pragmas the workload needs (WAL so API reads do not stall behind
// audit writes, busy_timeout so contention surfaces as a wait rather
// than an error), pins the pool to SQLite's single-writer reality, and
// layers schema migrations plus a health probe on top. Repositories in
// internal/entry and internal/audit receive the embedded *sql.DB and
// speak plain database/sql.
//
// Migrations are embedded .up.sql/.down.sql pairs applied in version
// order, one transaction each. They are written additive-only (new
// tables, nullable columns, new indexes) so an interrupted rollout can
// rerun Migrate and continue.
//
// The database file is chmod 0600: entry rows carry Enlighten account
// passwords, and the file must not leave the host in world-readable
// backups.
package database
