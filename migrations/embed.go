// Package migrations carries the Heliograph schema inside the binary.
//
// A deploy target is a single static executable on a LAN host, so the
// entries and audit_logs DDL ships as embedded .up.sql/.down.sql pairs
// instead of loose files next to the binary. cmd/heliograph imports
// this package for its side effect: init hands the embedded filesystem
// to the database layer, which applies whatever is pending at startup.
package migrations

import (
	"embed"

	"github.com/rowanvale/heliograph/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	// Scripts sit at the root of this FS, not under migrations/.
	database.MigrationsDir = "."
}
