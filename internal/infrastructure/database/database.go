package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dataDirMode keeps the database directory readable by the service
	// group only.
	dataDirMode = 0750

	// dataFileMode locks the database file to the owning user. Entry
	// rows hold Enlighten passwords, so group/world read is out.
	dataFileMode = 0600

	// openPingTimeout bounds the connectivity probe during Open.
	openPingTimeout = 5 * time.Second

	// idleConnWindow is how long an idle connection survives before the
	// pool drops it.
	idleConnWindow = 30 * time.Minute
)

// DB is the process-wide handle to the Heliograph SQLite file. The
// embedded *sql.DB carries the usual query API; this wrapper adds
// schema migrations and a health probe on top.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path locates the SQLite file. Missing parent directories are
	// created on open.
	Path string

	// WALMode switches the journal to write-ahead logging, letting the
	// API serve entry reads while the coordinator writes audit rows.
	WALMode bool

	// BusyTimeout is how many seconds a statement waits on a locked
	// database before giving up.
	BusyTimeout int
}

// Open prepares the SQLite file and returns a verified handle.
//
// The parent directory is created when absent, the pool is pinned to a
// single connection (SQLite allows one writer, and entries plus
// audit_logs share the file), and the connection is pinged before the
// handle is handed out. File permissions are tightened to 0600; on the
// very first run the file may not exist until the first write, so that
// chmod is best effort.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dataDirMode); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite file: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(idleConnWindow)

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // close is advisory on this path
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	_ = os.Chmod(cfg.Path, dataFileMode) //nolint:errcheck // File appears after first write on a fresh install

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn renders the go-sqlite3 connection string for cfg. Foreign keys
// are always on; WAL adds synchronous=NORMAL, which is the documented
// safe pairing.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close releases the connection pool. Safe to call on a handle whose
// pool was never opened.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing sqlite: %w", err)
	}
	return nil
}

// Path reports the filesystem location of the SQLite file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the file is still readable.
// The API health endpoint and the startup probe both call this.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	return nil
}
