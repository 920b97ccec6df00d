// Package store provides the durable local database for satchel.
//
// This package implements the offline persistence layer of the sync
// engine: a transactional, schema-versioned SQLite database holding
// downloaded courses, their binary assets, per-module progress, the
// pending-mutation sync queue, and detected sync conflicts.
//
// The database runs embedded (no server) with WAL for concurrency
// support.
//
// Architecture:
//   - Database file: .satchel/satchel.db (configurable)
//   - WAL mode: concurrent readers during writes
//   - Schema: courses, assets, progress, sync_queue, conflicts tables
//   - Indexes: optimized for per-entity lookups (entity_key, synced flag)
//
// Workflow:
//  1. The UI (or CLI) saves downloaded courses and local progress events
//  2. Local progress mutations are appended to the sync queue
//  3. The engine drains the queue and reconciles per entity key
//  4. Adopted state is written back as synced rows in one transaction
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Errors returned by store operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, store.ErrStorageUnavailable) {
//	    // Surface to the user; do not retry silently.
//	}
var (
	// ErrStorageUnavailable is returned when the underlying database
	// cannot be opened, or an operation is attempted on a store that
	// was never opened or has been closed. Fatal to the calling
	// operation; must be surfaced, never retried silently.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when no row matches the requested key.
	ErrNotFound = errors.New("record not found")
)

// schemaVersion is recorded in PRAGMA user_version after InitSchema.
// Bumped whenever a record family or index is added. Migration is
// additive: InitSchema creates missing tables and indexes without
// touching existing data.
const schemaVersion = 1

// timeFormat preserves sub-second ordering of updatedAt values across a
// round trip through the database. Conflict detection compares
// timestamps strictly, so second-granularity storage would turn close
// writes into spurious ties.
const timeFormat = time.RFC3339Nano

// QuotaFunc reports the total storage quota in bytes granted by the
// host environment. Absent capability is expressed as a nil func or a
// zero return, not an error.
type QuotaFunc func(ctx context.Context) (int64, error)

// Store wraps the SQLite connection with the satchel record families.
type Store struct {
	conn  *sql.DB
	path  string
	quota QuotaFunc
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If it doesn't exist it is created; call InitSchema to create
// the record families. Opening is idempotent.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	s, err := store.Open(".satchel/satchel.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrStorageUnavailable, err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}

	return open(conn, path)
}

// OpenDB wraps an already-opened connection, typically produced by a
// backend driver. The store takes ownership and closes it in Close.
func OpenDB(conn *sql.DB, path string) (*Store, error) {
	return open(conn, path)
}

func open(conn *sql.DB, path string) (*Store, error) {
	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", ErrStorageUnavailable, err)
	}

	// Set busy timeout to 5 seconds
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: failed to set busy timeout: %v", ErrStorageUnavailable, err)
	}

	// Enable foreign keys
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %v", ErrStorageUnavailable, err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
// Useful for integrating with libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// SetQuotaFunc injects the host environment's storage-quota capability
// used by EstimateUsage. A nil func means no quota is known.
func (s *Store) SetQuotaFunc(fn QuotaFunc) {
	s.quota = fn
}

// db guards every operation against use before Open or after Close.
func (s *Store) db() (*sql.DB, error) {
	if s == nil || s.conn == nil {
		return nil, ErrStorageUnavailable
	}
	return s.conn, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the record families if they don't exist.
//
// Idempotent and additive: opening a database created by an older
// version creates the missing tables and indexes without discarding
// existing data. The resulting schema version is recorded in
// PRAGMA user_version.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the record families with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	ddl := `
	-- Record families
	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		description TEXT,
		thumbnail TEXT,
		modules TEXT NOT NULL,  -- JSON array of module descriptors
		assets TEXT,            -- JSON array of asset summaries
		size_bytes INTEGER NOT NULL DEFAULT 0,
		downloaded_at TEXT NOT NULL,
		last_accessed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		url TEXT NOT NULL,
		mime_type TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		data BLOB,
		downloaded_at TEXT NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id)
	);

	CREATE TABLE IF NOT EXISTS progress (
		course_id TEXT NOT NULL,
		module_id TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT,
		PRIMARY KEY (course_id, module_id)
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON mutation snapshot
		queued_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		entity_key TEXT NOT NULL,
		local_payload TEXT NOT NULL,   -- JSON mutation snapshot
		remote_payload TEXT NOT NULL,  -- JSON mutation snapshot
		strategy TEXT,
		resolved INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	-- Indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_assets_course ON assets(course_id);
	CREATE INDEX IF NOT EXISTS idx_assets_url ON assets(url);

	CREATE INDEX IF NOT EXISTS idx_progress_course ON progress(course_id);
	CREATE INDEX IF NOT EXISTS idx_progress_synced ON progress(synced);

	CREATE INDEX IF NOT EXISTS idx_queue_type ON sync_queue(type);
	CREATE INDEX IF NOT EXISTS idx_queue_queued ON sync_queue(queued_at);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_key);

	CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved);
	CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_key);
	`

	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Record the schema version for future additive migrations.
	var current int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current < schemaVersion {
		stmt := fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	return nil
}

// SchemaVersion reports the schema version stored in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	var v int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// ClearAll removes every record from every family in one transaction.
func (s *Store) ClearAll() error {
	return s.ClearAllContext(context.Background())
}

// ClearAllContext removes all records with context support.
func (s *Store) ClearAllContext(ctx context.Context) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Assets reference courses, so they go first.
	for _, table := range []string{"assets", "progress", "sync_queue", "conflicts", "courses"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(timeFormat), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
