// Package backend provides pluggable database drivers for the satchel
// store.
//
// This package abstracts the difference between the embedded SQLite
// database and a libsql embedded replica, so the rest of the engine
// only ever sees a *sql.DB. The design follows a registry pattern with
// runtime detection and driver self-registration.
//
// # Architecture
//
// A driver is a constructor registered under a backend Type. The two
// shipped drivers blank-import cleanly:
//   - internal/backend/sqlite: local-only database via ncruces/go-sqlite3
//   - internal/backend/libsql: remote database or embedded replica via
//     tursodatabase/go-libsql
//
// Open selects a driver (explicit type, then SATCHEL_BACKEND, then
// detection from the options) and returns a Conn wrapping the handle.
// Replicating backends additionally expose a Sync hook the daemon can
// drive between engine passes.
//
// # Usage
//
//	conn, err := backend.Open(backend.Options{Path: ".satchel/satchel.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	s, err := store.OpenDB(conn.DB, conn.Path())
package backend

import (
	"context"
	"database/sql"
	"time"
)

// Type identifies a backend driver.
type Type string

const (
	// TypeSQLite is the embedded SQLite database. The default; works
	// fully offline with no account or server.
	TypeSQLite Type = "sqlite"

	// TypeLibSQL is a libsql database: either a remote primary or a
	// local embedded replica that syncs to one.
	TypeLibSQL Type = "libsql"
)

// String returns the string representation of the backend type.
func (t Type) String() string {
	return string(t)
}

// Options configures a backend connection. Zero values mean "not set";
// each driver validates the fields it needs.
type Options struct {
	// Type forces a specific driver. When empty, Open consults the
	// SATCHEL_BACKEND environment variable and then DetectType.
	Type Type

	// Path is the local database file. Required by the sqlite driver.
	// For the libsql driver, a non-empty Path selects embedded-replica
	// mode with the replica stored at Path.
	Path string

	// URL is the primary database URL (libsql://, https:// or wss://).
	// Required by the libsql driver.
	URL string

	// AuthToken authenticates against the libsql primary.
	AuthToken string

	// SyncInterval enables periodic background replica sync inside the
	// libsql driver. Zero leaves syncing to explicit Conn.Sync calls.
	SyncInterval time.Duration
}

// Conn is an open backend connection.
//
// Closing the Conn closes DB; database/sql in turn closes any
// driver.Connector that implements io.Closer, so embedded replica
// resources are released without extra bookkeeping here.
type Conn struct {
	// DB is the database handle. Hand it to store.OpenDB.
	DB *sql.DB

	// Type is the driver that produced the connection.
	Type Type

	// Sync pulls fresh frames from the primary for backends that
	// replicate. Nil when the backend has nothing to sync.
	Sync func(ctx context.Context) error

	path string
}

// NewConn wraps a database handle produced by a driver. Drivers call
// this from their constructors; application code gets Conns from Open.
func NewConn(db *sql.DB, t Type, path string, sync func(ctx context.Context) error) *Conn {
	return &Conn{DB: db, Type: t, Sync: sync, path: path}
}

// Path returns the local database file backing the connection, or ""
// for remote-only connections.
func (c *Conn) Path() string {
	return c.path
}

// Replicates reports whether the connection has a primary to sync with.
func (c *Conn) Replicates() bool {
	return c.Sync != nil
}

// Close releases the connection and any driver resources behind it.
func (c *Conn) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
