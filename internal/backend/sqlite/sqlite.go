// Package sqlite provides the embedded SQLite backend driver.
//
// The driver uses ncruces/go-sqlite3, a WASM build of SQLite that
// needs no cgo, so the satchel binary stays a single static file.
// Importing this package registers the driver:
//
//	import _ "github.com/satchelhq/satchel/internal/backend/sqlite"
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/satchelhq/satchel/internal/backend"
)

func init() {
	backend.Register(backend.TypeSQLite, New)
}

// New opens the database file named by opts.Path, creating parent
// directories as needed. The file is created on first use.
func New(opts backend.Options) (*backend.Conn, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: sqlite backend requires a database path", backend.ErrInvalidOptions)
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", opts.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return backend.NewConn(db, backend.TypeSQLite, opts.Path, nil), nil
}
