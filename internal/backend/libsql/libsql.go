// Package libsql provides the libsql backend driver.
//
// Two modes are supported, both producing an ordinary *sql.DB:
//
//   - Remote: opts.URL only. Every query goes over the network to the
//     primary. Useless offline; mainly for inspection and admin tasks.
//   - Embedded replica: opts.URL plus opts.Path. Reads and writes hit
//     the local replica file, and Conn.Sync exchanges frames with the
//     primary. This is the mode the offline-first engine wants.
//
// Importing this package registers the driver:
//
//	import _ "github.com/satchelhq/satchel/internal/backend/libsql"
package libsql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tursodatabase/go-libsql"

	"github.com/satchelhq/satchel/internal/backend"
)

func init() {
	backend.Register(backend.TypeLibSQL, New)
}

// New opens a libsql connection. opts.URL is required; a non-empty
// opts.Path selects embedded-replica mode with the replica at Path.
func New(opts backend.Options) (*backend.Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: libsql backend requires a primary URL", backend.ErrInvalidOptions)
	}

	if opts.Path == "" {
		return newRemote(opts)
	}
	return newEmbeddedReplica(opts)
}

func newRemote(opts backend.Options) (*backend.Conn, error) {
	db, err := sql.Open("libsql", remoteDSN(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote libsql database: %w", err)
	}
	return backend.NewConn(db, backend.TypeLibSQL, "", nil), nil
}

func newEmbeddedReplica(opts backend.Options) (*backend.Conn, error) {
	var ctorOpts []libsql.Option
	if opts.AuthToken != "" {
		ctorOpts = append(ctorOpts, libsql.WithAuthToken(opts.AuthToken))
	}
	if opts.SyncInterval > 0 {
		ctorOpts = append(ctorOpts, libsql.WithSyncInterval(opts.SyncInterval))
	}
	// Local writes must be visible to the engine's next read even
	// before the primary acknowledges them.
	ctorOpts = append(ctorOpts, libsql.WithReadYourWrites(true))

	connector, err := libsql.NewEmbeddedReplicaConnector(opts.Path, opts.URL, ctorOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded replica: %w", err)
	}

	db := sql.OpenDB(connector)

	sync := func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := connector.Sync(); err != nil {
			return fmt.Errorf("failed to sync embedded replica: %w", err)
		}
		return nil
	}

	return backend.NewConn(db, backend.TypeLibSQL, opts.Path, sync), nil
}

// remoteDSN folds the auth token into the URL the way the libsql
// driver expects when no connector is involved.
func remoteDSN(opts backend.Options) string {
	if opts.AuthToken == "" {
		return opts.URL
	}
	sep := "?"
	if strings.Contains(opts.URL, "?") {
		sep = "&"
	}
	return opts.URL + sep + "authToken=" + opts.AuthToken
}
