package backend

import (
	"fmt"
	"os"
	"strings"
)

// Open selects a driver and opens a connection.
//
// Driver selection precedence:
//  1. opts.Type, when set explicitly.
//  2. The SATCHEL_BACKEND environment variable ("sqlite" or "libsql").
//  3. DetectType on the remaining options.
//
// Returns ErrNoDriver if nothing is registered for the selected type,
// which usually means the driver package was not imported.
func Open(opts Options) (*Conn, error) {
	t := opts.Type
	if t == "" {
		t = PreferredType()
	}
	if t == "" {
		t = DetectType(opts)
	}

	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrNoDriver, t, RegisteredTypes())
	}

	conn, err := constructor(opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DetectType infers the backend from the connection options.
//
// Detection precedence:
//  1. A primary URL with a remote scheme (libsql://, https://, wss://)
//     selects the libsql backend, with or without a local replica path.
//  2. Everything else is the embedded sqlite backend.
func DetectType(opts Options) Type {
	if hasRemoteScheme(opts.URL) {
		return TypeLibSQL
	}
	return TypeSQLite
}

// PreferredType returns the backend selected by the SATCHEL_BACKEND
// environment variable, or "" when unset or unrecognized.
func PreferredType() Type {
	switch strings.ToLower(os.Getenv("SATCHEL_BACKEND")) {
	case "sqlite", "sqlite3":
		return TypeSQLite
	case "libsql", "turso":
		return TypeLibSQL
	}
	return ""
}

func hasRemoteScheme(url string) bool {
	for _, scheme := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}
