package backend

import "errors"

// Common errors returned by backend drivers.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, backend.ErrNoDriver) {
//	    // The driver package was never imported.
//	}
var (
	// ErrNoDriver is returned when no constructor is registered for
	// the selected backend type.
	ErrNoDriver = errors.New("no backend driver registered")

	// ErrInvalidOptions is returned when the options are missing a
	// field the selected driver requires, such as a database path for
	// sqlite or a primary URL for libsql.
	ErrInvalidOptions = errors.New("invalid backend options")
)
