package backend

import (
	"fmt"
	"sync"
)

// Constructor is a function that opens a backend connection.
// Each driver package (sqlite, libsql) registers its constructor via
// init() to avoid import cycles.
type Constructor func(opts Options) (*Conn, error)

// registry holds the registered backend constructors
var (
	registryMutex sync.RWMutex
	registry      = make(map[Type]Constructor)
)

// Register registers a backend constructor for the given type.
// This is called from init() functions in driver packages.
//
// Example (in sqlite package):
//
//	func init() {
//	    backend.Register(backend.TypeSQLite, New)
//	}
//
// Panics if a constructor is already registered for the type, as this
// indicates a programming error (duplicate registration).
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("backend: Register called with nil constructor for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("backend: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

// getConstructor returns the constructor for the given backend type.
// Returns nil if no constructor is registered.
func getConstructor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// IsRegistered returns true if a constructor is registered for the type
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered backend types
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// UnregisterAll removes all registered constructors.
// This is primarily for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[Type]Constructor)
}
