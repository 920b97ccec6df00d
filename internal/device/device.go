// Package device manages the per-device sync checkpoint.
//
// Every satchel installation carries a stable device identity in
// device.toml next to the database: a generated device id, the
// registration time, the last successful sync time and a monotonically
// increasing sync version. The engine itself never reads this file;
// the CLI and daemon advance the checkpoint after each successful pass
// so support and multi-device debugging can tell installations apart.
package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// FileName is the checkpoint file name inside the satchel directory.
const FileName = "device.toml"

// ErrNotRegistered is returned by Load when no checkpoint exists yet.
var ErrNotRegistered = errors.New("device not registered")

// Identity is the persistent per-device sync checkpoint.
type Identity struct {
	// DeviceID is a uuid minted on first run, stable for the lifetime
	// of the installation.
	DeviceID string `toml:"device_id"`

	// RegisteredAt is when the identity was created.
	RegisteredAt time.Time `toml:"registered_at"`

	// LastSyncAt is the completion time of the last successful sync
	// pass. Nil until the first pass completes.
	LastSyncAt *time.Time `toml:"last_sync_at,omitempty"`

	// SyncVersion increments once per successful sync pass.
	SyncVersion int64 `toml:"sync_version"`
}

// New mints a fresh identity with a zero sync history.
func New() *Identity {
	return &Identity{
		DeviceID:     uuid.NewString(),
		RegisteredAt: time.Now().UTC(),
	}
}

// Short returns the first uuid group of the device id, for display.
func (i *Identity) Short() string {
	if len(i.DeviceID) < 8 {
		return i.DeviceID
	}
	return i.DeviceID[:8]
}

// Advance records a successful sync pass that completed at the given
// time. Call Save afterwards to persist the checkpoint.
func (i *Identity) Advance(at time.Time) {
	at = at.UTC()
	i.LastSyncAt = &at
	i.SyncVersion++
}

// Validate checks the loaded checkpoint for corruption.
func (i *Identity) Validate() error {
	if _, err := uuid.Parse(i.DeviceID); err != nil {
		return fmt.Errorf("invalid device id %q: %w", i.DeviceID, err)
	}
	if i.RegisteredAt.IsZero() {
		return fmt.Errorf("missing registration time")
	}
	if i.SyncVersion < 0 {
		return fmt.Errorf("negative sync version %d", i.SyncVersion)
	}
	return nil
}

// Load reads the checkpoint at path. Returns ErrNotRegistered when the
// file does not exist.
func Load(path string) (*Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, path)
		}
		return nil, fmt.Errorf("failed to open device checkpoint: %w", err)
	}
	defer f.Close()

	var id Identity
	if _, err := toml.NewDecoder(f).Decode(&id); err != nil {
		return nil, fmt.Errorf("failed to decode device checkpoint: %w", err)
	}
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt device checkpoint at %s: %w", path, err)
	}
	return &id, nil
}

// LoadOrCreate reads the checkpoint at path, minting and persisting a
// fresh identity if none exists yet.
func LoadOrCreate(path string) (*Identity, error) {
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotRegistered) {
		return nil, err
	}

	id = New()
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

// Save persists the checkpoint at path. The write goes through a
// temporary file and rename so a crash never leaves a torn identity.
func (i *Identity) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create device directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".device-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(i); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode device checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace device checkpoint: %w", err)
	}
	return nil
}
