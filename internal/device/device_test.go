package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func checkpointPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), FileName)
}

func TestNew(t *testing.T) {
	id := New()

	if _, err := uuid.Parse(id.DeviceID); err != nil {
		t.Errorf("DeviceID is not a uuid: %v", err)
	}
	if id.RegisteredAt.IsZero() {
		t.Error("RegisteredAt not set")
	}
	if id.SyncVersion != 0 {
		t.Errorf("Expected sync version 0, got %d", id.SyncVersion)
	}
	if id.LastSyncAt != nil {
		t.Error("LastSyncAt should be nil before first sync")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := checkpointPath(t)

	id := New()
	syncedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	id.Advance(syncedAt)
	id.Advance(syncedAt.Add(time.Hour))

	if err := id.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.DeviceID != id.DeviceID {
		t.Errorf("DeviceID = %q, want %q", loaded.DeviceID, id.DeviceID)
	}
	if !loaded.RegisteredAt.Equal(id.RegisteredAt) {
		t.Errorf("RegisteredAt = %v, want %v", loaded.RegisteredAt, id.RegisteredAt)
	}
	if loaded.SyncVersion != 2 {
		t.Errorf("SyncVersion = %d, want 2", loaded.SyncVersion)
	}
	if loaded.LastSyncAt == nil || !loaded.LastSyncAt.Equal(syncedAt.Add(time.Hour)) {
		t.Errorf("LastSyncAt = %v, want %v", loaded.LastSyncAt, syncedAt.Add(time.Hour))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(checkpointPath(t))
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := checkpointPath(t)
	if err := os.WriteFile(path, []byte("device_id = \"not-a-uuid\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt checkpoint: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for corrupt checkpoint")
	}
}

func TestLoadOrCreate_Stable(t *testing.T) {
	path := checkpointPath(t)

	first, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}

	second, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate() second call error = %v", err)
	}

	if first.DeviceID != second.DeviceID {
		t.Errorf("Device id changed across loads: %q vs %q", first.DeviceID, second.DeviceID)
	}
}

func TestAdvance(t *testing.T) {
	id := New()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id.Advance(at)

	if id.SyncVersion != 1 {
		t.Errorf("SyncVersion = %d, want 1", id.SyncVersion)
	}
	if id.LastSyncAt == nil || !id.LastSyncAt.Equal(at) {
		t.Errorf("LastSyncAt = %v, want %v", id.LastSyncAt, at)
	}
}

func TestShort(t *testing.T) {
	id := &Identity{DeviceID: "a0ca5f29-16e5-4f68-9746-8e1b0e2cbb5c"}
	if got := id.Short(); got != "a0ca5f29" {
		t.Errorf("Short() = %q, want %q", got, "a0ca5f29")
	}
}
