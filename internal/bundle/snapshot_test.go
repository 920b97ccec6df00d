package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
)

// TestSnapshotRestore_RoundTrip tests that progress rows and queue
// entries survive a snapshot into a fresh store with flags intact
func TestSnapshotRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)

	syncedAt := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	synced := &record.Progress{
		CourseID:  "c1",
		ModuleID:  "m1",
		Progress:  1.0,
		Completed: true,
		UpdatedAt: syncedAt,
		Synced:    true,
		SyncedAt:  &syncedAt,
	}
	if err := src.PutProgress(ctx, synced); err != nil {
		t.Fatalf("PutProgress() failed: %v", err)
	}

	unsynced := &record.Progress{
		CourseID:  "c1",
		ModuleID:  "m2",
		Progress:  0.4,
		UpdatedAt: syncedAt.Add(time.Minute),
	}
	if err := src.SaveProgress(unsynced); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}

	entry, err := src.Enqueue(record.MutationProgressUpdate, record.ProgressMutation{
		CourseID:  "c1",
		ModuleID:  "m2",
		Progress:  0.4,
		UpdatedAt: syncedAt.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.jsonl")
	exported, err := ExportSnapshot(ctx, src, path)
	if err != nil {
		t.Fatalf("ExportSnapshot() failed: %v", err)
	}
	if exported.ProgressRows != 2 {
		t.Errorf("ProgressRows = %d, want 2", exported.ProgressRows)
	}
	if exported.QueueEntries != 1 {
		t.Errorf("QueueEntries = %d, want 1", exported.QueueEntries)
	}

	dst := setupTestStore(t)
	restored, err := RestoreSnapshot(ctx, dst, path, RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreSnapshot() failed: %v", err)
	}
	if len(restored.Errors) != 0 {
		t.Fatalf("RestoreSnapshot() errors: %v", restored.Errors)
	}
	if restored.ProgressRestored != 2 {
		t.Errorf("ProgressRestored = %d, want 2", restored.ProgressRestored)
	}
	if restored.EntriesRestored != 1 {
		t.Errorf("EntriesRestored = %d, want 1", restored.EntriesRestored)
	}

	got, err := dst.GetProgress("c1", "m1")
	if err != nil {
		t.Fatalf("GetProgress() failed: %v", err)
	}
	if !got.Synced {
		t.Error("restored row lost its synced flag")
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(syncedAt) {
		t.Errorf("SyncedAt = %v, want %v", got.SyncedAt, syncedAt)
	}

	got, err = dst.GetProgress("c1", "m2")
	if err != nil {
		t.Fatalf("GetProgress() failed: %v", err)
	}
	if got.Synced {
		t.Error("restored row gained a synced flag")
	}

	if _, err := dst.GetQueueEntry(ctx, entry.ID); err != nil {
		t.Errorf("GetQueueEntry(%s) failed: %v", entry.ID, err)
	}
}

// TestRestoreSnapshot_DryRun tests that a dry run reports counts
// without writing anything
func TestRestoreSnapshot_DryRun(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)

	p := &record.Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: time.Now().UTC()}
	if err := src.SaveProgress(p); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.jsonl")
	if _, err := ExportSnapshot(ctx, src, path); err != nil {
		t.Fatalf("ExportSnapshot() failed: %v", err)
	}

	dst := setupTestStore(t)
	result, err := RestoreSnapshot(ctx, dst, path, RestoreOptions{DryRun: true})
	if err != nil {
		t.Fatalf("RestoreSnapshot() failed: %v", err)
	}
	if result.ProgressRestored != 1 {
		t.Errorf("ProgressRestored = %d, want 1", result.ProgressRestored)
	}

	if _, err := dst.GetProgress("c1", "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetProgress() after dry run = %v, want ErrNotFound", err)
	}
}

// TestRestoreSnapshot_Backup tests that the pre-restore state is
// captured before the snapshot is applied
func TestRestoreSnapshot_Backup(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)

	p := &record.Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.9, UpdatedAt: time.Now().UTC()}
	if err := src.SaveProgress(p); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.jsonl")
	if _, err := ExportSnapshot(ctx, src, path); err != nil {
		t.Fatalf("ExportSnapshot() failed: %v", err)
	}

	// The live store holds different state that the backup must capture
	dst := setupTestStore(t)
	live := &record.Progress{CourseID: "c2", ModuleID: "m9", Progress: 0.1, UpdatedAt: time.Now().UTC()}
	if err := dst.SaveProgress(live); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}

	result, err := RestoreSnapshot(ctx, dst, path, RestoreOptions{Backup: true})
	if err != nil {
		t.Fatalf("RestoreSnapshot() failed: %v", err)
	}
	if result.BackupCreated == "" {
		t.Fatal("BackupCreated is empty")
	}
	if _, err := os.Stat(result.BackupCreated); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	// Restoring the backup into a third store recovers the live row
	check := setupTestStore(t)
	if _, err := RestoreSnapshot(ctx, check, result.BackupCreated, RestoreOptions{}); err != nil {
		t.Fatalf("RestoreSnapshot(backup) failed: %v", err)
	}
	if _, err := check.GetProgress("c2", "m9"); err != nil {
		t.Errorf("backup did not capture the pre-restore row: %v", err)
	}
}

// TestRestoreSnapshot_CollectsRowErrors tests that one bad row does
// not abort the rest of the restore
func TestRestoreSnapshot_CollectsRowErrors(t *testing.T) {
	ctx := context.Background()

	lines := strings.Join([]string{
		`{"kind":"snapshot","version":1}`,
		`{"kind":"progress","progress":{"courseId":"c1","moduleId":"m1","progress":1.5,"updatedAt":"2026-01-02T10:00:00Z"}}`,
		`{"kind":"progress","progress":{"courseId":"c1","moduleId":"m2","progress":0.5,"updatedAt":"2026-01-02T10:00:00Z"}}`,
	}, "\n") + "\n"

	path := filepath.Join(t.TempDir(), "state.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	dst := setupTestStore(t)
	result, err := RestoreSnapshot(ctx, dst, path, RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreSnapshot() failed: %v", err)
	}
	if result.ProgressRestored != 1 {
		t.Errorf("ProgressRestored = %d, want 1", result.ProgressRestored)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "c1:m1") {
		t.Errorf("error %q does not name the bad row", result.Errors[0])
	}

	if _, err := dst.GetProgress("c1", "m2"); err != nil {
		t.Errorf("valid row was not restored: %v", err)
	}
}

// TestRestoreSnapshot_RejectsNonSnapshot tests that a file without the
// header line is refused outright
func TestRestoreSnapshot_RejectsNonSnapshot(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "state.jsonl")
	if err := os.WriteFile(path, []byte(`{"kind":"progress"}`+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	dst := setupTestStore(t)
	if _, err := RestoreSnapshot(ctx, dst, path, RestoreOptions{}); err == nil {
		t.Error("RestoreSnapshot() accepted a file without a header")
	}
}

// TestRestoreSnapshot_RejectsNewerVersion tests that a snapshot from a
// newer build is refused
func TestRestoreSnapshot_RejectsNewerVersion(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "state.jsonl")
	if err := os.WriteFile(path, []byte(`{"kind":"snapshot","version":99}`+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	dst := setupTestStore(t)
	if _, err := RestoreSnapshot(ctx, dst, path, RestoreOptions{}); !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("RestoreSnapshot() = %v, want ErrSchemaTooNew", err)
	}
}
