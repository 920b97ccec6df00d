package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/bundle"
	"github.com/satchelhq/satchel/internal/device"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/resolver"
	"github.com/satchelhq/satchel/internal/store"
)

// stubEngine counts reconciliation passes without needing a gateway.
type stubEngine struct {
	passes atomic.Int32
}

func (e *stubEngine) SyncData(opts engine.Options) (*engine.Result, error) {
	return e.SyncDataContext(context.Background(), opts)
}

func (e *stubEngine) SyncDataContext(ctx context.Context, opts engine.Options) (*engine.Result, error) {
	e.passes.Add(1)
	return &engine.Result{Success: true, LastSyncTime: time.Now().UTC()}, nil
}

func (e *stubEngine) ResolveConflict(ctx context.Context, conflictID string, strategy resolver.Strategy) (*engine.Result, error) {
	return &engine.Result{Success: true, LastSyncTime: time.Now().UTC()}, nil
}

func (e *stubEngine) State() engine.State { return engine.StateIdle }

// setupTestStore opens a store with its schema initialized.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	return s
}

// stageBundle exports a single-course bundle into a staging directory
// and returns its path, ready to be renamed into a spool.
func stageBundle(t *testing.T, courseID string) string {
	t.Helper()

	src := setupTestStore(t)
	course := &record.Course{
		ID:    courseID,
		Title: "Course " + courseID,
		Modules: []record.Module{
			{ID: "m1", Type: record.ModuleVideo, Duration: 300},
		},
		DownloadedAt: time.Now().UTC(),
	}
	if err := src.SaveCourse(course); err != nil {
		t.Fatalf("SaveCourse() failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), courseID)
	if _, err := bundle.Export(context.Background(), src, courseID, dir); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	return dir
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestNew(t *testing.T) {
	st := setupTestStore(t)
	spoolDir := t.TempDir()

	tests := []struct {
		name    string
		st      *store.Store
		eng     engine.Engine
		spool   string
		wantErr bool
	}{
		{
			name:    "valid configuration",
			st:      st,
			eng:     &stubEngine{},
			spool:   spoolDir,
			wantErr: false,
		},
		{
			name:    "nil store",
			st:      nil,
			eng:     &stubEngine{},
			spool:   spoolDir,
			wantErr: true,
		},
		{
			name:    "nil engine",
			st:      st,
			eng:     nil,
			spool:   spoolDir,
			wantErr: true,
		},
		{
			name:    "empty spool dir",
			st:      st,
			eng:     &stubEngine{},
			spool:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.st, tt.eng, tt.spool)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if d != nil {
				defer d.Stop()
			}
		})
	}
}

func TestDaemon_ImportsPreexistingBundle(t *testing.T) {
	st := setupTestStore(t)
	spoolDir := t.TempDir()

	// A bundle is already waiting when the daemon starts
	staged := stageBundle(t, "course-boot")
	spooled := filepath.Join(spoolDir, "course-boot")
	if err := os.Rename(staged, spooled); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}

	config := DefaultConfig()
	config.DebounceInterval = 50 * time.Millisecond
	config.SyncInterval = time.Hour
	config.Logger = log.New(io.Discard, "", 0)

	d, err := NewWithConfig(st, &stubEngine{}, spoolDir, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	imported := waitFor(t, time.Second, func() bool {
		_, err := st.GetCourse("course-boot")
		return err == nil
	})
	if !imported {
		t.Error("course was not imported from the spool")
	}

	consumed := waitFor(t, time.Second, func() bool {
		_, err := os.Stat(spooled)
		return os.IsNotExist(err)
	})
	if !consumed {
		t.Error("spool entry was not removed after import")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Daemon error: %v", err)
	}
}

func TestDaemon_ImportsArrivingBundle(t *testing.T) {
	st := setupTestStore(t)
	spoolDir := t.TempDir()

	config := DefaultConfig()
	config.DebounceInterval = 50 * time.Millisecond
	config.SyncInterval = time.Hour
	config.Logger = log.New(io.Discard, "", 0)

	d, err := NewWithConfig(st, &stubEngine{}, spoolDir, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Wait for daemon to initialize
	time.Sleep(100 * time.Millisecond)

	// Deliver a bundle the way a producer would: staged elsewhere,
	// renamed into the spool in one step
	staged := stageBundle(t, "course-live")
	if err := os.Rename(staged, filepath.Join(spoolDir, "course-live")); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}

	imported := waitFor(t, 2*time.Second, func() bool {
		_, err := st.GetCourse("course-live")
		return err == nil
	})
	if !imported {
		t.Error("arriving bundle was not imported")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Daemon error: %v", err)
	}
}

func TestDaemon_CoalescesInPlaceWrites(t *testing.T) {
	st := setupTestStore(t)
	spoolDir := t.TempDir()

	config := DefaultConfig()
	config.DebounceInterval = 30 * time.Millisecond
	config.SyncInterval = time.Hour
	config.Logger = log.New(io.Discard, "", 0)

	d, err := NewWithConfig(st, &stubEngine{}, spoolDir, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Wait for daemon to initialize
	time.Sleep(100 * time.Millisecond)

	// Deliver a bundle the way a slow producer would: written in place
	// file by file, manifest last. Several debounce ticks fire while the
	// entry is incomplete; none of them may import or drop it.
	staged := stageBundle(t, "course-slow")
	target := filepath.Join(spoolDir, "course-slow")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	for _, name := range []string{bundle.CourseFile, bundle.ManifestFile} {
		time.Sleep(150 * time.Millisecond)

		data, err := os.ReadFile(filepath.Join(staged, name))
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(target, name), data, 0644); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", name, err)
		}
	}

	imported := waitFor(t, 2*time.Second, func() bool {
		_, err := st.GetCourse("course-slow")
		return err == nil
	})
	if !imported {
		t.Error("in-place bundle was not imported")
	}

	consumed := waitFor(t, time.Second, func() bool {
		_, err := os.Stat(target)
		return os.IsNotExist(err)
	})
	if !consumed {
		t.Error("spool entry was not removed after import")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Daemon error: %v", err)
	}
}

func TestDaemon_IgnoresIncompleteEntry(t *testing.T) {
	st := setupTestStore(t)
	spoolDir := t.TempDir()

	// A directory without a manifest is still being written
	partial := filepath.Join(spoolDir, "half-written")
	if err := os.MkdirAll(partial, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}

	config := DefaultConfig()
	config.DebounceInterval = 30 * time.Millisecond
	config.SpoolTimeout = 100 * time.Millisecond
	config.SyncInterval = time.Hour
	config.Logger = log.New(io.Discard, "", 0)

	d, err := NewWithConfig(st, &stubEngine{}, spoolDir, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Let the debounce loop pass the timeout and drop the entry
	time.Sleep(300 * time.Millisecond)

	count, err := st.CountCourses(context.Background())
	if err != nil {
		t.Fatalf("CountCourses() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("CountCourses() = %d, want 0", count)
	}

	// The directory itself is left for the producer
	if _, err := os.Stat(partial); err != nil {
		t.Errorf("incomplete entry was removed: %v", err)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Daemon error: %v", err)
	}
}

func TestDaemon_PeriodicSyncAdvancesCheckpoint(t *testing.T) {
	st := setupTestStore(t)
	checkpointPath := filepath.Join(t.TempDir(), device.FileName)

	eng := &stubEngine{}

	config := DefaultConfig()
	config.SyncInterval = 50 * time.Millisecond
	config.CheckpointPath = checkpointPath
	config.Logger = log.New(io.Discard, "", 0)

	d, err := NewWithConfig(st, eng, t.TempDir(), config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// The startup pass plus at least one periodic pass
	passed := waitFor(t, time.Second, func() bool {
		return eng.passes.Load() >= 2
	})
	if !passed {
		t.Errorf("passes = %d, want at least 2", eng.passes.Load())
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Daemon error: %v", err)
	}

	id, err := device.Load(checkpointPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if id.SyncVersion < 2 {
		t.Errorf("SyncVersion = %d, want at least 2", id.SyncVersion)
	}
	if id.LastSyncAt == nil {
		t.Error("LastSyncAt was not recorded")
	}
}

func TestDaemon_GracefulShutdown(t *testing.T) {
	st := setupTestStore(t)

	config := DefaultConfig()
	config.Logger = log.New(io.Discard, "", 0)

	d, err := NewWithConfig(st, &stubEngine{}, t.TempDir(), config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Let it run briefly
	time.Sleep(100 * time.Millisecond)

	// Signal shutdown
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Daemon shutdown error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Daemon did not shut down within timeout")
	}
}
