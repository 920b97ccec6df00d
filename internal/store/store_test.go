package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/record"
)

// testStorePath returns a temporary path for test databases
func testStorePath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// setupTestStore opens a store with its schema initialized
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	return s
}

// testCourse returns a valid course for test seeding
func testCourse(id string) *record.Course {
	return &record.Course{
		ID:    id,
		Title: "Course " + id,
		Modules: []record.Module{
			{ID: "m1", Type: record.ModuleVideo, Duration: 600},
			{ID: "m2", Type: record.ModuleQuiz},
		},
		Assets: []record.AssetSummary{
			{ID: id + "-a1", URL: "https://cdn.example.com/" + id + "/v.mp4", MIMEType: "video/mp4", SizeBytes: 1024},
		},
		SizeBytes:    2048,
		DownloadedAt: time.Now().UTC(),
	}
}

// TestOpen_Success tests successful database creation and initialization
func TestOpen_Success(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s == nil {
		t.Fatal("Open() returned nil store")
	}

	if s.path != path {
		t.Errorf("path = %q, want %q", s.path, path)
	}
}

// TestInitSchema_Success tests that all record families are created
func TestInitSchema_Success(t *testing.T) {
	s := setupTestStore(t)

	tables := []string{"courses", "assets", "progress", "sync_queue", "conflicts"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		err := s.conn.QueryRow(query, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	s := setupTestStore(t)

	if err := s.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

// TestInitSchema_RecordsVersion tests that the schema version is persisted
func TestInitSchema_RecordsVersion(t *testing.T) {
	s := setupTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if v != schemaVersion {
		t.Errorf("SchemaVersion() = %d, want %d", v, schemaVersion)
	}
}

// TestOpen_Reopen tests that reopening an existing database preserves data
func TestOpen_Reopen(t *testing.T) {
	path := testStorePath(t)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := s.SaveCourse(testCourse("c1")); err != nil {
		t.Fatalf("SaveCourse() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Second Open() failed: %v", err)
	}
	defer reopened.Close()
	if err := reopened.InitSchema(); err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}

	course, err := reopened.GetCourse("c1")
	if err != nil {
		t.Fatalf("GetCourse() after reopen failed: %v", err)
	}
	if course.Title != "Course c1" {
		t.Errorf("Title = %q, want %q", course.Title, "Course c1")
	}
}

// TestClose tests store cleanup
func TestClose(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	// Calling Close() again should be safe
	if err := s.Close(); err != nil {
		t.Errorf("Second Close() failed: %v", err)
	}
}

// TestClosedStore_Unavailable tests that operations after Close surface
// ErrStorageUnavailable
func TestClosedStore_Unavailable(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := s.SaveCourse(testCourse("c1")); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("SaveCourse() after Close = %v, want ErrStorageUnavailable", err)
	}
	if _, err := s.GetCourses(); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("GetCourses() after Close = %v, want ErrStorageUnavailable", err)
	}
	if _, err := s.DrainQueue(); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("DrainQueue() after Close = %v, want ErrStorageUnavailable", err)
	}
}

// TestClearAll tests that every record family is emptied in one call
func TestClearAll(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	if err := s.SaveCourse(testCourse("c1")); err != nil {
		t.Fatalf("SaveCourse() failed: %v", err)
	}
	asset := &record.Asset{ID: "a1", CourseID: "c1", URL: "https://cdn.example.com/a", Data: []byte("x"), SizeBytes: 1, DownloadedAt: now}
	if err := s.SaveAsset(asset); err != nil {
		t.Fatalf("SaveAsset() failed: %v", err)
	}
	if err := s.SaveProgress(&record.Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}
	if _, err := s.Enqueue(record.MutationProgressUpdate, record.ProgressMutation{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	for _, table := range []string{"courses", "assets", "progress", "sync_queue", "conflicts"} {
		var count int
		if err := s.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("Failed to count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s count = %d after ClearAll, want 0", table, count)
		}
	}
}

// TestTimestampRoundTrip tests that sub-second timestamp ordering
// survives storage
func TestTimestampRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 250_000_000, time.UTC)
	p := &record.Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.4, UpdatedAt: t1}
	if err := s.SaveProgress(p); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}

	got, err := s.GetProgress("c1", "m1")
	if err != nil {
		t.Fatalf("GetProgress() failed: %v", err)
	}
	if !got.UpdatedAt.Equal(t1) {
		t.Errorf("UpdatedAt = %v, want %v (sub-second precision lost)", got.UpdatedAt, t1)
	}
}

// BenchmarkSaveProgress measures progress write throughput
func BenchmarkSaveProgress(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	if err := s.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}

	now := time.Now().UTC()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := &record.Progress{
			CourseID:  "bench-course",
			ModuleID:  "m1",
			Progress:  float64(i%100) / 100,
			UpdatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.SaveProgress(p); err != nil {
			b.Fatalf("SaveProgress() failed: %v", err)
		}
	}
}

// BenchmarkDrainQueue measures full-queue reads with 100 pending entries
func BenchmarkDrainQueue(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	if err := s.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		mut := record.ProgressMutation{
			CourseID:  "bench-course",
			ModuleID:  "m1",
			Progress:  float64(i%100) / 100,
			UpdatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if _, err := s.Enqueue(record.MutationProgressUpdate, mut); err != nil {
			b.Fatalf("Enqueue() failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.DrainQueue(); err != nil {
			b.Fatalf("DrainQueue() failed: %v", err)
		}
	}
}
