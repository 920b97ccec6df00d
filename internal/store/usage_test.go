package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satchelhq/satchel/internal/record"
)

// TestEstimateUsage_Empty tests the zero-data, zero-quota shape. An
// empty store on a host that grants no quota must report all zeros, not
// NaN or a panic.
func TestEstimateUsage_Empty(t *testing.T) {
	s := setupTestStore(t)
	s.SetQuotaFunc(func(ctx context.Context) (int64, error) { return 0, nil })

	usage, err := s.EstimateUsage(context.Background())
	if err != nil {
		t.Fatalf("EstimateUsage() failed: %v", err)
	}
	if usage.Used != 0 {
		t.Errorf("Used = %d, want 0", usage.Used)
	}
	if usage.Total != 0 {
		t.Errorf("Total = %d, want 0", usage.Total)
	}
	if usage.Percentage != 0 {
		t.Errorf("Percentage = %f, want 0", usage.Percentage)
	}
}

// TestEstimateUsage_NoQuotaFunc tests that a store without a quota
// capability still reports used bytes
func TestEstimateUsage_NoQuotaFunc(t *testing.T) {
	s := setupTestStore(t)

	course := testCourse("c1")
	course.SizeBytes = 1000
	if err := s.SaveCourse(course); err != nil {
		t.Fatalf("SaveCourse() failed: %v", err)
	}

	usage, err := s.EstimateUsage(context.Background())
	if err != nil {
		t.Fatalf("EstimateUsage() failed: %v", err)
	}
	if usage.Used != 1000 {
		t.Errorf("Used = %d, want 1000", usage.Used)
	}
	if usage.Total != 0 {
		t.Errorf("Total = %d, want 0", usage.Total)
	}
	if usage.Percentage != 0 {
		t.Errorf("Percentage = %f, want 0", usage.Percentage)
	}
}

// TestEstimateUsage_Aggregates tests the used-byte formula across all
// record families
func TestEstimateUsage_Aggregates(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	course := testCourse("c1")
	course.SizeBytes = 10_000
	if err := s.SaveCourse(course); err != nil {
		t.Fatalf("SaveCourse() failed: %v", err)
	}
	asset := &record.Asset{ID: "a1", CourseID: "c1", URL: "https://cdn.example.com/a1", Data: []byte("blob"), SizeBytes: 5_000, DownloadedAt: now}
	if err := s.SaveAsset(asset); err != nil {
		t.Fatalf("SaveAsset() failed: %v", err)
	}
	if err := s.SaveProgress(&record.Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveProgress() failed: %v", err)
	}
	mut := record.ProgressMutation{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now}
	if _, err := s.Enqueue(record.MutationProgressUpdate, mut); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	s.SetQuotaFunc(func(ctx context.Context) (int64, error) { return 100_000, nil })

	usage, err := s.EstimateUsage(context.Background())
	if err != nil {
		t.Fatalf("EstimateUsage() failed: %v", err)
	}

	want := int64(10_000 + 5_000 + progressRowOverhead + queueRowOverhead)
	if usage.Used != want {
		t.Errorf("Used = %d, want %d", usage.Used, want)
	}
	if usage.Total != 100_000 {
		t.Errorf("Total = %d, want 100000", usage.Total)
	}
	wantPct := float64(want) / 100_000 * 100
	if usage.Percentage != wantPct {
		t.Errorf("Percentage = %f, want %f", usage.Percentage, wantPct)
	}
}

// TestEstimateUsage_QuotaError tests that quota capability failures
// propagate
func TestEstimateUsage_QuotaError(t *testing.T) {
	s := setupTestStore(t)

	quotaErr := errors.New("quota backend offline")
	s.SetQuotaFunc(func(ctx context.Context) (int64, error) { return 0, quotaErr })

	if _, err := s.EstimateUsage(context.Background()); !errors.Is(err, quotaErr) {
		t.Errorf("EstimateUsage() = %v, want wrapped quota error", err)
	}
}
