// Package loadtest provides load testing utilities for the satchel
// storage layer.
//
// This package simulates concurrent learner sessions to validate that
// the store can serve 100+ concurrent progress readers with low lookup
// latency while mutations are queued and reconciliation passes run.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
)

// TestStore represents a populated store for load testing.
type TestStore struct {
	Store            *store.Store
	CourseIDs        []string
	EntityKeys       []string
	QueuedKeys       []string
	TotalCourses     int
	ModulesPerCourse int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalReads int
	Errors     int
	Durations  []time.Duration
}

// CreateTestStore creates a store at dbPath populated for load testing.
//
// The store is populated with:
//   - Courses with realistic module mixes (weighted toward video)
//   - A progress row for most modules, roughly half already synced
//   - A queue backlog covering backlogPct of the entity keys
//   - Staggered timestamps
//
// Generation is seeded, so two runs over the same parameters produce
// the same data set.
func CreateTestStore(dbPath string, numCourses, modulesPerCourse int, backlogPct float64) (*TestStore, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Optimize connection pool for high concurrency testing
	s.RawDB().SetMaxOpenConns(150)
	s.RawDB().SetMaxIdleConns(50)
	s.RawDB().SetConnMaxLifetime(10 * time.Minute)

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ts := &TestStore{
		Store:            s,
		CourseIDs:        make([]string, 0, numCourses),
		EntityKeys:       make([]string, 0, numCourses*modulesPerCourse),
		TotalCourses:     numCourses,
		ModulesPerCourse: modulesPerCourse,
	}

	// Deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	courses := generateCourses(numCourses, modulesPerCourse)
	for _, course := range courses {
		if err := s.SaveCourseContext(ctx, course); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to insert course %s: %w", course.ID, err)
		}
		ts.CourseIDs = append(ts.CourseIDs, course.ID)

		for _, m := range course.Modules {
			ts.EntityKeys = append(ts.EntityKeys, record.EntityKey(course.ID, m.ID))
		}
	}

	if err := ts.seedProgress(ctx, courses, rng); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := ts.seedBacklog(ctx, backlogPct, rng); err != nil {
		_ = s.Close()
		return nil, err
	}

	return ts, nil
}

// Close closes the test store connection.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// seedProgress writes a progress row for most modules, roughly half of
// them already synced.
func (ts *TestStore) seedProgress(ctx context.Context, courses []*record.Course, rng *rand.Rand) error {
	base := time.Now().Add(-7 * 24 * time.Hour)

	for _, course := range courses {
		for i, m := range course.Modules {
			// A fifth of the modules have never been opened
			if rng.Float64() < 0.2 {
				continue
			}

			updatedAt := base.Add(time.Duration(rng.Intn(6*24)) * time.Hour)
			p := &record.Progress{
				CourseID:  course.ID,
				ModuleID:  m.ID,
				Progress:  float64(rng.Intn(101)) / 100,
				UpdatedAt: updatedAt,
			}
			if p.Progress == 1 {
				p.Completed = true
			}
			if rng.Float64() < 0.5 {
				syncedAt := updatedAt.Add(time.Minute)
				p.Synced = true
				p.SyncedAt = &syncedAt
			}

			if err := ts.Store.PutProgress(ctx, p); err != nil {
				return fmt.Errorf("failed to seed progress %s module %d: %w", course.ID, i, err)
			}
		}
	}
	return nil
}

// seedBacklog enqueues pending mutations for backlogPct of the entity
// keys, one to three entries each.
func (ts *TestStore) seedBacklog(ctx context.Context, backlogPct float64, rng *rand.Rand) error {
	if backlogPct <= 0 {
		return nil
	}
	if backlogPct > 1 {
		backlogPct = 1
	}

	numToQueue := int(float64(len(ts.EntityKeys)) * backlogPct)
	perm := rng.Perm(len(ts.EntityKeys))

	for i := 0; i < numToQueue; i++ {
		key := ts.EntityKeys[perm[i]]
		courseID, moduleID, err := record.SplitEntityKey(key)
		if err != nil {
			return err
		}

		entries := 1 + rng.Intn(3)
		updatedAt := time.Now().Add(-time.Duration(rng.Intn(60)) * time.Minute)

		for j := 0; j < entries; j++ {
			mutation := record.ProgressMutation{
				CourseID:  courseID,
				ModuleID:  moduleID,
				Progress:  float64(rng.Intn(101)) / 100,
				UpdatedAt: updatedAt.Add(time.Duration(j) * time.Minute),
			}
			if _, err := ts.Store.EnqueueContext(ctx, record.MutationProgressUpdate, mutation); err != nil {
				return fmt.Errorf("failed to seed queue entry for %s: %w", key, err)
			}
		}

		ts.QueuedKeys = append(ts.QueuedKeys, key)
	}
	return nil
}

// RunConcurrentReads simulates N concurrent sessions reading progress.
//
// Each session performs readsPerSession course-progress lookups against
// randomly chosen courses, recording latency for each. Returns
// aggregated latency statistics.
func (ts *TestStore) RunConcurrentReads(numSessions, readsPerSession int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	var allDurations []time.Duration
	var errorCount int

	resultsChan := make(chan []time.Duration, numSessions)
	errorsChan := make(chan error, numSessions)

	// Launch concurrent sessions
	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(sessionID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(sessionID)))
			durations := make([]time.Duration, 0, readsPerSession)

			for j := 0; j < readsPerSession; j++ {
				courseID := ts.CourseIDs[rng.Intn(len(ts.CourseIDs))]

				start := time.Now()
				_, err := ts.Store.GetProgressByCourse(courseID)
				elapsed := time.Since(start)

				durations = append(durations, elapsed)

				if err != nil {
					errorsChan <- fmt.Errorf("session %d read %d failed: %w", sessionID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	// Wait for all sessions to complete
	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			errorCount++
			fmt.Printf("Error: %v\n", err)
		}
	}

	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful reads completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount

	return stats, nil
}

// VerifyNoRaces runs readers, writers and a reconciler concurrently.
//
// Reader sessions check every row they see for invariant violations
// (progress range, synced rows carrying a timestamp), writer sessions
// save progress and enqueue mutations, and a single reconciler drains
// the queue the whole time. Returns the first violation found.
func (ts *TestStore) VerifyNoRaces(numSessions int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	eng := engine.New(ts.Store, nil, nil, log.New(io.Discard, "", 0))

	var wg sync.WaitGroup
	errorsChan := make(chan error, numSessions*2+1)

	// Launch reader sessions
	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(sessionID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(sessionID)))

			for {
				select {
				case <-ctx.Done():
					return
				default:
					courseID := ts.CourseIDs[rng.Intn(len(ts.CourseIDs))]
					rows, err := ts.Store.GetProgressByCourse(courseID)
					if err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("session %d read failed: %w", sessionID, err)
						return
					}

					// Verify data consistency
					for _, p := range rows {
						if p.Progress < 0 || p.Progress > 1 {
							errorsChan <- fmt.Errorf("session %d found progress out of range: %s = %g",
								sessionID, p.EntityKey(), p.Progress)
							return
						}
						if p.Synced && p.SyncedAt == nil {
							errorsChan <- fmt.Errorf("session %d found synced row without timestamp: %s",
								sessionID, p.EntityKey())
							return
						}
					}

					// Small sleep to avoid hammering
					time.Sleep(1 * time.Millisecond)
				}
			}
		}(i)
	}

	// Launch writer sessions
	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(sessionID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(1000 + sessionID)))

			for {
				select {
				case <-ctx.Done():
					return
				default:
					key := ts.EntityKeys[rng.Intn(len(ts.EntityKeys))]
					courseID, moduleID, err := record.SplitEntityKey(key)
					if err != nil {
						errorsChan <- err
						return
					}

					now := time.Now().UTC()
					p := &record.Progress{
						CourseID:  courseID,
						ModuleID:  moduleID,
						Progress:  float64(rng.Intn(101)) / 100,
						UpdatedAt: now,
					}
					if err := ts.Store.SaveProgress(p); err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("session %d write failed: %w", sessionID, err)
						return
					}
					if _, err := ts.Store.Enqueue(record.MutationProgressUpdate, p.Mutation()); err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("session %d enqueue failed: %w", sessionID, err)
						return
					}

					time.Sleep(5 * time.Millisecond)
				}
			}
		}(i)
	}

	// Single reconciler draining the queue while sessions run
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			default:
				_, err := eng.SyncDataContext(ctx, engine.Options{})
				if err != nil && !errors.Is(err, engine.ErrSyncInProgress) && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("sync pass failed: %w", err)
					return
				}
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats returns statistics about the test store.
func (ts *TestStore) Stats() map[string]interface{} {
	pending, _ := ts.Store.CountQueue(context.Background())
	return map[string]interface{}{
		"total_courses":      ts.TotalCourses,
		"modules_per_course": ts.ModulesPerCourse,
		"entity_keys":        len(ts.EntityKeys),
		"queued_keys":        len(ts.QueuedKeys),
		"pending_entries":    pending,
	}
}

// generateCourses creates test courses with a realistic module mix.
func generateCourses(count, modulesPerCourse int) []*record.Course {
	courses := make([]*record.Course, count)

	// Module type distribution: weighted toward video
	// video: 50%, quiz: 20%, document: 20%, assignment: 10%
	moduleTypes := []record.ModuleType{
		record.ModuleVideo, record.ModuleVideo, record.ModuleVideo,
		record.ModuleVideo, record.ModuleVideo,
		record.ModuleQuiz, record.ModuleQuiz,
		record.ModuleDocument, record.ModuleDocument,
		record.ModuleAssignment,
	}

	baseTime := time.Now().Add(-30 * 24 * time.Hour) // 30 days ago

	for i := 0; i < count; i++ {
		courseID := fmt.Sprintf("load-%05d", i)

		modules := make([]record.Module, modulesPerCourse)
		for j := 0; j < modulesPerCourse; j++ {
			mt := moduleTypes[(i+j)%len(moduleTypes)]
			modules[j] = record.Module{
				ID:       fmt.Sprintf("m%03d", j),
				Type:     mt,
				Duration: 300 + 60*(j%10),
			}
		}

		// Stagger download times
		downloadedAt := baseTime.Add(time.Duration(i) * time.Minute)

		courses[i] = &record.Course{
			ID:           courseID,
			Title:        fmt.Sprintf("Course %d", i),
			Description:  fmt.Sprintf("Generated course for load testing (%d modules)", modulesPerCourse),
			Modules:      modules,
			SizeBytes:    int64(modulesPerCourse) * 1 << 20,
			DownloadedAt: downloadedAt,
		}
	}

	return courses
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	// Calculate mean
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	// Calculate percentiles
	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       mean,
		P50:        p50,
		P95:        p95,
		P99:        p99,
		TotalReads: len(durations),
		Durations:  sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Reads:  %d\n", s.TotalReads)
	fmt.Printf("  Errors:       %d\n", s.Errors)
	fmt.Printf("  Min:          %v\n", s.Min)
	fmt.Printf("  P50 (Median): %v\n", s.P50)
	fmt.Printf("  Mean:         %v\n", s.Mean)
	fmt.Printf("  P95:          %v\n", s.P95)
	fmt.Printf("  P99:          %v\n", s.P99)
	fmt.Printf("  Max:          %v\n", s.Max)
}
