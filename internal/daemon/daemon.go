// Package daemon provides the background worker that keeps a satchel
// installation current.
//
// The daemon:
// 1. Watches the spool directory for arriving course bundles
// 2. Imports complete bundles into the local store
// 3. Runs periodic reconciliation passes over the mutation queue
// 4. Advances the device checkpoint and handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satchelhq/satchel/internal/bundle"
	"github.com/satchelhq/satchel/internal/device"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/resolver"
	"github.com/satchelhq/satchel/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run an automatic reconciliation pass
	SyncInterval time.Duration

	// DebounceInterval is how long to wait after the last filesystem
	// event before inspecting a spool entry
	// This batches rapid writes together
	DebounceInterval time.Duration

	// SpoolTimeout is how long an incomplete spool entry may linger
	// without gaining its manifest before it is dropped from the queue
	SpoolTimeout time.Duration

	// Strategy is the conflict resolution policy for automatic passes
	Strategy resolver.Strategy

	// CheckpointPath is the device.toml location. Empty disables
	// checkpoint advancement.
	CheckpointPath string

	// Replicate pushes the local replica to the remote primary after a
	// successful pass. Nil when the backend does not replicate.
	Replicate func(ctx context.Context) error

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 2 * time.Second,
		SpoolTimeout:     time.Minute,
		Strategy:         resolver.StrategyAuto,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates spool watching and queue reconciliation.
type Daemon struct {
	st       *store.Store
	eng      engine.Engine
	spoolDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // spool entry -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - st: the local store bundles are imported into
//   - eng: the sync engine driven on each pass
//   - spoolDir: directory the download pipeline drops course bundles in
//
// Use Start() to begin watching and syncing.
func New(st *store.Store, eng engine.Engine, spoolDir string) (*Daemon, error) {
	return NewWithConfig(st, eng, spoolDir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(st *store.Store, eng engine.Engine, spoolDir string, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		st:          st,
		eng:         eng,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Import bundles that arrived while it was down
// 2. Run an initial reconciliation pass
// 3. Watch the spool for new bundles, importing with debouncing
// 4. Run periodic reconciliation passes
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	// Consume bundles that arrived while the daemon was down
	d.sweepSpool()

	// Initial reconciliation pass
	d.runSyncPass()

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	d.config.Logger.Printf("Watching spool: %s", d.spoolDir)

	// Start background goroutines
	d.wg.Add(3)
	go d.watchSpoolEvents()
	go d.processChangeQueue()
	go d.runPeriodicSync()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	// Close watcher
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// sweepSpool imports every complete bundle already sitting in the
// spool. Directories still missing their manifest are queued so the
// debounce loop picks them up once the producer finishes writing.
func (d *Daemon) sweepSpool() {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		d.config.Logger.Printf("Error reading spool: %v", err)
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(d.spoolDir, e.Name())
		if !bundle.IsBundle(dir) {
			d.queueChange(dir)
			continue
		}
		d.importBundle(dir)
	}
}

// watchSpoolEvents monitors filesystem events and queues spool entries.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create, Write, Rename
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			entry, ok := d.spoolEntry(event.Name)
			if !ok {
				continue
			}

			d.config.Logger.Printf("Spool event: %s %s", event.Op, event.Name)
			d.queueChange(entry)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// spoolEntry maps an event path to its top-level spool entry.
func (d *Daemon) spoolEntry(path string) (string, bool) {
	rel, err := filepath.Rel(d.spoolDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	top, _, _ := strings.Cut(rel, string(filepath.Separator))
	return filepath.Join(d.spoolDir, top), true
}

// queueChange adds a spool entry to the change queue with debouncing.
func (d *Daemon) queueChange(dir string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[dir] = time.Now()
}

// processChangeQueue processes queued spool entries with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports spool entries that have settled.
//
// The watcher is not recursive, so a bundle's manifest arriving inside
// its directory fires no event; entries that are not yet complete stay
// queued and are re-checked every tick until SpoolTimeout.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()

	for dir, queuedAt := range d.changeQueue {
		// Only process if enough time has passed (debouncing)
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		info, err := os.Stat(dir)
		if os.IsNotExist(err) {
			// Producer withdrew the entry
			delete(d.changeQueue, dir)
			continue
		}
		if err != nil || !info.IsDir() {
			delete(d.changeQueue, dir)
			continue
		}

		if !bundle.IsBundle(dir) {
			// Manifest not written yet; the manifest is always the last
			// file a producer writes
			if now.Sub(queuedAt) > d.config.SpoolTimeout {
				d.config.Logger.Printf("Dropping incomplete spool entry: %s", dir)
				delete(d.changeQueue, dir)
			}
			continue
		}

		d.config.Logger.Printf("Processing bundle: %s", dir)
		d.importBundle(dir)
		delete(d.changeQueue, dir)
	}
}

// importBundle applies one spooled bundle and consumes it. Entries
// that fail to import are left in place for inspection.
func (d *Daemon) importBundle(dir string) {
	result, err := bundle.Import(d.ctx, d.st, dir, bundle.ImportOptions{})
	if err != nil {
		d.config.Logger.Printf("Error importing bundle %s: %v", dir, err)
		return
	}

	if result.Skipped {
		d.config.Logger.Printf("Skipped bundle %s: %s", filepath.Base(dir), result.SkipReason)
	} else {
		d.config.Logger.Printf("Imported course %s (%d assets, %d bytes)",
			result.CourseID, result.AssetsImported, result.SizeBytes)
	}

	if err := os.RemoveAll(dir); err != nil {
		d.config.Logger.Printf("Error removing spool entry %s: %v", dir, err)
	}
}

// runPeriodicSync runs reconciliation passes on a fixed interval.
func (d *Daemon) runPeriodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runSyncPass()
		}
	}
}

// runSyncPass runs one reconciliation pass and, when it succeeds,
// replicates and advances the device checkpoint.
func (d *Daemon) runSyncPass() {
	result, err := d.eng.SyncDataContext(d.ctx, engine.Options{Strategy: d.config.Strategy})
	if err != nil {
		if errors.Is(err, engine.ErrSyncInProgress) {
			d.config.Logger.Println("Sync already running, skipping pass")
			return
		}
		d.config.Logger.Printf("Sync pass failed: %v", err)
		return
	}

	d.config.Logger.Printf("Sync pass: %d synced, %d conflicts, %d errors",
		result.SyncedItems, len(result.Conflicts), len(result.Errors))

	if !result.Success {
		return
	}

	if d.config.Replicate != nil {
		if err := d.config.Replicate(d.ctx); err != nil {
			d.config.Logger.Printf("Error replicating to primary: %v", err)
		}
	}

	d.advanceCheckpoint(result.LastSyncTime)
}

// advanceCheckpoint records the successful pass in device.toml.
func (d *Daemon) advanceCheckpoint(at time.Time) {
	if d.config.CheckpointPath == "" {
		return
	}

	id, err := device.LoadOrCreate(d.config.CheckpointPath)
	if err != nil {
		d.config.Logger.Printf("Error loading device checkpoint: %v", err)
		return
	}

	id.Advance(at)
	if err := id.Save(d.config.CheckpointPath); err != nil {
		d.config.Logger.Printf("Error saving device checkpoint: %v", err)
	}
}
