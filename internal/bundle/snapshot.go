package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
)

// SnapshotVersion is the snapshot line format version.
const SnapshotVersion = 1

// Snapshot line kinds. The header is always the first line; restore
// rejects files that do not start with one.
const (
	kindHeader   = "snapshot"
	kindProgress = "progress"
	kindQueue    = "queue"
)

// snapshotLine is one JSONL line of a state snapshot. Exactly one of
// the payload fields is set, selected by Kind.
type snapshotLine struct {
	Kind      string             `json:"kind"`
	Version   int                `json:"version,omitempty"`
	CreatedAt *time.Time         `json:"createdAt,omitempty"`
	Progress  *record.Progress   `json:"progress,omitempty"`
	Entry     *record.QueueEntry `json:"entry,omitempty"`
}

// SnapshotResult reports what a snapshot export wrote.
type SnapshotResult struct {
	Path         string
	ProgressRows int
	QueueEntries int
}

// RestoreOptions configures a snapshot restore.
type RestoreOptions struct {
	// DryRun parses and validates the snapshot without writing anything.
	DryRun bool

	// Backup exports the store's current state next to the snapshot
	// before applying it, so a bad restore can be undone.
	Backup bool
}

// RestoreResult contains statistics about a restore.
type RestoreResult struct {
	ProgressRestored int
	EntriesRestored  int
	BackupCreated    string
	Errors           []string
}

// ExportSnapshot writes the store's progress rows and pending queue
// entries as a JSONL file at path. The write is atomic: a crash leaves
// either the previous file or the complete new one.
func ExportSnapshot(ctx context.Context, st *store.Store, path string) (*SnapshotResult, error) {
	progress, err := st.ListProgressContext(ctx, store.ProgressFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read progress rows: %w", err)
	}
	entries, err := st.DrainQueueContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)

	encoder := json.NewEncoder(f)

	now := time.Now().UTC()
	header := snapshotLine{Kind: kindHeader, Version: SnapshotVersion, CreatedAt: &now}
	if err := encoder.Encode(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write snapshot header: %w", err)
	}

	for _, p := range progress {
		if err := encoder.Encode(snapshotLine{Kind: kindProgress, Progress: p}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write progress line: %w", err)
		}
	}
	for _, e := range entries {
		if err := encoder.Encode(snapshotLine{Kind: kindQueue, Entry: e}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write queue line: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("failed to rename snapshot file: %w", err)
	}

	return &SnapshotResult{
		Path:         path,
		ProgressRows: len(progress),
		QueueEntries: len(entries),
	}, nil
}

// readSnapshot parses a JSONL snapshot file.
func readSnapshot(path string) ([]*record.Progress, []*record.QueueEntry, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	decoder := json.NewDecoder(f)

	var header snapshotLine
	if err := decoder.Decode(&header); err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if header.Kind != kindHeader {
		return nil, nil, fmt.Errorf("not a snapshot file: first line is %q, expected %q", header.Kind, kindHeader)
	}
	if header.Version > SnapshotVersion {
		return nil, nil, fmt.Errorf("%w: snapshot is version %d, this build supports up to %d",
			ErrSchemaTooNew, header.Version, SnapshotVersion)
	}

	var progress []*record.Progress
	var entries []*record.QueueEntry
	lineNum := 1

	for {
		var line snapshotLine
		if err := decoder.Decode(&line); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		switch line.Kind {
		case kindProgress:
			if line.Progress == nil {
				return nil, nil, fmt.Errorf("line %d: progress line without payload", lineNum)
			}
			progress = append(progress, line.Progress)
		case kindQueue:
			if line.Entry == nil {
				return nil, nil, fmt.Errorf("line %d: queue line without payload", lineNum)
			}
			entries = append(entries, line.Entry)
		default:
			return nil, nil, fmt.Errorf("line %d: unknown line kind %q", lineNum, line.Kind)
		}
	}

	return progress, entries, nil
}

// RestoreSnapshot applies a JSONL snapshot to the store.
//
// Rows that fail validation are recorded in the result's error list and
// skipped; the rest of the snapshot is still applied. Restored progress
// keeps its original synced flags and restored queue entries keep their
// ids and timestamps, so a restored device resumes exactly where the
// snapshot was taken.
func RestoreSnapshot(ctx context.Context, st *store.Store, path string, opts RestoreOptions) (*RestoreResult, error) {
	progress, entries, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}

	if opts.Backup && !opts.DryRun {
		backupPath := path + ".pre-restore." + time.Now().Format("20060102-150405")
		if _, err := ExportSnapshot(ctx, st, backupPath); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	for _, p := range progress {
		if err := p.Validate(); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to restore progress %s: %v", p.EntityKey(), err))
			continue
		}
		if !opts.DryRun {
			if err := st.PutProgress(ctx, p); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to restore progress %s: %v", p.EntityKey(), err))
				continue
			}
		}
		result.ProgressRestored++
	}

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to restore queue entry %s: %v", e.ID, err))
			continue
		}
		if !opts.DryRun {
			if err := st.PutQueueEntry(ctx, e); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to restore queue entry %s: %v", e.ID, err))
				continue
			}
		}
		result.EntriesRestored++
	}

	return result, nil
}
