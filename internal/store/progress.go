package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/record"
)

// SaveProgress records a local progress event for one course module.
//
// The row is ALWAYS written unsynced: local mutations invalidate any
// previous synced state for the entity. Synced rows are written only by
// AdoptProgress, which the engine uses when reconciliation settles.
func (s *Store) SaveProgress(p *record.Progress) error {
	return s.SaveProgressContext(context.Background(), p)
}

// SaveProgressContext records a local progress event with context support.
func (s *Store) SaveProgressContext(ctx context.Context, p *record.Progress) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}

	query := `
	INSERT INTO progress (course_id, module_id, progress, completed, updated_at, synced, synced_at)
	VALUES (?, ?, ?, ?, ?, 0, NULL)
	ON CONFLICT(course_id, module_id) DO UPDATE SET
		progress = excluded.progress,
		completed = excluded.completed,
		updated_at = excluded.updated_at,
		synced = 0,
		synced_at = NULL
	`

	_, err = conn.ExecContext(ctx, query,
		p.CourseID,
		p.ModuleID,
		p.Progress,
		boolToInt(p.Completed),
		p.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert progress %s: %w", p.EntityKey(), err)
	}

	return nil
}

// AdoptProgress writes a freshly synced progress row and removes the
// given queue entries in ONE transaction. This is the only path that
// marks a row synced, which keeps the invariant that a synced row has
// no pending queue entries.
//
// entryIDs may be empty (e.g. when restoring a snapshot of previously
// synced state).
func (s *Store) AdoptProgress(p *record.Progress, entryIDs []string) error {
	return s.AdoptProgressContext(context.Background(), p, entryIDs)
}

// AdoptProgressContext writes a synced row and removes queue entries
// atomically, with context support.
func (s *Store) AdoptProgressContext(ctx context.Context, p *record.Progress, entryIDs []string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}
	if !p.Synced {
		return fmt.Errorf("adopt requires a synced row for %s", p.EntityKey())
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO progress (course_id, module_id, progress, completed, updated_at, synced, synced_at)
	VALUES (?, ?, ?, ?, ?, 1, ?)
	ON CONFLICT(course_id, module_id) DO UPDATE SET
		progress = excluded.progress,
		completed = excluded.completed,
		updated_at = excluded.updated_at,
		synced = 1,
		synced_at = excluded.synced_at
	`

	_, err = tx.ExecContext(ctx, query,
		p.CourseID,
		p.ModuleID,
		p.Progress,
		boolToInt(p.Completed),
		p.UpdatedAt.Format(timeFormat),
		timeToNullString(p.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to adopt progress %s: %w", p.EntityKey(), err)
	}

	for _, id := range entryIDs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// PutProgress writes a progress row exactly as given, preserving its
// synced flag. Snapshot restore uses this; the normal mutation paths
// are SaveProgress (forces unsynced) and AdoptProgress (marks synced).
func (s *Store) PutProgress(ctx context.Context, p *record.Progress) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}

	query := `
	INSERT INTO progress (course_id, module_id, progress, completed, updated_at, synced, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(course_id, module_id) DO UPDATE SET
		progress = excluded.progress,
		completed = excluded.completed,
		updated_at = excluded.updated_at,
		synced = excluded.synced,
		synced_at = excluded.synced_at
	`

	_, err = conn.ExecContext(ctx, query,
		p.CourseID,
		p.ModuleID,
		p.Progress,
		boolToInt(p.Completed),
		p.UpdatedAt.Format(timeFormat),
		boolToInt(p.Synced),
		timeToNullString(p.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put progress %s: %w", p.EntityKey(), err)
	}

	return nil
}

// GetProgress retrieves the progress row for one course module.
// Returns ErrNotFound if no row exists for the pair.
func (s *Store) GetProgress(courseID, moduleID string) (*record.Progress, error) {
	return s.GetProgressContext(context.Background(), courseID, moduleID)
}

// GetProgressContext retrieves one progress row with context support.
func (s *Store) GetProgressContext(ctx context.Context, courseID, moduleID string) (*record.Progress, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT course_id, module_id, progress, completed, updated_at, synced, synced_at
	FROM progress
	WHERE course_id = ? AND module_id = ?
	`

	p, err := scanProgress(conn.QueryRowContext(ctx, query, courseID, moduleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("progress %s: %w", record.EntityKey(courseID, moduleID), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get progress %s: %w", record.EntityKey(courseID, moduleID), err)
	}
	return p, nil
}

// ProgressFilter configures the ListProgress query.
type ProgressFilter struct {
	// CourseID restricts rows to one course (empty = all courses)
	CourseID string
	// Synced filters by the synced flag when non-nil
	Synced *bool
}

// GetProgressByCourse retrieves all progress rows for a course.
func (s *Store) GetProgressByCourse(courseID string) ([]*record.Progress, error) {
	return s.ListProgressContext(context.Background(), ProgressFilter{CourseID: courseID})
}

// ListProgress retrieves progress rows matching the filter.
func (s *Store) ListProgress(filter ProgressFilter) ([]*record.Progress, error) {
	return s.ListProgressContext(context.Background(), filter)
}

// ListProgressContext retrieves progress rows with context support.
// Results are ordered by course_id, module_id for stable output.
func (s *Store) ListProgressContext(ctx context.Context, filter ProgressFilter) ([]*record.Progress, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT course_id, module_id, progress, completed, updated_at, synced, synced_at
	FROM progress
	`

	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.Synced != nil {
		conditions = append(conditions, "synced = ?")
		args = append(args, boolToInt(*filter.Synced))
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY course_id ASC, module_id ASC"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var result []*record.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress: %w", err)
	}

	return result, nil
}

// DeleteProgress removes the progress row for one course module.
// Returns nil if no row exists (idempotent).
func (s *Store) DeleteProgress(ctx context.Context, courseID, moduleID string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx,
		"DELETE FROM progress WHERE course_id = ? AND module_id = ?", courseID, moduleID)
	if err != nil {
		return fmt.Errorf("failed to delete progress %s: %w", record.EntityKey(courseID, moduleID), err)
	}
	return nil
}

// scanProgress scans one progress row.
func scanProgress(row scanner) (*record.Progress, error) {
	var p record.Progress
	var completed, synced int
	var updatedAt string
	var syncedAt sql.NullString

	err := row.Scan(
		&p.CourseID,
		&p.ModuleID,
		&p.Progress,
		&completed,
		&updatedAt,
		&synced,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Completed = completed != 0
	p.Synced = synced != 0
	if t, err := time.Parse(timeFormat, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	p.SyncedAt = nullStringToTime(syncedAt)

	return &p, nil
}

// boolToInt converts a bool to the 0/1 integer SQLite stores.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
