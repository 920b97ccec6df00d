package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satchelhq/satchel/internal/record"
)

// SaveCourse inserts or updates a downloaded course.
//
// If a course with the same ID exists it is updated. Modules and asset
// summaries are stored as JSON array strings.
func (s *Store) SaveCourse(course *record.Course) error {
	return s.SaveCourseContext(context.Background(), course)
}

// SaveCourseContext inserts or updates a course with context support.
func (s *Store) SaveCourseContext(ctx context.Context, course *record.Course) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := course.Validate(); err != nil {
		return fmt.Errorf("invalid course: %w", err)
	}

	modulesJSON, err := json.Marshal(course.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal modules: %w", err)
	}
	assetsJSON, err := json.Marshal(course.Assets)
	if err != nil {
		return fmt.Errorf("failed to marshal asset summaries: %w", err)
	}

	_, err = conn.ExecContext(ctx, upsertCourseQuery, upsertCourseArgs(course, modulesJSON, assetsJSON)...)
	if err != nil {
		return fmt.Errorf("failed to upsert course: %w", err)
	}

	return nil
}

const upsertCourseQuery = `
INSERT INTO courses (
	id, title, version, description, thumbnail, modules, assets,
	size_bytes, downloaded_at, last_accessed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	version = excluded.version,
	description = excluded.description,
	thumbnail = excluded.thumbnail,
	modules = excluded.modules,
	assets = excluded.assets,
	size_bytes = excluded.size_bytes,
	downloaded_at = excluded.downloaded_at,
	last_accessed_at = excluded.last_accessed_at
`

func upsertCourseArgs(course *record.Course, modulesJSON, assetsJSON []byte) []interface{} {
	return []interface{}{
		course.ID,
		course.Title,
		course.Version,
		course.Description,
		course.Thumbnail,
		string(modulesJSON),
		string(assetsJSON),
		course.SizeBytes,
		course.DownloadedAt.Format(timeFormat),
		timeToNullString(course.LastAccessedAt),
	}
}

// GetCourse retrieves a single course by ID.
// Returns ErrNotFound if no course has that id.
func (s *Store) GetCourse(id string) (*record.Course, error) {
	return s.GetCourseContext(context.Background(), id)
}

// GetCourseContext retrieves a single course with context support.
func (s *Store) GetCourseContext(ctx context.Context, id string) (*record.Course, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, title, version, description, thumbnail, modules, assets,
	       size_bytes, downloaded_at, last_accessed_at
	FROM courses
	WHERE id = ?
	`

	course, err := scanCourse(conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("course %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get course %s: %w", id, err)
	}
	return course, nil
}

// CourseFilter configures the ListCourses query.
type CourseFilter struct {
	// NotAccessedSince keeps only courses whose last access (or, for
	// never-accessed courses, download) is before the given time.
	// Zero means no access filter.
	NotAccessedSince time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// GetCourses retrieves all downloaded courses, most recent first.
func (s *Store) GetCourses() ([]*record.Course, error) {
	return s.ListCoursesContext(context.Background(), CourseFilter{})
}

// ListCourses retrieves courses matching the given filter.
func (s *Store) ListCourses(filter CourseFilter) ([]*record.Course, error) {
	return s.ListCoursesContext(context.Background(), filter)
}

// ListCoursesContext retrieves courses with context support.
// Results are ordered by downloaded_at DESC.
func (s *Store) ListCoursesContext(ctx context.Context, filter CourseFilter) ([]*record.Course, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}

	if !filter.NotAccessedSince.IsZero() {
		conditions = append(conditions, "COALESCE(last_accessed_at, downloaded_at) < ?")
		args = append(args, filter.NotAccessedSince.Format(timeFormat))
	}

	query := `
	SELECT id, title, version, description, thumbnail, modules, assets,
	       size_bytes, downloaded_at, last_accessed_at
	FROM courses
	`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY downloaded_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return scanCourses(rows)
}

// TouchCourse updates a course's last-accessed timestamp to now.
func (s *Store) TouchCourse(id string) error {
	return s.TouchCourseContext(context.Background(), id)
}

// TouchCourseContext updates the last-accessed timestamp with context support.
func (s *Store) TouchCourseContext(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx,
		"UPDATE courses SET last_accessed_at = ? WHERE id = ?",
		time.Now().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("failed to touch course %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCourse removes a course, its assets, and its progress rows in
// one transaction. Partial completion is never observable: readers see
// either the full course or none of it.
//
// Returns nil if the course doesn't exist (idempotent). Pending queue
// entries are left untouched; the engine discards them when their
// course no longer resolves.
func (s *Store) DeleteCourse(id string) error {
	return s.DeleteCourseContext(context.Background(), id)
}

// DeleteCourseContext removes a course and its owned rows with context support.
func (s *Store) DeleteCourseContext(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Assets reference the course row, so they go before it.
	if _, err := tx.ExecContext(ctx, "DELETE FROM progress WHERE course_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete progress for course %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE course_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete assets for course %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM courses WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete course %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ImportCourse writes a course and its full asset set in one
// transaction. Existing assets for the course are replaced, so a
// re-import after a partial download never leaves stale payloads.
// Readers see either the complete new bundle or the previous state.
func (s *Store) ImportCourse(ctx context.Context, course *record.Course, assets []*record.Asset) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := course.Validate(); err != nil {
		return fmt.Errorf("invalid course: %w", err)
	}
	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid asset %s: %w", a.ID, err)
		}
		if a.CourseID != course.ID {
			return fmt.Errorf("asset %s belongs to course %s, not %s", a.ID, a.CourseID, course.ID)
		}
	}

	modulesJSON, err := json.Marshal(course.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal modules: %w", err)
	}
	assetsJSON, err := json.Marshal(course.Assets)
	if err != nil {
		return fmt.Errorf("failed to marshal asset summaries: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertCourseQuery, upsertCourseArgs(course, modulesJSON, assetsJSON)...); err != nil {
		return fmt.Errorf("failed to upsert course %s: %w", course.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE course_id = ?", course.ID); err != nil {
		return fmt.Errorf("failed to clear assets for course %s: %w", course.ID, err)
	}

	const insertAsset = `
	INSERT INTO assets (id, course_id, url, mime_type, size_bytes, data, downloaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range assets {
		if _, err := tx.ExecContext(ctx, insertAsset,
			a.ID, a.CourseID, a.URL, a.MIMEType, a.SizeBytes, a.Data,
			a.DownloadedAt.Format(timeFormat),
		); err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CountCourses returns the total number of downloaded courses.
func (s *Store) CountCourses(ctx context.Context) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM courses").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count courses: %w", err)
	}
	return count, nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCourse scans one course row.
func scanCourse(row scanner) (*record.Course, error) {
	var course record.Course
	var description, thumbnail sql.NullString
	var modulesJSON, assetsJSON sql.NullString
	var downloadedAt string
	var lastAccessedAt sql.NullString

	err := row.Scan(
		&course.ID,
		&course.Title,
		&course.Version,
		&description,
		&thumbnail,
		&modulesJSON,
		&assetsJSON,
		&course.SizeBytes,
		&downloadedAt,
		&lastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	course.Description = description.String
	course.Thumbnail = thumbnail.String

	if t, err := time.Parse(timeFormat, downloadedAt); err == nil {
		course.DownloadedAt = t
	}
	course.LastAccessedAt = nullStringToTime(lastAccessedAt)

	if modulesJSON.Valid && modulesJSON.String != "" && modulesJSON.String != "null" {
		if err := json.Unmarshal([]byte(modulesJSON.String), &course.Modules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal modules: %w", err)
		}
	} else {
		course.Modules = []record.Module{}
	}

	if assetsJSON.Valid && assetsJSON.String != "" && assetsJSON.String != "null" {
		if err := json.Unmarshal([]byte(assetsJSON.String), &course.Assets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal asset summaries: %w", err)
		}
	}

	return &course, nil
}

// scanCourses scans multiple course rows.
func scanCourses(rows *sql.Rows) ([]*record.Course, error) {
	var courses []*record.Course

	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}

	return courses, nil
}
