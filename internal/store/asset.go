package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/record"
)

// SaveAsset inserts or updates a binary asset.
//
// The owning course row must already exist; the foreign key rejects
// orphan assets.
func (s *Store) SaveAsset(asset *record.Asset) error {
	return s.SaveAssetContext(context.Background(), asset)
}

// SaveAssetContext inserts or updates an asset with context support.
func (s *Store) SaveAssetContext(ctx context.Context, asset *record.Asset) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := asset.Validate(); err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}

	query := `
	INSERT INTO assets (id, course_id, url, mime_type, size_bytes, data, downloaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		course_id = excluded.course_id,
		url = excluded.url,
		mime_type = excluded.mime_type,
		size_bytes = excluded.size_bytes,
		data = excluded.data,
		downloaded_at = excluded.downloaded_at
	`

	_, err = conn.ExecContext(ctx, query,
		asset.ID,
		asset.CourseID,
		asset.URL,
		asset.MIMEType,
		asset.SizeBytes,
		asset.Data,
		asset.DownloadedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", asset.ID, err)
	}

	return nil
}

// GetAsset retrieves a single asset by ID, payload included.
// Returns ErrNotFound if no asset has that id.
func (s *Store) GetAsset(id string) (*record.Asset, error) {
	return s.GetAssetContext(context.Background(), id)
}

// GetAssetContext retrieves a single asset with context support.
func (s *Store) GetAssetContext(ctx context.Context, id string) (*record.Asset, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, course_id, url, mime_type, size_bytes, data, downloaded_at
	FROM assets
	WHERE id = ?
	`

	asset, err := scanAsset(conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get asset %s: %w", id, err)
	}
	return asset, nil
}

// GetAssetByURL retrieves an asset by its source url.
// Returns ErrNotFound if no asset was downloaded from that url.
func (s *Store) GetAssetByURL(ctx context.Context, url string) (*record.Asset, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, course_id, url, mime_type, size_bytes, data, downloaded_at
	FROM assets
	WHERE url = ?
	LIMIT 1
	`

	asset, err := scanAsset(conn.QueryRowContext(ctx, query, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset url %s: %w", url, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get asset by url %s: %w", url, err)
	}
	return asset, nil
}

// GetAssetsByCourse retrieves all assets owned by a course.
func (s *Store) GetAssetsByCourse(courseID string) ([]*record.Asset, error) {
	return s.GetAssetsByCourseContext(context.Background(), courseID)
}

// GetAssetsByCourseContext retrieves a course's assets with context support.
func (s *Store) GetAssetsByCourseContext(ctx context.Context, courseID string) ([]*record.Asset, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, course_id, url, mime_type, size_bytes, data, downloaded_at
	FROM assets
	WHERE course_id = ?
	ORDER BY downloaded_at ASC
	`

	rows, err := conn.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets for course %s: %w", courseID, err)
	}
	defer rows.Close()

	var assets []*record.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return assets, nil
}

// DeleteAsset removes a single asset.
// Returns nil if the asset doesn't exist (idempotent).
func (s *Store) DeleteAsset(id string) error {
	return s.DeleteAssetContext(context.Background(), id)
}

// DeleteAssetContext removes an asset with context support.
func (s *Store) DeleteAssetContext(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", id, err)
	}
	return nil
}

// scanAsset scans one asset row.
func scanAsset(row scanner) (*record.Asset, error) {
	var asset record.Asset
	var mimeType sql.NullString
	var downloadedAt string

	err := row.Scan(
		&asset.ID,
		&asset.CourseID,
		&asset.URL,
		&mimeType,
		&asset.SizeBytes,
		&asset.Data,
		&downloadedAt,
	)
	if err != nil {
		return nil, err
	}

	asset.MIMEType = mimeType.String
	if t, err := time.Parse(timeFormat, downloadedAt); err == nil {
		asset.DownloadedAt = t
	}

	return &asset, nil
}
