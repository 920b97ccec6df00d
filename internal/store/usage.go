package store

import (
	"context"
	"fmt"
)

// Per-row overhead approximations for record families whose byte size
// is not tracked exactly. Used only for UI reporting.
const (
	progressRowOverhead = 256
	queueRowOverhead    = 512
)

// Usage reports aggregate storage consumption for quota and UI display.
type Usage struct {
	Used       int64   `json:"used"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// EstimateUsage computes aggregate space usage across all record
// families.
//
// Used bytes are the sum of course sizes, asset sizes, and a fixed
// per-row overhead for progress and queue entries. Total comes from the
// quota capability injected with SetQuotaFunc; without one (or when the
// host grants no quota) Total is 0 and Percentage is reported as 0
// rather than dividing by zero.
func (s *Store) EstimateUsage(ctx context.Context) (*Usage, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	var courseBytes, assetBytes int64
	var progressRows, queueRows int64

	if err := conn.QueryRowContext(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM courses").Scan(&courseBytes); err != nil {
		return nil, fmt.Errorf("failed to sum course sizes: %w", err)
	}
	if err := conn.QueryRowContext(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM assets").Scan(&assetBytes); err != nil {
		return nil, fmt.Errorf("failed to sum asset sizes: %w", err)
	}
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM progress").Scan(&progressRows); err != nil {
		return nil, fmt.Errorf("failed to count progress rows: %w", err)
	}
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&queueRows); err != nil {
		return nil, fmt.Errorf("failed to count queue rows: %w", err)
	}

	usage := &Usage{
		Used: courseBytes + assetBytes +
			progressRows*progressRowOverhead +
			queueRows*queueRowOverhead,
	}

	if s.quota != nil {
		total, err := s.quota(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query storage quota: %w", err)
		}
		usage.Total = total
	}

	if usage.Total > 0 {
		usage.Percentage = float64(usage.Used) / float64(usage.Total) * 100
	}

	return usage, nil
}
