package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/satchelhq/satchel/internal/record"
)

// SaveConflict inserts or updates a conflict record.
func (s *Store) SaveConflict(c *record.Conflict) error {
	return s.SaveConflictContext(context.Background(), c)
}

// SaveConflictContext inserts or updates a conflict with context support.
func (s *Store) SaveConflictContext(ctx context.Context, c *record.Conflict) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid conflict: %w", err)
	}

	localJSON, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("failed to marshal local candidate: %w", err)
	}
	remoteJSON, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("failed to marshal remote candidate: %w", err)
	}

	query := `
	INSERT INTO conflicts (id, entity_key, local_payload, remote_payload, strategy, resolved, created_at, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		strategy = excluded.strategy,
		resolved = excluded.resolved,
		resolved_at = excluded.resolved_at
	`

	_, err = conn.ExecContext(ctx, query,
		c.ID,
		c.EntityKey,
		string(localJSON),
		string(remoteJSON),
		c.Strategy,
		boolToInt(c.Resolved),
		c.CreatedAt.Format(timeFormat),
		timeToNullString(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conflict %s: %w", c.ID, err)
	}

	return nil
}

// GetConflict retrieves a single conflict by id.
// Returns ErrNotFound if no conflict has that id.
func (s *Store) GetConflict(ctx context.Context, id string) (*record.Conflict, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, entity_key, local_payload, remote_payload, strategy, resolved, created_at, resolved_at
	FROM conflicts
	WHERE id = ?
	`

	c, err := scanConflict(conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conflict %s: %w", id, err)
	}
	return c, nil
}

// ConflictFilter configures the ListConflicts query.
type ConflictFilter struct {
	// OnlyUnresolved keeps only conflicts still awaiting resolution.
	OnlyUnresolved bool
	// EntityKey restricts to one entity (empty = all)
	EntityKey string
}

// ListConflicts retrieves conflicts matching the filter, oldest first.
func (s *Store) ListConflicts(filter ConflictFilter) ([]*record.Conflict, error) {
	return s.ListConflictsContext(context.Background(), filter)
}

// ListConflictsContext retrieves conflicts with context support.
func (s *Store) ListConflictsContext(ctx context.Context, filter ConflictFilter) ([]*record.Conflict, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, entity_key, local_payload, remote_payload, strategy, resolved, created_at, resolved_at
	FROM conflicts
	`

	var conditions []string
	var args []interface{}

	if filter.OnlyUnresolved {
		conditions = append(conditions, "resolved = 0")
	}
	if filter.EntityKey != "" {
		conditions = append(conditions, "entity_key = ?")
		args = append(args, filter.EntityKey)
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY created_at ASC"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*record.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

// MarkConflictResolved stamps a stored conflict resolved with the given
// strategy.
func (s *Store) MarkConflictResolved(ctx context.Context, id, strategy string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx,
		"UPDATE conflicts SET strategy = ?, resolved = 1, resolved_at = ? WHERE id = ?",
		strategy, time.Now().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("failed to mark conflict %s resolved: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteConflict removes a conflict record.
// Returns nil if the conflict doesn't exist (idempotent).
func (s *Store) DeleteConflict(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM conflicts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conflict %s: %w", id, err)
	}
	return nil
}

// scanConflict scans one conflict row.
func scanConflict(row scanner) (*record.Conflict, error) {
	var c record.Conflict
	var localJSON, remoteJSON string
	var strategy sql.NullString
	var resolved int
	var createdAt string
	var resolvedAt sql.NullString

	err := row.Scan(
		&c.ID,
		&c.EntityKey,
		&localJSON,
		&remoteJSON,
		&strategy,
		&resolved,
		&createdAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(localJSON), &c.Local); err != nil {
		return nil, fmt.Errorf("failed to unmarshal local candidate: %w", err)
	}
	if err := json.Unmarshal([]byte(remoteJSON), &c.Remote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remote candidate: %w", err)
	}

	c.Strategy = strategy.String
	c.Resolved = resolved != 0
	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		c.CreatedAt = t
	}
	c.ResolvedAt = nullStringToTime(resolvedAt)

	return &c, nil
}
