package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/record"
)

// Enqueue appends a pending mutation to the sync queue.
//
// Every call produces a NEW entry with a fresh identifier, the entity
// key derived from the payload, the current timestamp, and version 1.
// Entries are never updated in place; the full causal history survives
// until the engine compacts it during a sync pass.
func (s *Store) Enqueue(mutationType record.MutationType, payload record.ProgressMutation) (*record.QueueEntry, error) {
	return s.EnqueueContext(context.Background(), mutationType, payload)
}

// EnqueueContext appends a pending mutation with context support.
func (s *Store) EnqueueContext(ctx context.Context, mutationType record.MutationType, payload record.ProgressMutation) (*record.QueueEntry, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	if !mutationType.IsValid() {
		return nil, fmt.Errorf("invalid mutation type %q", mutationType)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mutation payload: %w", err)
	}

	entry := &record.QueueEntry{
		ID:        uuid.NewString(),
		Type:      mutationType,
		EntityKey: payload.EntityKey(),
		Payload:   payload,
		QueuedAt:  time.Now(),
		Version:   1,
	}

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation payload: %w", err)
	}

	query := `
	INSERT INTO sync_queue (id, type, entity_key, payload, queued_at, version)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = conn.ExecContext(ctx, query,
		entry.ID,
		string(entry.Type),
		entry.EntityKey,
		string(payloadJSON),
		entry.QueuedAt.Format(timeFormat),
		entry.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue mutation for %s: %w", entry.EntityKey, err)
	}

	return entry, nil
}

// PutQueueEntry inserts a fully formed queue entry, keeping its id,
// timestamps and version. Snapshot restore uses this; live mutations
// go through Enqueue, which mints fresh entries.
func (s *Store) PutQueueEntry(ctx context.Context, entry *record.QueueEntry) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation payload: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO sync_queue (id, type, entity_key, payload, queued_at, version)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = conn.ExecContext(ctx, query,
		entry.ID,
		string(entry.Type),
		entry.EntityKey,
		string(payloadJSON),
		entry.QueuedAt.Format(timeFormat),
		entry.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to put queue entry %s: %w", entry.ID, err)
	}

	return nil
}

// DrainQueue returns ALL pending entries without removing any, oldest
// first. Removal happens per entity key once the engine has reconciled
// it, so a failed sync pass leaves the queue intact.
func (s *Store) DrainQueue() ([]*record.QueueEntry, error) {
	return s.DrainQueueContext(context.Background())
}

// DrainQueueContext returns all pending entries with context support.
func (s *Store) DrainQueueContext(ctx context.Context) ([]*record.QueueEntry, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, type, entity_key, payload, queued_at, version
	FROM sync_queue
	ORDER BY queued_at ASC, id ASC
	`

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to drain sync queue: %w", err)
	}
	defer rows.Close()

	var entries []*record.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	return entries, nil
}

// GetQueueEntriesByKey returns the pending entries for one entity key,
// oldest first.
func (s *Store) GetQueueEntriesByKey(ctx context.Context, entityKey string) ([]*record.QueueEntry, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, type, entity_key, payload, queued_at, version
	FROM sync_queue
	WHERE entity_key = ?
	ORDER BY queued_at ASC, id ASC
	`

	rows, err := conn.QueryContext(ctx, query, entityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries for %s: %w", entityKey, err)
	}
	defer rows.Close()

	var entries []*record.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	return entries, nil
}

// RemoveQueueEntry removes a single queue entry by id.
// Returns nil if the entry doesn't exist (idempotent).
func (s *Store) RemoveQueueEntry(id string) error {
	return s.RemoveQueueEntryContext(context.Background(), id)
}

// RemoveQueueEntryContext removes a queue entry with context support.
func (s *Store) RemoveQueueEntryContext(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
	}
	return nil
}

// RemoveQueueEntries removes a batch of queue entries in one transaction.
func (s *Store) RemoveQueueEntries(ctx context.Context, ids []string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ClearQueue removes every pending entry.
func (s *Store) ClearQueue() error {
	return s.ClearQueueContext(context.Background())
}

// ClearQueueContext removes every pending entry with context support.
func (s *Store) ClearQueueContext(ctx context.Context) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

// CountQueue returns the number of pending queue entries.
func (s *Store) CountQueue(ctx context.Context) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return count, nil
}

// GetQueueEntry retrieves a single queue entry by id.
// Returns ErrNotFound if no entry has that id.
func (s *Store) GetQueueEntry(ctx context.Context, id string) (*record.QueueEntry, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, type, entity_key, payload, queued_at, version
	FROM sync_queue
	WHERE id = ?
	`

	entry, err := scanQueueEntry(conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get queue entry %s: %w", id, err)
	}
	return entry, nil
}

// scanQueueEntry scans one queue entry row.
func scanQueueEntry(row scanner) (*record.QueueEntry, error) {
	var entry record.QueueEntry
	var typ string
	var payloadJSON string
	var queuedAt string

	err := row.Scan(
		&entry.ID,
		&typ,
		&entry.EntityKey,
		&payloadJSON,
		&queuedAt,
		&entry.Version,
	)
	if err != nil {
		return nil, err
	}

	entry.Type = record.MutationType(typ)
	if err := json.Unmarshal([]byte(payloadJSON), &entry.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation payload: %w", err)
	}
	if t, err := time.Parse(timeFormat, queuedAt); err == nil {
		entry.QueuedAt = t
	}

	return &entry, nil
}
