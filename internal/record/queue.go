package record

import (
	"fmt"
	"time"
)

// MutationType identifies the kind of local change a queue entry carries.
type MutationType string

const (
	// MutationProgressUpdate is a queued per-module progress change.
	// Currently the only mutation kind the platform produces.
	MutationProgressUpdate MutationType = "progress-update"
)

// IsValid reports whether the mutation type is supported.
func (m MutationType) IsValid() bool {
	return m == MutationProgressUpdate
}

// QueueEntry is one pending local mutation awaiting reconciliation.
// Entries are append-only: they are created by Enqueue and removed once
// the engine has reconciled them, never updated in place.
type QueueEntry struct {
	ID        string           `json:"id"`
	Type      MutationType     `json:"type"`
	EntityKey string           `json:"entityKey"`
	Payload   ProgressMutation `json:"payload"`
	QueuedAt  time.Time        `json:"queuedAt"`
	Version   int              `json:"version"`
}

// Validate checks if the QueueEntry has valid field values.
func (e *QueueEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid mutation type %q", e.Type)
	}
	if e.EntityKey == "" {
		return fmt.Errorf("entityKey is required")
	}
	if err := e.Payload.Validate(); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if e.EntityKey != e.Payload.EntityKey() {
		return fmt.Errorf("entityKey %q does not match payload key %q", e.EntityKey, e.Payload.EntityKey())
	}
	if e.QueuedAt.IsZero() {
		return fmt.Errorf("queuedAt is required")
	}
	if e.Version < 1 {
		return fmt.Errorf("version must be at least 1 (got %d)", e.Version)
	}
	return nil
}
