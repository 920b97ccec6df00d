package engine

import (
	"context"
	"time"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/resolver"
)

// Engine reconciles the sync queue against remote state.
//
// The engine owns no storage of its own; it drives the store's
// transactional operations and reports what happened in a Result. It is
// resilient per entity group: one group failing to reconcile is
// recorded and does not abort the rest of the pass.
type Engine interface {
	// SyncData runs one reconciliation pass over the sync queue.
	//
	// Refuses to start while another pass is running unless opts.Force
	// is set, in which case the guard is bypassed. An empty queue
	// returns a trivially successful result.
	//
	// Storage failures before the pass starts (draining the queue,
	// opening transactions) are returned as errors. Anything that goes
	// wrong while reconciling one entity group is downgraded to an
	// entry in the result's error list.
	//
	// Example:
	//   result, err := eng.SyncData(engine.Options{Strategy: resolver.StrategyMerge})
	SyncData(opts Options) (*Result, error)

	// SyncDataContext runs one reconciliation pass with context support.
	SyncDataContext(ctx context.Context, opts Options) (*Result, error)

	// ResolveConflict settles one persisted, unresolved conflict with an
	// explicit strategy (manual is rejected). The entity's queued
	// mutations are recompacted and compared against freshly fetched
	// remote state, the winning side is applied, and the conflict is
	// marked resolved.
	//
	// Example:
	//   result, err := eng.ResolveConflict(ctx, conflictID, resolver.StrategyLocal)
	ResolveConflict(ctx context.Context, conflictID string, strategy resolver.Strategy) (*Result, error)

	// State reports whether a sync pass is currently running.
	//
	// Example:
	//   if eng.State() == engine.StateSyncing { fmt.Println("busy") }
	State() State
}

// Options controls one reconciliation pass.
type Options struct {
	// Force bypasses the in-progress guard and runs even while another
	// pass is active. Concurrent passes race on the same queue; this is
	// an escape hatch, not a safe default.
	Force bool

	// Strategy is the conflict resolution policy for the pass. Empty
	// means resolver.StrategyAuto.
	Strategy resolver.Strategy
}

// Result reports the outcome of one reconciliation pass.
type Result struct {
	// Success is true when the error list is empty. Deferred conflicts
	// do not make a pass unsuccessful; they are surfaced separately.
	Success bool `json:"success"`

	// SyncedItems counts entity groups whose queue entries were
	// reconciled and removed during this pass.
	SyncedItems int `json:"syncedItems"`

	// Conflicts lists every conflict detected during the pass,
	// including ones the strategy resolved automatically. Deferred
	// conflicts have Resolved set to false.
	Conflicts []*record.Conflict `json:"conflicts"`

	// Errors holds one message per entity group that failed to
	// reconcile.
	Errors []string `json:"errors"`

	// LastSyncTime is when the pass finished.
	LastSyncTime time.Time `json:"lastSyncTime"`
}

// State is the engine's sync-pass guard state.
type State int32

const (
	// StateIdle means no sync pass is running.
	StateIdle State = iota

	// StateSyncing means a pass is in flight; non-forced callers are
	// rejected until it finishes.
	StateSyncing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}
