package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/resolver"
	"github.com/satchelhq/satchel/internal/store"
)

// ErrSyncInProgress is returned when a non-forced sync is requested
// while another pass is running. Recoverable: retry later or set
// Options.Force.
var ErrSyncInProgress = errors.New("sync already in progress")

// engine implements the Engine interface.
type engine struct {
	store   *store.Store
	gateway Gateway
	bcast   Broadcaster
	logger  *log.Logger
	state   atomic.Int32
}

// New creates a new Engine instance.
//
// The store must be opened and have its schema initialized before
// passing to this function.
//
// If gateway is nil, a StoreGateway resolving against local state is
// used. If broadcaster is nil, events are dropped. If logger is nil, a
// default logger writing to stderr is used.
//
// Example:
//
//	st, err := store.Open(".satchel/satchel.db")
//	if err != nil {
//	    return err
//	}
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//	eng := engine.New(st, nil, nil, nil)
func New(st *store.Store, gateway Gateway, broadcaster Broadcaster, logger *log.Logger) Engine {
	if gateway == nil {
		gateway = &StoreGateway{Store: st}
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &engine{
		store:   st,
		gateway: gateway,
		bcast:   broadcaster,
		logger:  logger,
	}
}

// SyncData implements Engine.SyncData.
func (e *engine) SyncData(opts Options) (*Result, error) {
	return e.SyncDataContext(context.Background(), opts)
}

// SyncDataContext implements Engine.SyncDataContext.
func (e *engine) SyncDataContext(ctx context.Context, opts Options) (*Result, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = resolver.StrategyAuto
	}
	if !strategy.IsValid() {
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	if opts.Force {
		e.state.Store(int32(StateSyncing))
	} else if !e.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		return nil, ErrSyncInProgress
	}
	defer e.state.Store(int32(StateIdle))

	entries, err := e.store.DrainQueueContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to drain sync queue: %w", err)
	}

	result := &Result{}
	if len(entries) == 0 {
		result.Success = true
		result.LastSyncTime = time.Now().UTC()
		return result, nil
	}

	e.bcast.Broadcast(Event{Type: EventSyncStarted, Time: time.Now().UTC(), Pending: len(entries)})
	e.logger.Printf("Starting sync pass: %d pending entries, strategy=%s", len(entries), strategy)

	for _, group := range groupEntries(entries) {
		if err := e.syncGroup(ctx, group, strategy, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", group.key, err))
			e.logger.Printf("WARNING: failed to reconcile %s: %v", group.key, err)
		}
	}

	result.Success = len(result.Errors) == 0
	result.LastSyncTime = time.Now().UTC()
	e.bcast.Broadcast(Event{Type: EventSyncCompleted, Time: result.LastSyncTime, Result: result})
	e.logger.Printf("Sync pass complete: synced=%d, conflicts=%d, errors=%d",
		result.SyncedItems, len(result.Conflicts), len(result.Errors))

	return result, nil
}

// State implements Engine.State.
func (e *engine) State() State {
	return State(e.state.Load())
}

// entityGroup is the unit of reconciliation: every pending entry of one
// mutation type for one entity key, in queue order.
type entityGroup struct {
	typ     record.MutationType
	key     string
	entries []*record.QueueEntry
}

// groupEntries splits drained entries by mutation type, then by entity
// key within type. Group order follows each group's first appearance in
// the queue, so older entities reconcile first.
func groupEntries(entries []*record.QueueEntry) []*entityGroup {
	var groups []*entityGroup
	byType := make(map[record.MutationType]map[string]*entityGroup)

	for _, entry := range entries {
		byKey, ok := byType[entry.Type]
		if !ok {
			byKey = make(map[string]*entityGroup)
			byType[entry.Type] = byKey
		}
		group, ok := byKey[entry.EntityKey]
		if !ok {
			group = &entityGroup{typ: entry.Type, key: entry.EntityKey}
			byKey[entry.EntityKey] = group
			groups = append(groups, group)
		}
		group.entries = append(group.entries, entry)
	}

	return groups
}

// syncGroup reconciles one entity group. Returns an error to have the
// group recorded in the result's error list; successful outcomes update
// the result directly.
func (e *engine) syncGroup(ctx context.Context, g *entityGroup, strategy resolver.Strategy, result *Result) error {
	if g.typ != record.MutationProgressUpdate {
		return fmt.Errorf("unsupported mutation type %q", g.typ)
	}

	muts := make([]record.ProgressMutation, len(g.entries))
	ids := make([]string, len(g.entries))
	for i, entry := range g.entries {
		muts[i] = entry.Payload
		ids[i] = entry.ID
	}

	candidate, err := resolver.Compact(muts)
	if err != nil {
		return err
	}

	remote, err := e.gateway.FetchProgress(ctx, candidate.CourseID, candidate.ModuleID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote state: %w", err)
	}

	if !resolver.Detect(remote, candidate) {
		return e.adopt(ctx, candidate, ids, result)
	}

	conflict := &record.Conflict{
		ID:        uuid.NewString(),
		EntityKey: candidate.EntityKey(),
		Local:     candidate,
		Remote:    remote.Mutation(),
		CreatedAt: time.Now().UTC(),
	}
	e.bcast.Broadcast(Event{Type: EventConflict, Time: conflict.CreatedAt, EntityKey: conflict.EntityKey})
	e.logger.Printf("Conflict detected for %s: local=%v remote=%v", conflict.EntityKey,
		conflict.Local.UpdatedAt, conflict.Remote.UpdatedAt)

	res, err := resolver.Resolve(conflict.Local, conflict.Remote, strategy)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case resolver.OutcomeDefer:
		// Queue entries stay in place so the mutation is not lost. One
		// unresolved record per entity key: repeated passes over a stuck
		// entity surface the original conflict instead of stacking
		// duplicates.
		existing, err := e.store.ListConflictsContext(ctx, store.ConflictFilter{
			OnlyUnresolved: true,
			EntityKey:      conflict.EntityKey,
		})
		if err != nil {
			return fmt.Errorf("failed to check for open conflict: %w", err)
		}
		if len(existing) > 0 {
			result.Conflicts = append(result.Conflicts, existing[0])
			return nil
		}
		if err := e.store.SaveConflictContext(ctx, conflict); err != nil {
			return fmt.Errorf("failed to persist conflict: %w", err)
		}
		result.Conflicts = append(result.Conflicts, conflict)
		return nil

	case resolver.OutcomeKeepRemote:
		conflict.MarkResolved(res.Applied.String(), time.Now().UTC())
		if err := e.store.SaveConflictContext(ctx, conflict); err != nil {
			return fmt.Errorf("failed to persist conflict: %w", err)
		}
		if err := e.store.RemoveQueueEntries(ctx, ids); err != nil {
			return fmt.Errorf("failed to remove queue entries: %w", err)
		}
		result.Conflicts = append(result.Conflicts, conflict)
		result.SyncedItems++
		return nil

	case resolver.OutcomeAdopt:
		conflict.MarkResolved(res.Applied.String(), time.Now().UTC())
		if err := e.store.SaveConflictContext(ctx, conflict); err != nil {
			return fmt.Errorf("failed to persist conflict: %w", err)
		}
		if err := e.adopt(ctx, res.Winner, ids, result); err != nil {
			return err
		}
		result.Conflicts = append(result.Conflicts, conflict)
		return nil

	default:
		return fmt.Errorf("unknown resolution outcome %d", res.Outcome)
	}
}

// ResolveConflict implements Engine.ResolveConflict.
func (e *engine) ResolveConflict(ctx context.Context, conflictID string, strategy resolver.Strategy) (*Result, error) {
	if strategy == resolver.StrategyManual {
		return nil, fmt.Errorf("cannot resolve a conflict with the manual strategy")
	}
	if strategy == "" || !strategy.IsValid() {
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	conflict, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Resolved {
		return nil, fmt.Errorf("conflict %s is already resolved", conflictID)
	}

	result := &Result{}

	// The queue may have accumulated fresher mutations for this entity
	// since the conflict was recorded; resolve against the live state,
	// not the snapshot.
	local := conflict.Local
	entries, err := e.store.GetQueueEntriesByKey(ctx, conflict.EntityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entries: %w", err)
	}
	ids := make([]string, len(entries))
	if len(entries) > 0 {
		muts := make([]record.ProgressMutation, len(entries))
		for i, entry := range entries {
			muts[i] = entry.Payload
			ids[i] = entry.ID
		}
		if local, err = resolver.Compact(muts); err != nil {
			return nil, err
		}
	}

	remote := conflict.Remote
	if fetched, err := e.gateway.FetchProgress(ctx, local.CourseID, local.ModuleID); err != nil {
		return nil, fmt.Errorf("failed to fetch remote state: %w", err)
	} else if fetched != nil {
		remote = fetched.Mutation()
	}

	res, err := resolver.Resolve(local, remote, strategy)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case resolver.OutcomeKeepRemote:
		if err := e.store.RemoveQueueEntries(ctx, ids); err != nil {
			return nil, fmt.Errorf("failed to remove queue entries: %w", err)
		}
	case resolver.OutcomeAdopt:
		if err := e.adopt(ctx, res.Winner, ids, result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown resolution outcome %d", res.Outcome)
	}

	if err := e.store.MarkConflictResolved(ctx, conflictID, res.Applied.String()); err != nil {
		return nil, fmt.Errorf("failed to mark conflict resolved: %w", err)
	}
	conflict.MarkResolved(res.Applied.String(), time.Now().UTC())

	if res.Outcome == resolver.OutcomeKeepRemote {
		result.SyncedItems++
	}
	result.Success = true
	result.Conflicts = append(result.Conflicts, conflict)
	result.LastSyncTime = time.Now().UTC()
	e.logger.Printf("Resolved conflict %s for %s: strategy=%s", conflictID, conflict.EntityKey, res.Applied)

	return result, nil
}

// adopt pushes the winning mutation to the gateway, then writes it as a
// freshly synced row and removes the consumed queue entries in one
// transaction. Push comes first: if it fails the entries survive and
// the next pass retries.
func (e *engine) adopt(ctx context.Context, winner record.ProgressMutation, entryIDs []string, result *Result) error {
	adopted := winner.SyncedProgress(time.Now().UTC())

	if err := e.gateway.PushProgress(ctx, &adopted); err != nil {
		return fmt.Errorf("failed to push resolved state: %w", err)
	}
	if err := e.store.AdoptProgressContext(ctx, &adopted, entryIDs); err != nil {
		return fmt.Errorf("failed to adopt resolved state: %w", err)
	}

	result.SyncedItems++
	return nil
}
