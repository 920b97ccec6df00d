// Package engine orchestrates the reconciliation of locally queued
// progress mutations against the authoritative remote state.
//
// Overview
//
// The engine drains the sync queue, groups entries by mutation type and
// entity key, asks the resolver what to do with each group, and applies
// the decision through the store's transactional write paths:
//
//	Sync Queue (pending mutations)
//	     ↓ drain
//	  Engine ──group by entity key──→ Resolver (pure decisions)
//	     ↓ apply                          ↓
//	  Store (adopt winner, remove     Conflicts
//	  entries, persist conflicts)     (persisted, some deferred)
//
// Each entity group is reconciled independently: an error in one group
// is recorded in the result's error list and does not stop the others.
//
// Usage
//
// Basic usage:
//
//	st, err := store.Open(".satchel/satchel.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//
//	eng := engine.New(st, nil, nil, nil)
//
//	result, err := eng.SyncData(engine.Options{})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("synced %d items, %d conflicts\n", result.SyncedItems, len(result.Conflicts))
//
// Concurrency
//
// At most one sync pass runs at a time. The engine guards the pass with
// an atomic Idle/Syncing state transition; a second caller gets
// ErrSyncInProgress unless it sets Options.Force, which skips the guard
// and runs concurrently at the caller's own risk. Within a pass, entity
// groups are processed sequentially so queue accounting stays
// consistent from one group to the next.
package engine
