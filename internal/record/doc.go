// Package record defines the persisted record families for satchel storage.
//
// # Overview
//
// This package provides the shared data structures for the offline learning
// store: downloaded courses, their binary assets, per-module progress, the
// pending-mutation sync queue, and detected sync conflicts. The store
// persists these records; the resolver and engine operate on them. Field
// names follow the platform's camelCase wire format so records round-trip
// through course bundles and relay broadcasts unchanged.
//
// # Record Families
//
//   - Course - a downloaded course with its ordered module descriptors and
//     asset summaries. Created on download, touched on access, removed by
//     the cascading course delete.
//   - Asset - a binary payload owned by exactly one course. Removed with
//     its course.
//   - Progress - per (courseId, moduleId) completion state with a synced
//     flag. Mutated by local progress events and by sync adoption.
//   - QueueEntry - one pending local mutation. Append-only: every local
//     change produces a new entry, preserving causal history until the
//     engine compacts it.
//   - Conflict - a local candidate paired against the remote view of the
//     same entity, persisted until resolved.
//
// # Entity Keys
//
// Mutations are grouped and conflicts detected per entity key, the
// composite "{courseId}:{moduleId}" identifier:
//
//	key := record.EntityKey("c1", "m1") // "c1:m1"
//	courseID, moduleID, err := record.SplitEntityKey(key)
//
// Course IDs must not contain ':' so keys split unambiguously.
//
// # Usage Examples
//
// Recording a local progress event:
//
//	mut := record.ProgressMutation{
//	    CourseID:  "c1",
//	    ModuleID:  "m1",
//	    Progress:  0.5,
//	    Completed: false,
//	    UpdatedAt: time.Now(),
//	}
//	entry, err := store.Enqueue(record.MutationProgressUpdate, mut)
//
// Synthesizing the remote candidate from a stored row:
//
//	remote := existing.Mutation()
//
// Turning a winning mutation into a freshly synced row:
//
//	row := winner.SyncedProgress(time.Now())
package record
