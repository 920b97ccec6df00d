// Package resolver contains the pure decision logic for reconciling
// locally queued progress mutations against the authoritative view of
// the same entity.
//
// # Overview
//
// The resolver performs no I/O. The sync engine hands it plain values
// and acts on the decisions it returns:
//
//   - Compact folds the accumulated mutations for one entity key into a
//     single candidate.
//   - Detect reports whether the candidate conflicts with the entity's
//     current authoritative row.
//   - Resolve applies a Strategy to a detected conflict and returns the
//     winning mutation together with the action the caller must take.
//
// Keeping these functions pure makes every branch testable without a
// database and keeps the engine's transaction boundaries in one place.
//
// # Tie-Breaking
//
// Compaction is an order-independent reduction. Two mutations are
// compared on the tuple (updatedAt, progress, completed): a strictly
// newer updatedAt wins outright, an equal updatedAt falls through to
// the higher progress value, and a full tie prefers the completed
// mutation. The result is the same whichever order the queue delivered
// the entries in.
package resolver
