package resolver

import (
	"fmt"

	"github.com/satchelhq/satchel/internal/record"
)

// Outcome is the action the engine must take after resolving a
// conflict. The resolver decides; the caller performs the store writes.
type Outcome int

const (
	// OutcomeAdopt means the winning mutation should be written back as
	// a freshly synced progress row and the consumed queue entries
	// removed, in one transaction.
	OutcomeAdopt Outcome = iota

	// OutcomeKeepRemote means the store already holds the authoritative
	// value. The queue entries are removed and nothing is written.
	OutcomeKeepRemote

	// OutcomeDefer means the conflict is surfaced for human resolution.
	// The conflict record persists unresolved and the queue entries stay
	// in place so the mutation is not silently dropped.
	OutcomeDefer
)

// Resolution is the result of applying a Strategy to a conflict.
type Resolution struct {
	Outcome Outcome

	// Winner is the mutation that prevailed. Unset when the outcome is
	// OutcomeDefer.
	Winner record.ProgressMutation

	// Applied is the effective strategy recorded on the conflict: for
	// StrategyAuto it names the side that actually won.
	Applied Strategy
}

// Compact folds the accumulated mutations for one entity key into a
// single candidate using the documented tie-break. The reduction is
// order-independent: any permutation of muts yields the same candidate.
//
// Returns an error if muts is empty.
func Compact(muts []record.ProgressMutation) (record.ProgressMutation, error) {
	if len(muts) == 0 {
		return record.ProgressMutation{}, fmt.Errorf("no mutations to compact")
	}

	best := muts[0]
	for _, m := range muts[1:] {
		best = preferred(best, m)
	}
	return best, nil
}

// preferred compares two mutations on (updatedAt, progress, completed).
func preferred(a, b record.ProgressMutation) record.ProgressMutation {
	if a.UpdatedAt.After(b.UpdatedAt) {
		return a
	}
	if b.UpdatedAt.After(a.UpdatedAt) {
		return b
	}
	if a.Progress > b.Progress {
		return a
	}
	if b.Progress > a.Progress {
		return b
	}
	if b.Completed && !a.Completed {
		return b
	}
	return a
}

// Detect reports whether adopting candidate would conflict with the
// entity's current row.
//
// A conflict exists only when the row is present, marked synced, and
// strictly newer than the candidate. A missing row, an unsynced row, or
// a row at or behind the candidate's timestamp means the candidate can
// be adopted directly.
func Detect(existing *record.Progress, candidate record.ProgressMutation) bool {
	if existing == nil || !existing.Synced {
		return false
	}
	return existing.UpdatedAt.After(candidate.UpdatedAt)
}

// Resolve applies strategy to a conflict between the local candidate
// and the authoritative remote mutation.
//
// Unknown strategies are an error so that adding a new Strategy value
// forces this switch to be extended.
func Resolve(local, remote record.ProgressMutation, strategy Strategy) (Resolution, error) {
	switch strategy {
	case StrategyLocal:
		return Resolution{Outcome: OutcomeAdopt, Winner: local, Applied: StrategyLocal}, nil

	case StrategyRemote:
		return Resolution{Outcome: OutcomeKeepRemote, Winner: remote, Applied: StrategyRemote}, nil

	case StrategyMerge:
		return Resolution{Outcome: OutcomeAdopt, Winner: Merge(local, remote), Applied: StrategyMerge}, nil

	case StrategyManual:
		return Resolution{Outcome: OutcomeDefer, Applied: StrategyManual}, nil

	case StrategyAuto:
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return Resolution{Outcome: OutcomeKeepRemote, Winner: remote, Applied: StrategyRemote}, nil
		}
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return Resolution{Outcome: OutcomeAdopt, Winner: local, Applied: StrategyLocal}, nil
		}
		if remote.Progress > local.Progress {
			return Resolution{Outcome: OutcomeKeepRemote, Winner: remote, Applied: StrategyRemote}, nil
		}
		return Resolution{Outcome: OutcomeAdopt, Winner: local, Applied: StrategyLocal}, nil

	default:
		return Resolution{}, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// Merge combines both candidates into one mutation: the higher progress
// value, completion if either side completed, and the later timestamp.
func Merge(local, remote record.ProgressMutation) record.ProgressMutation {
	merged := local
	if remote.Progress > merged.Progress {
		merged.Progress = remote.Progress
	}
	merged.Completed = local.Completed || remote.Completed
	if remote.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = remote.UpdatedAt
	}
	return merged
}
