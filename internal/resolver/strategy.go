package resolver

import "fmt"

// Strategy selects how a detected conflict is resolved.
type Strategy string

const (
	// StrategyAuto picks a winner from the candidates themselves: the
	// more recently updated mutation wins, equal timestamps fall through
	// to the higher progress value, and a full tie favors local.
	StrategyAuto Strategy = "auto"

	// StrategyLocal always adopts the locally queued mutation.
	StrategyLocal Strategy = "local"

	// StrategyRemote always keeps the authoritative remote value.
	StrategyRemote Strategy = "remote"

	// StrategyMerge combines both candidates: the higher progress value,
	// completion if either side completed, and the later timestamp.
	StrategyMerge Strategy = "merge"

	// StrategyManual defers the decision to a human. The conflict is
	// persisted unresolved and the queued mutation is kept.
	StrategyManual Strategy = "manual"
)

// IsValid reports whether the strategy is one of the known values.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAuto, StrategyLocal, StrategyRemote, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// String returns the strategy name.
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy converts user input into a Strategy.
// An empty string parses as StrategyAuto.
func ParseStrategy(raw string) (Strategy, error) {
	if raw == "" {
		return StrategyAuto, nil
	}
	s := Strategy(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown resolution strategy %q (valid: auto, local, remote, merge, manual)", raw)
	}
	return s, nil
}
