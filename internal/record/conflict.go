package record

import (
	"fmt"
	"time"
)

// Conflict pairs a locally queued mutation against the remote view of the
// same entity. Unresolved conflicts persist until a human or policy
// resolves them; resolved conflicts are kept for audit.
type Conflict struct {
	ID         string           `json:"id"`
	EntityKey  string           `json:"entityKey"`
	Local      ProgressMutation `json:"local"`
	Remote     ProgressMutation `json:"remote"`
	Strategy   string           `json:"strategy,omitempty"` // chosen resolution, empty until resolved
	Resolved   bool             `json:"resolved"`
	CreatedAt  time.Time        `json:"createdAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

// Validate checks if the Conflict has valid field values.
func (c *Conflict) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.EntityKey == "" {
		return fmt.Errorf("entityKey is required")
	}
	if err := c.Local.Validate(); err != nil {
		return fmt.Errorf("invalid local candidate: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("invalid remote candidate: %w", err)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if c.Resolved && c.Strategy == "" {
		return fmt.Errorf("resolved conflict must record its strategy")
	}
	return nil
}

// MarkResolved stamps the conflict resolved with the given strategy.
func (c *Conflict) MarkResolved(strategy string, at time.Time) {
	c.Strategy = strategy
	c.Resolved = true
	resolvedAt := at
	c.ResolvedAt = &resolvedAt
}
