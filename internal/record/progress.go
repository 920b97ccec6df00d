package record

import (
	"fmt"
	"strings"
	"time"
)

// Progress tracks how far a learner has gotten in one course module.
// The (CourseID, ModuleID) pair is unique. Synced means the row is
// believed to match the authoritative remote value as of SyncedAt.
type Progress struct {
	CourseID  string     `json:"courseId"`
	ModuleID  string     `json:"moduleId"`
	Progress  float64    `json:"progress"` // fraction in [0, 1]
	Completed bool       `json:"completed"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Synced    bool       `json:"synced"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
}

// Validate checks if the Progress has valid field values.
func (p *Progress) Validate() error {
	if p.CourseID == "" {
		return fmt.Errorf("courseId is required")
	}
	if strings.Contains(p.CourseID, ":") {
		return fmt.Errorf("courseId must not contain ':' (got %q)", p.CourseID)
	}
	if p.ModuleID == "" {
		return fmt.Errorf("moduleId is required")
	}
	if p.Progress < 0 || p.Progress > 1 {
		return fmt.Errorf("progress must be between 0 and 1 (got %g)", p.Progress)
	}
	if p.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// EntityKey returns the composite key for this row.
func (p *Progress) EntityKey() string {
	return EntityKey(p.CourseID, p.ModuleID)
}

// Mutation restates the stored row as a mutation payload. The engine uses
// this to synthesize the "remote" candidate when comparing against a
// locally queued change.
func (p *Progress) Mutation() ProgressMutation {
	return ProgressMutation{
		CourseID:  p.CourseID,
		ModuleID:  p.ModuleID,
		Progress:  p.Progress,
		Completed: p.Completed,
		UpdatedAt: p.UpdatedAt,
	}
}

// ProgressMutation is the snapshot of one local progress event as queued
// for synchronization.
type ProgressMutation struct {
	CourseID  string    `json:"courseId"`
	ModuleID  string    `json:"moduleId"`
	Progress  float64   `json:"progress"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the ProgressMutation has valid field values.
func (m *ProgressMutation) Validate() error {
	if m.CourseID == "" {
		return fmt.Errorf("courseId is required")
	}
	if strings.Contains(m.CourseID, ":") {
		return fmt.Errorf("courseId must not contain ':' (got %q)", m.CourseID)
	}
	if m.ModuleID == "" {
		return fmt.Errorf("moduleId is required")
	}
	if m.Progress < 0 || m.Progress > 1 {
		return fmt.Errorf("progress must be between 0 and 1 (got %g)", m.Progress)
	}
	if m.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// EntityKey returns the composite key for this mutation.
func (m *ProgressMutation) EntityKey() string {
	return EntityKey(m.CourseID, m.ModuleID)
}

// SyncedProgress converts a winning mutation into a freshly synced
// progress row stamped at the given time.
func (m ProgressMutation) SyncedProgress(at time.Time) Progress {
	syncedAt := at
	return Progress{
		CourseID:  m.CourseID,
		ModuleID:  m.ModuleID,
		Progress:  m.Progress,
		Completed: m.Completed,
		UpdatedAt: m.UpdatedAt,
		Synced:    true,
		SyncedAt:  &syncedAt,
	}
}

// EntityKey derives the composite "{courseId}:{moduleId}" key used to
// group mutations and detect conflicts.
func EntityKey(courseID, moduleID string) string {
	return courseID + ":" + moduleID
}

// SplitEntityKey splits an entity key into its course and module IDs.
// The split is on the first ':'; course IDs never contain one.
func SplitEntityKey(key string) (courseID, moduleID string, err error) {
	courseID, moduleID, ok := strings.Cut(key, ":")
	if !ok || courseID == "" || moduleID == "" {
		return "", "", fmt.Errorf("invalid entity key %q: expected {courseId}:{moduleId}", key)
	}
	return courseID, moduleID, nil
}
