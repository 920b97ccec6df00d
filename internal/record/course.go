package record

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// ModuleType classifies the kinds of modules a course can contain.
type ModuleType string

const (
	ModuleVideo      ModuleType = "video"
	ModuleQuiz       ModuleType = "quiz"
	ModuleDocument   ModuleType = "document"
	ModuleLive       ModuleType = "live"
	ModuleAssignment ModuleType = "assignment"
)

// IsValid reports whether the module type is one of the supported kinds.
func (m ModuleType) IsValid() bool {
	switch m {
	case ModuleVideo, ModuleQuiz, ModuleDocument, ModuleLive, ModuleAssignment:
		return true
	}
	return false
}

// Module describes one unit of course content.
type Module struct {
	ID       string     `json:"id"`
	Type     ModuleType `json:"type"`
	Content  string     `json:"content,omitempty"`  // embedded content, if the module carries any inline
	Duration int        `json:"duration,omitempty"` // seconds
	AssetIDs []string   `json:"assetIds,omitempty"`
}

// AssetSummary is the course-level listing of a downloaded asset.
// The binary payload lives in the Asset record.
type AssetSummary struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	MIMEType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Course represents a downloaded course available offline.
type Course struct {
	// ===== Core Identification =====
	ID    string `json:"id"`
	Title string `json:"title"`

	// Version is the semver content version assigned by the download
	// pipeline (e.g. "v2.1.0"). Empty for courses saved outside the
	// bundle flow. Bundle import refuses to downgrade a stored course.
	Version string `json:"version,omitempty"`

	// ===== Presentation =====
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`

	// ===== Content =====
	Modules []Module       `json:"modules"`
	Assets  []AssetSummary `json:"assets,omitempty"`

	// ===== Accounting =====
	SizeBytes int64 `json:"sizeBytes"`

	// ===== Timestamps =====
	DownloadedAt   time.Time  `json:"downloadedAt"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

// Validate checks if the Course has valid field values.
func (c *Course) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.Contains(c.ID, ":") {
		return fmt.Errorf("id must not contain ':' (got %q)", c.ID)
	}
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	if c.Version != "" && !semver.IsValid(c.Version) {
		return fmt.Errorf("version must be valid semver (got %q)", c.Version)
	}
	if c.SizeBytes < 0 {
		return fmt.Errorf("sizeBytes must not be negative (got %d)", c.SizeBytes)
	}
	if c.DownloadedAt.IsZero() {
		return fmt.Errorf("downloadedAt is required")
	}
	for i, m := range c.Modules {
		if m.ID == "" {
			return fmt.Errorf("module %d: id is required", i)
		}
		if !m.Type.IsValid() {
			return fmt.Errorf("module %s: invalid type %q", m.ID, m.Type)
		}
	}
	for i, a := range c.Assets {
		if a.ID == "" {
			return fmt.Errorf("asset summary %d: id is required", i)
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Course) SetDefaults() {
	if c.Modules == nil {
		c.Modules = []Module{}
	}
	if c.DownloadedAt.IsZero() {
		c.DownloadedAt = time.Now()
	}
}

// Module returns the course module with the given id, or nil.
func (c *Course) Module(moduleID string) *Module {
	for i := range c.Modules {
		if c.Modules[i].ID == moduleID {
			return &c.Modules[i]
		}
	}
	return nil
}
