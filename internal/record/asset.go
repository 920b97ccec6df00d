package record

import (
	"fmt"
	"time"
)

// Asset is a binary payload downloaded for offline use. Each asset is
// owned by exactly one course and is removed by the course cascade.
type Asset struct {
	ID           string    `json:"id"`
	CourseID     string    `json:"courseId"`
	URL          string    `json:"url"`
	MIMEType     string    `json:"mimeType,omitempty"`
	SizeBytes    int64     `json:"sizeBytes"`
	Data         []byte    `json:"data,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Validate checks if the Asset has valid field values.
func (a *Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.CourseID == "" {
		return fmt.Errorf("courseId is required")
	}
	if a.URL == "" {
		return fmt.Errorf("url is required")
	}
	if a.SizeBytes < 0 {
		return fmt.Errorf("sizeBytes must not be negative (got %d)", a.SizeBytes)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (a *Asset) SetDefaults() {
	if a.SizeBytes == 0 && a.Data != nil {
		a.SizeBytes = int64(len(a.Data))
	}
	if a.DownloadedAt.IsZero() {
		a.DownloadedAt = time.Now()
	}
}
