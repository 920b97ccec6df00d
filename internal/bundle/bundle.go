// Package bundle reads and writes course bundles, the on-disk package
// format the download pipeline delivers into the satchel spool.
//
// A bundle is a directory:
//
//	<bundle>/
//	    manifest.yaml   bundle metadata, written LAST
//	    course.json     the full course document
//	    assets/<id>     one file per binary asset
//
// The manifest is written last so a watcher that sees one can assume
// the payload files are complete. Import loads the whole bundle and
// hands it to the store as a single transaction, so a half-written or
// tampered bundle never leaves partial state behind.
//
// The package also provides JSONL snapshots of learner state (progress
// rows and pending queue entries) for backup and device migration.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
)

// ManifestVersion is the bundle schema version this build understands.
// Import refuses bundles stamped with a newer version.
const ManifestVersion = 1

const (
	// ManifestFile is the bundle metadata file name.
	ManifestFile = "manifest.yaml"

	// CourseFile is the course document file name.
	CourseFile = "course.json"

	// AssetsDir is the directory holding binary asset payloads.
	AssetsDir = "assets"
)

// ErrSchemaTooNew is returned when a bundle was produced by a newer
// pipeline than this build supports.
var ErrSchemaTooNew = errors.New("bundle schema version not supported")

// Manifest describes a bundle's contents.
type Manifest struct {
	SchemaVersion int             `yaml:"schema_version"`
	CourseID      string          `yaml:"course_id"`
	Title         string          `yaml:"title"`
	Version       string          `yaml:"version,omitempty"`
	SizeBytes     int64           `yaml:"size_bytes"`
	CreatedAt     time.Time       `yaml:"created_at"`
	Assets        []ManifestAsset `yaml:"assets,omitempty"`
}

// ManifestAsset maps one asset payload to its file inside the bundle.
type ManifestAsset struct {
	ID        string `yaml:"id"`
	File      string `yaml:"file"`
	URL       string `yaml:"url"`
	MIMEType  string `yaml:"mime_type,omitempty"`
	SizeBytes int64  `yaml:"size_bytes"`
}

// Validate checks the manifest for structural problems. File names are
// restricted to plain names so a crafted bundle cannot write outside
// its own assets directory.
func (m *Manifest) Validate() error {
	if m.SchemaVersion > ManifestVersion {
		return fmt.Errorf("%w: bundle is version %d, this build supports up to %d",
			ErrSchemaTooNew, m.SchemaVersion, ManifestVersion)
	}
	if m.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema version %d", m.SchemaVersion)
	}
	if m.CourseID == "" {
		return fmt.Errorf("course_id is required")
	}
	for i, a := range m.Assets {
		if a.ID == "" {
			return fmt.Errorf("asset %d: id is required", i)
		}
		if a.File == "" {
			return fmt.Errorf("asset %s: file is required", a.ID)
		}
		if a.File != filepath.Base(a.File) || a.File == ".." {
			return fmt.Errorf("asset %s: file %q must be a plain name", a.ID, a.File)
		}
	}
	return nil
}

// ImportOptions configures a bundle import.
type ImportOptions struct {
	// Force imports the bundle even when the stored course is the same
	// version or newer.
	Force bool
}

// ImportResult reports what an import did.
type ImportResult struct {
	CourseID       string
	Title          string
	Version        string
	AssetsImported int
	SizeBytes      int64

	// Skipped is true when the stored course was newer than (or the
	// same version as) the bundle and Force was not set.
	Skipped    bool
	SkipReason string
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Dir           string
	CourseID      string
	AssetsWritten int
	SizeBytes     int64
}

// IsBundle reports whether dir looks like a complete bundle, i.e. it
// contains a manifest. The spool watcher uses this to tell finished
// bundles from directories still being written.
func IsBundle(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil && info.Mode().IsRegular()
}

// ReadManifest loads and validates the manifest of the bundle at dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse bundle manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle manifest: %w", err)
	}
	return &m, nil
}

// Import loads the bundle at dir into the store.
//
// The whole bundle is read and validated first; the store write is one
// transaction, so readers observe either the complete course or the
// previous state. A bundle older (by semver) than the stored course is
// skipped unless opts.Force is set.
func Import(ctx context.Context, st *store.Store, dir string, opts ImportOptions) (*ImportResult, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	course, err := readCourse(dir)
	if err != nil {
		return nil, err
	}
	if course.ID != manifest.CourseID {
		return nil, fmt.Errorf("bundle course id mismatch: manifest says %q, course.json says %q",
			manifest.CourseID, course.ID)
	}

	result := &ImportResult{
		CourseID:  course.ID,
		Title:     course.Title,
		Version:   course.Version,
		SizeBytes: course.SizeBytes,
	}

	if !opts.Force {
		if reason, skip := downgradeReason(ctx, st, course); skip {
			result.Skipped = true
			result.SkipReason = reason
			return result, nil
		}
	}

	assets, err := readAssets(dir, manifest, course.ID)
	if err != nil {
		return nil, err
	}

	if err := st.ImportCourse(ctx, course, assets); err != nil {
		return nil, fmt.Errorf("failed to import bundle %s: %w", dir, err)
	}

	result.AssetsImported = len(assets)
	return result, nil
}

// downgradeReason decides whether importing course would replace a
// stored course with an older or identical content version. Courses
// without semver versions always import.
func downgradeReason(ctx context.Context, st *store.Store, course *record.Course) (string, bool) {
	if course.Version == "" {
		return "", false
	}
	existing, err := st.GetCourseContext(ctx, course.ID)
	if err != nil || existing.Version == "" {
		return "", false
	}
	if !semver.IsValid(existing.Version) {
		return "", false
	}
	switch semver.Compare(course.Version, existing.Version) {
	case -1:
		return fmt.Sprintf("stored version %s is newer than bundle version %s",
			existing.Version, course.Version), true
	case 0:
		return fmt.Sprintf("version %s is already stored", course.Version), true
	}
	return "", false
}

// readCourse loads and validates course.json from the bundle.
func readCourse(dir string) (*record.Course, error) {
	data, err := os.ReadFile(filepath.Join(dir, CourseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read course document: %w", err)
	}

	var course record.Course
	if err := json.Unmarshal(data, &course); err != nil {
		return nil, fmt.Errorf("failed to parse course document: %w", err)
	}
	course.SetDefaults()
	if err := course.Validate(); err != nil {
		return nil, fmt.Errorf("invalid course document: %w", err)
	}
	return &course, nil
}

// readAssets loads every asset payload the manifest lists. A missing
// or truncated payload fails the whole import; bundles are all or
// nothing.
func readAssets(dir string, manifest *Manifest, courseID string) ([]*record.Asset, error) {
	assets := make([]*record.Asset, 0, len(manifest.Assets))
	for _, ma := range manifest.Assets {
		data, err := os.ReadFile(filepath.Join(dir, AssetsDir, ma.File))
		if err != nil {
			return nil, fmt.Errorf("failed to read asset %s: %w", ma.ID, err)
		}
		if ma.SizeBytes > 0 && int64(len(data)) != ma.SizeBytes {
			return nil, fmt.Errorf("asset %s is truncated: manifest says %d bytes, file has %d",
				ma.ID, ma.SizeBytes, len(data))
		}

		asset := &record.Asset{
			ID:        ma.ID,
			CourseID:  courseID,
			URL:       ma.URL,
			MIMEType:  ma.MIMEType,
			SizeBytes: int64(len(data)),
			Data:      data,
		}
		asset.SetDefaults()
		assets = append(assets, asset)
	}
	return assets, nil
}

// Export writes the stored course and its assets as a bundle at dir.
//
// Files are written through temp files and renamed into place; the
// manifest goes last so a concurrent watcher never imports a partial
// bundle.
func Export(ctx context.Context, st *store.Store, courseID, dir string) (*ExportResult, error) {
	course, err := st.GetCourseContext(ctx, courseID)
	if err != nil {
		return nil, err
	}
	assets, err := st.GetAssetsByCourseContext(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, AssetsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	courseJSON, err := json.MarshalIndent(course, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal course document: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, CourseFile), courseJSON); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		SchemaVersion: ManifestVersion,
		CourseID:      course.ID,
		Title:         course.Title,
		Version:       course.Version,
		SizeBytes:     course.SizeBytes,
		CreatedAt:     time.Now().UTC(),
	}

	for _, asset := range assets {
		if err := writeFileAtomic(filepath.Join(dir, AssetsDir, asset.ID), asset.Data); err != nil {
			return nil, err
		}
		manifest.Assets = append(manifest.Assets, ManifestAsset{
			ID:        asset.ID,
			File:      asset.ID,
			URL:       asset.URL,
			MIMEType:  asset.MIMEType,
			SizeBytes: asset.SizeBytes,
		})
	}

	manifestYAML, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestFile), manifestYAML); err != nil {
		return nil, err
	}

	return &ExportResult{
		Dir:           dir,
		CourseID:      course.ID,
		AssetsWritten: len(assets),
		SizeBytes:     course.SizeBytes,
	}, nil
}

// writeFileAtomic writes data via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
