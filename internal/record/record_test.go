package record

import (
	"strings"
	"testing"
	"time"
)

func TestCourse_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		course  Course
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid course",
			course: Course{
				ID:           "c1",
				Title:        "Intro to Go",
				Modules:      []Module{{ID: "m1", Type: ModuleVideo, Duration: 900}},
				SizeBytes:    2048,
				DownloadedAt: now,
			},
			wantErr: false,
		},
		{
			name: "missing id",
			course: Course{
				Title:        "Intro to Go",
				DownloadedAt: now,
			},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name: "id with colon",
			course: Course{
				ID:           "c:1",
				Title:        "Intro to Go",
				DownloadedAt: now,
			},
			wantErr: true,
			errMsg:  "id must not contain ':'",
		},
		{
			name: "missing title",
			course: Course{
				ID:           "c1",
				DownloadedAt: now,
			},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name: "negative size",
			course: Course{
				ID:           "c1",
				Title:        "Intro to Go",
				SizeBytes:    -1,
				DownloadedAt: now,
			},
			wantErr: true,
			errMsg:  "sizeBytes must not be negative",
		},
		{
			name: "invalid module type",
			course: Course{
				ID:           "c1",
				Title:        "Intro to Go",
				Modules:      []Module{{ID: "m1", Type: "podcast"}},
				DownloadedAt: now,
			},
			wantErr: true,
			errMsg:  `module m1: invalid type "podcast"`,
		},
		{
			name: "missing downloadedAt",
			course: Course{
				ID:    "c1",
				Title: "Intro to Go",
			},
			wantErr: true,
			errMsg:  "downloadedAt is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.course.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestModuleType_IsValid(t *testing.T) {
	valid := []ModuleType{ModuleVideo, ModuleQuiz, ModuleDocument, ModuleLive, ModuleAssignment}
	for _, m := range valid {
		if !m.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", m)
		}
	}
	if ModuleType("podcast").IsValid() {
		t.Error(`IsValid("podcast") = true, want false`)
	}
	if ModuleType("").IsValid() {
		t.Error(`IsValid("") = true, want false`)
	}
}

func TestCourse_Module(t *testing.T) {
	course := Course{
		ID:    "c1",
		Title: "Intro to Go",
		Modules: []Module{
			{ID: "m1", Type: ModuleVideo},
			{ID: "m2", Type: ModuleQuiz},
		},
	}

	if got := course.Module("m2"); got == nil || got.Type != ModuleQuiz {
		t.Errorf("Module(m2) = %v, want quiz module", got)
	}
	if got := course.Module("m9"); got != nil {
		t.Errorf("Module(m9) = %v, want nil", got)
	}
}

func TestAsset_Validate(t *testing.T) {
	tests := []struct {
		name    string
		asset   Asset
		wantErr bool
	}{
		{
			name:  "valid asset",
			asset: Asset{ID: "a1", CourseID: "c1", URL: "https://cdn.example.com/v.mp4", SizeBytes: 100},
		},
		{
			name:    "missing course id",
			asset:   Asset{ID: "a1", URL: "https://cdn.example.com/v.mp4"},
			wantErr: true,
		},
		{
			name:    "missing url",
			asset:   Asset{ID: "a1", CourseID: "c1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.asset.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestAsset_SetDefaults(t *testing.T) {
	asset := Asset{ID: "a1", CourseID: "c1", URL: "https://cdn.example.com/v.mp4", Data: []byte("payload")}
	asset.SetDefaults()

	if asset.SizeBytes != int64(len("payload")) {
		t.Errorf("SetDefaults() sizeBytes = %d, want %d", asset.SizeBytes, len("payload"))
	}
	if asset.DownloadedAt.IsZero() {
		t.Error("SetDefaults() downloadedAt still zero")
	}
}

func TestProgress_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		progress Progress
		wantErr  bool
	}{
		{
			name:     "valid progress",
			progress: Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now},
		},
		{
			name:     "progress above one",
			progress: Progress{CourseID: "c1", ModuleID: "m1", Progress: 1.5, UpdatedAt: now},
			wantErr:  true,
		},
		{
			name:     "negative progress",
			progress: Progress{CourseID: "c1", ModuleID: "m1", Progress: -0.1, UpdatedAt: now},
			wantErr:  true,
		},
		{
			name:     "missing module id",
			progress: Progress{CourseID: "c1", Progress: 0.5, UpdatedAt: now},
			wantErr:  true,
		},
		{
			name:     "course id with colon",
			progress: Progress{CourseID: "c:1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.progress.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestEntityKey_RoundTrip(t *testing.T) {
	key := EntityKey("c1", "m1")
	if key != "c1:m1" {
		t.Errorf("EntityKey() = %q, want %q", key, "c1:m1")
	}

	courseID, moduleID, err := SplitEntityKey(key)
	if err != nil {
		t.Fatalf("SplitEntityKey() unexpected error: %v", err)
	}
	if courseID != "c1" || moduleID != "m1" {
		t.Errorf("SplitEntityKey() = (%q, %q), want (c1, m1)", courseID, moduleID)
	}
}

func TestSplitEntityKey_ModuleIDWithColon(t *testing.T) {
	// Module IDs may contain colons; only the first separates the course.
	courseID, moduleID, err := SplitEntityKey("c1:lesson:intro")
	if err != nil {
		t.Fatalf("SplitEntityKey() unexpected error: %v", err)
	}
	if courseID != "c1" {
		t.Errorf("courseID = %q, want %q", courseID, "c1")
	}
	if moduleID != "lesson:intro" {
		t.Errorf("moduleID = %q, want %q", moduleID, "lesson:intro")
	}
}

func TestSplitEntityKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "c1", "c1:", ":m1"} {
		if _, _, err := SplitEntityKey(key); err == nil {
			t.Errorf("SplitEntityKey(%q) expected error, got nil", key)
		}
	}
}

func TestProgress_Mutation(t *testing.T) {
	now := time.Now()
	row := Progress{CourseID: "c1", ModuleID: "m1", Progress: 0.9, Completed: true, UpdatedAt: now, Synced: true}

	mut := row.Mutation()
	if mut.CourseID != "c1" || mut.ModuleID != "m1" {
		t.Errorf("Mutation() keys = (%q, %q), want (c1, m1)", mut.CourseID, mut.ModuleID)
	}
	if mut.Progress != 0.9 || !mut.Completed {
		t.Errorf("Mutation() = %+v, want progress 0.9 completed", mut)
	}
	if !mut.UpdatedAt.Equal(now) {
		t.Errorf("Mutation() updatedAt = %v, want %v", mut.UpdatedAt, now)
	}
}

func TestProgressMutation_SyncedProgress(t *testing.T) {
	updated := time.Now().Add(-time.Hour)
	syncedAt := time.Now()
	mut := ProgressMutation{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: updated}

	row := mut.SyncedProgress(syncedAt)
	if !row.Synced {
		t.Error("SyncedProgress() row not marked synced")
	}
	if row.SyncedAt == nil || !row.SyncedAt.Equal(syncedAt) {
		t.Errorf("SyncedProgress() syncedAt = %v, want %v", row.SyncedAt, syncedAt)
	}
	if !row.UpdatedAt.Equal(updated) {
		t.Errorf("SyncedProgress() updatedAt = %v, want original %v", row.UpdatedAt, updated)
	}
	if row.Progress != 0.5 {
		t.Errorf("SyncedProgress() progress = %g, want 0.5", row.Progress)
	}
}

func TestQueueEntry_Validate(t *testing.T) {
	now := time.Now()
	valid := QueueEntry{
		ID:        "q1",
		Type:      MutationProgressUpdate,
		EntityKey: "c1:m1",
		Payload:   ProgressMutation{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now},
		QueuedAt:  now,
		Version:   1,
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	mismatched := valid
	mismatched.EntityKey = "c2:m1"
	if err := mismatched.Validate(); err == nil {
		t.Error("Validate() expected error for mismatched entity key, got nil")
	}

	badType := valid
	badType.Type = "course-delete"
	if err := badType.Validate(); err == nil {
		t.Error("Validate() expected error for unknown mutation type, got nil")
	}

	badVersion := valid
	badVersion.Version = 0
	if err := badVersion.Validate(); err == nil {
		t.Error("Validate() expected error for version 0, got nil")
	}
}

func TestConflict_Validate(t *testing.T) {
	now := time.Now()
	mut := ProgressMutation{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now}

	valid := Conflict{
		ID:        "cf1",
		EntityKey: "c1:m1",
		Local:     mut,
		Remote:    mut,
		CreatedAt: now,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	resolvedWithoutStrategy := valid
	resolvedWithoutStrategy.Resolved = true
	if err := resolvedWithoutStrategy.Validate(); err == nil {
		t.Error("Validate() expected error for resolved conflict without strategy, got nil")
	}
}

func TestConflict_MarkResolved(t *testing.T) {
	now := time.Now()
	mut := ProgressMutation{CourseID: "c1", ModuleID: "m1", Progress: 0.5, UpdatedAt: now}
	conflict := Conflict{ID: "cf1", EntityKey: "c1:m1", Local: mut, Remote: mut, CreatedAt: now}

	conflict.MarkResolved("remote", now)

	if !conflict.Resolved {
		t.Error("MarkResolved() conflict not marked resolved")
	}
	if conflict.Strategy != "remote" {
		t.Errorf("MarkResolved() strategy = %q, want %q", conflict.Strategy, "remote")
	}
	if conflict.ResolvedAt == nil || !conflict.ResolvedAt.Equal(now) {
		t.Errorf("MarkResolved() resolvedAt = %v, want %v", conflict.ResolvedAt, now)
	}
}
