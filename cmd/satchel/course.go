package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var courseCmd = &cobra.Command{
	Use:     "course",
	GroupID: "content",
	Short:   "Manage downloaded courses",
	Long: `Manage the courses held in local storage.

Courses normally arrive as bundles through the spool directory or
'satchel import'; 'course add' registers a bare course record directly,
which is mostly useful for scripting and tests.`,
}

var courseAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a course record",
	Long: `Register a course record in local storage.

The record carries only metadata; module content and assets come from
bundle imports. Examples:

  satchel course add --id go-101 --title "Introduction to Go"
  satchel course add --id go-201 --title "Concurrency" --version v1.2.0`,
	Run: func(cmd *cobra.Command, args []string) {
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		version, _ := cmd.Flags().GetString("version")
		description, _ := cmd.Flags().GetString("description")
		sizeBytes, _ := cmd.Flags().GetInt64("size-bytes")

		if id == "" {
			fmt.Fprintf(os.Stderr, "Error: --id is required\n")
			os.Exit(1)
		}
		if title == "" {
			fmt.Fprintf(os.Stderr, "Error: --title is required\n")
			os.Exit(1)
		}

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		course := &record.Course{
			ID:           id,
			Title:        title,
			Version:      version,
			Description:  description,
			SizeBytes:    sizeBytes,
			DownloadedAt: time.Now().UTC(),
		}

		if err := st.SaveCourse(course); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving course: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Course %s saved\n", ui.RenderPass("✓"), id)
	},
}

var courseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded courses",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		courses, err := st.ListCourses(store.CourseFilter{Limit: limit})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing courses: %v\n", err)
			os.Exit(1)
		}

		if len(courses) == 0 {
			fmt.Printf("No courses downloaded. Import a bundle with 'satchel import'.\n")
			return
		}

		var total int64
		fmt.Printf("%-20s %-32s %-10s %8s %10s  %s\n",
			"ID", "TITLE", "VERSION", "MODULES", "SIZE", "DOWNLOADED")
		for _, c := range courses {
			total += c.SizeBytes
			fmt.Printf("%-20s %-32s %-10s %8d %10s  %s\n",
				truncate(c.ID, 20), truncate(c.Title, 32), c.Version,
				len(c.Modules), ui.FormatBytes(c.SizeBytes),
				c.DownloadedAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("\n%d courses, %s\n", len(courses), ui.FormatBytes(total))
	},
}

var courseRmCmd = &cobra.Command{
	Use:   "rm <course-id>",
	Short: "Remove a course and everything it owns",
	Long: `Remove a course from local storage.

The course's assets and progress rows are removed in the same
transaction; there is no partial state to observe.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		course, err := st.GetCourse(id)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: course %s not found\n", id)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := st.DeleteCourse(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing course: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Removed %s (%s freed)\n",
			ui.RenderPass("✓"), id, ui.FormatBytes(course.SizeBytes))
	},
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func init() {
	courseAddCmd.Flags().String("id", "", "Course identifier (required)")
	courseAddCmd.Flags().String("title", "", "Course title (required)")
	courseAddCmd.Flags().String("version", "", "Course version (semver, e.g. v1.0.0)")
	courseAddCmd.Flags().String("description", "", "Course description")
	courseAddCmd.Flags().Int64("size-bytes", 0, "Course size in bytes")

	courseListCmd.Flags().Int("limit", 0, "Maximum number of courses to list (0 = all)")

	courseCmd.AddCommand(courseAddCmd)
	courseCmd.AddCommand(courseListCmd)
	courseCmd.AddCommand(courseRmCmd)
	rootCmd.AddCommand(courseCmd)
}
