package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var progressCmd = &cobra.Command{
	Use:     "progress",
	GroupID: "content",
	Short:   "Record and inspect learning progress",
}

var progressSetCmd = &cobra.Command{
	Use:   "set <course-id> <module-id> <value>",
	Short: "Record progress for a module",
	Long: `Record progress for a module as a value between 0 and 1.

The row is written to local storage and a mutation is queued for the
next sync; this is the same path the player takes while offline.
A value of 1 marks the module completed.

Examples:
  satchel progress set go-101 m001 0.5
  satchel progress set go-101 m002 1`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		courseID, moduleID := args[0], args[1]
		completed, _ := cmd.Flags().GetBool("completed")

		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid progress value %q\n", args[2])
			os.Exit(1)
		}

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		p := &record.Progress{
			CourseID:  courseID,
			ModuleID:  moduleID,
			Progress:  value,
			Completed: completed || value == 1,
			UpdatedAt: time.Now().UTC(),
		}

		if err := st.SaveProgress(p); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving progress: %v\n", err)
			os.Exit(1)
		}

		if _, err := st.Enqueue(record.MutationProgressUpdate, p.Mutation()); err != nil {
			fmt.Fprintf(os.Stderr, "Error queuing mutation: %v\n", err)
			os.Exit(1)
		}

		pending, _ := st.CountQueue(context.Background())
		fmt.Printf("%s %s at %.0f%% (%d pending)\n",
			ui.RenderPass("✓"), p.EntityKey(), value*100, pending)
	},
}

var progressShowCmd = &cobra.Command{
	Use:   "show [course-id]",
	Short: "Show recorded progress",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		unsynced, _ := cmd.Flags().GetBool("unsynced")

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		filter := store.ProgressFilter{}
		if len(args) == 1 {
			filter.CourseID = args[0]
		}
		if unsynced {
			f := false
			filter.Synced = &f
		}

		rows, err := st.ListProgress(filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing progress: %v\n", err)
			os.Exit(1)
		}

		if len(rows) == 0 {
			fmt.Printf("No progress recorded.\n")
			return
		}

		fmt.Printf("%-40s %9s %10s  %-7s %s\n",
			"MODULE", "PROGRESS", "COMPLETED", "SYNC", "UPDATED")
		for _, p := range rows {
			sync := ui.RenderWarn("pending")
			if p.Synced {
				sync = ui.RenderPass("synced ")
			}
			completed := ""
			if p.Completed {
				completed = "yes"
			}
			fmt.Printf("%-40s %8.0f%% %10s  %s %s\n",
				truncate(p.EntityKey(), 40), p.Progress*100, completed,
				sync, p.UpdatedAt.Format("2006-01-02 15:04"))
		}
	},
}

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <course-id> <module-id> <value>",
	GroupID: "content",
	Short:   "Append a progress mutation to the sync queue",
	Long: `Append a progress mutation to the sync queue without touching the
local progress row.

This is the raw queue-append path. It is useful for scripting sync and
conflict scenarios; interactive use normally goes through
'satchel progress set', which also updates the local row.

The --at flag backdates the mutation (RFC 3339), which is how you
manufacture a conflict against a newer remote row.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		courseID, moduleID := args[0], args[1]
		completed, _ := cmd.Flags().GetBool("completed")
		at, _ := cmd.Flags().GetString("at")

		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid progress value %q\n", args[2])
			os.Exit(1)
		}

		updatedAt := time.Now().UTC()
		if at != "" {
			updatedAt, err = time.Parse(time.RFC3339, at)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid --at time %q (want RFC 3339)\n", at)
				os.Exit(1)
			}
		}

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		mutation := record.ProgressMutation{
			CourseID:  courseID,
			ModuleID:  moduleID,
			Progress:  value,
			Completed: completed || value == 1,
			UpdatedAt: updatedAt,
		}

		entry, err := st.Enqueue(record.MutationProgressUpdate, mutation)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error queuing mutation: %v\n", err)
			os.Exit(1)
		}

		pending, _ := st.CountQueue(context.Background())
		fmt.Printf("%s Queued %s for %s (%d pending)\n",
			ui.RenderPass("✓"), shortID(entry.ID), mutation.EntityKey(), pending)
	},
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	progressSetCmd.Flags().Bool("completed", false, "Mark the module completed")

	progressShowCmd.Flags().Bool("unsynced", false, "Show only rows not yet synced")

	enqueueCmd.Flags().Bool("completed", false, "Mark the module completed")
	enqueueCmd.Flags().String("at", "", "Mutation timestamp (RFC 3339, default now)")

	progressCmd.AddCommand(progressSetCmd)
	progressCmd.AddCommand(progressShowCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(enqueueCmd)
}
