package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/bundle"
	"github.com/satchelhq/satchel/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <course-id> [dir]",
	GroupID: "content",
	Short:   "Export a course as a bundle directory",
	Long: `Export a downloaded course as a bundle directory.

The bundle holds the course document, its asset payloads and a manifest,
and can be dropped into another device's spool or imported with
'satchel import'. The default destination is <course-id>.bundle.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		courseID := args[0]
		dir := courseID + ".bundle"
		if len(args) == 2 {
			dir = args[1]
		}

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		result, err := bundle.Export(context.Background(), st, courseID, dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting bundle: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported %s to %s\n", ui.RenderPass("✓"), result.CourseID, result.Dir)
		fmt.Printf("   Assets: %d\n", result.AssetsWritten)
		fmt.Printf("   Size: %s\n", ui.FormatBytes(result.SizeBytes))
	},
}

var importCmd = &cobra.Command{
	Use:     "import <bundle-dir>",
	GroupID: "content",
	Short:   "Import a course bundle",
	Long: `Import a course bundle directory into local storage.

The import is atomic: either the whole course (document and assets)
lands, or nothing does. A bundle older than the stored course version is
skipped unless --force is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		result, err := bundle.Import(context.Background(), st, args[0], bundle.ImportOptions{Force: force})
		if errors.Is(err, bundle.ErrSchemaTooNew) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "The bundle was produced by a newer satchel; upgrade and retry.\n")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing bundle: %v\n", err)
			os.Exit(1)
		}

		if result.Skipped {
			fmt.Printf("%s Skipped %s: %s\n", ui.RenderWarn("⚠"), result.CourseID, result.SkipReason)
			fmt.Printf("   Use --force to import anyway\n")
			return
		}

		fmt.Printf("%s Imported %s", ui.RenderPass("✓"), result.Title)
		if result.Version != "" {
			fmt.Printf(" %s", result.Version)
		}
		fmt.Println()
		fmt.Printf("   Course: %s\n", result.CourseID)
		fmt.Printf("   Assets: %d\n", result.AssetsImported)
		fmt.Printf("   Size: %s\n", ui.FormatBytes(result.SizeBytes))
	},
}

var snapshotCmd = &cobra.Command{
	Use:     "snapshot <file>",
	GroupID: "maint",
	Short:   "Export progress and queue state as a JSONL snapshot",
	Long: `Export every progress row and pending queue entry to a JSONL file.

The snapshot captures the state a device would lose if its storage were
wiped: what the learner has done, and what has not synced yet. Restore
it with 'satchel restore'. The write is atomic.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		result, err := bundle.ExportSnapshot(context.Background(), st, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing snapshot: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Snapshot written to %s\n", ui.RenderPass("✓"), result.Path)
		fmt.Printf("   Progress rows: %d\n", result.ProgressRows)
		fmt.Printf("   Queue entries: %d\n", result.QueueEntries)
	},
}

var restoreCmd = &cobra.Command{
	Use:     "restore <file>",
	GroupID: "maint",
	Short:   "Restore progress and queue state from a snapshot",
	Long: `Restore progress rows and queue entries from a JSONL snapshot.

Restored rows overwrite rows with the same module key; courses and
assets are untouched. With --backup the current state is snapshotted
next to the file first, so a bad restore can be undone. --dry-run
validates and counts without writing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		result, err := bundle.RestoreSnapshot(context.Background(), st, args[0],
			bundle.RestoreOptions{DryRun: dryRun, Backup: backup})
		if errors.Is(err, bundle.ErrSchemaTooNew) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "The snapshot was produced by a newer satchel; upgrade and retry.\n")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error restoring snapshot: %v\n", err)
			os.Exit(1)
		}

		if result.BackupCreated != "" {
			fmt.Printf("%s Backup written to %s\n", ui.RenderPass("✓"), result.BackupCreated)
		}

		verb := "Restored"
		if dryRun {
			verb = "Would restore"
		}
		fmt.Printf("%s %s %d progress rows and %d queue entries\n",
			ui.RenderPass("✓"), verb, result.ProgressRestored, result.EntriesRestored)

		for _, msg := range result.Errors {
			fmt.Printf("   %s %s\n", ui.RenderWarn("⚠"), msg)
		}
		if n := len(result.Errors); n > 0 {
			fmt.Printf("%s %d rows could not be restored\n", ui.RenderWarn("⚠"), n)
		}
	},
}

func init() {
	importCmd.Flags().Bool("force", false, "Import even when the stored course is newer")

	restoreCmd.Flags().Bool("dry-run", false, "Validate and count without writing")
	restoreCmd.Flags().Bool("backup", false, "Snapshot current state before restoring")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
}
