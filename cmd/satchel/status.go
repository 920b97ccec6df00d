package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/device"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local storage and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, dir := loadConfig(cmd)

		info, err := os.Stat(cfg.Store.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Satchel not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'satchel init' to set up %s\n\n", dir)
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking store: %v\n", err)
			os.Exit(1)
		}

		st, conn := openStore(cfg)
		defer st.Close()

		ctx := context.Background()
		courses, err := st.CountCourses(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting courses: %v\n", err)
			os.Exit(1)
		}
		pending, err := st.CountQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting queue: %v\n", err)
			os.Exit(1)
		}
		unresolved, err := st.ListConflicts(store.ConflictFilter{OnlyUnresolved: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing conflicts: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Satchel Status\n\n", ui.RenderAccent("📦"))
		fmt.Printf("Store:     %s (%s)\n", cfg.Store.Path, conn.Type)
		fmt.Printf("Size:      %s\n", ui.FormatBytes(info.Size()))
		fmt.Printf("Modified:  %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Println()
		fmt.Printf("Courses:   %d\n", courses)
		fmt.Printf("Pending:   %d queued mutations\n", pending)
		if len(unresolved) > 0 {
			fmt.Printf("Conflicts: %s\n", ui.RenderWarn(fmt.Sprintf("%d unresolved", len(unresolved))))
		} else {
			fmt.Printf("Conflicts: none\n")
		}

		id, err := device.Load(devicePath(dir))
		switch {
		case errors.Is(err, device.ErrNotRegistered):
			fmt.Printf("\nDevice:    not registered (run 'satchel init')\n")
		case err != nil:
			fmt.Printf("\nDevice:    %s\n", ui.RenderWarn(err.Error()))
		default:
			fmt.Printf("\nDevice:    %s\n", id.Short())
			if id.LastSyncAt != nil {
				fmt.Printf("Last sync: %s (version %d)\n",
					id.LastSyncAt.Format("2006-01-02 15:04:05"), id.SyncVersion)
			} else {
				fmt.Printf("Last sync: never\n")
			}
		}
		fmt.Println()
	},
}

var usageCmd = &cobra.Command{
	Use:     "usage",
	GroupID: "maint",
	Short:   "Show storage usage against the quota",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		usage, err := st.EstimateUsage(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error estimating usage: %v\n", err)
			os.Exit(1)
		}

		if usage.Total == 0 {
			fmt.Printf("Used: %s (no quota configured)\n", ui.FormatBytes(usage.Used))
			return
		}

		fmt.Printf("%s %s of %s (%.1f%%)\n",
			ui.Bar(usage.Percentage/100, 20),
			ui.FormatBytes(usage.Used), ui.FormatBytes(usage.Total),
			usage.Percentage)
	},
}

var evictCmd = &cobra.Command{
	Use:     "evict",
	GroupID: "maint",
	Short:   "Remove courses that have not been opened recently",
	Long: `Remove courses whose last access is older than the given cutoff to
free local storage.

The cutoff takes natural language:
  satchel evict --not-accessed-since "2 weeks ago"
  satchel evict --not-accessed-since "last month" --dry-run

Each eviction cascades: the course's assets and progress rows go with
it. Use --dry-run to preview.`,
	Run: func(cmd *cobra.Command, args []string) {
		expr, _ := cmd.Flags().GetString("not-accessed-since")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if expr == "" {
			fmt.Fprintf(os.Stderr, "Error: --not-accessed-since is required\n")
			os.Exit(1)
		}

		w := when.New(nil)
		w.Add(en.All...)
		w.Add(common.All...)

		parsed, err := w.Parse(expr, time.Now())
		if err != nil || parsed == nil {
			fmt.Fprintf(os.Stderr, "Error: could not understand %q\n", expr)
			os.Exit(1)
		}
		cutoff := parsed.Time

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		stale, err := st.ListCourses(store.CourseFilter{NotAccessedSince: cutoff})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing courses: %v\n", err)
			os.Exit(1)
		}

		if len(stale) == 0 {
			fmt.Printf("%s Nothing to evict (cutoff %s)\n",
				ui.RenderPass("✓"), cutoff.Format("2006-01-02 15:04"))
			return
		}

		var freed int64
		for _, c := range stale {
			freed += c.SizeBytes
			if dryRun {
				fmt.Printf("would evict %s (%s, %s)\n",
					c.ID, c.Title, ui.FormatBytes(c.SizeBytes))
				continue
			}
			if err := st.DeleteCourse(c.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error evicting %s: %v\n", c.ID, err)
				os.Exit(1)
			}
			fmt.Printf("evicted %s (%s, %s)\n", c.ID, c.Title, ui.FormatBytes(c.SizeBytes))
		}

		if dryRun {
			fmt.Printf("\n%s Would free %s from %d courses\n",
				ui.RenderAccent("→"), ui.FormatBytes(freed), len(stale))
		} else {
			fmt.Printf("\n%s Freed %s from %d courses\n",
				ui.RenderPass("✓"), ui.FormatBytes(freed), len(stale))
		}
	},
}

func init() {
	evictCmd.Flags().String("not-accessed-since", "", "Evict courses untouched since this time (natural language)")
	evictCmd.Flags().Bool("dry-run", false, "List what would be evicted without removing anything")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(evictCmd)
}
