package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/device"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/resolver"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile queued progress with the platform",
	Long: `Run one reconciliation pass over the sync queue.

The pass:
  1. Drains the queue and groups entries by module
  2. Compacts each group to a single candidate mutation
  3. Compares the candidate against the authoritative state
  4. Writes the winner back and clears the consumed entries

Genuine conflicts are resolved by the configured strategy (auto, local,
remote, merge) or recorded for 'satchel resolve' when the strategy is
manual. One module's failure never aborts the rest of the pass.`,
	Run: runSync,
}

func runSync(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	strategyFlag, _ := cmd.Flags().GetString("strategy")

	cfg, dir := loadConfig(cmd)
	st, conn := openStore(cfg)
	defer st.Close()

	strategy := cfg.Strategy()
	if strategyFlag != "" {
		s, err := resolver.ParseStrategy(strategyFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		strategy = s
	}

	ctx := context.Background()
	pending, _ := st.CountQueue(ctx)
	fmt.Printf("%s Syncing %d pending items...\n", ui.RenderAccent("🔄"), pending)

	eng := engine.New(st, nil, nil, componentLogger(cfg, "[engine] "))
	start := time.Now()

	result, err := eng.SyncDataContext(ctx, engine.Options{Force: force, Strategy: strategy})
	if errors.Is(err, engine.ErrSyncInProgress) {
		fmt.Fprintf(os.Stderr, "Error: a sync is already running (retry, or use --force)\n")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
		os.Exit(1)
	}

	elapsed := time.Since(start)
	fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
	fmt.Printf("   Synced: %d\n", result.SyncedItems)

	for _, c := range result.Conflicts {
		state := ui.RenderWarn("needs 'satchel resolve'")
		if c.Resolved {
			state = fmt.Sprintf("resolved with %s", c.Strategy)
		}
		fmt.Printf("   %s Conflict on %s: local %.0f%% vs remote %.0f%%, %s\n",
			ui.RenderWarn("⚠"), c.EntityKey,
			c.Local.Progress*100, c.Remote.Progress*100, state)
	}

	for _, msg := range result.Errors {
		fmt.Printf("   %s %s\n", ui.RenderFail("✗"), msg)
	}

	if result.Success {
		// Push the replica and advance the device checkpoint; both are
		// best effort once the pass itself has landed.
		if conn.Replicates() {
			if err := conn.Sync(ctx); err != nil {
				fmt.Printf("   %s Replica push failed: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
		if id, err := device.LoadOrCreate(devicePath(dir)); err == nil {
			id.Advance(result.LastSyncTime)
			if err := id.Save(devicePath(dir)); err != nil {
				fmt.Printf("   %s Checkpoint not saved: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
	} else {
		os.Exit(1)
	}
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect the pending mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending queue entries",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		entries, err := st.DrainQueue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%-10s %-40s %9s  %s\n", "ID", "MODULE", "PROGRESS", "QUEUED")
		for _, e := range entries {
			fmt.Printf("%-10s %-40s %8.0f%%  %s\n",
				shortID(e.ID), truncate(e.EntityKey, 40),
				e.Payload.Progress*100, e.QueuedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\n%d pending\n", len(entries))
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all pending queue entries",
	Long: `Discard every pending queue entry without syncing.

Unsynced progress stays in local storage but will never reach the
platform. Prompts for confirmation unless --force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		count, err := st.CountQueue(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}
		if count == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		if !force {
			if !ui.IsInteractive() {
				fmt.Fprintf(os.Stderr, "Error: refusing to discard %d entries without --force\n", count)
				os.Exit(1)
			}
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Discard %d pending entries?", count)).
					Description("Unsynced progress will never reach the platform.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil || !confirmed {
				fmt.Printf("Cancelled\n")
				return
			}
		}

		if err := st.ClearQueue(); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing queue: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Discarded %d entries\n", ui.RenderPass("✓"), count)
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List sync conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		cfg, _ := loadConfig(cmd)
		st, _ := openStore(cfg)
		defer st.Close()

		conflicts, err := st.ListConflicts(store.ConflictFilter{OnlyUnresolved: !all})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing conflicts: %v\n", err)
			os.Exit(1)
		}

		if len(conflicts) == 0 {
			if all {
				fmt.Printf("%s No conflicts recorded\n", ui.RenderPass("✓"))
			} else {
				fmt.Printf("%s No unresolved conflicts\n", ui.RenderPass("✓"))
			}
			return
		}

		for _, c := range conflicts {
			marker := ui.RenderWarn("⚠")
			state := "unresolved"
			if c.Resolved {
				marker = ui.RenderPass("✓")
				state = fmt.Sprintf("resolved with %s", c.Strategy)
				if c.ResolvedAt != nil {
					state += " at " + c.ResolvedAt.Format("2006-01-02 15:04")
				}
			}
			fmt.Printf("%s %s  %s  (%s)\n", marker, shortID(c.ID), c.EntityKey, state)
			fmt.Printf("   local:  %3.0f%% at %s\n",
				c.Local.Progress*100, c.Local.UpdatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("   remote: %3.0f%% at %s\n",
				c.Remote.Progress*100, c.Remote.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:     "resolve [conflict-id]",
	GroupID: "sync",
	Short:   "Resolve a recorded sync conflict",
	Long: `Resolve one recorded conflict with an explicit strategy.

With no arguments, picks the conflict and strategy interactively.
Strategies:
  auto     newer timestamp wins, progress breaks ties
  local    adopt the locally queued value
  remote   keep the platform's value
  merge    highest progress, completed if either side completed

Resolution works on live state: mutations queued since the conflict was
recorded are compacted in, and the remote side is re-fetched.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) {
	strategyFlag, _ := cmd.Flags().GetString("strategy")

	cfg, _ := loadConfig(cmd)
	st, _ := openStore(cfg)
	defer st.Close()

	var conflictID string
	if len(args) == 1 {
		conflictID = args[0]
	}

	if conflictID == "" {
		unresolved, err := st.ListConflicts(store.ConflictFilter{OnlyUnresolved: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing conflicts: %v\n", err)
			os.Exit(1)
		}
		if len(unresolved) == 0 {
			fmt.Printf("%s No unresolved conflicts\n", ui.RenderPass("✓"))
			return
		}
		if !ui.IsInteractive() {
			fmt.Fprintf(os.Stderr, "Error: conflict id required (see 'satchel conflicts')\n")
			os.Exit(1)
		}

		options := make([]huh.Option[string], len(unresolved))
		for i, c := range unresolved {
			label := fmt.Sprintf("%s: local %.0f%% vs remote %.0f%%",
				c.EntityKey, c.Local.Progress*100, c.Remote.Progress*100)
			options[i] = huh.NewOption(label, c.ID)
		}

		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which conflict?").
				Options(options...).
				Value(&conflictID),
		))
		if err := form.Run(); err != nil {
			fmt.Printf("Cancelled\n")
			return
		}
	}

	if strategyFlag == "" {
		if !ui.IsInteractive() {
			fmt.Fprintf(os.Stderr, "Error: --strategy required (auto, local, remote or merge)\n")
			os.Exit(1)
		}
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should it resolve?").
				Options(
					huh.NewOption("auto (newer timestamp wins)", resolver.StrategyAuto.String()),
					huh.NewOption("local (adopt the queued value)", resolver.StrategyLocal.String()),
					huh.NewOption("remote (keep the platform's value)", resolver.StrategyRemote.String()),
					huh.NewOption("merge (highest progress of both)", resolver.StrategyMerge.String()),
				).
				Value(&strategyFlag),
		))
		if err := form.Run(); err != nil {
			fmt.Printf("Cancelled\n")
			return
		}
	}

	strategy, err := resolver.ParseStrategy(strategyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	eng := engine.New(st, nil, nil, componentLogger(cfg, "[engine] "))
	result, err := eng.ResolveConflict(context.Background(), conflictID, strategy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving conflict: %v\n", err)
		os.Exit(1)
	}

	for _, c := range result.Conflicts {
		fmt.Printf("%s Resolved %s with %s\n", ui.RenderPass("✓"), c.EntityKey, c.Strategy)
	}
}

func init() {
	syncCmd.Flags().Bool("force", false, "Run even if another sync is in progress")
	syncCmd.Flags().String("strategy", "", "Conflict strategy for this pass (auto, local, remote, merge, manual)")

	queueClearCmd.Flags().Bool("force", false, "Skip the confirmation prompt")

	conflictsCmd.Flags().Bool("all", false, "Include resolved conflicts")

	resolveCmd.Flags().String("strategy", "", "Resolution strategy (auto, local, remote, merge)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
}
