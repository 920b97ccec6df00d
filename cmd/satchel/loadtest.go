package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/loadtest"
	"github.com/satchelhq/satchel/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Run a storage load test",
	Long: `Seed a throwaway store and measure it under concurrent load.

The harness creates courses with a realistic module mix, progress rows
(about half already synced) and a sync-queue backlog, then runs
concurrent reader sessions against it and reports latency percentiles.
With --races it additionally runs readers, writers and a reconciler
together and checks every row read for invariant violations.

Examples:
  # Default load test (200 courses, 100 sessions)
  satchel loadtest

  # Larger store, more sessions
  satchel loadtest --courses 1000 --sessions 200

  # Include the race check
  satchel loadtest --races --duration 5s
`,
	Run: runLoadtest,
}

func runLoadtest(cmd *cobra.Command, args []string) {
	courses, _ := cmd.Flags().GetInt("courses")
	modules, _ := cmd.Flags().GetInt("modules")
	sessions, _ := cmd.Flags().GetInt("sessions")
	reads, _ := cmd.Flags().GetInt("reads")
	backlog, _ := cmd.Flags().GetFloat64("backlog")
	races, _ := cmd.Flags().GetBool("races")
	duration, _ := cmd.Flags().GetDuration("duration")
	dbPath, _ := cmd.Flags().GetString("db")

	if courses <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --courses must be positive\n")
		os.Exit(1)
	}
	if modules <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --modules must be positive\n")
		os.Exit(1)
	}
	if sessions <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --sessions must be positive\n")
		os.Exit(1)
	}
	if reads <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --reads must be positive\n")
		os.Exit(1)
	}
	if backlog < 0 || backlog > 1 {
		fmt.Fprintf(os.Stderr, "Error: --backlog must be between 0.0 and 1.0\n")
		os.Exit(1)
	}

	if dbPath == "" {
		tmpDir, err := os.MkdirTemp("", "satchel-loadtest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmpDir)
		dbPath = filepath.Join(tmpDir, "loadtest.db")
	}

	fmt.Printf("%s Seeding %d courses × %d modules (%.0f%% backlog)...\n",
		ui.RenderAccent("🔄"), courses, modules, backlog*100)
	start := time.Now()

	ts, err := loadtest.CreateTestStore(dbPath, courses, modules, backlog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding store: %v\n", err)
		os.Exit(1)
	}
	defer ts.Close()

	fmt.Printf("%s Store ready in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	for k, v := range ts.Stats() {
		fmt.Printf("   %s: %v\n", k, v)
	}

	fmt.Printf("\n%s Running %d sessions × %d reads...\n", ui.RenderAccent("🔄"), sessions, reads)
	readStart := time.Now()

	stats, err := ts.RunConcurrentReads(sessions, reads)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during load test: %v\n", err)
		os.Exit(1)
	}

	totalDuration := time.Since(readStart)
	fmt.Println()
	stats.PrintStats()
	fmt.Printf("  Throughput:   %.0f reads/s\n", float64(stats.TotalReads)/totalDuration.Seconds())

	if stats.Errors > 0 {
		fmt.Printf("\n%s %d reads failed\n", ui.RenderFail("✗"), stats.Errors)
		os.Exit(1)
	}

	if races {
		fmt.Printf("\n%s Checking invariants under concurrent writes for %v...\n",
			ui.RenderAccent("🔄"), duration)
		if err := ts.VerifyNoRaces(sessions, duration); err != nil {
			fmt.Fprintf(os.Stderr, "%s Violation: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s No violations observed\n", ui.RenderPass("✓"))
	}
}

func init() {
	loadtestCmd.Flags().Int("courses", 200, "Number of courses to seed")
	loadtestCmd.Flags().Int("modules", 10, "Modules per course")
	loadtestCmd.Flags().Int("sessions", 100, "Concurrent reader sessions")
	loadtestCmd.Flags().Int("reads", 10, "Reads per session")
	loadtestCmd.Flags().Float64("backlog", 0.3, "Fraction of modules with queued mutations (0.0-1.0)")
	loadtestCmd.Flags().Bool("races", false, "Also run the concurrent-writer invariant check")
	loadtestCmd.Flags().Duration("duration", 5*time.Second, "Duration of the race check")
	loadtestCmd.Flags().String("db", "", "Store the test database at this path and keep it")

	rootCmd.AddCommand(loadtestCmd)
}
