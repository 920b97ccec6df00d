package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/daemon"
	"github.com/satchelhq/satchel/internal/engine"
	"github.com/satchelhq/satchel/internal/relay"
	"github.com/satchelhq/satchel/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the satchel daemon in the foreground.

The daemon keeps local state converged without manual syncs:
  1. Imports bundles already waiting in the spool directory
  2. Watches the spool and imports bundles as they arrive
  3. Runs a reconciliation pass on a fixed interval
  4. Advances the device checkpoint after each successful pass

Bundle imports are debounced so a bundle is only picked up once the
download pipeline has finished writing it. With --relay the daemon
also serves the WebSocket event relay, so observers receive sync
events as they happen. Stop with Ctrl+C; shutdown waits for in-flight
work.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, dir := loadConfig(cmd)
		st, conn := openStore(cfg)
		defer st.Close()

		var (
			bcast engine.Broadcaster
			rly   *relay.Server
		)
		if withRelay, _ := cmd.Flags().GetBool("relay"); withRelay {
			rly = relay.NewServer(&relay.Config{
				Port:   cfg.Relay.Port,
				Logger: componentLogger(cfg, "[relay] "),
			})
			if err := rly.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting relay: %v\n", err)
				os.Exit(1)
			}
			bcast = rly
		}

		eng := engine.New(st, nil, bcast, componentLogger(cfg, "[engine] "))

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = cfg.Daemon.SyncInterval
		dcfg.DebounceInterval = cfg.Daemon.Debounce
		dcfg.Strategy = cfg.Strategy()
		dcfg.CheckpointPath = devicePath(dir)
		dcfg.Logger = componentLogger(cfg, "[daemon] ")
		if conn.Replicates() {
			dcfg.Replicate = conn.Sync
		}

		d, err := daemon.NewWithConfig(st, eng, cfg.Daemon.SpoolDir, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting satchel daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Spool: %s\n", cfg.Daemon.SpoolDir)
		fmt.Printf("   Sync interval: %v\n", cfg.Daemon.SyncInterval)
		fmt.Printf("   Store: %s (%s)\n", cfg.Store.Path, conn.Type)
		if rly != nil {
			fmt.Printf("   Relay: ws://localhost:%d/ws\n", cfg.Relay.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		err = d.Start(ctx)
		if rly != nil {
			if serr := rly.Stop(); serr != nil {
				fmt.Fprintf(os.Stderr, "Error stopping relay: %v\n", serr)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("relay", false, "Serve the WebSocket event relay while the daemon runs")
	rootCmd.AddCommand(daemonCmd)
}
