package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/relay"
)

var relayCmd = &cobra.Command{
	Use:     "relay",
	GroupID: "sync",
	Short:   "Start the WebSocket event relay",
	Long: `Start a WebSocket server that fans sync events out to connected
clients.

Other tabs and processes subscribe to stay consistent with engine
activity without polling the store. Events carry a type, timestamp and
payload:
- sync-started: a reconciliation pass began
- conflict-detected: a conflict was found (with the entity key)
- sync-completed: a pass finished (with the result summary)

Example usage:
  satchel relay                  # Listen on the configured port (default 8080)
  satchel relay --port 9000      # Listen on a custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig(cmd)

		port := cfg.Relay.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		server := relay.NewServer(&relay.Config{
			Port:   port,
			Logger: componentLogger(cfg, "[relay] "),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start relay: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Relay started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down relay...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Relay stopped")
	},
}

func init() {
	relayCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(relayCmd)
}
