// Command satchel manages offline course storage and synchronization
// for the learning platform.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/satchelhq/satchel/internal/backend"
	_ "github.com/satchelhq/satchel/internal/backend/libsql"
	_ "github.com/satchelhq/satchel/internal/backend/sqlite"
	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/device"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/ui"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "satchel",
	Version: version,
	Short:   "Offline course storage and sync for the learning platform",
	Long: `Satchel keeps downloaded courses and learning progress available
offline and reconciles local changes with the platform once
connectivity returns.

Local state lives in a SQLite database under the satchel directory
(default .satchel/, override with --dir or SATCHEL_DIR). Progress
recorded while offline is queued and drained by 'satchel sync' or the
background daemon; conflicting remote changes surface as conflicts you
can inspect and resolve.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		plain, _ := cmd.Flags().GetBool("plain")
		ui.Init(plain)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "content", Title: "Content Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)

	rootCmd.PersistentFlags().String("dir", "", "Satchel directory (default \".satchel\", or $SATCHEL_DIR)")
	rootCmd.PersistentFlags().Bool("plain", false, "Disable styled output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// satchelDir resolves the directory holding satchel state for this run.
func satchelDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	if dir := os.Getenv("SATCHEL_DIR"); dir != "" {
		return dir
	}
	return config.DefaultDir
}

// loadConfig loads satchel.yaml from the satchel directory and points
// default-relative paths at it. Exits on invalid configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, string) {
	dir := satchelDir(cmd)

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Paths left at their built-in defaults follow the chosen directory
	if dir != config.DefaultDir {
		d := config.Default()
		if cfg.Store.Path == d.Store.Path {
			cfg.Store.Path = filepath.Join(dir, "satchel.db")
		}
		if cfg.Daemon.SpoolDir == d.Daemon.SpoolDir {
			cfg.Daemon.SpoolDir = filepath.Join(dir, "spool")
		}
	}

	return cfg, dir
}

// openStore opens the configured backend, initializes the schema and
// wires the quota capability. Exits on failure.
func openStore(cfg *config.Config) (*store.Store, *backend.Conn) {
	conn, err := backend.Open(backend.Options{
		Type:         backend.Type(cfg.Backend.Type),
		Path:         cfg.Store.Path,
		URL:          cfg.Backend.URL,
		AuthToken:    cfg.Backend.AuthToken,
		SyncInterval: cfg.Backend.SyncInterval,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening backend: %v\n", err)
		os.Exit(1)
	}

	st, err := store.OpenDB(conn.DB, conn.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}

	if err := st.InitSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	if quota := cfg.Store.QuotaBytes; quota > 0 {
		st.SetQuotaFunc(func(ctx context.Context) (int64, error) {
			return quota, nil
		})
	}

	return st, conn
}

// devicePath returns the device.toml location for the satchel directory.
func devicePath(dir string) string {
	return filepath.Join(dir, device.FileName)
}

// componentLogger builds the logger for long-running commands. With
// log.file configured the stream goes through rotation, otherwise to
// stderr.
func componentLogger(cfg *config.Config, prefix string) *log.Logger {
	if cfg.Log.File == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}, prefix, log.LstdFlags)
}
