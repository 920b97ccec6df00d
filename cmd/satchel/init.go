package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satchelhq/satchel/internal/config"
	"github.com/satchelhq/satchel/internal/device"
	"github.com/satchelhq/satchel/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Initialize the satchel directory",
	Long: `Create the satchel directory with a starter configuration.

This sets up everything satchel needs:
  1. Writes satchel.yaml with commented defaults
  2. Creates the local database and schema
  3. Registers this device (device.toml)
  4. Creates the download spool directory

Safe to re-run: existing files are kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := satchelDir(cmd)

		path, err := config.WriteDefault(dir)
		switch {
		case err == nil:
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		case strings.Contains(err.Error(), "already exists"):
			fmt.Printf("%s Config already exists, keeping it\n", ui.RenderWarn("⚠"))
		default:
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		cfg, _ := loadConfig(cmd)

		st, conn := openStore(cfg)
		defer st.Close()

		fmt.Printf("%s Database ready at %s (%s backend)\n",
			ui.RenderPass("✓"), cfg.Store.Path, conn.Type)

		id, err := device.LoadOrCreate(devicePath(dir))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error registering device: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Device %s registered\n", ui.RenderPass("✓"), id.Short())

		if err := os.MkdirAll(cfg.Daemon.SpoolDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating spool directory: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Spool directory at %s\n", ui.RenderPass("✓"), cfg.Daemon.SpoolDir)

		fmt.Printf("\nDrop course bundles into %s and run 'satchel daemon',\n", cfg.Daemon.SpoolDir)
		fmt.Printf("or import them directly with 'satchel import <bundle-dir>'.\n")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
