// Package main is the entry point for the deskpulse CLI.
//
// DeskPulse can be run either as a library (SDK) or as a standalone binary
// with YAML or SQLite configuration. This CLI provides the standalone
// binary approach.
//
// Usage:
//
//	deskpulse serve -c config.yaml        # Start the monitor and dashboard
//	deskpulse validate -c config.yaml     # Validate configuration
//	deskpulse import -c config.yaml --db deskpulse.db  # Seed a SQLite config store
//	deskpulse version                     # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "deskpulse",
	Short: "A real-time support desk monitor",
	Long: `DeskPulse is a lightweight, real-time support desk monitor.

It polls the desk's API for each selected agent's presence and call status
and for the ticket count of each selected view, republishes the results as
Prometheus time series, and serves a live dashboard with Server-Sent
Events for updates.

Quick start:
  1. Create a config file (deskpulse.yaml)
  2. Run: deskpulse serve -c deskpulse.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  subdomain: acme
  email: ops@acme.example
  api_token: ${DESK_API_TOKEN}
  agents:
    - id: 360001
      name: Ada Lovelace
  views:
    - id: 7100
      name: Unsolved tickets
      per_agent: true`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this deskpulse binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskpulse %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
