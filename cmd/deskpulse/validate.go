package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/deskpulse/config"
)

// validateCmd validates a config source without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file or database",
	Long: `Validate a DeskPulse configuration without starting the server.

This command parses the source, expands environment variables, and checks
both structure and completeness: credentials must be present and not
placeholder values, and at least one agent or view must be selected. It's
useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid and complete
  1 - Config is invalid or incomplete (error details printed to stderr)

Example:
  deskpulse validate -c config.yaml
  deskpulse validate --db /var/lib/deskpulse/config.db`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to YAML config file")
	validateCmd.Flags().String("db", "", "path to SQLite config database")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config is incomplete: %w", err)
	}

	perAgent := 0
	for _, v := range cfg.Views {
		if v.PerAgent {
			perAgent++
		}
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Title:           %s\n", cfg.Title)
	fmt.Printf("  Port:            %d\n", cfg.Port)
	fmt.Printf("  Desk URL:        %s\n", cfg.DeskURL())
	fmt.Printf("  Request timeout: %s\n", cfg.RequestTimeout.Duration())
	fmt.Printf("  Agents:          %d\n", len(cfg.Agents))
	fmt.Printf("  Views:           %d (%d with per-agent breakdown)\n", len(cfg.Views), perAgent)
	return nil
}

// loadFromFlags reads the configuration named by --config or --db.
func loadFromFlags(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")

	switch {
	case configFile != "" && dbPath != "":
		return nil, fmt.Errorf("--config and --db are mutually exclusive")

	case configFile != "":
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil

	case dbPath != "":
		db, err := config.OpenDB(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config database: %w", err)
		}
		defer func() { _ = db.Close() }()
		cfg, err := db.Load(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("either --config or --db is required")
	}
}
