package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/deskpulse/config"
)

// importCmd migrates a YAML configuration into a SQLite config store.
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a YAML config into a SQLite database",
	Long: `Import a YAML configuration file into a SQLite config database.

The database is created if it does not exist, and any configuration it
already holds is replaced atomically. A server running against the same
database picks up the new configuration on its next recheck; no restart
is needed.

Environment variables in the YAML file are expanded before the import, so
the database stores resolved values.

Example:
  deskpulse import -c config.yaml --db /var/lib/deskpulse/config.db`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringP("config", "c", "", "path to YAML config file (required)")
	importCmd.Flags().String("db", "", "path to SQLite config database (required)")
	_ = importCmd.MarkFlagRequired("config")
	_ = importCmd.MarkFlagRequired("db")
}

func runImport(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := config.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open config database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Seed(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %s into %s\n", configFile, dbPath)
	fmt.Printf("  Agents: %d\n", len(cfg.Agents))
	fmt.Printf("  Views:  %d\n", len(cfg.Views))
	return nil
}
