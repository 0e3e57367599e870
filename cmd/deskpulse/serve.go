package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/deskpulse"
	"github.com/jpalmerr/deskpulse/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts the DeskPulse monitor and dashboard server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitor and dashboard server",
	Long: `Start the DeskPulse monitor and dashboard server.

The server will:
  - Load configuration from the specified YAML file or SQLite database
  - Start polling the configured agents and ticket views
  - Serve the dashboard UI and /metrics on the configured port

Configuration is re-read while running: placeholder credentials keep
polling gated rather than failing startup, and fixing the file or database
takes effect without a restart.

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  deskpulse serve -c config.yaml
  deskpulse serve --db /var/lib/deskpulse/config.db --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to YAML config file")
	serveCmd.Flags().String("db", "", "path to SQLite config database")
	serveCmd.Flags().Int("port", 0, "dashboard port (overrides the config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")
	port, _ := cmd.Flags().GetInt("port")

	opts := []deskpulse.Option{
		deskpulse.WithLogger(logger),
	}
	if port != 0 {
		opts = append(opts, deskpulse.WithPort(port))
	}

	switch {
	case configFile != "" && dbPath != "":
		return fmt.Errorf("--config and --db are mutually exclusive")

	case configFile != "":
		// fail fast on structural problems; an incomplete config is an
		// operator state the monitor handles by gating
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Info("config loaded",
			"agents", len(cfg.Agents),
			"views", len(cfg.Views),
		)
		if err := cfg.Validate(); err != nil {
			logger.Warn("configuration incomplete, polling stays gated until it is fixed", "error", err)
		}
		opts = append(opts, deskpulse.WithConfigFile(configFile))

	case dbPath != "":
		db, err := config.OpenDB(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open config database: %w", err)
		}
		defer func() { _ = db.Close() }()
		opts = append(opts, deskpulse.WithConfigStore(db))

	default:
		return fmt.Errorf("either --config or --db is required")
	}

	dp, err := deskpulse.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create DeskPulse: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- dp.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
