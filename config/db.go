package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// schema holds the single-row settings plus the agent and view selections.
// per_agent is stored as 0/1.
const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agents (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS views (
	id        INTEGER PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	per_agent INTEGER NOT NULL DEFAULT 0
);`

// settings keys understood by [DBStore].
const (
	settingTitle          = "title"
	settingPort           = "port"
	settingSubdomain      = "subdomain"
	settingEmail          = "email"
	settingAPIToken       = "api_token"
	settingBaseURL        = "base_url"
	settingRequestTimeout = "request_timeout"
)

// DBStore loads configuration from a SQLite database. It exists for
// deployments where the selection is edited by other tooling while the
// monitor runs; every Load reads the current database state.
type DBStore struct {
	db *sql.DB
}

// OpenDB opens (creating if needed) a SQLite-backed configuration store.
func OpenDB(path string) (*DBStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create config schema: %w", err)
	}
	return &DBStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *DBStore) Close() error {
	return s.db.Close()
}

// Load implements [Store]. Defaults and structural checks match [Parse],
// so a database-backed deployment behaves exactly like a file-backed one.
func (s *DBStore) Load(ctx context.Context) (*Config, error) {
	settings, err := s.readSettings(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Title:     settings[settingTitle],
		Subdomain: settings[settingSubdomain],
		Email:     settings[settingEmail],
		APIToken:  settings[settingAPIToken],
		BaseURL:   settings[settingBaseURL],
	}

	if raw, ok := settings[settingPort]; ok && raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("setting %q: invalid port %q: %w", settingPort, raw, err)
		}
		cfg.Port = port
	}
	if raw, ok := settings[settingRequestTimeout]; ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("setting %q: invalid duration %q: %w", settingRequestTimeout, raw, err)
		}
		cfg.RequestTimeout = Duration(d)
	}

	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = Duration(DefaultRequestTimeout)
	}

	if cfg.Agents, err = s.readAgents(ctx); err != nil {
		return nil, err
	}
	if cfg.Views, err = s.readViews(ctx); err != nil {
		return nil, err
	}

	if err := cfg.expandAndCheck(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *DBStore) readSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *DBStore) readAgents(ctx context.Context) ([]AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []AgentConfig
	for rows.Next() {
		var a AgentConfig
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *DBStore) readViews(ctx context.Context) ([]ViewConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, per_agent FROM views ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var views []ViewConfig
	for rows.Next() {
		var v ViewConfig
		var perAgent int
		if err := rows.Scan(&v.ID, &v.Name, &perAgent); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		v.PerAgent = perAgent != 0
		views = append(views, v)
	}
	return views, rows.Err()
}

// Seed replaces the stored configuration with cfg, atomically. It backs
// the import command that migrates a YAML file into a database.
func (s *DBStore) Seed(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot seed nil config")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM settings`, `DELETE FROM agents`, `DELETE FROM views`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear existing config: %w", err)
		}
	}

	settings := map[string]string{
		settingTitle:          cfg.Title,
		settingPort:           strconv.Itoa(cfg.Port),
		settingSubdomain:      cfg.Subdomain,
		settingEmail:          cfg.Email,
		settingAPIToken:       cfg.APIToken,
		settingBaseURL:        cfg.BaseURL,
		settingRequestTimeout: cfg.RequestTimeout.Duration().String(),
	}
	for key, value := range settings {
		if value == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to write setting %q: %w", key, err)
		}
	}

	for _, a := range cfg.Agents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO agents (id, name) VALUES (?, ?)`, a.ID, a.Name); err != nil {
			return fmt.Errorf("failed to write agent %d: %w", a.ID, err)
		}
	}
	for _, v := range cfg.Views {
		perAgent := 0
		if v.PerAgent {
			perAgent = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO views (id, name, per_agent) VALUES (?, ?, ?)`, v.ID, v.Name, perAgent); err != nil {
			return fmt.Errorf("failed to write view %d: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
