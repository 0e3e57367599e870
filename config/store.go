package config

import "context"

// Store supplies the current configuration to the monitor.
//
// The monitor re-reads the store on its gate cadence rather than caching a
// config for the life of the process, so edits to the backing file or
// database take effect without a restart. Load is called from a single
// goroutine; implementations only need to be safe for that.
type Store interface {
	// Load returns the current configuration. The returned Config belongs
	// to the caller; subsequent Loads must not alias it.
	Load(ctx context.Context) (*Config, error)
}

// FileStore loads configuration from a YAML file, re-reading it on every
// Load so operator edits are picked up on the next gate check.
type FileStore struct {
	// Path is the YAML file location.
	Path string
}

// Load implements [Store].
func (s *FileStore) Load(_ context.Context) (*Config, error) {
	return Load(s.Path)
}

// StaticStore serves a fixed configuration, assembled programmatically.
// It backs the SDK options that configure the monitor in code.
type StaticStore struct {
	cfg *Config
}

// NewStaticStore returns a store that always serves cfg. The store keeps
// its own copy; later mutations of cfg by the caller are not observed.
func NewStaticStore(cfg *Config) *StaticStore {
	return &StaticStore{cfg: cfg.Clone()}
}

// Load implements [Store].
func (s *StaticStore) Load(_ context.Context) (*Config, error) {
	return s.cfg.Clone(), nil
}
