package deskpulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/deskpulse/config"
	"github.com/jpalmerr/deskpulse/dashboard"
	"github.com/jpalmerr/deskpulse/internal/desk"
	"github.com/jpalmerr/deskpulse/internal/metrics"
	"github.com/jpalmerr/deskpulse/internal/monitor"
	"github.com/jpalmerr/deskpulse/internal/server"
	"github.com/jpalmerr/deskpulse/internal/store"
)

// DeskPulse is the main orchestrator for desk polling and dashboard serving.
//
// DeskPulse coordinates the monitoring of support desk agents and ticket
// views, stores their state, republishes it as Prometheus series, and
// serves a real-time dashboard via HTTP. It is created using [New] with
// functional options and started with [DeskPulse.Start].
//
// The typical lifecycle is:
//
//	dp, err := deskpulse.New(deskpulse.WithConfigFile("deskpulse.yaml"))
//	if err != nil {
//	    slog.Error("failed to create deskpulse", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	dp.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type DeskPulse struct {
	configStore     config.Store
	port            int
	title           string
	maxConcurrency  int
	logger          *slog.Logger
	changeCallbacks []func(AgentChange)
	registry        *prometheus.Registry

	// timing and clientFactory are test seams; zero values mean the
	// monitor's defaults.
	timing        monitor.Timing
	clientFactory monitor.ClientFactory
}

// New creates a new [DeskPulse] instance with the given options.
//
// Desk settings must come from exactly one source: [WithConfigFile],
// [WithConfigStore], or inline options ([WithCredentials] with
// [WithAgent]/[WithView] and friends). Inline settings are validated
// immediately since they cannot be corrected at runtime; file and store
// sources are validated on the monitor's recheck cadence instead, so an
// incomplete file gates polling rather than failing New.
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithCredentials("acme", "ops@acme.example", token),
//	    deskpulse.WithAgents(360001, 360002),
//	    deskpulse.WithPerAgentView(7100, "Unsolved tickets"),
//	    deskpulse.WithPort(9090),
//	)
func New(opts ...Option) (*DeskPulse, error) {
	cfg := &dpConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	inline := cfg.subdomain != "" || cfg.email != "" || cfg.apiToken != "" ||
		cfg.baseURL != "" || len(cfg.agents) > 0 || len(cfg.views) > 0 ||
		cfg.requestTimeout != 0

	sources := 0
	if cfg.configPath != "" {
		sources++
	}
	if cfg.configStore != nil {
		sources++
	}
	if inline {
		sources++
	}
	if sources == 0 {
		return nil, errors.New("desk configuration required: use WithConfigFile, WithConfigStore, or inline options")
	}
	if sources > 1 {
		return nil, errors.New("desk configuration sources are mutually exclusive: use one of WithConfigFile, WithConfigStore, or inline options")
	}

	var configStore config.Store
	switch {
	case cfg.configStore != nil:
		configStore = cfg.configStore
	case cfg.configPath != "":
		configStore = &config.FileStore{Path: cfg.configPath}
	default:
		inlineCfg, err := buildInlineConfig(cfg)
		if err != nil {
			return nil, err
		}
		configStore = config.NewStaticStore(inlineCfg)
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DeskPulse{
		configStore:     configStore,
		port:            cfg.port,
		title:           cfg.title,
		maxConcurrency:  cfg.maxConcurrency,
		logger:          logger,
		changeCallbacks: cfg.changeCallbacks,
		registry:        cfg.registry,
	}, nil
}

// buildInlineConfig assembles a configuration from inline options and
// validates it the way a parsed file would be, plus the completeness check
// a file is allowed to defer.
func buildInlineConfig(cfg *dpConfig) (*config.Config, error) {
	c := &config.Config{
		Title:          cfg.title,
		Port:           cfg.port,
		Subdomain:      cfg.subdomain,
		Email:          cfg.email,
		APIToken:       cfg.apiToken,
		BaseURL:        cfg.baseURL,
		RequestTimeout: config.Duration(cfg.requestTimeout),
		Agents:         append([]config.AgentConfig(nil), cfg.agents...),
		Views:          append([]config.ViewConfig(nil), cfg.views...),
	}
	if c.Title == "" {
		c.Title = config.DefaultTitle
	}
	if c.Port == 0 {
		c.Port = config.DefaultPort
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = config.Duration(config.DefaultRequestTimeout)
	}

	if c.BaseURL != "" {
		parsed, err := url.Parse(c.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("base URL scheme must be http or https, got %q", parsed.Scheme)
		}
	}

	seenAgents := make(map[int64]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if _, exists := seenAgents[a.ID]; exists {
			return nil, fmt.Errorf("duplicate agent id %d", a.ID)
		}
		seenAgents[a.ID] = struct{}{}
	}
	seenViews := make(map[int64]struct{}, len(c.Views))
	for _, v := range c.Views {
		if _, exists := seenViews[v.ID]; exists {
			return nil, fmt.Errorf("duplicate view id %d", v.ID)
		}
		seenViews[v.ID] = struct{}{}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("incomplete desk settings: %w", err)
	}
	return c, nil
}

// Start begins polling the desk and serving the dashboard.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - Configured agents are checked immediately, then on an adaptive cadence
//   - Ticket views are counted each cycle
//   - The HTTP server starts on the configured port
//   - The dashboard is available at http://localhost:<port>
//   - Prometheus series are served at /metrics
//
// The caller controls the lifecycle via context cancellation. For signal
// handling, use [signal.NotifyContext]:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	dp.Start(ctx)
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start.
func (dp *DeskPulse) Start(ctx context.Context) error {
	port, title := dp.resolveServerSettings(ctx)

	dp.logger.Info("deskpulse starting", "title", title)
	dp.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	registry := dp.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	statusStore := store.NewMemoryStore()

	mon := monitor.New(dp.configStore, monitor.Options{
		Logger:        dp.logger,
		Sink:          metrics.NewPromSink(registry),
		Concurrency:   dp.maxConcurrency,
		Timing:        dp.timing,
		ClientFactory: dp.clientFactory,
	})
	mon.Start(ctx)

	// track the updates consumer goroutine to ensure clean shutdown
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range mon.Updates() {
			// store update first (callbacks fire after data is persisted)
			applyUpdate(statusStore, update)

			// invoke change callbacks (after store update)
			if len(dp.changeCallbacks) > 0 {
				for _, change := range update.Changes {
					publicChange := changeToPublic(change)
					for _, cb := range dp.changeCallbacks {
						invokeCallbackSafe(cb, publicChange, dp.logger)
					}
				}
			}

			// log cycle results (DEBUG level for success to reduce noise)
			logAttrs := []any{
				"agents", len(update.Agents),
				"changes", len(update.Changes),
				"views", len(update.ViewTotals),
			}
			if update.FailureCount > 0 {
				dp.logger.Warn("cycle completed with failures",
					append(logAttrs, "failed_checks", update.FailureCount)...)
			} else {
				dp.logger.Debug("cycle completed", logAttrs...)
			}
		}
	}()

	// cleanup function ensures the monitor is stopped and all updates are processed
	cleanup := func() {
		mon.Stop() // closes updates channel
		wg.Wait()  // wait for all updates to be processed
	}

	// start the HTTP server
	httpServer := server.NewServer(server.Config{
		Store:    statusStore,
		Port:     port,
		Assets:   dashboard.Assets,
		Title:    title,
		Gatherer: registry,
		Phase:    func() string { return string(mon.Phase()) },
		Logger:   dp.logger,
	})
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	dp.logger.Info("deskpulse stopped")
	return nil
}

// resolveServerSettings decides the dashboard port and title. Explicit
// options win; otherwise the configuration source is consulted once, and
// package defaults cover a source that cannot be read yet.
func (dp *DeskPulse) resolveServerSettings(ctx context.Context) (int, string) {
	port := dp.port
	title := dp.title
	if port != 0 && title != "" {
		return port, title
	}

	if cfg, err := dp.configStore.Load(ctx); err == nil {
		if port == 0 {
			port = cfg.Port
		}
		if title == "" {
			title = cfg.Title
		}
	} else {
		dp.logger.Warn("configuration not readable yet, using default dashboard settings", "error", err)
	}

	if port == 0 {
		port = config.DefaultPort
	}
	if title == "" {
		title = config.DefaultTitle
	}
	return port, title
}

// Port returns the dashboard port set via [WithPort], or 0 when the port
// comes from the configuration source at Start.
func (dp *DeskPulse) Port() int {
	return dp.port
}

// Title returns the dashboard title set via [WithTitle], or "" when the
// title comes from the configuration source at Start.
func (dp *DeskPulse) Title() string {
	return dp.title
}

// applyUpdate folds one polling cycle's outcome into the dashboard state.
func applyUpdate(st store.Store, u monitor.Update) {
	for _, a := range u.Agents {
		st.UpdateAgent(agentToStatus(a))
	}
	for _, id := range u.Removed {
		st.RemoveAgent(id)
	}
	for _, vt := range u.ViewTotals {
		st.UpdateViewTotal(vt.ViewID, vt.ViewName, vt.Total, vt.CheckedAt)
	}
	for _, va := range u.ViewAgents {
		st.UpdateViewAgents(va.ViewID, va.ViewName, va.Counts, va.CheckedAt)
	}
}

// agentToStatus converts a monitor agent state to the store representation.
func agentToStatus(a monitor.AgentState) store.AgentStatus {
	return store.AgentStatus{
		ID:         a.ID,
		Name:       a.Name,
		Presence:   a.Presence.String(),
		CallStatus: a.CallStatus.String(),
		OnCall:     a.CallStatus == desk.OnCall,
		CheckedAt:  a.CheckedAt,
	}
}

// changeToPublic converts a monitor change to the public API type. A first
// observation keeps the zero Previous rather than rendering the zero ordinal
// as a real offline state.
func changeToPublic(c monitor.Change) AgentChange {
	change := AgentChange{
		Agent: snapshotFromState(c.Current),
		First: c.First,
	}
	if !c.First {
		change.Previous = snapshotFromState(c.Previous)
	}
	return change
}

// snapshotFromState converts a monitor agent state to the public API type.
func snapshotFromState(s monitor.AgentState) AgentSnapshot {
	return AgentSnapshot{
		ID:         s.ID,
		Name:       s.Name,
		Presence:   presenceFromDesk(s.Presence),
		CallStatus: callStateFromDesk(s.CallStatus),
		OnCall:     s.CallStatus == desk.OnCall,
		CheckedAt:  s.CheckedAt,
	}
}

// invokeCallbackSafe calls a change callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(AgentChange), change AgentChange, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("change callback panicked",
				"panic", r,
				"agent_id", change.Agent.ID,
			)
		}
	}()
	cb(change)
}
