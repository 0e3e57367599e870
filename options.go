package deskpulse

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/deskpulse/config"
)

// dpConfig holds mutable state during DeskPulse construction.
type dpConfig struct {
	title           string
	port            int
	configPath      string
	configStore     config.Store
	subdomain       string
	email           string
	apiToken        string
	baseURL         string
	requestTimeout  time.Duration
	agents          []config.AgentConfig
	views           []config.ViewConfig
	maxConcurrency  int
	logger          *slog.Logger
	changeCallbacks []func(AgentChange)
	registry        *prometheus.Registry
}

// Option is a function that configures a [DeskPulse] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Desk settings come from exactly one source: a configuration file
// ([WithConfigFile]), a configuration store ([WithConfigStore]), or inline
// options ([WithCredentials] plus [WithAgent]/[WithView] and friends).
type Option func(*dpConfig) error

// WithConfigFile points DeskPulse at a YAML configuration file.
//
// The file supplies credentials, the agent and view selection, and
// optionally the port and title. It is re-read on the monitor's recheck
// cadence, so edits take effect without a restart; a file with placeholder
// credentials keeps the monitor gated rather than failing [New].
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithConfigFile("deskpulse.yaml"),
//	)
//
// Returns an error if the path is empty. Cannot be combined with
// [WithConfigStore] or with inline desk settings.
func WithConfigFile(path string) Option {
	return func(cfg *dpConfig) error {
		if path == "" {
			return errors.New("config file path cannot be empty")
		}
		cfg.configPath = path
		return nil
	}
}

// WithConfigStore supplies a custom configuration source.
//
// Use this to load configuration from somewhere other than a YAML file,
// such as the SQLite store built by [config.OpenDB]. The store is re-read
// on the monitor's recheck cadence.
//
// Example:
//
//	db, err := config.OpenDB("deskpulse.db")
//	if err != nil { ... }
//	dp, err := deskpulse.New(deskpulse.WithConfigStore(db))
//
// Returns an error if the store is nil. Cannot be combined with
// [WithConfigFile] or with inline desk settings.
func WithConfigStore(s config.Store) Option {
	return func(cfg *dpConfig) error {
		if s == nil {
			return errors.New("config store cannot be nil")
		}
		cfg.configStore = s
		return nil
	}
}

// WithCredentials sets the desk account credentials inline.
//
// The subdomain names the hosted desk account (e.g. "acme" for
// acme.supportdesk.com); email and apiToken are sent as basic auth on
// every API request.
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithCredentials("acme", "ops@acme.example", os.Getenv("DESK_API_TOKEN")),
//	    deskpulse.WithAgent(360001),
//	)
//
// Returns an error if any value is empty.
func WithCredentials(subdomain, email, apiToken string) Option {
	return func(cfg *dpConfig) error {
		if subdomain == "" || email == "" || apiToken == "" {
			return errors.New("credentials require subdomain, email, and api token")
		}
		cfg.subdomain = subdomain
		cfg.email = email
		cfg.apiToken = apiToken
		return nil
	}
}

// WithBaseURL overrides the desk API base URL derived from the subdomain.
//
// Intended for self-hosted desks and for tests that point DeskPulse at a
// local fake. When set, the subdomain in [WithCredentials] is only used as
// an account label.
//
// Returns an error if the URL is empty.
func WithBaseURL(rawURL string) Option {
	return func(cfg *dpConfig) error {
		if rawURL == "" {
			return errors.New("base URL cannot be empty")
		}
		cfg.baseURL = rawURL
		return nil
	}
}

// WithAgent adds a single agent id to the monitored selection.
//
// Can be called multiple times to monitor multiple agents. The agent's
// display name is resolved from the desk directory.
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithCredentials("acme", "ops@acme.example", token),
//	    deskpulse.WithAgent(360001),
//	    deskpulse.WithAgent(360002),
//	)
//
// Returns an error if the id is not positive.
func WithAgent(id int64) Option {
	return func(cfg *dpConfig) error {
		if id <= 0 {
			return fmt.Errorf("agent id must be positive, got %d", id)
		}
		cfg.agents = append(cfg.agents, config.AgentConfig{ID: id})
		return nil
	}
}

// WithAgents adds multiple agent ids to the monitored selection.
//
// This is a convenience function for adding several agents at once.
// Equivalent to calling [WithAgent] multiple times.
func WithAgents(ids ...int64) Option {
	return func(cfg *dpConfig) error {
		for _, id := range ids {
			if id <= 0 {
				return fmt.Errorf("agent id must be positive, got %d", id)
			}
			cfg.agents = append(cfg.agents, config.AgentConfig{ID: id})
		}
		return nil
	}
}

// WithAgentName adds an agent with an explicit display name.
//
// The configured name is used when the desk directory has no entry for the
// agent; a directory name still wins when present.
//
// Returns an error if the id is not positive or the name is empty.
func WithAgentName(id int64, name string) Option {
	return func(cfg *dpConfig) error {
		if id <= 0 {
			return fmt.Errorf("agent id must be positive, got %d", id)
		}
		if name == "" {
			return errors.New("agent name cannot be empty")
		}
		cfg.agents = append(cfg.agents, config.AgentConfig{ID: id, Name: name})
		return nil
	}
}

// WithView adds a ticket view whose total count is tracked each cycle.
//
// The name labels the view on the dashboard and in metrics; pass "" to use
// the stringified id.
//
// Returns an error if the id is not positive.
func WithView(id int64, name string) Option {
	return func(cfg *dpConfig) error {
		if id <= 0 {
			return fmt.Errorf("view id must be positive, got %d", id)
		}
		cfg.views = append(cfg.views, config.ViewConfig{ID: id, Name: name})
		return nil
	}
}

// WithPerAgentView adds a ticket view tracked both in total and broken
// down by assignee each cycle.
//
// The per-assignee breakdown costs one extra API listing per cycle, paged
// through the view's tickets. Prefer [WithView] for large views where only
// the total matters.
//
// Returns an error if the id is not positive.
func WithPerAgentView(id int64, name string) Option {
	return func(cfg *dpConfig) error {
		if id <= 0 {
			return fmt.Errorf("view id must be positive, got %d", id)
		}
		cfg.views = append(cfg.views, config.ViewConfig{ID: id, Name: name, PerAgent: true})
		return nil
	}
}

// WithRequestTimeout bounds each individual desk API request.
//
// Defaults to 15 seconds if not specified. This is a per-request bound;
// polling cycle cadence is managed adaptively by the monitor.
//
// Returns an error if the duration is under one second.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *dpConfig) error {
		if d < time.Second {
			return fmt.Errorf("request timeout must be at least 1s, got %s", d)
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
//
// The dashboard UI and API will be available at http://localhost:<port>.
// Defaults to 8080, or to the port named in the configuration file when
// one is used.
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithConfigFile("deskpulse.yaml"),
//	    deskpulse.WithPort(9090),
//	)
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *dpConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency sets the maximum number of concurrent presence checks.
//
// This limits how many agents are checked simultaneously during each
// polling cycle. Use this to stay inside the desk's rate limits. Defaults
// to 5 if not specified.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *dpConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the DeskPulse instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	dp, err := deskpulse.New(
//	    deskpulse.WithConfigFile("deskpulse.yaml"),
//	    deskpulse.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *dpConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithChangeCallback registers a function to be called on every agent
// state transition.
//
// The callback receives an [AgentChange] with the agent's previous and
// current state. It fires when an agent's presence or call status flips
// and when an agent is observed for the first time; quiet cycles produce
// no calls.
//
// Multiple callbacks may be registered by calling WithChangeCallback
// multiple times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Long-running operations should
// dispatch work to a separate goroutine. Blocking callbacks will delay
// subsequent cycle processing.
//
// Callbacks are invoked synchronously from a single goroutine, after the
// change has been applied to the dashboard state. Panics within callbacks
// are recovered and logged; they do not crash the monitor.
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithConfigFile("deskpulse.yaml"),
//	    deskpulse.WithChangeCallback(func(c deskpulse.AgentChange) {
//	        if c.Agent.Presence == deskpulse.PresenceOffline {
//	            log.Printf("ALERT: %s went offline", c.Agent.Name)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithChangeCallback(cb func(AgentChange)) Option {
	return func(cfg *dpConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.changeCallbacks = append(cfg.changeCallbacks, cb)
		return nil
	}
}

// WithMetricsRegistry supplies the Prometheus registry DeskPulse registers
// its collectors with and serves at /metrics.
//
// Use this to merge DeskPulse series into an application's existing
// registry. If not specified, DeskPulse creates a private registry, so
// /metrics serves only its own series.
//
// Returns an error if the registry is nil.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(cfg *dpConfig) error {
		if reg == nil {
			return errors.New("metrics registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "DeskPulse", or to the title named in the
// configuration file when one is used.
//
// Example:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithConfigFile("deskpulse.yaml"),
//	    deskpulse.WithTitle("Support Floor"),
//	)
func WithTitle(title string) Option {
	return func(cfg *dpConfig) error {
		cfg.title = title
		return nil
	}
}
