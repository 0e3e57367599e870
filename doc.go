// Package deskpulse provides a lightweight, embeddable monitor for support
// desk agents and ticket views, with Prometheus metrics and a real-time
// dashboard.
//
// DeskPulse polls a hosted support desk's API for each selected agent's
// presence and call status and for the ticket count of each selected view,
// republishes the results as Prometheus time series, and serves a live
// dashboard over HTTP with Server-Sent Events. It is designed as an
// SDK-first library, allowing developers to embed desk monitoring in their
// applications, and ships a standalone binary for file-driven deployment.
//
// # Quick Start
//
// Configure credentials and a selection, then start with graceful shutdown:
//
//	dp, _ := deskpulse.New(
//	    deskpulse.WithCredentials("acme", "ops@acme.example", os.Getenv("DESK_API_TOKEN")),
//	    deskpulse.WithAgents(360001, 360002),
//	    deskpulse.WithPerAgentView(7100, "Unsolved tickets"),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	dp.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// DeskPulse uses the functional options pattern for configuration:
//
//	dp, err := deskpulse.New(
//	    deskpulse.WithConfigFile("deskpulse.yaml"),
//	    deskpulse.WithPort(9090),
//	    deskpulse.WithMaxConcurrency(5),
//	    deskpulse.WithChangeCallback(alertOnOffline),
//	)
//
// Desk settings come from exactly one source: a YAML file
// ([WithConfigFile]), a [config.Store] implementation such as the SQLite
// store ([WithConfigStore]), or inline options. File and store sources are
// re-read while running, so an operator can fix credentials or adjust the
// agent selection without a restart; until the configuration is complete,
// polling stays gated and the dashboard serves an empty state.
//
// # Polling Behavior
//
// The poll cadence adapts to what the desk reports. State changes trigger a
// short burst interval; sustained quiet stretches the interval out toward a
// staleness cap. When the desk becomes unreachable the monitor backs off
// exponentially and recovers on the first successful cycle. Agent display
// names are resolved from the desk's directory and cached, so the hot
// polling path never blocks on name lookups.
//
// # Architecture
//
// DeskPulse consists of several internal packages (under internal/):
//
//   - internal/desk: Typed API client with retry and rate-limit handling
//   - internal/monitor: The adaptive polling loop, gating, and backoff
//   - internal/names: Agent display name resolution and caching
//   - internal/metrics: Prometheus series definitions and publishing
//   - internal/store: In-memory storage with pub/sub for real-time updates
//   - internal/server: HTTP server with REST API, SSE, and /metrics
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice. The library is designed for single-binary deployment
// using Go's embed directive for static assets.
package deskpulse
