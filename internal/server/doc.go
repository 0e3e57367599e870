// Package server provides the HTTP server for the DeskPulse dashboard and API.
//
// This package is internal to DeskPulse and handles all HTTP concerns:
//
//   - Dashboard serving: Serves the embedded HTML/CSS/JS dashboard at "/"
//   - REST API: JSON endpoints under "/api/" for status snapshots
//   - Server-Sent Events: Real-time updates at "/api/sse"
//   - Metrics: Prometheus exposition at "/metrics"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the deskpulse library should not need to interact with this
// package directly. The server is started automatically by DeskPulse.
package server
