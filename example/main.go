package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/deskpulse"
)

func main() {
	// start mock desk API (see mock_server.go)
	go StartMockDeskServer(":9999")
	time.Sleep(100 * time.Millisecond)

	// inline configuration: four agents on a simulated shift, one view with
	// per-agent counts and one plain queue. Agent names resolve from the
	// desk directory.
	dp, err := deskpulse.New(
		deskpulse.WithCredentials("acme", "demo@acme.example", "demo-token"),
		deskpulse.WithBaseURL("http://localhost:9999"),
		deskpulse.WithAgents(360001, 360002, 360003, 360004),
		deskpulse.WithPerAgentView(7100, "Unsolved tickets"),
		deskpulse.WithView(7200, "Pending"),
		deskpulse.WithTitle("DeskPulse Demo"),
		deskpulse.WithPort(8080),
		deskpulse.WithChangeCallback(func(c deskpulse.AgentChange) {
			if c.First {
				return
			}
			slog.Info("presence change",
				"agent", c.Agent.Name,
				"from", c.Previous.Presence,
				"to", c.Agent.Presence,
				"call", c.Agent.CallStatus)
		}),
	)
	if err != nil {
		slog.Error("failed to create deskpulse", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   DeskPulse Demo                                      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in your browser          ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Watching:                                           ║")
	fmt.Println("  ║   • 4 agents on a simulated support shift             ║")
	fmt.Println("  ║   • 2 ticket views (one with per-agent counts)        ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dp.Start(ctx); err != nil {
		slog.Error("deskpulse error", "error", err)
		os.Exit(1)
	}
}
