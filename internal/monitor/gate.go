package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jpalmerr/deskpulse/config"
)

// gate decides each iteration whether polling may proceed, by loading the
// configuration store and checking [config.Config.Validate].
//
// A valid result is cached and only re-derived after recheckEvery, so the
// store is not hammered every cycle. An invalid result is never cached:
// once an operator fixes the configuration, the very next iteration picks
// it up rather than waiting out the recheck interval.
type gate struct {
	store        config.Store
	logger       *slog.Logger
	clk          clock.Clock
	recheckEvery time.Duration

	cfg         *config.Config
	valid       bool
	everChecked bool
	lastChecked time.Time
}

func newGate(store config.Store, logger *slog.Logger, clk clock.Clock, recheckEvery time.Duration) *gate {
	return &gate{
		store:        store,
		logger:       logger,
		clk:          clk,
		recheckEvery: recheckEvery,
	}
}

// Config returns the current configuration and whether polling may proceed.
// Validity flips are logged exactly once per transition; staying invalid
// across rechecks stays quiet.
func (g *gate) Config(ctx context.Context) (*config.Config, bool) {
	if g.valid && g.clk.Now().Sub(g.lastChecked) < g.recheckEvery {
		return g.cfg, true
	}

	wasValid, wasChecked := g.valid, g.everChecked
	g.lastChecked = g.clk.Now()
	g.everChecked = true

	cfg, err := g.store.Load(ctx)
	if err != nil {
		g.valid = false
		if wasValid || !wasChecked {
			g.logger.Warn("configuration unavailable, polling gated", "error", err)
		}
		return nil, false
	}

	if verr := cfg.Validate(); verr != nil {
		g.valid = false
		if wasValid || !wasChecked {
			g.logger.Warn("configuration incomplete, polling gated", "reason", verr)
		}
		return nil, false
	}

	g.cfg = cfg
	g.valid = true
	if !wasValid {
		g.logger.Info("configuration valid, polling enabled",
			"agents", len(cfg.Agents),
			"views", len(cfg.Views))
	}
	return cfg, true
}
