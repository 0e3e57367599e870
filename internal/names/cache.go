// Package names resolves agent ids to display names.
//
// Resolution is layered so that a lookup never blocks on network I/O:
// a per-id TTL cache is consulted first, then the roster from the most
// recent directory refresh, then any operator-configured name, and finally
// the stringified id. The roster itself is refreshed at a slow cadence by
// the monitor between cycles; a failed refresh keeps the previous roster,
// stale names being more useful than none.
package names

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jpalmerr/deskpulse/internal/desk"
)

// Default cache cadences. Positive entries outlive negative ones so an
// agent missing from the roster is re-checked long before a known name is.
const (
	DefaultRefreshEvery = 4 * time.Hour
	DefaultPositiveTTL  = 1 * time.Hour
	DefaultNegativeTTL  = 30 * time.Minute

	cleanupInterval = 10 * time.Minute
)

// Directory is the slice of the desk client the cache needs.
type Directory interface {
	ListAgents(ctx context.Context) ([]desk.RosterAgent, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context) ([]desk.RosterAgent, error)

// ListAgents calls f.
func (f DirectoryFunc) ListAgents(ctx context.Context) ([]desk.RosterAgent, error) {
	return f(ctx)
}

// cachedName is a per-id cache entry. ok=false records a miss so the
// roster is not re-consulted for that id until the negative TTL lapses.
type cachedName struct {
	name string
	ok   bool
}

// Options tunes the cache. Zero values select the defaults; Clock exists
// for tests.
type Options struct {
	RefreshEvery time.Duration
	PositiveTTL  time.Duration
	NegativeTTL  time.Duration
	Clock        clock.Clock
}

// Cache resolves agent display names.
//
// Cache is not safe for concurrent use. The monitor owns it and calls it
// only from the single loop goroutine; nothing else mutates it out-of-band.
type Cache struct {
	directory Directory
	logger    *slog.Logger
	clk       clock.Clock

	refreshEvery time.Duration
	positiveTTL  time.Duration
	negativeTTL  time.Duration

	perID       *gocache.Cache
	roster      map[int64]string
	lastRefresh time.Time
	configured  map[int64]string
}

// New creates a name cache backed by directory.
func New(directory Directory, logger *slog.Logger, opts Options) *Cache {
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = DefaultRefreshEvery
	}
	if opts.PositiveTTL <= 0 {
		opts.PositiveTTL = DefaultPositiveTTL
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = DefaultNegativeTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		directory:    directory,
		logger:       logger,
		clk:          opts.Clock,
		refreshEvery: opts.RefreshEvery,
		positiveTTL:  opts.PositiveTTL,
		negativeTTL:  opts.NegativeTTL,
		perID:        gocache.New(opts.PositiveTTL, cleanupInterval),
		roster:       make(map[int64]string),
	}
}

// SetConfigured replaces the operator-supplied display names. The monitor
// calls this whenever it reloads configuration, so renames in the config
// take effect on the next cycle.
func (c *Cache) SetConfigured(names map[int64]string) {
	copied := make(map[int64]string, len(names))
	for id, name := range names {
		copied[id] = name
	}
	c.configured = copied
}

// RefreshIfDue pulls the full roster from the directory when the refresh
// interval has elapsed since the last successful pull.
//
// A failed pull logs a warning and keeps the existing roster; the next
// cycle will try again rather than waiting out a full interval, so a
// one-off directory outage does not leave names stale for hours.
func (c *Cache) RefreshIfDue(ctx context.Context) {
	if !c.lastRefresh.IsZero() && c.clk.Now().Sub(c.lastRefresh) < c.refreshEvery {
		return
	}

	agents, err := c.directory.ListAgents(ctx)
	if err != nil {
		c.logger.Warn("roster refresh failed, keeping previous roster",
			"error", err,
			"roster_size", len(c.roster))
		return
	}

	roster := make(map[int64]string, len(agents))
	for _, a := range agents {
		if a.Name != "" {
			roster[a.ID] = a.Name
		}
	}
	c.roster = roster
	c.lastRefresh = c.clk.Now()
	c.logger.Debug("roster refreshed", "roster_size", len(roster))
}

// Lookup resolves an agent id to a display name. It never performs
// network I/O; ids the roster has never seen resolve to the decimal id.
func (c *Cache) Lookup(agentID int64) string {
	key := strconv.FormatInt(agentID, 10)

	if hit, found := c.perID.Get(key); found {
		entry := hit.(cachedName)
		if entry.ok {
			return entry.name
		}
		return c.fallback(agentID)
	}

	if name, ok := c.roster[agentID]; ok {
		c.perID.Set(key, cachedName{name: name, ok: true}, c.positiveTTL)
		return name
	}

	c.perID.Set(key, cachedName{}, c.negativeTTL)
	return c.fallback(agentID)
}

// fallback resolves an id the roster does not know: the configured name
// when the operator supplied one, otherwise the id itself.
func (c *Cache) fallback(agentID int64) string {
	if name, ok := c.configured[agentID]; ok && name != "" {
		return name
	}
	return strconv.FormatInt(agentID, 10)
}
