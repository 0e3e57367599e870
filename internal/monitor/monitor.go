// Package monitor implements the polling loop that tracks agent presence
// and view ticket counts against a remote desk.
//
// One Monitor runs one long-lived sequential loop. Each iteration passes
// the configuration gate, serves any pending backoff, fans presence checks
// out over a bounded worker pool, runs the view checks, detects state
// changes against the previous cycle, and picks the next poll interval
// adaptively: busy floors are polled every few seconds, quiet floors a
// couple of times a minute. All mutable cycle state (the tracked-agent
// map, the failure streak, the quiet streak) belongs to the loop goroutine
// alone; the rest of the process observes it through the updates channel
// and the phase getter.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jpalmerr/deskpulse/config"
	"github.com/jpalmerr/deskpulse/internal/desk"
	"github.com/jpalmerr/deskpulse/internal/metrics"
	"github.com/jpalmerr/deskpulse/internal/names"
)

// defaultConcurrency caps in-flight presence checks per cycle.
const defaultConcurrency = 5

// absentCyclesBeforePrune is how many consecutive cycles an agent may be
// missing from the configured selection before its tracked state is
// dropped.
const absentCyclesBeforePrune = 2

// unassignedName labels the ticket bucket for tickets without an assignee.
const unassignedName = "unassigned"

// Phase is the monitor's externally visible state.
type Phase string

const (
	// PhaseIdle means the monitor has not been started.
	PhaseIdle Phase = "idle"

	// PhaseGated means configuration is missing or invalid; no polling.
	PhaseGated Phase = "gated"

	// PhaseBackingOff means the monitor is waiting out a failure delay.
	PhaseBackingOff Phase = "backing_off"

	// PhasePolling means a cycle's checks are in flight.
	PhasePolling Phase = "polling"

	// PhaseScheduled means the monitor is sleeping until the next cycle.
	PhaseScheduled Phase = "scheduled"

	// PhaseStopped means the monitor has shut down.
	PhaseStopped Phase = "stopped"
)

// AgentState is the last observed state of one tracked agent.
type AgentState struct {
	// ID is the agent's desk identifier.
	ID int64

	// Name is the display name resolved at check time.
	Name string

	// Presence is the last observed availability.
	Presence desk.PresenceState

	// CallStatus is the last observed call engagement.
	CallStatus desk.CallStatus

	// CheckedAt is when this state was last successfully observed.
	CheckedAt time.Time
}

// Change records one agent's state flip within a cycle.
type Change struct {
	// Previous is the state before the cycle; zero when First.
	Previous AgentState

	// Current is the state after the cycle.
	Current AgentState

	// First marks an agent observed for the first time.
	First bool
}

// ViewTotal is a successful view ticket count.
type ViewTotal struct {
	ViewID    int64
	ViewName  string
	Total     int64
	CheckedAt time.Time
}

// ViewAgentCounts is a successful per-assignee breakdown of a view.
// Counts key 0 is the unassigned bucket.
type ViewAgentCounts struct {
	ViewID    int64
	ViewName  string
	Counts    map[int64]int64
	CheckedAt time.Time
}

// Update is the outcome of one polling cycle. The monitor emits one per
// completed cycle on the updates channel; gated and backoff iterations do
// not produce updates.
type Update struct {
	// Agents is the full tracked-agent state after the cycle, sorted by id.
	Agents []AgentState

	// Changes lists the agents whose presence or call status flipped.
	Changes []Change

	// Removed lists agents pruned after dropping out of the selection.
	Removed []int64

	// ViewTotals and ViewAgents carry the view checks that succeeded this
	// cycle; failed checks are simply absent, leaving consumers' previous
	// values standing.
	ViewTotals []ViewTotal
	ViewAgents []ViewAgentCounts

	// SuccessCount and FailureCount tally the cycle's presence checks.
	SuccessCount int
	FailureCount int

	// TotalFailure marks a cycle in which every presence check failed.
	TotalFailure bool

	// Changed is the change-detector verdict driving the next interval.
	Changed bool

	// At is when the cycle ran.
	At time.Time
}

// DeskClient is the slice of the desk API the monitor consumes. It is an
// interface so tests can substitute an instrumented fake.
type DeskClient interface {
	Presence(ctx context.Context, agentID int64) (desk.PresenceInfo, error)
	ListAgents(ctx context.Context) ([]desk.RosterAgent, error)
	ViewTicketTotal(ctx context.Context, viewID int64) (int64, error)
	ViewTicketsByAgent(ctx context.Context, viewID int64) (map[int64]int64, error)
	Close()
}

// ClientFactory builds a desk client for a configuration. The monitor
// rebuilds the client whenever the credentials, base URL, or timeout it
// derives from the configuration change.
type ClientFactory func(cfg *config.Config) DeskClient

func defaultClientFactory(cfg *config.Config) DeskClient {
	return desk.NewClient(cfg.DeskURL(), cfg.Email, cfg.APIToken, cfg.RequestTimeout.Duration())
}

// clientKey is the part of the configuration the desk client is built
// from; when it changes between cycles the client is rebuilt.
type clientKey struct {
	baseURL string
	email   string
	token   string
	timeout time.Duration
}

// Timing collects every cadence the loop uses. The zero value selects the
// production defaults; tests compress them to milliseconds.
type Timing struct {
	// GateRecheck is how long a valid configuration is trusted before the
	// store is re-read. Default 5m.
	GateRecheck time.Duration

	// InvalidSleep is the pause between rechecks while gated. Default 60s.
	InvalidSleep time.Duration

	// BackoffBase and BackoffMax bound the total-failure backoff,
	// base*2^(n-1) capped at max. Defaults 10s and 5m.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// BurstInterval is the poll interval right after a change. Default 10s.
	BurstInterval time.Duration

	// QuietIntervals are the step-function intervals for unchanged
	// cycles. Defaults 15s, 30s, 60s, 120s.
	QuietIntervals QuietIntervals

	// ErrorRetry is the pause after an unexpected iteration panic.
	// Default 10s.
	ErrorRetry time.Duration

	// RosterRefresh is the name cache's roster pull cadence. Default 4h.
	RosterRefresh time.Duration

	// NamePositiveTTL and NameNegativeTTL bound per-id name cache
	// entries. Defaults 1h and 30m.
	NamePositiveTTL time.Duration
	NameNegativeTTL time.Duration
}

// withDefaults fills zero fields with the production cadences.
func (t Timing) withDefaults() Timing {
	def := func(d *time.Duration, fallback time.Duration) {
		if *d <= 0 {
			*d = fallback
		}
	}
	def(&t.GateRecheck, 5*time.Minute)
	def(&t.InvalidSleep, 60*time.Second)
	def(&t.BackoffBase, 10*time.Second)
	def(&t.BackoffMax, 5*time.Minute)
	def(&t.BurstInterval, 10*time.Second)
	def(&t.ErrorRetry, 10*time.Second)
	def(&t.RosterRefresh, names.DefaultRefreshEvery)
	def(&t.NamePositiveTTL, names.DefaultPositiveTTL)
	def(&t.NameNegativeTTL, names.DefaultNegativeTTL)

	defaults := QuietIntervals{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second}
	for i := range t.QuietIntervals {
		if t.QuietIntervals[i] <= 0 {
			t.QuietIntervals[i] = defaults[i]
		}
	}
	return t
}

// Options configures a [Monitor]. Zero values select defaults.
type Options struct {
	// Logger receives loop events. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock drives every sleep and timestamp; swap in a mock for tests.
	Clock clock.Clock

	// Sink receives metric observations. Defaults to a no-op sink.
	Sink metrics.Sink

	// Concurrency caps in-flight presence checks. Default 5.
	Concurrency int

	// Timing overrides the loop cadences.
	Timing Timing

	// ClientFactory overrides how desk clients are built.
	ClientFactory ClientFactory
}

// Monitor is the polling loop. Create one with [New], drive it with
// [Monitor.Start] and [Monitor.Stop], and consume cycle outcomes from
// [Monitor.Updates].
//
// All lifecycle methods are safe for concurrent use. The fields below the
// lifecycle block are owned by the loop goroutine exclusively.
type Monitor struct {
	gate        *gate
	names       *names.Cache
	logger      *slog.Logger
	clk         clock.Clock
	sink        metrics.Sink
	timing      Timing
	concurrency int
	newClient   ClientFactory
	updates     chan Update
	phase       atomic.Value

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// loop-owned state
	client    DeskClient
	clientKey clientKey
	state     map[int64]AgentState
	absent    map[int64]int
	pace      *pacer
	failures  int
	cycle     uint64
}

// New creates a [Monitor] reading its configuration from store.
func New(store config.Store, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.NopSink{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ClientFactory == nil {
		opts.ClientFactory = defaultClientFactory
	}
	timing := opts.Timing.withDefaults()

	m := &Monitor{
		logger:      opts.Logger,
		clk:         opts.Clock,
		sink:        opts.Sink,
		timing:      timing,
		concurrency: opts.Concurrency,
		newClient:   opts.ClientFactory,
		updates:     make(chan Update, 16),
		state:       make(map[int64]AgentState),
		absent:      make(map[int64]int),
		pace:        newPacer(timing.BurstInterval, timing.QuietIntervals),
	}
	m.phase.Store(PhaseIdle)
	m.gate = newGate(store, opts.Logger, opts.Clock, timing.GateRecheck)
	m.names = names.New(
		names.DirectoryFunc(func(ctx context.Context) ([]desk.RosterAgent, error) {
			return m.client.ListAgents(ctx)
		}),
		opts.Logger,
		names.Options{
			RefreshEvery: timing.RosterRefresh,
			PositiveTTL:  timing.NamePositiveTTL,
			NegativeTTL:  timing.NameNegativeTTL,
			Clock:        opts.Clock,
		},
	)
	return m
}

// Updates returns the channel of per-cycle outcomes. It is closed when the
// monitor stops. Slow consumers lose updates rather than stalling the
// loop.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

// Phase returns the loop's current state.
func (m *Monitor) Phase() Phase {
	return m.phase.Load().(Phase)
}

func (m *Monitor) setPhase(p Phase) {
	m.phase.Store(p)
}

// Start begins the monitoring loop in a background goroutine.
//
// Start is non-blocking and idempotent; calls after the first, or after
// Stop, are no-ops. If ctx is nil, context.Background() is used.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.closeOnce.Do(func() { close(m.updates) })
		defer m.setPhase(PhaseStopped)
		m.run(runCtx)
	}()
}

// Stop halts the loop and waits for it to exit. In-flight checks are
// abandoned via context cancellation; the updates channel is closed once
// the loop has fully stopped. Stop is idempotent and safe before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		if m.cancel != nil {
			m.cancel()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()

	if m.client != nil {
		m.client.Close()
	}

	// ensure channel is closed even if Start() was never called
	m.closeOnce.Do(func() { close(m.updates) })
}

// run is the loop driver: iterate, sleep, repeat until cancelled. Every
// sleep is interruptible, so shutdown latency is bounded by response
// time, not by the longest backoff.
func (m *Monitor) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		delay := m.iterate(ctx)
		if !m.sleep(ctx, delay) {
			return
		}
	}
}

// iterate executes one pass of the state machine and returns how long to
// sleep before the next pass. A panic anywhere in the pass is recovered
// here; the loop never dies to a single cycle's fault.
func (m *Monitor) iterate(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			m.logger.Error("monitor iteration panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			delay = m.timing.ErrorRetry
		}
	}()

	cfg, ok := m.gate.Config(ctx)
	if !ok {
		m.setPhase(PhaseGated)
		return m.timing.InvalidSleep
	}

	m.ensureClient(cfg)
	m.names.SetConfigured(configuredNames(cfg))
	m.names.RefreshIfDue(ctx)

	if m.failures > 0 {
		wait := backoffDelay(m.failures, m.timing.BackoffBase, m.timing.BackoffMax)
		m.setPhase(PhaseBackingOff)
		m.sink.SetGauge(metrics.BackoffSeconds, nil, wait.Seconds())
		m.logger.Info("backing off before next cycle",
			"consecutive_failures", m.failures,
			"delay", wait)
		if !m.sleep(ctx, wait) {
			return 0
		}
	} else {
		m.sink.SetGauge(metrics.BackoffSeconds, nil, 0)
	}
	if ctx.Err() != nil {
		return 0
	}

	m.setPhase(PhasePolling)
	update := m.runCycle(ctx, cfg)
	m.publish(update)

	interval := m.pace.next(update.Changed)
	m.sink.SetGauge(metrics.PollIntervalSeconds, nil, interval.Seconds())
	m.setPhase(PhaseScheduled)
	m.logger.Debug("cycle complete",
		"cycle", m.cycle,
		"changed", update.Changed,
		"success", update.SuccessCount,
		"failure", update.FailureCount,
		"next_poll", interval)
	return interval
}

// runCycle performs one full polling cycle: concurrent presence checks,
// state application, pruning, change detection, then the sequential view
// checks.
func (m *Monitor) runCycle(ctx context.Context, cfg *config.Config) Update {
	m.cycle++
	now := m.clk.Now()

	before := m.snapshot()

	agentIDs := cfg.AgentIDs()
	results := m.collectPresence(ctx, agentIDs)

	var changes []Change
	success, failure := 0, 0
	for _, r := range results {
		if r.err != nil {
			failure++
			m.recordCheckFailure(r)
			continue
		}
		success++

		prev, existed := m.state[r.agentID]
		next := AgentState{
			ID:         r.agentID,
			Name:       m.names.Lookup(r.agentID),
			Presence:   r.info.Presence,
			CallStatus: r.info.CallStatus,
			CheckedAt:  now,
		}
		m.state[r.agentID] = next

		labels := agentLabels(r.agentID, next.Name)
		m.sink.SetGauge(metrics.AgentPresence, labels, float64(next.Presence))
		m.sink.SetGauge(metrics.AgentCallStatus, labels, float64(next.CallStatus))

		switch {
		case !existed:
			changes = append(changes, Change{Current: next, First: true})
		case presenceChanged(prev, r.info):
			changes = append(changes, Change{Previous: prev, Current: next})
			m.logger.Info("agent state changed",
				"agent_id", r.agentID,
				"agent_name", next.Name,
				"presence", next.Presence.String(),
				"call_status", next.CallStatus.String())
		}
	}

	removed := m.pruneAbsent(agentIDs)

	after := m.snapshot()
	changed := statesDiffer(before, after)

	viewTotals, viewAgents := m.checkViews(ctx, cfg)

	totalFailure := failure > 0 && success == 0
	switch {
	case success > 0:
		if m.failures > 0 {
			m.logger.Info("desk reachable again", "after_failures", m.failures)
		}
		m.failures = 0
	case totalFailure:
		m.failures++
		m.logger.Error("all presence checks failed",
			"agents", failure,
			"consecutive_failures", m.failures)
	}
	m.sink.SetGauge(metrics.ConsecutiveFailures, nil, float64(m.failures))
	m.sink.IncCounter(metrics.Cycles, map[string]string{"result": cycleResult(success, failure)})

	return Update{
		Agents:       m.stateSlice(),
		Changes:      changes,
		Removed:      removed,
		ViewTotals:   viewTotals,
		ViewAgents:   viewAgents,
		SuccessCount: success,
		FailureCount: failure,
		TotalFailure: totalFailure,
		Changed:      changed,
		At:           now,
	}
}

// recordCheckFailure logs and counts one failed presence check. Rate
// limiting is logged with the server's hint so operators can see it, but
// it feeds the same failure accounting as any other error.
func (m *Monitor) recordCheckFailure(r checkResult) {
	m.sink.IncCounter(metrics.PresenceCheckFailures,
		map[string]string{"agent_id": strconv.FormatInt(r.agentID, 10)})

	if hint, limited := desk.IsRateLimited(r.err); limited {
		m.logger.Warn("presence check rate limited",
			"agent_id", r.agentID,
			"retry_after", hint,
			"error", r.err)
		return
	}
	m.logger.Warn("presence check failed",
		"agent_id", r.agentID,
		"error", r.err)
}

// checkViews runs the view ticket counts sequentially after the presence
// fan-out. Each check is isolated: a failure is logged and skipped, never
// affecting the other checks or the presence accounting.
func (m *Monitor) checkViews(ctx context.Context, cfg *config.Config) ([]ViewTotal, []ViewAgentCounts) {
	var totals []ViewTotal
	var perAgent []ViewAgentCounts

	for _, v := range cfg.Views {
		name := cfg.ViewName(v.ID)
		viewLabels := map[string]string{
			"view_id":   strconv.FormatInt(v.ID, 10),
			"view_name": name,
		}

		total, err := m.client.ViewTicketTotal(ctx, v.ID)
		if err != nil {
			m.logger.Warn("view ticket count failed", "view_id", v.ID, "error", err)
		} else {
			totals = append(totals, ViewTotal{
				ViewID:    v.ID,
				ViewName:  name,
				Total:     total,
				CheckedAt: m.clk.Now(),
			})
			m.sink.SetGauge(metrics.ViewTickets, viewLabels, float64(total))
		}

		if !v.PerAgent {
			continue
		}
		counts, err := m.client.ViewTicketsByAgent(ctx, v.ID)
		if err != nil {
			m.logger.Warn("view per-agent count failed", "view_id", v.ID, "error", err)
			continue
		}
		perAgent = append(perAgent, ViewAgentCounts{
			ViewID:    v.ID,
			ViewName:  name,
			Counts:    counts,
			CheckedAt: m.clk.Now(),
		})
		for agentID, n := range counts {
			labels := map[string]string{
				"view_id":    viewLabels["view_id"],
				"view_name":  name,
				"agent_id":   strconv.FormatInt(agentID, 10),
				"agent_name": m.agentName(agentID),
			}
			m.sink.SetGauge(metrics.ViewAgentTickets, labels, float64(n))
		}
	}
	return totals, perAgent
}

// pruneAbsent drops tracked agents that have been out of the configured
// selection for absentCyclesBeforePrune consecutive cycles. The drop
// shows up as a membership change, so the cycle that prunes reports
// changed=true.
func (m *Monitor) pruneAbsent(selected []int64) []int64 {
	inSelection := make(map[int64]struct{}, len(selected))
	for _, id := range selected {
		inSelection[id] = struct{}{}
		delete(m.absent, id)
	}

	var removed []int64
	for id := range m.state {
		if _, ok := inSelection[id]; ok {
			continue
		}
		m.absent[id]++
		if m.absent[id] >= absentCyclesBeforePrune {
			delete(m.state, id)
			delete(m.absent, id)
			removed = append(removed, id)
			m.logger.Info("agent no longer selected, dropping state", "agent_id", id)
		}
	}
	return removed
}

// ensureClient (re)builds the desk client when the connection-relevant
// part of the configuration changes.
func (m *Monitor) ensureClient(cfg *config.Config) {
	key := clientKey{
		baseURL: cfg.DeskURL(),
		email:   cfg.Email,
		token:   cfg.APIToken,
		timeout: cfg.RequestTimeout.Duration(),
	}
	if m.client != nil && key == m.clientKey {
		return
	}
	if m.client != nil {
		m.client.Close()
		m.logger.Info("desk connection settings changed, rebuilding client", "base_url", key.baseURL)
	}
	m.client = m.newClient(cfg)
	m.clientKey = key
}

// publish hands a cycle outcome to the updates channel without ever
// blocking the loop.
func (m *Monitor) publish(u Update) {
	select {
	case m.updates <- u:
	default:
		m.logger.Debug("updates channel full, dropping cycle update", "cycle", m.cycle)
	}
}

// sleep waits out d, returning false if ctx was cancelled first. A
// non-positive d only checks for cancellation.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := m.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// snapshot copies the tracked-agent map for change detection.
func (m *Monitor) snapshot() map[int64]AgentState {
	copied := make(map[int64]AgentState, len(m.state))
	for id, st := range m.state {
		copied[id] = st
	}
	return copied
}

// stateSlice returns the tracked agents sorted by id, detached from the
// loop's own map.
func (m *Monitor) stateSlice() []AgentState {
	agents := make([]AgentState, 0, len(m.state))
	for _, st := range m.state {
		agents = append(agents, st)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// agentName resolves a display name for metric labels; id 0 is the
// unassigned ticket bucket, not an agent.
func (m *Monitor) agentName(agentID int64) string {
	if agentID == 0 {
		return unassignedName
	}
	return m.names.Lookup(agentID)
}

func agentLabels(agentID int64, name string) map[string]string {
	return map[string]string{
		"agent_id":   strconv.FormatInt(agentID, 10),
		"agent_name": name,
	}
}

func cycleResult(success, failure int) string {
	switch {
	case failure == 0:
		return "ok"
	case success == 0:
		return "failed"
	default:
		return "partial"
	}
}

func configuredNames(cfg *config.Config) map[int64]string {
	out := make(map[int64]string)
	for _, a := range cfg.Agents {
		if a.Name != "" {
			out[a.ID] = a.Name
		}
	}
	return out
}
