package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/deskpulse/config"
	"github.com/jpalmerr/deskpulse/internal/desk"
	"github.com/jpalmerr/deskpulse/internal/metrics"
)

// fastTiming compresses the loop cadences so tests run in milliseconds.
// Backoff stays deliberately huge: a test that accidentally triggers it
// times out instead of passing slowly.
func fastTiming() Timing {
	return Timing{
		GateRecheck:    15 * time.Millisecond,
		InvalidSleep:   10 * time.Millisecond,
		BackoffBase:    10 * time.Second,
		BackoffMax:     20 * time.Second,
		BurstInterval:  5 * time.Millisecond,
		QuietIntervals: QuietIntervals{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond},
		ErrorRetry:     5 * time.Millisecond,
	}
}

type harness struct {
	m     *Monitor
	fake  *fakeDesk
	store *countingStore
	reg   *prometheus.Registry
}

func parseConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func startMonitor(t *testing.T, yaml string, fake *fakeDesk, timing Timing) *harness {
	t.Helper()
	store := &countingStore{cfg: parseConfig(t, yaml)}
	reg := prometheus.NewRegistry()
	m := New(store, Options{
		Logger: discardLogger(),
		Sink:   metrics.NewPromSink(reg),
		Timing: timing,
		ClientFactory: func(cfg *config.Config) DeskClient {
			return fake
		},
	})
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return &harness{m: m, fake: fake, store: store, reg: reg}
}

// waitForUpdate drains the updates channel until pred matches. A nil pred
// matches the first update.
func waitForUpdate(t *testing.T, m *Monitor, timeout time.Duration, pred func(Update) bool) Update {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case u, ok := <-m.Updates():
			if !ok {
				t.Fatal("updates channel closed while waiting")
			}
			if pred == nil || pred(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

// metricValue reads one gauge or counter sample from the registry.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			got := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			if len(got) != len(labels) {
				continue
			}
			match := true
			for k, v := range labels {
				if got[k] != v {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue(), true
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue(), true
			}
		}
	}
	return 0, false
}

func agentByID(u Update, id int64) (AgentState, bool) {
	for _, a := range u.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentState{}, false
}

func viewTotalByID(u Update, id int64) (ViewTotal, bool) {
	for _, v := range u.ViewTotals {
		if v.ViewID == id {
			return v, true
		}
	}
	return ViewTotal{}, false
}

const threeAgentsYAML = `
subdomain: acme
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
  - id: 2
    name: Bob
  - id: 3
`

const oneAgentYAML = `
subdomain: acme
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
`

// TestMonitorFirstCycle checks the first completed cycle reports every
// configured agent as a first observation, with names resolved through
// the directory, configuration, and id fallback tiers.
func TestMonitorFirstCycle(t *testing.T) {
	fake := newFakeDesk()
	fake.roster = []desk.RosterAgent{{ID: 1, Name: "Ada"}}
	for _, id := range []int64{1, 2, 3} {
		fake.setPresence(id, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	}

	h := startMonitor(t, threeAgentsYAML, fake, fastTiming())
	u := waitForUpdate(t, h.m, 2*time.Second, nil)

	if !u.Changed {
		t.Error("first cycle not reported as changed")
	}
	if u.SuccessCount != 3 || u.FailureCount != 0 || u.TotalFailure {
		t.Errorf("counts = %d/%d total=%v, want 3/0 total=false",
			u.SuccessCount, u.FailureCount, u.TotalFailure)
	}
	if len(u.Changes) != 3 {
		t.Fatalf("changes = %d, want 3", len(u.Changes))
	}
	for _, c := range u.Changes {
		if !c.First {
			t.Errorf("agent %d: first observation not flagged", c.Current.ID)
		}
	}

	wantNames := map[int64]string{1: "Ada", 2: "Bob", 3: "3"}
	if len(u.Agents) != 3 {
		t.Fatalf("agents = %d, want 3", len(u.Agents))
	}
	for i, want := range []int64{1, 2, 3} {
		if u.Agents[i].ID != want {
			t.Errorf("agents[%d].ID = %d, want %d (sorted by id)", i, u.Agents[i].ID, want)
		}
		if u.Agents[i].Name != wantNames[want] {
			t.Errorf("agent %d name = %q, want %q", want, u.Agents[i].Name, wantNames[want])
		}
	}

	if v, ok := metricValue(t, h.reg, metrics.AgentPresence, map[string]string{"agent_id": "1", "agent_name": "Ada"}); !ok || v != float64(desk.Online) {
		t.Errorf("presence gauge = %v (present=%v), want %d", v, ok, desk.Online)
	}
	if v, ok := metricValue(t, h.reg, metrics.Cycles, map[string]string{"result": "ok"}); !ok || v < 1 {
		t.Errorf("cycles counter = %v (present=%v), want >= 1", v, ok)
	}
}

// TestMonitorPartialFailure checks one agent's failure neither clears its
// previous state nor triggers backoff while others still succeed.
func TestMonitorPartialFailure(t *testing.T) {
	fake := newFakeDesk()
	for _, id := range []int64{1, 2, 3} {
		fake.setPresence(id, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	}

	h := startMonitor(t, threeAgentsYAML, fake, fastTiming())
	waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool {
		return len(u.Agents) == 3 && u.FailureCount == 0
	})

	fake.setPresenceErr(3, &desk.TransientError{Op: "presence", StatusCode: 503})
	u := waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool {
		return u.FailureCount > 0
	})

	if u.SuccessCount != 2 || u.TotalFailure {
		t.Errorf("counts = %d/%d total=%v, want 2/1 total=false",
			u.SuccessCount, u.FailureCount, u.TotalFailure)
	}
	st, ok := agentByID(u, 3)
	if !ok {
		t.Fatal("failing agent dropped from state")
	}
	if st.Presence != desk.Online || st.CallStatus != desk.NoCall {
		t.Errorf("failing agent state = %v/%v, want previous online/no_call", st.Presence, st.CallStatus)
	}
	fresh, _ := agentByID(u, 1)
	if !st.CheckedAt.Before(fresh.CheckedAt) {
		t.Error("failing agent CheckedAt not older than a fresh check")
	}

	if v, ok := metricValue(t, h.reg, metrics.ConsecutiveFailures, map[string]string{}); !ok || v != 0 {
		t.Errorf("consecutive failures gauge = %v (present=%v), want 0", v, ok)
	}
	if v, ok := metricValue(t, h.reg, metrics.PresenceCheckFailures, map[string]string{"agent_id": "3"}); !ok || v < 1 {
		t.Errorf("failure counter = %v (present=%v), want >= 1", v, ok)
	}

	// backoff is 10s in fastTiming; polling continuing proves it was not applied
	waitForUpdate(t, h.m, 2*time.Second, nil)
}

// TestMonitorTotalFailureBackoff checks the doubling backoff between
// total-failure cycles and the reset on the first success.
func TestMonitorTotalFailureBackoff(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresenceErr(1, &desk.TransientError{Op: "presence", StatusCode: 502})

	timing := fastTiming()
	timing.BackoffBase = 60 * time.Millisecond
	timing.BackoffMax = 240 * time.Millisecond

	h := startMonitor(t, oneAgentYAML, fake, timing)

	u1 := waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool { return u.TotalFailure })
	u2 := waitForUpdate(t, h.m, 2*time.Second, nil)
	u3 := waitForUpdate(t, h.m, 2*time.Second, nil)

	if gap := u2.At.Sub(u1.At); gap < 55*time.Millisecond {
		t.Errorf("gap after 1 failure = %v, want >= ~60ms backoff", gap)
	}
	if gap := u3.At.Sub(u2.At); gap < 115*time.Millisecond {
		t.Errorf("gap after 2 failures = %v, want >= ~120ms backoff", gap)
	}
	if v, ok := metricValue(t, h.reg, metrics.ConsecutiveFailures, map[string]string{}); !ok || v != 3 {
		t.Errorf("consecutive failures gauge = %v (present=%v), want 3", v, ok)
	}
	if v, ok := metricValue(t, h.reg, metrics.Cycles, map[string]string{"result": "failed"}); !ok || v < 3 {
		t.Errorf("failed cycles counter = %v (present=%v), want >= 3", v, ok)
	}

	fake.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	u4 := waitForUpdate(t, h.m, 3*time.Second, func(u Update) bool { return !u.TotalFailure })
	if u4.SuccessCount != 1 {
		t.Errorf("recovery SuccessCount = %d, want 1", u4.SuccessCount)
	}

	waitForUpdate(t, h.m, 2*time.Second, nil)
	if v, ok := metricValue(t, h.reg, metrics.ConsecutiveFailures, map[string]string{}); !ok || v != 0 {
		t.Errorf("consecutive failures after recovery = %v (present=%v), want 0", v, ok)
	}
	if v, ok := metricValue(t, h.reg, metrics.BackoffSeconds, map[string]string{}); !ok || v != 0 {
		t.Errorf("backoff gauge after recovery = %v (present=%v), want 0", v, ok)
	}
}

// TestMonitorPrunesDeselected checks an agent removed from the
// configuration is dropped after staying out of the selection for two
// cycles, and that the drop registers as a change.
func TestMonitorPrunesDeselected(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	fake.setPresence(2, desk.PresenceInfo{Presence: desk.Away, CallStatus: desk.NoCall})

	yaml := `
subdomain: acme
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
  - id: 2
`
	h := startMonitor(t, yaml, fake, fastTiming())
	waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool { return len(u.Agents) == 2 })

	h.store.set(parseConfig(t, oneAgentYAML))
	u := waitForUpdate(t, h.m, 3*time.Second, func(u Update) bool { return len(u.Removed) > 0 })

	if len(u.Removed) != 1 || u.Removed[0] != 2 {
		t.Fatalf("Removed = %v, want [2]", u.Removed)
	}
	if !u.Changed {
		t.Error("pruning cycle not reported as changed")
	}
	if _, ok := agentByID(u, 2); ok {
		t.Error("pruned agent still present in state")
	}
	if _, ok := agentByID(u, 1); !ok {
		t.Error("remaining agent missing from state")
	}
}

// TestMonitorViewChecks checks view totals and per-agent breakdowns flow
// into updates and metrics, and that one view's failure leaves the others
// standing.
func TestMonitorViewChecks(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	fake.setViewTotal(10, 57)
	fake.setViewTotal(11, 9)
	fake.setViewAgents(11, map[int64]int64{101: 3, 0: 2})

	yaml := `
subdomain: acme
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
views:
  - id: 10
    name: Inbox
  - id: 11
    per_agent: true
`
	h := startMonitor(t, yaml, fake, fastTiming())
	u := waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool { return len(u.ViewTotals) == 2 })

	inbox, ok := viewTotalByID(u, 10)
	if !ok || inbox.Total != 57 || inbox.ViewName != "Inbox" {
		t.Errorf("view 10 = %+v (present=%v), want Inbox total 57", inbox, ok)
	}
	unnamed, ok := viewTotalByID(u, 11)
	if !ok || unnamed.Total != 9 || unnamed.ViewName != "11" {
		t.Errorf("view 11 = %+v (present=%v), want total 9 named by id", unnamed, ok)
	}
	if len(u.ViewAgents) != 1 || u.ViewAgents[0].ViewID != 11 {
		t.Fatalf("ViewAgents = %+v, want one entry for view 11", u.ViewAgents)
	}
	counts := u.ViewAgents[0].Counts
	if counts[101] != 3 || counts[0] != 2 {
		t.Errorf("per-agent counts = %v, want 101:3 0:2", counts)
	}

	if v, ok := metricValue(t, h.reg, metrics.ViewTickets, map[string]string{"view_id": "10", "view_name": "Inbox"}); !ok || v != 57 {
		t.Errorf("view tickets gauge = %v (present=%v), want 57", v, ok)
	}
	unassigned := map[string]string{"view_id": "11", "view_name": "11", "agent_id": "0", "agent_name": "unassigned"}
	if v, ok := metricValue(t, h.reg, metrics.ViewAgentTickets, unassigned); !ok || v != 2 {
		t.Errorf("unassigned bucket gauge = %v (present=%v), want 2", v, ok)
	}

	// one view failing must not take down the other or the presence checks
	fake.setViewTotalErr(10, &desk.TransientError{Op: "view count", StatusCode: 503})
	u2 := waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool {
		_, has10 := viewTotalByID(u, 10)
		_, has11 := viewTotalByID(u, 11)
		return !has10 && has11
	})
	if u2.SuccessCount != 1 {
		t.Errorf("presence SuccessCount with failing view = %d, want 1", u2.SuccessCount)
	}
	if len(u2.ViewAgents) != 1 {
		t.Errorf("per-agent counts lost when sibling view failed: %+v", u2.ViewAgents)
	}
}

// TestMonitorGatedUntilConfigured checks no polling happens on an
// incomplete configuration and that a fix is picked up without restart.
func TestMonitorGatedUntilConfigured(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})

	placeholder := `
subdomain: your-subdomain
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
`
	h := startMonitor(t, placeholder, fake, fastTiming())

	select {
	case u := <-h.m.Updates():
		t.Fatalf("update while gated: %+v", u)
	case <-time.After(150 * time.Millisecond):
	}
	if got := h.m.Phase(); got != PhaseGated {
		t.Errorf("Phase = %q, want %q", got, PhaseGated)
	}
	if calls := atomic.LoadInt64(&fake.presenceCalls); calls != 0 {
		t.Errorf("presence calls while gated = %d, want 0", calls)
	}

	h.store.set(parseConfig(t, oneAgentYAML))
	u := waitForUpdate(t, h.m, 2*time.Second, nil)
	if u.SuccessCount != 1 {
		t.Errorf("SuccessCount after fix = %d, want 1", u.SuccessCount)
	}
}

// TestMonitorClientRebuild checks the desk client is rebuilt, and the old
// one closed, when connection settings change.
func TestMonitorClientRebuild(t *testing.T) {
	f1 := newFakeDesk()
	f2 := newFakeDesk()
	for _, f := range []*fakeDesk{f1, f2} {
		f.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	}

	var builds int32
	store := &countingStore{cfg: parseConfig(t, oneAgentYAML)}
	m := New(store, Options{
		Logger: discardLogger(),
		Timing: fastTiming(),
		ClientFactory: func(cfg *config.Config) DeskClient {
			if atomic.AddInt32(&builds, 1) == 1 {
				return f1
			}
			return f2
		},
	})
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	waitForUpdate(t, m, 2*time.Second, nil)

	store.set(parseConfig(t, `
subdomain: globex
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
`))

	waitForUpdate(t, m, 3*time.Second, func(Update) bool {
		return atomic.LoadInt64(&f2.presenceCalls) > 0
	})

	if got := atomic.LoadInt32(&builds); got != 2 {
		t.Errorf("client builds = %d, want 2", got)
	}
	if got := atomic.LoadInt32(&f1.closed); got != 1 {
		t.Errorf("old client closed %d times, want 1", got)
	}
}

// TestMonitorIterationPanicRecovers checks a panic outside the fan-out,
// here in a view check, skips the cycle and the loop keeps going.
func TestMonitorIterationPanicRecovers(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})
	var calls int32
	fake.viewTotalFn = func(ctx context.Context, viewID int64) (int64, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			panic("count decoder corrupted")
		}
		return 57, nil
	}

	var buf bytes.Buffer
	store := &countingStore{cfg: parseConfig(t, `
subdomain: acme
email: ops@acme.test
api_token: s3cret
agents:
  - id: 1
views:
  - id: 10
`)}
	m := New(store, Options{
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
		Timing: fastTiming(),
		ClientFactory: func(cfg *config.Config) DeskClient {
			return fake
		},
	})
	m.Start(context.Background())

	u := waitForUpdate(t, m, 3*time.Second, func(u Update) bool { return len(u.ViewTotals) == 1 })
	if u.ViewTotals[0].Total != 57 {
		t.Errorf("view total after recovery = %d, want 57", u.ViewTotals[0].Total)
	}

	m.Stop()
	logged := buf.String()
	if !strings.Contains(logged, "monitor iteration panic") {
		t.Error("iteration panic was not logged")
	}
	if !strings.Contains(logged, "count decoder corrupted") {
		t.Error("log missing panic value")
	}
}

// TestMonitorStopDuringBackoff checks shutdown latency is bounded by
// response time even while a long backoff sleep is pending.
func TestMonitorStopDuringBackoff(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresenceErr(1, &desk.TransientError{Op: "presence", StatusCode: 502})

	timing := fastTiming()
	timing.BackoffBase = 5 * time.Second

	h := startMonitor(t, oneAgentYAML, fake, timing)
	waitForUpdate(t, h.m, 2*time.Second, func(u Update) bool { return u.TotalFailure })
	time.Sleep(30 * time.Millisecond) // let the loop enter the backoff sleep

	start := time.Now()
	h.m.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v during a 5s backoff, want prompt", elapsed)
	}
	if got := h.m.Phase(); got != PhaseStopped {
		t.Errorf("Phase after Stop = %q, want %q", got, PhaseStopped)
	}

	// channel closes once the loop is down
	for range h.m.Updates() {
	}
}

// TestMonitorLifecycle covers the idempotency corners: double Start,
// double Stop, Stop before Start, Start after Stop.
func TestMonitorLifecycle(t *testing.T) {
	fake := newFakeDesk()
	fake.setPresence(1, desk.PresenceInfo{Presence: desk.Online, CallStatus: desk.NoCall})

	t.Run("stop before start", func(t *testing.T) {
		m := New(&countingStore{cfg: parseConfig(t, oneAgentYAML)}, Options{
			Logger: discardLogger(),
			Timing: fastTiming(),
			ClientFactory: func(cfg *config.Config) DeskClient {
				return fake
			},
		})
		m.Stop()
		if _, ok := <-m.Updates(); ok {
			t.Error("updates channel not closed after Stop")
		}

		m.Start(context.Background())
		time.Sleep(50 * time.Millisecond)
		if calls := atomic.LoadInt64(&fake.presenceCalls); calls != 0 {
			t.Errorf("Start after Stop polled %d times, want 0", calls)
		}
	})

	t.Run("double start and stop", func(t *testing.T) {
		m := New(&countingStore{cfg: parseConfig(t, oneAgentYAML)}, Options{
			Logger: discardLogger(),
			Timing: fastTiming(),
			ClientFactory: func(cfg *config.Config) DeskClient {
				return fake
			},
		})
		m.Start(context.Background())
		m.Start(context.Background())
		waitForUpdate(t, m, 2*time.Second, nil)
		m.Stop()
		m.Stop()
	})
}
