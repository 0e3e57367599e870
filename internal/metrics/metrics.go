// Package metrics publishes monitor observations as Prometheus series.
//
// The monitor writes through the [Sink] interface and treats every write
// as fire-and-forget: no error returns, no panics, nothing here may stall
// or fail a polling cycle. The Prometheus implementation registers each
// series lazily on first write, so the set of exported series follows
// whatever the monitor actually observes.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Exported series names. Dashboards and alerts key on these.
const (
	// AgentPresence is the presence ordinal per agent:
	// 0 offline, 1 away, 2 transfers only, 3 online, -1 unknown.
	AgentPresence = "deskpulse_agent_presence"

	// AgentCallStatus is the call-status ordinal per agent:
	// 0 no call, 1 on call, 2 wrap-up, -1 unknown.
	AgentCallStatus = "deskpulse_agent_call_status"

	// ViewTickets is the total ticket count per view.
	ViewTickets = "deskpulse_view_tickets"

	// ViewAgentTickets is the per-assignee ticket count within a view.
	ViewAgentTickets = "deskpulse_view_agent_tickets"

	// PresenceCheckFailures counts failed presence checks per agent.
	PresenceCheckFailures = "deskpulse_presence_check_failures_total"

	// Cycles counts completed monitoring cycles by result.
	Cycles = "deskpulse_cycles_total"

	// ConsecutiveFailures is the current total-failure streak feeding the
	// backoff computation.
	ConsecutiveFailures = "deskpulse_consecutive_failures"

	// BackoffSeconds is the backoff delay applied before the current cycle,
	// zero when polling normally.
	BackoffSeconds = "deskpulse_backoff_seconds"

	// PollIntervalSeconds is the adaptive interval chosen after the last
	// cycle.
	PollIntervalSeconds = "deskpulse_poll_interval_seconds"
)

// help texts for the known series; unknown names fall back to the name.
var help = map[string]string{
	AgentPresence:         "Agent presence ordinal (0 offline, 1 away, 2 transfers only, 3 online, -1 unknown).",
	AgentCallStatus:       "Agent call status ordinal (0 no call, 1 on call, 2 wrap-up, -1 unknown).",
	ViewTickets:           "Total tickets currently in the view.",
	ViewAgentTickets:      "Tickets in the view broken down by assignee.",
	PresenceCheckFailures: "Failed presence checks, by agent.",
	Cycles:                "Completed monitoring cycles, by result.",
	ConsecutiveFailures:   "Consecutive cycles in which every presence check failed.",
	BackoffSeconds:        "Backoff delay applied before the current cycle, in seconds.",
	PollIntervalSeconds:   "Adaptive poll interval chosen after the last cycle, in seconds.",
}

// Sink receives monitor observations.
//
// Implementations must never block on I/O or panic; the monitor calls the
// sink inline from its cycle driver.
type Sink interface {
	// SetGauge sets the named gauge for a label set.
	SetGauge(name string, labels map[string]string, value float64)

	// IncCounter increments the named counter for a label set.
	IncCounter(name string, labels map[string]string)
}

// NopSink discards all observations. It is the default when no metrics
// registry is configured.
type NopSink struct{}

// SetGauge implements [Sink].
func (NopSink) SetGauge(string, map[string]string, float64) {}

// IncCounter implements [Sink].
func (NopSink) IncCounter(string, map[string]string) {}

// PromSink implements [Sink] on a Prometheus registry.
//
// Each series is registered on first write with the label keys of that
// write. A later write with different label keys is dropped rather than
// surfaced, keeping the fire-and-forget contract; the monitor always uses
// a fixed label set per series.
type PromSink struct {
	registerer prometheus.Registerer

	mu       sync.Mutex
	gauges   map[string]*prometheus.GaugeVec
	counters map[string]*prometheus.CounterVec
}

// NewPromSink creates a sink registering on reg. A nil reg selects the
// Prometheus default registerer.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromSink{
		registerer: reg,
		gauges:     make(map[string]*prometheus.GaugeVec),
		counters:   make(map[string]*prometheus.CounterVec),
	}
}

// SetGauge implements [Sink].
func (s *PromSink) SetGauge(name string, labels map[string]string, value float64) {
	vec := s.gaugeVec(name, labelKeys(labels))
	if vec == nil {
		return
	}
	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	gauge.Set(value)
}

// IncCounter implements [Sink].
func (s *PromSink) IncCounter(name string, labels map[string]string) {
	vec := s.counterVec(name, labelKeys(labels))
	if vec == nil {
		return
	}
	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return
	}
	counter.Inc()
}

func (s *PromSink) gaugeVec(name string, keys []string) *prometheus.GaugeVec {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vec, ok := s.gauges[name]; ok {
		return vec
	}
	created := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, keys)
	registered, ok := register(s.registerer, created)
	if !ok {
		return nil
	}
	vec, ok := registered.(*prometheus.GaugeVec)
	if !ok {
		return nil
	}
	s.gauges[name] = vec
	return vec
}

func (s *PromSink) counterVec(name string, keys []string) *prometheus.CounterVec {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vec, ok := s.counters[name]; ok {
		return vec
	}
	created := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, keys)
	registered, ok := register(s.registerer, created)
	if !ok {
		return nil
	}
	vec, ok := registered.(*prometheus.CounterVec)
	if !ok {
		return nil
	}
	s.counters[name] = vec
	return vec
}

// register registers c, adopting an identical collector that a previous
// sink on the same registry already registered. Any other registration
// failure drops the series.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, bool) {
	err := reg.Register(c)
	if err == nil {
		return c, true
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector, true
	}
	return nil, false
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
