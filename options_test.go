package deskpulse

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/deskpulse/config"
)

// inlineOpts is the smallest valid inline configuration: real credentials
// and one agent.
func inlineOpts() []Option {
	return []Option{
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithAgent(101),
	}
}

func TestNew_Valid(t *testing.T) {
	dp, err := New(inlineOpts()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if dp == nil {
		t.Fatal("New() returned nil DeskPulse")
	}
}

func TestNew_NoConfigSource(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Error("New() expected error for missing configuration, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "desk configuration required") {
		t.Errorf("New() error = %v, want error containing 'desk configuration required'", err)
	}
}

func TestNew_ConflictingSources(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"file and inline", append(inlineOpts(), WithConfigFile("deskpulse.yaml"))},
		{"store and inline", append(inlineOpts(), WithConfigStore(config.NewStaticStore(&config.Config{})))},
		{"file and store", []Option{
			WithConfigFile("deskpulse.yaml"),
			WithConfigStore(config.NewStaticStore(&config.Config{})),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			if err == nil {
				t.Error("New() expected error for conflicting sources, got nil")
			}
			if err != nil && !strings.Contains(err.Error(), "mutually exclusive") {
				t.Errorf("New() error = %v, want error containing 'mutually exclusive'", err)
			}
		})
	}
}

func TestNew_InlineIncomplete(t *testing.T) {
	// credentials without any agent or view selection
	_, err := New(WithCredentials("acme", "ops@acme.test", "s3cret"))
	if err == nil {
		t.Error("New() expected error for empty selection, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "incomplete desk settings") {
		t.Errorf("New() error = %v, want error containing 'incomplete desk settings'", err)
	}
}

func TestNew_InlinePlaceholderCredentials(t *testing.T) {
	_, err := New(
		WithCredentials(config.PlaceholderSubdomain, "ops@acme.test", "s3cret"),
		WithAgent(101),
	)
	if err == nil {
		t.Error("New() expected error for placeholder subdomain, got nil")
	}
}

func TestNew_InlineDuplicateAgent(t *testing.T) {
	_, err := New(
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithAgent(101),
		WithAgent(101),
	)
	if err == nil {
		t.Error("New() expected error for duplicate agent id, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "duplicate agent id") {
		t.Errorf("New() error = %v, want error containing 'duplicate agent id'", err)
	}
}

func TestNew_InlineDuplicateView(t *testing.T) {
	_, err := New(
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithView(7, "Inbox"),
		WithPerAgentView(7, "Inbox again"),
	)
	if err == nil {
		t.Error("New() expected error for duplicate view id, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "duplicate view id") {
		t.Errorf("New() error = %v, want error containing 'duplicate view id'", err)
	}
}

// TestNew_InlineBuildsStaticConfig verifies the inline options land in the
// configuration the monitor will load.
func TestNew_InlineBuildsStaticConfig(t *testing.T) {
	dp, err := New(
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithBaseURL("http://localhost:9999"),
		WithAgents(101, 102),
		WithAgentName(103, "Grace Hopper"),
		WithView(7, "Inbox"),
		WithPerAgentView(8, "Escalations"),
		WithRequestTimeout(2*time.Second),
		WithPort(7070),
		WithTitle("Support Floor"),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg, err := dp.configStore.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Subdomain != "acme" || cfg.Email != "ops@acme.test" || cfg.APIToken != "s3cret" {
		t.Errorf("credentials = (%q, %q, %q), want (acme, ops@acme.test, s3cret)",
			cfg.Subdomain, cfg.Email, cfg.APIToken)
	}
	if cfg.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:9999")
	}
	if len(cfg.Agents) != 3 {
		t.Fatalf("len(Agents) = %d, want 3", len(cfg.Agents))
	}
	if cfg.Agents[2].ID != 103 || cfg.Agents[2].Name != "Grace Hopper" {
		t.Errorf("Agents[2] = %+v, want id 103 named Grace Hopper", cfg.Agents[2])
	}
	if len(cfg.Views) != 2 {
		t.Fatalf("len(Views) = %d, want 2", len(cfg.Views))
	}
	if cfg.Views[0].PerAgent {
		t.Error("Views[0].PerAgent = true, want false")
	}
	if !cfg.Views[1].PerAgent {
		t.Error("Views[1].PerAgent = false, want true")
	}
	if cfg.RequestTimeout.Duration() != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.RequestTimeout.Duration())
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Port)
	}
	if cfg.Title != "Support Floor" {
		t.Errorf("Title = %q, want %q", cfg.Title, "Support Floor")
	}
}

// TestNew_InlineDefaults verifies the inline configuration picks up the
// same defaults a parsed file would.
func TestNew_InlineDefaults(t *testing.T) {
	dp, err := New(inlineOpts()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg, err := dp.configStore.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != config.DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, config.DefaultPort)
	}
	if cfg.Title != config.DefaultTitle {
		t.Errorf("Title = %q, want %q", cfg.Title, config.DefaultTitle)
	}
	if cfg.RequestTimeout.Duration() != config.DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout.Duration(), config.DefaultRequestTimeout)
	}
}

func TestWithConfigFile_Empty(t *testing.T) {
	_, err := New(WithConfigFile(""))
	if err == nil {
		t.Error("New() expected error for empty config path, got nil")
	}
}

func TestWithConfigStore_Nil(t *testing.T) {
	_, err := New(WithConfigStore(nil))
	if err == nil {
		t.Error("New() expected error for nil config store, got nil")
	}
}

func TestWithCredentials_Empty(t *testing.T) {
	tests := []struct {
		name      string
		subdomain string
		email     string
		token     string
	}{
		{"empty subdomain", "", "ops@acme.test", "s3cret"},
		{"empty email", "acme", "", "s3cret"},
		{"empty token", "acme", "ops@acme.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(
				WithCredentials(tt.subdomain, tt.email, tt.token),
				WithAgent(101),
			)
			if err == nil {
				t.Error("New() expected error for empty credential, got nil")
			}
		})
	}
}

func TestWithBaseURL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "ftp://desk.internal"},
		{"no scheme", "desk.internal/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(append(inlineOpts(), WithBaseURL(tt.url))...)
			if err == nil {
				t.Errorf("New() expected error for base URL %q, got nil", tt.url)
			}
		})
	}
}

func TestWithAgent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   int64
	}{
		{"zero", 0},
		{"negative", -7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(
				WithCredentials("acme", "ops@acme.test", "s3cret"),
				WithAgent(tt.id),
			)
			if err == nil {
				t.Errorf("New() expected error for agent id %d, got nil", tt.id)
			}
		})
	}
}

func TestWithAgents_InvalidID(t *testing.T) {
	_, err := New(
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithAgents(101, 0, 103),
	)
	if err == nil {
		t.Error("New() expected error for zero agent id in WithAgents, got nil")
	}
}

func TestWithAgentName_EmptyName(t *testing.T) {
	_, err := New(
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithAgentName(101, ""),
	)
	if err == nil {
		t.Error("New() expected error for empty agent name, got nil")
	}
}

func TestWithView_Invalid(t *testing.T) {
	_, err := New(
		WithCredentials("acme", "ops@acme.test", "s3cret"),
		WithView(0, "Inbox"),
	)
	if err == nil {
		t.Error("New() expected error for zero view id, got nil")
	}
}

func TestWithRequestTimeout_Invalid(t *testing.T) {
	_, err := New(append(inlineOpts(), WithRequestTimeout(500*time.Millisecond))...)
	if err == nil {
		t.Error("New() expected error for sub-second request timeout, got nil")
	}
}

func TestWithPort(t *testing.T) {
	dp, err := New(append(inlineOpts(), WithPort(9090))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if dp.Port() != 9090 {
		t.Errorf("Port() = %v, want %v", dp.Port(), 9090)
	}
}

func TestWithPort_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 65536},
		{"way too high", 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(append(inlineOpts(), WithPort(tt.port))...)
			if err == nil {
				t.Errorf("New() expected error for port %v, got nil", tt.port)
			}
		})
	}
}

func TestWithPort_ValidEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"minimum", 1},
		{"maximum", 65535},
		{"common http", 80},
		{"common alt", 8080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp, err := New(append(inlineOpts(), WithPort(tt.port))...)
			if err != nil {
				t.Errorf("New() unexpected error for port %v: %v", tt.port, err)
			}
			if dp.Port() != tt.port {
				t.Errorf("Port() = %v, want %v", dp.Port(), tt.port)
			}
		})
	}
}

func TestWithMaxConcurrency_Invalid(t *testing.T) {
	tests := []struct {
		name           string
		maxConcurrency int
	}{
		{"zero", 0},
		{"negative", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(append(inlineOpts(), WithMaxConcurrency(tt.maxConcurrency))...)
			if err == nil {
				t.Errorf("New() expected error for maxConcurrency %v, got nil", tt.maxConcurrency)
			}
		})
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	dp, err := New(append(inlineOpts(), WithLogger(logger))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if dp == nil {
		t.Fatal("New() returned nil DeskPulse")
	}
}

func TestWithLogger_Nil(t *testing.T) {
	_, err := New(append(inlineOpts(), WithLogger(nil))...)
	if err == nil {
		t.Error("New() expected error for nil logger, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "logger cannot be nil") {
		t.Errorf("New() error = %v, want error containing 'logger cannot be nil'", err)
	}
}

func TestWithMetricsRegistry_Nil(t *testing.T) {
	_, err := New(append(inlineOpts(), WithMetricsRegistry(nil))...)
	if err == nil {
		t.Error("New() expected error for nil registry, got nil")
	}
}

func TestWithMetricsRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	dp, err := New(append(inlineOpts(), WithMetricsRegistry(reg))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if dp.registry != reg {
		t.Error("registry was not stored")
	}
}

func TestWithChangeCallback_NilAccepted(t *testing.T) {
	dp, err := New(append(inlineOpts(), WithChangeCallback(nil))...)
	if err != nil {
		t.Fatalf("New() error = %v, want nil (nil callback should be accepted)", err)
	}
	if len(dp.changeCallbacks) != 0 {
		t.Errorf("len(changeCallbacks) = %d, want 0", len(dp.changeCallbacks))
	}
}

func TestWithTitle(t *testing.T) {
	dp, err := New(append(inlineOpts(), WithTitle("Custom Dashboard"))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if dp.Title() != "Custom Dashboard" {
		t.Errorf("Title() = %q, want %q", dp.Title(), "Custom Dashboard")
	}
}

func TestWithTitle_DefaultsToEmpty(t *testing.T) {
	dp, err := New(inlineOpts()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// empty means the title comes from the configuration source at Start
	if dp.Title() != "" {
		t.Errorf("Title() = %q, want empty string", dp.Title())
	}
}
