// Package config provides YAML configuration parsing for DeskPulse.
//
// This package enables running DeskPulse as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	title: Support Floor
//	port: 8080
//	subdomain: acme
//	email: ops@acme.example
//	api_token: ${DESK_API_TOKEN}
//
//	agents:
//	  - id: 360001
//	    name: Ada Lovelace
//	  - id: 360002
//
//	views:
//	  - id: 7100
//	    name: Unsolved tickets
//	    per_agent: true
//
// Parsing and validity are two separate gates. [Parse] rejects structural
// problems: malformed YAML, duplicate ids, out-of-range values. Placeholder
// or missing credentials are not a parse error; they make [Config.Validate]
// fail, and the monitor keeps rechecking until an operator fills them in.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Parse] when the file leaves a field unset.
const (
	DefaultPort           = 8080
	DefaultTitle          = "DeskPulse"
	DefaultRequestTimeout = 15 * time.Second
)

// Placeholder sentinels shipped in the example config. Credentials equal to
// any of these are treated as absent by [Config.Validate].
const (
	PlaceholderSubdomain = "your-subdomain"
	PlaceholderEmail     = "you@example.com"
	PlaceholderToken     = "your-api-token"
)

// deskDomain is the hosted desk's domain, appended to the subdomain when no
// explicit base_url is configured.
const deskDomain = "supportdesk.com"

// Config is the root configuration structure for DeskPulse.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "DeskPulse" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// Subdomain is the desk account's subdomain, e.g. "acme" for
	// acme.supportdesk.com. Supports environment variable substitution:
	// ${VAR} or ${VAR:-default}.
	Subdomain string `yaml:"subdomain"`

	// Email is the account identifier sent as the basic auth username.
	// Supports environment variable substitution.
	Email string `yaml:"email"`

	// APIToken is the secret sent as the basic auth password.
	// Supports environment variable substitution.
	APIToken string `yaml:"api_token"`

	// BaseURL overrides the URL derived from Subdomain, for self-hosted
	// desks and for tests. Supports environment variable substitution.
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds each individual desk API request.
	// Accepts duration strings like "10s", "1m", "500ms". Defaults to 15s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Agents selects which agents to monitor.
	Agents []AgentConfig `yaml:"agents"`

	// Views selects which ticket views to count.
	Views []ViewConfig `yaml:"views"`
}

// AgentConfig selects a single agent for monitoring.
type AgentConfig struct {
	// ID is the agent's numeric identifier on the desk.
	ID int64 `yaml:"id"`

	// Name is an optional display name, used when the directory has no
	// name for the agent; useful for agents the roster cannot see.
	Name string `yaml:"name"`
}

// ViewConfig selects a ticket view for counting.
type ViewConfig struct {
	// ID is the view's numeric identifier on the desk.
	ID int64 `yaml:"id"`

	// Name is an optional display name used in metric labels and on the
	// dashboard. Defaults to the stringified id.
	Name string `yaml:"name"`

	// PerAgent additionally breaks the view's ticket count down by
	// assignee each cycle.
	PerAgent bool `yaml:"per_agent"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in Subdomain, Email, APIToken, and
// BaseURL. Defaults are applied for Title, Port, and RequestTimeout.
// Structural errors (bad YAML, duplicate ids, out-of-range values) are
// returned here; credential validity is checked by [Config.Validate].
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = Duration(DefaultRequestTimeout)
	}

	if err := cfg.expandAndCheck(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndCheck expands environment variables and validates structure.
func (c *Config) expandAndCheck() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RequestTimeout.Duration() < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s, got %s", c.RequestTimeout.Duration())
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"subdomain", &c.Subdomain},
		{"email", &c.Email},
		{"api_token", &c.APIToken},
		{"base_url", &c.BaseURL},
	} {
		expanded, err := expandEnvVars(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}

	if c.BaseURL != "" {
		parsed, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("base_url scheme must be http or https, got %q", parsed.Scheme)
		}
	}

	seenAgents := make(map[int64]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID <= 0 {
			return fmt.Errorf("agents[%d]: id must be positive, got %d", i, a.ID)
		}
		if _, exists := seenAgents[a.ID]; exists {
			return fmt.Errorf("agents[%d]: duplicate agent id %d", i, a.ID)
		}
		seenAgents[a.ID] = struct{}{}
	}

	seenViews := make(map[int64]struct{}, len(c.Views))
	for i, v := range c.Views {
		if v.ID <= 0 {
			return fmt.Errorf("views[%d]: id must be positive, got %d", i, v.ID)
		}
		if _, exists := seenViews[v.ID]; exists {
			return fmt.Errorf("views[%d]: duplicate view id %d", i, v.ID)
		}
		seenViews[v.ID] = struct{}{}
	}

	return nil
}

// Validate reports whether the configuration is complete enough to poll
// the desk: credentials present and not placeholder sentinels, and at
// least one agent or view selected.
//
// A non-nil error here is an operator state, not a fault. The monitor
// stays gated and rechecks until Validate passes.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		if c.Subdomain == "" {
			return fmt.Errorf("subdomain is not set")
		}
		if c.Subdomain == PlaceholderSubdomain {
			return fmt.Errorf("subdomain is the placeholder %q", PlaceholderSubdomain)
		}
	}
	if c.Email == "" {
		return fmt.Errorf("email is not set")
	}
	if c.Email == PlaceholderEmail {
		return fmt.Errorf("email is the placeholder %q", PlaceholderEmail)
	}
	if c.APIToken == "" {
		return fmt.Errorf("api_token is not set")
	}
	if c.APIToken == PlaceholderToken {
		return fmt.Errorf("api_token is the placeholder %q", PlaceholderToken)
	}
	if len(c.Agents) == 0 && len(c.Views) == 0 {
		return fmt.Errorf("no agents or views selected")
	}
	return nil
}

// DeskURL returns the base URL of the desk API: BaseURL when set, otherwise
// derived from the subdomain.
func (c *Config) DeskURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("https://%s.%s", c.Subdomain, deskDomain)
}

// AgentIDs returns the ids of all selected agents, in configured order.
func (c *Config) AgentIDs() []int64 {
	ids := make([]int64, 0, len(c.Agents))
	for _, a := range c.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}

// DisplayName returns the configured display name for an agent.
// The second result is false when the agent has no configured name.
func (c *Config) DisplayName(agentID int64) (string, bool) {
	for _, a := range c.Agents {
		if a.ID == agentID && a.Name != "" {
			return a.Name, true
		}
	}
	return "", false
}

// ViewName returns the display name for a view, falling back to the
// stringified id.
func (c *Config) ViewName(viewID int64) string {
	for _, v := range c.Views {
		if v.ID == viewID && v.Name != "" {
			return v.Name
		}
	}
	return strconv.FormatInt(viewID, 10)
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate the store's own state through the returned pointer.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Agents = append([]AgentConfig(nil), c.Agents...)
	clone.Views = append([]ViewConfig(nil), c.Views...)
	return &clone
}
