// Package config loads a workspace's agents.yaml: the set of agents
// and teams a runner should start, the router's bind address, the
// stop-condition thresholds, and the health-check port. It follows the
// teacher's defaults-plus-Validate loader shape, trimmed to what this
// runtime needs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultRouterBind is the router's listen address when the
	// workspace config doesn't set one.
	DefaultRouterBind = "127.0.0.1:4610"
	// DefaultHealthPort serves /healthz and /metrics.
	DefaultHealthPort = 4611
	// DefaultIdleTimeout is how long the runner waits for activity
	// before the built-in no-activity stop condition fires.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultStartTimeout bounds Runner.Start (spec §4.8).
	DefaultStartTimeout = 30 * time.Second
	// DefaultStopGrace bounds Runner.Stop's cooperative window.
	DefaultStopGrace = 5 * time.Second
)

// AgentConfig describes one agent the runner should spawn.
type AgentConfig struct {
	ID              string        `yaml:"id"`
	ClassIdentifier string        `yaml:"class"`
	InstanceName    string        `yaml:"name"`
	TeamID          string        `yaml:"team,omitempty"`
	InitArgs        yaml.Node     `yaml:"init_args,omitempty"`
	IgnoreSources   []string      `yaml:"ignore_sources,omitempty"`
	CircuitBreaker  CircuitConfig `yaml:"circuit_breaker,omitempty"`
}

// InitArgsJSON re-encodes the agent's init_args YAML as JSON, the form
// agentprocess.Spec and the registry factories expect.
func (a AgentConfig) InitArgsJSON() ([]byte, error) {
	if a.InitArgs.Kind == 0 {
		return nil, nil
	}
	var v any
	if err := a.InitArgs.Decode(&v); err != nil {
		return nil, fmt.Errorf("config: decoding init_args for agent %q: %w", a.ID, err)
	}
	return json.Marshal(v)
}

// CircuitConfig tunes the respawn circuit breaker for one agent,
// mirroring internal/reliability.CircuitBreakerConfig's fields.
type CircuitConfig struct {
	MaxFailures  int           `yaml:"max_failures,omitempty"`
	ResetTimeout time.Duration `yaml:"reset_timeout,omitempty"`
}

// TeamConfig describes one coordinator agent and its fixed membership.
type TeamConfig struct {
	ID             string   `yaml:"id"`
	Members        []string `yaml:"members"`
	Collaboration  string   `yaml:"collaboration"` // "centralized" or "decentralized"
	CoordinatorID  string   `yaml:"coordinator,omitempty"`
	VotingStrategy string   `yaml:"voting_strategy,omitempty"`
	TimeLimit      time.Duration `yaml:"time_limit,omitempty"`
}

// StopConditionConfig configures the runner's built-in stop predicate.
type StopConditionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
}

// Config is the complete contents of a workspace's agents.yaml.
type Config struct {
	WorkspaceName string              `yaml:"workspace_name"`
	// MainChannel is where chorus run publishes -i/stdin input, the
	// equivalent of the original's ws.main_channel.
	MainChannel   string              `yaml:"main_channel"`
	RouterBind    string              `yaml:"router_bind"`
	HealthPort    int                 `yaml:"health_port"`
	CheckpointDB  string              `yaml:"checkpoint_db,omitempty"`
	StartTimeout  time.Duration       `yaml:"start_timeout,omitempty"`
	StopGrace     time.Duration       `yaml:"stop_grace,omitempty"`
	StopCondition StopConditionConfig `yaml:"stop_condition,omitempty"`
	Agents        []AgentConfig       `yaml:"agents"`
	Teams         []TeamConfig        `yaml:"teams,omitempty"`
}

// Default returns a Config with every field at its documented default,
// no agents or teams.
func Default() *Config {
	return &Config{
		RouterBind:   DefaultRouterBind,
		HealthPort:   DefaultHealthPort,
		StartTimeout: DefaultStartTimeout,
		StopGrace:    DefaultStopGrace,
		StopCondition: StopConditionConfig{
			IdleTimeout: DefaultIdleTimeout,
		},
	}
}

// Load reads and validates the agents.yaml at path, applying defaults
// for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields that yaml.Unmarshal would
// otherwise leave blank, since unmarshaling into an already-defaulted
// struct only overwrites keys present in the document.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RouterBind) == "" {
		c.RouterBind = DefaultRouterBind
	}
	if c.HealthPort == 0 {
		c.HealthPort = DefaultHealthPort
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.StopCondition.IdleTimeout == 0 {
		c.StopCondition.IdleTimeout = DefaultIdleTimeout
	}
	for i := range c.Agents {
		if c.Agents[i].CircuitBreaker.MaxFailures == 0 {
			c.Agents[i].CircuitBreaker.MaxFailures = 5
		}
	}
}

// applyEnvOverrides applies the environment variables SPEC_FULL.md
// names for deployment-time overrides, without requiring an edit to
// agents.yaml.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHORUS_ROUTER_PORT"); v != "" {
		host := "127.0.0.1"
		if idx := strings.LastIndex(cfg.RouterBind, ":"); idx >= 0 {
			host = cfg.RouterBind[:idx]
		}
		cfg.RouterBind = host + ":" + v
	}
}

// Validate checks the loaded config for the mistakes that would
// otherwise surface as a confusing runtime failure later.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	if strings.TrimSpace(c.MainChannel) == "" {
		return fmt.Errorf("main_channel must be set")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("agent missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if strings.TrimSpace(a.ClassIdentifier) == "" {
			return fmt.Errorf("agent %q missing class", a.ID)
		}
	}
	for _, t := range c.Teams {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("team missing id")
		}
		switch t.Collaboration {
		case "centralized":
			if strings.TrimSpace(t.CoordinatorID) == "" {
				return fmt.Errorf("team %q: centralized collaboration requires a coordinator", t.ID)
			}
		case "decentralized":
			switch t.VotingStrategy {
			case "", "first_come_first_serve", "majority_vote", "plurality_vote":
			default:
				return fmt.Errorf("team %q: invalid voting_strategy %q", t.ID, t.VotingStrategy)
			}
		default:
			return fmt.Errorf("team %q: collaboration must be centralized or decentralized, got %q", t.ID, t.Collaboration)
		}
		for _, m := range t.Members {
			if !seen[m] {
				return fmt.Errorf("team %q: member %q is not a configured agent", t.ID, m)
			}
		}
	}
	if c.StartTimeout < 0 {
		return fmt.Errorf("start_timeout must be >= 0")
	}
	if c.StopGrace < 0 {
		return fmt.Errorf("stop_grace must be >= 0")
	}
	return nil
}
