package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/retry"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI and the daemon look for the council definition.
const DefaultPath = "council.yml"

// RetryConfig tunes the provider retrier. Zero values take the defaults.
type RetryConfig struct {
	MaxRetries      *int          `yaml:"max_retries,omitempty"`
	BaseDelay       time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay        time.Duration `yaml:"max_delay,omitempty"`
	MaxTotalElapsed time.Duration `yaml:"max_total_elapsed,omitempty"`
}

// OrchestratorConfig specifies discussion loop settings
type OrchestratorConfig struct {
	TurnDelay          *time.Duration `yaml:"turn_delay,omitempty"`           // Pause between turns (default 500ms, 0 disables)
	HistoryWindow      int            `yaml:"history_window,omitempty"`       // Messages of history per turn (default 10)
	DefaultMaxMessages int            `yaml:"default_max_messages,omitempty"` // Cap for sessions created without one (default 20)
	Retry              *RetryConfig   `yaml:"retry,omitempty"`
}

// CouncilConfig represents the top-level council.yml configuration
type CouncilConfig struct {
	Version      string              `yaml:"version"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Experts      map[string]Expert   `yaml:"experts"`
}

// Expert represents a single expert definition, keyed by its handle
type Expert struct {
	Name         string         `yaml:"name"`
	Specialty    string         `yaml:"specialty,omitempty"`
	SystemPrompt string         `yaml:"system_prompt"`
	Provider     string         `yaml:"provider"` // openai, anthropic or mock
	Config       map[string]any `yaml:"config"`   // Provider settings; model is required
}

// Validate performs strict validation on the configuration and applies defaults
func (c *CouncilConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if len(c.Experts) == 0 {
		return fmt.Errorf("no experts defined")
	}

	for _, handle := range c.Handles() {
		expert := c.Experts[handle]
		if err := expert.Validate(handle); err != nil {
			return err
		}
	}

	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	o := c.Orchestrator

	if o.TurnDelay == nil {
		d := 500 * time.Millisecond
		o.TurnDelay = &d
	} else if *o.TurnDelay < 0 {
		return fmt.Errorf("orchestrator.turn_delay must be >= 0, got %s", *o.TurnDelay)
	}

	if o.HistoryWindow == 0 {
		o.HistoryWindow = 10
	} else if o.HistoryWindow < 0 {
		return fmt.Errorf("orchestrator.history_window must be >= 1, got %d", o.HistoryWindow)
	}

	if o.DefaultMaxMessages == 0 {
		o.DefaultMaxMessages = 20
	} else if o.DefaultMaxMessages < 0 {
		return fmt.Errorf("orchestrator.default_max_messages must be >= 1, got %d", o.DefaultMaxMessages)
	}

	if o.Retry != nil {
		r := o.Retry
		if r.MaxRetries != nil && *r.MaxRetries < 0 {
			return fmt.Errorf("orchestrator.retry.max_retries must be >= 0, got %d", *r.MaxRetries)
		}
		if r.BaseDelay < 0 || r.MaxDelay < 0 || r.MaxTotalElapsed < 0 {
			return fmt.Errorf("orchestrator.retry delays must be >= 0")
		}
		if r.BaseDelay > 0 && r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
			return fmt.Errorf("orchestrator.retry.base_delay (%s) exceeds max_delay (%s)", r.BaseDelay, r.MaxDelay)
		}
	}

	return nil
}

// Validate performs validation on a single expert definition
func (e *Expert) Validate(handle string) error {
	if strings.TrimSpace(handle) == "" || strings.ContainsAny(handle, ": \t\n") {
		return fmt.Errorf("invalid expert handle %q: must be non-empty without ':' or whitespace", handle)
	}

	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("expert '%s': name is required", handle)
	}

	if strings.TrimSpace(e.SystemPrompt) == "" {
		return fmt.Errorf("expert '%s': system_prompt is required", handle)
	}

	if strings.TrimSpace(e.Provider) == "" {
		return fmt.Errorf("expert '%s': provider is required", handle)
	}
	if _, err := provider.ParseID(e.Provider); err != nil {
		return fmt.Errorf("expert '%s': %w", handle, err)
	}

	if _, err := provider.ParseConfig(e.Config); err != nil {
		return fmt.Errorf("expert '%s': %w", handle, err)
	}

	return nil
}

// Handles returns the expert handles in sorted order.
func (c *CouncilConfig) Handles() []string {
	handles := make([]string, 0, len(c.Experts))
	for handle := range c.Experts {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	return handles
}

// BlackboardExperts converts the definitions into store records, sorted by handle.
func (c *CouncilConfig) BlackboardExperts() []*blackboard.Expert {
	experts := make([]*blackboard.Expert, 0, len(c.Experts))
	for _, handle := range c.Handles() {
		e := c.Experts[handle]
		experts = append(experts, &blackboard.Expert{
			ID:           handle,
			Name:         e.Name,
			Specialty:    e.Specialty,
			SystemPrompt: e.SystemPrompt,
			Provider:     e.Provider,
			Config:       e.Config,
		})
	}
	return experts
}

// RetryOptions merges the retry section over the retrier defaults.
func (c *CouncilConfig) RetryOptions() retry.Options {
	opts := retry.DefaultOptions()
	if c.Orchestrator == nil || c.Orchestrator.Retry == nil {
		return opts
	}

	r := c.Orchestrator.Retry
	if r.MaxRetries != nil {
		opts.MaxRetries = *r.MaxRetries
	}
	if r.BaseDelay > 0 {
		opts.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		opts.MaxDelay = r.MaxDelay
	}
	if r.MaxTotalElapsed > 0 {
		opts.MaxTotalElapsed = r.MaxTotalElapsed
	}
	return opts
}

// EngineOptions maps the orchestrator section onto engine options. The config
// must have been validated.
func (c *CouncilConfig) EngineOptions(instanceName string) orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.InstanceName = instanceName
	opts.Retry = c.RetryOptions()
	if c.Orchestrator != nil {
		if c.Orchestrator.TurnDelay != nil {
			opts.TurnDelay = *c.Orchestrator.TurnDelay
		}
		if c.Orchestrator.HistoryWindow > 0 {
			opts.HistoryWindow = c.Orchestrator.HistoryWindow
		}
	}
	return opts
}

// DefaultMaxMessages is the cap for sessions created without one.
func (c *CouncilConfig) DefaultMaxMessages() int {
	if c.Orchestrator == nil || c.Orchestrator.DefaultMaxMessages <= 0 {
		return 20
	}
	return c.Orchestrator.DefaultMaxMessages
}

// Load reads and validates council.yml from the specified path
func Load(path string) (*CouncilConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config CouncilConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
