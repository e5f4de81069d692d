package llm

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// KnownTasks are the routing keys the pipeline uses.
var KnownTasks = []string{"enrich", "daily", "weekly", "monthly", "yearly", "query"}

// ValidStrategies are the accepted [strategy] mode values.
var ValidStrategies = []string{"economy", "standard", "premium", "adaptive", "fixed"}

// TaskConfig is the per-task routing entry.
type TaskConfig struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	EscalationModel string `toml:"escalation_model"`
	MaxTokens       int    `toml:"max_tokens"`
}

// ProviderEntry holds per-provider credentials.
type ProviderEntry struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// Config is the parsed providers.toml.
type Config struct {
	Strategy struct {
		Mode string `toml:"mode"`
	} `toml:"strategy"`
	Providers map[string]ProviderEntry `toml:"providers"`
	Tasks     map[string]TaskConfig    `toml:"tasks"`
}

// LoadConfig parses a provider configuration file and fails fast on an
// invalid one.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse provider config %s: %w", path, err)
	}
	if cfg.Strategy.Mode == "" {
		cfg.Strategy.Mode = "fixed"
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid provider config %s:\n  %s", path, strings.Join(errs, "\n  "))
	}
	return &cfg, nil
}

// StrategyMode returns the configured strategy.
func (c *Config) StrategyMode() string { return c.Strategy.Mode }

// TaskConfigFor returns the routing entry for task, falling back to
// "default".
func (c *Config) TaskConfigFor(task string) (TaskConfig, error) {
	if tc, ok := c.Tasks[task]; ok {
		return tc, nil
	}
	if tc, ok := c.Tasks["default"]; ok {
		return tc, nil
	}
	return TaskConfig{}, fmt.Errorf("no config for task %q and no default defined", task)
}

// ProviderEntryFor returns the credentials for a provider.
func (c *Config) ProviderEntryFor(name string) (ProviderEntry, error) {
	entry, ok := c.Providers[name]
	if !ok {
		return ProviderEntry{}, fmt.Errorf("provider %q not configured", name)
	}
	return entry, nil
}

// Validate returns every configuration problem found. An empty slice means
// the config is usable.
func (c *Config) Validate() []string {
	var errs []string

	valid := false
	for _, s := range ValidStrategies {
		if c.Strategy.Mode == s {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, fmt.Sprintf("invalid strategy mode %q, must be one of: %s",
			c.Strategy.Mode, strings.Join(ValidStrategies, ", ")))
	}

	for name, tc := range c.Tasks {
		if name == "default" {
			continue
		}
		if _, ok := c.Providers[tc.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("task %q references provider %q which is not defined in [providers]",
				name, tc.Provider))
		}
	}

	// Local OpenAI-compatible servers commonly run without a key.
	for name, entry := range c.Providers {
		if name == "custom" {
			continue
		}
		if entry.APIKey == "" {
			errs = append(errs, fmt.Sprintf("provider %q has empty api_key", name))
		}
	}
	return errs
}
