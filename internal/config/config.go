package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all unimem configuration.
type Config struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`

	Memory    MemoryConfig    `yaml:"memory"`
	Learning  LearningConfig  `yaml:"learning"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Graph     GraphConfig     `yaml:"graph"`
	Markdown  MarkdownConfig  `yaml:"markdown"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "unimem",
		DataDir: ".unimem",

		Memory: MemoryConfig{
			CacheTTL:         "5m",
			DefaultLimit:     10,
			MinScore:         0.1,
			ContextMaxTokens: 4000,
			CallTimeout:      "10s",
		},

		Learning: LearningConfig{
			DatabasePath:           "learnings.db",
			MaxLearnings:           1000,
			DecayRate:              0.05,
			AutoDeprecateThreshold: 10,
			DecayInterval:          "168h",
		},

		Reasoning: ReasoningConfig{
			TemporalWindow: "24h",
			MaxHops:        5,
		},

		Graph: GraphConfig{
			DatabasePath: "graph.db",
			Dimensions:   256,
		},

		Markdown: MarkdownConfig{
			Root:     "memory",
			Debounce: "300ms",
			Watch:    true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("UNIMEM_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if root := os.Getenv("UNIMEM_MARKDOWN_ROOT"); root != "" {
		c.Markdown.Root = root
	}
	if ttl := os.Getenv("UNIMEM_CACHE_TTL"); ttl != "" {
		c.Memory.CacheTTL = ttl
	}
	if level := os.Getenv("UNIMEM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ResolvePath joins relative paths onto DataDir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Memory.DefaultLimit <= 0 {
		return fmt.Errorf("memory.default_limit must be positive, got %d", c.Memory.DefaultLimit)
	}
	if c.Memory.MinScore < 0 || c.Memory.MinScore > 1 {
		return fmt.Errorf("memory.min_score must be within [0,1], got %v", c.Memory.MinScore)
	}
	if c.Learning.MaxLearnings <= 0 {
		return fmt.Errorf("learning.max_learnings must be positive, got %d", c.Learning.MaxLearnings)
	}
	if c.Learning.DecayRate < 0 || c.Learning.DecayRate > 1 {
		return fmt.Errorf("learning.decay_rate must be within [0,1], got %v", c.Learning.DecayRate)
	}
	if c.Reasoning.MaxHops < 1 || c.Reasoning.MaxHops > 5 {
		return fmt.Errorf("reasoning.max_hops must be within [1,5], got %d", c.Reasoning.MaxHops)
	}
	for name, raw := range map[string]string{
		"memory.cache_ttl":          c.Memory.CacheTTL,
		"memory.call_timeout":       c.Memory.CallTimeout,
		"learning.decay_interval":   c.Learning.DecayInterval,
		"reasoning.temporal_window": c.Reasoning.TemporalWindow,
		"markdown.debounce":         c.Markdown.Debounce,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
