package config

import "time"

// MemoryConfig configures the unified facade and bus.
type MemoryConfig struct {
	// CacheTTL bounds how long a cached query result is served (default: 5m).
	CacheTTL string `yaml:"cache_ttl"`

	DefaultLimit int     `yaml:"default_limit"`
	MinScore     float64 `yaml:"min_score"`

	// ContextMaxTokens is the default token budget for GetContext.
	ContextMaxTokens int `yaml:"context_max_tokens"`

	// CallTimeout caps a single adapter call inside a fan-out.
	// Empty or "0s" disables the cap.
	CallTimeout string `yaml:"call_timeout"`
}

// GetCacheTTL returns the cache TTL as a duration.
func (m MemoryConfig) GetCacheTTL() time.Duration {
	return parseDuration(m.CacheTTL, 5*time.Minute)
}

// GetCallTimeout returns the per-adapter call timeout.
func (m MemoryConfig) GetCallTimeout() time.Duration {
	return parseDuration(m.CallTimeout, 0)
}

// LearningConfig configures the learning ledger.
type LearningConfig struct {
	DatabasePath           string  `yaml:"database_path"`
	MaxLearnings           int     `yaml:"max_learnings"`
	DecayRate              float64 `yaml:"decay_rate"`
	AutoDeprecateThreshold int     `yaml:"auto_deprecate_threshold"`

	// DecayInterval is the cadence of the maintenance loop (default: 168h).
	// Each run charges every idle week again, so shorter cadences decay
	// faster.
	DecayInterval string `yaml:"decay_interval"`
}

// GetDecayInterval returns the decay cadence as a duration.
func (l LearningConfig) GetDecayInterval() time.Duration {
	return parseDuration(l.DecayInterval, 7*24*time.Hour)
}

// ReasoningConfig configures the multi-hop reasoning adapter.
type ReasoningConfig struct {
	// TemporalWindow is the backward slack allowed when chaining facts.
	TemporalWindow string `yaml:"temporal_window"`
	MaxHops        int    `yaml:"max_hops"`
}

// GetTemporalWindow returns the temporal window as a duration.
func (r ReasoningConfig) GetTemporalWindow() time.Duration {
	return parseDuration(r.TemporalWindow, 24*time.Hour)
}

// GraphConfig configures the graph-fact store.
type GraphConfig struct {
	DatabasePath string `yaml:"database_path"`
	Dimensions   int    `yaml:"dimensions"` // hashing embedder width
}

// MarkdownConfig configures the flat-file markdown store.
type MarkdownConfig struct {
	Root     string `yaml:"root"`
	Debounce string `yaml:"debounce"`
	Watch    bool   `yaml:"watch"`
}

// GetDebounce returns the watcher debounce as a duration.
func (m MarkdownConfig) GetDebounce() time.Duration {
	return parseDuration(m.Debounce, 300*time.Millisecond)
}
