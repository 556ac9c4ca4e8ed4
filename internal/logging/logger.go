// Package logging provides config-driven categorized logging for unimem.
// Each subsystem logs through its own category so noisy components can be
// silenced independently. Loggers are constructed once and passed down; there
// is no package-level logger state.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and shutdown
	CategoryBus       Category = "bus"       // Adapter registry, fan-out, replication
	CategoryLearning  Category = "learning"  // Learning ledger mutations and persistence
	CategoryReasoning Category = "reasoning" // Governor decisions, traversal, extraction
	CategoryGraph     Category = "graph"     // Graph-fact store
	CategoryMarkdown  Category = "markdown"  // Flat-file markdown store and watcher
	CategoryFacade    Category = "facade"    // Query classification, routing, context assembly
	CategoryCache     Category = "cache"     // Query cache hits/misses
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, text
	File       string          // empty = stderr
	DebugMode  bool            // forces debug level and enables category filtering
	Categories map[string]bool // per-category toggles (debug mode only)
}

// Logger is a category-scoped printf-style logger backed by zap.
// A nil *Logger is valid and discards everything.
type Logger struct {
	category Category
	base     *zap.Logger
	sugar    *zap.SugaredLogger
	opts     Options
}

// New builds a root logger from options.
func New(opts Options) (*Logger, error) {
	var zc zap.Config
	if strings.EqualFold(opts.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}

	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.DebugMode {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if opts.File != "" {
		zc.OutputPaths = []string{opts.File}
		zc.ErrorOutputPaths = []string{opts.File}
	}

	base, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{base: base, sugar: base.Sugar(), opts: opts}, nil
}

// FromZap wraps an existing zap logger (tests use zaptest/observer cores).
func FromZap(base *zap.Logger) *Logger {
	return &Logger{base: base, sugar: base.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return FromZap(zap.NewNop())
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled.
// Outside debug mode every category is enabled and the level decides.
func (l *Logger) IsCategoryEnabled(category Category) bool {
	if l == nil || !l.opts.DebugMode || l.opts.Categories == nil {
		return true
	}
	enabled, exists := l.opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// For returns a logger for the given category.
// Disabled categories get a no-op logger.
func (l *Logger) For(category Category) *Logger {
	if l == nil || l.base == nil {
		return nil
	}
	if !l.IsCategoryEnabled(category) {
		return &Logger{category: category, base: zap.NewNop(), sugar: zap.NewNop().Sugar(), opts: l.opts}
	}
	named := l.base.Named(string(category))
	return &Logger{category: category, base: named, sugar: named.Sugar(), opts: l.opts}
}

// Category returns the logger's category ("" for the root logger).
func (l *Logger) Category() Category {
	if l == nil {
		return ""
	}
	return l.category
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered entries (call at shutdown).
func (l *Logger) Sync() error {
	if l == nil || l.base == nil {
		return nil
	}
	return l.base.Sync()
}

// Timer helps measure operation duration
type Timer struct {
	logger *Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation
func (l *Logger) StartTimer(operation string) *Timer {
	return &Timer{logger: l, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		t.logger.Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
