package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCategoryLoggerNamesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	root := FromZap(zap.New(core))

	root.For(CategoryBus).Info("registered %d adapters", 3)
	root.For(CategoryLearning).Warn("persist failed: %v", "disk full")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "bus", entries[0].LoggerName)
	assert.Equal(t, "registered 3 adapters", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "learning", entries[1].LoggerName)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	root := FromZap(zap.New(core))
	root.opts = Options{DebugMode: true, Categories: map[string]bool{"cache": false}}

	assert.False(t, root.IsCategoryEnabled(CategoryCache))
	assert.True(t, root.IsCategoryEnabled(CategoryBus), "unlisted categories default to enabled")

	root.For(CategoryCache).Info("hit")
	root.For(CategoryBus).Info("ok")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "ok", logs.All()[0].Message)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing %d", 1)
	l.For(CategoryBoot).Error("still nothing")
	assert.NoError(t, l.Sync())
	assert.Equal(t, Category(""), l.Category())
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unimem.log")

	l, err := New(Options{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	l.For(CategoryFacade).Info("query type=%s", "semantic")
	l.For(CategoryFacade).Debug("suppressed at info level")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "query type=semantic")
	assert.Contains(t, content, `"logger":"facade"`)
	assert.False(t, strings.Contains(content, "suppressed"))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestTimerThreshold(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).For(CategoryBus)

	timer := l.StartTimer("QueryParallel")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.Greater(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Contains(t, logs.All()[0].Message, "QueryParallel took")
}
