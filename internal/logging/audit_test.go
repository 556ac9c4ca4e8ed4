package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAudit(t *testing.T, data []byte) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var e AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		events = append(events, e)
	}
	return events
}

func TestAuditLoggerWritesFacts(t *testing.T) {
	var buf bytes.Buffer
	a := NewAudit(&buf)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	a.BusReady(map[string]bool{"graph-store": true, "markdown": true, "hmlr": false})
	a.MemoryStore("graph-store", "f-1", []string{"markdown"})
	a.MemorySync("graph-store", []string{"markdown", "learning"}, 3)
	a.LearningEvent(AuditLearningDeprecated, "l-1", `low "confidence"`)
	a.PersistFailed(CategoryLearning, errors.New("disk full"))

	events := decodeAudit(t, buf.Bytes())
	require.Len(t, events, 5)

	assert.Equal(t, AuditBusReady, events[0].EventType)
	assert.Equal(t, []string{"graph-store", "markdown"}, events[0].Targets)
	assert.Equal(t, "bus_ready(1700000000000, 2, 3).", events[0].Fact)

	assert.Equal(t, `memory_op(1700000000000, /memory_store, "graph-store", "markdown", true).`, events[1].Fact)
	assert.Equal(t, "f-1", events[1].Target)

	assert.Equal(t, float64(3), events[2].Fields["results"])

	assert.Equal(t, `learning_event(1700000000000, /learning_deprecated, "l-1", "low \"confidence\"").`, events[3].Fact)

	assert.False(t, events[4].Success)
	assert.Equal(t, "disk full", events[4].Error)
	assert.Equal(t, `error_event(1700000000000, /persist_failed, "learning", "disk full").`, events[4].Fact)
}

func TestAuditLoggerNilIsNoop(t *testing.T) {
	var a *AuditLogger
	assert.NotPanics(t, func() {
		a.MemoryStore("graph-store", "f-1", nil)
		a.BusReady(nil)
	})
	assert.NoError(t, a.Close())
}

func TestOpenAuditAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")

	a, err := OpenAudit(path)
	require.NoError(t, err)
	a.LearningEvent(AuditLearningCreated, "l-1", "first")
	require.NoError(t, a.Close())
	a.LearningEvent(AuditLearningCreated, "l-2", "after close")

	b, err := OpenAudit(path)
	require.NoError(t, err)
	b.LearningEvent(AuditLearningUpdated, "l-1", "evidence")
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	events := decodeAudit(t, data)
	require.Len(t, events, 2)
	assert.Equal(t, "l-1", events[0].Target)
	assert.Equal(t, AuditLearningUpdated, events[1].EventType)
	assert.Equal(t, 2, strings.Count(string(data), "# Audit log started"))
}

func TestEscapeString(t *testing.T) {
	assert.Equal(t, `a\"b\\c\nd\te`, escapeString("a\"b\\c\nd\te"))
	assert.Equal(t, "plain", escapeString("plain"))
}
