package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// AuditEventType names an audit record. Each maps to one fact predicate.
type AuditEventType string

const (
	// Bus lifecycle -> bus_ready/3
	AuditBusReady AuditEventType = "bus_ready"

	// Replication -> memory_op/5
	AuditMemoryStore AuditEventType = "memory_store"
	AuditMemorySync  AuditEventType = "memory_sync"

	// Learning ledger -> learning_event/4
	AuditLearningCreated    AuditEventType = "learning_created"
	AuditLearningUpdated    AuditEventType = "learning_updated"
	AuditLearningDeprecated AuditEventType = "learning_deprecated"

	// Failures -> error_event/4
	AuditPersistFailed AuditEventType = "persist_failed"
)

// AuditEvent is one JSON line of the audit trail. Fact repeats the event as
// a single datalog-style fact so the trail can be grepped or loaded as facts.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	EventType AuditEventType         `json:"event"`
	Category  string                 `json:"cat,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Targets   []string               `json:"targets,omitempty"`
	Target    string                 `json:"target,omitempty"` // id of the affected record
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Fact      string                 `json:"fact"`
}

// AuditLogger appends audit events as JSON lines. A nil *AuditLogger
// discards everything.
type AuditLogger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// OpenAudit opens (or creates) an append-only audit file.
func OpenAudit(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := NewAudit(file)
	a.closer = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	if _, err := io.WriteString(file, header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write audit header: %w", err)
	}
	return a, nil
}

// NewAudit writes audit events to w.
func NewAudit(w io.Writer) *AuditLogger {
	return &AuditLogger{w: w, now: time.Now}
}

// Close closes the underlying file, if OpenAudit created one.
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.closer.Close()
	a.closer = nil
	a.w = io.Discard
	return err
}

// Log writes one event.
func (a *AuditLogger) Log(event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = a.now().UnixMilli()
	}
	event.Fact = generateFact(event)

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.w.Write(append(data, '\n'))
}

// generateFact renders the event as a fact line.
func generateFact(e AuditEvent) string {
	switch e.EventType {
	case AuditBusReady:
		return fmt.Sprintf("bus_ready(%d, %d, %d).", e.Timestamp, intField(e.Fields, "available"), intField(e.Fields, "registered"))

	case AuditMemoryStore, AuditMemorySync:
		return fmt.Sprintf("memory_op(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, escapeString(e.Source), escapeString(strings.Join(e.Targets, ",")), e.Success)

	case AuditLearningCreated, AuditLearningUpdated, AuditLearningDeprecated:
		return fmt.Sprintf("learning_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, escapeString(e.Target), escapeString(e.Message))

	case AuditPersistFailed:
		return fmt.Sprintf("error_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Error))

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, escapeString(e.Message), e.Success)
	}
}

func intField(fields map[string]interface{}, key string) int {
	n, _ := fields[key].(int)
	return n
}

func escapeString(s string) string {
	// Escape quotes, backslashes and control whitespace for fact strings.
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// BusReady records the availability of every source after initialization.
func (a *AuditLogger) BusReady(available map[string]bool) {
	up := make([]string, 0, len(available))
	for src, ok := range available {
		if ok {
			up = append(up, src)
		}
	}
	sort.Strings(up)
	a.Log(AuditEvent{
		EventType: AuditBusReady,
		Category:  string(CategoryBus),
		Targets:   up,
		Success:   len(up) > 0,
		Fields:    map[string]interface{}{"available": len(up), "registered": len(available)},
		Message:   fmt.Sprintf("Bus ready: %d/%d sources", len(up), len(available)),
	})
}

// MemoryStore records a primary write and the secondaries it fans out to.
func (a *AuditLogger) MemoryStore(source, id string, targets []string) {
	a.Log(AuditEvent{
		EventType: AuditMemoryStore,
		Category:  string(CategoryBus),
		Source:    source,
		Target:    id,
		Targets:   targets,
		Success:   true,
		Message:   fmt.Sprintf("Stored %s in %s, replicating to %v", id, source, targets),
	})
}

// MemorySync records a sync broadcast.
func (a *AuditLogger) MemorySync(source string, targets []string, results int) {
	a.Log(AuditEvent{
		EventType: AuditMemorySync,
		Category:  string(CategoryBus),
		Source:    source,
		Targets:   targets,
		Success:   true,
		Fields:    map[string]interface{}{"results": results},
		Message:   fmt.Sprintf("Sync from %s: %d results for %v", source, results, targets),
	})
}

// LearningEvent records a ledger transition.
func (a *AuditLogger) LearningEvent(eventType AuditEventType, id, detail string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryLearning),
		Target:    id,
		Success:   true,
		Message:   detail,
	})
}

// PersistFailed records a failed save.
func (a *AuditLogger) PersistFailed(category Category, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: AuditPersistFailed,
		Category:  string(category),
		Success:   false,
		Error:     msg,
		Message:   fmt.Sprintf("Persist failed in %s: %s", category, msg),
	})
}
