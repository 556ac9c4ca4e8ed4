package learning

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"unimem/internal/logging"
	"unimem/internal/memory"
)

// Metadata keys read by Adapter.Write.
const (
	MetaEntities        = "entities"
	MetaTriggers        = "triggers"
	MetaConfidence      = "confidence"
	MetaExpectedBenefit = "expected_benefit"
	MetaLearningType    = "learning_type"
)

const (
	defaultConfidence = 0.5
	defaultBenefit    = 0.5
	derivedWeight     = 0.5
	explicitWeight    = 1.0
	maxDerivedTerms   = 6
)

// Adapter exposes a Store as the "learning" memory source.
type Adapter struct {
	store *Store
	log   *logging.Logger

	mu        sync.Mutex
	available bool
}

// NewAdapter wraps store.
func NewAdapter(store *Store, log *logging.Logger) *Adapter {
	return &Adapter{store: store, log: log.For(logging.CategoryLearning)}
}

// Store returns the underlying ledger.
func (a *Adapter) Store() *Store { return a.store }

// Source implements memory.Adapter.
func (a *Adapter) Source() memory.Source { return memory.SourceLearning }

// Initialize loads the ledger once.
func (a *Adapter) Initialize(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available {
		return true
	}
	if a.store == nil {
		return false
	}
	if !a.store.Loaded() {
		if err := a.store.Load(ctx); err != nil {
			a.log.Warn("Learning adapter unavailable: %v", err)
			return false
		}
	}
	a.available = true
	return true
}

// Available implements memory.Adapter.
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// Query implements memory.Adapter using trigger relevance.
func (a *Adapter) Query(ctx context.Context, text string, opts memory.QueryOptions) []memory.Result {
	if !a.Available() {
		return nil
	}
	scored := a.store.FindRelevant(text, opts.Limit)
	results := make([]memory.Result, 0, len(scored))
	for _, s := range scored {
		l := s.Learning
		results = append(results, memory.Result{
			ID:      l.ID,
			Source:  memory.SourceLearning,
			Content: l.Insight,
			Score:   memory.ClampScore(s.Score),
			Metadata: map[string]interface{}{
				memory.MetaType:      l.Type,
				memory.MetaTimestamp: l.CreatedAt,
				"confidence":         l.Confidence,
				"evidence_count":     l.EvidenceCount,
			},
		})
	}
	results = memory.FilterByTime(results, opts.TimeRange)
	return memory.FilterByScore(results, opts.MinScore)
}

// Write implements memory.Writer. Only learning and improvement payloads are
// accepted; anything else is declined.
func (a *Adapter) Write(ctx context.Context, p memory.WritePayload) (string, error) {
	if p.Type != memory.WriteLearning && p.Type != memory.WriteImprovement {
		return "", nil
	}
	if strings.TrimSpace(p.Content) == "" {
		return "", nil
	}
	if !a.Available() {
		return "", memory.ErrUnavailable
	}

	typ := string(p.Type)
	if v, ok := p.Metadata[MetaLearningType].(string); ok && v != "" {
		typ = v
	}

	entities := entitiesFromMetadata(p.Metadata[MetaEntities])
	if len(entities) == 0 {
		id := p.Key
		if id == "" {
			id = contentHash(p.Content)
		}
		entities = []Entity{{Type: string(p.Type), ID: id}}
	}

	triggers := triggersFromMetadata(p.Metadata[MetaTriggers])
	if len(triggers) == 0 {
		for _, term := range keywords(p.Content, maxDerivedTerms) {
			triggers = append(triggers, TriggerCondition{Kind: TriggerKeyword, Value: term, Weight: derivedWeight})
		}
	}

	l, err := a.store.Create(ctx, NewLearning{
		Type:              typ,
		Insight:           p.Content,
		Confidence:        floatOr(p.Metadata[MetaConfidence], defaultConfidence),
		Evidence:          []Evidence{{Outcome: OutcomePositive, Description: "recorded", Source: "write", ObservedAt: a.store.opts.Now()}},
		TriggerConditions: triggers,
		Entities:          entities,
		ExpectedBenefit:   floatOr(p.Metadata[MetaExpectedBenefit], defaultBenefit),
	})
	if err != nil {
		return "", fmt.Errorf("failed to record learning: %w", err)
	}
	return l.ID, nil
}

// Stats implements memory.StatsProvider.
func (a *Adapter) Stats(ctx context.Context) (memory.Stats, error) {
	st := a.store.Stats()
	return memory.Stats{Count: st.Active, LastSync: st.LastSaved}, nil
}

// Disconnect flushes and closes the ledger.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.available = false
	a.mu.Unlock()
	return a.store.Close(ctx)
}

func entitiesFromMetadata(v interface{}) []Entity {
	switch es := v.(type) {
	case []Entity:
		return es
	case []interface{}:
		var out []Entity
		for _, item := range es {
			switch e := item.(type) {
			case Entity:
				out = append(out, e)
			case map[string]interface{}:
				typ, _ := e["type"].(string)
				id, _ := e["id"].(string)
				if typ == "" || id == "" {
					continue
				}
				effect, _ := e["effect"].(string)
				out = append(out, Entity{Type: typ, ID: id, Effect: effect, Weight: floatOr(e["weight"], 0)})
			case string:
				if typ, id, ok := strings.Cut(e, ":"); ok && typ != "" && id != "" {
					out = append(out, Entity{Type: typ, ID: id})
				}
			}
		}
		return out
	case string:
		return entitiesFromMetadata(strings.Split(es, ","))
	case []string:
		var out []Entity
		for _, s := range es {
			s = strings.TrimSpace(s)
			if typ, id, ok := strings.Cut(s, ":"); ok && typ != "" && id != "" {
				out = append(out, Entity{Type: typ, ID: id})
			}
		}
		return out
	}
	return nil
}

func triggersFromMetadata(v interface{}) []TriggerCondition {
	var values []string
	switch ts := v.(type) {
	case []TriggerCondition:
		return ts
	case []string:
		values = ts
	case []interface{}:
		for _, item := range ts {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	case string:
		values = strings.Split(ts, ",")
	}
	var out []TriggerCondition
	for _, s := range values {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, TriggerCondition{Kind: TriggerKeyword, Value: s, Weight: explicitWeight})
		}
	}
	return out
}

func floatOr(v interface{}, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return fallback
}

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true,
	"before": true, "being": true, "does": true, "from": true, "have": true,
	"into": true, "just": true, "more": true, "only": true, "should": true,
	"some": true, "than": true, "that": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "this": true,
	"when": true, "where": true, "which": true, "will": true, "with": true,
	"would": true, "your": true, "what": true, "were": true, "very": true,
}

// keywords returns up to n distinct lowercase terms of four or more letters.
func keywords(text string, n int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len(f) < 4 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == n {
			break
		}
	}
	return out
}

func contentHash(s string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(s))))
	return hex.EncodeToString(sum[:8])
}
