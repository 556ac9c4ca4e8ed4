// Package learning implements the evidence-weighted insight ledger.
// Learnings gain confidence from positive evidence, lose it from negative
// evidence and idleness, and are deprecated (never deleted) when they stop
// paying off or when the ledger outgrows its capacity.
package learning

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// MaxEvidence caps the evidence list kept per learning.
const MaxEvidence = 20

var (
	// ErrNotFound is returned for unknown learning ids.
	ErrNotFound = errors.New("learning not found")

	// ErrInvalid is returned when a new learning is missing required fields.
	ErrInvalid = errors.New("invalid learning")
)

// Status is the lifecycle state of a learning.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

// Outcome tags a piece of evidence.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
)

// Evidence is one observed outcome supporting or undermining a learning.
type Evidence struct {
	Outcome     Outcome   `json:"outcome"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// TriggerKind says how a trigger condition matches context.
type TriggerKind string

const (
	TriggerKeyword TriggerKind = "keyword"
	TriggerContext TriggerKind = "context"
)

// TriggerCondition fires when Value appears in the lowercased context.
type TriggerCondition struct {
	Kind   TriggerKind `json:"kind"`
	Value  string      `json:"value"`
	Weight float64     `json:"weight"`
}

// Entity is something a learning concerns, e.g. a skill or a mode.
type Entity struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Effect string  `json:"effect,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// Key returns the "type:id" index key for the entity.
func (e Entity) Key() string {
	return e.Type + ":" + e.ID
}

// Learning is a persisted insight.
type Learning struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type       string  `json:"type"`
	Insight    string  `json:"insight"`
	Confidence float64 `json:"confidence"`

	EvidenceCount int        `json:"evidence_count"`
	Evidence      []Evidence `json:"evidence"` // most recent first, <= MaxEvidence

	TriggerConditions []TriggerCondition `json:"trigger_conditions"`
	Entities          []Entity           `json:"entities"`

	ExpectedBenefit  float64  `json:"expected_benefit"`
	ActualBenefit    *float64 `json:"actual_benefit,omitempty"`
	ApplicationCount int      `json:"application_count"`

	Status Status `json:"status"`
}

// Active reports whether the learning is still in use.
func (l *Learning) Active() bool {
	return l.Status == StatusActive
}

// Benefit returns the observed benefit when known, else the expected one.
func (l *Learning) Benefit() float64 {
	if l.ActualBenefit != nil {
		return *l.ActualBenefit
	}
	return l.ExpectedBenefit
}

// EntitySetKey is the order-independent identity of the learning's entities.
func (l *Learning) EntitySetKey() string {
	return entitySetKey(l.Entities)
}

func (l *Learning) clone() Learning {
	c := *l
	c.Evidence = append([]Evidence(nil), l.Evidence...)
	c.TriggerConditions = append([]TriggerCondition(nil), l.TriggerConditions...)
	c.Entities = append([]Entity(nil), l.Entities...)
	if l.ActualBenefit != nil {
		v := *l.ActualBenefit
		c.ActualBenefit = &v
	}
	return c
}

func entitySetKey(entities []Entity) string {
	keys := make([]string, 0, len(entities))
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		k := e.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewLearning describes a learning to create.
type NewLearning struct {
	Type              string
	Insight           string
	Confidence        float64
	Evidence          []Evidence
	TriggerConditions []TriggerCondition
	Entities          []Entity
	ExpectedBenefit   float64
}

// Scored pairs a learning with its relevance to some context.
type Scored struct {
	Learning Learning
	Score    float64
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type   string
	Status Status
}

// Stats summarizes the ledger.
type Stats struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	Deprecated    int            `json:"deprecated"`
	AvgConfidence float64        `json:"avg_confidence"`
	ByType        map[string]int `json:"by_type"`
	LastSaved     time.Time      `json:"last_saved,omitempty"`
}
