package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGovernorClassify(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		kind    StrategyKind
		maxHops int
	}{
		{"causal chain", "why did the deployment fail after the migration", StrategyMultiHop, 4},
		{"causal plus relational", "why is auth related to billing", StrategyMultiHop, 3},
		{"case insensitive", "WHY did it break? BECAUSE of the cache", StrategyMultiHop, HopLimit},
		{"temporal", "what happened before and during the outage", StrategyTemporal, 2},
		{"graph", "how are auth and billing related and connected", StrategyGraph, 2},
		{"single hop", "postgres port", StrategySingleHop, 1},
		{"one temporal word is not enough", "when is standup", StrategySingleHop, 1},
	}
	g := Governor{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := g.Classify(tt.query)
			assert.Equal(t, tt.kind, s.Kind)
			assert.Equal(t, tt.maxHops, s.MaxHops)
			assert.NotEmpty(t, s.Reason)
			assert.True(t, s.Confidence > 0 && s.Confidence <= 1)
		})
	}
}

func TestGovernorCapsHops(t *testing.T) {
	q := "why did this happen because of the cause and the reason, explain the result"
	assert.Equal(t, HopLimit, Governor{}.Classify(q).MaxHops)
	assert.Equal(t, 3, Governor{MaxHops: 3}.Classify(q).MaxHops)
}
