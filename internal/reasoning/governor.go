// Package reasoning implements the multi-hop reasoning memory source: a
// governor that picks a query strategy, a layered graph traversal with
// temporal validity checks and per-hop score decay, and regex fact
// extraction for writes.
package reasoning

import (
	"fmt"
	"math"
	"strings"
)

// StrategyKind is the governor's classification of a query.
type StrategyKind string

const (
	StrategySingleHop StrategyKind = "single_hop"
	StrategyMultiHop  StrategyKind = "multi_hop"
	StrategyTemporal  StrategyKind = "temporal"
	StrategyGraph     StrategyKind = "graph"
)

// Strategy is the governor's decision. Confidence and Reason are advisory.
type Strategy struct {
	Kind       StrategyKind
	MaxHops    int
	Confidence float64
	Reason     string
}

// Indicator vocabularies, matched as case-insensitive substrings.
var (
	MultiHopIndicators = []string{
		"why", "because", "cause", "led to", "result", "reason",
		"explain", "how did", "after", "due to", "consequence", "therefore",
	}
	TemporalIndicators = []string{
		"when", "before", "during", "since", "until", "yesterday",
		"last", "recent", "timeline", "history", "earlier", "later",
	}
	GraphIndicators = []string{
		"related", "connected", "depends", "linked", "relationship",
		"between", "associated", "similar",
	}
)

// HopLimit is the most hops any strategy requests.
const HopLimit = 5

// Governor classifies queries.
type Governor struct {
	// MaxHops caps the multi-hop budget; zero means HopLimit.
	MaxHops int
}

// Classify picks a strategy for text.
func (g Governor) Classify(text string) Strategy {
	lower := strings.ToLower(text)
	multi := countHits(lower, MultiHopIndicators)
	temporal := countHits(lower, TemporalIndicators)
	graph := countHits(lower, GraphIndicators)

	switch {
	case multi >= 2 || (multi >= 1 && graph >= 1):
		limit := g.MaxHops
		if limit <= 0 || limit > HopLimit {
			limit = HopLimit
		}
		hops := 2 + multi
		if hops > limit {
			hops = limit
		}
		return Strategy{
			Kind:       StrategyMultiHop,
			MaxHops:    hops,
			Confidence: math.Min(0.95, 0.6+0.1*float64(multi)),
			Reason:     fmt.Sprintf("%d causal and %d relational indicators", multi, graph),
		}
	case temporal >= 2:
		return Strategy{
			Kind:       StrategyTemporal,
			MaxHops:    2,
			Confidence: math.Min(0.9, 0.5+0.1*float64(temporal)),
			Reason:     fmt.Sprintf("%d temporal indicators", temporal),
		}
	case graph >= 2:
		return Strategy{
			Kind:       StrategyGraph,
			MaxHops:    2,
			Confidence: math.Min(0.9, 0.5+0.1*float64(graph)),
			Reason:     fmt.Sprintf("%d relational indicators", graph),
		}
	default:
		return Strategy{
			Kind:       StrategySingleHop,
			MaxHops:    1,
			Confidence: 0.5,
			Reason:     "no strong multi-hop, temporal or relational signal",
		}
	}
}

func countHits(lower string, vocab []string) int {
	n := 0
	for _, w := range vocab {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}
