package unified

import (
	"strings"

	"unimem/internal/memory"
)

// QueryType selects which sources a query is routed to.
type QueryType string

const (
	QueryMultiHop QueryType = "multi-hop"
	QueryTemporal QueryType = "temporal"
	QueryGraph    QueryType = "graph"
	QueryKeyword  QueryType = "keyword"
	QuerySemantic QueryType = "semantic"
)

// Vocabularies for DetectQueryType. Matching is case-insensitive substring.
var (
	multiHopCues = []string{"why", "how did", "how does", "because", "led to", "caused", "what caused", "explain", "result of", "chain"}
	temporalCues = []string{"when", "before", "after", "yesterday", "last week", "last month", "recent", "timeline", "history", "since", "until"}
	graphCues    = []string{"related to", "relationship", "connected", "depends on", "dependency", "linked", "between", "associated"}
)

// keywordMaxWords is the longest query still treated as a keyword lookup.
const keywordMaxWords = 2

// DetectQueryType classifies text. Causal cues win over time cues, which win
// over relational cues. Quoted or very short queries are keyword lookups and
// everything else is semantic.
func DetectQueryType(text string) QueryType {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return QuerySemantic
	case containsAny(lower, multiHopCues):
		return QueryMultiHop
	case containsAny(lower, temporalCues):
		return QueryTemporal
	case containsAny(lower, graphCues):
		return QueryGraph
	case strings.Contains(lower, `"`) || len(strings.Fields(lower)) <= keywordMaxWords:
		return QueryKeyword
	default:
		return QuerySemantic
	}
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

var queryRoutes = map[QueryType][]memory.Source{
	QueryMultiHop: {memory.SourceHMLR, memory.SourceGraph, memory.SourceLearning},
	QueryTemporal: {memory.SourceGraph, memory.SourceMarkdown, memory.SourceHMLR},
	QueryGraph:    {memory.SourceHMLR, memory.SourceGraph},
	QueryKeyword:  {memory.SourceMarkdown, memory.SourceLearning, memory.SourceGraph},
	QuerySemantic: {memory.SourceGraph, memory.SourceMarkdown, memory.SourceLearning},
}

// SourcesForQueryType returns the priority list for t, or nil when t is
// unrouted and every registered source should be asked.
func SourcesForQueryType(t QueryType) []memory.Source {
	return append([]memory.Source(nil), queryRoutes[t]...)
}

var writeRoutes = map[memory.WriteType][]memory.Source{
	memory.WriteFact:        {memory.SourceGraph, memory.SourceMarkdown},
	memory.WriteEpisode:     {memory.SourceGraph},
	memory.WriteLearning:    {memory.SourceLearning, memory.SourceGraph},
	memory.WriteWin:         {memory.SourceMarkdown, memory.SourceGraph},
	memory.WriteDecision:    {memory.SourceMarkdown, memory.SourceHMLR, memory.SourceGraph},
	memory.WriteGoal:        {memory.SourceMarkdown, memory.SourceGraph},
	memory.WriteImprovement: {memory.SourceLearning, memory.SourceMarkdown},
}

// DestinationsFor returns the write routing for t. The first entry is the
// primary destination.
func DestinationsFor(t memory.WriteType) []memory.Source {
	return append([]memory.Source(nil), writeRoutes[t]...)
}
