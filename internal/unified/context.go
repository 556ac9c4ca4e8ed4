package unified

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"unimem/internal/memory"
)

// contextCandidates is how many results GetContext considers.
const contextCandidates = 20

// Context is a token-bounded bundle of memories about a topic.
type Context struct {
	Topic       string
	Results     []memory.Result
	BySource    map[memory.Source]int
	TotalTokens int
}

// EstimateTokens approximates the token cost of text at four characters
// per token, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// GetContext gathers up to 20 semantic matches for topic and keeps them in
// score order while their estimated cost fits maxTokens. Zero maxTokens uses
// the configured budget.
func (m *Memory) GetContext(ctx context.Context, topic string, maxTokens int) Context {
	if maxTokens <= 0 {
		maxTokens = m.opts.ContextMaxTokens
	}
	candidates := m.Query(ctx, Request{Query: topic, Type: QuerySemantic, Limit: contextCandidates})

	out := Context{Topic: topic, BySource: make(map[memory.Source]int)}
	for _, r := range candidates {
		cost := EstimateTokens(r.Content)
		if out.TotalTokens+cost > maxTokens {
			break
		}
		out.Results = append(out.Results, r)
		out.BySource[r.Source]++
		out.TotalTokens += cost
	}
	m.log.Debug("Context for %q: %d/%d results, %d tokens", topic, len(out.Results), len(candidates), out.TotalTokens)
	return out
}

// Markdown renders the context for display or prompt injection.
func (c Context) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Context: %s\n\n", c.Topic)
	if len(c.Results) == 0 {
		b.WriteString("_No relevant memories._\n")
		return b.String()
	}

	sources := make([]string, 0, len(c.BySource))
	for s, n := range c.BySource {
		sources = append(sources, fmt.Sprintf("%s (%d)", s, n))
	}
	sort.Strings(sources)
	fmt.Fprintf(&b, "_%d memories, ~%d tokens from %s_\n\n", len(c.Results), c.TotalTokens, strings.Join(sources, ", "))

	for i, r := range c.Results {
		title := r.ID
		if t, ok := r.Metadata[memory.MetaType].(string); ok && t != "" {
			title = t
		}
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, title)
		fmt.Fprintf(&b, "- **Source:** %s\n- **Score:** %.2f\n", r.Source, r.Score)
		if trace, ok := r.Metadata[memory.MetaReasoning].(string); ok && trace != "" {
			fmt.Fprintf(&b, "- **Path:** %s\n", trace)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(r.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}
