package reasoning

import (
	"context"
	"math"
	"strings"

	"unimem/internal/graphstore"
	"unimem/internal/memory"
)

// HopDecay is the score multiplier applied per hop.
const HopDecay = 0.7

// frontierItem is a node admitted to the traversal.
type frontierItem struct {
	node      graphstore.Node
	hop       int
	rootScore float64
	score     float64
	chain     []string
}

// traverse runs the layered expansion: layer 0 is the top ceil(limit/2)
// search matches, each later layer the unvisited, temporally valid
// neighbors of the previous one. It stops early when a hop admits nothing.
func (a *Adapter) traverse(ctx context.Context, text string, maxHops int, opts memory.QueryOptions) ([]memory.Result, error) {
	timer := a.log.StartTimer("reasoning.traverse")
	defer timer.Stop()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	seeds := (limit + 1) / 2

	matches, err := a.graph.Search(ctx, text, seeds)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]bool)
	var admitted []frontierItem
	var layer []frontierItem
	for _, m := range matches {
		score := memory.ClampScore(m.Score)
		if score < opts.MinScore || visited[m.Node.ID] {
			continue
		}
		visited[m.Node.ID] = true
		item := frontierItem{node: m.Node, rootScore: score, score: score, chain: []string{label(m.Node)}}
		layer = append(layer, item)
	}
	admitted = append(admitted, layer...)

	for hop := 1; hop <= maxHops && len(layer) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []frontierItem
		for _, from := range layer {
			related, err := a.graph.GetRelated(ctx, from.node.ID, 1)
			if err != nil {
				a.log.Warn("Neighbors of %s unavailable: %v", from.node.ID, err)
				continue
			}
			for _, cand := range related {
				if visited[cand.ID] {
					continue
				}
				if !a.temporallyValid(from.node, cand) {
					a.log.Debug("Hop %d: %s precedes %s beyond window", hop, cand.ID, from.node.ID)
					continue
				}
				score := from.rootScore * math.Pow(HopDecay, float64(hop))
				if score < opts.MinScore {
					continue
				}
				visited[cand.ID] = true
				chain := append(append([]string(nil), from.chain...), label(cand))
				next = append(next, frontierItem{node: cand, hop: hop, rootScore: from.rootScore, score: score, chain: chain})
			}
		}
		if len(next) == 0 {
			a.log.Debug("Traversal stopped at hop %d: nothing admitted", hop)
			break
		}
		admitted = append(admitted, next...)
		layer = next
	}

	results := make([]memory.Result, 0, len(admitted))
	for _, item := range admitted {
		results = append(results, itemResult(item))
	}
	results = memory.FilterByTime(results, opts.TimeRange)
	memory.SortByScore(results)
	return memory.Truncate(results, limit), nil
}

// temporallyValid admits cand unless it precedes from by more than the
// temporal window. Later candidates are always valid.
func (a *Adapter) temporallyValid(from, cand graphstore.Node) bool {
	return cand.CreatedAt.Sub(from.CreatedAt) >= -a.window
}

func label(n graphstore.Node) string {
	if n.Key != "" {
		return n.Key
	}
	return n.ID
}

func itemResult(item frontierItem) memory.Result {
	r := graphstore.NodeResult(item.node, item.score)
	r.Source = memory.SourceHMLR
	r.Metadata[memory.MetaHops] = item.hop
	r.Metadata[memory.MetaReasoning] = strings.Join(item.chain, " -> ")
	r.Metadata[memory.MetaNode] = item.node.ID
	return r
}

// singleHop is a plain graph search.
func (a *Adapter) singleHop(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Result, error) {
	matches, err := a.graph.Search(ctx, text, opts.Limit)
	if err != nil {
		return nil, err
	}
	results := make([]memory.Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, itemResult(frontierItem{node: m.Node, score: memory.ClampScore(m.Score), chain: []string{label(m.Node)}}))
	}
	results = memory.FilterByTime(results, opts.TimeRange)
	return memory.FilterByScore(results, opts.MinScore), nil
}
