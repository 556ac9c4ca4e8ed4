package reasoning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unimem/internal/graphstore"
	"unimem/internal/logging"
	"unimem/internal/memory"

	"github.com/google/uuid"
)

// Graph is the graph-fact store capability the adapter reasons over.
type Graph interface {
	Connect(ctx context.Context) error
	Search(ctx context.Context, text string, limit int) ([]graphstore.Match, error)
	AddFact(ctx context.Context, key, value string, metadata map[string]interface{}) (graphstore.Node, error)
	Link(ctx context.Context, fromID, toID, relation string) error
	GetRelated(ctx context.Context, id string, depth int) ([]graphstore.Node, error)
}

// Options configures an Adapter.
type Options struct {
	Graph Graph

	// TemporalWindow is how far a chained fact may precede its source.
	TemporalWindow time.Duration

	// MaxHops caps multi-hop traversals (1-5).
	MaxHops int

	Logger *logging.Logger
}

// RelationSameBatch links facts extracted from one write.
const RelationSameBatch = "extracted_with"

// defaultWindow applies when no temporal window is configured.
const defaultWindow = 24 * time.Hour

// Adapter is the "hmlr" memory source.
type Adapter struct {
	graph    Graph
	governor Governor
	window   time.Duration
	log      *logging.Logger

	mu        sync.Mutex
	available bool
}

// NewAdapter builds the reasoning adapter over opts.Graph.
func NewAdapter(opts Options) *Adapter {
	if opts.TemporalWindow <= 0 {
		opts.TemporalWindow = defaultWindow
	}
	return &Adapter{
		graph:    opts.Graph,
		governor: Governor{MaxHops: opts.MaxHops},
		window:   opts.TemporalWindow,
		log:      opts.Logger.For(logging.CategoryReasoning),
	}
}

// Source returns memory.SourceHMLR.
func (a *Adapter) Source() memory.Source { return memory.SourceHMLR }

// Initialize connects the underlying graph (idempotent).
func (a *Adapter) Initialize(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available {
		return true
	}
	if a.graph == nil {
		a.log.Warn("Reasoning adapter has no graph store")
		return false
	}
	if err := a.graph.Connect(ctx); err != nil {
		a.log.Warn("Reasoning adapter unavailable: %v", err)
		return false
	}
	a.available = true
	return true
}

// Available reports whether the graph store is connected.
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// Query classifies text and runs a single-hop search or a layered traversal.
func (a *Adapter) Query(ctx context.Context, text string, opts memory.QueryOptions) []memory.Result {
	if !a.Available() {
		return nil
	}
	strategy := a.governor.Classify(text)
	a.log.Debug("Strategy %s (max hops %d): %s", strategy.Kind, strategy.MaxHops, strategy.Reason)

	var (
		results []memory.Result
		err     error
	)
	if strategy.Kind == StrategySingleHop {
		results, err = a.singleHop(ctx, text, opts)
	} else {
		results, err = a.traverse(ctx, text, strategy.MaxHops, opts)
	}
	if err != nil {
		a.log.Error("Reasoning query failed: %v", err)
		return nil
	}
	return results
}

// MultiHop forces a layered traversal regardless of the governor. maxHops
// outside 1-5 falls back to the governor's cap.
func (a *Adapter) MultiHop(ctx context.Context, text string, maxHops int, opts memory.QueryOptions) ([]memory.Result, error) {
	if !a.Available() {
		return nil, memory.ErrUnavailable
	}
	if maxHops <= 0 || maxHops > HopLimit {
		maxHops = a.governor.MaxHops
		if maxHops <= 0 || maxHops > HopLimit {
			maxHops = HopLimit
		}
	}
	return a.traverse(ctx, text, maxHops, opts)
}

// Write extracts facts from the payload content, stores each one and links
// the batch together. It returns the batch id, or "" when nothing was
// extracted.
func (a *Adapter) Write(ctx context.Context, p memory.WritePayload) (string, error) {
	if !a.Available() {
		return "", memory.ErrUnavailable
	}
	facts := Extract(p.Content)
	if len(facts) == 0 {
		a.log.Debug("No facts extracted from %d chars", len(p.Content))
		return "", nil
	}

	batch := uuid.New().String()
	var stored []graphstore.Node
	var firstErr error
	for _, f := range facts {
		node, err := a.graph.AddFact(ctx, f.Kind, f.Value, map[string]interface{}{
			memory.MetaType: f.Kind,
			"source":        f.Source,
			"confidence":    f.Confidence,
			"batch":         batch,
			"payload_type":  string(p.Type),
		})
		if err != nil {
			a.log.Warn("Failed to store extracted %s fact: %v", f.Kind, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stored = append(stored, node)
	}
	if len(stored) == 0 {
		return "", fmt.Errorf("failed to store extracted facts: %w", firstErr)
	}
	for i := 1; i < len(stored); i++ {
		if err := a.graph.Link(ctx, stored[i-1].ID, stored[i].ID, RelationSameBatch); err != nil {
			a.log.Warn("Failed to link batch facts: %v", err)
		}
	}
	a.log.Info("Stored %d extracted facts in batch %s", len(stored), batch)
	return batch, nil
}
