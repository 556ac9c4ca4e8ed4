package graphstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	"unimem/internal/logging"
	"unimem/internal/memory"
)

// Adapter exposes a Store as the "graph-store" memory source.
type Adapter struct {
	store *Store
	log   *logging.Logger

	mu        sync.Mutex
	available bool
}

// NewAdapter wraps store.
func NewAdapter(store *Store, log *logging.Logger) *Adapter {
	return &Adapter{store: store, log: log.For(logging.CategoryGraph)}
}

// Store returns the wrapped graph store.
func (a *Adapter) Store() *Store { return a.store }

// Source returns memory.SourceGraph.
func (a *Adapter) Source() memory.Source { return memory.SourceGraph }

// Initialize connects the store once; a failed connect leaves the adapter
// unavailable.
func (a *Adapter) Initialize(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available {
		return true
	}
	if err := a.store.Connect(ctx); err != nil {
		a.log.Warn("Graph store unavailable: %v", err)
		return false
	}
	a.available = true
	return true
}

// Available reports whether the store is connected.
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// Query runs a semantic search over facts and maps matches to results.
func (a *Adapter) Query(ctx context.Context, text string, opts memory.QueryOptions) []memory.Result {
	if !a.Available() {
		return nil
	}
	matches, err := a.store.Search(ctx, text, opts.Limit)
	if err != nil {
		a.log.Error("Graph search failed: %v", err)
		return nil
	}
	results := make([]memory.Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, NodeResult(m.Node, m.Score))
	}
	results = memory.FilterByTime(results, opts.TimeRange)
	return memory.FilterByScore(results, opts.MinScore)
}

// NodeResult converts a fact to a result attributed to the graph store.
func NodeResult(n Node, score float64) memory.Result {
	meta := make(map[string]interface{}, len(n.Metadata)+2)
	for k, v := range n.Metadata {
		meta[k] = v
	}
	meta[memory.MetaKey] = n.Key
	meta[memory.MetaTimestamp] = n.CreatedAt
	return memory.Result{
		ID:       n.ID,
		Source:   memory.SourceGraph,
		Content:  n.Value,
		Score:    memory.ClampScore(score),
		Metadata: meta,
	}
}

// Write stores the payload as a fact. The key defaults to the payload type
// plus a content hash.
func (a *Adapter) Write(ctx context.Context, p memory.WritePayload) (string, error) {
	if !a.Available() {
		return "", memory.ErrUnavailable
	}
	key := p.Key
	if key == "" {
		sum := sha1.Sum([]byte(p.Content))
		key = fmt.Sprintf("%s:%s", p.Type, hex.EncodeToString(sum[:6]))
	}
	meta := make(map[string]interface{}, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta[memory.MetaType] = string(p.Type)

	node, err := a.store.AddFact(ctx, key, p.Content, meta)
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

// Stats reports the fact count and the newest fact time.
func (a *Adapter) Stats(ctx context.Context) (memory.Stats, error) {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return memory.Stats{}, err
	}
	return memory.Stats{Count: st.TotalMemories, LastSync: st.NewestMemory}, nil
}

// Disconnect closes the store.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.available = false
	a.mu.Unlock()
	return a.store.Disconnect(ctx)
}
