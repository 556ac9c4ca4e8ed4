package markdown

import (
	"context"
	"fmt"
	"sync"

	"unimem/internal/logging"
	"unimem/internal/memory"
)

// FolderFor maps a write type to the folder its entries land in.
func FolderFor(t memory.WriteType) string {
	switch t {
	case memory.WriteWin:
		return FolderWins
	case memory.WriteDecision:
		return FolderDecisions
	case memory.WriteLearning, memory.WriteImprovement:
		return FolderLearnings
	default:
		return FolderContext
	}
}

// Adapter exposes a Store as the "markdown" memory source.
type Adapter struct {
	store *Store
	log   *logging.Logger

	mu        sync.Mutex
	available bool
}

// NewAdapter wraps store.
func NewAdapter(store *Store, log *logging.Logger) *Adapter {
	return &Adapter{store: store, log: log.For(logging.CategoryMarkdown)}
}

// Store returns the wrapped store.
func (a *Adapter) Store() *Store { return a.store }

// Source returns memory.SourceMarkdown.
func (a *Adapter) Source() memory.Source { return memory.SourceMarkdown }

// Initialize loads the notes directory once. A load failure leaves the
// adapter unavailable.
func (a *Adapter) Initialize(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available {
		return true
	}
	if err := a.store.Load(ctx); err != nil {
		a.log.Warn("Markdown store unavailable: %v", err)
		return false
	}
	a.available = true
	return true
}

// Available reports whether Initialize succeeded.
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// Query scores entries by term overlap. Results carry the entry body as
// content and the heading in the "title" metadata.
func (a *Adapter) Query(ctx context.Context, text string, opts memory.QueryOptions) []memory.Result {
	if !a.Available() {
		return nil
	}
	hits := a.store.Search(text, 0)
	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, entryResult(h.Entry, h.Score))
	}
	results = memory.FilterByTime(results, opts.TimeRange)
	results = memory.FilterByScore(results, opts.MinScore)
	return memory.Truncate(results, opts.Limit)
}

func entryResult(e Entry, score float64) memory.Result {
	typ := e.Meta[KeyType]
	if typ == "" {
		typ = e.Folder
	}
	meta := map[string]interface{}{
		memory.MetaType:      typ,
		memory.MetaTimestamp: e.CreatedAt,
		"title":              e.Title,
		"file":               e.File,
		"line":               e.Line,
	}
	if k := e.Meta[KeyKey]; k != "" {
		meta[memory.MetaKey] = k
	}
	content := e.Body
	if content == "" {
		content = e.Title
	}
	return memory.Result{
		ID:       e.ID,
		Source:   memory.SourceMarkdown,
		Content:  content,
		Score:    memory.ClampScore(score),
		Metadata: meta,
	}
}

// Write appends the payload as an entry in its type's folder. String and
// numeric metadata values become entry metadata lines.
func (a *Adapter) Write(ctx context.Context, p memory.WritePayload) (string, error) {
	if !a.Available() {
		return "", memory.ErrUnavailable
	}
	title := p.Key
	if title == "" {
		title = Title(p.Content)
	}
	if title == "" {
		return "", nil
	}

	meta := map[string]string{KeyType: string(p.Type)}
	if p.Key != "" {
		meta[KeyKey] = p.Key
	}
	for k, v := range p.Metadata {
		switch val := v.(type) {
		case string:
			meta[k] = val
		case int, int64, float64, bool:
			meta[k] = fmt.Sprint(val)
		}
	}

	e, err := a.store.Append(ctx, FolderFor(p.Type), title, meta, p.Content)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// Stats reports the entry count and the last load time.
func (a *Adapter) Stats(ctx context.Context) (memory.Stats, error) {
	return memory.Stats{Count: a.store.Count(), LastSync: a.store.LastSync()}, nil
}
