// Package unified is the single entry point to unimem: it classifies
// queries, picks sources, caches results, assembles context and routes
// writes through the bus.
package unified

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"unimem/internal/bus"
	"unimem/internal/logging"
	"unimem/internal/memory"
)

// Options configures a Memory facade.
type Options struct {
	Bus *bus.Bus

	// CacheTTL bounds how long a cached query is served. Zero disables
	// caching.
	CacheTTL time.Duration

	DefaultLimit     int
	MinScore         float64
	ContextMaxTokens int

	// Decayer and DecayInterval drive the maintenance loop.
	Decayer       Decayer
	DecayInterval time.Duration

	Logger *logging.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Request is a facade query.
type Request struct {
	Query string

	// Type is detected from Query when empty.
	Type QueryType

	// Limit and MinScore fall back to the facade defaults when zero.
	Limit    int
	MinScore float64

	// Sources overrides the routing for Type.
	Sources []memory.Source

	// TimeRange restricts results and bypasses the cache.
	TimeRange *memory.TimeRange
}

// MultiHopper is the reasoning capability used by MultiHopQuery.
type MultiHopper interface {
	MultiHop(ctx context.Context, text string, maxHops int, opts memory.QueryOptions) ([]memory.Result, error)
}

// Stats summarizes the facade and its sources.
type Stats struct {
	Sources   map[memory.Source]memory.Stats
	Available map[memory.Source]bool
	Cache     CacheStats
}

// dedupePrefix is how much content two results must share, case-folded, to
// count as the same memory.
const dedupePrefix = 100

// Memory is the unified memory facade.
type Memory struct {
	bus   *bus.Bus
	opts  Options
	log   *logging.Logger
	cache *queryCache
	maint *Maintainer

	closeOnce sync.Once
}

// New builds a facade over opts.Bus. Adapters are initialized lazily on the
// first query or write, or explicitly with Initialize.
func New(opts Options) (*Memory, error) {
	if opts.Bus == nil {
		return nil, errors.New("unified: bus is required")
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.ContextMaxTokens <= 0 {
		opts.ContextMaxTokens = 4000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cache, err := newQueryCache(opts.CacheTTL, opts.Now, opts.Logger.For(logging.CategoryCache))
	if err != nil {
		return nil, err
	}
	m := &Memory{
		bus:   opts.Bus,
		opts:  opts,
		log:   opts.Logger.For(logging.CategoryFacade),
		cache: cache,
	}
	if opts.Decayer != nil {
		m.maint = NewMaintainer(opts.Decayer, opts.DecayInterval, opts.Logger)
	}
	return m, nil
}

// Bus returns the underlying bus.
func (m *Memory) Bus() *bus.Bus { return m.bus }

// Maintainer returns the decay loop, or nil when no Decayer was configured.
func (m *Memory) Maintainer() *Maintainer { return m.maint }

// Initialize initializes every adapter not yet initialized and returns the
// availability of all sources.
func (m *Memory) Initialize(ctx context.Context) map[memory.Source]bool {
	return m.bus.Initialize(ctx)
}

func (m *Memory) ensureInitialized(ctx context.Context) {
	if !m.bus.Initialized() {
		m.log.Debug("Implicit initialization")
		m.bus.Initialize(ctx)
	}
}

// Query classifies the request, routes it to the available sources for its
// type and returns merged results. Identical queries within CacheTTL are
// answered from the cache without touching any adapter.
func (m *Memory) Query(ctx context.Context, req Request) []memory.Result {
	m.ensureInitialized(ctx)

	qt := req.Type
	if qt == "" {
		qt = DetectQueryType(req.Query)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = m.opts.DefaultLimit
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = m.opts.MinScore
	}

	sources := m.sourcesFor(qt, req.Sources)
	if len(sources) == 0 {
		m.log.Warn("No available source for %s query %q", qt, req.Query)
		return nil
	}

	cacheable := req.TimeRange == nil
	key := cacheKey(qt, req.Query, limit, minScore, req.Sources)
	if cacheable {
		if hit, ok := m.cache.get(key); ok {
			return hit
		}
	}

	timer := m.log.StartTimer("unified.Query")
	results := m.bus.QueryParallel(ctx, req.Query, sources, memory.QueryOptions{
		Limit:     2 * limit,
		MinScore:  minScore,
		TimeRange: req.TimeRange,
	})
	results = memory.Truncate(dedupeContent(results), limit)
	timer.Stop()

	m.log.Debug("%s query %q: %d results from %v", qt, req.Query, len(results), sources)
	if cacheable {
		m.cache.set(key, results)
	}
	return results
}

// sourcesFor resolves explicit or routed sources and keeps the available
// ones, preserving priority order.
func (m *Memory) sourcesFor(qt QueryType, explicit []memory.Source) []memory.Source {
	candidates := explicit
	if len(candidates) == 0 {
		candidates = SourcesForQueryType(qt)
	}
	if len(candidates) == 0 {
		candidates = m.bus.Sources()
	}
	var out []memory.Source
	for _, s := range candidates {
		if m.bus.Available(s) {
			out = append(out, s)
		}
	}
	return out
}

// dedupeContent keeps the first result for each case-folded content prefix.
func dedupeContent(results []memory.Result) []memory.Result {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		k := contentKey(r.Content)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func contentKey(content string) string {
	runes := []rune(strings.ToLower(content))
	if len(runes) > dedupePrefix {
		runes = runes[:dedupePrefix]
	}
	return string(runes)
}

// Write routes payload by type, unless it names its own destinations, and
// hands it to the bus. A successful write invalidates cached queries.
func (m *Memory) Write(ctx context.Context, payload memory.WritePayload) bus.WriteResult {
	if !payload.Type.Valid() {
		return bus.WriteResult{Err: fmt.Errorf("%w: unknown write type %q", memory.ErrWriteRejected, payload.Type)}
	}
	m.ensureInitialized(ctx)

	dests := payload.Destinations
	if len(dests) == 0 {
		dests = DestinationsFor(payload.Type)
	}
	res := m.bus.WriteToDestinations(ctx, payload, dests)
	if len(res.Written) > 0 {
		m.cache.purge()
	}
	return res
}

// MultiHopQuery runs a layered traversal through the reasoning source. When
// that source is missing, unavailable or fails, it degrades to a semantic
// query.
func (m *Memory) MultiHopQuery(ctx context.Context, query string, maxHops int) []memory.Result {
	m.ensureInitialized(ctx)

	if a, ok := m.bus.Adapter(memory.SourceHMLR); ok && m.bus.Available(memory.SourceHMLR) {
		if hopper, ok := a.(MultiHopper); ok {
			results, err := hopper.MultiHop(ctx, query, maxHops, memory.QueryOptions{
				Limit:    m.opts.DefaultLimit,
				MinScore: m.opts.MinScore,
			})
			if err == nil {
				return results
			}
			m.log.Warn("Multi-hop query failed, falling back to semantic: %v", err)
		}
	}
	return m.Query(ctx, Request{Query: query, Type: QuerySemantic})
}

// ClearCache drops every cached query and resets the hit counters.
func (m *Memory) ClearCache() {
	m.cache.clear()
}

// StartMaintenance starts the decay loop if one is configured.
func (m *Memory) StartMaintenance(ctx context.Context) {
	if m.maint != nil {
		m.maint.Start(ctx)
	}
}

// Stats reports per-source stats, availability and cache counters.
func (m *Memory) Stats(ctx context.Context) Stats {
	avail := make(map[memory.Source]bool)
	for _, s := range m.bus.Sources() {
		avail[s] = m.bus.Available(s)
	}
	return Stats{
		Sources:   m.bus.Stats(ctx),
		Available: avail,
		Cache:     m.cache.stats(),
	}
}

// Close stops maintenance and shuts the bus down. It is safe to call more
// than once.
func (m *Memory) Close(ctx context.Context) {
	m.closeOnce.Do(func() {
		if m.maint != nil {
			m.maint.Stop()
		}
		m.bus.Shutdown(ctx)
		m.cache.close()
		m.log.Info("Unified memory closed")
	})
}
