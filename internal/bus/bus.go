// Package bus owns the memory adapters: their lifecycle, parallel query
// fan-out with failure isolation, and tiered write replication.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"unimem/internal/logging"
	"unimem/internal/memory"

	"golang.org/x/sync/errgroup"
)

// ErrTimeout is recorded when an adapter call exceeds CallTimeout.
var ErrTimeout = errors.New("adapter call timed out")

// Options configures a Bus.
type Options struct {
	// CallTimeout bounds every individual adapter call. Zero disables it.
	CallTimeout time.Duration

	Observer Observer
	Logger   *logging.Logger
}

// Bus routes queries and writes to registered adapters.
type Bus struct {
	opts Options
	log  *logging.Logger

	mu          sync.RWMutex
	adapters    map[memory.Source]memory.Adapter
	order       []memory.Source
	available   map[memory.Source]bool
	initialized map[memory.Source]bool

	initMu sync.Mutex
}

// New creates an empty bus.
func New(opts Options) *Bus {
	return &Bus{
		opts:        opts,
		log:         opts.Logger.For(logging.CategoryBus),
		adapters:    make(map[memory.Source]memory.Adapter),
		available:   make(map[memory.Source]bool),
		initialized: make(map[memory.Source]bool),
	}
}

// Register adds or replaces the adapter for its source. It does not
// initialize it.
func (b *Bus) Register(a memory.Adapter) {
	src := a.Source()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.adapters[src]; !exists {
		b.order = append(b.order, src)
	}
	b.adapters[src] = a
	b.available[src] = false
	delete(b.initialized, src)
	b.log.Debug("Registered adapter %s", src)
}

// Unregister removes the adapter for src and reports whether one existed.
func (b *Bus) Unregister(src memory.Source) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.adapters[src]; !ok {
		return false
	}
	delete(b.adapters, src)
	delete(b.available, src)
	delete(b.initialized, src)
	for i, s := range b.order {
		if s == src {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.log.Debug("Unregistered adapter %s", src)
	return true
}

// Sources lists registered sources in registration order.
func (b *Bus) Sources() []memory.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]memory.Source(nil), b.order...)
}

// Available reports whether src initialized successfully.
func (b *Bus) Available(src memory.Source) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available[src]
}

// AvailableSources lists available sources in registration order.
func (b *Bus) AvailableSources() []memory.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []memory.Source
	for _, s := range b.order {
		if b.available[s] {
			out = append(out, s)
		}
	}
	return out
}

// Adapter returns the adapter registered for src.
func (b *Bus) Adapter(src memory.Source) (memory.Adapter, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.adapters[src]
	return a, ok
}

// Initialized reports whether every registered adapter has been initialized.
func (b *Bus) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.order {
		if !b.initialized[s] {
			return false
		}
	}
	return true
}

// Initialize concurrently initializes every adapter not yet initialized and
// records availability. A failing adapter is only marked unavailable. It
// returns the availability of all registered sources and emits EventReady.
func (b *Bus) Initialize(ctx context.Context) map[memory.Source]bool {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	timer := b.log.StartTimer("bus.Initialize")
	defer timer.Stop()

	b.mu.RLock()
	var pending []memory.Adapter
	for _, s := range b.order {
		if !b.initialized[s] {
			pending = append(pending, b.adapters[s])
		}
	}
	b.mu.RUnlock()

	if len(pending) > 0 {
		outcomes := make([]bool, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		for i, a := range pending {
			i, a := i, a // per-iteration copy (go 1.21 loop semantics)
			g.Go(func() error {
				ok, err := call(gctx, b.opts.CallTimeout, func(cctx context.Context) bool {
					return a.Initialize(cctx)
				})
				if err != nil {
					b.log.Warn("Adapter %s failed to initialize: %v", a.Source(), err)
				}
				outcomes[i] = ok
				return nil // one adapter never fails the group
			})
		}
		_ = g.Wait()

		b.mu.Lock()
		for i, a := range pending {
			src := a.Source()
			if b.adapters[src] != a {
				continue // replaced or removed meanwhile
			}
			b.available[src] = outcomes[i]
			b.initialized[src] = true
			if !outcomes[i] {
				b.log.Warn("Adapter %s unavailable", src)
			}
		}
		b.mu.Unlock()
	}

	avail := b.availability()
	b.log.Info("Bus ready: %d/%d adapters available", countTrue(avail), len(avail))
	b.emit(Event{Kind: EventReady, Available: avail})
	return avail
}

func (b *Bus) availability() map[memory.Source]bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[memory.Source]bool, len(b.available))
	for k, v := range b.available {
		out[k] = v
	}
	return out
}

func countTrue(m map[memory.Source]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// resolve returns the registered, available adapters among sources, in the
// given order with duplicates removed. Skipped sources are returned too.
func (b *Bus) resolve(sources []memory.Source) (ready []memory.Adapter, skipped []memory.Source) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[memory.Source]bool, len(sources))
	for _, s := range sources {
		if seen[s] {
			continue
		}
		seen[s] = true
		a, ok := b.adapters[s]
		if !ok || !b.available[s] {
			skipped = append(skipped, s)
			continue
		}
		ready = append(ready, a)
	}
	return ready, skipped
}

// QueryParallel sends the query to every available source among sources at
// once. A failing, panicking or slow source contributes nothing. Results are
// merged in source order, filtered by MinScore, stable-sorted by score,
// deduplicated by (source, id) and truncated to Limit.
func (b *Bus) QueryParallel(ctx context.Context, text string, sources []memory.Source, opts memory.QueryOptions) []memory.Result {
	timer := b.log.StartTimer("bus.QueryParallel")
	defer timer.Stop()

	adapters, skipped := b.resolve(sources)
	if len(skipped) > 0 {
		b.log.Debug("Query skipping unavailable sources %v", skipped)
	}
	if len(adapters) == 0 {
		return nil
	}

	perSource := make([][]memory.Result, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		i, a := i, a // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			res, err := call(ctx, b.opts.CallTimeout, func(cctx context.Context) []memory.Result {
				return a.Query(cctx, text, opts)
			})
			if err != nil {
				b.log.Warn("Query on %s failed: %v", a.Source(), err)
				return nil
			}
			for j := range res {
				if res[j].Source == "" {
					res[j].Source = a.Source()
				}
			}
			perSource[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var merged []memory.Result
	for _, res := range perSource {
		merged = append(merged, res...)
	}
	merged = memory.FilterByScore(merged, opts.MinScore)
	memory.SortByScore(merged)
	merged = dedupe(merged)
	return memory.Truncate(merged, opts.Limit)
}

func dedupe(results []memory.Result) []memory.Result {
	type key struct {
		src memory.Source
		id  string
	}
	seen := make(map[key]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		k := key{r.Source, r.ID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// WriteResult reports a tiered write.
type WriteResult struct {
	// Success is true when the primary destination accepted the write.
	Success bool
	Written []memory.Source
	IDs     map[memory.Source]string
	Errors  map[memory.Source]error

	// Err explains a total failure.
	Err error
}

// WriteToDestinations writes payload to the available destinations. The
// first is primary and decides Success; the rest are written concurrently
// and their outcomes only recorded. Unavailable destinations are recorded
// with memory.ErrUnavailable.
func (b *Bus) WriteToDestinations(ctx context.Context, payload memory.WritePayload, destinations []memory.Source) WriteResult {
	timer := b.log.StartTimer("bus.WriteToDestinations")
	defer timer.Stop()

	res := WriteResult{IDs: map[memory.Source]string{}, Errors: map[memory.Source]error{}}
	adapters, skipped := b.resolve(destinations)
	for _, s := range skipped {
		res.Errors[s] = memory.ErrUnavailable
	}
	if len(adapters) == 0 {
		res.Err = fmt.Errorf("%w among %v", memory.ErrNoDestination, destinations)
		b.log.Warn("Write of %s dropped: %v", payload.Type, res.Err)
		return res
	}

	primary, secondaries := adapters[0], adapters[1:]
	id, err := b.writeOne(ctx, primary, payload)
	if err != nil {
		res.Errors[primary.Source()] = err
		res.Err = fmt.Errorf("primary %s: %w", primary.Source(), err)
		b.log.Warn("Primary write to %s failed: %v", primary.Source(), err)
	} else {
		res.Success = true
		res.IDs[primary.Source()] = id
		res.Written = append(res.Written, primary.Source())
		targets := make([]memory.Source, 0, len(secondaries))
		for _, a := range secondaries {
			targets = append(targets, a.Source())
		}
		p := payload
		b.emit(Event{Kind: EventPropagate, Source: primary.Source(), ID: id, Payload: &p, Targets: targets})
	}

	if len(secondaries) > 0 {
		ids := make([]string, len(secondaries))
		errs := make([]error, len(secondaries))
		var g errgroup.Group
		for i, a := range secondaries {
			i, a := i, a // per-iteration copy (go 1.21 loop semantics)
			g.Go(func() error {
				ids[i], errs[i] = b.writeOne(ctx, a, payload)
				return nil
			})
		}
		_ = g.Wait()
		for i, a := range secondaries {
			if errs[i] != nil {
				res.Errors[a.Source()] = errs[i]
				b.log.Debug("Secondary write to %s failed: %v", a.Source(), errs[i])
				continue
			}
			res.IDs[a.Source()] = ids[i]
			res.Written = append(res.Written, a.Source())
		}
	}
	return res
}

func (b *Bus) writeOne(ctx context.Context, a memory.Adapter, payload memory.WritePayload) (string, error) {
	w, ok := a.(memory.Writer)
	if !ok {
		return "", memory.ErrNotWritable
	}
	type outcome struct {
		id  string
		err error
	}
	out, err := call(ctx, b.opts.CallTimeout, func(cctx context.Context) outcome {
		id, err := w.Write(cctx, payload)
		return outcome{id, err}
	})
	if err != nil {
		return "", err
	}
	if out.err != nil {
		return "", out.err
	}
	if out.id == "" {
		return "", memory.ErrWriteRejected
	}
	return out.id, nil
}

// RequestSync pulls up to limit results for query from source and
// broadcasts them as EventSync for observers to replicate into targets. It
// writes nothing itself.
func (b *Bus) RequestSync(ctx context.Context, source memory.Source, query string, targets []memory.Source, limit int) ([]memory.Result, error) {
	adapters, _ := b.resolve([]memory.Source{source})
	if len(adapters) == 0 {
		return nil, fmt.Errorf("sync from %s: %w", source, memory.ErrUnavailable)
	}
	results, err := call(ctx, b.opts.CallTimeout, func(cctx context.Context) []memory.Result {
		return adapters[0].Query(cctx, query, memory.QueryOptions{Limit: limit})
	})
	if err != nil {
		return nil, fmt.Errorf("sync from %s: %w", source, err)
	}
	results = memory.Truncate(results, limit)
	if len(targets) == 0 {
		for _, s := range b.Sources() {
			if s != source {
				targets = append(targets, s)
			}
		}
	}
	b.emit(Event{Kind: EventSync, Source: source, Targets: targets, Results: results})
	b.log.Debug("Sync requested from %s: %d results for %v", source, len(results), targets)
	return results, nil
}

// Stats gathers self-reported stats from every available adapter that
// provides them.
func (b *Bus) Stats(ctx context.Context) map[memory.Source]memory.Stats {
	adapters, _ := b.resolve(b.Sources())
	stats := make([]*memory.Stats, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		i, a := i, a // per-iteration copy (go 1.21 loop semantics)
		sp, ok := a.(memory.StatsProvider)
		if !ok {
			continue
		}
		g.Go(func() error {
			type outcome struct {
				st  memory.Stats
				err error
			}
			out, err := call(ctx, b.opts.CallTimeout, func(cctx context.Context) outcome {
				st, err := sp.Stats(cctx)
				return outcome{st, err}
			})
			if err == nil {
				err = out.err
			}
			if err != nil {
				b.log.Debug("Stats from %s unavailable: %v", a.Source(), err)
				return nil
			}
			stats[i] = &out.st
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[memory.Source]memory.Stats, len(adapters))
	for i, a := range adapters {
		if stats[i] != nil {
			out[a.Source()] = *stats[i]
		}
	}
	return out
}

// Shutdown disconnects every adapter that supports it, concurrently and
// ignoring errors, then clears the registry.
func (b *Bus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	adapters := make([]memory.Adapter, 0, len(b.order))
	for _, s := range b.order {
		adapters = append(adapters, b.adapters[s])
	}
	b.adapters = make(map[memory.Source]memory.Adapter)
	b.available = make(map[memory.Source]bool)
	b.initialized = make(map[memory.Source]bool)
	b.order = nil
	b.mu.Unlock()

	var g errgroup.Group
	for _, a := range adapters {
		a := a // per-iteration copy (go 1.21 loop semantics)
		d, ok := a.(memory.Disconnecter)
		if !ok {
			continue
		}
		g.Go(func() error {
			derr, err := call(ctx, b.opts.CallTimeout, func(cctx context.Context) error {
				return d.Disconnect(cctx)
			})
			if err == nil {
				err = derr
			}
			if err != nil {
				b.log.Warn("Disconnect of %s failed: %v", a.Source(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	b.log.Info("Bus shut down (%d adapters)", len(adapters))
}

func (b *Bus) emit(e Event) {
	if b.opts.Observer != nil {
		b.opts.Observer.Observe(e)
	}
}
