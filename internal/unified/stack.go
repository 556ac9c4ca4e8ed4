package unified

import (
	"context"
	"fmt"

	"unimem/internal/bus"
	"unimem/internal/config"
	"unimem/internal/graphstore"
	"unimem/internal/learning"
	"unimem/internal/logging"
	"unimem/internal/markdown"
	"unimem/internal/memory"
	"unimem/internal/reasoning"
)

// Stack is a memory system wired from configuration: the four sources on a
// bus behind a facade. The stores are exposed for callers that need more
// than the facade offers.
type Stack struct {
	Memory    *Memory
	Bus       *bus.Bus
	Learning  *learning.Store
	Graph     *graphstore.Store
	Markdown  *markdown.Store
	Reasoning *reasoning.Adapter

	audit *logging.AuditLogger
}

// Open builds a Stack from cfg. Nothing is connected until the first
// facade call or an explicit Initialize.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	boot := log.For(logging.CategoryBoot)
	timer := boot.StartTimer("unified.Open")
	defer timer.Stop()

	var audit *logging.AuditLogger
	if cfg.Logging.AuditFile != "" {
		a, err := logging.OpenAudit(cfg.ResolvePath(cfg.Logging.AuditFile))
		if err != nil {
			return nil, err
		}
		audit = a
	}

	snap, err := learning.OpenSQLiteSnapshotter(ctx, cfg.ResolvePath(cfg.Learning.DatabasePath), log)
	if err != nil {
		audit.Close()
		return nil, fmt.Errorf("failed to open learning store: %w", err)
	}
	learnLog := log.For(logging.CategoryLearning)
	ledger := learning.NewStore(snap, learning.Options{
		MaxLearnings:           cfg.Learning.MaxLearnings,
		DecayRate:              cfg.Learning.DecayRate,
		AutoDeprecateThreshold: cfg.Learning.AutoDeprecateThreshold,
		Observer: learning.ObserverFunc(func(e learning.Event) {
			switch e.Kind {
			case learning.EventPersistFailed:
				learnLog.Error("Learning snapshot not saved: %v", e.Err)
				audit.PersistFailed(logging.CategoryLearning, e.Err)
			case learning.EventDeprecated:
				learnLog.Info("Learning %s deprecated: %s", e.Learning.ID, e.Reason)
				audit.LearningEvent(logging.AuditLearningDeprecated, e.Learning.ID, e.Reason)
			case learning.EventCreated:
				audit.LearningEvent(logging.AuditLearningCreated, e.Learning.ID, e.Learning.Insight)
			case learning.EventUpdated:
				audit.LearningEvent(logging.AuditLearningUpdated, e.Learning.ID, e.Reason)
			}
		}),
		Logger: log,
	})

	graph := graphstore.New(graphstore.Options{
		Path:     cfg.ResolvePath(cfg.Graph.DatabasePath),
		Embedder: graphstore.NewHashingEmbedder(cfg.Graph.Dimensions),
		Logger:   log,
	})
	notes := markdown.New(markdown.Options{
		Root:   cfg.ResolvePath(cfg.Markdown.Root),
		Logger: log,
	})
	hmlr := reasoning.NewAdapter(reasoning.Options{
		Graph:          graph,
		TemporalWindow: cfg.Reasoning.GetTemporalWindow(),
		MaxHops:        cfg.Reasoning.MaxHops,
		Logger:         log,
	})

	b := bus.New(bus.Options{
		CallTimeout: cfg.Memory.GetCallTimeout(),
		Observer:    auditObserver(audit),
		Logger:      log,
	})
	b.Register(graphstore.NewAdapter(graph, log))
	b.Register(markdown.NewAdapter(notes, log))
	b.Register(learning.NewAdapter(ledger, log))
	b.Register(hmlr)

	mem, err := New(Options{
		Bus:              b,
		CacheTTL:         cfg.Memory.GetCacheTTL(),
		DefaultLimit:     cfg.Memory.DefaultLimit,
		MinScore:         cfg.Memory.MinScore,
		ContextMaxTokens: cfg.Memory.ContextMaxTokens,
		Decayer:          ledger,
		DecayInterval:    cfg.Learning.GetDecayInterval(),
		Logger:           log,
	})
	if err != nil {
		_ = snap.Close()
		audit.Close()
		return nil, err
	}

	boot.Info("Memory stack ready: %v", b.Sources())
	return &Stack{
		Memory:    mem,
		Bus:       b,
		Learning:  ledger,
		Graph:     graph,
		Markdown:  notes,
		Reasoning: hmlr,
		audit:     audit,
	}, nil
}

// auditObserver records bus notifications in the audit trail. A nil audit
// yields a nil observer.
func auditObserver(audit *logging.AuditLogger) bus.Observer {
	if audit == nil {
		return nil
	}
	return bus.ObserverFunc(func(e bus.Event) {
		switch e.Kind {
		case bus.EventReady:
			available := make(map[string]bool, len(e.Available))
			for src, ok := range e.Available {
				available[string(src)] = ok
			}
			audit.BusReady(available)
		case bus.EventPropagate:
			audit.MemoryStore(string(e.Source), e.ID, sourceNames(e.Targets))
		case bus.EventSync:
			audit.MemorySync(string(e.Source), sourceNames(e.Targets), len(e.Results))
		}
	})
}

// Close flushes the learning ledger and shuts every source down.
func (s *Stack) Close(ctx context.Context) error {
	var err error
	if s.Learning.Loaded() {
		err = s.Learning.Flush(ctx)
	}
	s.Memory.Close(ctx)
	if cerr := s.audit.Close(); err == nil {
		err = cerr
	}
	return err
}

func sourceNames(srcs []memory.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = string(s)
	}
	return out
}
