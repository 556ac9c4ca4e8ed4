package unified

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"unimem/internal/logging"
)

// Decayer is the learning ledger's decay operation.
type Decayer interface {
	ApplyDecay(ctx context.Context) int
}

// stopWait bounds how long Stop waits for an in-flight cycle.
const stopWait = 2 * time.Second

// Maintainer drives confidence decay on a fixed cadence. The first cycle
// runs one interval after Start, never at Start, because decay is not
// idempotent.
type Maintainer struct {
	decayer  Decayer
	interval time.Duration
	log      *logging.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	runs    atomic.Int64
	decayed atomic.Int64
}

// NewMaintainer creates a stopped maintainer.
func NewMaintainer(d Decayer, interval time.Duration, log *logging.Logger) *Maintainer {
	return &Maintainer{
		decayer:  d,
		interval: interval,
		log:      log.For(logging.CategoryLearning),
	}
}

// Start launches the loop. It is a no-op when already running or when the
// interval is not positive. The loop also ends when ctx is cancelled.
func (m *Maintainer) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil || m.interval <= 0 || m.decayer == nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop = stop
	m.done = done
	m.mu.Unlock()

	m.log.Info("Decay loop started (every %s)", m.interval)
	go m.run(ctx, stop, done)
}

// Stop ends the loop and waits briefly for an in-flight cycle.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	stop := m.stop
	done := m.done
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopWait):
			m.log.Warn("Decay loop did not stop within %s", stopWait)
		}
	}
}

// Running reports whether the loop is active.
func (m *Maintainer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// RunOnce applies decay immediately and returns how many learnings changed.
func (m *Maintainer) RunOnce(ctx context.Context) int {
	n := m.decayer.ApplyDecay(ctx)
	m.runs.Add(1)
	m.decayed.Add(int64(n))
	if n > 0 {
		m.log.Info("Decayed %d learnings", n)
	}
	return n
}

// Runs returns the number of completed cycles.
func (m *Maintainer) Runs() int64 { return m.runs.Load() }

// Decayed returns the total number of learnings decayed so far.
func (m *Maintainer) Decayed() int64 { return m.decayed.Load() }

func (m *Maintainer) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}
