package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"unimem/internal/memory"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAdapter is a read-only adapter with scripted behavior.
type fakeAdapter struct {
	src        memory.Source
	initOK     bool
	initPanic  bool
	results    []memory.Result
	queryPanic bool
	delay      time.Duration

	mu        sync.Mutex
	initCalls int
	queries   int
	available bool
}

func (f *fakeAdapter) Source() memory.Source { return f.src }

func (f *fakeAdapter) Initialize(context.Context) bool {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	if f.initPanic {
		panic("boom")
	}
	f.mu.Lock()
	f.available = f.initOK
	f.mu.Unlock()
	return f.initOK
}

func (f *fakeAdapter) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeAdapter) Query(ctx context.Context, _ string, _ memory.QueryOptions) []memory.Result {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
	if f.queryPanic {
		panic("query boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil
		}
	}
	return append([]memory.Result(nil), f.results...)
}

// writableAdapter adds Write, Stats and Disconnect.
type writableAdapter struct {
	*fakeAdapter
	writeID       string
	writeErr      error
	writeDelay    time.Duration
	disconnectErr error
	stats         memory.Stats

	wmu          sync.Mutex
	writes       []memory.WritePayload
	disconnected bool
}

func (w *writableAdapter) Write(ctx context.Context, p memory.WritePayload) (string, error) {
	if w.writeDelay > 0 {
		select {
		case <-time.After(w.writeDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	w.wmu.Lock()
	w.writes = append(w.writes, p)
	w.wmu.Unlock()
	return w.writeID, w.writeErr
}

func (w *writableAdapter) Stats(context.Context) (memory.Stats, error) { return w.stats, nil }

func (w *writableAdapter) Disconnect(context.Context) error {
	w.wmu.Lock()
	w.disconnected = true
	w.wmu.Unlock()
	return w.disconnectErr
}

func (w *writableAdapter) writeCount() int {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return len(w.writes)
}

func reader(src memory.Source, results ...memory.Result) *fakeAdapter {
	return &fakeAdapter{src: src, initOK: true, results: results}
}

func writer(src memory.Source, id string) *writableAdapter {
	return &writableAdapter{fakeAdapter: reader(src), writeID: id}
}

func res(src memory.Source, id string, score float64) memory.Result {
	return memory.Result{ID: id, Source: src, Content: id, Score: score}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofKind(k EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func newBus(t *testing.T, obs Observer, adapters ...memory.Adapter) *Bus {
	t.Helper()
	b := New(Options{CallTimeout: 200 * time.Millisecond, Observer: obs})
	for _, a := range adapters {
		b.Register(a)
	}
	b.Initialize(context.Background())
	return b
}

func TestInitializeIsolatesFailures(t *testing.T) {
	log := &eventLog{}
	good := reader("good")
	bad := &fakeAdapter{src: "bad"}
	panicky := &fakeAdapter{src: "panicky", initPanic: true}

	b := New(Options{Observer: log})
	b.Register(good)
	b.Register(bad)
	b.Register(panicky)
	assert.False(t, b.Available("good"), "registration must not initialize")

	avail := b.Initialize(context.Background())
	assert.Equal(t, map[memory.Source]bool{"good": true, "bad": false, "panicky": false}, avail)
	assert.True(t, b.Initialized())
	assert.Equal(t, []memory.Source{"good"}, b.AvailableSources())

	ready := log.ofKind(EventReady)
	require.Len(t, ready, 1)
	assert.Equal(t, avail, ready[0].Available)

	// Idempotent: nothing is re-initialized.
	b.Initialize(context.Background())
	assert.Equal(t, 1, good.initCalls)
	assert.Equal(t, 1, bad.initCalls)
}

func TestInitializePicksUpLateRegistrations(t *testing.T) {
	first := reader("first")
	b := newBus(t, nil, first)

	late := reader("late")
	b.Register(late)
	assert.False(t, b.Initialized())
	b.Initialize(context.Background())

	assert.True(t, b.Available("late"))
	assert.Equal(t, 1, first.initCalls)
	assert.Equal(t, 1, late.initCalls)
}

func TestUnregister(t *testing.T) {
	b := newBus(t, nil, reader("a"), reader("b"))
	assert.True(t, b.Unregister("a"))
	assert.False(t, b.Unregister("a"))
	assert.Equal(t, []memory.Source{"b"}, b.Sources())
	assert.False(t, b.Available("a"))
}

func TestQueryParallelIsolatesFailures(t *testing.T) {
	good := reader("good", res("good", "1", 0.9))
	panicky := reader("panicky", res("panicky", "x", 1))
	panicky.queryPanic = true
	slow := reader("slow", res("slow", "y", 1))
	slow.delay = 5 * time.Second

	b := newBus(t, nil, good, panicky, slow)
	start := time.Now()
	got := b.QueryParallel(context.Background(), "q", []memory.Source{"good", "panicky", "slow"}, memory.QueryOptions{Limit: 10})
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestQueryParallelMerge(t *testing.T) {
	a := reader("a", res("a", "1", 0.5), res("a", "2", 0.9), res("a", "1", 0.5), res("a", "low", 0.05))
	b2 := reader("b", res("b", "1", 0.5), res("b", "3", 0.7))
	b := newBus(t, nil, a, b2)

	got := b.QueryParallel(context.Background(), "q", []memory.Source{"a", "b", "a"}, memory.QueryOptions{Limit: 10, MinScore: 0.1})
	want := []memory.Result{
		res("a", "2", 0.9),
		res("b", "3", 0.7),
		res("a", "1", 0.5),
		res("b", "1", 0.5),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged results mismatch (-want +got):\n%s", diff)
	}

	got = b.QueryParallel(context.Background(), "q", []memory.Source{"b", "a"}, memory.QueryOptions{Limit: 3})
	assert.Equal(t, []string{"2", "3", "1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, memory.Source("b"), got[2].Source, "ties keep requested source order")
}

func TestQueryParallelSkipsUnavailable(t *testing.T) {
	down := &fakeAdapter{src: "down", results: []memory.Result{res("down", "1", 1)}}
	up := reader("up", res("up", "2", 0.4))
	b := newBus(t, nil, down, up)

	got := b.QueryParallel(context.Background(), "q", []memory.Source{"down", "up", "missing"}, memory.QueryOptions{Limit: 5})
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, 0, down.queries)

	assert.Empty(t, b.QueryParallel(context.Background(), "q", []memory.Source{"down"}, memory.QueryOptions{Limit: 5}))
}

func TestQueryParallelFillsMissingSource(t *testing.T) {
	a := reader("a", memory.Result{ID: "1", Score: 0.5})
	b := newBus(t, nil, a)
	got := b.QueryParallel(context.Background(), "q", []memory.Source{"a"}, memory.QueryOptions{Limit: 5})
	require.Len(t, got, 1)
	assert.Equal(t, memory.Source("a"), got[0].Source)
}

func TestWritePrimarySuccessSecondaryFailure(t *testing.T) {
	log := &eventLog{}
	primary := writer("primary", "p-1")
	failing := writer("failing", "")
	failing.writeErr = errors.New("disk full")
	ok := writer("ok", "o-1")
	b := newBus(t, log, primary, failing, ok)

	payload := memory.WritePayload{Type: memory.WriteFact, Content: "c"}
	r := b.WriteToDestinations(context.Background(), payload, []memory.Source{"primary", "failing", "ok"})

	assert.True(t, r.Success)
	assert.NoError(t, r.Err)
	assert.ElementsMatch(t, []memory.Source{"primary", "ok"}, r.Written)
	assert.Equal(t, memory.Source("primary"), r.Written[0])
	assert.Equal(t, map[memory.Source]string{"primary": "p-1", "ok": "o-1"}, r.IDs)
	require.Contains(t, r.Errors, memory.Source("failing"))
	assert.EqualError(t, r.Errors["failing"], "disk full")

	prop := log.ofKind(EventPropagate)
	require.Len(t, prop, 1)
	assert.Equal(t, memory.Source("primary"), prop[0].Source)
	assert.Equal(t, "p-1", prop[0].ID)
	assert.Equal(t, []memory.Source{"failing", "ok"}, prop[0].Targets)
	assert.Equal(t, payload, *prop[0].Payload)
}

func TestWritePrimaryFailure(t *testing.T) {
	log := &eventLog{}
	primary := writer("primary", "")
	primary.writeErr = errors.New("locked")
	secondary := writer("secondary", "s-1")
	b := newBus(t, log, primary, secondary)

	r := b.WriteToDestinations(context.Background(), memory.WritePayload{Type: memory.WriteFact, Content: "c"}, []memory.Source{"primary", "secondary"})
	assert.False(t, r.Success)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "locked")
	assert.Equal(t, []memory.Source{"secondary"}, r.Written)
	assert.Equal(t, 1, secondary.writeCount())
	assert.Empty(t, log.ofKind(EventPropagate))
}

func TestWritePrimaryRejected(t *testing.T) {
	b := newBus(t, nil, writer("primary", ""))
	r := b.WriteToDestinations(context.Background(), memory.WritePayload{Type: memory.WriteFact}, []memory.Source{"primary"})
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, memory.ErrWriteRejected)
	assert.ErrorIs(t, r.Errors["primary"], memory.ErrWriteRejected)
}

func TestWriteReadOnlyPrimary(t *testing.T) {
	b := newBus(t, nil, reader("ro"), writer("rw", "id"))
	r := b.WriteToDestinations(context.Background(), memory.WritePayload{Type: memory.WriteFact}, []memory.Source{"ro", "rw"})
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, memory.ErrNotWritable)
	assert.Equal(t, []memory.Source{"rw"}, r.Written)
}

func TestWriteSkipsUnavailableForPrimary(t *testing.T) {
	down := writer("down", "d")
	down.initOK = false
	up := writer("up", "u")
	b := newBus(t, nil, down, up)

	r := b.WriteToDestinations(context.Background(), memory.WritePayload{Type: memory.WriteFact}, []memory.Source{"down", "up"})
	assert.True(t, r.Success)
	assert.Equal(t, []memory.Source{"up"}, r.Written)
	assert.ErrorIs(t, r.Errors["down"], memory.ErrUnavailable)
	assert.Equal(t, 0, down.writeCount())
}

func TestWriteNoDestination(t *testing.T) {
	down := writer("down", "d")
	down.initOK = false
	b := newBus(t, nil, down)

	r := b.WriteToDestinations(context.Background(), memory.WritePayload{Type: memory.WriteFact}, []memory.Source{"down", "missing"})
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, memory.ErrNoDestination)
	assert.Empty(t, r.Written)
}

func TestWriteTimeout(t *testing.T) {
	slow := writer("slow", "s")
	slow.writeDelay = 5 * time.Second
	b := newBus(t, nil, slow)
	r := b.WriteToDestinations(context.Background(), memory.WritePayload{Type: memory.WriteFact}, []memory.Source{"slow"})
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrTimeout)
}

func TestRequestSync(t *testing.T) {
	log := &eventLog{}
	src := reader("src", res("src", "1", 0.9), res("src", "2", 0.8), res("src", "3", 0.7))
	b := newBus(t, log, src, writer("t1", "x"), writer("t2", "y"))

	got, err := b.RequestSync(context.Background(), "src", "everything", nil, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	syncs := log.ofKind(EventSync)
	require.Len(t, syncs, 1)
	assert.Equal(t, memory.Source("src"), syncs[0].Source)
	assert.Equal(t, []memory.Source{"t1", "t2"}, syncs[0].Targets)
	assert.Len(t, syncs[0].Results, 2)

	_, err = b.RequestSync(context.Background(), "missing", "q", nil, 2)
	assert.ErrorIs(t, err, memory.ErrUnavailable)
}

func TestStats(t *testing.T) {
	w := writer("w", "id")
	w.stats = memory.Stats{Count: 7}
	b := newBus(t, nil, w, reader("r"))
	assert.Equal(t, map[memory.Source]memory.Stats{"w": {Count: 7}}, b.Stats(context.Background()))
}

func TestShutdown(t *testing.T) {
	a := writer("a", "1")
	failing := writer("b", "2")
	failing.disconnectErr = errors.New("already closed")
	b := newBus(t, nil, a, failing, reader("ro"))

	b.Shutdown(context.Background())
	assert.True(t, a.disconnected)
	assert.True(t, failing.disconnected)
	assert.Empty(t, b.Sources())
	assert.False(t, b.Available("a"))
}
