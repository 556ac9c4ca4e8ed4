package memory

import (
	"context"
	"time"
)

// Source identifies the adapter a result came from or a write is routed to.
type Source string

const (
	SourceGraph    Source = "graph-store"
	SourceMarkdown Source = "markdown"
	SourceLearning Source = "learning"
	SourceHMLR     Source = "hmlr"
)

// TimeRange restricts results to a creation window. Zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls within the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// QueryOptions configures a single adapter query.
type QueryOptions struct {
	Limit     int
	MinScore  float64
	TimeRange *TimeRange
}

// Adapter is the capability surface every backend implements.
type Adapter interface {
	// Source returns the adapter's tag.
	Source() Source

	// Initialize connects the backend. It is idempotent and reports
	// availability; failures are logged and reported as false.
	Initialize(ctx context.Context) bool

	// Available reports the outcome of the last Initialize.
	Available() bool

	// Query returns results scoring at least opts.MinScore.
	// Internal errors yield an empty slice.
	Query(ctx context.Context, text string, opts QueryOptions) []Result
}

// Writer is implemented by adapters that accept writes.
// An empty id with a nil error means the adapter declined the payload.
type Writer interface {
	Write(ctx context.Context, payload WritePayload) (string, error)
}

// Stats is a backend's self-reported size.
type Stats struct {
	Count    int       `json:"count"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// StatsProvider is implemented by adapters that can report their size.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Disconnecter is implemented by adapters holding releasable resources.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Capabilities describes which optional interfaces an adapter exposes.
type Capabilities struct {
	Write      bool
	Stats      bool
	Disconnect bool
}

// CapabilitiesOf inspects an adapter's optional capabilities.
func CapabilitiesOf(a Adapter) Capabilities {
	_, w := a.(Writer)
	_, s := a.(StatsProvider)
	_, d := a.(Disconnecter)
	return Capabilities{Write: w, Stats: s, Disconnect: d}
}
