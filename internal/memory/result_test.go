package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-0.2))
	assert.Equal(t, 1.0, ClampScore(3))
	assert.Equal(t, 0.4, ClampScore(0.4))
	assert.Equal(t, 0.0, ClampScore(math.NaN()))
}

func TestSortByScoreIsStable(t *testing.T) {
	results := []Result{
		{ID: "a", Score: 0.5},
		{ID: "b", Score: 0.9},
		{ID: "c", Score: 0.5},
		{ID: "d", Score: 0.7},
	}
	SortByScore(results)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"b", "d", "a", "c"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterByScoreDoesNotAlias(t *testing.T) {
	in := []Result{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.8}}
	out := FilterByScore(in, 0.5)
	assert.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "a", in[0].ID, "input must be untouched")
}

func TestFilterByTime(t *testing.T) {
	now := time.Now()
	in := []Result{
		{ID: "old", Metadata: map[string]interface{}{MetaTimestamp: now.Add(-48 * time.Hour)}},
		{ID: "new", Metadata: map[string]interface{}{MetaTimestamp: now.Format(time.RFC3339Nano)}},
		{ID: "untimed"},
	}
	out := FilterByTime(in, &TimeRange{From: now.Add(-time.Hour)})
	assert.Len(t, out, 2)
	assert.Equal(t, "new", out[0].ID)
	assert.Equal(t, "untimed", out[1].ID)
}

func TestTruncate(t *testing.T) {
	in := []Result{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Len(t, Truncate(in, 2), 2)
	assert.Len(t, Truncate(in, 0), 3)
}

func TestWriteTypeValid(t *testing.T) {
	assert.True(t, WriteDecision.Valid())
	assert.False(t, WriteType("rumor").Valid())
}

type readOnly struct{}

func (readOnly) Source() Source                                       { return "ro" }
func (readOnly) Initialize(context.Context) bool                      { return true }
func (readOnly) Available() bool                                      { return true }
func (readOnly) Query(context.Context, string, QueryOptions) []Result { return nil }

type writable struct{ readOnly }

func (writable) Write(context.Context, WritePayload) (string, error) { return "id", nil }

func TestCapabilitiesOf(t *testing.T) {
	assert.Equal(t, Capabilities{}, CapabilitiesOf(readOnly{}))
	assert.Equal(t, Capabilities{Write: true}, CapabilitiesOf(writable{}))
}
