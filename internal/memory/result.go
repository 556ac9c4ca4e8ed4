package memory

import (
	"sort"
	"time"
)

// Well-known Result metadata keys.
const (
	MetaType      = "type"
	MetaKey       = "key"
	MetaTimestamp = "timestamp"
	MetaHops      = "hops"
	MetaReasoning = "reasoning"
	MetaNode      = "node"
)

// Result is the common envelope returned by every adapter.
type Result struct {
	ID       string                 `json:"id"`
	Source   Source                 `json:"source"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Timestamp returns the result's timestamp metadata, if any.
func (r Result) Timestamp() (time.Time, bool) {
	switch v := r.Metadata[MetaTimestamp].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// ClampScore bounds a score to [0,1].
func ClampScore(score float64) float64 {
	if score != score { // NaN
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// FilterByScore drops results below minScore, preserving order.
func FilterByScore(results []Result, minScore float64) []Result {
	out := results[:0:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// FilterByTime drops results whose timestamp falls outside the range.
// Results without a timestamp are kept.
func FilterByTime(results []Result, tr *TimeRange) []Result {
	if tr == nil {
		return results
	}
	out := results[:0:0]
	for _, r := range results {
		if ts, ok := r.Timestamp(); ok && !tr.Contains(ts) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortByScore orders results by descending score. Ties keep insertion order.
func SortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// Truncate caps results at limit; limit <= 0 means no cap.
func Truncate(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
