package unified

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"unimem/internal/logging"
	"unimem/internal/memory"

	"github.com/dgraph-io/ristretto"
)

// queryCache holds recent query results. Freshness is judged against the
// facade clock rather than ristretto's own TTL so tests can move time.
type queryCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
	now   func() time.Time
	log   *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	results  []memory.Result
	storedAt time.Time
}

// CacheStats reports cache effectiveness since the last clear.
type CacheStats struct {
	Hits   int64
	Misses int64
}

const cacheMaxEntries = 4096

func newQueryCache(ttl time.Duration, now func() time.Time, log *logging.Logger) (*queryCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cacheMaxEntries * 10,
		MaxCost:            cacheMaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	return &queryCache{cache: c, ttl: ttl, now: now, log: log}, nil
}

// cacheKey is type|query|limit, with the score floor and any explicit
// sources appended so different result shapes never collide.
func cacheKey(t QueryType, query string, limit int, minScore float64, sources []memory.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%g", t, query, limit, minScore)
	for _, s := range sources {
		b.WriteByte('|')
		b.WriteString(string(s))
	}
	return b.String()
}

func (c *queryCache) get(key string) ([]memory.Result, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := v.(cacheEntry)
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.cache.Del(key)
		c.misses.Add(1)
		c.log.Debug("Cache expired: %q", key)
		return nil, false
	}
	c.hits.Add(1)
	c.log.Debug("Cache hit: %q", key)
	return copyResults(entry.results), true
}

func (c *queryCache) set(key string, results []memory.Result) {
	if c.ttl <= 0 {
		return
	}
	c.cache.Set(key, cacheEntry{results: copyResults(results), storedAt: c.now()}, 1)
	// Sets are buffered; make this one visible to the next Get.
	c.cache.Wait()
}

// purge drops every entry but keeps the counters.
func (c *queryCache) purge() {
	c.cache.Clear()
}

func (c *queryCache) clear() {
	c.purge()
	c.hits.Store(0)
	c.misses.Store(0)
}

func (c *queryCache) stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *queryCache) close() {
	c.cache.Close()
}

func copyResults(in []memory.Result) []memory.Result {
	if in == nil {
		return nil
	}
	return append([]memory.Result(nil), in...)
}
