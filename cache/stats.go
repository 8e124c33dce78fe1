package cache

import "github.com/puzpuzpuz/xsync/v3"

// OperationStats counts the cache operations performed so far.
type OperationStats struct {
	Gets          int64 `json:"gets"`
	Sets          int64 `json:"sets"`
	Deletes       int64 `json:"deletes"`
	Invalidations int64 `json:"invalidations"`
}

// Stats is a point-in-time snapshot of the service counters plus whatever
// the store reports about itself. Store-side fields are best effort and stay
// zero when the store cannot be reached.
type Stats struct {
	Hits             int64          `json:"hits"`
	Misses           int64          `json:"misses"`
	HitRate          float64        `json:"hit_rate"`
	Operations       OperationStats `json:"operations"`
	TotalKeys        int64          `json:"total_keys"`
	MemoryUsageBytes int64          `json:"memory_usage_bytes"`
}

// counters aggregates hit/miss/operation tallies. Batch chunks and cache
// calls complete concurrently, so every increment goes through a striped
// xsync.Counter instead of plain ints.
type counters struct {
	hits          *xsync.Counter
	misses        *xsync.Counter
	gets          *xsync.Counter
	sets          *xsync.Counter
	deletes       *xsync.Counter
	invalidations *xsync.Counter
}

func newCounters() *counters {
	return &counters{
		hits:          xsync.NewCounter(),
		misses:        xsync.NewCounter(),
		gets:          xsync.NewCounter(),
		sets:          xsync.NewCounter(),
		deletes:       xsync.NewCounter(),
		invalidations: xsync.NewCounter(),
	}
}

// snapshot folds the counters into a Stats value, recomputing the hit rate.
func (c *counters) snapshot() Stats {
	hits := c.hits.Value()
	misses := c.misses.Value()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
		Operations: OperationStats{
			Gets:          c.gets.Value(),
			Sets:          c.sets.Value(),
			Deletes:       c.deletes.Value(),
			Invalidations: c.invalidations.Value(),
		},
	}
}

func (c *counters) reset() {
	c.hits.Reset()
	c.misses.Reset()
	c.gets.Reset()
	c.sets.Reset()
	c.deletes.Reset()
	c.invalidations.Reset()
}
