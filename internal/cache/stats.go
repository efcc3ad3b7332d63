package cache

import "math"

// statsCollector holds the raw cumulative counters. Intentionally minimal:
// no internal locking, no atomics — all fields are mutated under the
// store's index mutex, which keeps the accounting consistent with the
// entries it describes.
type statsCollector struct {
	hits       int64
	misses     int64
	evictions  int64
	diskReads  int64
	diskWrites int64
}

func (c *statsCollector) snapshot(memoryEntries, diskEntries int, memoryUsage, memoryBudget int64) Stats {
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	usagePercent := 0.0
	if memoryBudget > 0 {
		usagePercent = float64(memoryUsage) / float64(memoryBudget) * 100
	}

	return Stats{
		Hits:               c.hits,
		Misses:             c.misses,
		Evictions:          c.evictions,
		DiskReads:          c.diskReads,
		DiskWrites:         c.diskWrites,
		MemoryEntries:      memoryEntries,
		DiskEntries:        diskEntries,
		MemoryUsageBytes:   memoryUsage,
		MemoryUsagePercent: round2(usagePercent),
		HitRatePercent:     round2(hitRate),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
