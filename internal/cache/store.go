package cache

import (
	"context"
	"time"
)

// Store is the key-value contract the pipeline and handlers consume.
// Implemented by TieredStore and by LoggingStore, which wraps it with
// logging + metrics.
//
// A miss is signaled by ok == false, never by a nil value: callers must
// not conflate "cached nil/empty" with "not cached".
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, namespace string) error
	Delete(ctx context.Context, key string) error

	// Clear removes every entry created under namespace, or everything
	// in both tiers when namespace is empty.
	Clear(ctx context.Context, namespace string) error

	// CleanupExpired removes entries whose TTL has elapsed from both
	// tiers and returns the number removed.
	CleanupExpired(ctx context.Context) (int, error)

	Stats() Stats
}

// Stats is a point-in-time snapshot of the cumulative cache counters.
type Stats struct {
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	Evictions          int64   `json:"evictions"`
	DiskReads          int64   `json:"disk_reads"`
	DiskWrites         int64   `json:"disk_writes"`
	MemoryEntries      int     `json:"memory_entries"`
	DiskEntries        int     `json:"disk_entries"`
	MemoryUsageBytes   int64   `json:"memory_usage_bytes"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	HitRatePercent     float64 `json:"hit_rate_percent"`
}
