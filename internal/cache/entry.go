package cache

import "time"

// Entry is a single cached value plus the bookkeeping the store needs for
// TTL expiry and LRU eviction. Disk-tier entries are persisted as the JSON
// encoding of this struct, one file per key.
type Entry struct {
	Key          string    `json:"key"`
	Namespace    string    `json:"namespace"`
	Value        []byte    `json:"value"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	SizeBytes    int64     `json:"size_bytes"`

	// seq is the memory-tier insertion sequence, used as the eviction
	// tie-break when two entries share a LastAccessed timestamp. Not
	// persisted; reassigned on promotion.
	seq uint64
}

func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e *Entry) touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
}
