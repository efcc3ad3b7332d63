package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, cfg TieredConfig) *TieredStore {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s, err := NewTieredStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewTieredStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTieredStore_RoundTrip(t *testing.T) {
	s := newTestStore(t, TieredConfig{})
	ctx := context.Background()

	key := "transcription:abc123"
	val := []byte("hello transcript")

	if err := s.Set(ctx, key, val, time.Minute, "transcription"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if !bytes.Equal(got, val) {
		t.Fatalf("expected %q, got %q", val, got)
	}

	_, hit, err = s.Get(ctx, "transcription:missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Fatalf("expected miss for unknown key")
	}

	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.HitRatePercent != 50.0 {
		t.Fatalf("expected 50%% hit rate, got %v", stats.HitRatePercent)
	}
}

func TestTieredStore_TTLExpiry(t *testing.T) {
	s := newTestStore(t, TieredConfig{})
	ctx := context.Background()

	if err := s.Set(ctx, "llm_response:k", []byte("v"), 20*time.Millisecond, "llm_response"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	_, hit, err := s.Get(ctx, "llm_response:k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Fatalf("expected miss after TTL expiry")
	}
	if s.Stats().Misses != 1 {
		t.Fatalf("expired read must count as a miss")
	}
}

func TestTieredStore_NonPositiveTTLDeletes(t *testing.T) {
	s := newTestStore(t, TieredConfig{})
	ctx := context.Background()

	if err := s.Set(ctx, "user_data:k", []byte("v"), time.Minute, "user_data"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "user_data:k", []byte("v2"), 0, "user_data"); err != nil {
		t.Fatalf("Set with zero ttl failed: %v", err)
	}

	_, hit, _ := s.Get(ctx, "user_data:k")
	if hit {
		t.Fatalf("zero ttl must remove the entry")
	}
}

func TestTieredStore_LargeValueGoesToDisk(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	key := "transcription:big"
	val := bytes.Repeat([]byte("x"), 128)

	if err := s.Set(ctx, key, val, time.Minute, "transcription"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, key+diskFileSuffix)); err != nil {
		t.Fatalf("expected disk file for large entry: %v", err)
	}

	stats := s.Stats()
	if stats.DiskWrites != 1 {
		t.Fatalf("expected 1 disk write, got %d", stats.DiskWrites)
	}
	if stats.MemoryEntries != 0 {
		t.Fatalf("large entry must not occupy the memory tier")
	}
	if stats.DiskEntries != 1 {
		t.Fatalf("expected 1 disk entry, got %d", stats.DiskEntries)
	}
}

func TestTieredStore_DiskHitPromotes(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	key := "diarization:big"
	val := bytes.Repeat([]byte("y"), 128)

	if err := s.Set(ctx, key, val, time.Minute, "diarization"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit || !bytes.Equal(got, val) {
		t.Fatalf("expected disk hit with original value")
	}

	// The entry now lives in memory only.
	if _, err := os.Stat(filepath.Join(dir, key+diskFileSuffix)); !os.IsNotExist(err) {
		t.Fatalf("disk file must be removed after promotion, stat err: %v", err)
	}

	stats := s.Stats()
	if stats.DiskReads != 1 {
		t.Fatalf("expected 1 disk read, got %d", stats.DiskReads)
	}
	if stats.MemoryEntries != 1 {
		t.Fatalf("promoted entry must be in the memory tier")
	}

	// Second read is served from memory: no further disk reads.
	_, hit, _ = s.Get(ctx, key)
	if !hit {
		t.Fatalf("expected memory hit after promotion")
	}
	if s.Stats().DiskReads != 1 {
		t.Fatalf("promoted entry must not hit disk again")
	}
}

func TestTieredStore_OversizedEntryNeverInMemory(t *testing.T) {
	s := newTestStore(t, TieredConfig{MemoryBudget: 32, DiskThreshold: 1 << 20})
	ctx := context.Background()

	key := "full_result:huge"
	val := bytes.Repeat([]byte("z"), 64) // below threshold, above budget

	if err := s.Set(ctx, key, val, time.Minute, "full_result"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if s.Stats().MemoryEntries != 0 {
		t.Fatalf("entry above the memory budget must go to disk")
	}

	// A hit must not promote it either: it cannot fit.
	got, hit, err := s.Get(ctx, key)
	if err != nil || !hit || !bytes.Equal(got, val) {
		t.Fatalf("expected disk hit, hit=%v err=%v", hit, err)
	}
	if s.Stats().MemoryEntries != 0 {
		t.Fatalf("oversized entry must stay on disk after a hit")
	}
}

func TestTieredStore_LRUEviction(t *testing.T) {
	s := newTestStore(t, TieredConfig{MemoryBudget: 100, DiskThreshold: 1 << 20})
	ctx := context.Background()

	val := bytes.Repeat([]byte("v"), 40)

	if err := s.Set(ctx, "t:a", val, time.Minute, "t"); err != nil {
		t.Fatalf("Set a failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := s.Set(ctx, "t:b", val, time.Minute, "t"); err != nil {
		t.Fatalf("Set b failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// Touch "a" so "b" becomes the least recently used.
	if _, hit, _ := s.Get(ctx, "t:a"); !hit {
		t.Fatalf("expected hit for a")
	}
	time.Sleep(2 * time.Millisecond)

	// Inserting "c" exceeds the 100-byte budget and must evict "b".
	if err := s.Set(ctx, "t:c", val, time.Minute, "t"); err != nil {
		t.Fatalf("Set c failed: %v", err)
	}

	if _, hit, _ := s.Get(ctx, "t:b"); hit {
		t.Fatalf("least-recently-used entry must be evicted")
	}
	if _, hit, _ := s.Get(ctx, "t:a"); !hit {
		t.Fatalf("recently used entry must survive eviction")
	}
	if _, hit, _ := s.Get(ctx, "t:c"); !hit {
		t.Fatalf("newly inserted entry must be present")
	}

	if ev := s.Stats().Evictions; ev != 1 {
		t.Fatalf("expected 1 eviction, got %d", ev)
	}
}

func TestTieredStore_EvictionTieBreaksByInsertionOrder(t *testing.T) {
	s := newTestStore(t, TieredConfig{MemoryBudget: 100, DiskThreshold: 1 << 20})

	// Force identical LastAccessed timestamps so only the insertion
	// sequence can order the victims.
	now := time.Now()
	for _, key := range []string{"t:first", "t:second"} {
		e := &Entry{
			Key:          key,
			Namespace:    "t",
			Value:        bytes.Repeat([]byte("v"), 40),
			CreatedAt:    now,
			ExpiresAt:    now.Add(time.Minute),
			LastAccessed: now,
			SizeBytes:    40,
		}
		s.mu.Lock()
		e.seq = s.nextSeqLocked()
		s.memory[key] = e
		s.memoryUsage += e.SizeBytes
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.ensureCapacityLocked(40)
	s.mu.Unlock()

	s.mu.Lock()
	_, firstAlive := s.memory["t:first"]
	_, secondAlive := s.memory["t:second"]
	s.mu.Unlock()

	if firstAlive || !secondAlive {
		t.Fatalf("on equal access times the earliest-inserted entry must go first (first=%v second=%v)",
			firstAlive, secondAlive)
	}
}

func TestTieredStore_OverwriteReplacesAccounting(t *testing.T) {
	s := newTestStore(t, TieredConfig{MemoryBudget: 1 << 20})
	ctx := context.Background()

	if err := s.Set(ctx, "t:k", bytes.Repeat([]byte("a"), 100), time.Minute, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "t:k", bytes.Repeat([]byte("b"), 10), time.Minute, "t"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	stats := s.Stats()
	if stats.MemoryEntries != 1 {
		t.Fatalf("expected 1 entry after overwrite, got %d", stats.MemoryEntries)
	}
	if stats.MemoryUsageBytes != 10 {
		t.Fatalf("expected 10 bytes in use after overwrite, got %d", stats.MemoryUsageBytes)
	}
}

func TestTieredStore_ClearByNamespace(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	small := []byte("small")
	big := bytes.Repeat([]byte("B"), 128)

	if err := s.Set(ctx, "transcription:m1", small, time.Minute, "transcription"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "diarization:m2", small, time.Minute, "diarization"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "transcription:d1", big, time.Minute, "transcription"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "diarization:d2", big, time.Minute, "diarization"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Clear(ctx, "transcription"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if _, hit, _ := s.Get(ctx, "transcription:m1"); hit {
		t.Fatalf("cleared namespace entry survived in memory")
	}
	if _, hit, _ := s.Get(ctx, "transcription:d1"); hit {
		t.Fatalf("cleared namespace entry survived on disk")
	}
	if _, hit, _ := s.Get(ctx, "diarization:m2"); !hit {
		t.Fatalf("other namespace memory entry must be untouched")
	}
	if _, hit, _ := s.Get(ctx, "diarization:d2"); !hit {
		t.Fatalf("other namespace disk entry must be untouched")
	}
}

func TestTieredStore_ClearAll(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	if err := s.Set(ctx, "a:k", []byte("v"), time.Minute, "a"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "b:k", bytes.Repeat([]byte("v"), 128), time.Minute, "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats := s.Stats()
	if stats.MemoryEntries != 0 || stats.DiskEntries != 0 {
		t.Fatalf("expected empty store, got memory=%d disk=%d",
			stats.MemoryEntries, stats.DiskEntries)
	}
}

func TestTieredStore_CorruptDiskFileSelfHeals(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir})
	ctx := context.Background()

	key := "transcription:corrupt"
	path := filepath.Join(dir, key+diskFileSuffix)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, hit, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("corrupt entry must read as a plain miss, got error: %v", err)
	}
	if hit {
		t.Fatalf("corrupt entry must not produce a hit")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file must be deleted, stat err: %v", err)
	}
}

func TestTieredStore_CleanupExpired(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	// One expiring memory entry, one expiring disk entry, one corrupt
	// file, one live entry.
	if err := s.Set(ctx, "t:mem", []byte("v"), 20*time.Millisecond, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "t:disk", bytes.Repeat([]byte("v"), 128), 20*time.Millisecond, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "t:bad"+diskFileSuffix), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := s.Set(ctx, "t:live", []byte("v"), time.Hour, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removals (expired mem, expired disk, corrupt), got %d", removed)
	}

	if _, hit, _ := s.Get(ctx, "t:live"); !hit {
		t.Fatalf("live entry must survive the sweep")
	}
}

func TestTieredStore_Delete(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	if err := s.Set(ctx, "t:mem", []byte("v"), time.Minute, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "t:disk", bytes.Repeat([]byte("v"), 128), time.Minute, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Delete(ctx, "t:mem"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "t:disk"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "t:absent"); err != nil {
		t.Fatalf("Delete of absent key must be a no-op, got: %v", err)
	}

	stats := s.Stats()
	if stats.MemoryEntries != 0 || stats.DiskEntries != 0 {
		t.Fatalf("expected empty store after deletes, got memory=%d disk=%d",
			stats.MemoryEntries, stats.DiskEntries)
	}
}

func TestTieredStore_CompletedSetSupersedesPromotion(t *testing.T) {
	// A Get that found the old value on disk races a Set that replaces
	// it. Once the Set has returned, every later Get must see the new
	// value; the in-flight promotion must not reinstall the old one.
	for i := 0; i < 200; i++ {
		s := newTestStore(t, TieredConfig{Dir: t.TempDir(), DiskThreshold: 64})
		ctx := context.Background()

		key := "t:k"
		v1 := bytes.Repeat([]byte("1"), 128) // disk tier
		if err := s.Set(ctx, key, v1, time.Minute, "t"); err != nil {
			t.Fatalf("Set v1 failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, key)
		}()

		v2 := []byte("2")
		if err := s.Set(ctx, key, v2, time.Minute, "t"); err != nil {
			t.Fatalf("Set v2 failed: %v", err)
		}
		wg.Wait()

		got, hit, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !hit {
			t.Fatalf("iter %d: expected hit after Set", i)
		}
		if !bytes.Equal(got, v2) {
			t.Fatalf("iter %d: completed Set must win over in-flight promotion; got %d bytes %q",
				i, len(got), got[:min(len(got), 8)])
		}
		s.Close()
	}
}

func TestTieredStore_PromotionBacksOffWhenFileRemoved(t *testing.T) {
	s := newTestStore(t, TieredConfig{})
	now := time.Now()

	// The disk file this entry was read from is already gone (a Delete
	// or Clear finished first): the stale copy must not be installed.
	e := &Entry{
		Key:          "t:k",
		Namespace:    "t",
		Value:        []byte("stale"),
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Minute),
		LastAccessed: now,
		SizeBytes:    5,
	}
	s.promote("t:k", e)

	if _, hit, _ := s.Get(context.Background(), "t:k"); hit {
		t.Fatalf("removed entry must not be resurrected by promotion")
	}
	if s.Stats().MemoryEntries != 0 {
		t.Fatalf("memory tier must stay empty")
	}
}

func TestTieredStore_PromotionBacksOffWhenFileReplaced(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir})

	key := "t:k"
	now := time.Now()

	// The current disk entry, written by a Set that completed after the
	// promotion's read.
	newer := &Entry{
		Key:          key,
		Namespace:    "t",
		Value:        []byte("newer"),
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Minute),
		LastAccessed: now,
		SizeBytes:    5,
	}
	data, err := json.Marshal(newer)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, key+diskFileSuffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	stale := &Entry{
		Key:          key,
		Namespace:    "t",
		Value:        []byte("stale"),
		CreatedAt:    now.Add(-time.Minute),
		ExpiresAt:    now.Add(time.Minute),
		LastAccessed: now,
		SizeBytes:    5,
	}
	s.promote(key, stale)

	// The newer entry keeps its file and the stale copy is not installed.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("replaced file must survive a stale promotion: %v", err)
	}
	if s.Stats().MemoryEntries != 0 {
		t.Fatalf("stale copy must not reach the memory tier")
	}

	got, hit, err := s.Get(context.Background(), key)
	if err != nil || !hit {
		t.Fatalf("Get failed: hit=%v err=%v", hit, err)
	}
	if string(got) != "newer" {
		t.Fatalf("expected the replacing value, got %q", got)
	}
}

func TestTieredStore_PromotionYieldsToMemoryEntry(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir})
	ctx := context.Background()

	key := "t:k"
	if err := s.Set(ctx, key, []byte("fresh"), time.Minute, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A stale disk file for the key, as left by an interleaving where
	// the promotion's read happened before the Set.
	now := time.Now()
	stale := &Entry{
		Key:          key,
		Namespace:    "t",
		Value:        []byte("stale"),
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Minute),
		LastAccessed: now,
		SizeBytes:    5,
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key+diskFileSuffix), data, 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	s.promote(key, stale)

	got, hit, err := s.Get(ctx, key)
	if err != nil || !hit {
		t.Fatalf("Get failed: hit=%v err=%v", hit, err)
	}
	if string(got) != "fresh" {
		t.Fatalf("memory entry must win over a stale promotion, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, key+diskFileSuffix)); !os.IsNotExist(err) {
		t.Fatalf("stale file must still be cleaned up, stat err: %v", err)
	}
}

func TestTieredStore_ReturnedValueIsACopy(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, TieredConfig{Dir: dir, DiskThreshold: 64})
	ctx := context.Background()

	// Memory tier.
	if err := s.Set(ctx, "t:mem", []byte("orig"), time.Minute, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _, _ := s.Get(ctx, "t:mem")
	got[0] = 'X'
	got, _, _ = s.Get(ctx, "t:mem")
	if string(got) != "orig" {
		t.Fatalf("caller mutation leaked into the memory tier: %q", got)
	}

	// Disk tier, including the promoted copy.
	big := bytes.Repeat([]byte("d"), 128)
	if err := s.Set(ctx, "t:disk", big, time.Minute, "t"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _, _ = s.Get(ctx, "t:disk") // promotes
	got[0] = 'X'
	got, _, _ = s.Get(ctx, "t:disk")
	if !bytes.Equal(got, big) {
		t.Fatalf("caller mutation leaked into the promoted entry")
	}
}

func TestTieredStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t, TieredConfig{MemoryBudget: 4 << 10, DiskThreshold: 256})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("t:%d", i%10)
				val := bytes.Repeat([]byte{byte('a' + g)}, 64)
				if err := s.Set(ctx, key, val, time.Minute, "t"); err != nil {
					t.Errorf("Set failed: %v", err)
					return
				}
				if _, _, err := s.Get(ctx, key); err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	stats := s.Stats()
	if stats.MemoryUsageBytes < 0 {
		t.Fatalf("memory accounting went negative: %d", stats.MemoryUsageBytes)
	}
	if stats.MemoryUsageBytes > 4<<10 {
		t.Fatalf("memory budget exceeded: %d", stats.MemoryUsageBytes)
	}
	if stats.Hits+stats.Misses == 0 {
		t.Fatalf("expected recorded cache traffic")
	}
}
