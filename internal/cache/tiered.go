package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMemoryBudget caps the memory tier at 512 MiB.
	DefaultMemoryBudget = 512 << 20

	// DefaultDiskThreshold routes entries of 1 MiB and above to disk.
	DefaultDiskThreshold = 1 << 20

	// DefaultSweepInterval is how often the background sweep removes
	// expired entries from both tiers.
	DefaultSweepInterval = 30 * time.Minute

	diskFileSuffix = ".json"
)

// TieredConfig configures a TieredStore.
type TieredConfig struct {
	Dir           string
	MemoryBudget  int64
	DiskThreshold int64
	SweepInterval time.Duration
}

// WithDefaults returns a copy of the config with defaults applied.
func (c TieredConfig) WithDefaults() TieredConfig {
	cfg := c
	if cfg.MemoryBudget <= 0 {
		cfg.MemoryBudget = DefaultMemoryBudget
	}
	if cfg.DiskThreshold <= 0 {
		cfg.DiskThreshold = DefaultDiskThreshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return cfg
}

// TieredStore keeps small hot entries in memory and large ones on disk,
// one JSON file per key. The memory tier is bounded by a byte budget and
// evicts least-recently-accessed entries first; a disk-tier hit promotes
// the entry into memory.
//
// The index mutex guards the memory map, size accounting, and counters.
// Disk byte I/O happens outside that lock so slow disk operations never
// block unrelated memory-tier traffic; file writes and removals are
// serialized by a dedicated disk mutex so two writers cannot corrupt the
// same key's file.
type TieredStore struct {
	cfg    TieredConfig
	logger *zap.Logger

	mu          sync.Mutex
	memory      map[string]*Entry
	memoryUsage int64
	seq         uint64
	stats       statsCollector

	diskMu sync.Mutex

	sweepOnce sync.Once
	closeOnce sync.Once
	stopSweep chan struct{}
}

// NewTieredStore creates the store and its cache directory.
func NewTieredStore(cfg TieredConfig, logger *zap.Logger) (*TieredStore, error) {
	cfg = cfg.WithDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("cache: Dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create cache dir: %w", err)
	}

	return &TieredStore{
		cfg:       cfg,
		logger:    logger.Named("cache"),
		memory:    make(map[string]*Entry),
		stopSweep: make(chan struct{}),
	}, nil
}

// Get returns the cached value for key, or ok == false on a miss. Disk
// hits are promoted into the memory tier. Corrupt disk entries are
// self-healing: the file is deleted, the incident logged, and the caller
// sees an ordinary miss.
func (s *TieredStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now()

	s.mu.Lock()
	if e, ok := s.memory[key]; ok {
		if e.Expired(now) {
			s.dropMemoryLocked(key, e)
			s.stats.misses++
			s.mu.Unlock()
			return nil, false, nil
		}
		e.touch(now)
		s.stats.hits++
		// Copy so callers cannot mutate the cached entry.
		value := append([]byte(nil), e.Value...)
		s.mu.Unlock()
		return value, true, nil
	}
	s.mu.Unlock()

	// Disk tier. The read happens outside the index lock.
	path := s.diskPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("disk tier read failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		s.countMiss()
		return nil, false, nil
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.logger.Warn("corrupt cache file removed",
			zap.String("key", key),
			zap.String("path", path),
			zap.Error(err),
		)
		s.removeDiskFile(key)
		s.countMiss()
		return nil, false, nil
	}

	if e.Expired(now) {
		s.removeDiskFile(key)
		s.countMiss()
		return nil, false, nil
	}

	e.touch(now)

	// A Set for this key may have completed while the disk read was in
	// flight. Its value is newer than the file we just read, so the
	// memory entry wins.
	s.mu.Lock()
	if cur, ok := s.memory[key]; ok && !cur.Expired(now) {
		cur.touch(now)
		s.stats.hits++
		value := append([]byte(nil), cur.Value...)
		s.mu.Unlock()
		return value, true, nil
	}
	s.stats.hits++
	s.stats.diskReads++
	s.mu.Unlock()

	if e.SizeBytes <= s.cfg.MemoryBudget {
		s.promote(key, &e)
	}

	return append([]byte(nil), e.Value...), true, nil
}

// promote moves a disk-read entry into the memory tier. The file must
// still hold the entry we read: a Set, Delete, or Clear that removed or
// replaced it while the read was in flight has superseded the copy we
// hold, and installing that copy anyway would resurrect stale data.
func (s *TieredStore) promote(key string, e *Entry) {
	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	path := s.diskPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var cur Entry
	if err := json.Unmarshal(data, &cur); err != nil || !cur.CreatedAt.Equal(e.CreatedAt) {
		return
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove cache file",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		// Leave the entry on disk rather than hold it in both tiers.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memory[key]; ok {
		return
	}
	s.ensureCapacityLocked(e.SizeBytes)
	e.seq = s.nextSeqLocked()
	s.memory[key] = e
	s.memoryUsage += e.SizeBytes
}

// Set caches value under key for ttl. Values below the disk threshold go
// to the memory tier, evicting LRU entries to fit the budget; values at or
// above it, or too large for the entire budget, go to disk. Disk I/O
// failures degrade to "not cached": caching is an optimization and must
// never fail the caller's business operation.
func (s *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, namespace string) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	// Copy to decouple from the caller's buffer.
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	now := time.Now()
	e := &Entry{
		Key:          key,
		Namespace:    namespace,
		Value:        valueCopy,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		SizeBytes:    int64(len(valueCopy)),
	}

	if e.SizeBytes >= s.cfg.DiskThreshold || e.SizeBytes > s.cfg.MemoryBudget {
		return s.setDisk(key, e)
	}

	s.mu.Lock()
	if old, ok := s.memory[key]; ok {
		s.memoryUsage -= old.SizeBytes
		delete(s.memory, key)
	}
	s.ensureCapacityLocked(e.SizeBytes)
	e.seq = s.nextSeqLocked()
	s.memory[key] = e
	s.memoryUsage += e.SizeBytes
	s.mu.Unlock()

	// An entry resides in exactly one tier: drop any stale disk copy
	// left by an earlier, larger value for the same key.
	s.removeDiskFile(key)

	return nil
}

func (s *TieredStore) setDisk(key string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		// The computed result stays with the caller; only caching fails.
		return fmt.Errorf("cache: serialize entry %q: %w", key, err)
	}

	s.diskMu.Lock()
	err = s.writeDiskFile(s.diskPath(key), data)
	s.diskMu.Unlock()

	if err != nil {
		s.logger.Warn("disk tier write failed, entry not cached",
			zap.String("key", key),
			zap.Int64("size_bytes", e.SizeBytes),
			zap.Error(err),
		)
		return nil
	}

	s.mu.Lock()
	s.stats.diskWrites++
	if old, ok := s.memory[key]; ok {
		s.dropMemoryLocked(key, old)
	}
	s.mu.Unlock()

	return nil
}

// writeDiskFile writes to a temp file and renames it into place so a
// concurrent Get never observes a partially-written entry.
func (s *TieredStore) writeDiskFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.cfg.Dir, "write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes key from whichever tier holds it. No-op if absent.
// The disk file goes first: once it is gone an in-flight promotion
// backs off, and the memory drop below then covers a promotion that
// slipped in earlier.
func (s *TieredStore) Delete(_ context.Context, key string) error {
	s.removeDiskFile(key)

	s.mu.Lock()
	if e, ok := s.memory[key]; ok {
		s.dropMemoryLocked(key, e)
	}
	s.mu.Unlock()

	return nil
}

// Clear removes every entry under namespace, or everything when namespace
// is empty. Entries of other namespaces are untouched. As in Delete, the
// disk tier is cleared before the memory tier so concurrent promotions
// cannot resurrect a cleared key.
func (s *TieredStore) Clear(_ context.Context, namespace string) error {
	names, err := s.diskFileNames()
	if err != nil {
		return err
	}

	s.diskMu.Lock()
	for _, name := range names {
		if namespace != "" && !strings.HasPrefix(name, namespace+":") {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.Dir, name+diskFileSuffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove cache file",
				zap.String("key", name),
				zap.Error(err),
			)
		}
	}
	s.diskMu.Unlock()

	s.mu.Lock()
	for key, e := range s.memory {
		if namespace == "" || e.Namespace == namespace {
			s.dropMemoryLocked(key, e)
		}
	}
	s.mu.Unlock()

	return nil
}

// CleanupExpired scans both tiers and removes entries whose TTL has
// elapsed, returning the number removed. Corrupt disk files found along
// the way are removed and counted as well. Run this from the background
// sweeper so expired large disk entries do not linger indefinitely.
func (s *TieredStore) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for key, e := range s.memory {
		if e.Expired(now) {
			s.dropMemoryLocked(key, e)
			removed++
		}
	}
	s.mu.Unlock()

	names, err := s.diskFileNames()
	if err != nil {
		return removed, err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		path := filepath.Join(s.cfg.Dir, name+diskFileSuffix)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			s.logger.Warn("corrupt cache file removed during sweep",
				zap.String("path", path),
				zap.Error(err),
			)
			if s.removeDiskFile(name) {
				removed++
			}
			continue
		}

		if e.Expired(now) {
			if s.removeDiskFile(name) {
				removed++
			}
		}
	}

	return removed, nil
}

// Stats returns a snapshot of the cumulative counters since process start.
func (s *TieredStore) Stats() Stats {
	names, err := s.diskFileNames()
	if err != nil {
		s.logger.Warn("failed to list cache dir for stats", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.snapshot(len(s.memory), len(names), s.memoryUsage, s.cfg.MemoryBudget)
}

// StartSweeper launches the periodic expiry sweep. At most one sweeper
// runs per store; subsequent calls are no-ops.
func (s *TieredStore) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.SweepInterval
	}

	s.sweepOnce.Do(func() {
		go s.sweepLoop(interval)
	})
}

func (s *TieredStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.CleanupExpired(context.Background())
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expiry sweep removed entries", zap.Int("removed", n))
			}
		case <-s.stopSweep:
			return
		}
	}
}

// Close stops the background sweeper. Call on shutdown or in tests.
func (s *TieredStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
	})
	return nil
}

// ensureCapacityLocked evicts least-recently-accessed memory entries until
// required bytes fit within the budget. Ties on LastAccessed break by
// insertion sequence, oldest first. Caller holds s.mu.
func (s *TieredStore) ensureCapacityLocked(required int64) {
	for s.memoryUsage+required > s.cfg.MemoryBudget && len(s.memory) > 0 {
		var victim *Entry
		var victimKey string
		for key, e := range s.memory {
			if victim == nil ||
				e.LastAccessed.Before(victim.LastAccessed) ||
				(e.LastAccessed.Equal(victim.LastAccessed) && e.seq < victim.seq) {
				victim = e
				victimKey = key
			}
		}
		s.dropMemoryLocked(victimKey, victim)
		s.stats.evictions++
	}
}

func (s *TieredStore) dropMemoryLocked(key string, e *Entry) {
	s.memoryUsage -= e.SizeBytes
	delete(s.memory, key)
}

func (s *TieredStore) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

func (s *TieredStore) countMiss() {
	s.mu.Lock()
	s.stats.misses++
	s.mu.Unlock()
}

func (s *TieredStore) diskPath(key string) string {
	return filepath.Join(s.cfg.Dir, key+diskFileSuffix)
}

// removeDiskFile deletes key's disk file under the disk mutex. Reports
// whether a file was actually removed.
func (s *TieredStore) removeDiskFile(key string) bool {
	s.diskMu.Lock()
	defer s.diskMu.Unlock()

	err := os.Remove(s.diskPath(key))
	if err == nil {
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove cache file",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return false
}

// diskFileNames lists the keys currently persisted in the disk tier.
func (s *TieredStore) diskFileNames() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("cache: read cache dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, diskFileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, diskFileSuffix))
	}
	return names, nil
}
