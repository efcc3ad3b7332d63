package cache

import (
	"context"
	"time"

	"protoscribe/internal/metrics"
	"protoscribe/pkg/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a Store with structured logging + Prometheus metrics.
type LoggingStore struct {
	inner Store
}

// NewLoggingStore returns a store that logs and records metrics around
// every operation.
func NewLoggingStore(inner Store) *LoggingStore {
	return &LoggingStore{inner: inner}
}

func (s *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	namespace := KeyNamespace(key)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "hit"
		metrics.CacheHitsTotal.WithLabelValues(namespace).Inc()
	default:
		metrics.CacheMissesTotal.WithLabelValues(namespace).Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("namespace", namespace),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_get", fields...)
	}

	return value, ok, err
}

func (s *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, namespace string) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, value, ttl, namespace)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("namespace", namespace),
		zap.Int("size_bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_set", fields...)
	}

	return err
}

func (s *LoggingStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	if err != nil {
		logging.L(ctx).Error("cache_delete",
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
	return err
}

func (s *LoggingStore) Clear(ctx context.Context, namespace string) error {
	err := s.inner.Clear(ctx, namespace)
	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_clear", zap.String("namespace", namespace), zap.Error(err))
	} else {
		logger.Info("cache_clear", zap.String("namespace", namespace))
	}
	return err
}

func (s *LoggingStore) CleanupExpired(ctx context.Context) (int, error) {
	removed, err := s.inner.CleanupExpired(ctx)
	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_cleanup", zap.Int("removed", removed), zap.Error(err))
	} else if removed > 0 {
		logger.Info("cache_cleanup", zap.Int("removed", removed))
	}
	return removed, err
}

func (s *LoggingStore) Stats() Stats {
	return s.inner.Stats()
}
