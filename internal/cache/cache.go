// Package cache implements C3 (Enrichment Cache) and C6 (Stage Cache):
// content-addressed, Redis-backed stores with independent TTLs.
// Grounded on the teacher's caching.Engine (services/gateway/caching),
// trading its in-memory namespace/vector-similarity design for exact
// content-addressed keys backed by Redis, per the teacher's own doc
// comment that "production deployments should back this with Redis".
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/metrics"
)

// Store is the minimal Redis-backed get/set/delete surface both the
// enrichment and stage caches build on.
type Store struct {
	rdb     *redis.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewStore wraps a Redis client. m may be nil, e.g. in tests that don't
// care about instrumentation.
func NewStore(rdb *redis.Client, m *metrics.Metrics, logger zerolog.Logger) *Store {
	return &Store{rdb: rdb, metrics: m, logger: logger.With().Str("component", "cache_store").Logger()}
}

// cacheName reports the logical cache a key belongs to, from its
// colon-delimited prefix ("enrichment:...", "enrichment_id:...",
// "stage:..."), for the CacheHitsTotal/CacheMissesTotal label.
func cacheName(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return "unknown"
}

// Get reads and JSON-decodes a value. Returns (false, nil) on a clean
// miss and always a nil error on a Redis-layer failure — reads are
// best-effort per §4.6, callers fall through to fresh execution rather
// than surfacing a cache error.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.recordMiss(key)
		return false, nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, falling through")
		s.recordMiss(key)
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache entry corrupt, treating as miss")
		s.recordMiss(key)
		return false, nil
	}
	s.recordHit(key)
	return true, nil
}

func (s *Store) recordHit(key string) {
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(cacheName(key)).Inc()
	}
}

func (s *Store) recordMiss(key string) {
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues(cacheName(key)).Inc()
	}
}

// Set JSON-encodes and writes a value with a TTL. Writes are
// best-effort: failures are logged and swallowed (§4.6).
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed, not writing")
		return
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Delete removes a key. Used by explicit invalidation paths only; not
// part of the best-effort read/write contract.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return apperr.New(apperr.KindCacheFailure, "cache_delete_failed", "could not delete cache key", err)
	}
	return nil
}

// contentHash returns the sha256 hex digest of a value's canonical JSON
// encoding. encoding/json sorts map[string]any keys on marshal, which
// is what makes repeated calls with equal-but-differently-ordered input
// maps hash identically.
func contentHash(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		raw, err := json.Marshal(p)
		if err != nil {
			raw = []byte(fmt.Sprintf("%v", p))
		}
		h.Write(raw)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
