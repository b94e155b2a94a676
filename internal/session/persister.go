package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/enrichment"
	"github.com/strategyai/leadforge/internal/store"
)

// StoreBackedPersister implements enrichment.SessionPersister over the
// durable enrichment_sessions relation, write-behind of the hot
// Redis-backed internal/cache.EnrichmentCache path: a lookup never
// depends on it, so a failure to persist only costs operator
// visibility, never a run.
type StoreBackedPersister struct {
	sessions store.EnrichmentSessionStore
	logger   zerolog.Logger
}

func NewStoreBackedPersister(sessions store.EnrichmentSessionStore, logger zerolog.Logger) *StoreBackedPersister {
	return &StoreBackedPersister{sessions: sessions, logger: logger.With().Str("component", "session_persister").Logger()}
}

// Persist satisfies internal/enrichment.SessionPersister. UserEmail is
// left at its zero value: Session itself doesn't carry the requester's
// email past cache-key derivation, and the row is still addressable by
// SessionID and CacheKey without it.
func (p *StoreBackedPersister) Persist(ctx context.Context, sess *enrichment.Session) error {
	row := &store.EnrichmentSessionRow{
		SessionID:    sess.ID,
		CacheKey:     sess.CacheKey,
		WebsiteURL:   sess.Domain,
		SessionData:  sess.Fields,
		Status:       string(sess.Status),
		TotalCostUSD: sess.TotalCostUSD,
		ExpiresAt:    sess.StartedAt.Add(sess.TTL),
	}
	return p.sessions.Upsert(ctx, row)
}

// StoreBackedStageCache implements internal/analysis's unexported
// stageCacheDurable over the durable stage_cache relation, mirroring
// the Redis-backed internal/cache.StageCache write-behind so §6.2's
// relation stays populated for operator visibility (total hit counts,
// cost saved) that a Redis flush would otherwise erase.
type StoreBackedStageCache struct {
	stages store.StageCacheStore
	logger zerolog.Logger
}

func NewStoreBackedStageCache(stages store.StageCacheStore, logger zerolog.Logger) *StoreBackedStageCache {
	return &StoreBackedStageCache{stages: stages, logger: logger.With().Str("component", "stage_cache_store").Logger()}
}

func (s *StoreBackedStageCache) Upsert(ctx context.Context, stageName, cacheKey string, result map[string]any, expiresAt time.Time) error {
	err := s.stages.UpsertStageCache(ctx, &store.StageCacheRow{
		StageName: stageName,
		CacheKey:  cacheKey,
		Result:    result,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("stage", stageName).Msg("failed to persist stage cache row")
	}
	return err
}

func (s *StoreBackedStageCache) RecordHit(ctx context.Context, stageName, cacheKey string, costSavedUSD float64) error {
	err := s.stages.RecordHit(ctx, stageName, cacheKey, costSavedUSD)
	if err != nil {
		s.logger.Warn().Err(err).Str("stage", stageName).Msg("failed to record stage cache hit")
	}
	return err
}
