package cache

import (
	"context"
	"time"
)

// StageCacheTTLDefault is §4.6's fixed TTL: 7 days.
const StageCacheTTLDefault = 7 * 24 * time.Hour

// StageCache is C6: keyed by sha256(stage_id ++ canonical_json(inputs)),
// so that re-running the pipeline with unchanged upstream inputs for a
// given stage reuses that stage's output rather than re-invoking the LLM.
type StageCache struct {
	store *Store
	ttl   time.Duration
}

func NewStageCache(store *Store, ttl time.Duration) *StageCache {
	if ttl <= 0 {
		ttl = StageCacheTTLDefault
	}
	return &StageCache{store: store, ttl: ttl}
}

// Key computes the stage cache key for a stage id and its full input
// set. Inputs must include every argument the stage function takes
// (the uniform `(company, industry, ...stage_kwargs)` signature from
// §4.8) — omitting any of them is the canonical bug §4.6 warns against,
// since a fallback to fresh execution would then call the stage with a
// different argument set than a cache hit would have reused.
func (c *StageCache) Key(stageID int, inputs any) string {
	return "stage:" + contentHash("stage", stageID, inputs)
}

// Get is best-effort: a store-layer failure already degrades to (false,
// nil) inside Store.Get, so callers only need to branch on the hit bool.
func (c *StageCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	return c.store.Get(ctx, key, dest)
}

// Put writes a stage result. Best-effort; failures are logged by Store
// and otherwise ignored (§4.6).
func (c *StageCache) Put(ctx context.Context, key string, result any) {
	c.store.Set(ctx, key, result, c.ttl)
}
