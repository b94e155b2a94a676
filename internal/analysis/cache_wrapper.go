package analysis

import (
	"context"
	"time"

	"github.com/strategyai/leadforge/internal/cache"
)

// stageCacheInputs is the full argument set a stage cache key is
// derived from. It must mirror every argument the stage function
// itself receives — omitting one is the "canonical bug" §4.6 warns
// against, since a cache-miss fallback would then invoke the stage
// with a different argument set than a cache hit would have reused.
type stageCacheInputs struct {
	Company  string         `json:"company"`
	Industry string         `json:"industry"`
	Kwargs   map[string]any `json:"kwargs"`
}

// withStageCache wraps a StageFunc so that identical
// (stage_id, company, industry, kwargs) reuses the cached output
// instead of invoking the underlying stage again. Reads and writes
// against sc are best-effort (internal/cache.StageCache already
// degrades to a clean miss on any store failure); this wrapper's only
// job is to always call fn with the full original argument set on a
// miss. durable mirrors the same hit/write into the operator-visible
// stage_cache relation; a durable failure is logged-away by the caller,
// not surfaced, since Redis stays the source of truth for reuse.
func withStageCache(id StageID, sc stageCacher, durable stageCacheDurable, fn StageFunc) StageFunc {
	name := stageName(id)
	return func(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
		key := sc.Key(int(id), stageCacheInputs{Company: company, Industry: industry, Kwargs: kwargs})

		var cached cachedStageOutput
		if hit, _ := sc.Get(ctx, key, &cached); hit {
			_ = durable.RecordHit(ctx, name, key, cached.CostUSD)
			return cached.toStageOutput(), nil
		}

		out, err := fn(ctx, company, industry, kwargs)
		if err != nil {
			return out, err
		}

		sc.Put(ctx, key, cachedStageOutput{
			Data:      out.Data,
			TokensIn:  out.TokensIn,
			TokensOut: out.TokensOut,
			CostUSD:   out.CostUSD,
			CachedAt:  time.Now(),
		})
		_ = durable.Upsert(ctx, name, key, out.Data, time.Now().Add(cache.StageCacheTTLDefault))
		return out, nil
	}
}

// cachedStageOutput is the JSON-serializable form persisted to the
// stage cache; StageOutput itself stays the in-process return type.
type cachedStageOutput struct {
	Data      map[string]any `json:"data"`
	TokensIn  int            `json:"tokens_in"`
	TokensOut int            `json:"tokens_out"`
	CostUSD   float64        `json:"cost_usd"`
	CachedAt  time.Time      `json:"cached_at"`
}

func (c cachedStageOutput) toStageOutput() StageOutput {
	return StageOutput{Data: c.Data, TokensIn: c.TokensIn, TokensOut: c.TokensOut, CostUSD: c.CostUSD}
}
