package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/strategyai/leadforge/internal/breaker"
	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/events"
	"github.com/strategyai/leadforge/internal/source"
)

type stubSource struct {
	name     string
	layer    source.Layer
	timeout  time.Duration
	cost     float64
	data     map[string]any
	success  bool
	errKind  string
	delay    time.Duration
}

func (s stubSource) Name() string          { return s.name }
func (s stubSource) Layer() source.Layer   { return s.layer }
func (s stubSource) Timeout() time.Duration { return s.timeout }
func (s stubSource) CostEstimate() float64  { return s.cost }

func (s stubSource) Enrich(ctx context.Context, domain string, hints source.Hints) source.Result {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return source.Result{Success: false, Cost: s.cost}
		}
	}
	if !s.success {
		return source.Result{Success: false, Cost: s.cost}
	}
	return source.Result{Success: true, Data: s.data, Cost: s.cost}
}

func newTestOrchestrator(t *testing.T, sources ...source.Source) *Orchestrator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewStore(rdb, nil, zerolog.Nop())
	ec := cache.NewEnrichmentCache(store, time.Hour)

	registry := source.NewRegistry()
	for _, s := range sources {
		registry.Register(s)
	}

	breakers := breaker.NewRegistry(zerolog.Nop())
	return NewOrchestrator(registry, breakers, ec, nil, nil, nil, zerolog.Nop())
}

func TestOrchestrator_Run_MergesAndTranslatesFieldsAcrossLayers(t *testing.T) {
	o := newTestOrchestrator(t,
		stubSource{name: "metadata", layer: source.Layer1, timeout: time.Second, success: true, data: map[string]any{"company_name": "Acme"}},
		stubSource{name: "registry", layer: source.Layer2, timeout: time.Second, success: true, cost: 0.01, data: map[string]any{"legal_name": "Acme Ltda", "region": "SP"}},
	)

	stream := events.NewStream("test", nil)
	session, err := o.Run(context.Background(), "session-1", "acme.com", "lead@acme.com", stream)
	require.NoError(t, err)

	require.Equal(t, StatusComplete, session.Status)
	require.Equal(t, "Acme Ltda", session.Fields["name"], "higher-prior registry should win the name field")
	require.Equal(t, "Acme Ltda", session.Fields["legal_name"])
	require.Equal(t, "SP", session.Fields["state"])
	require.InDelta(t, 0.01, session.TotalCostUSD, 0.0001)

	drained, _ := stream.drain()
	require.NotEmpty(t, drained)
	require.Equal(t, events.KindEnrichmentStarted, drained[0].Kind)
}

func TestOrchestrator_Run_CacheHitShortCircuitsWithSyntheticEvent(t *testing.T) {
	o := newTestOrchestrator(t,
		stubSource{name: "metadata", layer: source.Layer1, timeout: time.Second, success: true, data: map[string]any{"company_name": "Acme"}},
	)

	ctx := context.Background()
	first := events.NewStream("test", nil)
	session1, err := o.Run(ctx, "session-1", "acme.com", "lead@acme.com", first)
	require.NoError(t, err)
	o.cache.Put(ctx, session1.CacheKey, session1)

	second := events.NewStream("test", nil)
	session2, err := o.Run(ctx, "session-2", "acme.com", "lead@acme.com", second)
	require.NoError(t, err)
	require.Equal(t, session1.CacheKey, session2.CacheKey)
	require.Equal(t, "session-2", session2.ID, "the freshly minted id must be the one returned, not the cache donor's")

	drained, _ := second.drain()
	require.Len(t, drained, 1)
	require.Equal(t, events.KindLayer3Complete, drained[0].Kind)
	require.Equal(t, true, drained[0].Payload["from_cache"])
}

func TestOrchestrator_Run_BreakerOpenSourceIsSkippedWithoutNetworkCall(t *testing.T) {
	failing := stubSource{name: "places", layer: source.Layer2, timeout: 50 * time.Millisecond, success: false}
	o := newTestOrchestrator(t, failing)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := "session-" + string(rune('a'+i))
		_, _ = o.Run(ctx, id, "acme-"+string(rune('a'+i))+".com", "lead@acme.com", events.NewStream("test", nil))
	}

	require.True(t, o.breakers.IsOpen("places"), "three consecutive failures should open the breaker")
}
