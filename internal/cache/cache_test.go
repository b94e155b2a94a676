package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb, nil, zerolog.Nop())
}

func TestStore_SetThenGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "k1", map[string]any{"a": 1}, time.Minute)

	var out map[string]any
	hit, err := store.Get(ctx, "k1", &out)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, float64(1), out["a"])
}

func TestStore_GetOnMissingKeyIsCleanMiss(t *testing.T) {
	store := newTestStore(t)
	var out map[string]any
	hit, err := store.Get(context.Background(), "missing", &out)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestEnrichmentCache_KeyIsStableForSameDomainAndEmail(t *testing.T) {
	c := NewEnrichmentCache(newTestStore(t), 0)
	k1 := c.Key("https://acme.com", "lead@acme.com")
	k2 := c.Key("https://acme.com", "LEAD@acme.com")
	require.Equal(t, k1, k2, "email bucketing should be case-insensitive")
}

func TestEnrichmentCache_PutThenGetRoundTrips(t *testing.T) {
	c := NewEnrichmentCache(newTestStore(t), time.Minute)
	ctx := context.Background()
	key := c.Key("https://acme.com", "lead@acme.com")

	type session struct {
		Domain string `json:"domain"`
	}
	c.Put(ctx, key, session{Domain: "acme.com"})

	var out session
	hit, err := c.Get(ctx, key, &out)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "acme.com", out.Domain)
}

func TestStageCache_KeyDependsOnFullInputSet(t *testing.T) {
	c := NewStageCache(newTestStore(t), 0)
	k1 := c.Key(3, map[string]any{"company": "Acme", "industry": "SaaS"})
	k2 := c.Key(3, map[string]any{"company": "Acme", "industry": "Fintech"})
	require.NotEqual(t, k1, k2)
}

func TestStageCache_KeyIsOrderIndependentOverMapInputs(t *testing.T) {
	c := NewStageCache(newTestStore(t), 0)
	k1 := c.Key(1, map[string]any{"a": 1, "b": 2})
	k2 := c.Key(1, map[string]any{"b": 2, "a": 1})
	require.Equal(t, k1, k2)
}
