package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/enrichment"
	"github.com/strategyai/leadforge/internal/store"
)

type fakeEditLedgerStore struct {
	mu      sync.Mutex
	entries []*store.UserFieldEdit
	// domainBySession fakes the enrichment_sessions join CountEditsForDomain relies on.
	domainBySession map[string]string
}

func newFakeEditLedgerStore() *fakeEditLedgerStore {
	return &fakeEditLedgerStore{domainBySession: map[string]string{}}
}

func (f *fakeEditLedgerStore) Append(ctx context.Context, edit *store.UserFieldEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, edit)
	return nil
}

func (f *fakeEditLedgerStore) CountEdits(ctx context.Context, sessionID, field string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.SessionID == sessionID && e.FieldName == field {
			n++
		}
	}
	return n, nil
}

func (f *fakeEditLedgerStore) CountEditsForDomain(ctx context.Context, domain, field string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if f.domainBySession[e.SessionID] == domain && e.FieldName == field {
			n++
		}
	}
	return n, nil
}

func newTestEnrichmentCache(t *testing.T) *cache.EnrichmentCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewEnrichmentCache(cache.NewStore(rdb, nil, zerolog.Nop()), time.Hour)
}

func TestLoader_EmptySessionIDDegradesToFormFields(t *testing.T) {
	l := NewLoader(newTestEnrichmentCache(t), newFakeEditLedgerStore(), zerolog.Nop())
	res := l.Load(context.Background(), "", map[string]any{"name": "Acme"})
	assert.Equal(t, map[string]any{"name": "Acme"}, res.Fields)
	assert.Empty(t, res.SessionID)
	assert.Empty(t, res.EditedFields)
}

func TestLoader_MissingSessionDegradesToFormFields(t *testing.T) {
	l := NewLoader(newTestEnrichmentCache(t), newFakeEditLedgerStore(), zerolog.Nop())
	res := l.Load(context.Background(), "does-not-exist", map[string]any{"name": "Acme"})
	assert.Equal(t, map[string]any{"name": "Acme"}, res.Fields)
}

func TestLoader_UserValueWinsAndIsRecordedInLedger(t *testing.T) {
	ec := newTestEnrichmentCache(t)
	ledger := newFakeEditLedgerStore()
	l := NewLoader(ec, ledger, zerolog.Nop())

	sess := enrichment.NewSession("sess-1", "cachekey", "acme.com", time.Hour)
	sess.Fields["name"] = "Acme LLC"
	sess.Fields["state"] = "SP"
	ec.Put(context.Background(), ec.KeyByID("sess-1"), sess)

	res := l.Load(context.Background(), "sess-1", map[string]any{"name": "Acme Corrected"})

	assert.Equal(t, "Acme Corrected", res.Fields["name"])
	assert.Equal(t, "SP", res.Fields["state"], "fields the user didn't touch survive from the cached session")
	assert.Equal(t, []string{"name"}, res.EditedFields)

	count, err := ledger.CountEdits(context.Background(), "sess-1", "name")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLoader_UserValueMatchingCachedValueIsNotRecordedAsAnEdit(t *testing.T) {
	ec := newTestEnrichmentCache(t)
	ledger := newFakeEditLedgerStore()
	l := NewLoader(ec, ledger, zerolog.Nop())

	sess := enrichment.NewSession("sess-2", "cachekey", "acme.com", time.Hour)
	sess.Fields["name"] = "Acme LLC"
	ec.Put(context.Background(), ec.KeyByID("sess-2"), sess)

	res := l.Load(context.Background(), "sess-2", map[string]any{"name": "Acme LLC"})
	assert.Empty(t, res.EditedFields)

	count, err := ledger.CountEdits(context.Background(), "sess-2", "name")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLoader_ExpiredSessionDegradesToFormFields(t *testing.T) {
	ec := newTestEnrichmentCache(t)
	ledger := newFakeEditLedgerStore()
	l := NewLoader(ec, ledger, zerolog.Nop())

	sess := enrichment.NewSession("sess-3", "cachekey", "acme.com", -time.Hour)
	sess.Fields["name"] = "Acme LLC"
	ec.Put(context.Background(), ec.KeyByID("sess-3"), sess)

	res := l.Load(context.Background(), "sess-3", map[string]any{"name": "Acme Corrected"})
	assert.Equal(t, map[string]any{"name": "Acme Corrected"}, res.Fields)
}

func TestStoreBackedLedger_EditCountDelegatesToStore(t *testing.T) {
	ledger := newFakeEditLedgerStore()
	ledger.entries = append(ledger.entries, &store.UserFieldEdit{SessionID: "s1", FieldName: "name"})
	ledger.domainBySession["s1"] = "acme.com"

	l := NewStoreBackedLedger(ledger, zerolog.Nop())
	assert.Equal(t, 1, l.EditCount(context.Background(), "acme.com", "name"))
	assert.Equal(t, 0, l.EditCount(context.Background(), "other.com", "name"))
}
