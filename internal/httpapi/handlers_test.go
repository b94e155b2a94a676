package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategyai/leadforge/internal/analysis"
	"github.com/strategyai/leadforge/internal/breaker"
	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/enrichment"
	"github.com/strategyai/leadforge/internal/llm"
	"github.com/strategyai/leadforge/internal/session"
	"github.com/strategyai/leadforge/internal/source"
	"github.com/strategyai/leadforge/internal/store"
)

// fastSource is a single-layer stub EnrichmentSource returning
// immediately, so orchestrator runs finish well inside a test timeout.
type fastSource struct{}

func (fastSource) Name() string           { return "metadata" }
func (fastSource) Layer() source.Layer    { return source.Layer1 }
func (fastSource) Timeout() time.Duration { return time.Second }
func (fastSource) CostEstimate() float64  { return 0 }
func (fastSource) Enrich(ctx context.Context, domain string, hints source.Hints) source.Result {
	return source.Result{Success: true, Data: map[string]any{"company_name": "Acme Corp"}}
}

// stubLLMClient returns canned JSON satisfying whatever schema it is
// asked for, mirroring internal/analysis's own test double.
type stubLLMClient struct{}

func (stubLLMClient) Call(ctx context.Context, model, systemPrompt, userPrompt string, schema *llm.Schema) (*llm.Response, error) {
	body := map[string]any{}
	for _, k := range schema.RequiredKeys {
		body[k] = map[string]any{"stub": true}
	}
	raw, _ := json.Marshal(body)
	return &llm.Response{Content: string(raw), TokensIn: 5, TokensOut: 5, CostUSD: 0.0001}, nil
}

type fakeEditLedgerStore struct{}

func (fakeEditLedgerStore) Append(ctx context.Context, edit *store.UserFieldEdit) error { return nil }
func (fakeEditLedgerStore) CountEdits(ctx context.Context, sessionID, field string) (int, error) {
	return 0, nil
}
func (fakeEditLedgerStore) CountEditsForDomain(ctx context.Context, domain, field string) (int, error) {
	return 0, nil
}

// fakeSubmissionStore is an in-memory store.SubmissionStore for tests.
type fakeSubmissionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*store.Submission
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{rows: map[int64]*store.Submission{}}
}

func (f *fakeSubmissionStore) Create(ctx context.Context, s *store.Submission) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *s
	cp.ID = f.nextID
	f.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeSubmissionStore) Get(ctx context.Context, id int64) (*store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return row, nil
}

func (f *fakeSubmissionStore) UpdateProcessingState(ctx context.Context, id int64, state store.ProcessingState, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.ProcessingState = state
		row.ErrorMessage = errMsg
	}
	return nil
}

func (f *fakeSubmissionStore) UpdateReport(ctx context.Context, id int64, report map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.ReportJSON = report
	}
	return nil
}

func (f *fakeSubmissionStore) UpdateUserStatus(ctx context.Context, id int64, status store.UserStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.UserStatus = status
	}
	return nil
}

func (f *fakeSubmissionStore) ListRecent(ctx context.Context, limit int) ([]*store.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissionStore) snapshot(id int64) store.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

type harness struct {
	handlers *Handlers
	router   http.Handler
	subs     *fakeSubmissionStore
	ec       *cache.EnrichmentCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cstore := cache.NewStore(rdb, nil, logger)
	ec := cache.NewEnrichmentCache(cstore, time.Hour)
	sc := cache.NewStageCache(cstore, time.Hour)

	registry := source.NewRegistry()
	registry.Register(fastSource{})
	breakers := breaker.NewRegistry(logger)
	orchestrator := enrichment.NewOrchestrator(registry, breakers, ec, nil, nil, nil, logger)

	stages := analysis.NewStages(stubLLMClient{})
	pipeline := analysis.NewPipeline(stages, sc, nil, nil, logger)

	loader := session.NewLoader(ec, fakeEditLedgerStore{}, logger)
	subs := newFakeSubmissionStore()

	h := NewHandlers(orchestrator, pipeline, loader, subs, ec, nil, logger)
	router := NewRouter(h, Options{AllowedOrigins: []string{"*"}, PerIPDailyQuota: 0, MaxBodyBytes: 1 << 20}, logger)

	return &harness{handlers: h, router: router, subs: subs, ec: ec}
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestHealthz_ReturnsOK(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEnrich_InvalidBodyReturnsValidationError(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/form/enrich", bytes.NewBufferString(`{"url":""}`))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.False(t, env.Success)
	assert.Equal(t, "validation", env.Error.Code)
}

func TestEnrich_ValidBodyReturnsSessionAndCompletesRunInBackground(t *testing.T) {
	h := newHarness(t)
	body, _ := json.Marshal(enrichRequest{URL: "https://acme.com", Email: "lead@acme.com"})
	req := httptest.NewRequest(http.MethodPost, "/api/form/enrich", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	require.True(t, env.Success)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	sessionID, _ := data["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "/api/form/stream/"+sessionID, data["stream_url"])

	// Give the background goroutine a moment to finish the (fast, single
	// adapter) enrichment run before asserting the session landed in cache.
	require.Eventually(t, func() bool {
		var sess enrichment.Session
		hit, _ := h.ec.Get(context.Background(), h.ec.KeyByID(sessionID), &sess)
		return hit && sess.Status == enrichment.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamEnrichment_UnknownSessionReturnsNotFound(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/form/stream/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_ReturnsCachedSessionOr404(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/form/session/nope", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sess := enrichment.NewSession("sess-live", "key", "acme.com", time.Hour)
	sess.Fields["name"] = "Acme"
	h.ec.Put(context.Background(), h.ec.KeyByID("sess-live"), sess)

	req = httptest.NewRequest(http.MethodGet, "/api/form/session/sess-live", nil)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.Success)
}

func TestSubmit_RunsPipelineAndPersistsReport(t *testing.T) {
	h := newHarness(t)
	body, _ := json.Marshal(submitRequest{
		Name: "Jane", Email: "jane@acme.com", Company: "Acme", Website: "acme.com", Industry: "retail",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	id := int64(data["id"].(float64))
	require.NotZero(t, id)

	require.Eventually(t, func() bool {
		return h.subs.snapshot(id).ProcessingState == store.ProcessingCompleted
	}, 5*time.Second, 10*time.Millisecond)

	final := h.subs.snapshot(id)
	assert.NotNil(t, final.ReportJSON)
}

func TestSubmit_MissingRequiredFieldReturnsValidationError(t *testing.T) {
	h := newHarness(t)
	body, _ := json.Marshal(submitRequest{Email: "jane@acme.com"})
	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailyQuota_BlocksAfterLimitReached(t *testing.T) {
	logger := zerolog.Nop()
	q := newDailyQuota(1, logger)
	handler := q.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	assert.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestMiddlewareChain_SetsSecurityAndRequestIDHeaders(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMaxBodyBytes_RejectsOversizedRequest(t *testing.T) {
	h := newHarness(t)
	big := strings.Repeat("a", 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/form/enrich", bytes.NewBufferString(big))
	req.ContentLength = int64(len(big))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
