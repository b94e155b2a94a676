package enrichment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/breaker"
	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/events"
	"github.com/strategyai/leadforge/internal/metrics"
	"github.com/strategyai/leadforge/internal/source"
	"github.com/strategyai/leadforge/internal/translate"
)

// Layer budgets from §4.4's table.
const (
	Layer1Budget = 2 * time.Second
	Layer2Budget = 6 * time.Second
	Layer3Budget = 10 * time.Second
)

// cancellationGrace is the §4.4 bound: cancellation must propagate to
// every in-flight adapter call and return within this window.
const cancellationGrace = 500 * time.Millisecond

// EditLedger reports how many user edits have previously been observed
// for a field, feeding the confidence penalty in §4.4. Implemented by
// internal/session over the durable store; kept as a narrow interface
// here so this package never imports internal/session or internal/store.
type EditLedger interface {
	EditCount(ctx context.Context, domain, field string) int
}

// noEdits is the zero-value ledger used when no edit history is wired
// (e.g. a brand-new domain with no prior submissions).
type noEdits struct{}

func (noEdits) EditCount(context.Context, string, string) int { return 0 }

// SessionPersister durably records a session snapshot alongside the
// Redis-backed EnrichmentCache, so §6.2's enrichment_sessions relation
// stays populated as a write-behind of the hot Redis path rather than
// the only copy living in a cache that can be evicted or flushed.
// Implemented by internal/session over the durable store; kept as a
// narrow interface here for the same reason as EditLedger.
type SessionPersister interface {
	Persist(ctx context.Context, session *Session) error
}

// noPersist is the zero-value persister used when no durable store is
// wired — the session still works end to end off Redis alone.
type noPersist struct{}

func (noPersist) Persist(context.Context, *Session) error { return nil }

// Orchestrator is C4: runs the three enrichment layers, merges and
// scores fields, streams progress, and persists the session per layer.
type Orchestrator struct {
	sources  *source.Registry
	breakers *breaker.Registry
	cache    *cache.EnrichmentCache
	ledger   EditLedger
	sessions SessionPersister
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewOrchestrator wires the three enrichment layers. metrics may be nil
// in tests that don't care about instrumentation.
func NewOrchestrator(sources *source.Registry, breakers *breaker.Registry, ec *cache.EnrichmentCache, ledger EditLedger, sessions SessionPersister, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	if ledger == nil {
		ledger = noEdits{}
	}
	if sessions == nil {
		sessions = noPersist{}
	}
	return &Orchestrator{
		sources:  sources,
		breakers: breakers,
		cache:    ec,
		ledger:   ledger,
		sessions: sessions,
		metrics:  m,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

var layerBudgets = map[source.Layer]time.Duration{
	source.Layer1: Layer1Budget,
	source.Layer2: Layer2Budget,
	source.Layer3: Layer3Budget,
}

// Run executes the full three-layer enrichment for one (domain, email)
// pair (§4.4's algorithm). sessionID is minted by the caller (the HTTP
// layer, per §6.1) rather than here, so it can be handed back to the
// client before the run finishes. On a cache hit, Run rehomes the
// cached fields under the new sessionID — so the id the client was
// just given is always independently fetchable — and emits a
// synthetic layer3_complete instead of running any layer.
func (o *Orchestrator) Run(ctx context.Context, sessionID, rawDomain, requesterEmail string, stream *events.Stream) (*Session, error) {
	domain, err := source.NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	cacheKey := o.cache.Key(domain, requesterEmail)

	var cached Session
	if hit, _ := o.cache.Get(ctx, cacheKey, &cached); hit && !cached.Expired(time.Now()) {
		reused := cloneSessionWithID(&cached, sessionID)
		o.cache.Put(ctx, o.cache.KeyByID(sessionID), reused)
		stream.Publish(events.KindLayer3Complete, map[string]any{
			"session_id":  sessionID,
			"fields":      reused.Fields,
			"confidences": reused.Confidences,
			"cost_usd":    reused.TotalCostUSD,
			"from_cache":  true,
		})
		return reused, nil
	}

	session := NewSession(sessionID, cacheKey, domain, cache.EnrichmentCacheTTLDefault)
	stream.Publish(events.KindEnrichmentStarted, map[string]any{"session_id": session.ID, "domain": domain})

	totalFields := 0
	for _, layer := range []source.Layer{source.Layer1, source.Layer2, source.Layer3} {
		select {
		case <-ctx.Done():
			return o.abort(ctx, session)
		default:
		}

		n, err := o.runLayer(ctx, layer, session, stream)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return o.abort(ctx, session)
			}
			o.logger.Error().Err(err).Int("layer", int(layer)).Msg("layer failed, continuing to next layer")
			continue
		}
		totalFields += n
	}

	if totalFields == 0 {
		o.logger.Warn().Str("domain", domain).Msg("all layers yielded zero fields")
	}

	session.Status = StatusComplete
	session.EndedAt = time.Now()
	o.cache.Put(ctx, cacheKey, session)
	o.cache.Put(ctx, o.cache.KeyByID(session.ID), session)
	if err := o.sessions.Persist(ctx, session); err != nil {
		o.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to persist completed session")
	}
	return session, nil
}

func (o *Orchestrator) abort(ctx context.Context, session *Session) (*Session, error) {
	session.Status = StatusAborted
	session.EndedAt = time.Now()
	// Completed layers were already cached as they finished; drop them so
	// an aborted run is never served as a later cache hit.
	evictCtx := context.WithoutCancel(ctx)
	_ = o.cache.Evict(evictCtx, session.CacheKey)
	_ = o.cache.Evict(evictCtx, o.cache.KeyByID(session.ID))
	if err := o.sessions.Persist(ctx, session); err != nil {
		o.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to persist aborted session")
	}
	return session, apperr.New(apperr.KindTimeout, "enrichment_cancelled", "enrichment run was cancelled", ctx.Err())
}

// runLayer runs every eligible adapter for one layer in parallel,
// merges the results into session, and emits the layer-complete event.
// It returns the number of canonical fields populated by this layer.
func (o *Orchestrator) runLayer(ctx context.Context, layer source.Layer, session *Session, stream *events.Stream) (int, error) {
	layerStart := time.Now()
	if o.metrics != nil {
		defer func() {
			o.metrics.LayerDuration.WithLabelValues(layerLabel(layer)).Observe(time.Since(layerStart).Seconds())
		}()
	}

	budget := layerBudgets[layer]
	layerCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	adapters := o.eligibleAdapters(layer)
	hints := source.Hints(session.Fields)

	type callOutcome struct {
		sourceName string
		translated map[string]any
		cost       float64
	}

	var mu sync.Mutex
	var outcomes []callOutcome
	g, gctx := errgroup.WithContext(layerCtx)
	for _, s := range adapters {
		s := s
		g.Go(func() error {
			result := o.callSource(gctx, s, session.Domain, hints)
			mu.Lock()
			session.TotalCostUSD += result.Cost
			if result.Success {
				outcomes = append(outcomes, callOutcome{
					sourceName: s.Name(),
					translated: translate.TranslateFields(s.Name(), result.Data),
					cost:       result.Cost,
				})
			}
			mu.Unlock()
			return nil
		})
	}

	// Every adapter's own context is a child of layerCtx, so once the
	// layer budget expires each call unwinds on its own. We still bound
	// the wait against cancellationGrace: if goroutines haven't unwound
	// within that window after the layer context ends, we stop waiting
	// and return whatever was collected so far rather than block the
	// whole run on a wedged adapter.
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-layerCtx.Done():
		select {
		case <-done:
		case <-time.After(cancellationGrace):
			o.logger.Warn().Int("layer", int(layer)).Msg("adapters did not unwind within cancellation grace")
		}
	}

	mu.Lock()
	collected := outcomes
	mu.Unlock()

	candidatesByField := map[string][]candidate{}
	order := 0
	for _, outcome := range collected {
		for field, value := range outcome.translated {
			candidatesByField[field] = append(candidatesByField[field], candidate{
				sourceName: outcome.sourceName,
				layer:      int(layer),
				value:      value,
				receivedAt: order,
			})
			order++
		}
	}

	for field, cands := range candidatesByField {
		o.mergeIntoSession(ctx, session, field, cands, int(layer))
	}

	translatedFields := copyMap(session.Fields)
	confidences := copyIntMap(session.Confidences)
	stream.Publish(layerCompleteKind(layer), map[string]any{
		"fields":      translatedFields,
		"confidences": confidences,
		"cost_usd":    session.TotalCostUSD,
	})
	session.LayersCompleted = append(session.LayersCompleted, int(layer))
	o.cache.Put(ctx, session.CacheKey, session)
	o.cache.Put(ctx, o.cache.KeyByID(session.ID), session)
	if err := o.sessions.Persist(ctx, session); err != nil {
		o.logger.Warn().Err(err).Str("session_id", session.ID).Int("layer", int(layer)).Msg("failed to persist session snapshot")
	}

	return len(candidatesByField), nil
}

// mergeIntoSession applies §4.4's merge/confidence rules for one field,
// respecting that a user-supplied value always wins unconditionally —
// callers that have already overlaid user edits (internal/session) mark
// that by never calling this method again for that field.
func (o *Orchestrator) mergeIntoSession(ctx context.Context, session *Session, field string, cands []candidate, layer int) {
	result := mergeField(cands, priorFor)
	editCount := o.ledger.EditCount(ctx, session.Domain, field)
	confidence := score(result.winner, result.agreeing, priorFor(result.winner.sourceName), editCount)

	if existingConf, ok := session.Confidences[field]; ok && existingConf > confidence {
		// an earlier layer already holds a higher-confidence value for
		// this field; record the new layer's value as a loser instead of
		// overwriting per the tie-break rule's intent across layers.
		session.LosingValues[field] = append(session.LosingValues[field], attributionFor(result.winner, layer))
		return
	}

	session.Fields[field] = result.winner.value
	session.Confidences[field] = confidence
	session.Attributions[field] = SourceAttribution{
		SourceName:      result.winner.sourceName,
		Layer:           layer,
		RawValue:        result.winner.value,
		NormalizedValue: result.winner.value,
		ExtractedAt:     time.Now(),
		Success:         true,
	}
	for _, loser := range result.losers {
		session.LosingValues[field] = append(session.LosingValues[field], attributionFor(loser, layer))
	}
}

func attributionFor(c candidate, layer int) SourceAttribution {
	return SourceAttribution{
		SourceName:  c.sourceName,
		Layer:       layer,
		RawValue:    c.value,
		ExtractedAt: time.Now(),
		Success:     true,
	}
}

// callSource runs one adapter through its circuit breaker. not_found is
// not counted as a breaker failure per §4.1.
func (o *Orchestrator) callSource(ctx context.Context, s source.Source, domain string, hints source.Hints) source.Result {
	result := o.doCallSource(ctx, s, domain, hints)
	if o.metrics != nil {
		o.metrics.SourceCallTotal.WithLabelValues(s.Name(), sourceOutcome(result)).Inc()
	}
	return result
}

func (o *Orchestrator) doCallSource(ctx context.Context, s source.Source, domain string, hints source.Hints) source.Result {
	tier := source.BreakerTier(s)
	o.breakers.Register(s.Name(), tier)

	sctx, cancel := context.WithTimeout(ctx, s.Timeout())
	defer cancel()

	raw, err := o.breakers.Call(sctx, s.Name(), func(callCtx context.Context) (any, error) {
		result := s.Enrich(callCtx, domain, hints)
		if !result.Success && result.ErrKind != apperr.KindNotFound {
			return result, errors.New(string(result.ErrKind))
		}
		return result, nil
	})

	if raw == nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindBreakerOpen {
			return source.Result{Success: false, ErrKind: apperr.KindBreakerOpen}
		}
		return source.Result{Success: false, ErrKind: apperr.KindInternal}
	}

	result, ok := raw.(source.Result)
	if !ok {
		return source.Result{Success: false, ErrKind: apperr.KindInternal}
	}
	return result
}

// sourceOutcome labels a source call for SourceCallTotal: "success", or
// the ErrKind string for anything else.
func sourceOutcome(result source.Result) string {
	if result.Success {
		return "success"
	}
	if result.ErrKind != "" {
		return string(result.ErrKind)
	}
	return "unknown"
}

// layerLabel names a layer for LayerDuration.
func layerLabel(layer source.Layer) string {
	switch layer {
	case source.Layer1:
		return "layer1"
	case source.Layer2:
		return "layer2"
	default:
		return "layer3"
	}
}

func (o *Orchestrator) eligibleAdapters(layer source.Layer) []source.Source {
	all := o.sources.ForLayer(layer)
	eligible := make([]source.Source, 0, len(all))
	for _, s := range all {
		if !o.breakers.IsOpen(s.Name()) {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

func layerCompleteKind(layer source.Layer) events.Kind {
	switch layer {
	case source.Layer1:
		return events.KindLayer1Complete
	case source.Layer2:
		return events.KindLayer2Complete
	default:
		return events.KindLayer3Complete
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneSessionWithID copies a cache hit's content under a freshly minted
// id, so the session the client was handed is a real, independently
// fetchable row rather than an alias of the one that satisfied the hit.
func cloneSessionWithID(src *Session, id string) *Session {
	out := &Session{
		ID:              id,
		CacheKey:        src.CacheKey,
		Domain:          src.Domain,
		Status:          StatusComplete,
		Fields:          copyMap(src.Fields),
		Attributions:    make(map[string]SourceAttribution, len(src.Attributions)),
		Confidences:     copyIntMap(src.Confidences),
		LosingValues:    make(map[string][]SourceAttribution, len(src.LosingValues)),
		TotalCostUSD:    src.TotalCostUSD,
		StartedAt:       time.Now(),
		EndedAt:         time.Now(),
		TTL:             src.TTL,
		LayersCompleted: append([]int(nil), src.LayersCompleted...),
	}
	for k, v := range src.Attributions {
		out.Attributions[k] = v
	}
	for k, v := range src.LosingValues {
		out.LosingValues[k] = append([]SourceAttribution(nil), v...)
	}
	return out
}
