// Package source implements C1: the uniform EnrichmentSource contract
// and its seven concrete adapters, plus the shared connection pool
// (§9 "polymorphic sources") that backs all of them.
package source

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/breaker"
)

// Layer identifies which enrichment layer a source belongs to (§4.4).
type Layer int

const (
	Layer1 Layer = 1
	Layer2 Layer = 2
	Layer3 Layer = 3
)

// Hints carries already-known facts (e.g. a company name surfaced by an
// earlier layer) that a later-layer source can use to narrow its query.
type Hints map[string]any

// Result is the uniform outcome of one adapter call (§3.1 SourceResult).
type Result struct {
	Success  bool
	Data     map[string]any
	Cost     float64
	Duration time.Duration
	ErrKind  apperr.Kind // empty when Success
}

// Source is the contract every external data provider must implement.
// "Adding a new provider is a new variant plus a registration line, not
// a change to the orchestrator" (§9).
type Source interface {
	// Name is the stable source identifier used as the breaker key and
	// in SourceAttribution.
	Name() string
	// Layer is the enrichment layer this source runs in.
	Layer() Layer
	// Timeout is this source's own call budget, always <= its layer budget.
	Timeout() time.Duration
	// CostEstimate is charged regardless of success (§4.1).
	CostEstimate() float64
	// Enrich performs one enrichment call. It must never panic or
	// return an unclassified error — timeouts, rate limits, and other
	// failures are reported via Result.ErrKind, never a Go error value,
	// so that a slow or failing source degrades a layer instead of
	// aborting the run.
	Enrich(ctx context.Context, domain string, hints Hints) Result
}

// Registry holds every registered source, keyed by name, and exposes
// the subset enabled for a given layer — mirroring provider.Registry
// from the teacher but keyed by enrichment layer instead of model.
type Registry struct {
	sources map[string]Source
	order   []string
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Registration order is preserved and is the
// order ForLayer returns; the merge's "first received" tie-break follows
// the order in which adapter calls complete, not this order.
func (r *Registry) Register(s Source) {
	if _, exists := r.sources[s.Name()]; !exists {
		r.order = append(r.order, s.Name())
	}
	r.sources[s.Name()] = s
}

// ForLayer returns every registered source for a layer, in registration order.
func (r *Registry) ForLayer(layer Layer) []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		if s := r.sources[name]; s.Layer() == layer {
			out = append(out, s)
		}
	}
	return out
}

// BreakerTier maps a source to the §4.2 default tier its breaker should use.
func BreakerTier(s Source) breaker.Tier {
	switch s.Name() {
	case "metadata", "geoip", "llm_inference":
		return breaker.TierLLMAndMetadata
	default:
		return breaker.TierExpensiveExternal
	}
}

// NormalizeDomain implements §4.4 step 1 / §8's N(N(u))=N(u) property:
// lowercase, prepend https:// if no scheme is present, strip a trailing
// slash, and drop a leading "www." so that "google.com",
// "https://google.com", "http://google.com", and "www.google.com" all
// normalize to the same cache key.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", apperr.New(apperr.KindValidation, "empty_url", "url must not be empty", nil)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "invalid_url", "url could not be parsed", err)
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if host == "" {
		return "", apperr.New(apperr.KindValidation, "invalid_url", "url has no host", nil)
	}
	u.Scheme = "https"
	u.Host = host
	u.Path = strings.TrimSuffix(u.Path, "/")
	normalized := u.Scheme + "://" + u.Host + u.Path
	return strings.TrimSuffix(normalized, "/"), nil
}

// BareDomain strips the scheme from a normalized URL, leaving just the
// host — used as the cache-key and display domain.
func BareDomain(normalized string) string {
	s := strings.TrimPrefix(normalized, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

// asString is a small defensive coercion for loosely-typed upstream
// JSON values; no adapter in this package calls it.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
