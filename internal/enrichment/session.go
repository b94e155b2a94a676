// Package enrichment implements C4, the Progressive Orchestrator, and
// the session/attribution/confidence model it operates on (§3.1, §4.4).
// Grounded on the multi-provider fan-out shape of the teacher's
// provider.Registry.HealthCheckAll (goroutine-per-provider, mutex-guarded
// result map), scaled from a flat health poll to three time-boxed,
// breaker-filtered, confidence-merged layers.
package enrichment

import "time"

// SourceAttribution is the provenance of one enriched field (§3.1).
type SourceAttribution struct {
	SourceName      string    `json:"source_name"`
	Layer           int       `json:"layer"`
	RawValue        any       `json:"raw_value"`
	NormalizedValue any       `json:"normalized_value"`
	Cost            float64   `json:"cost"`
	ExtractedAt     time.Time `json:"extracted_at"`
	Success         bool      `json:"success"`
}

// EditRecord is one entry in the user-edit ledger (§4.10), consulted by
// confidence scoring (§4.4) for its penalty term.
type EditRecord struct {
	Field       string    `json:"field"`
	SourceValue any       `json:"source_value"`
	UserValue   any       `json:"user_value"`
	Timestamp   time.Time `json:"timestamp"`
}

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// Session is one pass through the enrichment engine for a
// (domain, requester_email) pair (§3.1 EnrichmentSession).
type Session struct {
	ID              string                         `json:"id"`
	CacheKey        string                         `json:"cache_key"`
	Domain          string                         `json:"domain"`
	Status          Status                         `json:"status"`
	Fields          map[string]any                 `json:"fields"`
	Attributions    map[string]SourceAttribution   `json:"attributions"`
	Confidences     map[string]int                 `json:"confidences"`
	LosingValues    map[string][]SourceAttribution `json:"losing_values"`
	TotalCostUSD    float64                        `json:"total_cost_usd"`
	StartedAt       time.Time                      `json:"started_at"`
	EndedAt         time.Time                      `json:"ended_at"`
	TTL             time.Duration                  `json:"ttl"`
	LayersCompleted []int                          `json:"layers_completed"`
}

// NewSession creates an empty, running session for a normalized domain.
func NewSession(id, cacheKey, domain string, ttl time.Duration) *Session {
	return &Session{
		ID:           id,
		CacheKey:     cacheKey,
		Domain:       domain,
		Status:       StatusRunning,
		Fields:       make(map[string]any),
		Attributions: make(map[string]SourceAttribution),
		Confidences:  make(map[string]int),
		LosingValues: make(map[string][]SourceAttribution),
		StartedAt:    time.Now(),
		TTL:          ttl,
	}
}

// Expired reports whether the session has outlived its TTL, anchored at
// StartedAt — the clock §3.1 calls out for lazy, read-time eviction.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.StartedAt.Add(s.TTL))
}
