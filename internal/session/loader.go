// Package session implements C10: on submission, hydrate a previously
// cached enrichment session by id, overlay the form's user-edited
// fields (user values win unconditionally), and append every
// divergence to the durable edit ledger so future confidence scoring
// can see it. There is no teacher analogue for this — the gateway has
// no concept of a user correcting a cached value — so this package is
// new domain logic written as a thin composition over
// internal/cache and internal/store, in the teacher's small
// constructor-function style rather than a stateful service type.
package session

import (
	"context"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/enrichment"
	"github.com/strategyai/leadforge/internal/store"
)

// Loader hydrates cached sessions and reconciles them against
// user-submitted overrides.
type Loader struct {
	cache  *cache.EnrichmentCache
	ledger store.EditLedgerStore
	logger zerolog.Logger
}

func NewLoader(ec *cache.EnrichmentCache, ledger store.EditLedgerStore, logger zerolog.Logger) *Loader {
	return &Loader{
		cache:  ec,
		ledger: ledger,
		logger: logger.With().Str("component", "session_loader").Logger(),
	}
}

// Result is what a submission's analysis pipeline actually reads:
// the merged field set plus enough provenance to know which fields
// came from the user rather than an enrichment source.
type Result struct {
	SessionID    string
	Fields       map[string]any
	EditedFields []string
}

// Load overlays userFields onto the cached session named by
// enrichmentSessionID. An empty id, a cache miss, or an expired
// session all degrade to "no enrichment" per §4.10 — the caller
// proceeds with userFields alone rather than failing the submission.
func (l *Loader) Load(ctx context.Context, enrichmentSessionID string, userFields map[string]any) Result {
	if enrichmentSessionID == "" {
		return Result{Fields: userFields}
	}

	var cached enrichment.Session
	hit, err := l.cache.Get(ctx, l.cache.KeyByID(enrichmentSessionID), &cached)
	if err != nil {
		l.logger.Warn().Err(err).Str("session_id", enrichmentSessionID).Msg("session cache read failed, degrading to form-only")
		return Result{Fields: userFields}
	}
	if !hit {
		l.logger.Info().Str("session_id", enrichmentSessionID).Msg("enrichment session absent or expired, degrading to form-only")
		return Result{Fields: userFields}
	}
	if cached.Expired(time.Now()) {
		l.logger.Info().Str("session_id", enrichmentSessionID).Msg("enrichment session expired, degrading to form-only")
		return Result{Fields: userFields}
	}

	merged := make(map[string]any, len(cached.Fields)+len(userFields))
	for k, v := range cached.Fields {
		merged[k] = v
	}

	var edited []string
	now := time.Now()
	for field, userValue := range userFields {
		sourceValue, hadSourceValue := cached.Fields[field]
		merged[field] = userValue

		if hadSourceValue && valuesEqual(sourceValue, userValue) {
			continue
		}
		edited = append(edited, field)

		if err := l.ledger.Append(ctx, &store.UserFieldEdit{
			SessionID:   enrichmentSessionID,
			FieldName:   field,
			SourceValue: sourceValue,
			UserValue:   userValue,
			CreatedAt:   now,
		}); err != nil {
			l.logger.Warn().Err(err).Str("field", field).Msg("failed to append edit ledger entry")
		}
	}

	return Result{SessionID: enrichmentSessionID, Fields: merged, EditedFields: edited}
}

// valuesEqual compares two enrichment field values for equality.
// Fields are JSON scalars/arrays/objects (§3.1), so a plain `==` would
// panic on a slice or map; reflect.DeepEqual handles every shape
// safely.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
