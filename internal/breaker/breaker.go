// Package breaker implements C2: a per-source circuit breaker registry
// with the three tiers of defaults from §4.2, built on top of
// sony/gobreaker's CLOSED/OPEN/HALF_OPEN state machine.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/strategyai/leadforge/internal/apperr"
)

// Tier names the three default profiles from §4.2's table.
type Tier string

const (
	TierLLMAndMetadata  Tier = "llm_metadata"   // F=5, T_recover=60s
	TierExpensiveExternal Tier = "expensive_api" // F=3, T_recover=120s
	TierStore           Tier = "store"          // F=10, T_recover=30s
)

// tierSettings returns the (consecutiveFailures, recoveryTimeout) pair
// for a tier, per §4.2.
func tierSettings(t Tier) (consecutiveFailures uint32, recovery time.Duration) {
	switch t {
	case TierExpensiveExternal:
		return 3, 120 * time.Second
	case TierStore:
		return 10, 30 * time.Second
	default: // TierLLMAndMetadata
		return 5, 60 * time.Second
	}
}

// StatusChangeFunc is invoked whenever a breaker transitions state.
type StatusChangeFunc func(source string, from, to gobreaker.State)

// Registry owns one gobreaker.CircuitBreaker per source name. A single
// process owns one breaker per source, matching §4.2's "statistics are
// in-memory process-local" rule.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   zerolog.Logger
	onChange StatusChangeFunc
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger.With().Str("component", "breaker_registry").Logger(),
	}
}

// OnStatusChange registers a callback fired on every state transition
// across all breakers in the registry.
func (r *Registry) OnStatusChange(fn StatusChangeFunc) {
	r.onChange = fn
}

// Register creates (or returns the existing) breaker for a source name
// at the given tier. Calling Register twice for the same name is a
// no-op — the first tier wins, matching "a single process owns one
// breaker per source."
func (r *Registry) Register(name string, tier Tier) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	failures, recovery := tierSettings(tier)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // HALF_OPEN allows exactly one probe, per §4.2
		Interval:    0, // never reset CLOSED counts on a timer; only on success
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("source", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("breaker state change")
			if r.onChange != nil {
				r.onChange(name, from, to)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	r.breakers[name] = cb
	return cb
}

// IsOpen reports whether a source's breaker is currently OPEN — used by
// the orchestrator to filter the adapter set for a layer (§4.4 step 3a)
// before issuing any network call.
func (r *Registry) IsOpen(name string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return cb.State() == gobreaker.StateOpen
}

// State returns the current breaker state for a source, or CLOSED if
// the source has never been registered.
func (r *Registry) State(name string) gobreaker.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cb, ok := r.breakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// Call executes fn through the named source's breaker. If the breaker
// is open, it returns apperr.KindBreakerOpen immediately without
// invoking fn — no network call is issued, per §4.2 and the testable
// property in §8.
func (r *Registry) Call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		cb = r.Register(name, TierLLMAndMetadata)
	}

	result, err := cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.New(apperr.KindBreakerOpen, "breaker_open", "source breaker is open: "+name, err)
		}
		return nil, err
	}
	return result, nil
}
