package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/store"
)

// StoreBackedLedger implements enrichment.EditLedger over the durable
// user_field_edits relation, so a domain's confidence scoring degrades
// penalty-free in its absence but reflects real history once wired.
type StoreBackedLedger struct {
	edits  store.EditLedgerStore
	logger zerolog.Logger
}

func NewStoreBackedLedger(edits store.EditLedgerStore, logger zerolog.Logger) *StoreBackedLedger {
	return &StoreBackedLedger{edits: edits, logger: logger.With().Str("component", "edit_ledger").Logger()}
}

// EditCount satisfies internal/enrichment.EditLedger. A lookup failure
// degrades to zero rather than failing the enrichment run — the edit
// penalty is an optimization, not a correctness requirement.
func (l *StoreBackedLedger) EditCount(ctx context.Context, domain, field string) int {
	count, err := l.edits.CountEditsForDomain(ctx, domain, field)
	if err != nil {
		l.logger.Warn().Err(err).Str("domain", domain).Str("field", field).Msg("edit count lookup failed, assuming zero")
		return 0
	}
	return count
}
