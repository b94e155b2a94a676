package llm

import "sync"

// ModelPricing holds per-model token pricing in USD per 1M tokens.
// Grounded on the teacher's provider.ModelPricing table.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// PricingTable is a concurrency-safe model -> price lookup.
type PricingTable struct {
	mu     sync.RWMutex
	prices map[string]ModelPricing
}

// DefaultPricingTable returns the built-in pricing the service ships with.
func DefaultPricingTable() *PricingTable {
	return &PricingTable{
		prices: map[string]ModelPricing{
			"claude-opus-4-6":     {InputPer1M: 15.00, OutputPer1M: 75.00},
			"claude-sonnet-4-5":   {InputPer1M: 3.00, OutputPer1M: 15.00},
			"claude-haiku-4-5":    {InputPer1M: 0.80, OutputPer1M: 4.00},
		},
	}
}

// Set overrides or adds pricing for a model.
func (p *PricingTable) Set(model string, pricing ModelPricing) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[model] = pricing
}

// Cost computes the USD cost of a call given token counts. Unknown
// models fall back to the cheapest tier's pricing rather than zero, so
// cost accounting never silently under-reports (§4.7: "always recorded,
// even on failure").
func (p *PricingTable) Cost(model string, tokensIn, tokensOut int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pricing, ok := p.prices[model]
	if !ok {
		pricing = ModelPricing{InputPer1M: 0.80, OutputPer1M: 4.00}
	}
	return float64(tokensIn)/1_000_000*pricing.InputPer1M + float64(tokensOut)/1_000_000*pricing.OutputPer1M
}
