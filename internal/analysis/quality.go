package analysis

// Tier is the enrichment-completeness tier computed before stage 3
// (§4.8), gating how many framework sections stage 3 is allowed to
// attempt versus how many it must refuse with `status=dados_insuficientes`.
type Tier string

const (
	TierMinimal   Tier = "minimal"
	TierPartial   Tier = "partial"
	TierGood      Tier = "good"
	TierFull      Tier = "full"
	TierLegendary Tier = "legendary"
)

// canonicalFieldSet is the closed set of fields the Field Translator
// (§4.5) can ever produce; completeness is measured against it.
var canonicalFieldSet = []string{
	"name", "legal_name", "state", "city", "country", "industry",
	"companySize", "employeeCount", "foundedYear", "linkedinUrl",
	"description", "phone", "address", "rating", "reviewsCount",
}

// ComputeTier derives the data-quality tier from how many canonical
// fields an enrichment session actually populated.
func ComputeTier(fields map[string]any) Tier {
	populated := 0
	for _, f := range canonicalFieldSet {
		if v, ok := fields[f]; ok && v != nil && v != "" {
			populated++
		}
	}
	ratio := float64(populated) / float64(len(canonicalFieldSet))

	switch {
	case ratio >= 0.90:
		return TierLegendary
	case ratio >= 0.70:
		return TierFull
	case ratio >= 0.50:
		return TierGood
	case ratio >= 0.25:
		return TierPartial
	default:
		return TierMinimal
	}
}

// RequiresInsufficientDataGuard reports whether stage 3 must refuse to
// fill in a section rather than invent figures, per §4.8 and the
// testable property in §8 ("sections whose required inputs are absent
// emit status=dados_insuficientes... not invented numbers").
func RequiresInsufficientDataGuard(tier Tier) bool {
	return tier == TierMinimal || tier == TierPartial
}

// SectionsForTier caps how many strategy-framework sections stage 3
// requests, scaling with how much real data backs them.
func SectionsForTier(tier Tier) []string {
	all := []string{"pestel", "porter5", "swot", "blue_ocean", "tam_sam_som", "okrs", "bsc", "scenarios"}
	switch tier {
	case TierLegendary, TierFull:
		return all
	case TierGood:
		return all[:6]
	case TierPartial:
		return all[:3]
	default: // minimal
		return all[:1]
	}
}
