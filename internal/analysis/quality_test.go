package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fieldsWithCount(n int) map[string]any {
	fields := map[string]any{}
	for i, f := range canonicalFieldSet {
		if i >= n {
			break
		}
		fields[f] = "value"
	}
	return fields
}

func TestComputeTier_EmptyFieldsIsMinimal(t *testing.T) {
	assert.Equal(t, TierMinimal, ComputeTier(map[string]any{}))
}

func TestComputeTier_AllFieldsIsLegendary(t *testing.T) {
	assert.Equal(t, TierLegendary, ComputeTier(fieldsWithCount(len(canonicalFieldSet))))
}

func TestComputeTier_NilAndEmptyStringValuesDoNotCount(t *testing.T) {
	fields := map[string]any{
		"name":        "Acme",
		"legal_name":  nil,
		"city":        "",
		"state":       "SP",
	}
	tier := ComputeTier(fields)
	// 2 of 15 populated (~13%) lands in minimal.
	assert.Equal(t, TierMinimal, tier)
}

func TestComputeTier_HalfPopulatedIsGood(t *testing.T) {
	tier := ComputeTier(fieldsWithCount(8))
	assert.Equal(t, TierGood, tier)
}

func TestRequiresInsufficientDataGuard_TrueOnlyForLowTiers(t *testing.T) {
	assert.True(t, RequiresInsufficientDataGuard(TierMinimal))
	assert.True(t, RequiresInsufficientDataGuard(TierPartial))
	assert.False(t, RequiresInsufficientDataGuard(TierGood))
	assert.False(t, RequiresInsufficientDataGuard(TierFull))
	assert.False(t, RequiresInsufficientDataGuard(TierLegendary))
}

func TestSectionsForTier_IsMonotonicInSectionCount(t *testing.T) {
	minimal := SectionsForTier(TierMinimal)
	partial := SectionsForTier(TierPartial)
	good := SectionsForTier(TierGood)
	full := SectionsForTier(TierFull)
	legendary := SectionsForTier(TierLegendary)

	assert.LessOrEqual(t, len(minimal), len(partial))
	assert.LessOrEqual(t, len(partial), len(good))
	assert.LessOrEqual(t, len(good), len(full))
	assert.Equal(t, len(full), len(legendary))
}
