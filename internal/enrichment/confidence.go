package enrichment

import "reflect"

// sourcePriors are the per-source confidence priors referenced by §4.4
// ("each source declares a prior in [0,100]"). Kept as a closed table
// alongside the field translator's closed map rather than attached to
// the Source interface, since priors are a property of trust in the
// data, not of the transport.
var sourcePriors = map[string]int{
	"metadata":      60,
	"geoip":         70,
	"registry":      90,
	"places":        75,
	"people_api":    65,
	"linkedin":      80,
	"llm_inference": 50,
}

func priorFor(sourceName string) int {
	if p, ok := sourcePriors[sourceName]; ok {
		return p
	}
	return 50
}

// candidate is one source's proposed value for a single field, used by
// mergeField to apply §4.4's tie-break rule.
type candidate struct {
	sourceName string
	layer      int
	value      any
	receivedAt int // monotone arrival order within the merge call
}

// score computes a field's confidence given the winning candidate, the
// full set of candidates that agreed on its normalized value, and the
// number of user edits previously observed for this field (§4.4).
func score(winner candidate, agreeingCount int, priorOfWinner int, userEditCount int) int {
	confidence := priorOfWinner
	if agreeingCount > 1 {
		confidence = priorOfWinner + 5
	}
	confidence -= 5 * userEditCount
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return confidence
}

// mergeResult is the outcome of merging one field's candidates.
type mergeResult struct {
	winner  candidate
	losers  []candidate
	agreeing int
}

// mergeField applies §4.4's merge tie-break: higher confidence wins; on
// ties, earlier layer wins; on further ties, first received wins. Two
// candidates "agree" when their values are equal, which bumps the
// winner's confidence per the scoring rule above.
func mergeField(candidates []candidate, priorFn func(string) int) mergeResult {
	if len(candidates) == 0 {
		return mergeResult{}
	}

	agreeing := 0
	for i := range candidates {
		for j := range candidates {
			if i != j && reflect.DeepEqual(candidates[i].value, candidates[j].value) {
				agreeing++
				break
			}
		}
	}

	bestIdx := 0
	bestPrior := priorFn(candidates[0].sourceName)
	for i, c := range candidates[1:] {
		idx := i + 1
		p := priorFn(c.sourceName)
		switch {
		case p > bestPrior:
			bestIdx, bestPrior = idx, p
		case p == bestPrior && c.layer < candidates[bestIdx].layer:
			bestIdx, bestPrior = idx, p
		case p == bestPrior && c.layer == candidates[bestIdx].layer && c.receivedAt < candidates[bestIdx].receivedAt:
			bestIdx, bestPrior = idx, p
		}
	}
	best := candidates[bestIdx]

	losers := make([]candidate, 0, len(candidates)-1)
	for i, c := range candidates {
		if i != bestIdx {
			losers = append(losers, c)
		}
	}

	return mergeResult{winner: best, losers: losers, agreeing: agreeing}
}
