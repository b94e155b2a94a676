// Package analysis implements C8: the six-stage, strictly sequential
// analysis pipeline, wrapped stage-by-stage by the Stage Cache, with a
// dispatch table keyed by stage id per §9's design note ("prefer a
// dispatch table {stage_id -> function}... adding a stage is two
// edits: the function and the table"). Grounded on the teacher's
// provider.Registry map+interface pattern, applied here to stage
// functions instead of provider connectors.
package analysis

import (
	"context"
	"time"
)

// StageID identifies one of the six pipeline stages.
type StageID int

const (
	StageExtraction        StageID = 1
	StageGapAnalysis       StageID = 2
	StageStrategy          StageID = 3
	StageCompetitiveMatrix StageID = 4
	StageRiskAndPriority   StageID = 5
	StagePolish            StageID = 6
)

// StageOutput is what every stage function returns, mirroring
// AnalysisStageResult's cost/token fields (§3.1) minus the fields the
// pipeline itself fills in (stage id, input fingerprint, cached flag).
type StageOutput struct {
	Data      map[string]any
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// StageFunc is the uniform stage signature from §4.8:
// (company, industry, ...stage_kwargs) -> stage_output. Keeping this
// signature identical across all six stages is mandatory so the cache
// wrapper can always fall back to a fresh call with the same argument
// set it would have used on a cache miss.
type StageFunc func(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error)

// StageResult is the persisted record for one stage execution,
// matching §3.1's AnalysisStageResult.
type StageResult struct {
	StageID          StageID        `json:"stage_id"`
	Output           map[string]any `json:"output"`
	InputFingerprint string         `json:"input_fingerprint"`
	Model            string         `json:"model"`
	TokensIn         int            `json:"tokens_in"`
	TokensOut        int            `json:"tokens_out"`
	CostUSD          float64        `json:"cost_usd"`
	Duration         time.Duration  `json:"duration_ns"`
	Cached           bool           `json:"cached"`
}

// Report is the ordered composition of all six stage outputs (§3.1).
type Report struct {
	SubmissionID int            `json:"submission_id"`
	Stages       [6]StageResult `json:"stages"`
	Sections     map[string]any `json:"sections"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// stageRole documents each stage's declared role and model class, used
// only for logging and the dispatch table's self-description — never
// for control flow, which always goes through the map below.
type stageRole struct {
	name       string
	modelClass string
}

var stageRoles = map[StageID]stageRole{
	StageExtraction:        {"extraction", "cheap_high_context"},
	StageGapAnalysis:       {"gap_analysis", "cheap"},
	StageStrategy:          {"strategy", "premium"},
	StageCompetitiveMatrix: {"competitive_matrix", "mid"},
	StageRiskAndPriority:   {"risk_and_priority", "premium_reasoning"},
	StagePolish:            {"polish", "cheap_polish"},
}

// orderedStageIDs is the strict sequential execution order (§4.8).
var orderedStageIDs = []StageID{
	StageExtraction, StageGapAnalysis, StageStrategy,
	StageCompetitiveMatrix, StageRiskAndPriority, StagePolish,
}
