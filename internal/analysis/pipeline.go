package analysis

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/events"
	"github.com/strategyai/leadforge/internal/metrics"
)

// StageError is fatal to the pipeline: a stage that fails after its own
// retries (inside internal/llm.Client) fails the whole run with the
// stage id attached (§4.8).
type StageError struct {
	StageID StageID
	Err     error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Pipeline is C8: runs the six stages strictly in order, threading
// outputs between them, through the stage cache, emitting progress
// events and accumulating cost.
type Pipeline struct {
	dispatch map[StageID]StageFunc
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewPipeline wires the six-stage dispatch table. m may be nil in tests
// that don't care about instrumentation.
func NewPipeline(stages *Stages, sc stageCacher, durable stageCacheDurable, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		dispatch: stages.Dispatch(sc, durable),
		metrics:  m,
		logger:   logger.With().Str("component", "analysis_pipeline").Logger(),
	}
}

// RunInput is everything the pipeline needs beyond the enrichment
// session fields: the original lead's company/industry and free-text
// challenge the stages read at stage 3.
type RunInput struct {
	Company          string
	Industry         string
	ChallengeText    string
	EnrichmentFields map[string]any
	// FromStage resumes a selective reprocess at stage k (1-based),
	// reusing the given prior outputs for stages < k (§4.8:
	// "a user-initiated reprocess may selectively invalidate stages ≥
	// k, reusing cached results for stages < k").
	FromStage    StageID
	PriorOutputs map[StageID]StageOutput
}

// Run executes stages 1..6 strictly in order. On any stage failing
// after its own retries, the run stops and returns a *StageError
// naming the stage id, per §4.8's failure semantics.
func (p *Pipeline) Run(ctx context.Context, in RunInput, stream *events.Stream) (*Report, error) {
	if in.FromStage == 0 {
		in.FromStage = StageExtraction
	}
	outputs := map[StageID]StageOutput{}
	for id, out := range in.PriorOutputs {
		if id < in.FromStage {
			outputs[id] = out
		}
	}

	var totalCost float64
	for _, id := range orderedStageIDs {
		if out, ok := outputs[id]; ok {
			totalCost += out.CostUSD
			continue
		}
		// a reprocess asking to reuse a stage with no prior output
		// supplied for it falls through and recomputes, rather than
		// producing a report with a silently-missing section.

		kwargs := p.kwargsFor(id, in, outputs)

		start := time.Now()
		stream.Publish(events.KindStageStarted, map[string]any{"stage_id": int(id)})

		fn, ok := p.dispatch[id]
		if !ok {
			return nil, &StageError{StageID: id, Err: apperr.New(apperr.KindInternal, "stage_not_registered", "no dispatch entry for stage", nil)}
		}

		out, err := fn(ctx, in.Company, in.Industry, kwargs)
		duration := time.Since(start)
		if p.metrics != nil {
			p.metrics.StageDuration.WithLabelValues(strconv.Itoa(int(id))).Observe(duration.Seconds())
		}
		if err != nil {
			kind := apperr.KindInternal
			if ae, ok := apperr.As(err); ok {
				kind = ae.Kind
			}
			stream.Publish(events.KindError, map[string]any{"where": "stage", "kind": string(kind), "message": err.Error(), "stage_id": int(id)})
			return nil, &StageError{StageID: id, Err: err}
		}

		outputs[id] = out
		totalCost += out.CostUSD
		if p.metrics != nil {
			p.metrics.StageCostUSD.WithLabelValues(strconv.Itoa(int(id))).Observe(out.CostUSD)
		}
		stream.Publish(events.KindStageComplete, map[string]any{
			"stage_id":    int(id),
			"duration_ms": duration.Milliseconds(),
			"cost_usd":    out.CostUSD,
		})
	}

	report := &Report{
		Sections:     map[string]any{},
		TotalCostUSD: totalCost,
		GeneratedAt:  time.Now(),
	}
	for i, id := range orderedStageIDs {
		out := outputs[id]
		report.Stages[i] = StageResult{
			StageID:   id,
			Output:    out.Data,
			TokensIn:  out.TokensIn,
			TokensOut: out.TokensOut,
			CostUSD:   out.CostUSD,
		}
	}
	if polished, ok := outputs[StagePolish].Data["report"].(map[string]any); ok {
		report.Sections = polished
	}

	stream.Publish(events.KindPipelineComplete, map[string]any{
		"report_available": true,
		"events_dropped":   stream.DroppedCount(),
	})
	return report, nil
}

// kwargsFor builds each stage's stage_kwargs map from the uniform
// signature's third argument, reading whatever upstream stage outputs
// and session data §4.8's table names for that stage.
func (p *Pipeline) kwargsFor(id StageID, in RunInput, outputs map[StageID]StageOutput) map[string]any {
	switch id {
	case StageExtraction:
		return map[string]any{"enrichment_fields": in.EnrichmentFields}
	case StageGapAnalysis:
		return map[string]any{"extracted_data": outputs[StageExtraction].Data}
	case StageStrategy:
		tier := ComputeTier(in.EnrichmentFields)
		return map[string]any{
			"extracted_data":    outputs[StageGapAnalysis].Data,
			"challenge_text":    in.ChallengeText,
			"enabled_sections":  SectionsForTier(tier),
			"data_quality_tier": tier,
		}
	case StageCompetitiveMatrix:
		return map[string]any{
			"stage1_data": outputs[StageExtraction].Data,
			"stage3_data": outputs[StageStrategy].Data,
		}
	case StageRiskAndPriority:
		return map[string]any{"stage3_data": outputs[StageStrategy].Data}
	case StagePolish:
		return map[string]any{
			"stage3_data": outputs[StageStrategy].Data,
			"stage4_data": outputs[StageCompetitiveMatrix].Data,
			"stage5_data": outputs[StageRiskAndPriority].Data,
		}
	default:
		return map[string]any{}
	}
}
