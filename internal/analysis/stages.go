package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/llm"
)

// Model classes from §4.8's table.
const (
	modelCheapHighContext = "claude-haiku-4-5"
	modelCheap            = "claude-haiku-4-5"
	modelPremium          = "claude-opus-4-6"
	modelMid              = "claude-sonnet-4-5"
	modelPremiumReasoning = "claude-opus-4-6"
	modelCheapPolish      = "claude-haiku-4-5"
)

// Stages owns the LLM client every stage function closes over and
// exposes the fully-wired dispatch table.
type Stages struct {
	client llm.Client
}

func NewStages(client llm.Client) *Stages {
	return &Stages{client: client}
}

// Dispatch builds the §9 "dispatch table {stage_id -> function}", each
// entry wrapped by the stage cache. durable may be nil; it records the
// same hits and writes as sc into the durable stage_cache relation, for
// operator visibility that survives a Redis flush. Adding a stage is
// two edits: a new method here and a new entry in this map, per the
// design note.
func (s *Stages) Dispatch(sc stageCacher, durable stageCacheDurable) map[StageID]StageFunc {
	if durable == nil {
		durable = noStageCacheDurable{}
	}
	return map[StageID]StageFunc{
		StageExtraction:        withStageCache(StageExtraction, sc, durable, s.extraction),
		StageGapAnalysis:       withStageCache(StageGapAnalysis, sc, durable, s.gapAnalysis),
		StageStrategy:          withStageCache(StageStrategy, sc, durable, s.strategy),
		StageCompetitiveMatrix: withStageCache(StageCompetitiveMatrix, sc, durable, s.competitiveMatrix),
		StageRiskAndPriority:   withStageCache(StageRiskAndPriority, sc, durable, s.riskAndPriority),
		StagePolish:            withStageCache(StagePolish, sc, durable, s.polish),
	}
}

// stageCacher is the narrow surface withStageCache needs, satisfied by
// *internal/cache.StageCache; declared here so stages.go and
// cache_wrapper.go agree on the contract without a circular doc link.
type stageCacher interface {
	Key(stageID int, inputs any) string
	Get(ctx context.Context, key string, dest any) (bool, error)
	Put(ctx context.Context, key string, result any)
}

// stageCacheDurable is the narrow surface withStageCache needs against
// the durable store, satisfied by internal/session's adapter over
// *internal/store.Postgres. Kept separate from stageCacher so the
// Redis-backed hot path and the durable write-behind path can be wired,
// tested, and disabled independently.
type stageCacheDurable interface {
	Upsert(ctx context.Context, stageName, cacheKey string, result map[string]any, expiresAt time.Time) error
	RecordHit(ctx context.Context, stageName, cacheKey string, costSavedUSD float64) error
}

// noStageCacheDurable is the zero-value durable sink used when no
// durable store is wired — stage caching still works end to end off
// Redis alone.
type noStageCacheDurable struct{}

func (noStageCacheDurable) Upsert(context.Context, string, string, map[string]any, time.Time) error {
	return nil
}
func (noStageCacheDurable) RecordHit(context.Context, string, string, float64) error { return nil }

// stageName returns the §9 dispatch-table name for id, used as the
// durable store's human-readable stage identifier.
func stageName(id StageID) string {
	if role, ok := stageRoles[id]; ok {
		return role.name
	}
	return fmt.Sprintf("stage_%d", int(id))
}

func marshalKwargs(kwargs map[string]any) string {
	raw, err := json.Marshal(kwargs)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

const extractionSystemPrompt = `You extract structured business facts from raw, heterogeneous enrichment data about a company. Respond with strict JSON: {"facts": object of normalized fact key/value pairs, "gaps": array of strings naming missing fact categories}. Never invent a fact not present in the input; list it under gaps instead.`

func (s *Stages) extraction(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
	userPrompt := fmt.Sprintf("Company: %s\nIndustry: %s\nRaw enrichment:\n%s", company, industry, marshalKwargs(kwargs))
	resp, err := s.client.Call(ctx, modelCheapHighContext, extractionSystemPrompt, userPrompt, &llm.Schema{
		Name: "extraction", RequiredKeys: []string{"facts", "gaps"},
	})
	if err != nil {
		return StageOutput{}, err
	}
	return toStageOutput(resp)
}

const gapFollowUpSystemPrompt = `You answer one narrow factual question about a company using only general knowledge; if you cannot answer with confidence, say so plainly. Respond with strict JSON: {"answer": string, "confidence": number 0 to 1}.`

// gapAnalysis decides which follow-up questions are worth asking and
// issues up to three follow-up LLM calls in parallel (§4.8), merging
// their answers back into the extracted-data object.
func (s *Stages) gapAnalysis(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
	extracted, _ := kwargs["extracted_data"].(map[string]any)
	gaps, _ := extracted["gaps"].([]any)

	const maxFollowUps = 3
	if len(gaps) > maxFollowUps {
		gaps = gaps[:maxFollowUps]
	}

	answers := make([]map[string]any, len(gaps))
	var totalIn, totalOut int
	var totalCost float64

	g, gctx := errgroup.WithContext(ctx)
	for i, gap := range gaps {
		i, gap := i, gap
		g.Go(func() error {
			q := fmt.Sprintf("Company: %s (%s). Missing fact category: %v. What is the most likely value?", company, industry, gap)
			resp, err := s.client.Call(gctx, modelCheap, gapFollowUpSystemPrompt, q, &llm.Schema{
				Name: "gap_followup", RequiredKeys: []string{"answer", "confidence"},
			})
			if err != nil {
				return err
			}
			var parsed map[string]any
			if jerr := json.Unmarshal([]byte(resp.Content), &parsed); jerr == nil {
				answers[i] = parsed
			}
			totalIn += resp.TokensIn
			totalOut += resp.TokensOut
			totalCost += resp.CostUSD
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageOutput{}, apperr.New(apperr.KindLLMQuota, "gap_followup_failed", "gap analysis follow-up call failed", err)
	}

	augmented := map[string]any{}
	for k, v := range extracted {
		augmented[k] = v
	}
	augmented["follow_up_answers"] = answers

	return StageOutput{Data: augmented, TokensIn: totalIn, TokensOut: totalOut, CostUSD: totalCost}, nil
}

const strategySystemPromptTemplate = `You are a strategy consultant producing a structured business analysis in Portuguese. Apply these frameworks where enabled: %v. The client's data quality tier is %q; for any enabled section whose required inputs are absent, respond for that section with {"status": "dados_insuficientes", "o_que_precisariamos": [list of what is needed]} instead of inventing figures. Respond with strict JSON keyed by framework name.`

func (s *Stages) strategy(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
	extracted := kwargs["extracted_data"]
	challenge, _ := kwargs["challenge_text"].(string)
	tier, _ := kwargs["data_quality_tier"].(Tier)
	sections, _ := kwargs["enabled_sections"].([]string)

	systemPrompt := fmt.Sprintf(strategySystemPromptTemplate, sections, tier)
	sanitizedChallenge := llm.Sanitize(challenge)
	userPrompt := fmt.Sprintf("Company: %s\nIndustry: %s\nExtracted data: %v\nClient challenge: %s", company, industry, extracted, sanitizedChallenge)

	requiredKeys := append([]string{}, sections...)
	resp, err := s.client.Call(ctx, modelPremium, systemPrompt, userPrompt, &llm.Schema{
		Name: "strategy", RequiredKeys: requiredKeys,
	})
	if err != nil {
		return StageOutput{}, err
	}
	return toStageOutput(resp)
}

const competitiveMatrixSystemPrompt = `You build a competitor comparison table and 2D positioning coordinates (price vs. quality) from a company's extracted facts and strategy analysis. Respond with strict JSON: {"competitors": array of {name, strengths, weaknesses, position: {x, y}}, "positioning_summary": string}.`

func (s *Stages) competitiveMatrix(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
	userPrompt := fmt.Sprintf("Company: %s\nIndustry: %s\nExtraction: %v\nStrategy: %v", company, industry, kwargs["stage1_data"], kwargs["stage3_data"])
	resp, err := s.client.Call(ctx, modelMid, competitiveMatrixSystemPrompt, userPrompt, &llm.Schema{
		Name: "competitive_matrix", RequiredKeys: []string{"competitors", "positioning_summary"},
	})
	if err != nil {
		return StageOutput{}, err
	}
	return toStageOutput(resp)
}

const riskAndPrioritySystemPrompt = `You score a strategy's recommendations by effort vs impact, quantify risks as probability times impact, and compute an ROI estimate for each recommendation. Respond with strict JSON: {"priorities": array of {recommendation, effort, impact, score}, "risks": array of {risk, probability, impact, score}, "roi_estimates": array of {recommendation, roi_pct}}.`

func (s *Stages) riskAndPriority(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
	userPrompt := fmt.Sprintf("Company: %s\nIndustry: %s\nStrategy: %v", company, industry, kwargs["stage3_data"])
	resp, err := s.client.Call(ctx, modelPremiumReasoning, riskAndPrioritySystemPrompt, userPrompt, &llm.Schema{
		Name: "risk_and_priority", RequiredKeys: []string{"priorities", "risks", "roi_estimates"},
	})
	if err != nil {
		return StageOutput{}, err
	}
	return toStageOutput(resp)
}

const polishSystemPrompt = `You produce the final report: an executive summary, corrected Portuguese phrasing throughout, consistent section titles, and a pass for internal consistency across the strategy, competitive, and risk sections given to you. Respond with strict JSON: {"sumario_executivo": string, "report": object merging the corrected sections}.`

func (s *Stages) polish(ctx context.Context, company, industry string, kwargs map[string]any) (StageOutput, error) {
	userPrompt := fmt.Sprintf("Company: %s\nIndustry: %s\nStrategy: %v\nCompetitive: %v\nRisk: %v",
		company, industry, kwargs["stage3_data"], kwargs["stage4_data"], kwargs["stage5_data"])
	resp, err := s.client.Call(ctx, modelCheapPolish, polishSystemPrompt, userPrompt, &llm.Schema{
		Name: "polish", RequiredKeys: []string{"sumario_executivo", "report"},
	})
	if err != nil {
		return StageOutput{}, err
	}
	return toStageOutput(resp)
}

func toStageOutput(resp *llm.Response) (StageOutput, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &data); err != nil {
		return StageOutput{}, apperr.New(apperr.KindLLMParse, "stage_output_parse_failed", "stage output was not a JSON object", err)
	}
	return StageOutput{Data: data, TokensIn: resp.TokensIn, TokensOut: resp.TokensOut, CostUSD: resp.CostUSD}, nil
}
