package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/llm"
)

// LLMInferenceSource is the seventh enrichment source and the only
// Layer3 adapter: it asks a model to infer industry, size bracket, and
// a one-line business description from whatever L1/L2 hints are
// available. Its breaker is keyed by Name() ("llm_inference") at tier
// TierLLMAndMetadata. The analysis stages call the same llm.Client
// directly, outside any breaker, so this breaker's state never affects
// stage analysis.
type LLMInferenceSource struct {
	client llm.Client
	model  string
}

func NewLLMInferenceSource(client llm.Client, model string) *LLMInferenceSource {
	return &LLMInferenceSource{client: client, model: model}
}

func (s *LLMInferenceSource) Name() string           { return "llm_inference" }
func (s *LLMInferenceSource) Layer() Layer           { return Layer3 }
func (s *LLMInferenceSource) Timeout() time.Duration { return 10 * time.Second }
func (s *LLMInferenceSource) CostEstimate() float64  { return 0.03 }

const llmInferenceSystemPrompt = `You infer structural business facts from partial, possibly noisy data about a company's domain. Respond with strict JSON only: {"industry": string, "size_bracket": one of "micro","small","medium","large","enterprise", "description": a single sentence, "confidence": a number 0 to 1}. Never invent facts not supported by the provided data; if uncertain, say so via a low confidence value rather than guessing specifics.`

var inferenceSchema = &llm.Schema{
	Name:         "llm_inference_result",
	RequiredKeys: []string{"industry", "size_bracket", "description", "confidence"},
}

func (s *LLMInferenceSource) Enrich(ctx context.Context, domain string, hints Hints) Result {
	start := time.Now()

	userPrompt := fmt.Sprintf(
		"Domain: %s\nKnown signals: %v\n\nInfer industry, size_bracket, description, and confidence from the above alone.",
		BareDomain(domain), hints,
	)

	resp, err := s.client.Call(ctx, s.model, llmInferenceSystemPrompt, userPrompt, inferenceSchema)
	if err != nil {
		kind := apperr.KindInternal
		if appErr, ok := apperr.As(err); ok {
			kind = appErr.Kind
		}
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: kind}
	}

	var inferred struct {
		Industry    string  `json:"industry"`
		SizeBracket string  `json:"size_bracket"`
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &inferred); err != nil {
		return Result{Success: false, Cost: resp.CostUSD, Duration: time.Since(start), ErrKind: apperr.KindLLMParse}
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"ai_industry":     inferred.Industry,
			"ai_company_size": inferred.SizeBracket,
			"description":     inferred.Description,
			"llm_confidence":  inferred.Confidence,
			"llm_tokens_in":   resp.TokensIn,
			"llm_tokens_out":  resp.TokensOut,
			"llm_cost_usd":    resp.CostUSD,
		},
		Cost:     resp.CostUSD,
		Duration: time.Since(start),
	}
}
