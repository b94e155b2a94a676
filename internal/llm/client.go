// Package llm implements C7: a model-agnostic LLM client with retry,
// timeout, structured-output enforcement, and injection-hardened
// prompt assembly (§4.7).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/apperr"
)

// Response is the uniform result of one LLM call.
type Response struct {
	Content    string
	TokensIn   int
	TokensOut  int
	CostUSD    float64
	Duration   time.Duration
}

// Client is the vendor-agnostic contract every caller in the service
// (the LLM-inference enrichment source and all six analysis stages)
// programs against.
type Client interface {
	// Call sends a system/user prompt pair to a model. When schema is
	// non-nil, the response is parsed and validated against it, with
	// one repair attempt on failure (§4.7).
	Call(ctx context.Context, model, systemPrompt, userPrompt string, schema *Schema) (*Response, error)
}

// Schema describes the required top-level keys of a structured JSON response.
type Schema struct {
	Name          string
	RequiredKeys  []string
}

// AnthropicClient is the default concrete vendor implementation.
type AnthropicClient struct {
	sdk     anthropic.Client
	pricing *PricingTable
	logger  zerolog.Logger
	timeout time.Duration
}

// NewAnthropicClient builds a Client backed by the Anthropic API.
func NewAnthropicClient(apiKey string, pricing *PricingTable, logger zerolog.Logger) *AnthropicClient {
	return &AnthropicClient{
		sdk:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		pricing: pricing,
		logger:  logger.With().Str("component", "llm_client").Logger(),
		timeout: 60 * time.Second,
	}
}

const maxAttempts = 3

// Call implements Client. Retries with exponential backoff on
// retryable error kinds (timeout, upstream_5xx, rate_limited);
// non-retryable kinds (auth, parse, not_found) fail immediately, per §4.7.
func (c *AnthropicClient) Call(ctx context.Context, model, systemPrompt, userPrompt string, schema *Schema) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.callOnce(ctx, model, systemPrompt, userPrompt)
		if err == nil {
			if schema == nil {
				return resp, nil
			}
			parsed, perr := c.enforceSchema(ctx, model, systemPrompt, userPrompt, resp, schema)
			if perr != nil {
				return resp, perr
			}
			return parsed, nil
		}

		lastErr = err
		kind := classifyErr(err)
		if !apperr.Retryable(kind) {
			return nil, apperr.New(kind, "llm_call_failed", "LLM call failed", err)
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * 250 * time.Millisecond
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying LLM call")
		select {
		case <-ctx.Done():
			return nil, apperr.New(apperr.KindTimeout, "llm_call_cancelled", "context cancelled during retry backoff", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, apperr.New(apperr.KindLLMQuota, "llm_call_exhausted", "LLM call failed after retries", lastErr)
}

func (c *AnthropicClient) callOnce(ctx context.Context, model, systemPrompt, userPrompt string) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	msg, err := c.sdk.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}

	tokensIn := int(msg.Usage.InputTokens)
	tokensOut := int(msg.Usage.OutputTokens)
	cost := c.pricing.Cost(model, tokensIn, tokensOut)

	return &Response{
		Content:   sb.String(),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   cost,
		Duration:  time.Since(start),
	}, nil
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// enforceSchema strips code fences, extracts the first top-level JSON
// object, and validates required keys. On failure it makes one repair
// attempt with the parse error echoed back to the model (§4.7); a
// second failure raises KindLLMParse.
func (c *AnthropicClient) enforceSchema(ctx context.Context, model, systemPrompt, userPrompt string, resp *Response, schema *Schema) (*Response, error) {
	obj, err := extractAndValidate(resp.Content, schema)
	if err == nil {
		resp.Content = obj
		return resp, nil
	}

	repairPrompt := fmt.Sprintf(
		"Your previous response did not satisfy the required schema %q (required keys: %v). "+
			"Error: %v\n\nRespond again with ONLY a single JSON object satisfying the schema.",
		schema.Name, schema.RequiredKeys, err,
	)
	repaired, rerr := c.callOnce(ctx, model, systemPrompt, userPrompt+"\n\n"+repairPrompt)
	if rerr != nil {
		return nil, apperr.New(apperr.KindLLMParse, "llm_parse_failed", "structured output repair call failed", rerr)
	}

	obj, err = extractAndValidate(repaired.Content, schema)
	if err != nil {
		return nil, apperr.New(apperr.KindLLMParse, "llm_parse_failed", "structured output did not satisfy schema after repair", err)
	}

	repaired.Content = obj
	repaired.TokensIn += resp.TokensIn
	repaired.TokensOut += resp.TokensOut
	repaired.CostUSD += resp.CostUSD
	repaired.Duration += resp.Duration
	return repaired, nil
}

func extractAndValidate(content string, schema *Schema) (string, error) {
	text := content
	if m := codeFenceRe.FindStringSubmatch(text); len(m) == 2 {
		text = m[1]
	}

	objText := text
	if m := jsonObjectRe.FindString(text); m != "" {
		objText = m
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(objText), &parsed); err != nil {
		return "", fmt.Errorf("invalid JSON object: %w", err)
	}

	for _, key := range schema.RequiredKeys {
		if _, ok := parsed[key]; !ok {
			return "", fmt.Errorf("missing required key %q", key)
		}
	}

	return objText, nil
}

// classifyErr maps a raw SDK error into the §4.1/§7 taxonomy. The
// Anthropic SDK surfaces HTTP-status-bearing errors; in the absence of
// a typed status here we fall back to string sniffing, matching the
// teacher's own defensive style when wrapping vendor SDKs it doesn't
// fully control.
func classifyErr(err error) apperr.Kind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context canceled") || strings.Contains(msg, "timeout"):
		return apperr.KindTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return apperr.KindRateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return apperr.KindAuth
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return apperr.KindUpstream5xx
	case strings.Contains(msg, "404"):
		return apperr.KindNotFound
	default:
		return apperr.KindInternal
	}
}
