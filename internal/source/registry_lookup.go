package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
)

// CorporateRegistrySource looks up a Brazilian CNPJ corporate registry
// entry (legal name, founding year, registered region) by company name
// or domain hint. L2, expensive external API tier.
type CorporateRegistrySource struct {
	pool    *ConnectionPool
	apiKey  string
	baseURL string
}

func NewCorporateRegistrySource(pool *ConnectionPool, apiKey string) *CorporateRegistrySource {
	return &CorporateRegistrySource{pool: pool, apiKey: apiKey, baseURL: "https://registry.example.com/cnpj"}
}

func (s *CorporateRegistrySource) Name() string          { return "registry" }
func (s *CorporateRegistrySource) Layer() Layer           { return Layer2 }
func (s *CorporateRegistrySource) Timeout() time.Duration { return 5 * time.Second }
func (s *CorporateRegistrySource) CostEstimate() float64  { return 0.01 }

type registryResponse struct {
	LegalName   string `json:"razao_social"`
	Region      string `json:"uf"`
	Country     string `json:"pais"`
	FoundedYear int    `json:"ano_fundacao"`
}

func (s *CorporateRegistrySource) Enrich(ctx context.Context, domain string, hints Hints) Result {
	start := time.Now()
	if s.apiKey == "" {
		return Result{Success: false, Duration: time.Since(start), ErrKind: apperr.KindAuth}
	}

	companyName, _ := hints["name"].(string)
	if companyName == "" {
		companyName = BareDomain(domain)
	}

	client := s.pool.Client(s.Name(), s.Timeout())
	url := s.baseURL + "?q=" + companyName + "&key=" + s.apiKey

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNetwork}
	}

	resp, err := client.Do(req)
	if err != nil {
		kind := apperr.KindNetwork
		if ctx.Err() != nil {
			kind = apperr.KindTimeout
		}
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: kind}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// not_found is not a failure for breaker accounting (§4.1) but it
		// still carries zero fields, so the orchestrator merge step sees
		// nothing to merge.
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNotFound}
	}
	if resp.StatusCode >= 500 {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindUpstream5xx}
	}

	var body registryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindParse}
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"legal_name":   body.LegalName,
			"region":       body.Region,
			"country":      body.Country,
			"founded_year": body.FoundedYear,
		},
		Cost:     s.CostEstimate(),
		Duration: time.Since(start),
	}
}
