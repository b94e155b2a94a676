package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
)

// PeopleFinderSource resolves a domain's email naming pattern, employee
// count, and founding year from a people/company directory API. L2,
// expensive external API tier.
type PeopleFinderSource struct {
	pool    *ConnectionPool
	apiKey  string
	baseURL string
}

func NewPeopleFinderSource(pool *ConnectionPool, apiKey string) *PeopleFinderSource {
	return &PeopleFinderSource{pool: pool, apiKey: apiKey, baseURL: "https://people-api.example.com/domain-search"}
}

func (s *PeopleFinderSource) Name() string          { return "people_api" }
func (s *PeopleFinderSource) Layer() Layer           { return Layer2 }
func (s *PeopleFinderSource) Timeout() time.Duration { return 5 * time.Second }
func (s *PeopleFinderSource) CostEstimate() float64  { return 0.01 }

type peopleFinderResponse struct {
	Pattern       string `json:"pattern"`
	EmployeeCount int    `json:"employee_count"`
	FoundedYear   int    `json:"founded_year"`
	Company       string `json:"company"`
}

func (s *PeopleFinderSource) Enrich(ctx context.Context, domain string, hints Hints) Result {
	start := time.Now()
	if s.apiKey == "" {
		return Result{Success: false, Duration: time.Since(start), ErrKind: apperr.KindAuth}
	}

	client := s.pool.Client(s.Name(), s.Timeout())
	url := s.baseURL + "?domain=" + BareDomain(domain) + "&key=" + s.apiKey

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

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindRateLimited}
	}
	if resp.StatusCode == http.StatusNotFound {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNotFound}
	}
	if resp.StatusCode >= 500 {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindUpstream5xx}
	}

	var body peopleFinderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindParse}
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"email_pattern":  body.Pattern,
			"employee_count": body.EmployeeCount,
			"founded_year":   body.FoundedYear,
			"company_name":   body.Company,
		},
		Cost:     s.CostEstimate(),
		Duration: time.Since(start),
	}
}
