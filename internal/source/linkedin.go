package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
)

// LinkedInSource fetches a company's canonical LinkedIn profile URL and
// employee-count range. L2, optional (disabled when no API key is set),
// expensive external API tier.
type LinkedInSource struct {
	pool    *ConnectionPool
	apiKey  string
	baseURL string
}

func NewLinkedInSource(pool *ConnectionPool, apiKey string) *LinkedInSource {
	return &LinkedInSource{pool: pool, apiKey: apiKey, baseURL: "https://linkedin-lookup.example.com/company"}
}

func (s *LinkedInSource) Name() string          { return "linkedin" }
func (s *LinkedInSource) Layer() Layer           { return Layer2 }
func (s *LinkedInSource) Timeout() time.Duration { return 5 * time.Second }
func (s *LinkedInSource) CostEstimate() float64  { return 0.02 }

// Enabled reports whether this optional source should be scheduled at all.
func (s *LinkedInSource) Enabled() bool { return s.apiKey != "" }

type linkedinResponse struct {
	URL            string `json:"linkedin_url"`
	EmployeeCount  string `json:"employee_range"`
	Industry       string `json:"industry"`
}

func (s *LinkedInSource) Enrich(ctx context.Context, domain string, hints Hints) Result {
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

	if resp.StatusCode == http.StatusNotFound {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNotFound}
	}
	if resp.StatusCode >= 500 {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindUpstream5xx}
	}

	var body linkedinResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindParse}
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"linkedin_url":    body.URL,
			"employee_count":  body.EmployeeCount,
		},
		Cost:     s.CostEstimate(),
		Duration: time.Since(start),
	}
}
