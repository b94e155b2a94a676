package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
)

// PlacesSource looks up a business's physical address, phone, rating,
// and review count from a places directory. L2, expensive external API tier.
type PlacesSource struct {
	pool    *ConnectionPool
	apiKey  string
	baseURL string
}

func NewPlacesSource(pool *ConnectionPool, apiKey string) *PlacesSource {
	return &PlacesSource{pool: pool, apiKey: apiKey, baseURL: "https://places.example.com/search"}
}

func (s *PlacesSource) Name() string          { return "places" }
func (s *PlacesSource) Layer() Layer           { return Layer2 }
func (s *PlacesSource) Timeout() time.Duration { return 5 * time.Second }
func (s *PlacesSource) CostEstimate() float64  { return 0.005 }

type placesResponse struct {
	BusinessName string  `json:"name"`
	Address      string  `json:"formatted_address"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	Phone        string  `json:"phone"`
	Rating       float64 `json:"rating"`
	ReviewsCount int     `json:"reviews_count"`
}

func (s *PlacesSource) Enrich(ctx context.Context, domain string, hints Hints) Result {
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
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNotFound}
	}
	if resp.StatusCode >= 500 {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindUpstream5xx}
	}

	var body placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindParse}
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"business_name": body.BusinessName,
			"city":          body.City,
			"state":         body.State,
			"phone":         body.Phone,
			"address":       body.Address,
			"rating":        body.Rating,
			"reviews_count": body.ReviewsCount,
		},
		Cost:     s.CostEstimate(),
		Duration: time.Since(start),
	}
}
