package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
)

// GeoIPSource resolves a domain's hosting country/timezone/region via an
// IP-geolocation lookup. L1, cheap.
type GeoIPSource struct {
	pool    *ConnectionPool
	apiKey  string
	baseURL string
}

func NewGeoIPSource(pool *ConnectionPool, apiKey string) *GeoIPSource {
	return &GeoIPSource{pool: pool, apiKey: apiKey, baseURL: "https://ipapi.example.com/lookup"}
}

func (s *GeoIPSource) Name() string          { return "geoip" }
func (s *GeoIPSource) Layer() Layer           { return Layer1 }
func (s *GeoIPSource) Timeout() time.Duration { return 1500 * time.Millisecond }
func (s *GeoIPSource) CostEstimate() float64  { return 0.0001 }

type geoipResponse struct {
	Country  string `json:"country"`
	Region   string `json:"region"`
	City     string `json:"city"`
	Timezone string `json:"timezone"`
}

func (s *GeoIPSource) Enrich(ctx context.Context, domain string, hints Hints) Result {
	start := time.Now()
	if s.apiKey == "" {
		return Result{Success: false, Cost: 0, Duration: time.Since(start), ErrKind: apperr.KindAuth}
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

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindRateLimited}
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindAuth}
	case resp.StatusCode == http.StatusNotFound:
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNotFound}
	case resp.StatusCode >= 500:
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindUpstream5xx}
	}

	var body geoipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindParse}
	}

	return Result{
		Success: true,
		Data: map[string]any{
			"country":  body.Country,
			"region":   body.Region,
			"city":     body.City,
			"timezone": body.Timezone,
		},
		Cost:     s.CostEstimate(),
		Duration: time.Since(start),
	}
}
