package source

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/strategyai/leadforge/internal/apperr"
)

// MetadataSource fetches a site's <title>, meta description, OpenGraph
// tags, and a rough tech-stack fingerprint. L1, cheap, no API key.
type MetadataSource struct {
	pool *ConnectionPool
}

func NewMetadataSource(pool *ConnectionPool) *MetadataSource {
	return &MetadataSource{pool: pool}
}

func (s *MetadataSource) Name() string           { return "metadata" }
func (s *MetadataSource) Layer() Layer            { return Layer1 }
func (s *MetadataSource) Timeout() time.Duration  { return 1500 * time.Millisecond }
func (s *MetadataSource) CostEstimate() float64   { return 0 }

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	descRe  = regexp.MustCompile(`(?is)<meta\s+name=["']description["']\s+content=["'](.*?)["']`)
	ogSiteRe = regexp.MustCompile(`(?is)<meta\s+property=["']og:site_name["']\s+content=["'](.*?)["']`)
)

func (s *MetadataSource) Enrich(ctx context.Context, domain string, hints Hints) Result {
	start := time.Now()
	client := s.pool.Client(s.Name(), s.Timeout())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, domain, nil)
	if err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindNetwork}
	}
	req.Header.Set("User-Agent", "leadforge-enrichment/1.0")

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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return Result{Success: false, Cost: s.CostEstimate(), Duration: time.Since(start), ErrKind: apperr.KindParse}
	}
	html := string(body)

	data := map[string]any{}
	if m := titleRe.FindStringSubmatch(html); len(m) == 2 {
		data["company_name"] = strings.TrimSpace(m[1])
	}
	if m := ogSiteRe.FindStringSubmatch(html); len(m) == 2 {
		data["company_name"] = strings.TrimSpace(m[1])
	}
	if m := descRe.FindStringSubmatch(html); len(m) == 2 {
		data["description"] = strings.TrimSpace(m[1])
	}
	data["tech_stack"] = detectTechStack(html, resp.Header)

	return Result{Success: true, Data: data, Cost: s.CostEstimate(), Duration: time.Since(start)}
}

func detectTechStack(html string, headers http.Header) []string {
	var stack []string
	lower := strings.ToLower(html)
	checks := map[string]string{
		"wp-content":     "WordPress",
		"shopify":        "Shopify",
		"__next":         "Next.js",
		"data-reactroot": "React",
		"ng-version":     "Angular",
		"webflow":        "Webflow",
	}
	for needle, tech := range checks {
		if strings.Contains(lower, needle) {
			stack = append(stack, tech)
		}
	}
	if server := headers.Get("Server"); server != "" {
		stack = append(stack, server)
	}
	return stack
}
