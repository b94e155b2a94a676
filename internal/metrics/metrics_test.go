package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersEveryMetricWithoutPanicking(t *testing.T) {
	m := New()
	require.NotNil(t, m)

	m.HTTPRequestsTotal.WithLabelValues("/api/form/enrich", "POST", "200").Inc()
	m.LayerDuration.WithLabelValues("1").Observe(1.2)
	m.SourceCallTotal.WithLabelValues("registry", "success").Inc()
	m.StageDuration.WithLabelValues("3").Observe(45)
	m.StageCostUSD.WithLabelValues("3").Observe(0.03)
	m.BreakerState.WithLabelValues("llm_inference").Set(BreakerStateValue("open"))
	m.CacheHitsTotal.WithLabelValues("enrichment").Inc()
	m.CacheMissesTotal.WithLabelValues("enrichment").Inc()
	m.EventsDroppedTotal.WithLabelValues("42").Add(3)
}

func TestHandler_ServesPrometheusExpositionFormat(t *testing.T) {
	m := New()
	m.HTTPRequestsTotal.WithLabelValues("/api/submit", "POST", "201").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "leadforge_http_requests_total")
	assert.True(t, strings.Contains(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestBreakerStateValue_MapsAllThreeStates(t *testing.T) {
	assert.Equal(t, 0.0, BreakerStateValue("closed"))
	assert.Equal(t, 1.0, BreakerStateValue("half_open"))
	assert.Equal(t, 2.0, BreakerStateValue("open"))
}
