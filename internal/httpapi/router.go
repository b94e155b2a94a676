package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/metrics"
)

// Options configures the router beyond the Handlers it mounts.
type Options struct {
	AllowedOrigins  []string
	PerIPDailyQuota int
	MaxBodyBytes    int64
	Metrics         *metrics.Metrics
}

// NewRouter builds the full chi.Router: middleware chain (order
// matters, per the teacher's router.NewRouter) followed by the §6.1
// route table. CORS runs first so preflight requests never reach auth
// or body-size checks; recovery wraps everything below it so a handler
// panic always still gets logged and answered.
func NewRouter(h *Handlers, opts Options, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	r.Use(securityHeaders)
	r.Use(chimw.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Request-Id", chimw.GetReqID(req.Context()))
			next.ServeHTTP(w, req)
		})
	})
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(tracing("leadforge/httpapi"))
	r.Use(metricsMiddleware(opts.Metrics))
	r.Use(maxBodyBytes(opts.MaxBodyBytes))

	r.Get("/healthz", healthz)

	if opts.Metrics != nil {
		r.Get("/metrics", opts.Metrics.Handler().ServeHTTP)
	}

	quota := newDailyQuota(opts.PerIPDailyQuota, logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/form", func(r chi.Router) {
			r.With(quota.Handler).Post("/enrich", h.Enrich)
			r.Get("/stream/{session_id}", h.StreamEnrichment)
			r.Get("/session/{session_id}", h.Session)
		})

		r.With(quota.Handler).Post("/submit", h.Submit)
		r.Get("/submissions/{id}/stream", h.StreamSubmission)
	})

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"leadforge"}`))
}
