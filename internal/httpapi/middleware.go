package httpapi

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strategyai/leadforge/internal/metrics"
)

// securityHeaders sets the standard hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one structured line per completed request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

// metricsMiddleware records HTTPRequestsTotal and HTTPRequestDuration
// by route pattern (not raw path, to keep cardinality bounded the same
// way tracing's span naming does). A nil m (as in tests that don't wire
// metrics) makes this a no-op wrapper.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)

			route := routePattern(r)
			m.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.Status())).Inc()
		})
	}
}

// tracing starts one span per request against the process-wide
// TracerProvider (installed in cmd/server), replacing the teacher's
// hand-rolled Span/Tracer types with the real OpenTelemetry SDK.
func tracing(tracerName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+routePattern(r),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				))
			defer span.End()

			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", rw.Status()))
			if rw.Status() >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.Status()))
			}
		})
	}
}

// routePattern reads the route pattern chi matched, so spans are
// grouped by route ("/api/submissions/{id}") rather than by raw path —
// falling back to the raw path when called outside a chi route context.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// maxBodyBytes caps request bodies; GATEWAY_MAX_BODY_BYTES overrides it,
// matching the teacher's env-tunable mwMaxBodySize.
func maxBodyBytes(defaultBytes int64) func(http.Handler) http.Handler {
	if defaultBytes <= 0 {
		defaultBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := defaultBytes
			if v := os.Getenv("GATEWAY_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					limit = parsed
				}
			}
			if r.ContentLength > limit {
				writeValidationErr(w, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// dailyQuota enforces §6.3's per-IP daily submission quota with an
// in-memory sliding 24h window, generalized from the teacher's
// RateLimiter (per-minute sliding window, same clean/count/evict shape).
type dailyQuota struct {
	logger zerolog.Logger
	limit  int
	mu     sync.Mutex
	seen   map[string][]time.Time
}

func newDailyQuota(limit int, logger zerolog.Logger) *dailyQuota {
	return &dailyQuota{limit: limit, seen: make(map[string][]time.Time), logger: logger}
}

func (q *dailyQuota) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !q.allow(ip) {
			writeEnvelope(w, http.StatusTooManyRequests, envelope{
				Success: false,
				Error:   &errorBody{Code: "rate_limited", Message: "daily submission quota exceeded"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (q *dailyQuota) allow(ip string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	stamps := q.seen[ip]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= q.limit {
		q.seen[ip] = kept
		return false
	}
	q.seen[ip] = append(kept, time.Now())
	return true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
