package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/strategyai/leadforge/internal/analysis"
	"github.com/strategyai/leadforge/internal/breaker"
	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/config"
	"github.com/strategyai/leadforge/internal/enrichment"
	"github.com/strategyai/leadforge/internal/httpapi"
	"github.com/strategyai/leadforge/internal/llm"
	"github.com/strategyai/leadforge/internal/logging"
	"github.com/strategyai/leadforge/internal/metrics"
	"github.com/strategyai/leadforge/internal/session"
	"github.com/strategyai/leadforge/internal/source"
	"github.com/strategyai/leadforge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("leadforge starting")

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx := context.Background()

	m := metrics.New()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}
	cstore := cache.NewStore(rdb, m, log)
	ec := cache.NewEnrichmentCache(cstore, cfg.EnrichmentCacheTTL)
	sc := cache.NewStageCache(cstore, cfg.StageCacheTTL)

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pg.Close()
	if err := pg.ApplySchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	breakers := breaker.NewRegistry(log)
	breakers.OnStatusChange(func(name string, from, to gobreaker.State) {
		m.BreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(stateLabel(to)))
	})

	pricing := llm.DefaultPricingTable()
	llmClient := llm.NewAnthropicClient(cfg.AnthropicAPIKey, pricing, log)

	sources := registerSources(cfg, llmClient, log)

	ledger := session.NewStoreBackedLedger(pg, log)
	sessionPersister := session.NewStoreBackedPersister(pg, log)
	orchestrator := enrichment.NewOrchestrator(sources, breakers, ec, ledger, sessionPersister, m, log)

	stages := analysis.NewStages(llmClient)
	durableStageCache := session.NewStoreBackedStageCache(pg, log)
	pipeline := analysis.NewPipeline(stages, sc, durableStageCache, m, log)

	loader := session.NewLoader(ec, pg, log)

	handlers := httpapi.NewHandlers(orchestrator, pipeline, loader, pg, ec, m, log)
	router := httpapi.NewRouter(handlers, httpapi.Options{
		AllowedOrigins:  cfg.AllowedStreamOrigins,
		PerIPDailyQuota: cfg.PerIPDailyQuota,
		MaxBodyBytes:    1 << 20,
		Metrics:         m,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Layer3Budget + 2*time.Minute + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("leadforge listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("leadforge stopped gracefully")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer provider shutdown failed")
	}
}

// registerSources wires one adapter per source named in §4.4 whose API
// key (or, for metadata, no key at all) is present, mirroring the
// teacher's registerProviders: presence of credentials is what decides
// whether a source participates, not a separate enable flag.
func registerSources(cfg *config.Config, llmClient llm.Client, log zerolog.Logger) *source.Registry {
	registry := source.NewRegistry()
	pool := source.NewConnectionPool()

	registry.Register(source.NewMetadataSource(pool))
	registry.Register(source.NewLLMInferenceSource(llmClient, cfg.DefaultModel))

	if key := cfg.SourceAPIKeys["geoip"]; key != "" {
		registry.Register(source.NewGeoIPSource(pool, key))
		log.Info().Msg("registered geoip source")
	}
	if key := cfg.SourceAPIKeys["registry"]; key != "" {
		registry.Register(source.NewCorporateRegistrySource(pool, key))
		log.Info().Msg("registered corporate registry source")
	}
	if key := cfg.SourceAPIKeys["linkedin"]; key != "" {
		registry.Register(source.NewLinkedInSource(pool, key))
		log.Info().Msg("registered linkedin source")
	}
	if key := cfg.SourceAPIKeys["places"]; key != "" {
		registry.Register(source.NewPlacesSource(pool, key))
		log.Info().Msg("registered places source")
	}
	if key := cfg.SourceAPIKeys["people"]; key != "" {
		registry.Register(source.NewPeopleFinderSource(pool, key))
		log.Info().Msg("registered people finder source")
	}

	return registry
}

func redisAddr(url string) string {
	// REDIS_URL is validated non-empty by config.Load; go-redis wants a
	// bare addr for this simple Options form, so strip a redis:// scheme
	// if present.
	const scheme = "redis://"
	if len(url) > len(scheme) && url[:len(scheme)] == scheme {
		return url[len(scheme):]
	}
	return url
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "closed"
	}
}
