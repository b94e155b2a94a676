// Package config loads gateway configuration from the environment with
// fail-fast validation of the values the service cannot run without.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-sourced setting the service needs.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Durable store
	DatabaseURL string

	// Enrichment / stage cache backing store
	RedisURL string

	// LLM vendor
	AnthropicAPIKey string
	DefaultModel    string

	// Optional per-source API keys — absence disables the source.
	SourceAPIKeys map[string]string

	// Event stream
	AllowedStreamOrigins []string

	// Rate limiting
	PerIPDailyQuota int

	// Layer budgets (§4.4)
	Layer1Budget time.Duration
	Layer2Budget time.Duration
	Layer3Budget time.Duration

	// Cache TTLs (§4.3, §4.6)
	EnrichmentCacheTTL time.Duration
	StageCacheTTL      time.Duration

	LogLevel string
}

// requiredEnv names environment variables whose absence is a startup error.
var requiredEnv = []string{
	"ANTHROPIC_API_KEY",
	"DATABASE_URL",
	"REDIS_URL",
}

// Load reads configuration from the environment (and an optional .env
// file) and validates it. Returns an error — never panics — so callers
// can fail fast with a clear message before any subsystem starts.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var missing []string
	for _, key := range requiredEnv {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		Addr:            getEnv("GATEWAY_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(getEnvInt("GRACEFUL_TIMEOUT_SEC", 15)) * time.Second,

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "claude-sonnet-4-5"),

		SourceAPIKeys: map[string]string{
			"geoip":        os.Getenv("GEOIP_API_KEY"),
			"registry":     os.Getenv("REGISTRY_API_KEY"),
			"linkedin":     os.Getenv("LINKEDIN_API_KEY"),
			"places":       os.Getenv("PLACES_API_KEY"),
			"people":       os.Getenv("PEOPLE_API_KEY"),
		},

		AllowedStreamOrigins: splitCSV(getEnv("ALLOWED_STREAM_ORIGINS", "*")),
		PerIPDailyQuota:      getEnvInt("PER_IP_DAILY_QUOTA", 50),

		Layer1Budget: time.Duration(getEnvInt("LAYER1_BUDGET_MS", 2000)) * time.Millisecond,
		Layer2Budget: time.Duration(getEnvInt("LAYER2_BUDGET_MS", 6000)) * time.Millisecond,
		Layer3Budget: time.Duration(getEnvInt("LAYER3_BUDGET_MS", 10000)) * time.Millisecond,

		EnrichmentCacheTTL: time.Duration(getEnvInt("ENRICHMENT_CACHE_TTL_DAYS", 30)) * 24 * time.Hour,
		StageCacheTTL:      time.Duration(getEnvInt("STAGE_CACHE_TTL_DAYS", 7)) * 24 * time.Hour,

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// IsDevelopment reports whether the service is running outside production.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
