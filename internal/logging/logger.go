// Package logging configures the service's zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/config"
)

// New returns a configured zerolog.Logger. Development mode renders a
// human-readable console stream; anything else emits structured JSON.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && cfg.LogLevel == "" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
