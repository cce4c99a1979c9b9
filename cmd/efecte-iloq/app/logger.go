package app

import (
	"github.com/rs/zerolog"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// NewLogger builds the service logger from configuration and installs it as
// the package default.
func NewLogger(cfg *Config) zerolog.Logger {
	logger := logging.NewFromConfig(&logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stderr",
	})
	logging.SetDefault(logger)
	return logger
}
