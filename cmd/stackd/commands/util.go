package commands

import (
	"fmt"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(envFile string, fileFound bool) string {
	if fileFound {
		return envFile
	}
	return "environment"
}
