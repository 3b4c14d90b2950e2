package commands

import (
	"fmt"
	"os"

	"github.com/book-expert/logger"

	"github.com/book-expert/kokoro-deploy/internal/config"
)

const logFileName = "kokoro-deploy.log"

// app bundles the loaded configuration and the final logger for one command
// invocation.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

// newApp loads the configuration and brings up logging in two phases: a
// temporary logger carries the startup, then the final logger lives in the
// configured logs directory. The returned cleanup closes the final logger.
//
// With a non-empty configPath the configuration comes from that TOML file;
// otherwise it is resolved through the central configurator.
func newApp(configPath string) (*app, func(), error) {
	bootstrapLog, err := logger.New(os.TempDir(), "kokoro-deploy-bootstrap.log")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to prepare directories: %v", err)

		return nil, nil, err
	}

	finalLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, fmt.Errorf("failed to create final logger: %w", err)
	}

	cleanup := func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}

	return &app{cfg: cfg, log: finalLog}, cleanup, nil
}

func loadConfig(configPath string, log *logger.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}

	return config.Load(log)
}
