package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/config"
	"github.com/JakeFAU/boltflow/internal/logging"
)

// bootstrap loads the optional .env file, configuration, and logger shared
// by every subcommand. A missing .env file is not an error.
func bootstrap(cmd *cli.Command) (config.Config, *zap.Logger, error) {
	if envFile := cmd.String("env"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	if err := logger.Sync(); err != nil {
		// stderr/stdout sync returns EINVAL on some platforms.
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}
}
