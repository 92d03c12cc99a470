package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/JakeFAU/boltflow/internal/storage/postgres"
)

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required to migrate")
	}
	pool, err := postgres.Connect(ctx, postgresConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}
