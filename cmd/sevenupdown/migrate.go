package main

import (
	"context"

	"github.com/lox/sevenupdown/internal/config"
	"github.com/lox/sevenupdown/internal/history/postgres"
	"github.com/lox/sevenupdown/internal/history/sqlite"
)

// MigrateCmd brings the configured history store's schema up to date.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}

	switch cfg.History.Driver {
	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.History.DSN); err != nil {
			return err
		}
	case config.DriverSQLite:
		store, err := sqlite.Open(context.Background(), cfg.History.Path)
		if err != nil {
			return err
		}
		if err := store.Close(); err != nil {
			return err
		}
	default:
		logger.Info("Nothing to migrate", "driver", cfg.History.Driver)
		return nil
	}
	logger.Info("History schema is up to date", "driver", cfg.History.Driver)
	return nil
}
