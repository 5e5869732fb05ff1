package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/lox/sevenupdown/internal/config"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/history/postgres"
	"github.com/lox/sevenupdown/internal/history/sqlite"
)

// load reads the .env file, the HCL file and the environment, then applies
// command line overrides.
func (g *Globals) load() (*config.Config, *log.Logger, error) {
	if err := config.LoadDotEnv(g.EnvFile); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", g.EnvFile, err)
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.Server.LogLevel = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Server.LogFormat = g.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, newLogger(cfg.Server), nil
}

func newLogger(s config.ServerSettings) *log.Logger {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	if s.LogFormat == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

// openHistory opens the configured history store. SQLite and Postgres
// stores are migrated before use.
func openHistory(ctx context.Context, cfg config.HistorySettings, logger *log.Logger) (history.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("Opening history", "driver", cfg.Driver, "path", cfg.Path)
		return sqlite.Open(ctx, cfg.Path)
	case config.DriverPostgres:
		logger.Info("Opening history", "driver", cfg.Driver)
		if err := postgres.Migrate(cfg.DSN); err != nil {
			return nil, err
		}
		return postgres.Open(ctx, cfg.DSN)
	default:
		logger.Warn("History is kept in memory and lost on exit")
		return history.NewMemory(), nil
	}
}
