package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// overrides are the settings that may come from the environment. Unset
// variables leave the file value alone.
type overrides struct {
	Addr          string `env:"SEVENUPDOWN_ADDR"`
	LogLevel      string `env:"SEVENUPDOWN_LOG_LEVEL"`
	LogFormat     string `env:"SEVENUPDOWN_LOG_FORMAT"`
	GameID        string `env:"SEVENUPDOWN_GAME_ID"`
	HistoryDriver string `env:"SEVENUPDOWN_HISTORY_DRIVER"`
	HistoryPath   string `env:"SEVENUPDOWN_HISTORY_PATH"`
	DatabaseURL   string `env:"DATABASE_URL"`
	LedgerBaseURL string `env:"LEDGER_BASE_URL"`
	LedgerTimeout int    `env:"LEDGER_TIMEOUT_MS"`
}

// ApplyEnv overlays environment overrides. A nil environ reads the process
// environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	var o overrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	override(&c.Server.Address, o.Addr)
	override(&c.Server.LogLevel, o.LogLevel)
	override(&c.Server.LogFormat, o.LogFormat)
	override(&c.Game.GameID, o.GameID)
	override(&c.History.Driver, o.HistoryDriver)
	override(&c.History.Path, o.HistoryPath)
	override(&c.History.DSN, o.DatabaseURL)
	override(&c.Ledger.BaseURL, o.LedgerBaseURL)
	override(&c.Ledger.TimeoutMS, o.LedgerTimeout)

	// A DSN alone is enough to pick postgres.
	if o.DatabaseURL != "" && o.HistoryDriver == "" && c.History.Driver == DriverMemory {
		c.History.Driver = DriverPostgres
	}
	if c.History.Driver == DriverSQLite {
		setDefault(&c.History.Path, "sevenupdown.db")
	}
	return nil
}

func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
