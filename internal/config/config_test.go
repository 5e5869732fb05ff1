package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, []string{"101", "102", "103"}, cfg.Slots())
	assert.Equal(t, DriverMemory, cfg.History.Driver)

	gc := cfg.GameConfig()
	assert.Equal(t, 15, gc.Timing.BettingSeconds)
	assert.Equal(t, 3*time.Second, gc.Timing.Calculating)
	assert.Equal(t, 8*time.Second, gc.Timing.Result)
	assert.Equal(t, 3, gc.Timing.EndedTicks)
	assert.Equal(t, 5*time.Second, gc.Timing.Stagger)
	assert.Equal(t, time.Second, gc.Timing.Tick)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "server.hcl", `
server {
  address   = "127.0.0.1:9000"
  log_level = "debug"
}

game {
  game_id         = "7ud"
  min_bet         = 10
  max_bet         = 500
  max_cashout     = 2500
  betting_seconds = 10
}

lobby "201" {}
lobby "202" {}

history {
  driver = "sqlite"
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "text", cfg.Server.LogFormat, "unset fields take defaults")
	assert.Equal(t, []string{"201", "202"}, cfg.Slots())
	assert.Equal(t, "sevenupdown.db", cfg.History.Path)

	gc := cfg.GameConfig()
	assert.Equal(t, "7ud", gc.GameID)
	assert.Equal(t, 10.0, gc.Limits.MinBet)
	assert.Equal(t, 500.0, gc.Limits.MaxBet)
	assert.Equal(t, 2500.0, gc.Limits.MaxCashout)
	assert.Equal(t, 10, gc.Timing.BettingSeconds)
	assert.Equal(t, 3*time.Second, gc.Timing.Calculating)
}

func TestLoadFileRejectsBadHCL(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(writeFile(t, "bad.hcl", `server { address = `))
	require.Error(t, err)

	_, err = LoadFile(writeFile(t, "unknown.hcl", `table "main" {}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.Server.LogFormat = "xml" }},
		{"min bet", func(c *Config) { c.Game.MinBet = -1 }},
		{"max below min", func(c *Config) { c.Game.MaxBet = 0.5 }},
		{"cashout below min", func(c *Config) { c.Game.MaxCashout = 0.5 }},
		{"no betting window", func(c *Config) { c.Game.BettingSeconds = 0 }},
		{"duplicate lobby", func(c *Config) { c.Lobbies = []LobbyConfig{{Slot: "101"}, {Slot: "101"}} }},
		{"unknown driver", func(c *Config) { c.History.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.History.Driver = DriverPostgres }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(map[string]string{
		"SEVENUPDOWN_ADDR":      ":9999",
		"SEVENUPDOWN_LOG_LEVEL": "warn",
		"DATABASE_URL":          "postgres://localhost/seven",
		"LEDGER_BASE_URL":       "http://ledger.internal",
		"LEDGER_TIMEOUT_MS":     "750",
	}))

	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, DriverPostgres, cfg.History.Driver, "a database url selects postgres")
	assert.Equal(t, "postgres://localhost/seven", cfg.History.DSN)
	assert.Equal(t, "http://ledger.internal", cfg.Ledger.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.LedgerTimeout())
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvLeavesUnsetValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Server.Address = ":7000"
	require.NoError(t, cfg.ApplyEnv(map[string]string{}))
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, DriverMemory, cfg.History.Driver)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Error(t, cfg.ApplyEnv(map[string]string{"LEDGER_TIMEOUT_MS": "soon"}))
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := writeFile(t, ".env", "SEVENUPDOWN_DOTENV_TEST=from-file\nSEVENUPDOWN_DOTENV_KEEP=from-file\n")
	t.Setenv("SEVENUPDOWN_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("SEVENUPDOWN_DOTENV_TEST") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("SEVENUPDOWN_DOTENV_TEST"))
	assert.Equal(t, "from-env", os.Getenv("SEVENUPDOWN_DOTENV_KEEP"), "existing variables win")
}
