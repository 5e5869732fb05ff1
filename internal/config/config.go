// Package config loads the server configuration from an HCL file, then
// applies environment overrides.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/sevenupdown/internal/game"
	"github.com/lox/sevenupdown/internal/wager"
)

// History drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerSettings
	Game      GameSettings
	Lobbies   []LobbyConfig
	Ledger    LedgerSettings
	Session   SessionSettings
	History   HistorySettings
	Reconcile ReconcileSettings
}

// ServerSettings contains process-level settings.
type ServerSettings struct {
	Address   string `hcl:"address,optional"`
	LogLevel  string `hcl:"log_level,optional"`
	LogFormat string `hcl:"log_format,optional"`
}

// GameSettings controls bet limits and the round cycle.
type GameSettings struct {
	GameID               string  `hcl:"game_id,optional"`
	MinBet               float64 `hcl:"min_bet,optional"`
	MaxBet               float64 `hcl:"max_bet,optional"`
	MaxCashout           float64 `hcl:"max_cashout,optional"`
	BettingSeconds       int     `hcl:"betting_seconds,optional"`
	CalculatingSeconds   int     `hcl:"calculating_seconds,optional"`
	ResultSeconds        int     `hcl:"result_seconds,optional"`
	EndedTicks           int     `hcl:"ended_ticks,optional"`
	SettleTimeoutSeconds int     `hcl:"settle_timeout_seconds,optional"`
	StaggerSeconds       int     `hcl:"stagger_seconds,optional"`
}

// LobbyConfig declares one lobby by its slot number.
type LobbyConfig struct {
	Slot string `hcl:"slot,label"`
}

// LedgerSettings points at the account service. An empty base URL selects
// the in-process sandbox ledger.
type LedgerSettings struct {
	BaseURL        string  `hcl:"base_url,optional"`
	TimeoutMS      int     `hcl:"timeout_ms,optional"`
	SandboxBalance float64 `hcl:"sandbox_balance,optional"`
}

type SessionSettings struct {
	TTLSeconds int `hcl:"ttl_seconds,optional"`
	MaxEntries int `hcl:"max_entries,optional"`
}

type HistorySettings struct {
	Driver string `hcl:"driver,optional"`
	Path   string `hcl:"path,optional"`
	DSN    string `hcl:"dsn,optional"`
}

type ReconcileSettings struct {
	IntervalSeconds int `hcl:"interval_seconds,optional"`
	MaxAttempts     int `hcl:"max_attempts,optional"`
}

// fileConfig mirrors Config with optional blocks so any block may be left
// out of the file.
type fileConfig struct {
	Server    *ServerSettings    `hcl:"server,block"`
	Game      *GameSettings      `hcl:"game,block"`
	Lobbies   []LobbyConfig      `hcl:"lobby,block"`
	Ledger    *LedgerSettings    `hcl:"ledger,block"`
	Session   *SessionSettings   `hcl:"session,block"`
	History   *HistorySettings   `hcl:"history,block"`
	Reconcile *ReconcileSettings `hcl:"reconcile,block"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	def := game.DefaultTiming()

	setDefault(&c.Server.Address, ":8080")
	setDefault(&c.Server.LogLevel, "info")
	setDefault(&c.Server.LogFormat, "text")

	setDefault(&c.Game.MinBet, 1)
	setDefault(&c.Game.MaxBet, 1000)
	setDefault(&c.Game.MaxCashout, 10000)
	setDefault(&c.Game.BettingSeconds, def.BettingSeconds)
	setDefault(&c.Game.CalculatingSeconds, int(def.Calculating/time.Second))
	setDefault(&c.Game.ResultSeconds, int(def.Result/time.Second))
	setDefault(&c.Game.EndedTicks, def.EndedTicks)
	setDefault(&c.Game.SettleTimeoutSeconds, int(def.SettleTimeout/time.Second))
	setDefault(&c.Game.StaggerSeconds, int(def.Stagger/time.Second))

	if len(c.Lobbies) == 0 {
		for _, slot := range game.DefaultSlots {
			c.Lobbies = append(c.Lobbies, LobbyConfig{Slot: slot})
		}
	}

	setDefault(&c.Ledger.TimeoutMS, 5000)
	setDefault(&c.Ledger.SandboxBalance, 1000)

	setDefault(&c.Session.TTLSeconds, 3600)
	setDefault(&c.Session.MaxEntries, 100_000)

	setDefault(&c.History.Driver, DriverMemory)
	if c.History.Driver == DriverSQLite {
		setDefault(&c.History.Path, "sevenupdown.db")
	}

	setDefault(&c.Reconcile.IntervalSeconds, 30)
	setDefault(&c.Reconcile.MaxAttempts, 10)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// LoadFile reads configuration from an HCL file. A missing file yields the
// defaults.
func LoadFile(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var fc fileConfig
	diags = gohcl.DecodeBody(file.Body, nil, &fc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg := &Config{Lobbies: fc.Lobbies}
	if fc.Server != nil {
		cfg.Server = *fc.Server
	}
	if fc.Game != nil {
		cfg.Game = *fc.Game
	}
	if fc.Ledger != nil {
		cfg.Ledger = *fc.Ledger
	}
	if fc.Session != nil {
		cfg.Session = *fc.Session
	}
	if fc.History != nil {
		cfg.History = *fc.History
	}
	if fc.Reconcile != nil {
		cfg.Reconcile = *fc.Reconcile
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Load reads filename, then applies overrides from the process environment.
func Load(filename string) (*Config, error) {
	cfg, err := LoadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns the first problem with the configuration.
func (c *Config) Validate() error {
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Server.LogLevel)
	}
	switch c.Server.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Server.LogFormat)
	}

	g := c.Game
	if g.MinBet <= 0 {
		return fmt.Errorf("game: min_bet must be positive")
	}
	if g.MaxBet < g.MinBet {
		return fmt.Errorf("game: max_bet must not be below min_bet")
	}
	if g.MaxCashout < g.MinBet {
		return fmt.Errorf("game: max_cashout must not be below min_bet")
	}
	if g.BettingSeconds < 1 || g.EndedTicks < 0 || g.CalculatingSeconds < 0 || g.ResultSeconds < 0 {
		return fmt.Errorf("game: round durations must not be negative and betting needs at least one second")
	}
	if g.SettleTimeoutSeconds < 1 {
		return fmt.Errorf("game: settle_timeout_seconds must be positive")
	}

	seen := make(map[string]bool, len(c.Lobbies))
	for _, l := range c.Lobbies {
		if l.Slot == "" {
			return fmt.Errorf("lobby: slot must not be empty")
		}
		if seen[l.Slot] {
			return fmt.Errorf("lobby %s: configured twice", l.Slot)
		}
		seen[l.Slot] = true
	}

	switch c.History.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.History.Path == "" {
			return fmt.Errorf("history: sqlite driver needs a path")
		}
	case DriverPostgres:
		if c.History.DSN == "" {
			return fmt.Errorf("history: postgres driver needs a dsn")
		}
	default:
		return fmt.Errorf("history: unknown driver %q", c.History.Driver)
	}

	if c.Ledger.BaseURL == "" && c.Ledger.SandboxBalance <= 0 {
		return fmt.Errorf("ledger: sandbox_balance must be positive")
	}
	return nil
}

// Slots lists the configured lobby slots in file order.
func (c *Config) Slots() []string {
	slots := make([]string, 0, len(c.Lobbies))
	for _, l := range c.Lobbies {
		if !slices.Contains(slots, l.Slot) {
			slots = append(slots, l.Slot)
		}
	}
	return slots
}

// GameConfig converts the settings into the game package's configuration.
func (c *Config) GameConfig() game.Config {
	g := c.Game
	timing := game.DefaultTiming()
	timing.BettingSeconds = g.BettingSeconds
	timing.Calculating = seconds(g.CalculatingSeconds)
	timing.Result = seconds(g.ResultSeconds)
	timing.EndedTicks = g.EndedTicks
	timing.SettleTimeout = seconds(g.SettleTimeoutSeconds)
	timing.Stagger = seconds(g.StaggerSeconds)

	return game.Config{
		GameID: g.GameID,
		Slots:  c.Slots(),
		Limits: wager.Limits{MinBet: g.MinBet, MaxBet: g.MaxBet, MaxCashout: g.MaxCashout},
		Timing: timing,
	}
}

// LedgerTimeout is the per-call bound on account service requests.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.Ledger.TimeoutMS) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
