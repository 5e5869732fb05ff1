// Package game runs the dice lobbies: each lobby cycles through betting,
// calculation, result and settlement on its own schedule, while players
// place bets through the Service.
package game

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/reconcile"
	"github.com/lox/sevenupdown/internal/roundid"
	"github.com/lox/sevenupdown/internal/session"
	"github.com/lox/sevenupdown/internal/wager"
)

// DefaultSlots are the lobbies started when none are configured.
var DefaultSlots = []string{"101", "102", "103"}

// Timing is the round cycle.
type Timing struct {
	BettingSeconds int
	Calculating    time.Duration
	Result         time.Duration
	EndedTicks     int
	Tick           time.Duration
	SettleTimeout  time.Duration
	Stagger        time.Duration
}

// DefaultTiming is the production cycle: a 15..0 countdown, 3s calculating,
// 8s showing the result, then 3 ended ticks.
func DefaultTiming() Timing {
	return Timing{
		BettingSeconds: 15,
		Calculating:    3 * time.Second,
		Result:         8 * time.Second,
		EndedTicks:     3,
		Tick:           time.Second,
		SettleTimeout:  30 * time.Second,
		Stagger:        5 * time.Second,
	}
}

// Config is the game's static configuration.
type Config struct {
	GameID string
	Slots  []string
	Limits wager.Limits
	Timing Timing
}

// Deps are the collaborators shared by every lobby.
type Deps struct {
	Clock     quartz.Clock
	Logger    *log.Logger
	Ledger    ledger.Gateway
	Sessions  session.Store
	History   history.Store
	Queue     reconcile.Queue
	Publisher Publisher
	Resolver  *dice.Resolver
	RoundIDs  *roundid.Generator
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.RoundIDs == nil {
		d.RoundIDs = roundid.NewGenerator()
	}
	return d
}
