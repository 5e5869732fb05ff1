// Package history persists finished rounds, per-bet settlements and the
// reconciliation queue of payouts the ledger failed to accept.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/wager"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("history: not found")
	// ErrDuplicate is returned when a settlement for the same bet id was
	// already written.
	ErrDuplicate = errors.New("history: duplicate record")
)

// Round is one finished round of a lobby.
type Round struct {
	LobbySlot  string       `json:"lobby_no"`
	RoundID    string       `json:"lobby_id"`
	StartDelay int          `json:"start_delay"`
	EndDelay   int          `json:"end_delay"`
	Outcome    dice.Outcome `json:"result"`
	FinalPhase int          `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"time"`
}

// Settlement is the settled state of one bet. It is written once and never
// updated.
type Settlement struct {
	BetID           string         `json:"bet_id"`
	RoundID         string         `json:"lobby_id"`
	LobbySlot       string         `json:"lobby_no"`
	UserID          string         `json:"user_id"`
	OperatorID      string         `json:"operator_id"`
	TotalBet        float64        `json:"totalBetAmount"`
	TotalPayout     float64        `json:"winAmount"`
	TotalMultiplier float64        `json:"totalMaxMult"`
	Status          wager.Status   `json:"status"`
	Results         []wager.Result `json:"userBets"`
	Outcome         dice.Outcome   `json:"result"`
	CreditFailed    bool           `json:"credit_failed,omitempty"`
	SettledAt       time.Time      `json:"settled_at"`
}

// RecentOutcome is a lobby result shown to players as history.
type RecentOutcome struct {
	LobbySlot string       `json:"lobby_no"`
	RoundID   string       `json:"lobby_id"`
	Outcome   dice.Outcome `json:"result"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReconciliationStatus tracks a queued payout.
type ReconciliationStatus string

const (
	ReconcilePending  ReconciliationStatus = "pending"
	ReconcileResolved ReconciliationStatus = "resolved"
	ReconcileFailed   ReconciliationStatus = "failed"
)

// Reconciliation is a credit the ledger did not confirm. Kind is the ledger
// credit kind (PAYOUT, REFUND or ROLLBACK).
type Reconciliation struct {
	ID          string
	BetID       string
	Kind        string
	RoundID     string
	UserID      string
	OperatorID  string
	GameID      string
	AuthToken   string
	LedgerTxnID string
	IP          string
	Amount      float64
	Attempts    int
	Status      ReconciliationStatus
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the persistence boundary for round history.
type Store interface {
	AppendRound(ctx context.Context, r Round) error
	AppendSettlements(ctx context.Context, s []Settlement) error
	// QueryRecentOutcomes returns the newest outcomes first. An empty slot
	// spans every lobby.
	QueryRecentOutcomes(ctx context.Context, slot string, limit int) ([]RecentOutcome, error)
	// QueryLastWin returns the payout of the player's most recent
	// settlement; the bool is false when the player has none.
	QueryLastWin(ctx context.Context, userID, operatorID string) (float64, bool, error)

	AppendReconciliation(ctx context.Context, r Reconciliation) error
	PendingReconciliations(ctx context.Context, limit int) ([]Reconciliation, error)
	UpdateReconciliation(ctx context.Context, r Reconciliation) error

	Close() error
}

// SettlementReader is implemented by stores that can list the settlements of
// a single round.
type SettlementReader interface {
	RoundSettlements(ctx context.Context, roundID string) ([]Settlement, error)
}
