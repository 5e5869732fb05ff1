package game

import (
	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/wager"
)

// Outbound event types.
const (
	EventPhaseTick   = "phase_tick"
	EventOutcome     = "outcome"
	EventBetAccepted = "bet_accepted"
	EventBetError    = "bet_error"
	EventSettlement  = "settlement"
	EventInfo        = "info"
	EventHistory     = "history"
	EventHistoryData = "history_data"
	EventLastWin     = "last_win"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventLobbies     = "lobbies"
)

// Event is a typed payload on its way to one or more connections.
type Event struct {
	Type string
	Data any
}

// Publisher delivers events. Implementations must not block the caller on a
// slow connection.
type Publisher interface {
	BroadcastToLobby(slot string, ev Event)
	SendToConn(connID string, ev Event) error
}

// PhaseTickData is broadcast on every scheduler tick.
type PhaseTickData struct {
	RoundID   string        `json:"round_id"`
	Slot      string        `json:"lobby"`
	Remaining int           `json:"remaining"`
	Phase     string        `json:"phase"`
	Outcome   *dice.Outcome `json:"outcome,omitempty"`
}

// InfoData carries a player's balance.
type InfoData struct {
	UserID     string  `json:"user_id"`
	OperatorID string  `json:"operator_id"`
	Balance    float64 `json:"balance"`
}

// BetAcceptedData confirms a placement.
type BetAcceptedData struct {
	Message string            `json:"message"`
	RoundID string            `json:"round_id"`
	BetID   string            `json:"bet_id"`
	Amount  float64           `json:"amount"`
	Wagers  []wager.ChipWager `json:"userBets"`
}

// SettlementData is sent to a player whose bet was settled or voided.
type SettlementData struct {
	Message    string         `json:"message"`
	Status     string         `json:"status"`
	RoundID    string         `json:"lobby_id"`
	WinAmount  float64        `json:"mywinningAmount,omitempty"`
	LossAmount float64        `json:"lossAmount,omitempty"`
	Outcome    *dice.Outcome  `json:"roundResult,omitempty"`
	Results    []wager.Result `json:"betResults,omitempty"`
}

// HistoryData is the snapshot sent on connect and on joining a lobby.
type HistoryData struct {
	Recent []history.RecentOutcome `json:"recent"`
}

// LastWinData carries the payout of the player's most recent settlement.
type LastWinData struct {
	Amount float64 `json:"myWinningAmount"`
}

// RoomData acknowledges a join or leave.
type RoomData struct {
	Slot    string         `json:"lobby"`
	Message string         `json:"message"`
	State   *LobbySnapshot `json:"state,omitempty"`
}
