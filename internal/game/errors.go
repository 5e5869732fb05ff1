package game

import (
	"errors"

	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/wager"
)

var (
	ErrSessionMissing    = errors.New("no session for token")
	ErrUnknownLobby      = errors.New("unknown lobby")
	ErrBettingClosed     = errors.New("betting is closed")
	ErrStaleRound        = errors.New("bet targets a round that is not current")
	ErrDuplicateBet      = errors.New("bet already placed for this round")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrRoundNotOpen      = errors.New("round is not accepting bets")
	ErrUnauthorized      = errors.New("player lookup failed")
)

// UserMessage maps an error from the service to the text shown to players.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionMissing), errors.Is(err, ErrUnauthorized):
		return "Invalid Player Details"
	case errors.Is(err, ErrUnknownLobby):
		return "Cannot join room, invalid room id"
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient Balance"
	case errors.Is(err, ErrDuplicateBet):
		return "Bet already placed for this round"
	case errors.Is(err, ErrBettingClosed), errors.Is(err, ErrStaleRound), errors.Is(err, ErrRoundNotOpen):
		return "Betting is closed for this round"
	case errors.Is(err, wager.ErrMalformed), errors.Is(err, wager.ErrEmptyBet),
		errors.Is(err, wager.ErrInvalidAmount), errors.Is(err, wager.ErrInvalidChip),
		errors.Is(err, wager.ErrExclusiveChips):
		return "Invalid Bet type/Amount"
	case errors.Is(err, ledger.ErrRejected), errors.Is(err, ledger.ErrUnavailable):
		return "Bet Cancelled By Upstream Server"
	default:
		return "Something went wrong"
	}
}
