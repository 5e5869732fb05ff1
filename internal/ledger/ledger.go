// Package ledger talks to the external account service that owns player
// balances. Every stake and payout round-trips through a Gateway.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the account service answered and declined.
	ErrRejected = errors.New("ledger rejected transaction")
	// ErrUnavailable means no usable answer arrived: transport failure,
	// timeout or a server error.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Identity keys every ledger call.
type Identity struct {
	GameID     string `json:"game_id"`
	OperatorID string `json:"operator_id"`
	AuthToken  string `json:"-"`
	UserID     string `json:"user_id"`
}

// Account is the player identity and balance resolved from an auth token.
type Account struct {
	UserID     string  `json:"user_id"`
	OperatorID string  `json:"operator_id"`
	Balance    float64 `json:"balance"`
}

// DebitRequest charges a bet stake.
type DebitRequest struct {
	Identity
	RoundID string
	BetID   string
	Amount  float64
	IP      string
}

// DebitResult carries the transaction id to quote when crediting winnings.
type DebitResult struct {
	TxnID string
}

// CreditKind says why money goes back to a player. A bet receives at most one
// credit of each kind.
type CreditKind string

const (
	// CreditPayout pays winnings against a settled bet.
	CreditPayout CreditKind = "PAYOUT"
	// CreditRefund returns the stake of a bet that was debited but voided.
	CreditRefund CreditKind = "REFUND"
	// CreditRollback reverses a debit whose outcome is unknown. The ledger
	// applies it only if the debit with the same bet id went through.
	CreditRollback CreditKind = "ROLLBACK"
)

// CreditRequest pays winnings, refunds a voided stake or rolls back a debit.
// BetID and Kind key the call, so repeating it never credits twice.
type CreditRequest struct {
	Identity
	RoundID string
	BetID   string
	Kind    CreditKind
	TxnID   string
	Amount  float64
	IP      string
}

// IdempotencyKey is the key sent with the ledger call of txnType for betID.
// Retries of the same call share it.
func IdempotencyKey(betID, txnType string) string {
	return betID + ":" + txnType
}

func (r CreditRequest) kind() CreditKind {
	if r.Kind == "" {
		return CreditPayout
	}
	return r.Kind
}

// Gateway is the account service as seen by the game.
type Gateway interface {
	Player(ctx context.Context, authToken, gameID string) (Account, error)
	Debit(ctx context.Context, req DebitRequest) (DebitResult, error)
	Credit(ctx context.Context, req CreditRequest) error
}
