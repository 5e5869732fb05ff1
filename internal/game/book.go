package game

import (
	"sync"
	"time"

	"github.com/lox/sevenupdown/internal/wager"
)

// RoundBet is an accepted, debited bet waiting for settlement.
type RoundBet struct {
	ID           string            `json:"bet_id"`
	RoundID      string            `json:"lobby_id"`
	LobbySlot    string            `json:"lobby_no"`
	SessionToken string            `json:"-"`
	UserID       string            `json:"user_id"`
	OperatorID   string            `json:"operator_id"`
	GameID       string            `json:"game_id"`
	AuthToken    string            `json:"-"`
	IP           string            `json:"ip"`
	TotalAmount  float64           `json:"bet_amount"`
	LedgerTxnID  string            `json:"txn_id"`
	Wagers       []wager.ChipWager `json:"userBets"`
	PlacedAt     time.Time         `json:"placed_at"`

	// BalanceAfter is the cached balance once the stake was taken.
	BalanceAfter float64 `json:"-"`
}

// Book holds the bets of each open round in arrival order. A round's bets
// can be drained exactly once.
type Book struct {
	mu     sync.Mutex
	rounds map[string]*bookRound
}

type bookRound struct {
	sealed   bool
	reserved map[string]struct{}
	bets     []RoundBet
}

func NewBook() *Book {
	return &Book{rounds: make(map[string]*bookRound)}
}

// Open starts accepting reservations for roundID.
func (b *Book) Open(roundID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rounds[roundID]; !ok {
		b.rounds[roundID] = &bookRound{reserved: make(map[string]struct{})}
	}
}

// Reserve claims betID within roundID. A bet id may be reserved once per
// round, so a player gets a single bet per round.
func (b *Book) Reserve(roundID, betID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rounds[roundID]
	if !ok || r.sealed {
		return ErrRoundNotOpen
	}
	if _, dup := r.reserved[betID]; dup {
		return ErrDuplicateBet
	}
	r.reserved[betID] = struct{}{}
	return nil
}

// Release drops a reservation whose debit did not go through.
func (b *Book) Release(roundID, betID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rounds[roundID]; ok {
		delete(r.reserved, betID)
	}
}

// Append records a reserved bet.
func (b *Book) Append(bet RoundBet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rounds[bet.RoundID]
	if !ok || r.sealed {
		return ErrRoundNotOpen
	}
	if _, ok := r.reserved[bet.ID]; !ok {
		return ErrRoundNotOpen
	}
	r.bets = append(r.bets, bet)
	return nil
}

// Seal stops further reservations and appends for roundID.
func (b *Book) Seal(roundID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rounds[roundID]; ok {
		r.sealed = true
	}
}

// DrainAndClear removes and returns every bet of roundID. Later calls return
// nil.
func (b *Book) DrainAndClear(roundID string) []RoundBet {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rounds[roundID]
	if !ok {
		return nil
	}
	delete(b.rounds, roundID)
	return r.bets
}

// Len reports how many bets roundID holds.
func (b *Book) Len(roundID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rounds[roundID]; ok {
		return len(r.bets)
	}
	return 0
}
