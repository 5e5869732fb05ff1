package game

import (
	"sync"

	"github.com/lox/sevenupdown/internal/dice"
)

// Phase is where a lobby is in its round cycle.
type Phase int

const (
	PhaseBettingOpen Phase = iota
	PhaseCalculating
	PhaseResultReady
	PhaseSettling
	PhaseEnded
)

// Code is the numeric status players and the round record see. Settling is
// reported as result-ready until settlement finishes.
func (p Phase) Code() int {
	switch p {
	case PhaseBettingOpen:
		return 0
	case PhaseCalculating:
		return 1
	case PhaseResultReady, PhaseSettling:
		return 2
	default:
		return 3
	}
}

// Label is the phase name used on ticks.
func (p Phase) Label() string {
	switch p {
	case PhaseBettingOpen:
		return "STARTING"
	case PhaseCalculating:
		return "CALCULATING"
	case PhaseResultReady:
		return "RESULT"
	case PhaseSettling:
		return "SETTLING"
	default:
		return "ENDED"
	}
}

func (p Phase) String() string { return p.Label() }

// LobbySnapshot is a point-in-time copy of a lobby's state.
type LobbySnapshot struct {
	Slot      string        `json:"lobby"`
	RoundID   string        `json:"lobby_id"`
	Phase     string        `json:"phase"`
	Status    int           `json:"status"`
	Remaining int           `json:"remaining"`
	Outcome   *dice.Outcome `json:"outcome,omitempty"`
}

// Lobby is one independent betting table. Its state is written only by its
// scheduler.
type Lobby struct {
	Slot string
	book *Book

	// gate orders placements against phase transitions: placements hold the
	// read side from the phase check until the bet is in the book.
	gate sync.RWMutex

	mu        sync.RWMutex
	roundID   string
	phase     Phase
	remaining int
	outcome   *dice.Outcome
}

func newLobby(slot string) *Lobby {
	return &Lobby{Slot: slot, book: NewBook(), phase: PhaseEnded}
}

// Snapshot copies the lobby's current state.
func (l *Lobby) Snapshot() LobbySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LobbySnapshot{
		Slot:      l.Slot,
		RoundID:   l.roundID,
		Phase:     l.phase.Label(),
		Status:    l.phase.Code(),
		Remaining: l.remaining,
		Outcome:   l.outcome,
	}
}

func (l *Lobby) current() (string, Phase) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.roundID, l.phase
}

// transition waits for in-flight placements, then applies fn.
func (l *Lobby) transition(fn func()) {
	l.gate.Lock()
	defer l.gate.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

func (l *Lobby) open(roundID string, remaining int) {
	l.transition(func() {
		l.book.Open(roundID)
		l.roundID = roundID
		l.phase = PhaseBettingOpen
		l.remaining = remaining
		l.outcome = nil
	})
}

// close ends betting for the current round. Once it returns no placement can
// reach the book.
func (l *Lobby) close() {
	l.transition(func() {
		l.phase = PhaseCalculating
		l.remaining = 0
		l.book.Seal(l.roundID)
	})
}

func (l *Lobby) setPhase(p Phase, outcome *dice.Outcome) {
	l.transition(func() {
		l.phase = p
		if outcome != nil {
			l.outcome = outcome
		}
	})
}

func (l *Lobby) setRemaining(n int) {
	l.mu.Lock()
	l.remaining = n
	l.mu.Unlock()
}
