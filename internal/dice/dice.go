// Package dice rolls the two dice that decide a round and classifies the sum
// into the winning chip.
package dice

import (
	"fmt"
	"sync"

	"github.com/lox/sevenupdown/internal/wager"
)

// Faces is the number of sides on each die.
const Faces = 6

// Source supplies uniform integers in [0, n). *rand.Rand from math/rand/v2
// satisfies it.
type Source interface {
	IntN(n int) int
}

// Outcome is the immutable result of one round.
type Outcome struct {
	Dice   [2]int     `json:"dice"`
	Sum    int        `json:"sum"`
	Winner wager.Chip `json:"winner"`
}

// Combo renders the dice as "d1-d2".
func (o Outcome) Combo() string {
	return fmt.Sprintf("%d-%d", o.Dice[0], o.Dice[1])
}

// NewOutcome builds an Outcome from two die values.
func NewOutcome(d1, d2 int) (Outcome, error) {
	if d1 < 1 || d1 > Faces || d2 < 1 || d2 > Faces {
		return Outcome{}, fmt.Errorf("dice out of range: %d, %d", d1, d2)
	}
	sum := d1 + d2
	return Outcome{
		Dice:   [2]int{d1, d2},
		Sum:    sum,
		Winner: Classify(sum),
	}, nil
}

// Classify maps a dice sum to exactly one winning chip.
func Classify(sum int) wager.Chip {
	switch {
	case sum < 7:
		return wager.ChipUnder
	case sum > 7:
		return wager.ChipOver
	default:
		return wager.ChipSeven
	}
}

// Resolver draws outcomes from a Source. It is safe for concurrent use.
type Resolver struct {
	mu  sync.Mutex
	src Source
}

// NewResolver returns a Resolver drawing from src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve rolls two independent dice.
func (r *Resolver) Resolve() Outcome {
	r.mu.Lock()
	d1 := r.src.IntN(Faces) + 1
	d2 := r.src.IntN(Faces) + 1
	r.mu.Unlock()

	// Both values are in range by construction.
	out, _ := NewOutcome(d1, d2)
	return out
}
