package wager

import (
	"fmt"
	"math"
)

// Chip selects a bet category. The numeric values match the outcome winner
// codes so a wager wins when its chip equals the round's winner.
type Chip int

const (
	ChipUnder Chip = 1 // dice sum below seven
	ChipOver  Chip = 2 // dice sum above seven
	ChipSeven Chip = 3 // dice sum exactly seven
)

// Valid reports whether c is one of the three bet categories.
func (c Chip) Valid() bool {
	return c >= ChipUnder && c <= ChipSeven
}

// Multiplier returns the payout multiplier for a winning wager on c.
func (c Chip) Multiplier() float64 {
	switch c {
	case ChipUnder, ChipSeven:
		return 2
	case ChipOver:
		return 5
	default:
		return 0
	}
}

func (c Chip) String() string {
	switch c {
	case ChipUnder:
		return "under"
	case ChipOver:
		return "over"
	case ChipSeven:
		return "seven"
	default:
		return fmt.Sprintf("chip(%d)", int(c))
	}
}

// ChipWager is a single amount placed on one chip.
type ChipWager struct {
	Chip   Chip    `json:"chip"`
	Amount float64 `json:"betAmount"`
}

// Limits bounds wager amounts and the payout of a single winning wager.
type Limits struct {
	MinBet     float64
	MaxBet     float64
	MaxCashout float64
}

// Status is the settled state of a wager or a whole bet.
type Status string

const (
	StatusWin  Status = "win"
	StatusLoss Status = "loss"
)

// Result is a settled ChipWager.
type Result struct {
	Chip       Chip    `json:"chip"`
	Amount     float64 `json:"betAmount"`
	Payout     float64 `json:"winAmount"`
	Multiplier float64 `json:"mult"`
	Status     Status  `json:"status"`
}

// Evaluate settles w against the winning chip. A winning wager pays its chip
// multiplier, capped at maxCashout when maxCashout is positive.
func Evaluate(w ChipWager, winner Chip, maxCashout float64) Result {
	res := Result{
		Chip:   w.Chip,
		Amount: w.Amount,
		Status: StatusLoss,
	}
	if w.Chip != winner {
		return res
	}

	res.Status = StatusWin
	res.Multiplier = w.Chip.Multiplier()
	res.Payout = w.Amount * res.Multiplier
	if maxCashout > 0 {
		res.Payout = math.Min(res.Payout, maxCashout)
	}
	res.Payout = Round2(res.Payout)
	return res
}

// Total sums the wager amounts.
func Total(wagers []ChipWager) float64 {
	var total float64
	for _, w := range wagers {
		total += w.Amount
	}
	return Round2(total)
}

// Round2 rounds a monetary value to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
