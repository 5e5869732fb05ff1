package wager

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed      = errors.New("malformed bet")
	ErrEmptyBet       = errors.New("empty bet")
	ErrInvalidAmount  = errors.New("invalid bet amount")
	ErrInvalidChip    = errors.New("invalid chip")
	ErrExclusiveChips = errors.New("mutually exclusive chips")
)

// ValidationError describes why a wager batch was refused. It wraps one of
// the package sentinels so callers can match with errors.Is.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func invalid(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a wager batch against the configured limits and the chip
// combination rules. Under and seven cannot be combined, which also rules
// out covering all three chips.
func Validate(wagers []ChipWager, limits Limits) error {
	if len(wagers) == 0 {
		return invalid(ErrEmptyBet, "no wagers")
	}

	seen := make(map[Chip]bool, 3)
	for _, w := range wagers {
		if !w.Chip.Valid() {
			return invalid(ErrInvalidChip, "chip %d", int(w.Chip))
		}
		if w.Amount <= 0 {
			return invalid(ErrInvalidAmount, "amount %.2f must be positive", w.Amount)
		}
		if w.Amount < limits.MinBet || (limits.MaxBet > 0 && w.Amount > limits.MaxBet) {
			return invalid(ErrInvalidAmount, "amount %.2f outside [%.2f, %.2f]", w.Amount, limits.MinBet, limits.MaxBet)
		}
		seen[w.Chip] = true
	}

	if seen[ChipUnder] && seen[ChipSeven] {
		return invalid(ErrExclusiveChips, "chips %d and %d cannot be placed together", ChipUnder, ChipSeven)
	}
	return nil
}
