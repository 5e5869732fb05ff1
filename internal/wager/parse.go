package wager

import (
	"regexp"
	"strconv"
	"strings"
)

// BetPrefix is the envelope tag of an inbound bet message.
const BetPrefix = "BT"

// amountPattern accepts plain decimals in whole cents: "10", "25.5", "0.25".
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// ParseBetMessage parses "BT:<roundRef>:<chip>-<amount>,<chip>-<amount>,...".
// Any malformed segment invalidates the whole batch.
func ParseBetMessage(raw string) (string, []ChipWager, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 || parts[0] != BetPrefix {
		return "", nil, invalid(ErrMalformed, "expected BT:<round>:<wagers>")
	}

	roundRef := strings.TrimSpace(parts[1])
	if roundRef == "" {
		return "", nil, invalid(ErrMalformed, "missing round reference")
	}

	wagers, err := ParseWagers(parts[2])
	if err != nil {
		return "", nil, err
	}
	return roundRef, wagers, nil
}

// ParseWagers parses a comma-delimited list of dash-delimited chip/amount pairs.
func ParseWagers(s string) ([]ChipWager, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalid(ErrEmptyBet, "no wagers")
	}

	segments := strings.Split(s, ",")
	wagers := make([]ChipWager, 0, len(segments))
	for _, seg := range segments {
		pair := strings.Split(strings.TrimSpace(seg), "-")
		if len(pair) != 2 {
			return nil, invalid(ErrMalformed, "segment %q is not <chip>-<amount>", seg)
		}

		chip, err := strconv.Atoi(strings.TrimSpace(pair[0]))
		if err != nil {
			return nil, invalid(ErrMalformed, "chip %q is not a number", pair[0])
		}

		raw := strings.TrimSpace(pair[1])
		if !amountPattern.MatchString(raw) {
			return nil, invalid(ErrMalformed, "amount %q is not a decimal with at most two places", pair[1])
		}
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid(ErrMalformed, "amount %q is not a number", pair[1])
		}

		wagers = append(wagers, ChipWager{Chip: Chip(chip), Amount: Round2(amount)})
	}
	return wagers, nil
}
