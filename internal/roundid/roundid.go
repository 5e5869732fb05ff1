// Package roundid mints and parses round identifiers of the form
// "<unixMillis>-<lobbySlot>" and derives bet identifiers from them.
package roundid

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Generator mints round ids that strictly increase per lobby slot, even when
// two rounds start within the same millisecond.
type Generator struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewGenerator returns an empty Generator.
func NewGenerator() *Generator {
	return &Generator{last: make(map[string]int64)}
}

// New mints a round id for slot at time now.
func (g *Generator) New(now time.Time, slot string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if prev, ok := g.last[slot]; ok && ms <= prev {
		ms = prev + 1
	}
	g.last[slot] = ms
	return Format(ms, slot)
}

// Format renders a round id.
func Format(ms int64, slot string) string {
	return strconv.FormatInt(ms, 10) + "-" + slot
}

// Parse splits a round id into its timestamp and lobby slot.
func Parse(id string) (time.Time, string, error) {
	ts, slot, ok := strings.Cut(id, "-")
	if !ok || ts == "" || slot == "" || strings.Contains(slot, "-") {
		return time.Time{}, "", fmt.Errorf("round id %q must be <millis>-<slot>", id)
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, "", fmt.Errorf("round id %q has invalid timestamp", id)
	}
	return time.UnixMilli(ms).UTC(), slot, nil
}

// Slot returns the lobby slot encoded in a round id.
func Slot(id string) (string, error) {
	_, slot, err := Parse(id)
	return slot, err
}

// BetID derives the identifier of a player's bet in a round. One player holds
// at most one bet per round, so the id is unique within the round's book.
func BetID(roundID, userID, operatorID string) string {
	return "BT:" + roundID + ":" + userID + ":" + operatorID
}
