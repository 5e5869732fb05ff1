package server

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is the JSON envelope for every server to client frame.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType string, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Inbound command prefixes. Clients send plain text frames such as
// "BT:1718000000000-101:2-10", "JN:101" and "LV:101".
const (
	CommandBet   = "BT"
	CommandJoin  = "JN"
	CommandLeave = "LV"
)

// Command is a parsed inbound frame.
type Command struct {
	Kind string
	Arg  string
	Raw  string
}

// ParseCommand splits a text frame into its prefix and argument. The bet
// command keeps the whole frame in Raw for the bet parser.
func ParseCommand(frame string) (Command, bool) {
	frame = strings.TrimSpace(frame)
	kind, arg, ok := strings.Cut(frame, ":")
	if !ok {
		return Command{}, false
	}
	switch kind {
	case CommandBet, CommandJoin, CommandLeave:
		return Command{Kind: kind, Arg: strings.TrimSpace(arg), Raw: frame}, true
	default:
		return Command{}, false
	}
}

// ErrorData is the payload of a bet_error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
