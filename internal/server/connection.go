package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/sevenupdown/internal/game"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection represents a WebSocket connection to a player
type Connection struct {
	id        string
	token     string
	conn      *websocket.Conn
	sendCh    chan *Message
	room      string
	server    *Server
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewConnection wraps ws for the player identified by token.
func NewConnection(id, token string, ws *websocket.Conn, server *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		id:     id,
		token:  token,
		conn:   ws,
		sendCh: make(chan *Message, 256),
		server: server,
		logger: server.logger.WithPrefix("conn").With("conn", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cancel()
		close(c.sendCh)
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues msg for the write pump. A connection whose buffer is
// full is closed rather than allowed to stall the sender.
func (c *Connection) SendMessage(msg *Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		go func() { _ = c.Close() }()
		return ErrConnectionClosed
	}
}

func (c *Connection) send(typ string, data any) {
	msg, err := NewMessage(typ, data)
	if err != nil {
		c.logger.Error("Failed to create message", "type", typ, "error", err)
		return
	}
	_ = c.SendMessage(msg)
}

// SetRoom records the lobby room this connection receives broadcasts for.
func (c *Connection) SetRoom(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = slot
}

// Room returns the connection's lobby room, or "".
func (c *Connection) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// readPump handles incoming frames from the player
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handleFrame(string(data))
	}
}

// writePump handles outgoing messages to the player
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one inbound text frame. Unknown frames are ignored.
func (c *Connection) handleFrame(frame string) {
	cmd, ok := ParseCommand(frame)
	if !ok {
		c.logger.Debug("Ignoring frame", "frame", frame)
		return
	}
	c.logger.Debug("Received command", "kind", cmd.Kind, "arg", cmd.Arg)

	switch cmd.Kind {
	case CommandBet:
		c.handleBet(cmd)
	case CommandJoin:
		c.handleJoin(cmd.Arg)
	case CommandLeave:
		c.handleLeave(cmd.Arg)
	}
}

func (c *Connection) sendError(code string, err error) {
	c.send(game.EventBetError, ErrorData{Code: code, Message: game.UserMessage(err)})
}

func (c *Connection) handleBet(cmd Command) {
	svc := c.server.service
	bet, err := svc.PlaceBet(c.ctx, c.token, cmd.Raw)
	if err != nil {
		c.sendError("bet_rejected", err)
		return
	}

	c.send(game.EventBetAccepted, game.BetAcceptedData{
		Message: "BET PLACED SUCCESSFULLY",
		RoundID: bet.RoundID,
		BetID:   bet.ID,
		Amount:  bet.TotalAmount,
		Wagers:  bet.Wagers,
	})
	c.send(game.EventInfo, game.InfoData{UserID: bet.UserID, OperatorID: bet.OperatorID, Balance: bet.BalanceAfter})
}

func (c *Connection) handleJoin(slot string) {
	svc := c.server.service
	snap, err := svc.JoinLobby(c.ctx, c.token, slot)
	if err != nil {
		c.sendError("join_failed", err)
		return
	}
	c.SetRoom(slot)
	c.logger.Info("Joined lobby", "lobby", slot)
	c.send(game.EventJoinRoom, game.RoomData{Slot: slot, Message: "Room joined successfully", State: &snap})

	p, err := svc.Player(c.ctx, c.token)
	if err != nil {
		c.sendError("join_failed", err)
		return
	}
	hist, err := svc.History(c.ctx, p.UserID, p.OperatorID, slot)
	if err != nil {
		c.logger.Warn("History unavailable", "lobby", slot, "error", err)
		return
	}
	c.send(game.EventHistoryData, game.HistoryData{Recent: hist.Recent})
}

func (c *Connection) handleLeave(slot string) {
	svc := c.server.service
	inRoom := c.Room() == slot
	if err := svc.LeaveLobby(c.ctx, c.token, slot); err != nil {
		c.sendError("leave_failed", err)
		return
	}
	if !inRoom {
		c.send(game.EventLeaveRoom, game.RoomData{Slot: slot, Message: "You left this room"})
		return
	}
	c.SetRoom("")
	c.logger.Info("Left lobby", "lobby", slot)
	c.send(game.EventLeaveRoom, game.RoomData{Slot: slot, Message: "Room left successfully"})
}
