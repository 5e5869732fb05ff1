// Package server is the websocket transport for the dice lobbies: it
// authenticates connections, routes bet/join/leave frames to the game
// service and fans game events out to lobby rooms.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lox/sevenupdown/internal/game"
)

const shutdownTimeout = 5 * time.Second

// Server represents the WebSocket server
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	connections map[string]*Connection
	logger      *log.Logger
	mu          sync.RWMutex
	service     *game.Service
}

// NewServer creates a new WebSocket server
func NewServer(addr string, logger *log.Logger) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		logger:      logger.WithPrefix("server"),
	}
}

// SetService sets the game service for the server. The server is created
// first because the game publishes through it.
func (s *Server) SetService(service *game.Service) {
	s.service = service
}

// Handler returns the HTTP routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/lobbies", s.handleLobbies)
	return mux
}

// Serve listens on the configured address until ctx is cancelled, then
// closes every connection.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting WebSocket server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes all connections.
func (s *Server) Stop() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// handleWebSocket authenticates the player from the query string, upgrades
// the connection and sends the opening state.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "game service not available", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	token, gameID := q.Get("token"), q.Get("game_id")
	if token == "" || gameID == "" {
		s.logger.Warn("Mandatory params missing", "remote", r.RemoteAddr)
		http.Error(w, "token and game_id are required", http.StatusBadRequest)
		return
	}

	connID := uuid.NewString()
	player, snap, err := s.service.Connect(r.Context(), game.ConnectRequest{
		AuthToken: token,
		GameID:    gameID,
		ConnID:    connID,
		IP:        clientIP(r),
	})
	if err != nil {
		s.logger.Warn("Connection refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, game.UserMessage(err), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		_ = s.service.Disconnect(context.WithoutCancel(r.Context()), token, connID)
		return
	}

	c := NewConnection(connID, token, ws, s)
	c.SetRoom(player.RoomID)
	s.register(c)

	c.send(game.EventInfo, game.InfoData{UserID: player.UserID, OperatorID: player.OperatorID, Balance: player.Balance})
	if snap.HasLastWin {
		c.send(game.EventLastWin, game.LastWinData{Amount: snap.LastWin})
	}
	c.send(game.EventHistoryData, game.HistoryData{Recent: snap.Recent})
	c.send(game.EventLobbies, s.service.Snapshots())

	c.Start()

	go func() {
		<-c.ctx.Done()
		s.unregister(c)
	}()
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.connections[c.id] = c
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client connected", "conn", c.id, "total", total)
}

func (s *Server) unregister(c *Connection) {
	s.mu.Lock()
	if cur, ok := s.connections[c.id]; ok && cur == c {
		delete(s.connections, c.id)
	}
	total := len(s.connections)
	s.mu.Unlock()

	if err := s.service.Disconnect(context.Background(), c.token, c.id); err != nil {
		s.logger.Warn("Failed to drop session", "conn", c.id, "error", err)
	}
	s.logger.Info("Client disconnected", "conn", c.id, "total", total)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// handleLobbies reports every lobby's current round and phase.
func (s *Server) handleLobbies(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "game service not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.service.Snapshots()); err != nil {
		s.logger.Error("Failed to encode lobbies", "error", err)
	}
}

// BroadcastToLobby sends an event to every connection in the lobby's room.
func (s *Server) BroadcastToLobby(slot string, ev game.Event) {
	msg, err := NewMessage(ev.Type, ev.Data)
	if err != nil {
		s.logger.Error("Failed to encode event", "type", ev.Type, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.connections {
		if c.Room() != slot {
			continue
		}
		if err := c.SendMessage(msg); err != nil {
			s.logger.Debug("Failed to send message to client", "conn", c.id, "error", err)
			continue
		}
		count++
	}
	s.logger.Debug("Broadcasted message to lobby", "lobby", slot, "type", ev.Type, "recipients", count)
}

// SendToConn sends an event to one connection.
func (s *Server) SendToConn(connID string, ev game.Event) error {
	s.mu.RLock()
	c, ok := s.connections[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection not found: %s", connID)
	}

	msg, err := NewMessage(ev.Type, ev.Data)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// RoomSize counts the connections currently in slot's room.
func (s *Server) RoomSize(slot string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.connections {
		if c.Room() == slot {
			n++
		}
	}
	return n
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
