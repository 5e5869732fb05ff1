package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/roundid"
	"github.com/lox/sevenupdown/internal/session"
	"github.com/lox/sevenupdown/internal/wager"
)

// RecentLimit is how many outcomes a history snapshot carries.
const RecentLimit = 3

// Service is the player-facing side of the game.
type Service struct {
	manager  *Manager
	ledger   ledger.Gateway
	sessions session.Store
	store    history.Store
	clock    quartz.Clock
	logger   *log.Logger
	limits   wager.Limits
	gameID   string
}

// NewService returns a Service over the lobbies of m.
func NewService(m *Manager, cfg Config, deps Deps) *Service {
	deps = deps.withDefaults()
	return &Service{
		manager:  m,
		ledger:   deps.Ledger,
		sessions: deps.Sessions,
		store:    deps.History,
		clock:    deps.Clock,
		logger:   deps.Logger.WithPrefix("bets"),
		limits:   cfg.Limits,
		gameID:   cfg.GameID,
	}
}

// ConnectRequest identifies a new connection.
type ConnectRequest struct {
	AuthToken string
	GameID    string
	ConnID    string
	IP        string
}

// HistorySnapshot is what a player sees on connecting or joining a lobby.
type HistorySnapshot struct {
	Recent     []history.RecentOutcome
	LastWin    float64
	HasLastWin bool
}

// Connect resolves the player behind authToken and stores the session. A
// reconnect with the same token keeps the player's lobby.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (session.Player, HistorySnapshot, error) {
	if req.AuthToken == "" || req.GameID == "" {
		return session.Player{}, HistorySnapshot{}, fmt.Errorf("%w: token and game id are required", ErrUnauthorized)
	}
	if s.gameID != "" && req.GameID != s.gameID {
		return session.Player{}, HistorySnapshot{}, fmt.Errorf("%w: unknown game %q", ErrUnauthorized, req.GameID)
	}
	acct, err := s.ledger.Player(ctx, req.AuthToken, req.GameID)
	if err != nil {
		return session.Player{}, HistorySnapshot{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	p := session.Player{
		Token:      req.AuthToken,
		ConnID:     req.ConnID,
		UserID:     acct.UserID,
		OperatorID: acct.OperatorID,
		GameID:     req.GameID,
		Balance:    wager.Round2(acct.Balance),
		IP:         req.IP,
	}
	if prev, ok, err := s.sessions.Get(ctx, req.AuthToken); err == nil && ok {
		p.RoomID = prev.RoomID
	}
	if err := s.sessions.Set(ctx, p); err != nil {
		return session.Player{}, HistorySnapshot{}, fmt.Errorf("store session: %w", err)
	}

	snap, err := s.History(ctx, p.UserID, p.OperatorID, "")
	if err != nil {
		s.logger.Warn("History unavailable", "user", p.UserID, "error", err)
	}
	s.logger.Info("Player connected", "user", p.UserID, "operator", p.OperatorID, "conn", p.ConnID)
	return p, snap, nil
}

// Disconnect drops the session, unless a newer connection already took it
// over.
func (s *Service) Disconnect(ctx context.Context, token, connID string) error {
	p, ok, err := s.sessions.Get(ctx, token)
	if err != nil {
		return err
	}
	if !ok || (connID != "" && p.ConnID != connID) {
		return nil
	}
	s.logger.Debug("Player disconnected", "user", p.UserID, "conn", connID)
	return s.sessions.Delete(ctx, token)
}

// Player returns the session for token.
func (s *Service) Player(ctx context.Context, token string) (session.Player, error) {
	p, ok, err := s.sessions.Get(ctx, token)
	if err != nil {
		return session.Player{}, err
	}
	if !ok {
		return session.Player{}, ErrSessionMissing
	}
	return p, nil
}

// JoinLobby moves the player into slot's room.
func (s *Service) JoinLobby(ctx context.Context, token, slot string) (LobbySnapshot, error) {
	l, ok := s.manager.Lobby(slot)
	if !ok {
		return LobbySnapshot{}, fmt.Errorf("%w: %q", ErrUnknownLobby, slot)
	}
	_, ok, err := s.sessions.Update(ctx, token, func(p *session.Player) { p.RoomID = slot })
	if err != nil {
		return LobbySnapshot{}, err
	}
	if !ok {
		return LobbySnapshot{}, ErrSessionMissing
	}
	return l.Snapshot(), nil
}

// LeaveLobby clears the player's room.
func (s *Service) LeaveLobby(ctx context.Context, token, slot string) error {
	_, ok, err := s.sessions.Update(ctx, token, func(p *session.Player) {
		if p.RoomID == slot || slot == "" {
			p.RoomID = ""
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionMissing
	}
	return nil
}

// History returns recent outcomes (across every lobby when slot is empty)
// and the player's last win.
func (s *Service) History(ctx context.Context, userID, operatorID, slot string) (HistorySnapshot, error) {
	var snap HistorySnapshot
	recent, err := s.store.QueryRecentOutcomes(ctx, slot, RecentLimit)
	if err != nil {
		return snap, fmt.Errorf("recent outcomes: %w", err)
	}
	snap.Recent = recent
	snap.LastWin, snap.HasLastWin, err = s.store.QueryLastWin(ctx, userID, operatorID)
	if err != nil {
		return snap, fmt.Errorf("last win: %w", err)
	}
	return snap, nil
}

// Snapshots returns every lobby's state.
func (s *Service) Snapshots() []LobbySnapshot {
	return s.manager.Snapshots()
}

// PlaceBet validates raw ("BT:<round>:<chip>-<amount>,...") for the player
// behind token, takes the stake from the ledger and records the bet in the
// round's book. Either the bet is booked and debited or neither happens. A
// debit with no definite answer is rolled back through reconciliation, and
// the player's bet slot for that round stays taken so the rollback cannot
// undo a later bet.
func (s *Service) PlaceBet(ctx context.Context, token, raw string) (*RoundBet, error) {
	p, ok, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, ErrSessionMissing
	}

	roundRef, wagers, err := wager.ParseBetMessage(raw)
	if err != nil {
		return nil, s.reject(p, roundRef, raw, err)
	}
	if err := wager.Validate(wagers, s.limits); err != nil {
		return nil, s.reject(p, roundRef, raw, err)
	}
	slot, err := roundid.Slot(roundRef)
	if err != nil {
		return nil, s.reject(p, roundRef, raw, fmt.Errorf("%w: %w", ErrUnknownLobby, err))
	}
	lobby, ok := s.manager.Lobby(slot)
	if !ok {
		return nil, s.reject(p, roundRef, raw, fmt.Errorf("%w: %q", ErrUnknownLobby, slot))
	}

	total := wager.Round2(wager.Total(wagers))
	betID := roundid.BetID(roundRef, p.UserID, p.OperatorID)

	lobby.gate.RLock()
	defer lobby.gate.RUnlock()

	current, phase := lobby.current()
	if current != roundRef {
		return nil, s.reject(p, roundRef, raw, ErrStaleRound)
	}
	if phase != PhaseBettingOpen {
		return nil, s.reject(p, roundRef, raw, ErrBettingClosed)
	}
	if err := lobby.book.Reserve(roundRef, betID); err != nil {
		return nil, s.reject(p, roundRef, raw, err)
	}
	if total > p.Balance {
		lobby.book.Release(roundRef, betID)
		return nil, s.reject(p, roundRef, raw, ErrInsufficientFunds)
	}

	bet := RoundBet{
		ID:           betID,
		RoundID:      roundRef,
		LobbySlot:    slot,
		SessionToken: token,
		UserID:       p.UserID,
		OperatorID:   p.OperatorID,
		GameID:       p.GameID,
		AuthToken:    p.Token,
		IP:           p.IP,
		TotalAmount:  total,
		Wagers:       wagers,
	}

	// Outlives the connection. The ledger client's timeout bounds it.
	debit, err := s.ledger.Debit(context.WithoutCancel(ctx), ledger.DebitRequest{
		Identity: identity(bet),
		RoundID:  roundRef,
		BetID:    betID,
		Amount:   total,
		IP:       p.IP,
	})
	if err != nil {
		if ledger.IsRetryable(err) {
			s.manager.settler.enqueue(ctx, bet, ledger.CreditRollback, total, err)
		} else {
			lobby.book.Release(roundRef, betID)
		}
		return nil, s.reject(p, roundRef, raw, fmt.Errorf("debit: %w", err))
	}
	bet.LedgerTxnID = debit.TxnID
	bet.PlacedAt = s.clock.Now().UTC()

	if err := lobby.book.Append(bet); err != nil {
		// Unreachable while the gate is held; refund rather than keep a
		// stake with no bet.
		s.refund(ctx, bet)
		return nil, s.reject(p, roundRef, raw, err)
	}

	updated, ok, err := s.sessions.Update(ctx, token, func(p *session.Player) {
		p.Balance = wager.Round2(p.Balance - total)
	})
	if err != nil || !ok {
		updated.Balance = wager.Round2(p.Balance - total)
	}
	bet.BalanceAfter = updated.Balance

	s.logger.Info("Bet placed", "bet", betID, "amount", total, "wagers", len(wagers), "txn", debit.TxnID)
	return &bet, nil
}

func (s *Service) refund(ctx context.Context, bet RoundBet) {
	err := s.ledger.Credit(context.WithoutCancel(ctx), creditFor(bet, ledger.CreditRefund, bet.TotalAmount))
	if err != nil {
		s.logger.Error("Refund of unbooked bet failed", "bet", bet.ID, "amount", bet.TotalAmount, "error", err)
		s.manager.settler.enqueue(ctx, bet, ledger.CreditRefund, bet.TotalAmount, err)
	}
}

func (s *Service) reject(p session.Player, roundRef, raw string, err error) error {
	level := log.WarnLevel
	if errors.Is(err, ErrStaleRound) || errors.Is(err, ErrBettingClosed) {
		level = log.InfoLevel
	}
	s.logger.Log(level, "Bet rejected", "user", p.UserID, "round", roundRef, "raw", raw, "reason", err)
	return err
}
