package game

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/reconcile"
	"github.com/lox/sevenupdown/internal/session"
	"github.com/lox/sevenupdown/internal/wager"
)

// persistTimeout bounds the history write that follows settlement, which runs
// even when the settlement deadline has passed.
const persistTimeout = 5 * time.Second

// Settler pays out a round's bets against its outcome.
type Settler struct {
	ledger     ledger.Gateway
	sessions   session.Store
	store      history.Store
	queue      reconcile.Queue
	pub        Publisher
	clock      quartz.Clock
	logger     *log.Logger
	maxCashout float64
}

// NewSettler wires a Settler from deps.
func NewSettler(deps Deps, maxCashout float64) *Settler {
	return &Settler{
		ledger:     deps.Ledger,
		sessions:   deps.Sessions,
		store:      deps.History,
		queue:      deps.Queue,
		pub:        deps.Publisher,
		clock:      deps.Clock,
		logger:     deps.Logger.WithPrefix("settle"),
		maxCashout: maxCashout,
	}
}

// Settle evaluates, credits and records every bet. A failure on one bet never
// stops the others; ledger calls are bounded by ctx, and records are written
// once for the whole round even if ctx has expired.
func (s *Settler) Settle(ctx context.Context, slot, roundID string, bets []RoundBet, outcome dice.Outcome) ([]history.Settlement, error) {
	if len(bets) == 0 {
		return nil, nil
	}

	records := make([]history.Settlement, 0, len(bets))
	for _, bet := range bets {
		rec := s.evaluate(bet, outcome)
		s.payout(ctx, slot, bet, &rec)
		records = append(records, rec)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.AppendSettlements(pctx, records); err != nil {
		s.logger.Error("Failed to persist settlements", "round", roundID, "bets", len(records), "error", err)
		return records, fmt.Errorf("persist settlements for %s: %w", roundID, err)
	}

	s.logger.Info("Round settled", "round", roundID, "bets", len(records), "outcome", outcome.Combo())
	return records, nil
}

func (s *Settler) evaluate(bet RoundBet, outcome dice.Outcome) history.Settlement {
	rec := history.Settlement{
		BetID:      bet.ID,
		RoundID:    bet.RoundID,
		LobbySlot:  bet.LobbySlot,
		UserID:     bet.UserID,
		OperatorID: bet.OperatorID,
		Status:     wager.StatusLoss,
		Results:    make([]wager.Result, 0, len(bet.Wagers)),
		Outcome:    outcome,
		SettledAt:  s.clock.Now().UTC(),
	}
	for _, w := range bet.Wagers {
		res := wager.Evaluate(w, outcome.Winner, s.maxCashout)
		rec.TotalBet += w.Amount
		if res.Status == wager.StatusWin {
			rec.TotalMultiplier += res.Multiplier
			rec.TotalPayout += res.Payout
		}
		rec.Results = append(rec.Results, res)
	}
	rec.TotalBet = wager.Round2(rec.TotalBet)
	rec.TotalPayout = wager.Round2(rec.TotalPayout)
	if rec.TotalPayout > 0 {
		rec.Status = wager.StatusWin
	}
	return rec
}

// payout runs the side effects of one settled bet. A panic here is logged
// and the bet's record is kept.
func (s *Settler) payout(ctx context.Context, slot string, bet RoundBet, rec *history.Settlement) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic settling bet", "bet", bet.ID, "panic", r)
		}
	}()

	credited := false
	if rec.TotalPayout > 0 {
		err := s.ledger.Credit(ctx, creditFor(bet, ledger.CreditPayout, rec.TotalPayout))
		if err != nil {
			rec.CreditFailed = true
			s.logger.Error("Credit failed", "bet", bet.ID, "amount", rec.TotalPayout, "error", err)
			s.enqueue(ctx, bet, ledger.CreditPayout, rec.TotalPayout, err)
		} else {
			credited = true
		}
	}

	p, ok := s.lookup(ctx, bet.SessionToken)
	if !ok {
		return
	}
	if credited {
		if p = s.addBalance(ctx, bet.SessionToken, rec.TotalPayout, p); p.ConnID != "" {
			s.send(p.ConnID, Event{Type: EventInfo, Data: InfoData{UserID: p.UserID, OperatorID: p.OperatorID, Balance: p.Balance}})
		}
	}
	if p.RoomID != slot {
		return
	}

	out := rec.Outcome
	data := SettlementData{
		RoundID: bet.RoundID,
		Outcome: &out,
		Results: rec.Results,
	}
	if rec.Status == wager.StatusWin {
		data.Status = "WIN"
		data.WinAmount = rec.TotalPayout
		data.Message = fmt.Sprintf("WIN AMOUNT: %.2f", rec.TotalPayout)
	} else {
		data.Status = "LOSS"
		data.LossAmount = rec.TotalBet
		data.Message = fmt.Sprintf("YOU LOSS %.2f", rec.TotalBet)
	}
	s.send(p.ConnID, Event{Type: EventSettlement, Data: data})
}

// Void refunds every stake of a round that will never produce an outcome.
func (s *Settler) Void(ctx context.Context, slot, roundID string, bets []RoundBet) {
	for _, bet := range bets {
		err := s.ledger.Credit(ctx, creditFor(bet, ledger.CreditRefund, bet.TotalAmount))
		if err != nil {
			s.logger.Error("Refund failed", "bet", bet.ID, "amount", bet.TotalAmount, "error", err)
			s.enqueue(ctx, bet, ledger.CreditRefund, bet.TotalAmount, err)
			continue
		}
		p, ok := s.lookup(ctx, bet.SessionToken)
		if !ok {
			continue
		}
		p = s.addBalance(ctx, bet.SessionToken, bet.TotalAmount, p)
		s.send(p.ConnID, Event{Type: EventInfo, Data: InfoData{UserID: p.UserID, OperatorID: p.OperatorID, Balance: p.Balance}})
		if p.RoomID == slot {
			s.send(p.ConnID, Event{Type: EventSettlement, Data: SettlementData{
				RoundID: roundID,
				Status:  "VOID",
				Message: fmt.Sprintf("ROUND CANCELLED, REFUNDED %.2f", bet.TotalAmount),
			}})
		}
	}
	if len(bets) > 0 {
		s.logger.Warn("Round voided", "round", roundID, "bets", len(bets))
	}
}

// enqueue hands a credit the ledger did not confirm to reconciliation.
func (s *Settler) enqueue(ctx context.Context, bet RoundBet, kind ledger.CreditKind, amount float64, cause error) {
	if s.queue == nil {
		return
	}
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := s.queue.Enqueue(qctx, reconcile.Entry{
		BetID:       bet.ID,
		Kind:        kind,
		RoundID:     bet.RoundID,
		UserID:      bet.UserID,
		OperatorID:  bet.OperatorID,
		GameID:      bet.GameID,
		AuthToken:   bet.AuthToken,
		LedgerTxnID: bet.LedgerTxnID,
		IP:          bet.IP,
		Amount:      amount,
		Err:         cause,
	})
	if err != nil {
		s.logger.Error("Failed to queue payout", "bet", bet.ID, "kind", kind, "amount", amount, "error", err)
	}
}

func (s *Settler) lookup(ctx context.Context, token string) (session.Player, bool) {
	p, ok, err := s.sessions.Get(context.WithoutCancel(ctx), token)
	if err != nil {
		s.logger.Warn("Session lookup failed", "error", err)
		return session.Player{}, false
	}
	return p, ok
}

func (s *Settler) addBalance(ctx context.Context, token string, amount float64, fallback session.Player) session.Player {
	p, ok, err := s.sessions.Update(context.WithoutCancel(ctx), token, func(p *session.Player) {
		p.Balance = wager.Round2(p.Balance + amount)
	})
	if err != nil || !ok {
		return fallback
	}
	return p
}

func (s *Settler) send(connID string, ev Event) {
	if connID == "" || s.pub == nil {
		return
	}
	if err := s.pub.SendToConn(connID, ev); err != nil {
		s.logger.Debug("Player not reachable", "conn", connID, "event", ev.Type, "error", err)
	}
}

func creditFor(bet RoundBet, kind ledger.CreditKind, amount float64) ledger.CreditRequest {
	return ledger.CreditRequest{
		Identity: identity(bet),
		RoundID:  bet.RoundID,
		BetID:    bet.ID,
		Kind:     kind,
		TxnID:    bet.LedgerTxnID,
		Amount:   amount,
		IP:       bet.IP,
	}
}

func identity(bet RoundBet) ledger.Identity {
	return ledger.Identity{
		GameID:     bet.GameID,
		OperatorID: bet.OperatorID,
		AuthToken:  bet.AuthToken,
		UserID:     bet.UserID,
	}
}
