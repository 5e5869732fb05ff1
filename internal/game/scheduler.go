package game

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/roundid"
)

// voidTimeout bounds the refunds issued when a round is cancelled.
const voidTimeout = 10 * time.Second

// Scheduler drives one lobby through its rounds.
type Scheduler struct {
	lobby    *Lobby
	index    int
	timing   Timing
	clock    quartz.Clock
	resolver *dice.Resolver
	ids      *roundid.Generator
	settler  *Settler
	store    history.Store
	pub      Publisher
	logger   *log.Logger
}

func newScheduler(lobby *Lobby, index int, timing Timing, deps Deps, settler *Settler) *Scheduler {
	return &Scheduler{
		lobby:    lobby,
		index:    index,
		timing:   timing,
		clock:    deps.Clock,
		resolver: deps.Resolver,
		ids:      deps.RoundIDs,
		settler:  settler,
		store:    deps.History,
		pub:      deps.Publisher,
		logger:   deps.Logger.WithPrefix("lobby").With("slot", lobby.Slot),
	}
}

// Run waits the lobby's stagger delay, then plays rounds until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	delay := time.Duration(s.index) * s.timing.Stagger
	s.logger.Info("Lobby starting", "delay", delay)
	if err := s.sleep(ctx, delay); err != nil {
		return nil
	}
	for {
		if err := s.RunRound(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.logger.Info("Lobby stopped")
				return nil
			}
			return err
		}
	}
}

// RunRound plays a single round. Cancellation before the outcome is
// announced voids the round and refunds its stakes; after that the round is
// settled before returning.
func (s *Scheduler) RunRound(ctx context.Context) error {
	startedAt := s.clock.Now()
	roundID := s.ids.New(startedAt, s.lobby.Slot)
	s.lobby.open(roundID, s.timing.BettingSeconds)
	s.logger.Debug("Round opened", "round", roundID)

	for x := s.timing.BettingSeconds; x >= 0; x-- {
		s.lobby.setRemaining(x)
		s.tick(roundID, x, PhaseBettingOpen, nil)
		if err := s.sleep(ctx, s.timing.Tick); err != nil {
			s.lobby.close()
			s.void(ctx, roundID)
			return err
		}
	}

	s.lobby.close()
	s.tick(roundID, 0, PhaseCalculating, nil)
	if err := s.sleep(ctx, s.timing.Calculating); err != nil {
		s.void(ctx, roundID)
		return err
	}

	outcome := s.resolver.Resolve()
	s.lobby.setPhase(PhaseResultReady, &outcome)
	s.publish(EventOutcome, roundID, 0, PhaseResultReady, &outcome)
	cancelled := s.sleep(ctx, s.timing.Result)

	s.lobby.setPhase(PhaseSettling, nil)
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timing.SettleTimeout)
	bets := s.lobby.book.DrainAndClear(roundID)
	if _, err := s.settler.Settle(settleCtx, s.lobby.Slot, roundID, bets, outcome); err != nil {
		s.logger.Error("Settlement incomplete", "round", roundID, "error", err)
	}
	cancel()

	s.lobby.setPhase(PhaseEnded, nil)
	if cancelled == nil {
		for z := 1; z <= s.timing.EndedTicks; z++ {
			s.tick(roundID, z, PhaseEnded, &outcome)
			if cancelled = s.sleep(ctx, s.timing.Tick); cancelled != nil {
				break
			}
		}
	}

	rec := history.Round{
		LobbySlot:  s.lobby.Slot,
		RoundID:    roundID,
		StartDelay: s.timing.BettingSeconds,
		EndDelay:   s.timing.EndedTicks,
		Outcome:    outcome,
		FinalPhase: PhaseEnded.Code(),
		StartedAt:  startedAt.UTC(),
		EndedAt:    s.clock.Now().UTC(),
	}
	s.broadcast(Event{Type: EventHistory, Data: rec})
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	if err := s.store.AppendRound(pctx, rec); err != nil {
		s.logger.Error("Failed to persist round", "round", roundID, "error", err)
	}
	pcancel()

	s.logger.Info("Round complete", "round", roundID, "dice", outcome.Combo(), "winner", outcome.Winner, "bets", len(bets))
	return cancelled
}

// Snapshot copies the lobby's state.
func (s *Scheduler) Snapshot() LobbySnapshot {
	return s.lobby.Snapshot()
}

func (s *Scheduler) void(ctx context.Context, roundID string) {
	bets := s.lobby.book.DrainAndClear(roundID)
	if len(bets) == 0 {
		return
	}
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), voidTimeout)
	defer cancel()
	s.settler.Void(vctx, s.lobby.Slot, roundID, bets)
}

func (s *Scheduler) tick(roundID string, remaining int, phase Phase, outcome *dice.Outcome) {
	s.publish(EventPhaseTick, roundID, remaining, phase, outcome)
}

func (s *Scheduler) publish(typ, roundID string, remaining int, phase Phase, outcome *dice.Outcome) {
	s.broadcast(Event{Type: typ, Data: PhaseTickData{
		RoundID:   roundID,
		Slot:      s.lobby.Slot,
		Remaining: remaining,
		Phase:     phase.Label(),
		Outcome:   outcome,
	}})
}

func (s *Scheduler) broadcast(ev Event) {
	if s.pub != nil {
		s.pub.BroadcastToLobby(s.lobby.Slot, ev)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := s.clock.NewTimer(d, "scheduler", s.lobby.Slot)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
