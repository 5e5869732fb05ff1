package game

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/reconcile"
	"github.com/lox/sevenupdown/internal/session"
	"github.com/lox/sevenupdown/internal/wager"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// scriptedDice always rolls the same pair.
type scriptedDice struct {
	mu     sync.Mutex
	d1, d2 int
	n      int
}

func (s *scriptedDice) IntN(int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.n%2 == 1 {
		return s.d1 - 1
	}
	return s.d2 - 1
}

type sent struct {
	conn string
	ev   Event
}

type recordingPublisher struct {
	mu         sync.Mutex
	broadcasts map[string][]Event
	sent       []sent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{broadcasts: make(map[string][]Event)}
}

func (p *recordingPublisher) BroadcastToLobby(slot string, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts[slot] = append(p.broadcasts[slot], ev)
}

func (p *recordingPublisher) SendToConn(connID string, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{conn: connID, ev: ev})
	return nil
}

func (p *recordingPublisher) lobbyEvents(slot string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.broadcasts[slot]...)
}

func (p *recordingPublisher) sentTo(conn, typ string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, s := range p.sent {
		if s.conn == conn && s.ev.Type == typ {
			out = append(out, s.ev)
		}
	}
	return out
}

type recordingQueue struct {
	mu      sync.Mutex
	entries []reconcile.Entry
}

func (q *recordingQueue) Enqueue(_ context.Context, e reconcile.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	return nil
}

func (q *recordingQueue) all() []reconcile.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]reconcile.Entry(nil), q.entries...)
}

type fixture struct {
	clock    *quartz.Mock
	sandbox  *ledger.Sandbox
	sessions *session.Cache
	store    *history.Memory
	queue    *recordingQueue
	pub      *recordingPublisher
	dice     *scriptedDice
	manager  *Manager
	service  *Service
	cfg      Config
}

func testTiming() Timing {
	t := DefaultTiming()
	t.BettingSeconds = 2
	t.EndedTicks = 1
	return t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    quartz.NewMock(t),
		sandbox:  ledger.NewSandbox(100),
		sessions: session.NewCache(100, time.Hour),
		store:    history.NewMemory(),
		queue:    &recordingQueue{},
		pub:      newRecordingPublisher(),
		dice:     &scriptedDice{d1: 3, d2: 4},
	}
	f.cfg = Config{
		GameID: "g1",
		Slots:  []string{"101", "102"},
		Limits: wager.Limits{MinBet: 1, MaxBet: 100, MaxCashout: 150},
		Timing: testTiming(),
	}
	deps := Deps{
		Clock:     f.clock,
		Logger:    testLogger(),
		Ledger:    f.sandbox,
		Sessions:  f.sessions,
		History:   f.store,
		Queue:     f.queue,
		Publisher: f.pub,
		Resolver:  dice.NewResolver(f.dice),
	}
	m, err := NewManager(f.cfg, deps)
	require.NoError(t, err)
	f.manager = m
	f.service = NewService(m, f.cfg, deps)
	return f
}

// connect creates a session for token on conn and returns it.
func (f *fixture) connect(t *testing.T, token, conn string) session.Player {
	t.Helper()
	p, _, err := f.service.Connect(context.Background(), ConnectRequest{
		AuthToken: token,
		GameID:    "g1",
		ConnID:    conn,
		IP:        "10.0.0.1",
	})
	require.NoError(t, err)
	return p
}

// openRound puts slot into betting with a fixed round id.
func (f *fixture) openRound(t *testing.T, slot, roundID string) *Lobby {
	t.Helper()
	l, ok := f.manager.Lobby(slot)
	require.True(t, ok)
	l.open(roundID, 15)
	return l
}

// step fires the next pending timer once one is registered.
func step(t *testing.T, clk *quartz.Mock) time.Duration {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := clk.Peek()
		return ok
	}, 2*time.Second, time.Millisecond, "no timer registered")
	d, w := clk.AdvanceNext()
	w.MustWait(context.Background())
	return d
}

// drive fires timers until done yields.
func drive(t *testing.T, clk *quartz.Mock, done <-chan error) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("scheduler did not finish")
			return nil
		default:
		}
		if _, ok := clk.Peek(); ok {
			_, w := clk.AdvanceNext()
			w.MustWait(context.Background())
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

func eventTypes(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
