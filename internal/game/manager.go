package game

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Manager owns the lobbies and their schedulers.
type Manager struct {
	logger     *log.Logger
	slots      []string
	lobbies    map[string]*Lobby
	schedulers []*Scheduler
	settler    *Settler
}

// NewManager builds one lobby per configured slot. Lobbies are staggered in
// slot order.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	deps = deps.withDefaults()
	if deps.Resolver == nil {
		return nil, fmt.Errorf("dice resolver is required")
	}
	if deps.History == nil || deps.Ledger == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("ledger, sessions and history are required")
	}
	slots := cfg.Slots
	if len(slots) == 0 {
		slots = DefaultSlots
	}

	m := &Manager{
		logger:  deps.Logger.WithPrefix("lobbies"),
		lobbies: make(map[string]*Lobby, len(slots)),
		settler: NewSettler(deps, cfg.Limits.MaxCashout),
	}
	for i, slot := range slots {
		if _, dup := m.lobbies[slot]; dup {
			return nil, fmt.Errorf("lobby %s configured twice", slot)
		}
		l := newLobby(slot)
		m.lobbies[slot] = l
		m.slots = append(m.slots, slot)
		m.schedulers = append(m.schedulers, newScheduler(l, i, cfg.Timing, deps, m.settler))
	}
	return m, nil
}

// Lobby returns the lobby for slot.
func (m *Manager) Lobby(slot string) (*Lobby, bool) {
	l, ok := m.lobbies[slot]
	return l, ok
}

// Slots lists lobby slots in configuration order.
func (m *Manager) Slots() []string {
	return append([]string(nil), m.slots...)
}

// Snapshots returns every lobby's state in slot order.
func (m *Manager) Snapshots() []LobbySnapshot {
	out := make([]LobbySnapshot, 0, len(m.slots))
	for _, slot := range m.slots {
		out = append(out, m.lobbies[slot].Snapshot())
	}
	return out
}

// Run starts every scheduler and blocks until ctx is cancelled or one of
// them fails.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.schedulers {
		g.Go(func() error { return s.Run(gctx) })
	}
	m.logger.Info("Lobbies running", "count", len(m.schedulers))
	return g.Wait()
}
