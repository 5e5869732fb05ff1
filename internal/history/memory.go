package history

import (
	"context"
	"sync"
)

// Memory is a Store held in process memory, used for local play and tests.
type Memory struct {
	mu              sync.RWMutex
	rounds          []Round
	settlements     []Settlement
	settled         map[string]struct{}
	batches         int
	reconciliations []Reconciliation
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{settled: make(map[string]struct{})}
}

func (m *Memory) AppendRound(_ context.Context, r Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, r)
	return nil
}

func (m *Memory) AppendSettlements(_ context.Context, s []Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range s {
		if _, ok := m.settled[st.BetID]; ok {
			return ErrDuplicate
		}
	}
	for _, st := range s {
		m.settled[st.BetID] = struct{}{}
	}
	m.settlements = append(m.settlements, s...)
	m.batches++
	return nil
}

func (m *Memory) QueryRecentOutcomes(_ context.Context, slot string, limit int) ([]RecentOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RecentOutcome
	for i := len(m.rounds) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := m.rounds[i]
		if slot != "" && r.LobbySlot != slot {
			continue
		}
		out = append(out, RecentOutcome{
			LobbySlot: r.LobbySlot,
			RoundID:   r.RoundID,
			Outcome:   r.Outcome,
			CreatedAt: r.EndedAt,
		})
	}
	return out, nil
}

func (m *Memory) QueryLastWin(_ context.Context, userID, operatorID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.settlements) - 1; i >= 0; i-- {
		s := m.settlements[i]
		if s.UserID == userID && s.OperatorID == operatorID {
			return s.TotalPayout, true, nil
		}
	}
	return 0, false, nil
}

func (m *Memory) AppendReconciliation(_ context.Context, r Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciliations = append(m.reconciliations, r)
	return nil
}

func (m *Memory) PendingReconciliations(_ context.Context, limit int) ([]Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Reconciliation
	for _, r := range m.reconciliations {
		if r.Status != ReconcilePending {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpdateReconciliation(_ context.Context, r Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.reconciliations {
		if m.reconciliations[i].ID == r.ID {
			m.reconciliations[i] = r
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Close() error { return nil }

// Rounds returns a copy of every stored round.
func (m *Memory) Rounds() []Round {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Round(nil), m.rounds...)
}

// Settlements returns a copy of every stored settlement.
func (m *Memory) Settlements() []Settlement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Settlement(nil), m.settlements...)
}

func (m *Memory) RoundSettlements(_ context.Context, roundID string) ([]Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Settlement
	for _, s := range m.settlements {
		if s.RoundID == roundID {
			out = append(out, s)
		}
	}
	return out, nil
}

// SettlementBatches reports how many times AppendSettlements was called.
func (m *Memory) SettlementBatches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// Reconciliations returns a copy of the reconciliation queue.
func (m *Memory) Reconciliations() []Reconciliation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Reconciliation(nil), m.reconciliations...)
}
