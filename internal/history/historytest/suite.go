// Package historytest holds the behaviour every history.Store must share.
package historytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/wager"
)

// Run exercises a Store produced by open. Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) history.Store) {
	t.Run("recent outcomes newest first", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		base := time.UnixMilli(1718000000000).UTC()
		for i, slot := range []string{"101", "102", "101", "103", "101"} {
			out, err := dice.NewOutcome(1+i%6, 2)
			require.NoError(t, err)
			require.NoError(t, s.AppendRound(ctx, history.Round{
				LobbySlot:  slot,
				RoundID:    roundID(base, i, slot),
				StartDelay: 15,
				EndDelay:   3,
				Outcome:    out,
				FinalPhase: 3,
				StartedAt:  base.Add(time.Duration(i) * time.Minute),
				EndedAt:    base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			}))
		}

		all, err := s.QueryRecentOutcomes(ctx, "", 3)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, roundID(base, 4, "101"), all[0].RoundID)
		assert.Equal(t, roundID(base, 3, "103"), all[1].RoundID)
		assert.Equal(t, roundID(base, 2, "101"), all[2].RoundID)

		lobby, err := s.QueryRecentOutcomes(ctx, "101", 10)
		require.NoError(t, err)
		require.Len(t, lobby, 3)
		for _, r := range lobby {
			assert.Equal(t, "101", r.LobbySlot)
		}
		assert.Equal(t, 5, lobby[0].Outcome.Dice[0])
		assert.Equal(t, 2, lobby[0].Outcome.Dice[1])
	})

	t.Run("last win tracks newest settlement", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, ok, err := s.QueryLastWin(ctx, "u1", "op1")
		require.NoError(t, err)
		assert.False(t, ok)

		out, _ := dice.NewOutcome(3, 4)
		now := time.UnixMilli(1718000000000).UTC()
		require.NoError(t, s.AppendSettlements(ctx, []history.Settlement{
			settlement("BT:1-101:u1:op1", "u1", 20, out, now),
			settlement("BT:1-101:u2:op1", "u2", 0, out, now),
		}))
		require.NoError(t, s.AppendSettlements(ctx, []history.Settlement{
			settlement("BT:2-101:u1:op1", "u1", 0, out, now.Add(time.Minute)),
		}))

		win, ok, err := s.QueryLastWin(ctx, "u1", "op1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, win)

		win, ok, err = s.QueryLastWin(ctx, "u2", "op1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, win)

		_, ok, err = s.QueryLastWin(ctx, "u1", "other")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("settlement is written once", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		out, _ := dice.NewOutcome(6, 6)
		now := time.UnixMilli(1718000000000).UTC()
		first := settlement("BT:1-101:u1:op1", "u1", 0, out, now)
		require.NoError(t, s.AppendSettlements(ctx, []history.Settlement{first}))

		again := first
		again.TotalPayout = 999
		err := s.AppendSettlements(ctx, []history.Settlement{again})
		require.ErrorIs(t, err, history.ErrDuplicate)

		win, ok, err := s.QueryLastWin(ctx, "u1", "op1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, win)
	})

	t.Run("reconciliation queue", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		now := time.UnixMilli(1718000000000).UTC()
		entry := history.Reconciliation{
			ID:          "rec-1",
			BetID:       "BT:1-101:u1:op1",
			Kind:        "ROLLBACK",
			RoundID:     "1-101",
			UserID:      "u1",
			OperatorID:  "op1",
			GameID:      "g1",
			AuthToken:   "tok",
			LedgerTxnID: "txn-1",
			Amount:      40,
			Status:      history.ReconcilePending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		require.NoError(t, s.AppendReconciliation(ctx, entry))

		pending, err := s.PendingReconciliations(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "txn-1", pending[0].LedgerTxnID)
		assert.Equal(t, "ROLLBACK", pending[0].Kind)
		assert.Equal(t, 40.0, pending[0].Amount)

		entry.Status = history.ReconcileResolved
		entry.Attempts = 2
		entry.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, s.UpdateReconciliation(ctx, entry))

		pending, err = s.PendingReconciliations(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		entry.ID = "missing"
		require.ErrorIs(t, s.UpdateReconciliation(ctx, entry), history.ErrNotFound)
	})
}

func roundID(base time.Time, i int, slot string) string {
	return base.Add(time.Duration(i)*time.Minute).Format("20060102150405") + "-" + slot
}

func settlement(betID, userID string, payout float64, out dice.Outcome, at time.Time) history.Settlement {
	status := wager.StatusLoss
	if payout > 0 {
		status = wager.StatusWin
	}
	return history.Settlement{
		BetID:       betID,
		RoundID:     "1-101",
		LobbySlot:   "101",
		UserID:      userID,
		OperatorID:  "op1",
		TotalBet:    10,
		TotalPayout: payout,
		Status:      status,
		Results:     []wager.Result{{Chip: wager.ChipSeven, Amount: 10, Payout: payout, Status: status}},
		Outcome:     out,
		SettledAt:   at,
	}
}
