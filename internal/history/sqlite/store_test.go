package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/history/historytest"
	"github.com/lox/sevenupdown/internal/wager"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestStore(t *testing.T) {
	historytest.Run(t, func(t *testing.T) history.Store {
		return openTempStore(t)
	})
}

func TestReopenKeepsSchemaAndRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	out, _ := dice.NewOutcome(4, 4)
	require.NoError(t, s.AppendRound(ctx, history.Round{
		LobbySlot: "102",
		RoundID:   "1718000000000-102",
		Outcome:   out,
		EndedAt:   time.UnixMilli(1718000030000),
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.QueryRecentOutcomes(ctx, "102", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, wager.ChipOver, got[0].Outcome.Winner)
	assert.Equal(t, time.UnixMilli(1718000030000).UTC(), got[0].CreatedAt)
}

func TestRoundSettlementsDecodesResults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTempStore(t)
	out, _ := dice.NewOutcome(1, 2)
	require.NoError(t, s.AppendSettlements(ctx, []history.Settlement{{
		BetID:      "BT:1718000000000-101:u1:op1",
		RoundID:    "1718000000000-101",
		LobbySlot:  "101",
		UserID:     "u1",
		OperatorID: "op1",
		TotalBet:   30,
		Status:     wager.StatusWin,
		Results: []wager.Result{
			{Chip: wager.ChipUnder, Amount: 10, Payout: 20, Multiplier: 2, Status: wager.StatusWin},
			{Chip: wager.ChipSeven, Amount: 20, Status: wager.StatusLoss},
		},
		TotalPayout:  20,
		Outcome:      out,
		CreditFailed: true,
		SettledAt:    time.UnixMilli(1718000040000),
	}}))

	got, err := s.RoundSettlements(ctx, "1718000000000-101")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CreditFailed)
	require.Len(t, got[0].Results, 2)
	assert.Equal(t, 20.0, got[0].Results[0].Payout)
	assert.Equal(t, wager.ChipUnder, got[0].Outcome.Winner)
}

func TestUpSection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "\nCREATE x;\n", upSection("-- +migrate Up\nCREATE x;\n-- +migrate Down\nDROP x;"))
	assert.Equal(t, "CREATE y;", upSection("CREATE y;"))
}
