package game

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/ledger"
	"github.com/lox/sevenupdown/internal/session"
	"github.com/lox/sevenupdown/internal/wager"
)

// placed books a debited bet for token in round 1718000000000-101.
func placed(t *testing.T, f *fixture, token string, wagers ...wager.ChipWager) RoundBet {
	t.Helper()
	p, ok, err := f.sessions.Get(context.Background(), token)
	require.NoError(t, err)
	require.True(t, ok)
	total := wager.Total(wagers)
	res, err := f.sandbox.Debit(context.Background(), ledger.DebitRequest{
		Identity: ledger.Identity{GameID: "g1", OperatorID: p.OperatorID, AuthToken: token, UserID: p.UserID},
		Amount:   total,
	})
	require.NoError(t, err)
	_, _, err = f.sessions.Update(context.Background(), token, func(p *session.Player) {
		p.Balance = wager.Round2(p.Balance - total)
	})
	require.NoError(t, err)
	return RoundBet{
		ID:           "BT:1718000000000-101:" + p.UserID + ":" + p.OperatorID,
		RoundID:      "1718000000000-101",
		LobbySlot:    "101",
		SessionToken: token,
		UserID:       p.UserID,
		OperatorID:   p.OperatorID,
		GameID:       "g1",
		AuthToken:    token,
		TotalAmount:  total,
		LedgerTxnID:  res.TxnID,
		Wagers:       wagers,
	}
}

func TestSettleExactSevenPaysDouble(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	_, err := f.service.JoinLobby(context.Background(), "alice", "101")
	require.NoError(t, err)

	bet := placed(t, f, "alice", wager.ChipWager{Chip: wager.ChipSeven, Amount: 10}, wager.ChipWager{Chip: wager.ChipOver, Amount: 10})
	out, _ := dice.NewOutcome(3, 4)

	recs, err := f.manager.settler.Settle(context.Background(), "101", bet.RoundID, []RoundBet{bet}, out)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, wager.StatusWin, rec.Status)
	assert.Equal(t, 20.0, rec.TotalBet)
	assert.Equal(t, 20.0, rec.TotalPayout)
	assert.Equal(t, 2.0, rec.TotalMultiplier)
	require.Len(t, rec.Results, 2)
	assert.Equal(t, wager.StatusWin, rec.Results[0].Status)
	assert.Equal(t, wager.StatusLoss, rec.Results[1].Status)

	bal, _ := f.sandbox.Balance("user-alice")
	assert.Equal(t, 100.0, bal)

	p, _, _ := f.sessions.Get(context.Background(), "alice")
	assert.Equal(t, 100.0, p.Balance, "cached balance is credited")

	settlements := f.pub.sentTo("c-alice", EventSettlement)
	require.Len(t, settlements, 1)
	data := settlements[0].Data.(SettlementData)
	assert.Equal(t, "WIN", data.Status)
	assert.Equal(t, 20.0, data.WinAmount)
	assert.Equal(t, "WIN AMOUNT: 20.00", data.Message)
	assert.Len(t, f.pub.sentTo("c-alice", EventInfo), 1)

	assert.Equal(t, 1, f.store.SettlementBatches())
}

func TestSettleOverPaysFiveCappedAtMaxCashout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "bob", "c-bob")
	bet := placed(t, f, "bob", wager.ChipWager{Chip: wager.ChipOver, Amount: 40})
	out, _ := dice.NewOutcome(6, 5)

	recs, err := f.manager.settler.Settle(context.Background(), "101", bet.RoundID, []RoundBet{bet}, out)
	require.NoError(t, err)
	assert.Equal(t, 150.0, recs[0].TotalPayout, "40*5 capped at 150")
	assert.Equal(t, 5.0, recs[0].TotalMultiplier)

	bal, _ := f.sandbox.Balance("user-bob")
	assert.Equal(t, 210.0, bal)
}

func TestSettleLossNotifiesOnlyPlayersInTheLobby(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "in", "c-in")
	f.connect(t, "out", "c-out")
	_, err := f.service.JoinLobby(context.Background(), "in", "101")
	require.NoError(t, err)
	_, err = f.service.JoinLobby(context.Background(), "out", "102")
	require.NoError(t, err)

	bets := []RoundBet{
		placed(t, f, "in", wager.ChipWager{Chip: wager.ChipUnder, Amount: 5}),
		placed(t, f, "out", wager.ChipWager{Chip: wager.ChipUnder, Amount: 5}),
	}
	out, _ := dice.NewOutcome(6, 6)

	recs, err := f.manager.settler.Settle(context.Background(), "101", bets[0].RoundID, bets, out)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, wager.StatusLoss, r.Status)
		assert.Zero(t, r.TotalPayout)
	}

	inMsgs := f.pub.sentTo("c-in", EventSettlement)
	require.Len(t, inMsgs, 1)
	data := inMsgs[0].Data.(SettlementData)
	assert.Equal(t, "LOSS", data.Status)
	assert.Equal(t, 5.0, data.LossAmount)
	assert.Empty(t, f.pub.sentTo("c-out", EventSettlement))

	assert.Equal(t, 1, f.store.SettlementBatches(), "one write per round")
	assert.Len(t, f.store.Settlements(), 2)
}

func TestSettleNoBetsTouchesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, _ := dice.NewOutcome(1, 1)
	recs, err := f.manager.settler.Settle(context.Background(), "101", "r", nil, out)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, f.store.SettlementBatches())
}

func TestSettleCreditFailureQueuesReconciliation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "carol", "c-carol")
	f.connect(t, "dave", "c-dave")
	win1 := placed(t, f, "carol", wager.ChipWager{Chip: wager.ChipUnder, Amount: 10})
	win2 := placed(t, f, "dave", wager.ChipWager{Chip: wager.ChipUnder, Amount: 10})

	f.sandbox.Fail = func(kind string, id ledger.Identity) error {
		if kind == ledger.TxnCredit && id.UserID == "user-carol" {
			return fmt.Errorf("%w: 502", ledger.ErrUnavailable)
		}
		return nil
	}
	out, _ := dice.NewOutcome(1, 2)

	recs, err := f.manager.settler.Settle(context.Background(), "101", win1.RoundID, []RoundBet{win1, win2}, out)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].CreditFailed)
	assert.False(t, recs[1].CreditFailed)

	entries := f.queue.all()
	require.Len(t, entries, 1)
	assert.Equal(t, win1.ID, entries[0].BetID)
	assert.Equal(t, ledger.CreditPayout, entries[0].Kind)
	assert.Equal(t, 20.0, entries[0].Amount)
	assert.Equal(t, win1.LedgerTxnID, entries[0].LedgerTxnID)

	p, _, _ := f.sessions.Get(context.Background(), "carol")
	assert.Equal(t, 90.0, p.Balance, "uncredited payout is not shown as balance")
	bal, _ := f.sandbox.Balance("user-dave")
	assert.Equal(t, 110.0, bal)
}

func TestSettlePayoutIsKeyedByBet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "gina", "c-gina")
	bet := placed(t, f, "gina", wager.ChipWager{Chip: wager.ChipUnder, Amount: 10})
	out, _ := dice.NewOutcome(1, 1)

	_, err := f.manager.settler.Settle(context.Background(), "101", bet.RoundID, []RoundBet{bet}, out)
	require.NoError(t, err)
	_, err = f.manager.settler.Settle(context.Background(), "101", bet.RoundID, []RoundBet{bet}, out)
	require.Error(t, err, "settlement records are written once")

	bal, _ := f.sandbox.Balance("user-gina")
	assert.Equal(t, 110.0, bal, "ledger paid once")
}

func TestVoidRefundFailureQueuesRefund(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "hank", "c-hank")
	bet := placed(t, f, "hank", wager.ChipWager{Chip: wager.ChipOver, Amount: 30})
	f.sandbox.Fail = func(kind string, _ ledger.Identity) error {
		if kind == ledger.TxnCredit {
			return fmt.Errorf("%w: 503", ledger.ErrUnavailable)
		}
		return nil
	}

	f.manager.settler.Void(context.Background(), "101", bet.RoundID, []RoundBet{bet})

	entries := f.queue.all()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.CreditRefund, entries[0].Kind)
	assert.Equal(t, 30.0, entries[0].Amount)
}

func TestSettleSurvivesMissingSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "erin", "c-erin")
	bet := placed(t, f, "erin", wager.ChipWager{Chip: wager.ChipUnder, Amount: 10})
	require.NoError(t, f.sessions.Delete(context.Background(), "erin"))

	out, _ := dice.NewOutcome(2, 2)
	recs, err := f.manager.settler.Settle(context.Background(), "101", bet.RoundID, []RoundBet{bet}, out)
	require.NoError(t, err)
	assert.Equal(t, 20.0, recs[0].TotalPayout)
	bal, _ := f.sandbox.Balance("user-erin")
	assert.Equal(t, 110.0, bal)
	assert.Empty(t, f.pub.sentTo("c-erin", EventSettlement))
}

func TestVoidRefundsStakes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t, "frank", "c-frank")
	_, err := f.service.JoinLobby(context.Background(), "frank", "101")
	require.NoError(t, err)
	bet := placed(t, f, "frank", wager.ChipWager{Chip: wager.ChipOver, Amount: 30})

	f.manager.settler.Void(context.Background(), "101", bet.RoundID, []RoundBet{bet})

	bal, _ := f.sandbox.Balance("user-frank")
	assert.Equal(t, 100.0, bal)
	p, _, _ := f.sessions.Get(context.Background(), "frank")
	assert.Equal(t, 100.0, p.Balance)

	msgs := f.pub.sentTo("c-frank", EventSettlement)
	require.Len(t, msgs, 1)
	assert.Equal(t, "VOID", msgs[0].Data.(SettlementData).Status)
	assert.Zero(t, f.store.SettlementBatches())
}
