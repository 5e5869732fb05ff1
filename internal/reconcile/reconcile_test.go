package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/ledger"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

type fixture struct {
	store   *history.Memory
	sandbox *ledger.Sandbox
	clock   *quartz.Mock
	worker  *Worker
	userID  string
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	f := &fixture{
		store:   history.NewMemory(),
		sandbox: ledger.NewSandbox(100),
		clock:   quartz.NewMock(t),
	}
	acct, err := f.sandbox.Player(context.Background(), "tok", "g1")
	require.NoError(t, err)
	f.userID = acct.UserID
	f.worker = NewWorker(f.store, f.sandbox, f.clock, testLogger(), Options{
		Interval:    10 * time.Second,
		MaxAttempts: maxAttempts,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	return f
}

func (f *fixture) enqueue(t *testing.T, amount float64) {
	t.Helper()
	require.NoError(t, f.worker.Enqueue(context.Background(), Entry{
		BetID:       "BT:1-101:" + f.userID + ":sandbox",
		Kind:        ledger.CreditPayout,
		RoundID:     "1-101",
		UserID:      f.userID,
		OperatorID:  "sandbox",
		GameID:      "g1",
		AuthToken:   "tok",
		LedgerTxnID: "txn-1",
		Amount:      amount,
		Err:         ledger.ErrUnavailable,
	}))
}

func TestEnqueuePersistsPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.enqueue(t, 40)

	recs := f.store.Reconciliations()
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, history.ReconcilePending, recs[0].Status)
	assert.Equal(t, ledger.ErrUnavailable.Error(), recs[0].LastError)
	assert.Equal(t, f.clock.Now().UTC(), recs[0].CreatedAt)
}

func TestSweepResolvesAndCredits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.enqueue(t, 40)

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Resolved: 1}, res)

	bal, _ := f.sandbox.Balance(f.userID)
	assert.Equal(t, 140.0, bal)

	recs := f.store.Reconciliations()
	assert.Equal(t, history.ReconcileResolved, recs[0].Status)
	assert.Equal(t, 1, recs[0].Attempts)

	// Resolved entries are not replayed.
	res, err = f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	bal, _ = f.sandbox.Balance(f.userID)
	assert.Equal(t, 140.0, bal)
}

// lostReplies applies every credit but reports the first n as unanswered.
type lostReplies struct {
	*ledger.Sandbox
	mu   sync.Mutex
	n    int
	keys []string
}

func (l *lostReplies) Credit(ctx context.Context, r ledger.CreditRequest) error {
	if err := l.Sandbox.Credit(ctx, r); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, ledger.IdempotencyKey(r.BetID, string(r.Kind)))
	if len(l.keys) <= l.n {
		return fmt.Errorf("%w: reply lost", ledger.ErrUnavailable)
	}
	return nil
}

func TestReplayKeepsIdempotencyKeyAcrossSweeps(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	gw := &lostReplies{Sandbox: f.sandbox, n: triesPerSweep}
	f.worker.ledger = gw
	f.enqueue(t, 40)

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Retrying: 1}, res)
	res, err = f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Resolved: 1}, res)

	gw.mu.Lock()
	keys := append([]string(nil), gw.keys...)
	gw.mu.Unlock()
	require.Len(t, keys, triesPerSweep+1)
	for _, k := range keys {
		assert.Equal(t, "BT:1-101:"+f.userID+":sandbox:PAYOUT", k)
	}

	bal, _ := f.sandbox.Balance(f.userID)
	assert.Equal(t, 140.0, bal, "credited once however often it was replayed")
}

func TestSweepRollsBackOnlyAppliedDebits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)
	id := ledger.Identity{GameID: "g1", OperatorID: "sandbox", AuthToken: "tok", UserID: f.userID}
	_, err := f.sandbox.Debit(ctx, ledger.DebitRequest{Identity: id, BetID: "BT:1-101:applied", Amount: 10})
	require.NoError(t, err)

	for _, betID := range []string{"BT:1-101:applied", "BT:1-101:lost"} {
		require.NoError(t, f.worker.Enqueue(ctx, Entry{
			BetID:      betID,
			Kind:       ledger.CreditRollback,
			RoundID:    "1-101",
			UserID:     f.userID,
			OperatorID: "sandbox",
			GameID:     "g1",
			AuthToken:  "tok",
			Amount:     10,
			Err:        ledger.ErrUnavailable,
		}))
	}

	res, err := f.worker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Resolved: 2}, res)
	bal, _ := f.sandbox.Balance(f.userID)
	assert.Equal(t, 100.0, bal)
	assert.Equal(t, string(ledger.CreditRollback), f.store.Reconciliations()[0].Kind)
}

func TestSweepGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	var calls atomic.Int32
	f.sandbox.Fail = func(kind string, _ ledger.Identity) error {
		if kind == ledger.TxnCredit {
			calls.Add(1)
			return fmt.Errorf("%w: 503", ledger.ErrUnavailable)
		}
		return nil
	}
	f.enqueue(t, 40)

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Retrying: 1}, res)
	assert.Equal(t, int32(triesPerSweep), calls.Load())

	res, err = f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1}, res)

	recs := f.store.Reconciliations()
	assert.Equal(t, history.ReconcileFailed, recs[0].Status)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.Contains(t, recs[0].LastError, "503")
}

func TestSweepRejectedIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	var calls atomic.Int32
	f.sandbox.Fail = func(kind string, _ ledger.Identity) error {
		calls.Add(1)
		return fmt.Errorf("%w: account closed", ledger.ErrRejected)
	}
	f.enqueue(t, 40)

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1}, res)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunSweepsOnEveryTick(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.enqueue(t, 25)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := f.clock.Peek()
		return ok
	}, time.Second, time.Millisecond)

	d, w := f.clock.AdvanceNext()
	assert.Equal(t, 10*time.Second, d)
	w.MustWait(context.Background())

	bal, _ := f.sandbox.Balance(f.userID)
	assert.Equal(t, 125.0, bal)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestEnqueueStoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.worker.store = failingStore{Store: f.store}
	err := f.worker.Enqueue(context.Background(), Entry{BetID: "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
}

var errBoom = errors.New("boom")

type failingStore struct {
	history.Store
}

func (failingStore) AppendReconciliation(context.Context, history.Reconciliation) error {
	return errBoom
}
