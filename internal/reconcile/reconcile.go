// Package reconcile retries payouts that the ledger failed to accept during
// settlement. Entries are persisted in the history store so a restart does
// not lose them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/ledger"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxAttempts = 10
	DefaultBatchSize   = 64

	// triesPerSweep bounds the immediate retries of a single entry inside
	// one sweep; across sweeps the entry's Attempts counter applies.
	triesPerSweep = 3
)

// Entry is a payout, refund or debit rollback that still has to reach the
// ledger.
type Entry struct {
	BetID       string
	Kind        ledger.CreditKind
	RoundID     string
	UserID      string
	OperatorID  string
	GameID      string
	AuthToken   string
	LedgerTxnID string
	IP          string
	Amount      float64
	Err         error
}

// Queue accepts failed payouts.
type Queue interface {
	Enqueue(ctx context.Context, e Entry) error
}

// Options tunes a Worker. Zero values take the package defaults.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	// NewBackOff builds the in-sweep retry schedule for one entry.
	NewBackOff func() backoff.BackOff
}

// Worker persists failed payouts and periodically replays them against the
// ledger.
type Worker struct {
	store  history.Store
	ledger ledger.Gateway
	clock  quartz.Clock
	logger *log.Logger
	opts   Options
}

var _ Queue = (*Worker)(nil)

// NewWorker returns a Worker. It does nothing until Run is called, but
// Enqueue works immediately.
func NewWorker(store history.Store, gw ledger.Gateway, clock quartz.Clock, logger *log.Logger, opts Options) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return &Worker{
		store:  store,
		ledger: gw,
		clock:  clock,
		logger: logger.WithPrefix("reconcile"),
		opts:   opts,
	}
}

// Enqueue records a failed payout as pending.
func (w *Worker) Enqueue(ctx context.Context, e Entry) error {
	now := w.clock.Now().UTC()
	rec := history.Reconciliation{
		ID:          uuid.NewString(),
		BetID:       e.BetID,
		Kind:        string(e.Kind),
		RoundID:     e.RoundID,
		UserID:      e.UserID,
		OperatorID:  e.OperatorID,
		GameID:      e.GameID,
		AuthToken:   e.AuthToken,
		LedgerTxnID: e.LedgerTxnID,
		IP:          e.IP,
		Amount:      e.Amount,
		Status:      history.ReconcilePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if e.Err != nil {
		rec.LastError = e.Err.Error()
	}
	if err := w.store.AppendReconciliation(ctx, rec); err != nil {
		return fmt.Errorf("enqueue payout for %s: %w", e.BetID, err)
	}
	w.logger.Warn("Payout queued for reconciliation",
		"bet", e.BetID, "kind", e.Kind, "user", e.UserID, "amount", e.Amount, "error", rec.LastError)
	return nil
}

// Run sweeps the queue every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Reconciliation worker started", "interval", w.opts.Interval)
	waiter := w.clock.TickerFunc(ctx, w.opts.Interval, func() error {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Reconciliation sweep failed", "error", err)
		}
		return nil
	}, "reconcile", "sweep")
	err := waiter.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Resolved int
	Retrying int
	Failed   int
}

// Sweep retries one batch of pending entries.
func (w *Worker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	pending, err := w.store.PendingReconciliations(ctx, w.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("load pending payouts: %w", err)
	}

	for _, rec := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := w.replay(ctx, rec)
		rec.Attempts++
		rec.UpdatedAt = w.clock.Now().UTC()

		switch {
		case err == nil:
			rec.Status = history.ReconcileResolved
			rec.LastError = ""
			res.Resolved++
			w.logger.Info("Payout reconciled", "bet", rec.BetID, "amount", rec.Amount, "attempts", rec.Attempts)
		case errors.Is(err, ledger.ErrRejected) || rec.Attempts >= w.opts.MaxAttempts:
			rec.Status = history.ReconcileFailed
			rec.LastError = err.Error()
			res.Failed++
			w.logger.Error("Payout abandoned", "bet", rec.BetID, "amount", rec.Amount, "attempts", rec.Attempts, "error", err)
		default:
			rec.LastError = err.Error()
			res.Retrying++
		}

		if err := w.store.UpdateReconciliation(ctx, rec); err != nil {
			return res, fmt.Errorf("update payout %s: %w", rec.ID, err)
		}
	}
	return res, nil
}

// replay resends the entry's credit. Every attempt carries the same bet id
// and kind, so the ledger applies it at most once.
func (w *Worker) replay(ctx context.Context, rec history.Reconciliation) error {
	req := ledger.CreditRequest{
		Identity: ledger.Identity{
			GameID:     rec.GameID,
			OperatorID: rec.OperatorID,
			AuthToken:  rec.AuthToken,
			UserID:     rec.UserID,
		},
		RoundID: rec.RoundID,
		BetID:   rec.BetID,
		Kind:    ledger.CreditKind(rec.Kind),
		TxnID:   rec.LedgerTxnID,
		Amount:  rec.Amount,
		IP:      rec.IP,
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := w.ledger.Credit(ctx, req)
		if err != nil && !ledger.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(w.opts.NewBackOff()), backoff.WithMaxTries(triesPerSweep))
	return err
}
