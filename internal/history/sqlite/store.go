// Package sqlite provides a SQLite-backed history store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/history/sqlite/migrations"
	"github.com/lox/sevenupdown/internal/wager"
)

// Store persists round history in SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ history.Store            = (*Store)(nil)
	_ history.SettlementReader = (*Store)(nil)
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens the database at path and applies the embedded schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps settlement batches from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AppendRound(ctx context.Context, r history.Round) error {
	outcome, err := json.Marshal(r.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rounds (lobby_slot, round_id, start_delay, end_delay, outcome, final_phase, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.LobbySlot, r.RoundID, r.StartDelay, r.EndDelay, string(outcome), r.FinalPhase,
		toMillis(r.StartedAt), toMillis(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", r.RoundID, mapConstraint(err))
	}
	return nil
}

// AppendSettlements writes the batch in a single transaction. A repeated bet
// id aborts the whole batch with history.ErrDuplicate.
func (s *Store) AppendSettlements(ctx context.Context, batch []history.Settlement) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlements: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO settlements (
		   bet_id, round_id, lobby_slot, user_id, operator_id,
		   total_bet, total_payout, total_multiplier, status,
		   results, outcome, credit_failed, settled_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare settlements: %w", err)
	}
	defer stmt.Close()

	for _, st := range batch {
		results, err := json.Marshal(st.Results)
		if err != nil {
			return fmt.Errorf("encode results for %s: %w", st.BetID, err)
		}
		outcome, err := json.Marshal(st.Outcome)
		if err != nil {
			return fmt.Errorf("encode outcome for %s: %w", st.BetID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			st.BetID, st.RoundID, st.LobbySlot, st.UserID, st.OperatorID,
			st.TotalBet, st.TotalPayout, st.TotalMultiplier, string(st.Status),
			string(results), string(outcome), boolToInt(st.CreditFailed), toMillis(st.SettledAt),
		); err != nil {
			return fmt.Errorf("insert settlement %s: %w", st.BetID, mapConstraint(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlements: %w", err)
	}
	return nil
}

func (s *Store) QueryRecentOutcomes(ctx context.Context, slot string, limit int) ([]history.RecentOutcome, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT lobby_slot, round_id, outcome, ended_at FROM rounds`
	args := []any{}
	if slot != "" {
		query += ` WHERE lobby_slot = ?`
		args = append(args, slot)
	}
	query += ` ORDER BY ended_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []history.RecentOutcome
	for rows.Next() {
		var (
			r       history.RecentOutcome
			outcome string
			ended   int64
		)
		if err := rows.Scan(&r.LobbySlot, &r.RoundID, &outcome, &ended); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if r.Outcome, err = decodeOutcome(outcome); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) QueryLastWin(ctx context.Context, userID, operatorID string) (float64, bool, error) {
	var payout float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_payout FROM settlements
		 WHERE user_id = ? AND operator_id = ?
		 ORDER BY settled_at DESC, rowid DESC LIMIT 1`,
		userID, operatorID,
	).Scan(&payout)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query last win: %w", err)
	}
	return payout, true, nil
}

func (s *Store) AppendReconciliation(ctx context.Context, r history.Reconciliation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconciliations (
		   id, bet_id, kind, round_id, user_id, operator_id, game_id, auth_token,
		   ledger_txn_id, ip, amount, attempts, status, last_error, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BetID, r.Kind, r.RoundID, r.UserID, r.OperatorID, r.GameID, r.AuthToken,
		r.LedgerTxnID, r.IP, r.Amount, r.Attempts, string(r.Status), r.LastError,
		toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation %s: %w", r.ID, mapConstraint(err))
	}
	return nil
}

func (s *Store) PendingReconciliations(ctx context.Context, limit int) ([]history.Reconciliation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bet_id, kind, round_id, user_id, operator_id, game_id, auth_token,
		        ledger_txn_id, ip, amount, attempts, status, last_error, created_at, updated_at
		 FROM reconciliations WHERE status = ?
		 ORDER BY created_at, rowid LIMIT ?`,
		string(history.ReconcilePending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []history.Reconciliation
	for rows.Next() {
		var (
			r                history.Reconciliation
			status           string
			created, updated int64
		)
		if err := rows.Scan(
			&r.ID, &r.BetID, &r.Kind, &r.RoundID, &r.UserID, &r.OperatorID, &r.GameID, &r.AuthToken,
			&r.LedgerTxnID, &r.IP, &r.Amount, &r.Attempts, &status, &r.LastError, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		r.Status = history.ReconciliationStatus(status)
		r.CreatedAt = fromMillis(created)
		r.UpdatedAt = fromMillis(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateReconciliation(ctx context.Context, r history.Reconciliation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconciliations
		 SET attempts = ?, status = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		r.Attempts, string(r.Status), r.LastError, toMillis(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update reconciliation %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reconciliation %s: %w", r.ID, err)
	}
	if n == 0 {
		return history.ErrNotFound
	}
	return nil
}

// RoundSettlements returns every settlement of a round in write order.
func (s *Store) RoundSettlements(ctx context.Context, roundID string) ([]history.Settlement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bet_id, round_id, lobby_slot, user_id, operator_id, total_bet, total_payout,
		        total_multiplier, status, results, outcome, credit_failed, settled_at
		 FROM settlements WHERE round_id = ? ORDER BY rowid`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var out []history.Settlement
	for rows.Next() {
		var (
			st               history.Settlement
			status           string
			results, outcome string
			creditFailed     int
			settled          int64
		)
		if err := rows.Scan(
			&st.BetID, &st.RoundID, &st.LobbySlot, &st.UserID, &st.OperatorID, &st.TotalBet,
			&st.TotalPayout, &st.TotalMultiplier, &status, &results, &outcome, &creditFailed, &settled,
		); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		st.Status = wager.Status(status)
		if err := json.Unmarshal([]byte(results), &st.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", st.BetID, err)
		}
		if st.Outcome, err = decodeOutcome(outcome); err != nil {
			return nil, err
		}
		st.CreditFailed = creditFailed != 0
		st.SettledAt = fromMillis(settled)
		out = append(out, st)
	}
	return out, rows.Err()
}

func decodeOutcome(raw string) (dice.Outcome, error) {
	var o dice.Outcome
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return dice.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mapConstraint(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", history.ErrDuplicate, err)
		}
	}
	return err
}
