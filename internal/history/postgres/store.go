// Package postgres provides the Postgres-backed history store used when
// several game servers share one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/datatypes"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lox/sevenupdown/internal/dice"
	"github.com/lox/sevenupdown/internal/history"
	"github.com/lox/sevenupdown/internal/history/postgres/migrations"
	"github.com/lox/sevenupdown/internal/wager"
)

type roundRecord struct {
	ID         uint           `gorm:"primaryKey"`
	LobbySlot  string         `gorm:"size:16;not null"`
	RoundID    string         `gorm:"size:64;uniqueIndex;not null"`
	StartDelay int            `gorm:"not null"`
	EndDelay   int            `gorm:"not null"`
	Outcome    datatypes.JSON `gorm:"type:jsonb;not null"`
	FinalPhase int            `gorm:"not null"`
	StartedAt  time.Time      `gorm:"not null"`
	EndedAt    time.Time      `gorm:"not null"`
}

func (roundRecord) TableName() string { return "rounds" }

type settlementRecord struct {
	ID              uint           `gorm:"primaryKey"`
	BetID           string         `gorm:"size:255;uniqueIndex;not null"`
	RoundID         string         `gorm:"size:64;index;not null"`
	LobbySlot       string         `gorm:"size:16;not null"`
	UserID          string         `gorm:"size:255;not null"`
	OperatorID      string         `gorm:"size:255;not null"`
	TotalBet        float64        `gorm:"not null"`
	TotalPayout     float64        `gorm:"not null"`
	TotalMultiplier float64        `gorm:"not null"`
	Status          string         `gorm:"size:16;not null"`
	Results         datatypes.JSON `gorm:"type:jsonb;not null"`
	Outcome         datatypes.JSON `gorm:"type:jsonb;not null"`
	CreditFailed    bool           `gorm:"not null;default:false"`
	SettledAt       time.Time      `gorm:"not null"`
}

func (settlementRecord) TableName() string { return "settlements" }

type reconciliationRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	BetID       string
	Kind        string
	RoundID     string
	UserID      string
	OperatorID  string
	GameID      string
	AuthToken   string
	LedgerTxnID string
	IP          string
	Amount      float64
	Attempts    int
	Status      string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (reconciliationRecord) TableName() string { return "reconciliations" }

// Store persists round history in Postgres through gorm.
type Store struct {
	db *gorm.DB
}

var (
	_ history.Store            = (*Store)(nil)
	_ history.SettlementReader = (*Store)(nil)
)

// Migrate applies the embedded schema to the database at dsn. It is a no-op
// when the schema is current.
func Migrate(dsn string) error {
	if dsn == "" {
		return errors.New("database url is required")
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Open connects to Postgres. The schema must already be migrated.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AppendRound(ctx context.Context, r history.Round) error {
	outcome, err := json.Marshal(r.Outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	rec := roundRecord{
		LobbySlot:  r.LobbySlot,
		RoundID:    r.RoundID,
		StartDelay: r.StartDelay,
		EndDelay:   r.EndDelay,
		Outcome:    datatypes.JSON(outcome),
		FinalPhase: r.FinalPhase,
		StartedAt:  r.StartedAt.UTC(),
		EndedAt:    r.EndedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert round %s: %w", r.RoundID, mapError(err))
	}
	return nil
}

func (s *Store) AppendSettlements(ctx context.Context, batch []history.Settlement) error {
	if len(batch) == 0 {
		return nil
	}
	recs := make([]settlementRecord, 0, len(batch))
	for _, st := range batch {
		results, err := json.Marshal(st.Results)
		if err != nil {
			return fmt.Errorf("encode results for %s: %w", st.BetID, err)
		}
		outcome, err := json.Marshal(st.Outcome)
		if err != nil {
			return fmt.Errorf("encode outcome for %s: %w", st.BetID, err)
		}
		recs = append(recs, settlementRecord{
			BetID:           st.BetID,
			RoundID:         st.RoundID,
			LobbySlot:       st.LobbySlot,
			UserID:          st.UserID,
			OperatorID:      st.OperatorID,
			TotalBet:        st.TotalBet,
			TotalPayout:     st.TotalPayout,
			TotalMultiplier: st.TotalMultiplier,
			Status:          string(st.Status),
			Results:         datatypes.JSON(results),
			Outcome:         datatypes.JSON(outcome),
			CreditFailed:    st.CreditFailed,
			SettledAt:       st.SettledAt.UTC(),
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&recs).Error
	})
	if err != nil {
		return fmt.Errorf("insert settlements: %w", mapError(err))
	}
	return nil
}

func (s *Store) QueryRecentOutcomes(ctx context.Context, slot string, limit int) ([]history.RecentOutcome, error) {
	q := s.db.WithContext(ctx).Model(&roundRecord{})
	if slot != "" {
		q = q.Where("lobby_slot = ?", slot)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []roundRecord
	if err := q.Order("ended_at desc, id desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	out := make([]history.RecentOutcome, 0, len(recs))
	for _, rec := range recs {
		var o dice.Outcome
		if err := json.Unmarshal(rec.Outcome, &o); err != nil {
			return nil, fmt.Errorf("decode outcome for %s: %w", rec.RoundID, err)
		}
		out = append(out, history.RecentOutcome{
			LobbySlot: rec.LobbySlot,
			RoundID:   rec.RoundID,
			Outcome:   o,
			CreatedAt: rec.EndedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) QueryLastWin(ctx context.Context, userID, operatorID string) (float64, bool, error) {
	var recs []settlementRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND operator_id = ?", userID, operatorID).
		Order("settled_at desc, id desc").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return 0, false, fmt.Errorf("query last win: %w", err)
	}
	if len(recs) == 0 {
		return 0, false, nil
	}
	return recs[0].TotalPayout, true, nil
}

func (s *Store) AppendReconciliation(ctx context.Context, r history.Reconciliation) error {
	rec := reconciliationRecord{
		ID:          r.ID,
		BetID:       r.BetID,
		Kind:        r.Kind,
		RoundID:     r.RoundID,
		UserID:      r.UserID,
		OperatorID:  r.OperatorID,
		GameID:      r.GameID,
		AuthToken:   r.AuthToken,
		LedgerTxnID: r.LedgerTxnID,
		IP:          r.IP,
		Amount:      r.Amount,
		Attempts:    r.Attempts,
		Status:      string(r.Status),
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert reconciliation %s: %w", r.ID, mapError(err))
	}
	return nil
}

func (s *Store) PendingReconciliations(ctx context.Context, limit int) ([]history.Reconciliation, error) {
	q := s.db.WithContext(ctx).Where("status = ?", string(history.ReconcilePending))
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []reconciliationRecord
	if err := q.Order("created_at asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	out := make([]history.Reconciliation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, history.Reconciliation{
			ID:          rec.ID,
			BetID:       rec.BetID,
			Kind:        rec.Kind,
			RoundID:     rec.RoundID,
			UserID:      rec.UserID,
			OperatorID:  rec.OperatorID,
			GameID:      rec.GameID,
			AuthToken:   rec.AuthToken,
			LedgerTxnID: rec.LedgerTxnID,
			IP:          rec.IP,
			Amount:      rec.Amount,
			Attempts:    rec.Attempts,
			Status:      history.ReconciliationStatus(rec.Status),
			LastError:   rec.LastError,
			CreatedAt:   rec.CreatedAt.UTC(),
			UpdatedAt:   rec.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) UpdateReconciliation(ctx context.Context, r history.Reconciliation) error {
	res := s.db.WithContext(ctx).
		Model(&reconciliationRecord{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"attempts":   r.Attempts,
			"status":     string(r.Status),
			"last_error": r.LastError,
			"updated_at": r.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update reconciliation %s: %w", r.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return history.ErrNotFound
	}
	return nil
}

// RoundSettlements returns every settlement of a round in write order.
func (s *Store) RoundSettlements(ctx context.Context, roundID string) ([]history.Settlement, error) {
	var recs []settlementRecord
	if err := s.db.WithContext(ctx).Where("round_id = ?", roundID).Order("id asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	out := make([]history.Settlement, 0, len(recs))
	for _, rec := range recs {
		st := history.Settlement{
			BetID:           rec.BetID,
			RoundID:         rec.RoundID,
			LobbySlot:       rec.LobbySlot,
			UserID:          rec.UserID,
			OperatorID:      rec.OperatorID,
			TotalBet:        rec.TotalBet,
			TotalPayout:     rec.TotalPayout,
			TotalMultiplier: rec.TotalMultiplier,
			Status:          wager.Status(rec.Status),
			CreditFailed:    rec.CreditFailed,
			SettledAt:       rec.SettledAt.UTC(),
		}
		if err := json.Unmarshal(rec.Results, &st.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", rec.BetID, err)
		}
		if err := json.Unmarshal(rec.Outcome, &st.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome for %s: %w", rec.BetID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func mapError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", history.ErrDuplicate, err)
	}
	return err
}
