package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/lox/sevenupdown/internal/wager"
)

// Sandbox is an in-process Gateway for local play and tests. Any auth token
// maps to a player with the configured opening balance. Like the real ledger
// it applies each idempotency key once.
type Sandbox struct {
	mu       sync.Mutex
	opening  float64
	accounts map[string]*Account // auth token -> account
	users    map[string]*Account // user id -> account
	debits   map[string]string   // idempotency key -> txn id
	credits  map[string]struct{}
	nextTxn  int

	// Fail, when set, is consulted before every debit and credit.
	Fail func(kind string, id Identity) error
}

// NewSandbox returns a Sandbox granting opening to every new player.
func NewSandbox(opening float64) *Sandbox {
	return &Sandbox{
		opening:  opening,
		accounts: make(map[string]*Account),
		users:    make(map[string]*Account),
		debits:   make(map[string]string),
		credits:  make(map[string]struct{}),
	}
}

// Player returns the sandbox account for authToken, creating it on first use.
func (s *Sandbox) Player(_ context.Context, authToken, _ string) (Account, error) {
	if authToken == "" {
		return Account{}, fmt.Errorf("%w: empty token", ErrRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if acct, ok := s.accounts[authToken]; ok {
		return *acct, nil
	}
	acct := &Account{
		UserID:     "user-" + authToken,
		OperatorID: "sandbox",
		Balance:    s.opening,
	}
	s.accounts[authToken] = acct
	s.users[acct.UserID] = acct
	return *acct, nil
}

// Debit charges the stake if the balance covers it.
func (s *Sandbox) Debit(_ context.Context, r DebitRequest) (DebitResult, error) {
	if s.Fail != nil {
		if err := s.Fail(TxnDebit, r.Identity); err != nil {
			return DebitResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := IdempotencyKey(r.BetID, TxnDebit)
	if txn, ok := s.debits[key]; ok && r.BetID != "" {
		return DebitResult{TxnID: txn}, nil
	}
	acct, ok := s.users[r.UserID]
	if !ok {
		return DebitResult{}, fmt.Errorf("%w: unknown user %s", ErrRejected, r.UserID)
	}
	if r.Amount > acct.Balance {
		return DebitResult{}, fmt.Errorf("%w: insufficient balance", ErrRejected)
	}
	acct.Balance = wager.Round2(acct.Balance - r.Amount)
	s.nextTxn++
	txn := "txn-" + strconv.Itoa(s.nextTxn)
	if r.BetID != "" {
		s.debits[key] = txn
	}
	return DebitResult{TxnID: txn}, nil
}

// Credit adds the amount to the player's balance. A rollback only pays when
// the bet's debit was applied.
func (s *Sandbox) Credit(_ context.Context, r CreditRequest) error {
	kind := r.kind()
	if s.Fail != nil {
		txnType := TxnCredit
		if kind == CreditRollback {
			txnType = TxnRollback
		}
		if err := s.Fail(txnType, r.Identity); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.users[r.UserID]
	if !ok {
		return fmt.Errorf("%w: unknown user %s", ErrRejected, r.UserID)
	}
	if r.BetID != "" {
		key := IdempotencyKey(r.BetID, string(kind))
		if _, done := s.credits[key]; done {
			return nil
		}
		s.credits[key] = struct{}{}
		if kind == CreditRollback {
			if _, debited := s.debits[IdempotencyKey(r.BetID, TxnDebit)]; !debited {
				return nil
			}
		}
	}
	acct.Balance = wager.Round2(acct.Balance + r.Amount)
	return nil
}

// Balance returns the current balance for userID.
func (s *Sandbox) Balance(userID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.users[userID]
	if !ok {
		return 0, false
	}
	return acct.Balance, true
}
