package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Transaction types sent to the account service.
const (
	TxnDebit    = "DEBIT"
	TxnCredit   = "CREDIT"
	TxnRollback = "ROLLBACK"
)

const defaultTimeout = 5 * time.Second

// Client is a Gateway backed by the account service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every ledger call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the account service at baseURL.
func NewClient(baseURL string, logger *log.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: defaultTimeout,
		logger:  logger.WithPrefix("ledger"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transactionRequest struct {
	Type       string  `json:"txn_type"`
	GameID     string  `json:"game_id"`
	OperatorID string  `json:"operator_id"`
	UserID     string  `json:"user_id"`
	RoundID    string  `json:"round_id"`
	BetID      string  `json:"bet_id,omitempty"`
	TxnID      string  `json:"txn_ref_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Amount     float64 `json:"amount"`
	IP         string  `json:"ip,omitempty"`
}

type transactionResponse struct {
	Status  bool   `json:"status"`
	TxnID   string `json:"txn_id"`
	Message string `json:"msg"`
}

type playerResponse struct {
	Status bool    `json:"status"`
	User   Account `json:"user"`
}

// Player resolves an auth token into the player's identity and balance.
func (c *Client) Player(ctx context.Context, authToken, gameID string) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/players/me", nil)
	if err != nil {
		return Account{}, fmt.Errorf("build player request: %w", err)
	}
	req.Header.Set("X-Auth-Token", authToken)
	req.Header.Set("X-Game-Id", gameID)

	var resp playerResponse
	if err := c.do(req, &resp); err != nil {
		return Account{}, err
	}
	if !resp.Status || resp.User.UserID == "" {
		return Account{}, fmt.Errorf("%w: unknown player", ErrRejected)
	}
	return resp.User, nil
}

// Debit charges a stake. A declined debit returns ErrRejected. The call is
// keyed by r.BetID, so a retried debit is applied once.
func (c *Client) Debit(ctx context.Context, r DebitRequest) (DebitResult, error) {
	resp, err := c.transact(ctx, r.Identity, idempotencyKey(r.BetID, TxnDebit), transactionRequest{
		Type:    TxnDebit,
		RoundID: r.RoundID,
		BetID:   r.BetID,
		Amount:  r.Amount,
		IP:      r.IP,
	})
	if err != nil {
		return DebitResult{}, err
	}
	return DebitResult{TxnID: resp.TxnID}, nil
}

// Credit pays an amount against the debit transaction r.TxnID. Rollbacks are
// sent as their own transaction type and quote the bet instead.
func (c *Client) Credit(ctx context.Context, r CreditRequest) error {
	kind := r.kind()
	body := transactionRequest{
		Type:    TxnCredit,
		RoundID: r.RoundID,
		BetID:   r.BetID,
		TxnID:   r.TxnID,
		Reason:  string(kind),
		Amount:  r.Amount,
		IP:      r.IP,
	}
	if kind == CreditRollback {
		body.Type = TxnRollback
	}
	_, err := c.transact(ctx, r.Identity, idempotencyKey(r.BetID, string(kind)), body)
	return err
}

// idempotencyKey falls back to a random key for calls not tied to a bet.
func idempotencyKey(betID, txnType string) string {
	if betID == "" {
		return uuid.NewString()
	}
	return IdempotencyKey(betID, txnType)
}

func (c *Client) transact(ctx context.Context, id Identity, key string, body transactionRequest) (transactionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body.GameID = id.GameID
	body.OperatorID = id.OperatorID
	body.UserID = id.UserID

	payload, err := json.Marshal(body)
	if err != nil {
		return transactionResponse{}, fmt.Errorf("encode %s request: %w", body.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(payload))
	if err != nil {
		return transactionResponse{}, fmt.Errorf("build %s request: %w", body.Type, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", id.AuthToken)
	req.Header.Set("X-Game-Id", id.GameID)
	req.Header.Set("Idempotency-Key", key)

	var resp transactionResponse
	if err := c.do(req, &resp); err != nil {
		c.logger.Warn("Ledger call failed", "type", body.Type, "user", id.UserID, "round", body.RoundID, "error", err)
		return transactionResponse{}, err
	}
	if !resp.Status {
		c.logger.Warn("Ledger declined transaction", "type", body.Type, "user", id.UserID, "round", body.RoundID, "message", resp.Message)
		return transactionResponse{}, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}

	c.logger.Debug("Ledger transaction accepted", "type", body.Type, "user", id.UserID, "txn", resp.TxnID, "amount", body.Amount)
	return resp, nil
}

// do sends req and decodes a JSON body into out. Transport failures and 5xx
// responses map to ErrUnavailable, 4xx responses to ErrRejected.
func (c *Client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrRejected, res.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
