package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ledger failure taxonomy. ErrArenaAlreadySettled triggers a DB resync
// instead of a blind retry; the user-facing kinds surface as messages.
var (
	ErrArenaAlreadySettled = errors.New("arena already settled on ledger; reset required")
	ErrInsufficientFunds   = errors.New("insufficient funds for ledger transaction")
	ErrArenaNotFound       = errors.New("arena account not found on ledger")
	ErrVaultNotEmpty       = errors.New("arena vault is not empty")
	ErrAccountNotFound     = errors.New("account not found")
)

const (
	submitAttempts = 3
	submitBackoff  = 2 * time.Second
	confirmTimeout = 30 * time.Second
	confirmPoll    = time.Second
)

// Client speaks JSON-RPC to the ledger node over HTTP.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient builds an RPC client with a timeout suited to simulate+send.
func NewClient(url string) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: http request: %w", method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", method, err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal rpc response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// GetLatestBlockhash returns the recent blockhash for transaction assembly.
func (c *Client) GetLatestBlockhash(ctx context.Context) ([32]byte, error) {
	var out [32]byte
	raw, err := c.call(ctx, "getLatestBlockhash", map[string]string{"commitment": "confirmed"})
	if err != nil {
		return out, err
	}
	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return out, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	pk, err := PublicKeyFromBase58(res.Value.Blockhash)
	if err != nil {
		return out, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return [32]byte(pk), nil
}

// Simulate dry-runs the transaction and classifies any program error.
func (c *Client) Simulate(ctx context.Context, txBase64 string) error {
	raw, err := c.call(ctx, "simulateTransaction", txBase64,
		map[string]string{"encoding": "base64", "commitment": "confirmed"})
	if err != nil {
		return err
	}
	var res struct {
		Value struct {
			Err  any      `json:"err"`
			Logs []string `json:"logs"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("simulateTransaction: %w", err)
	}
	if res.Value.Err == nil {
		return nil
	}
	detail, _ := json.Marshal(res.Value.Err)
	return classifySimulation(string(detail), res.Value.Logs)
}

// Send submits the signed transaction and returns its signature.
func (c *Client) Send(ctx context.Context, txBase64 string) (string, error) {
	raw, err := c.call(ctx, "sendTransaction", txBase64,
		map[string]any{"encoding": "base64", "skipPreflight": true})
	if err != nil {
		return "", err
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

// Confirm polls the signature status until it reaches confirmed or the
// confirmation window expires.
func (c *Client) Confirm(ctx context.Context, signature string) error {
	deadline := time.Now().Add(confirmTimeout)
	for {
		raw, err := c.call(ctx, "getSignatureStatuses", []string{signature})
		if err == nil {
			var res struct {
				Value []*struct {
					ConfirmationStatus string `json:"confirmationStatus"`
					Err                any    `json:"err"`
				} `json:"value"`
			}
			if err := json.Unmarshal(raw, &res); err == nil && len(res.Value) > 0 && res.Value[0] != nil {
				st := res.Value[0]
				if st.Err != nil {
					detail, _ := json.Marshal(st.Err)
					return classifySimulation(string(detail), nil)
				}
				if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("transaction %s not confirmed within %s", signature, confirmTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(confirmPoll):
		}
	}
}

// GetAccountInfo fetches raw account data, or ErrAccountNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	raw, err := c.call(ctx, "getAccountInfo", address,
		map[string]string{"encoding": "base64", "commitment": "confirmed"})
	if err != nil {
		return nil, err
	}
	var res struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("getAccountInfo: %w", err)
	}
	if res.Value == nil || len(res.Value.Data) == 0 {
		return nil, ErrAccountNotFound
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo: decode data: %w", err)
	}
	return data, nil
}

// GetBalance returns an account's balance in minor units.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "getBalance", address)
	if err != nil {
		return 0, err
	}
	var res struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	return res.Value, nil
}

// TransactionInfo is the subset of getTransaction needed to verify stakes.
type TransactionInfo struct {
	Signature   string
	Succeeded   bool
	AccountKeys []string
}

// GetTransaction fetches a confirmed transaction by signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionInfo, error) {
	raw, err := c.call(ctx, "getTransaction", signature,
		map[string]any{"encoding": "json", "commitment": "confirmed", "maxSupportedTransactionVersion": 0})
	if err != nil {
		return nil, err
	}
	var res struct {
		Meta *struct {
			Err any `json:"err"`
		} `json:"meta"`
		Transaction *struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if res.Transaction == nil {
		return nil, ErrAccountNotFound
	}
	return &TransactionInfo{
		Signature:   signature,
		Succeeded:   res.Meta == nil || res.Meta.Err == nil,
		AccountKeys: res.Transaction.Message.AccountKeys,
	}, nil
}

// Healthy reports whether the RPC node answers getHealth.
func (c *Client) Healthy(ctx context.Context) bool {
	raw, err := c.call(ctx, "getHealth")
	if err != nil {
		return false
	}
	var status string
	return json.Unmarshal(raw, &status) == nil && status == "ok"
}

// classifySimulation maps program/simulation errors onto the failure
// taxonomy. Unrecognised errors stay generic and are treated as transient.
func classifySimulation(detail string, logs []string) error {
	blob := strings.ToLower(detail + " " + strings.Join(logs, " "))
	switch {
	case strings.Contains(blob, "alreadysettled") || strings.Contains(blob, "already settled"):
		return ErrArenaAlreadySettled
	case strings.Contains(blob, "insufficient funds") || strings.Contains(blob, "insufficientfunds"):
		return ErrInsufficientFunds
	case strings.Contains(blob, "arenanotfound") || strings.Contains(blob, "accountnotfound") ||
		strings.Contains(blob, "could not find account"):
		return ErrArenaNotFound
	case strings.Contains(blob, "vaultnotempty") || strings.Contains(blob, "vault not empty"):
		return ErrVaultNotEmpty
	}
	return fmt.Errorf("ledger simulation failed: %s", detail)
}

// retryable reports whether the submission loop should try again. The
// recognised taxonomy errors are final.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrArenaAlreadySettled),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrArenaNotFound),
		errors.Is(err, ErrVaultNotEmpty):
		return false
	}
	return true
}
