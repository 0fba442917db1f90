// Package chain talks to the Octra network. It owns the RPC provider
// configuration shape, balance and nonce queries, and transaction
// signing and submission. Nothing in here holds session state: the
// vault passes the active provider on every call, so a provider switch
// takes effect immediately.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/wire"
)

// requestTimeout bounds every RPC call.
const requestTimeout = 30 * time.Second

// Provider is one configured RPC endpoint. Exactly one provider is
// active at a time; the vault falls back to DefaultProvider when none
// is marked active.
type Provider struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Priority  int               `json:"priority"`
	IsActive  bool              `json:"isActive"`
	CreatedAt int64             `json:"createdAt"`
}

// DefaultProvider is the built-in fallback endpoint.
func DefaultProvider() Provider {
	return Provider{
		ID:        "default",
		Name:      "Octra Network (Default)",
		URL:       "https://octra.network",
		Headers:   map[string]string{},
		Priority:  1,
		IsActive:  true,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// EncryptedBalance is the optional private-balance view. All values in
// OCT.
type EncryptedBalance struct {
	Public    float64 `json:"public"`
	Encrypted float64 `json:"encrypted"`
	Total     float64 `json:"total"`
}

// Client is a stateless Octra RPC client.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client with the standard request timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// FetchBalance returns the public balance (OCT) and nonce for an
// address. On any transport or non-2xx failure it returns zeros and a
// NETWORK_ERROR, never stale data.
func (c *Client) FetchBalance(ctx context.Context, provider Provider, address string) (float64, uint64, error) {
	body, err := c.get(ctx, provider, "/balance/"+address, nil)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, wire.Errf(wire.CodeNetworkError, "malformed balance response")
	}

	balance, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		balance = 0
	}
	return balance, resp.Nonce, nil
}

// FetchEncryptedBalance returns the encrypted-balance view for an
// address. The endpoint authenticates the holder via the X-Private-Key
// header. Callers treat a failure here as a degraded (nil) result, not
// an error in the overall balance fetch.
func (c *Client) FetchEncryptedBalance(ctx context.Context, provider Provider, address, privateKey string) (*EncryptedBalance, error) {
	headers := map[string]string{"X-Private-Key": privateKey}
	body, err := c.get(ctx, provider, "/view_encrypted_balance/"+address, headers)
	if err != nil {
		return nil, err
	}

	var resp struct {
		PublicBalance    string `json:"public_balance"`
		EncryptedBalance string `json:"encrypted_balance"`
		TotalBalance     string `json:"total_balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wire.Errf(wire.CodeNetworkError, "malformed encrypted balance response")
	}

	return &EncryptedBalance{
		Public:    parseAmountField(resp.PublicBalance),
		Encrypted: parseAmountField(resp.EncryptedBalance),
		Total:     parseAmountField(resp.TotalBalance),
	}, nil
}

// SubmitTransaction submits a signed transaction and returns its hash.
func (c *Client) SubmitTransaction(ctx context.Context, provider Provider, tx *Transaction) (string, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	body, err := c.post(ctx, provider, "/send-tx", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Status string `json:"status"`
		TxHash string `json:"tx_hash"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", wire.Errf(wire.CodeNetworkError, "malformed submit response")
	}
	if resp.Error != "" {
		return "", wire.Errf(wire.CodeInvalidTransaction, "transaction rejected: %s", resp.Error)
	}
	if resp.TxHash == "" {
		return "", wire.Errf(wire.CodeNetworkError, "submit response missing tx hash")
	}

	log.Info().
		Str("tx_hash", resp.TxHash).
		Str("from", tx.From).
		Str("to", tx.To).
		Msg("Transaction submitted")

	return resp.TxHash, nil
}

func (c *Client) get(ctx context.Context, provider Provider, path string, extra map[string]string) ([]byte, error) {
	return c.do(ctx, provider, http.MethodGet, path, nil, extra)
}

func (c *Client) post(ctx context.Context, provider Provider, path string, body []byte) ([]byte, error) {
	return c.do(ctx, provider, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, provider Provider, method, path string, body []byte, extra map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, provider.URL+path, reader)
	if err != nil {
		return nil, wire.Errf(wire.CodeNetworkError, "invalid request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range provider.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", provider.URL+path).Msg("RPC request failed")
		return nil, wire.Errf(wire.CodeNetworkError, "endpoint unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, wire.Errf(wire.CodeNetworkError, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, wire.Errf(wire.CodeNetworkError, "endpoint returned %d", resp.StatusCode)
	}

	return data, nil
}

// parseAmountField parses fields of the form "12.5 OCT", tolerating a
// bare number.
func parseAmountField(s string) float64 {
	if s == "" {
		return 0
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
