package relay

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
)

// ApprovalCompleter receives the user's out-of-band decisions. The
// vault service implements it.
type ApprovalCompleter interface {
	CompleteConnectionApproval(ctx context.Context, requestID string, approved bool)
	CompleteTransactionApproval(ctx context.Context, requestID string, approved bool)
}

// ReturnParams are the approval outcome parameters carried on the
// return URL from the approval surface.
type ReturnParams struct {
	RequestID string
	Kind      string
	Approved  bool
	Address   string
	TxHash    string
}

// ParseReturnURL extracts approval parameters from a return URL. A URL
// without approval parameters yields nil, not an error: most
// navigations are not approvals.
func ParseReturnURL(raw string) (*ReturnParams, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid return url: %w", err)
	}
	q := u.Query()

	requestID := q.Get("requestId")
	if requestID == "" {
		return nil, nil
	}

	if outcome := q.Get("connection"); outcome != "" {
		return &ReturnParams{
			RequestID: requestID,
			Kind:      "connection",
			Approved:  outcome == "success",
			Address:   q.Get("account_id"),
		}, nil
	}
	if outcome := q.Get("transaction"); outcome != "" {
		return &ReturnParams{
			RequestID: requestID,
			Kind:      "transaction",
			Approved:  outcome == "success",
			TxHash:    q.Get("tx_hash"),
		}, nil
	}
	return nil, nil
}

// ReturnConsumer consumes approval return URLs, delivering each
// decision to the vault exactly once. Re-deliveries of the same request
// ID (a reloaded approval page, a duplicated navigation event) are
// dropped here, before they reach the vault.
type ReturnConsumer struct {
	completer ApprovalCompleter

	mu       sync.Mutex
	consumed map[string]struct{}
}

// NewReturnConsumer creates a consumer over an approval completer.
func NewReturnConsumer(completer ApprovalCompleter) *ReturnConsumer {
	return &ReturnConsumer{
		completer: completer,
		consumed:  make(map[string]struct{}),
	}
}

// Consume parses a return URL and forwards the decision. It reports
// whether a decision was delivered.
func (c *ReturnConsumer) Consume(ctx context.Context, raw string) (bool, error) {
	params, err := ParseReturnURL(raw)
	if err != nil {
		return false, err
	}
	if params == nil {
		return false, nil
	}

	c.mu.Lock()
	if _, done := c.consumed[params.RequestID]; done {
		c.mu.Unlock()
		log.Debug().Str("request_id", params.RequestID).Msg("Return URL already consumed")
		return false, nil
	}
	c.consumed[params.RequestID] = struct{}{}
	c.mu.Unlock()

	switch params.Kind {
	case "connection":
		c.completer.CompleteConnectionApproval(ctx, params.RequestID, params.Approved)
	case "transaction":
		c.completer.CompleteTransactionApproval(ctx, params.RequestID, params.Approved)
	}

	log.Info().
		Str("request_id", params.RequestID).
		Str("kind", params.Kind).
		Bool("approved", params.Approved).
		Msg("Approval decision consumed")
	return true, nil
}
