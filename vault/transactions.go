package vault

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// maxMessageLen is the on-chain message limit in bytes.
const maxMessageLen = 1024

// SendResult is the answer to sendTransaction.
type SendResult struct {
	wire.Result
	TxHash string `json:"txHash,omitempty"`
}

type sendPayload struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Message string `json:"message,omitempty"`
}

func (s *Service) handleSendTransaction(ctx context.Context, req *wire.ServiceRequest) json.RawMessage {
	var payload sendPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidTransaction, "malformed send request"))
	}

	txHash, err := s.sendTransaction(ctx, payload.To, payload.Amount, payload.Message)
	if err != nil {
		return wire.FailurePayload(wire.AsWalletError(err))
	}
	return wire.Marshal(SendResult{Result: wire.OK(), TxHash: txHash})
}

// validateIntent shape-checks a transfer before anything touches the
// network. Rejections here are INVALID_TRANSACTION and cost no RPC.
func validateIntent(to, amount, message string) error {
	if !strings.HasPrefix(to, "oct") || len(to) < 8 {
		return wire.Errf(wire.CodeInvalidTransaction, "invalid recipient address")
	}
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil || value <= 0 {
		return wire.Errf(wire.CodeInvalidTransaction, "amount must be a positive number")
	}
	if len(message) > maxMessageLen {
		return wire.Errf(wire.CodeInvalidTransaction, "message exceeds %d bytes", maxMessageLen)
	}
	return nil
}

// sendTransaction runs the full transfer pipeline: validate, fetch a
// fresh balance and nonce, check total cost including fee, sign with
// nonce+1, submit. The cached nonce is never trusted for signing.
func (s *Service) sendTransaction(ctx context.Context, to, amountStr, message string) (string, error) {
	wallet := s.session.active()
	if wallet == nil {
		return "", wire.Errf(wire.CodeWalletUnavailable, "wallet is locked")
	}

	if err := validateIntent(to, amountStr, message); err != nil {
		return "", err
	}
	amount, _ := strconv.ParseFloat(amountStr, 64)

	provider, err := s.activeProvider()
	if err != nil {
		return "", err
	}

	balance, nonce, err := s.chain.FetchBalance(ctx, provider, wallet.Address)
	if err != nil {
		return "", err
	}

	fee := chain.Fee(amount)
	total := amount + fee
	if balance < total {
		return "", wire.Errf(wire.CodeInvalidTransaction,
			"insufficient balance: total cost is %s OCT (amount %s + fee %s), available %s",
			formatOCT(total), formatOCT(amount), formatOCT(fee), formatOCT(balance))
	}

	tx, err := chain.BuildTransaction(wallet, to, amount, nonce+1, message)
	if err != nil {
		return "", err
	}

	txHash, err := s.chain.SubmitTransaction(ctx, provider, tx)
	if err != nil {
		return "", err
	}

	// The submitted transfer invalidates the cache entry; record what
	// we know so the UI does not show the stale pre-send balance.
	if err := s.store.SetCachedBalance(wallet.Address, &CachedBalance{
		Balance:   balance - total,
		Nonce:     nonce + 1,
		UpdatedAt: nowMillis(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to update balance cache after send")
	}

	return txHash, nil
}

// formatOCT renders an OCT amount with up to six decimals, trimmed.
func formatOCT(v float64) string {
	out := strconv.FormatFloat(v, 'f', 6, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}
