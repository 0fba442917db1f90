package vault

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// BalanceResult is the answer to fetchBalance.
type BalanceResult struct {
	wire.Result
	Address   string                  `json:"address"`
	Balance   float64                 `json:"balance"`
	Nonce     uint64                  `json:"nonce"`
	Encrypted *chain.EncryptedBalance `json:"encrypted,omitempty"`
	UpdatedAt int64                   `json:"updatedAt"`
}

type fetchBalancePayload struct {
	Address string `json:"address,omitempty"`
}

// handleFetchBalance fetches and caches the balance for a wallet,
// defaulting to the active one. The encrypted-balance view degrades to
// absent on failure; a public-balance failure fails the whole fetch
// with zeroed values.
func (s *Service) handleFetchBalance(ctx context.Context, req *wire.ServiceRequest) json.RawMessage {
	var payload fetchBalancePayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed fetch request"))
		}
	}

	wallet := s.session.active()
	if payload.Address != "" {
		wallet = nil
		for _, id := range s.session.order {
			if w := s.session.get(id); w != nil && w.Address == payload.Address {
				wallet = w
				break
			}
		}
	}
	if wallet == nil {
		return wire.FailurePayload(wire.Errf(wire.CodeWalletUnavailable, "wallet is locked or unknown"))
	}

	cached, err := s.fetchAndCache(ctx, wallet)
	if err != nil {
		return wire.Marshal(BalanceResult{
			Result:  wire.Failed(wire.AsWalletError(err)),
			Address: wallet.Address,
		})
	}

	return wire.Marshal(BalanceResult{
		Result:    wire.OK(),
		Address:   wallet.Address,
		Balance:   cached.Balance,
		Nonce:     cached.Nonce,
		Encrypted: cached.Encrypted,
		UpdatedAt: cached.UpdatedAt,
	})
}

func (s *Service) fetchAndCache(ctx context.Context, wallet *chain.Wallet) (*CachedBalance, error) {
	provider, err := s.activeProvider()
	if err != nil {
		return nil, err
	}

	balance, nonce, err := s.chain.FetchBalance(ctx, provider, wallet.Address)
	if err != nil {
		return nil, err
	}

	// Best effort only: holders without an encrypted balance, or an
	// endpoint without the view, just get the public numbers.
	encrypted, err := s.chain.FetchEncryptedBalance(ctx, provider, wallet.Address, wallet.PrivateKey)
	if err != nil {
		log.Debug().Str("address", wallet.Address).Msg("Encrypted balance unavailable")
		encrypted = nil
	}

	cached := &CachedBalance{
		Balance:   balance,
		Nonce:     nonce,
		Encrypted: encrypted,
		UpdatedAt: nowMillis(),
	}
	if err := s.store.SetCachedBalance(wallet.Address, cached); err != nil {
		return nil, err
	}
	return cached, nil
}

// startBalanceRefresh refreshes every unlocked wallet's public balance
// in the background. The fetches run off the queue so they never block
// operations; results are written back through it. Only addresses
// leave the session: the encrypted view needs the private key, which
// must not outlive a lock, so it refreshes solely through fetchBalance
// on the queue. Overlapping refresh rounds are skipped.
func (s *Service) startBalanceRefresh(ctx context.Context) {
	if s.session.state != StateActive {
		return
	}
	settings, err := s.store.Settings()
	if err != nil || !settings.AutoRefresh {
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		log.Debug().Msg("Balance refresh already in progress, skipping")
		return
	}

	addresses := make([]string, 0, len(s.session.order))
	for _, id := range s.session.order {
		if w := s.session.get(id); w != nil {
			addresses = append(addresses, w.Address)
		}
	}

	go func() {
		defer s.refreshing.Store(false)

		provider, err := s.activeProvider()
		if err != nil {
			log.Warn().Err(err).Msg("Balance refresh skipped, no provider")
			return
		}

		for _, address := range addresses {
			balance, nonce, err := s.chain.FetchBalance(ctx, provider, address)
			if err != nil {
				log.Warn().Err(err).Str("address", address).Msg("Balance refresh failed")
				continue
			}

			entry := &CachedBalance{
				Balance:   balance,
				Nonce:     nonce,
				UpdatedAt: nowMillis(),
			}
			s.enqueue(ctx, func(ctx context.Context) json.RawMessage {
				// Keep the last known encrypted view; this round only
				// updated the public numbers.
				if prev, err := s.store.CachedBalance(address); err == nil && prev != nil {
					entry.Encrypted = prev.Encrypted
				}
				if err := s.store.SetCachedBalance(address, entry); err != nil {
					return internalError(err)
				}
				return wire.Marshal(wire.OK())
			})
		}
	}()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
