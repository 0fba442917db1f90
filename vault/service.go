// Package vault is the privileged zone of the wallet. It is the only
// code that ever sees a password, a decrypted private key, or the
// persistent store. Everything enters through Call as a ServiceRequest
// and is linearized onto a single-consumer operation queue, so no two
// privileged operations ever interleave.
package vault

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/vault/storage"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// ChainClient is the network surface the vault depends on. The
// production implementation is chain.Client; tests substitute fakes.
type ChainClient interface {
	FetchBalance(ctx context.Context, provider chain.Provider, address string) (float64, uint64, error)
	FetchEncryptedBalance(ctx context.Context, provider chain.Provider, address, privateKey string) (*chain.EncryptedBalance, error)
	SubmitTransaction(ctx context.Context, provider chain.Provider, tx *chain.Transaction) (string, error)
}

// ApprovalOpener is called when a dApp request needs an out-of-band
// user decision. It opens the approval surface and returns; the
// decision arrives later via CompleteConnectionApproval or
// CompleteTransactionApproval.
type ApprovalOpener func(approval *PendingApproval)

// Refresh cadence for the balance cache.
const (
	refreshInterval   = 5 * time.Minute
	firstRefreshDelay = 1 * time.Minute
)

type operation struct {
	req  *wire.ServiceRequest
	fn   func(ctx context.Context) json.RawMessage
	resp chan json.RawMessage
}

// Service is the vault service.
type Service struct {
	store        *vaultStore
	chain        ChainClient
	openApproval ApprovalOpener

	session *session
	ops     chan *operation
	events  chan *wire.Envelope

	refreshing atomic.Bool
}

// New creates a vault service over an open store. Call Initialize once
// before Run.
func New(kv *storage.Store, chainClient ChainClient, opener ApprovalOpener) *Service {
	if opener == nil {
		opener = func(*PendingApproval) {}
	}
	return &Service{
		store:        &vaultStore{kv: kv},
		chain:        chainClient,
		openApproval: opener,
		session:      newSession(),
		ops:          make(chan *operation, 64),
		events:       make(chan *wire.Envelope, 64),
	}
}

// Events returns the stream of terminal event envelopes (connection and
// transaction outcomes) for delivery back to pages.
func (s *Service) Events() <-chan *wire.Envelope {
	return s.events
}

// Run consumes the operation queue until the context is canceled. On
// shutdown the session is locked, clearing all key material.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Msg("Vault service started")

	refresh := time.NewTimer(firstRefreshDelay)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			s.session.lock()
			log.Info().Msg("Vault service stopped, session locked")
			return ctx.Err()

		case op := <-s.ops:
			op.resp <- s.execute(ctx, op)

		case <-refresh.C:
			s.startBalanceRefresh(ctx)
			refresh.Reset(refreshInterval)
		}
	}
}

// Call submits a privileged operation and waits for its result. The
// returned payload is always a well-formed result object, never nil.
func (s *Service) Call(ctx context.Context, req *wire.ServiceRequest) json.RawMessage {
	return s.submit(ctx, &operation{req: req, resp: make(chan json.RawMessage, 1)})
}

// enqueue submits internal work onto the queue so it serializes with
// regular operations.
func (s *Service) enqueue(ctx context.Context, fn func(ctx context.Context) json.RawMessage) json.RawMessage {
	return s.submit(ctx, &operation{fn: fn, resp: make(chan json.RawMessage, 1)})
}

func (s *Service) submit(ctx context.Context, op *operation) json.RawMessage {
	select {
	case s.ops <- op:
	case <-ctx.Done():
		return wire.FailurePayload(wire.Errf(wire.CodeTimeout, "vault service unavailable"))
	}

	select {
	case resp := <-op.resp:
		return resp
	case <-ctx.Done():
		return wire.FailurePayload(wire.Errf(wire.CodeTimeout, "operation timed out"))
	}
}

func (s *Service) execute(ctx context.Context, op *operation) json.RawMessage {
	if op.fn != nil {
		return op.fn(ctx)
	}
	return s.dispatch(ctx, op.req)
}

func (s *Service) dispatch(ctx context.Context, req *wire.ServiceRequest) json.RawMessage {
	log.Debug().Str("action", req.Action).Str("origin", req.Origin).Msg("Dispatching operation")

	switch req.Action {
	case wire.OpGetWalletState:
		return s.handleGetWalletState()
	case wire.OpUnlockWallet:
		return s.handleUnlockWallet(req)
	case wire.OpLockWallet:
		return s.handleLockWallet()
	case wire.OpSetupWallet:
		return s.handleSetupWallet(req)
	case wire.OpImportWallet:
		return s.handleImportWallet(req)
	case wire.OpSetActiveWallet:
		return s.handleSetActiveWallet(req)
	case wire.OpFetchBalance:
		return s.handleFetchBalance(ctx, req)
	case wire.OpSendTransaction:
		return s.handleSendTransaction(ctx, req)
	case wire.OpGetDAppPermissions:
		return s.handleGetDAppPermissions()
	case wire.OpRequestDAppConnection:
		return s.handleRequestConnection(req)
	case wire.OpRequestDAppTransaction:
		return s.handleRequestTransaction(req)
	case wire.OpRevokeDAppPermission:
		return s.handleRevokePermission(req)
	case wire.OpGetRPCProviders:
		return s.handleGetProviders()
	case wire.OpAddRPCProvider:
		return s.handleAddProvider(req)
	case wire.OpSetActiveProvider:
		return s.handleSetActiveProvider(req)
	case wire.OpRemoveRPCProvider:
		return s.handleRemoveProvider(req)
	default:
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "unknown action %q", req.Action))
	}
}

// publish emits an event envelope without ever blocking the queue. A
// full event buffer drops the oldest semantics in favor of dropping the
// new event with a log line; events are advisory, operations are not.
func (s *Service) publish(event *wire.Envelope) {
	select {
	case s.events <- event:
	default:
		log.Warn().Str("type", event.Type).Msg("Event buffer full, dropping event")
	}
}

func internalError(err error) json.RawMessage {
	log.Error().Err(err).Msg("Operation failed")
	return wire.FailurePayload(wire.AsWalletError(err))
}
