package vault

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/wire"
)

// Grant is a standing permission for one origin. Grants persist across
// lock cycles and restarts; only an explicit revoke or disconnect
// removes one.
type Grant struct {
	Origin      string   `json:"origin"`
	AppName     string   `json:"appName,omitempty"`
	Address     string   `json:"address"`
	Permissions []string `json:"permissions,omitempty"`
	ConnectedAt int64    `json:"connectedAt"`
}

// Approval kinds.
const (
	ApprovalConnection  = "connection"
	ApprovalTransaction = "transaction"
)

// PendingApproval is a dApp request parked for an out-of-band user
// decision. It is persisted so an approval survives a service restart,
// and consumed exactly once when the decision arrives.
type PendingApproval struct {
	RequestID   string                          `json:"requestId"`
	Kind        string                          `json:"kind"`
	Origin      string                          `json:"origin"`
	AppName     string                          `json:"appName,omitempty"`
	Permissions []string                        `json:"permissions,omitempty"`
	Transaction *wire.TransactionRequestPayload `json:"transaction,omitempty"`
	CreatedAt   int64                           `json:"createdAt"`
}

// PendingResult resolves a dApp request whose real outcome arrives
// later as an event.
type PendingResult struct {
	wire.Result
	Pending bool `json:"pending"`
}

// ConnectionEventData rides on connection success/failure events.
type ConnectionEventData struct {
	Origin  string `json:"origin"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TransactionEventData rides on transaction success/failure events.
type TransactionEventData struct {
	Origin string `json:"origin"`
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PermissionsResult is the answer to getDAppPermissions.
type PermissionsResult struct {
	wire.Result
	DApps []Grant `json:"dapps"`
}

// dappGate is the entry check for every page-originated request: the
// session must be Active and dApp integration must be enabled in the
// settings. Failing either refuses the request immediately, before any
// approval is parked.
func (s *Service) dappGate() error {
	if s.session.state != StateActive {
		return wire.Errf(wire.CodeWalletUnavailable, "wallet is locked")
	}
	settings, err := s.store.Settings()
	if err != nil {
		return err
	}
	if !settings.DAppIntegration {
		return wire.Errf(wire.CodeWalletUnavailable, "dApp integration is disabled")
	}
	return nil
}

// handleRequestConnection resolves a page connection request. The
// session must be Active: a locked wallet refuses immediately rather
// than parking an approval that can only fail later. An origin that
// already holds a grant short-circuits synchronously; everything else
// parks as a pending approval.
func (s *Service) handleRequestConnection(req *wire.ServiceRequest) json.RawMessage {
	if req.Origin == "" {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "connection request without origin"))
	}
	if err := s.dappGate(); err != nil {
		return wire.FailurePayload(wire.AsWalletError(err))
	}

	var payload wire.ConnectionRequestPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed connection request"))
		}
	}

	grants, err := s.store.Grants()
	if err != nil {
		return internalError(err)
	}

	if grant, ok := grants[req.Origin]; ok {
		if active := s.session.active(); active != nil {
			log.Info().Str("origin", req.Origin).Msg("Connection short-circuited, origin already granted")
			return wire.Marshal(struct {
				wire.Result
				Address string `json:"address"`
			}{wire.OK(), grant.Address})
		}
	}

	approval := &PendingApproval{
		RequestID:   req.RequestID,
		Kind:        ApprovalConnection,
		Origin:      req.Origin,
		AppName:     payload.AppName,
		Permissions: payload.Permissions,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.parkApproval(approval); err != nil {
		return internalError(err)
	}

	return wire.Marshal(PendingResult{Result: wire.OK(), Pending: true})
}

// handleRequestTransaction parks a page transaction request for
// approval. The session must be Active and the origin must already
// hold a grant; the intent is shape-checked now so a malformed request
// never reaches the approval surface.
func (s *Service) handleRequestTransaction(req *wire.ServiceRequest) json.RawMessage {
	if req.Origin == "" {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "transaction request without origin"))
	}
	if err := s.dappGate(); err != nil {
		return wire.FailurePayload(wire.AsWalletError(err))
	}

	grants, err := s.store.Grants()
	if err != nil {
		return internalError(err)
	}
	if _, ok := grants[req.Origin]; !ok {
		return wire.FailurePayload(wire.Errf(wire.CodeWalletUnavailable, "origin is not connected"))
	}

	var payload wire.TransactionRequestPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidTransaction, "malformed transaction request"))
	}
	if err := validateIntent(payload.To, payload.Amount, payload.Message); err != nil {
		return wire.FailurePayload(wire.AsWalletError(err))
	}

	approval := &PendingApproval{
		RequestID:   req.RequestID,
		Kind:        ApprovalTransaction,
		Origin:      req.Origin,
		AppName:     payload.AppName,
		Transaction: &payload,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.parkApproval(approval); err != nil {
		return internalError(err)
	}

	return wire.Marshal(PendingResult{Result: wire.OK(), Pending: true})
}

func (s *Service) parkApproval(approval *PendingApproval) error {
	pending, err := s.store.PendingApprovals()
	if err != nil {
		return err
	}
	pending[approval.RequestID] = approval
	if err := s.store.SetPendingApprovals(pending); err != nil {
		return err
	}

	log.Info().
		Str("request_id", approval.RequestID).
		Str("kind", approval.Kind).
		Str("origin", approval.Origin).
		Msg("Approval parked")

	s.openApproval(approval)
	return nil
}

// consumeApproval removes and returns a pending approval. The removal
// happens before any side effect, so a replayed decision finds nothing.
func (s *Service) consumeApproval(requestID, kind string) (*PendingApproval, error) {
	pending, err := s.store.PendingApprovals()
	if err != nil {
		return nil, err
	}
	approval, ok := pending[requestID]
	if !ok || approval.Kind != kind {
		return nil, nil
	}
	delete(pending, requestID)
	if err := s.store.SetPendingApprovals(pending); err != nil {
		return nil, err
	}
	return approval, nil
}

// CompleteConnectionApproval delivers the user's connection decision.
// It is safe to call more than once per request ID: only the first
// delivery has any effect.
func (s *Service) CompleteConnectionApproval(ctx context.Context, requestID string, approved bool) {
	s.enqueue(ctx, func(ctx context.Context) json.RawMessage {
		approval, err := s.consumeApproval(requestID, ApprovalConnection)
		if err != nil {
			return internalError(err)
		}
		if approval == nil {
			log.Warn().Str("request_id", requestID).Msg("Connection decision for unknown or consumed approval")
			return wire.Marshal(wire.OK())
		}

		if !approved {
			s.publish(wire.NewEvent(wire.TypeConnectionFailed, wire.Marshal(ConnectionEventData{
				Origin: approval.Origin,
				Error:  "user rejected the connection",
			})))
			return wire.Marshal(wire.OK())
		}

		active := s.session.active()
		if active == nil {
			s.publish(wire.NewEvent(wire.TypeConnectionFailed, wire.Marshal(ConnectionEventData{
				Origin: approval.Origin,
				Error:  "wallet is locked",
			})))
			return wire.Marshal(wire.OK())
		}

		grants, err := s.store.Grants()
		if err != nil {
			return internalError(err)
		}
		grants[approval.Origin] = &Grant{
			Origin:      approval.Origin,
			AppName:     approval.AppName,
			Address:     active.Address,
			Permissions: approval.Permissions,
			ConnectedAt: time.Now().UnixMilli(),
		}
		if err := s.store.SetGrants(grants); err != nil {
			return internalError(err)
		}

		log.Info().Str("origin", approval.Origin).Str("address", active.Address).Msg("Connection granted")
		s.publish(wire.NewEvent(wire.TypeConnectionSuccess, wire.Marshal(ConnectionEventData{
			Origin:  approval.Origin,
			Address: active.Address,
		})))
		return wire.Marshal(wire.OK())
	})
}

// CompleteTransactionApproval delivers the user's transaction decision.
// On approve the transaction is validated, signed and submitted; the
// outcome goes back to the page as an event. Consumed exactly once.
func (s *Service) CompleteTransactionApproval(ctx context.Context, requestID string, approved bool) {
	s.enqueue(ctx, func(ctx context.Context) json.RawMessage {
		approval, err := s.consumeApproval(requestID, ApprovalTransaction)
		if err != nil {
			return internalError(err)
		}
		if approval == nil {
			log.Warn().Str("request_id", requestID).Msg("Transaction decision for unknown or consumed approval")
			return wire.Marshal(wire.OK())
		}

		if !approved {
			s.publish(wire.NewEvent(wire.TypeTransactionFailed, wire.Marshal(TransactionEventData{
				Origin: approval.Origin,
				Error:  "user rejected the transaction",
			})))
			return wire.Marshal(wire.OK())
		}

		txHash, err := s.sendTransaction(ctx, approval.Transaction.To, approval.Transaction.Amount, approval.Transaction.Message)
		if err != nil {
			s.publish(wire.NewEvent(wire.TypeTransactionFailed, wire.Marshal(TransactionEventData{
				Origin: approval.Origin,
				Error:  wire.AsWalletError(err).Message,
			})))
			return wire.Marshal(wire.OK())
		}

		s.publish(wire.NewEvent(wire.TypeTransactionSuccess, wire.Marshal(TransactionEventData{
			Origin: approval.Origin,
			TxHash: txHash,
		})))
		return wire.Marshal(wire.OK())
	})
}

func (s *Service) handleGetDAppPermissions() json.RawMessage {
	grants, err := s.store.Grants()
	if err != nil {
		return internalError(err)
	}

	dapps := make([]Grant, 0, len(grants))
	for _, g := range grants {
		dapps = append(dapps, *g)
	}
	return wire.Marshal(PermissionsResult{Result: wire.OK(), DApps: dapps})
}

type revokePayload struct {
	Origin string `json:"origin"`
}

// handleRevokePermission removes a grant. Revoking an origin that holds
// no grant is a no-op success.
func (s *Service) handleRevokePermission(req *wire.ServiceRequest) json.RawMessage {
	var payload revokePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.Origin == "" {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed revoke request"))
	}

	grants, err := s.store.Grants()
	if err != nil {
		return internalError(err)
	}
	if _, ok := grants[payload.Origin]; ok {
		delete(grants, payload.Origin)
		if err := s.store.SetGrants(grants); err != nil {
			return internalError(err)
		}
		log.Info().Str("origin", payload.Origin).Msg("Permission revoked")
	}
	return wire.Marshal(wire.OK())
}
