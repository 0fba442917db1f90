// Package relay is the middle trust zone of the wallet. A Relay is
// bound to one page origin and forwards a fixed set of page message
// types to the vault service, stamping the authenticated origin onto
// every request. It never interprets payloads and never answers for
// the vault, with two deliberate exceptions it resolves locally:
// disconnect and message signing.
package relay

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/wire"
)

// VaultCaller is the privileged surface the relay forwards into.
type VaultCaller interface {
	Call(ctx context.Context, req *wire.ServiceRequest) json.RawMessage
}

// Relay forwards page envelopes for a single origin. Responses come
// back on the HandleMessage call itself, so request correlation never
// leaves the page bridge.
type Relay struct {
	vault  VaultCaller
	origin string
}

// New binds a relay to its page origin. The origin comes from the
// embedding context (the tab), never from page-supplied data.
func New(vault VaultCaller, origin string) *Relay {
	return &Relay{
		vault:  vault,
		origin: origin,
	}
}

// Origin returns the origin this relay is bound to.
func (r *Relay) Origin() string {
	return r.origin
}

// HandleMessage processes one envelope from the page. Unknown types
// and envelopes without a request ID are dropped, returning nil: the
// relay forwards a fixed allowlist and nothing else.
func (r *Relay) HandleMessage(ctx context.Context, env *wire.Envelope) *wire.Envelope {
	if env == nil || env.RequestID == "" {
		return nil
	}

	var action string
	switch env.Type {
	case wire.TypeGetState:
		action = wire.OpGetWalletState
	case wire.TypeRequestConnection:
		action = wire.OpRequestDAppConnection
	case wire.TypeRequestTransaction:
		action = wire.OpRequestDAppTransaction
	case wire.TypeDisconnect:
		// Disconnect is page-local state; acknowledge so the bridge
		// can clear it.
		return wire.NewResponse(env.RequestID, wire.Marshal(wire.OK()))
	case wire.TypeSignMessage:
		return wire.NewResponse(env.RequestID, wire.FailurePayload(
			wire.Errf(wire.CodeUnknownOperation, "message signing is not yet supported")))
	default:
		log.Debug().Str("type", env.Type).Msg("Dropping unknown page message")
		return nil
	}

	data := r.vault.Call(ctx, &wire.ServiceRequest{
		Action:    action,
		RequestID: env.RequestID,
		Origin:    r.origin,
		Payload:   env.Payload,
	})
	return wire.NewResponse(env.RequestID, data)
}

// DeliverEvent filters a vault event for this relay's page. Events
// carry the origin they concern; only the matching page sees them, and
// the origin field itself is not the page's business.
func (r *Relay) DeliverEvent(env *wire.Envelope) *wire.Envelope {
	var data struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil
	}
	if data.Origin != r.origin {
		return nil
	}
	return env
}
