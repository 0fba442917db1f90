// Package wire defines the message envelopes and error taxonomy shared
// by the three trust zones of the wallet: the page bridge (hostile page
// context), the relay (per-tab forwarder) and the vault service
// (privileged process). The string constants are the extension's public
// wire format and must not change between releases.
package wire

import "encoding/json"

// Page-level message types. Requests flow page bridge → relay, the
// response and event types flow back.
const (
	TypeGetState           = "OCTRA_WALLET_GET_STATE"
	TypeRequestConnection  = "OCTRA_WALLET_REQUEST_CONNECTION"
	TypeRequestTransaction = "OCTRA_WALLET_REQUEST_TRANSACTION"
	TypeDisconnect         = "OCTRA_WALLET_DISCONNECT"
	TypeSignMessage        = "OCTRA_WALLET_SIGN_MESSAGE"

	TypeResponse = "OCTRA_WALLET_RESPONSE"

	TypeConnectionSuccess  = "OCTRA_WALLET_CONNECTION_SUCCESS"
	TypeConnectionFailed   = "OCTRA_WALLET_CONNECTION_FAILED"
	TypeTransactionSuccess = "OCTRA_WALLET_TRANSACTION_SUCCESS"
	TypeTransactionFailed  = "OCTRA_WALLET_TRANSACTION_FAILED"
)

// Privileged operation names, relay → vault service.
const (
	OpGetWalletState         = "getWalletState"
	OpUnlockWallet           = "unlockWallet"
	OpLockWallet             = "lockWallet"
	OpFetchBalance           = "fetchBalance"
	OpSendTransaction        = "sendTransaction"
	OpGetDAppPermissions     = "getDAppPermissions"
	OpRequestDAppConnection  = "requestDAppConnection"
	OpRequestDAppTransaction = "requestDAppTransaction"
	OpRevokeDAppPermission   = "revokeDAppPermission"
)

// Wallet management operations, used by the wallet's own UI surfaces
// rather than by page code.
const (
	OpSetupWallet       = "setupWallet"
	OpImportWallet      = "importWallet"
	OpSetActiveWallet   = "setActiveWallet"
	OpGetRPCProviders   = "getRpcProviders"
	OpAddRPCProvider    = "addRpcProvider"
	OpSetActiveProvider = "setActiveRpcProvider"
	OpRemoveRPCProvider = "removeRpcProvider"
)

// Envelope is the page-level message. Outbound requests carry Payload;
// responses and events carry Data. The relay forwards envelopes without
// interpreting either field.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewResponse builds a response envelope for a relayed request.
func NewResponse(requestID string, data json.RawMessage) *Envelope {
	return &Envelope{
		Type:      TypeResponse,
		RequestID: requestID,
		Data:      data,
	}
}

// NewEvent builds a terminal event envelope (connection/transaction
// success or failure). Events are not correlated to a request ID: the
// original request has long since resolved as pending.
func NewEvent(eventType string, data json.RawMessage) *Envelope {
	return &Envelope{
		Type: eventType,
		Data: data,
	}
}

// ServiceRequest is a privileged operation submitted to the vault
// service. Origin is the scheme://host[:port] tuple of the requesting
// page, stamped by the relay, never by the page itself.
type ServiceRequest struct {
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Result is the common success/failure prefix of every operation
// result. Operation-specific result structs embed it so the wire shape
// stays flat: {"success":true, "balance":..., ...}.
type Result struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

// OK is the bare success result.
func OK() Result {
	return Result{Success: true}
}

// Failed builds a failure result from a wallet error.
func Failed(err *WalletError) Result {
	return Result{Success: false, Error: err.Message, Code: err.Code}
}

// Marshal serializes an operation result, falling back to a plain
// failure payload if the value itself cannot be marshaled.
func Marshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"success":false,"error":"internal error","code":"UNKNOWN_OPERATION"}`)
	}
	return data
}

// WalletInfo is the public view of a wallet, safe to hand to page code.
// It is structurally incapable of carrying key material: there is no
// private key field to leak.
type WalletInfo struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey,omitempty"`
	Label     string `json:"label,omitempty"`
}

// ConnectionRequestPayload is the payload of TypeRequestConnection and
// OpRequestDAppConnection.
type ConnectionRequestPayload struct {
	AppName     string   `json:"appName,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// TransactionRequestPayload is the payload of TypeRequestTransaction
// and OpRequestDAppTransaction. Amount stays a string until the vault
// validates it.
type TransactionRequestPayload struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Message string `json:"message,omitempty"`
	AppName string `json:"appName,omitempty"`
}
