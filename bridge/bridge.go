// Package bridge is the page-facing surface of the wallet: the API a
// dApp calls. It runs in the page's trust zone, so it holds no secrets
// and trusts nothing it receives; all it does is correlate requests
// with responses from the relay, enforce the response timeout, and
// track the page-local connection state.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/wire"
)

// DefaultTimeout is the response budget for one relayed request.
const DefaultTimeout = 30 * time.Second

// Transport posts an envelope toward the relay. Responses and events
// come back asynchronously through Bridge.Deliver.
type Transport interface {
	Post(env *wire.Envelope)
}

// EventHandler receives the data payload of a wallet event.
type EventHandler func(data json.RawMessage)

// Bridge is the wallet object a page script talks to.
type Bridge struct {
	transport Transport
	timeout   time.Duration

	mu               sync.Mutex
	counter          uint64
	pending          map[string]chan json.RawMessage
	connWaiters      []chan connectionOutcome
	txWaiters        []chan transactionOutcome
	handlers         map[string][]EventHandler
	connectedAddress string
}

type connectionOutcome struct {
	address string
	err     error
}

type transactionOutcome struct {
	txHash string
	err    error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout overrides the per-request response budget.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// New creates a bridge over a transport.
func New(transport Transport, opts ...Option) *Bridge {
	b := &Bridge{
		transport: transport,
		timeout:   DefaultTimeout,
		pending:   make(map[string]chan json.RawMessage),
		handlers:  make(map[string][]EventHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsInstalled reports wallet presence. Page scripts probe this before
// anything else.
func (b *Bridge) IsInstalled() bool {
	return true
}

// On registers a handler for a wallet event type.
func (b *Bridge) On(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// ConnectedAddress returns the address this page is connected as, or
// empty when not connected.
func (b *Bridge) ConnectedAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectedAddress
}

// StateInfo is the page view of the wallet state.
type StateInfo struct {
	State      string `json:"state"`
	HasWallet  bool   `json:"hasWallet"`
	IsUnlocked bool   `json:"isUnlocked"`
}

// GetState queries the wallet state.
func (b *Bridge) GetState(ctx context.Context) (*StateInfo, error) {
	data, err := b.request(ctx, wire.TypeGetState, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		wire.Result
		StateInfo
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("malformed state response: %w", err)
	}
	if !result.Success {
		return nil, wire.Errf(result.Code, "%s", result.Error)
	}
	return &result.StateInfo, nil
}

// IsUnlocked reports whether the wallet session is active.
func (b *Bridge) IsUnlocked(ctx context.Context) (bool, error) {
	state, err := b.GetState(ctx)
	if err != nil {
		return false, err
	}
	return state.IsUnlocked, nil
}

// Connect requests a connection to the wallet. A pre-approved origin
// resolves immediately; otherwise the call waits for the user's
// decision, bounded only by ctx.
func (b *Bridge) Connect(ctx context.Context, appName string) (string, error) {
	payload := wire.Marshal(wire.ConnectionRequestPayload{AppName: appName})

	waiter := make(chan connectionOutcome, 1)
	b.mu.Lock()
	b.connWaiters = append(b.connWaiters, waiter)
	b.mu.Unlock()
	defer b.removeConnWaiter(waiter)

	data, err := b.request(ctx, wire.TypeRequestConnection, payload)
	if err != nil {
		return "", err
	}

	var result struct {
		wire.Result
		Pending bool   `json:"pending"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("malformed connection response: %w", err)
	}
	if !result.Success {
		return "", wire.Errf(result.Code, "%s", result.Error)
	}

	if !result.Pending {
		b.setConnected(result.Address)
		return result.Address, nil
	}

	select {
	case outcome := <-waiter:
		if outcome.err != nil {
			return "", outcome.err
		}
		return outcome.address, nil
	case <-ctx.Done():
		return "", wire.Errf(wire.CodeTimeout, "connection approval not received")
	}
}

// Disconnect clears the page-local connection.
func (b *Bridge) Disconnect(ctx context.Context) error {
	if _, err := b.request(ctx, wire.TypeDisconnect, nil); err != nil {
		return err
	}
	b.setConnected("")
	return nil
}

// SendTransaction requests a transfer. The wallet asks the user; the
// call resolves with the transaction hash once submitted.
func (b *Bridge) SendTransaction(ctx context.Context, to, amount, message string) (string, error) {
	payload := wire.Marshal(wire.TransactionRequestPayload{To: to, Amount: amount, Message: message})

	waiter := make(chan transactionOutcome, 1)
	b.mu.Lock()
	b.txWaiters = append(b.txWaiters, waiter)
	b.mu.Unlock()
	defer b.removeTxWaiter(waiter)

	data, err := b.request(ctx, wire.TypeRequestTransaction, payload)
	if err != nil {
		return "", err
	}

	var result struct {
		wire.Result
		Pending bool `json:"pending"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("malformed transaction response: %w", err)
	}
	if !result.Success {
		return "", wire.Errf(result.Code, "%s", result.Error)
	}
	if !result.Pending {
		return "", wire.Errf(wire.CodeUnknownOperation, "unexpected synchronous transaction result")
	}

	select {
	case outcome := <-waiter:
		if outcome.err != nil {
			return "", outcome.err
		}
		return outcome.txHash, nil
	case <-ctx.Done():
		return "", wire.Errf(wire.CodeTimeout, "transaction approval not received")
	}
}

// SignMessage requests a message signature.
func (b *Bridge) SignMessage(ctx context.Context, message string) (string, error) {
	payload := wire.Marshal(map[string]string{"message": message})
	data, err := b.request(ctx, wire.TypeSignMessage, payload)
	if err != nil {
		return "", err
	}

	var result struct {
		wire.Result
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("malformed signing response: %w", err)
	}
	if !result.Success {
		return "", wire.Errf(result.Code, "%s", result.Error)
	}
	return result.Signature, nil
}

// Deliver feeds a response or event envelope into the bridge. Responses
// for unknown request IDs are dropped: a request that already timed out
// stays rejected.
func (b *Bridge) Deliver(env *wire.Envelope) {
	if env == nil {
		return
	}

	switch env.Type {
	case wire.TypeResponse:
		b.mu.Lock()
		ch, ok := b.pending[env.RequestID]
		if ok {
			delete(b.pending, env.RequestID)
		}
		b.mu.Unlock()
		if !ok {
			log.Debug().Str("request_id", env.RequestID).Msg("Dropping response for unknown request")
			return
		}
		ch <- env.Data

	case wire.TypeConnectionSuccess:
		var data struct {
			Address string `json:"address"`
		}
		json.Unmarshal(env.Data, &data)
		b.setConnected(data.Address)
		b.resolveConnWaiters(connectionOutcome{address: data.Address})
		b.fire(env)

	case wire.TypeConnectionFailed:
		b.resolveConnWaiters(connectionOutcome{err: eventError(env.Data, "connection failed")})
		b.fire(env)

	case wire.TypeTransactionSuccess:
		var data struct {
			TxHash string `json:"txHash"`
		}
		json.Unmarshal(env.Data, &data)
		b.resolveTxWaiters(transactionOutcome{txHash: data.TxHash})
		b.fire(env)

	case wire.TypeTransactionFailed:
		b.resolveTxWaiters(transactionOutcome{err: eventError(env.Data, "transaction failed")})
		b.fire(env)
	}
}

// request sends one envelope and waits for its response, up to the
// timeout. The pending entry is removed on every exit path, so a late
// response finds nothing to resolve.
func (b *Bridge) request(ctx context.Context, msgType string, payload json.RawMessage) (json.RawMessage, error) {
	b.mu.Lock()
	b.counter++
	requestID := fmt.Sprintf("req_%d_%d", b.counter, time.Now().UnixMilli())
	ch := make(chan json.RawMessage, 1)
	b.pending[requestID] = ch
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}

	b.transport.Post(&wire.Envelope{
		Type:      msgType,
		RequestID: requestID,
		Payload:   payload,
	})

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case data := <-ch:
		return data, nil
	case <-timer.C:
		cleanup()
		return nil, wire.Errf(wire.CodeTimeout, "no response within %s", b.timeout)
	case <-ctx.Done():
		cleanup()
		return nil, wire.Errf(wire.CodeTimeout, "request canceled")
	}
}

func (b *Bridge) setConnected(address string) {
	b.mu.Lock()
	b.connectedAddress = address
	b.mu.Unlock()
}

func (b *Bridge) resolveConnWaiters(outcome connectionOutcome) {
	b.mu.Lock()
	waiters := b.connWaiters
	b.connWaiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		w <- outcome
	}
}

func (b *Bridge) resolveTxWaiters(outcome transactionOutcome) {
	b.mu.Lock()
	waiters := b.txWaiters
	b.txWaiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		w <- outcome
	}
}

func (b *Bridge) removeConnWaiter(target chan connectionOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.connWaiters {
		if w == target {
			b.connWaiters = append(b.connWaiters[:i], b.connWaiters[i+1:]...)
			return
		}
	}
}

func (b *Bridge) removeTxWaiter(target chan transactionOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.txWaiters {
		if w == target {
			b.txWaiters = append(b.txWaiters[:i], b.txWaiters[i+1:]...)
			return
		}
	}
}

func (b *Bridge) fire(env *wire.Envelope) {
	b.mu.Lock()
	handlers := append([]EventHandler(nil), b.handlers[env.Type]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(env.Data)
	}
}

func eventError(data json.RawMessage, fallback string) error {
	var payload struct {
		Error string `json:"error"`
	}
	json.Unmarshal(data, &payload)
	if payload.Error == "" {
		payload.Error = fallback
	}
	return wire.Errf(wire.CodeWalletUnavailable, "%s", payload.Error)
}
