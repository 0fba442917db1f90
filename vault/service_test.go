package vault

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/vault/storage"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// fakeChain is a scripted ChainClient.
type fakeChain struct {
	mu sync.Mutex

	balance   float64
	nonce     uint64
	encrypted *chain.EncryptedBalance
	fetchErr  error

	submitted []*chain.Transaction
	submitErr error
	txHash    string

	fetchCalls int
	encCalls   int
}

func (f *fakeChain) FetchBalance(ctx context.Context, provider chain.Provider, address string) (float64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return 0, 0, f.fetchErr
	}
	return f.balance, f.nonce, nil
}

func (f *fakeChain) FetchEncryptedBalance(ctx context.Context, provider chain.Provider, address, privateKey string) (*chain.EncryptedBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encCalls++
	if f.encrypted == nil {
		return nil, errors.New("no encrypted balance")
	}
	return f.encrypted, nil
}

func (f *fakeChain) SubmitTransaction(ctx context.Context, provider chain.Provider, tx *chain.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, tx)
	if f.txHash == "" {
		return "txhash", nil
	}
	return f.txHash, nil
}

type testHarness struct {
	service   *Service
	chain     *fakeChain
	approvals chan *PendingApproval
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	kv, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	fc := &fakeChain{balance: 100, nonce: 1}
	approvals := make(chan *PendingApproval, 8)
	svc := New(kv, fc, func(a *PendingApproval) { approvals <- a })

	if err := svc.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)

	return &testHarness{service: svc, chain: fc, approvals: approvals}
}

func (h *testHarness) call(t *testing.T, action string, payload interface{}, out interface{}) {
	t.Helper()
	h.callFrom(t, action, "", "", payload, out)
}

func (h *testHarness) callFrom(t *testing.T, action, origin, requestID string, payload interface{}, out interface{}) {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal payload: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := h.service.Call(ctx, &wire.ServiceRequest{
		Action:    action,
		Origin:    origin,
		RequestID: requestID,
		Payload:   raw,
	})
	if err := json.Unmarshal(resp, out); err != nil {
		t.Fatalf("Failed to unmarshal response %s: %v", resp, err)
	}
}

func (h *testHarness) setup(t *testing.T, password string) UnlockResult {
	t.Helper()
	var result UnlockResult
	h.call(t, wire.OpSetupWallet, setupPayload{Password: password, Label: "main"}, &result)
	if !result.Success {
		t.Fatalf("Setup failed: %s", result.Error)
	}
	return result
}

func (h *testHarness) waitEvent(t *testing.T) *wire.Envelope {
	t.Helper()
	select {
	case ev := <-h.service.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for event")
		return nil
	}
}

func (h *testHarness) connect(t *testing.T, origin string) string {
	t.Helper()

	var pending PendingResult
	h.callFrom(t, wire.OpRequestDAppConnection, origin, "req_1_1", wire.ConnectionRequestPayload{AppName: "App"}, &pending)
	if !pending.Pending {
		t.Fatalf("Expected pending connection, got %+v", pending)
	}
	<-h.approvals

	h.service.CompleteConnectionApproval(context.Background(), "req_1_1", true)
	ev := h.waitEvent(t)
	if ev.Type != wire.TypeConnectionSuccess {
		t.Fatalf("Expected connection success event, got %s", ev.Type)
	}
	var data ConnectionEventData
	json.Unmarshal(ev.Data, &data)
	return data.Address
}

func TestInitialState_NoWallet(t *testing.T) {
	h := newTestHarness(t)

	var state WalletStateResult
	h.call(t, wire.OpGetWalletState, nil, &state)

	if !state.Success {
		t.Fatalf("getWalletState failed: %s", state.Error)
	}
	if state.State != string(StateNoWallet) || state.HasWallet || state.IsUnlocked {
		t.Errorf("Expected pristine no_wallet state, got %+v", state)
	}
}

func TestSetupWallet(t *testing.T) {
	h := newTestHarness(t)

	result := h.setup(t, "pw123")
	if len(result.Wallets) != 1 {
		t.Fatalf("Expected one wallet, got %d", len(result.Wallets))
	}
	if !strings.HasPrefix(result.Wallets[0].Address, "oct") {
		t.Errorf("Expected oct address, got %q", result.Wallets[0].Address)
	}

	var state WalletStateResult
	h.call(t, wire.OpGetWalletState, nil, &state)
	if state.State != string(StateActive) || !state.IsUnlocked {
		t.Errorf("Expected active state after setup, got %+v", state)
	}
	if state.ActiveWallet == nil || state.ActiveWallet.Address != result.Wallets[0].Address {
		t.Error("Expected active wallet to match created wallet")
	}

	// Second setup must be refused
	var again UnlockResult
	h.call(t, wire.OpSetupWallet, setupPayload{Password: "other"}, &again)
	if again.Success {
		t.Error("Expected second setup to fail")
	}
	if again.Code != wire.CodeAuthError {
		t.Errorf("Expected AUTH_ERROR, got %s", again.Code)
	}
}

func TestUnlock_NoCredential(t *testing.T) {
	h := newTestHarness(t)

	var result UnlockResult
	h.call(t, wire.OpUnlockWallet, unlockPayload{Password: "any"}, &result)
	if result.Success {
		t.Fatal("Expected unlock without credential to fail")
	}
	if result.Code != wire.CodeAuthError {
		t.Errorf("Expected AUTH_ERROR, got %s", result.Code)
	}
}

func TestLockUnlockCycle(t *testing.T) {
	h := newTestHarness(t)
	created := h.setup(t, "pw123")

	var lock wire.Result
	h.call(t, wire.OpLockWallet, nil, &lock)
	if !lock.Success {
		t.Fatalf("Lock failed: %s", lock.Error)
	}

	// Lock is idempotent
	h.call(t, wire.OpLockWallet, nil, &lock)
	if !lock.Success {
		t.Error("Expected repeated lock to succeed")
	}

	var state WalletStateResult
	h.call(t, wire.OpGetWalletState, nil, &state)
	if state.State != string(StateLocked) || state.IsUnlocked {
		t.Errorf("Expected locked state, got %+v", state)
	}
	if len(state.Wallets) != 0 || state.ActiveWallet != nil {
		t.Error("Locked state must not expose wallets")
	}

	// Wrong password
	var wrong UnlockResult
	h.call(t, wire.OpUnlockWallet, unlockPayload{Password: "nope"}, &wrong)
	if wrong.Success {
		t.Fatal("Expected wrong password to fail")
	}
	if wrong.Code != wire.CodeInvalidCredential {
		t.Errorf("Expected INVALID_CREDENTIAL, got %s", wrong.Code)
	}
	h.call(t, wire.OpGetWalletState, nil, &state)
	if state.State != string(StateLocked) {
		t.Error("Failed unlock must leave the session locked")
	}

	// Correct password restores the same wallet
	var unlocked UnlockResult
	h.call(t, wire.OpUnlockWallet, unlockPayload{Password: "pw123"}, &unlocked)
	if !unlocked.Success {
		t.Fatalf("Unlock failed: %s", unlocked.Error)
	}
	if len(unlocked.Wallets) != 1 || unlocked.Wallets[0].Address != created.Wallets[0].Address {
		t.Error("Expected unlock to restore the created wallet")
	}
}

func TestUnlock_CorruptBlobIsPerWallet(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	var imported UnlockResult
	second, _ := chain.Generate("second")
	h.call(t, wire.OpImportWallet, importPayload{Password: "pw123", PrivateKey: second.PrivateKey, Label: "second"}, &imported)
	if !imported.Success || len(imported.Wallets) != 2 {
		t.Fatalf("Import failed: %+v", imported)
	}

	// Corrupt the first stored blob in place
	stored, err := h.service.store.EncryptedWallets()
	if err != nil || len(stored) != 2 {
		t.Fatalf("Expected two stored blobs, got %d (%v)", len(stored), err)
	}
	stored[0].Blob = "AAAA" + stored[0].Blob[4:]
	if err := h.service.store.SetEncryptedWallets(stored); err != nil {
		t.Fatalf("Failed to corrupt blob: %v", err)
	}

	var lock wire.Result
	h.call(t, wire.OpLockWallet, nil, &lock)

	var unlocked UnlockResult
	h.call(t, wire.OpUnlockWallet, unlockPayload{Password: "pw123"}, &unlocked)
	if !unlocked.Success {
		t.Fatalf("Unlock with one corrupt blob must still succeed: %s", unlocked.Error)
	}
	if len(unlocked.Wallets) != 1 {
		t.Errorf("Expected one surviving wallet, got %d", len(unlocked.Wallets))
	}
	if len(unlocked.Failed) != 1 || unlocked.Failed[0].ID != stored[0].ID {
		t.Errorf("Expected per-wallet failure for %s, got %+v", stored[0].ID, unlocked.Failed)
	}
}

func TestUnlock_EmptyWalletSet(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	if err := h.service.store.SetEncryptedWallets(nil); err != nil {
		t.Fatal(err)
	}

	var lock wire.Result
	h.call(t, wire.OpLockWallet, nil, &lock)

	var unlocked UnlockResult
	h.call(t, wire.OpUnlockWallet, unlockPayload{Password: "pw123"}, &unlocked)
	if !unlocked.Success {
		t.Fatalf("Unlock of empty wallet set must succeed: %s", unlocked.Error)
	}
	if len(unlocked.Wallets) != 0 {
		t.Errorf("Expected no wallets, got %d", len(unlocked.Wallets))
	}

	var state WalletStateResult
	h.call(t, wire.OpGetWalletState, nil, &state)
	if state.State != string(StateActive) {
		t.Error("Empty unlock still reaches the active state")
	}
}

func TestSendTransaction(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.balance = 10
	h.chain.nonce = 4
	h.chain.txHash = "deadbeef"

	var result SendResult
	h.call(t, wire.OpSendTransaction, sendPayload{To: "oct1recipient", Amount: "2.5"}, &result)
	if !result.Success {
		t.Fatalf("Send failed: %s", result.Error)
	}
	if result.TxHash != "deadbeef" {
		t.Errorf("Expected tx hash deadbeef, got %q", result.TxHash)
	}

	if len(h.chain.submitted) != 1 {
		t.Fatalf("Expected one submitted tx, got %d", len(h.chain.submitted))
	}
	tx := h.chain.submitted[0]
	if tx.Nonce != 5 {
		t.Errorf("Expected fresh nonce 5, got %d", tx.Nonce)
	}
	if tx.Amount != "2500000" {
		t.Errorf("Expected 2.5 OCT in micro units, got %q", tx.Amount)
	}
}

func TestSendTransaction_InsufficientIncludesFee(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.balance = 500.0005

	var result SendResult
	h.call(t, wire.OpSendTransaction, sendPayload{To: "oct1recipient", Amount: "500"}, &result)
	if result.Success {
		t.Fatal("Expected insufficient balance failure")
	}
	if result.Code != wire.CodeInvalidTransaction {
		t.Errorf("Expected INVALID_TRANSACTION, got %s", result.Code)
	}
	if !strings.Contains(result.Error, "500.001") {
		t.Errorf("Expected total cost 500.001 in message, got %q", result.Error)
	}
	if len(h.chain.submitted) != 0 {
		t.Error("Nothing may be submitted on insufficient balance")
	}
}

func TestSendTransaction_RejectsBeforeNetwork(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.mu.Lock()
	h.chain.fetchCalls = 0
	h.chain.mu.Unlock()

	cases := []sendPayload{
		{To: "", Amount: "1"},
		{To: "nota-address", Amount: "1"},
		{To: "oct1recipient", Amount: "-5"},
		{To: "oct1recipient", Amount: "abc"},
		{To: "oct1recipient", Amount: "1", Message: strings.Repeat("x", maxMessageLen+1)},
	}
	for _, c := range cases {
		var result SendResult
		h.call(t, wire.OpSendTransaction, c, &result)
		if result.Success {
			t.Errorf("Expected rejection for %+v", c)
		}
		if result.Code != wire.CodeInvalidTransaction {
			t.Errorf("Expected INVALID_TRANSACTION for %+v, got %s", c, result.Code)
		}
	}

	h.chain.mu.Lock()
	calls := h.chain.fetchCalls
	h.chain.mu.Unlock()
	if calls != 0 {
		t.Errorf("Malformed intents must not reach the network, saw %d fetches", calls)
	}
}

func TestSendTransaction_Locked(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	var lock wire.Result
	h.call(t, wire.OpLockWallet, nil, &lock)

	var result SendResult
	h.call(t, wire.OpSendTransaction, sendPayload{To: "oct1recipient", Amount: "1"}, &result)
	if result.Success {
		t.Fatal("Expected send while locked to fail")
	}
	if result.Code != wire.CodeWalletUnavailable {
		t.Errorf("Expected WALLET_UNAVAILABLE, got %s", result.Code)
	}
}

func TestFetchBalance(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.balance = 42.5
	h.chain.nonce = 9
	h.chain.encrypted = &chain.EncryptedBalance{Public: 40, Encrypted: 2.5, Total: 42.5}

	var result BalanceResult
	h.call(t, wire.OpFetchBalance, nil, &result)
	if !result.Success {
		t.Fatalf("Fetch failed: %s", result.Error)
	}
	if result.Balance != 42.5 || result.Nonce != 9 {
		t.Errorf("Unexpected balance result: %+v", result)
	}
	if result.Encrypted == nil || result.Encrypted.Total != 42.5 {
		t.Error("Expected encrypted balance view")
	}

	cached, err := h.service.store.CachedBalance(result.Address)
	if err != nil || cached == nil {
		t.Fatalf("Expected cached balance, got %v (%v)", cached, err)
	}
	if cached.Balance != 42.5 {
		t.Errorf("Cache holds %v, want 42.5", cached.Balance)
	}
}

func TestFetchBalance_NetworkFailure(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.fetchErr = wire.Errf(wire.CodeNetworkError, "endpoint unreachable")

	var result BalanceResult
	h.call(t, wire.OpFetchBalance, nil, &result)
	if result.Success {
		t.Fatal("Expected network failure")
	}
	if result.Code != wire.CodeNetworkError {
		t.Errorf("Expected NETWORK_ERROR, got %s", result.Code)
	}
	if result.Balance != 0 || result.Nonce != 0 {
		t.Error("Failed fetch must report zeroed values, never stale ones")
	}
}

func TestConnectionApprovalFlow(t *testing.T) {
	h := newTestHarness(t)
	created := h.setup(t, "pw123")

	address := h.connect(t, "https://dapp.example")
	if address != created.Wallets[0].Address {
		t.Errorf("Granted address %q, want %q", address, created.Wallets[0].Address)
	}

	// Grant persisted
	var perms PermissionsResult
	h.call(t, wire.OpGetDAppPermissions, nil, &perms)
	if len(perms.DApps) != 1 || perms.DApps[0].Origin != "https://dapp.example" {
		t.Fatalf("Expected one grant for dapp.example, got %+v", perms.DApps)
	}

	// A granted origin short-circuits without a new approval
	var again struct {
		wire.Result
		Address string `json:"address"`
		Pending bool   `json:"pending"`
	}
	h.callFrom(t, wire.OpRequestDAppConnection, "https://dapp.example", "req_2_2", nil, &again)
	if !again.Success || again.Pending {
		t.Errorf("Expected synchronous success for granted origin, got %+v", again)
	}
	if again.Address != address {
		t.Errorf("Expected granted address, got %q", again.Address)
	}
	select {
	case a := <-h.approvals:
		t.Errorf("Granted origin must not open an approval, got %+v", a)
	default:
	}

	// A replayed decision is consumed-once: no second event
	h.service.CompleteConnectionApproval(context.Background(), "req_1_1", true)
	select {
	case ev := <-h.service.Events():
		t.Errorf("Replayed decision produced event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectionRejected(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	var pending PendingResult
	h.callFrom(t, wire.OpRequestDAppConnection, "https://dapp.example", "req_9_9", nil, &pending)
	if !pending.Pending {
		t.Fatalf("Expected pending connection, got %+v", pending)
	}
	<-h.approvals

	h.service.CompleteConnectionApproval(context.Background(), "req_9_9", false)
	ev := h.waitEvent(t)
	if ev.Type != wire.TypeConnectionFailed {
		t.Fatalf("Expected connection failed event, got %s", ev.Type)
	}

	var perms PermissionsResult
	h.call(t, wire.OpGetDAppPermissions, nil, &perms)
	if len(perms.DApps) != 0 {
		t.Error("Rejected connection must not leave a grant")
	}
}

func TestTransactionRequest_RequiresGrant(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	var result PendingResult
	h.callFrom(t, wire.OpRequestDAppTransaction, "https://stranger.example", "req_3_3",
		wire.TransactionRequestPayload{To: "oct1recipient", Amount: "1"}, &result)
	if result.Success {
		t.Fatal("Expected unconnected origin to be refused")
	}
	if result.Code != wire.CodeWalletUnavailable {
		t.Errorf("Expected WALLET_UNAVAILABLE, got %s", result.Code)
	}
}

func TestTransactionApprovalFlow(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.balance = 100
	h.chain.nonce = 1
	h.chain.txHash = "cafe01"

	h.connect(t, "https://dapp.example")

	var pending PendingResult
	h.callFrom(t, wire.OpRequestDAppTransaction, "https://dapp.example", "req_4_4",
		wire.TransactionRequestPayload{To: "oct1recipient", Amount: "3", AppName: "App"}, &pending)
	if !pending.Pending {
		t.Fatalf("Expected pending transaction, got %+v", pending)
	}
	approval := <-h.approvals
	if approval.Kind != ApprovalTransaction || approval.Transaction == nil {
		t.Fatalf("Expected transaction approval, got %+v", approval)
	}

	h.service.CompleteTransactionApproval(context.Background(), "req_4_4", true)
	ev := h.waitEvent(t)
	if ev.Type != wire.TypeTransactionSuccess {
		t.Fatalf("Expected transaction success event, got %s", ev.Type)
	}
	var data TransactionEventData
	json.Unmarshal(ev.Data, &data)
	if data.TxHash != "cafe01" {
		t.Errorf("Expected tx hash cafe01, got %q", data.TxHash)
	}
	if len(h.chain.submitted) != 1 || h.chain.submitted[0].Nonce != 2 {
		t.Errorf("Expected one submission with nonce 2, got %+v", h.chain.submitted)
	}
}

func TestConnectionRequest_WhileLocked(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	var lock wire.Result
	h.call(t, wire.OpLockWallet, nil, &lock)

	var result PendingResult
	h.callFrom(t, wire.OpRequestDAppConnection, "https://dapp.example", "req_7_7",
		wire.ConnectionRequestPayload{AppName: "App"}, &result)
	if result.Success || result.Pending {
		t.Fatalf("Locked wallet must refuse immediately, got %+v", result)
	}
	if result.Code != wire.CodeWalletUnavailable {
		t.Errorf("Expected WALLET_UNAVAILABLE, got %s", result.Code)
	}

	// Nothing parked, no approval surface opened
	select {
	case a := <-h.approvals:
		t.Errorf("Locked wallet must not open an approval, got %+v", a)
	default:
	}
	pending, err := h.service.store.PendingApprovals()
	if err != nil || len(pending) != 0 {
		t.Errorf("Expected no pending approvals, got %d (%v)", len(pending), err)
	}
}

func TestTransactionRequest_WhileLocked(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.connect(t, "https://dapp.example")

	var lock wire.Result
	h.call(t, wire.OpLockWallet, nil, &lock)

	// Even a granted origin is refused while locked
	var result PendingResult
	h.callFrom(t, wire.OpRequestDAppTransaction, "https://dapp.example", "req_8_8",
		wire.TransactionRequestPayload{To: "oct1recipient", Amount: "1"}, &result)
	if result.Success || result.Pending {
		t.Fatalf("Locked wallet must refuse immediately, got %+v", result)
	}
	if result.Code != wire.CodeWalletUnavailable {
		t.Errorf("Expected WALLET_UNAVAILABLE, got %s", result.Code)
	}
	select {
	case a := <-h.approvals:
		t.Errorf("Locked wallet must not open an approval, got %+v", a)
	default:
	}
}

func TestDAppIntegrationDisabled(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	settings, err := h.service.store.Settings()
	if err != nil {
		t.Fatal(err)
	}
	settings.DAppIntegration = false
	if err := h.service.store.SetSettings(settings); err != nil {
		t.Fatal(err)
	}

	var result PendingResult
	h.callFrom(t, wire.OpRequestDAppConnection, "https://dapp.example", "req_10_10", nil, &result)
	if result.Success || result.Pending {
		t.Fatalf("Disabled integration must refuse, got %+v", result)
	}
	if result.Code != wire.CodeWalletUnavailable {
		t.Errorf("Expected WALLET_UNAVAILABLE, got %s", result.Code)
	}
}

func TestSeededSettingsShape(t *testing.T) {
	h := newTestHarness(t)

	raw, err := h.service.store.kv.Get("extensionSettings")
	if err != nil {
		t.Fatalf("Expected seeded settings, got %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Settings are not a JSON object: %v", err)
	}
	for _, key := range []string{"notifications", "autoRefresh", "dAppIntegration", "theme"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Seeded settings missing %q: %s", key, raw)
		}
	}
}

func TestBackgroundRefresh_PublicBalanceOnly(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.chain.balance = 10
	h.chain.nonce = 2
	h.chain.encrypted = &chain.EncryptedBalance{Public: 8, Encrypted: 2, Total: 10}

	// Prime the cache, including the encrypted view
	var primed BalanceResult
	h.call(t, wire.OpFetchBalance, nil, &primed)
	if primed.Encrypted == nil {
		t.Fatal("Expected primed encrypted view")
	}

	h.chain.mu.Lock()
	h.chain.balance = 77
	encBefore := h.chain.encCalls
	h.chain.mu.Unlock()

	h.service.startBalanceRefresh(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		cached, err := h.service.store.CachedBalance(primed.Address)
		if err != nil {
			t.Fatal(err)
		}
		if cached != nil && cached.Balance == 77 {
			if cached.Encrypted == nil || cached.Encrypted.Total != 10 {
				t.Errorf("Refresh must keep the last encrypted view, got %+v", cached.Encrypted)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Refresh never updated the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.chain.mu.Lock()
	encAfter := h.chain.encCalls
	h.chain.mu.Unlock()
	if encAfter != encBefore {
		t.Error("Background refresh must not fetch the encrypted view, it needs the private key")
	}
}

func TestRevokePermission(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")
	h.connect(t, "https://dapp.example")

	var result wire.Result
	h.call(t, wire.OpRevokeDAppPermission, revokePayload{Origin: "https://dapp.example"}, &result)
	if !result.Success {
		t.Fatalf("Revoke failed: %s", result.Error)
	}

	var perms PermissionsResult
	h.call(t, wire.OpGetDAppPermissions, nil, &perms)
	if len(perms.DApps) != 0 {
		t.Error("Expected no grants after revoke")
	}

	// Revoking an absent origin is a no-op success
	h.call(t, wire.OpRevokeDAppPermission, revokePayload{Origin: "https://gone.example"}, &result)
	if !result.Success {
		t.Error("Expected revoke of unknown origin to succeed")
	}
}

func TestProviderManagement(t *testing.T) {
	h := newTestHarness(t)

	var providers ProvidersResult
	h.call(t, wire.OpGetRPCProviders, nil, &providers)
	if len(providers.Providers) != 1 || providers.Providers[0].ID != "default" {
		t.Fatalf("Expected seeded default provider, got %+v", providers.Providers)
	}

	h.call(t, wire.OpAddRPCProvider, addProviderPayload{Name: "Local", URL: "http://localhost:8080/"}, &providers)
	if !providers.Success || len(providers.Providers) != 2 {
		t.Fatalf("Add failed: %+v", providers)
	}
	added := providers.Providers[1]
	if added.URL != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %q", added.URL)
	}

	h.call(t, wire.OpSetActiveProvider, providerIDPayload{ProviderID: added.ID}, &providers)
	actives := 0
	for _, p := range providers.Providers {
		if p.IsActive {
			actives++
			if p.ID != added.ID {
				t.Errorf("Wrong provider active: %s", p.ID)
			}
		}
	}
	if actives != 1 {
		t.Errorf("Expected exactly one active provider, got %d", actives)
	}

	// Removing the active provider falls back to the default
	h.call(t, wire.OpRemoveRPCProvider, providerIDPayload{ProviderID: added.ID}, &providers)
	if len(providers.Providers) != 1 || !providers.Providers[0].IsActive {
		t.Errorf("Expected default provider active after removal, got %+v", providers.Providers)
	}

	var fail ProvidersResult
	h.call(t, wire.OpRemoveRPCProvider, providerIDPayload{ProviderID: "default"}, &fail)
	if fail.Success {
		t.Error("Expected removing the default provider to fail")
	}
}

func TestNoPlaintextKeysAtRest(t *testing.T) {
	h := newTestHarness(t)
	h.setup(t, "pw123")

	wallet := h.service.session.active()
	if wallet == nil || wallet.PrivateKey == "" {
		t.Fatal("Expected an active wallet with a key")
	}
	secret := wallet.PrivateKey

	keys, err := h.service.store.kv.Keys("")
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	for _, key := range keys {
		value, err := h.service.store.kv.Get(key)
		if err != nil {
			t.Fatalf("Failed to read %q: %v", key, err)
		}
		if strings.Contains(string(value), secret) {
			t.Errorf("Store key %q contains the plaintext private key", key)
		}
	}
}

func TestUnknownAction(t *testing.T) {
	h := newTestHarness(t)

	var result wire.Result
	h.call(t, "stealAllFunds", nil, &result)
	if result.Success {
		t.Fatal("Expected unknown action to fail")
	}
	if result.Code != wire.CodeUnknownOperation {
		t.Errorf("Expected UNKNOWN_OPERATION, got %s", result.Code)
	}
}
