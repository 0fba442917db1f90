package vault

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// WalletStateResult is the answer to getWalletState. It is safe for any
// caller: the public view only, never key material.
type WalletStateResult struct {
	wire.Result
	State        string            `json:"state"`
	HasWallet    bool              `json:"hasWallet"`
	IsUnlocked   bool              `json:"isUnlocked"`
	Wallets      []wire.WalletInfo `json:"wallets,omitempty"`
	ActiveWallet *wire.WalletInfo  `json:"activeWallet,omitempty"`
}

// UnlockResult is the answer to unlockWallet and setupWallet.
type UnlockResult struct {
	wire.Result
	Wallets      []wire.WalletInfo `json:"wallets,omitempty"`
	ActiveWallet *wire.WalletInfo  `json:"activeWallet,omitempty"`
	Failed       []WalletFailure   `json:"failed,omitempty"`
}

// Initialize seeds first-install state and reconciles the session with
// the store. It must run before Run: a restart always comes back
// Locked, whatever the persisted flag says, because plaintext keys do
// not survive the process.
func (s *Service) Initialize() error {
	hasSettings, err := s.store.HasSettings()
	if err != nil {
		return err
	}
	if !hasSettings {
		log.Info().Msg("First install, seeding defaults")
		if err := s.store.SetSettings(DefaultSettings()); err != nil {
			return err
		}
	}

	providers, err := s.store.Providers()
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		if err := s.store.SetProviders([]chain.Provider{chain.DefaultProvider()}); err != nil {
			return err
		}
	}

	cred, err := s.store.Credential()
	if err != nil {
		return err
	}
	if cred == nil {
		s.session.state = StateNoWallet
		return nil
	}

	s.session.state = StateLocked
	return s.store.SetLocked(true)
}

func (s *Service) handleGetWalletState() json.RawMessage {
	result := WalletStateResult{
		Result:     wire.OK(),
		State:      string(s.session.state),
		HasWallet:  s.session.state != StateNoWallet,
		IsUnlocked: s.session.state == StateActive,
	}

	if s.session.state == StateActive {
		result.Wallets = s.session.infos()
		if active := s.session.active(); active != nil {
			info := active.Info()
			result.ActiveWallet = &info
		}
	}

	return wire.Marshal(result)
}

type unlockPayload struct {
	Password string `json:"password"`
}

func (s *Service) handleUnlockWallet(req *wire.ServiceRequest) json.RawMessage {
	var payload unlockPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "malformed unlock request"))
	}

	cred, err := s.store.Credential()
	if err != nil {
		return internalError(err)
	}
	if cred == nil {
		return wire.FailurePayload(wire.Errf(wire.CodeAuthError, "no wallet has been set up"))
	}

	ok, err := cred.Verify(payload.Password)
	if err != nil {
		return internalError(err)
	}
	if !ok {
		log.Warn().Msg("Unlock rejected, password mismatch")
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "incorrect password"))
	}

	key, err := cred.BlobKey(payload.Password)
	if err != nil {
		return internalError(err)
	}
	defer zeroBytes(key)

	stored, err := s.store.EncryptedWallets()
	if err != nil {
		return internalError(err)
	}

	wallets, failed := unlockWallets(key, stored)

	activeID, err := s.store.ActiveWalletID()
	if err != nil {
		return internalError(err)
	}

	s.session.activate(wallets, activeID)
	if err := s.store.SetLocked(false); err != nil {
		return internalError(err)
	}

	log.Info().
		Int("wallets", len(wallets)).
		Int("failed", len(failed)).
		Msg("Wallet unlocked")

	return wire.Marshal(s.unlockResult(failed))
}

func (s *Service) handleLockWallet() json.RawMessage {
	s.session.lock()
	if err := s.store.SetLocked(true); err != nil {
		return internalError(err)
	}
	log.Info().Msg("Wallet locked")
	return wire.Marshal(wire.OK())
}

type setupPayload struct {
	Password   string `json:"password"`
	Label      string `json:"label,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// handleSetupWallet creates the password credential and the first
// wallet, generated fresh or imported from a provided key. The session
// comes up Active: setup is an unlock.
func (s *Service) handleSetupWallet(req *wire.ServiceRequest) json.RawMessage {
	var payload setupPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.Password == "" {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "a password is required"))
	}

	if s.session.state != StateNoWallet {
		return wire.FailurePayload(wire.Errf(wire.CodeAuthError, "wallet is already set up"))
	}

	cred, err := NewCredential(payload.Password)
	if err != nil {
		return internalError(err)
	}

	var wallet *chain.Wallet
	if payload.PrivateKey != "" {
		wallet, err = chain.ImportPrivateKey(payload.PrivateKey, payload.Label)
	} else {
		wallet, err = chain.Generate(payload.Label)
	}
	if err != nil {
		return internalError(err)
	}

	key, err := cred.BlobKey(payload.Password)
	if err != nil {
		return internalError(err)
	}
	defer zeroBytes(key)

	sealed, err := sealWallet(key, wallet)
	if err != nil {
		return internalError(err)
	}

	if err := s.store.SetCredential(cred); err != nil {
		return internalError(err)
	}
	if err := s.store.SetEncryptedWallets([]EncryptedWallet{*sealed}); err != nil {
		return internalError(err)
	}
	if err := s.store.SetActiveWalletID(wallet.ID); err != nil {
		return internalError(err)
	}

	s.session.activate([]*chain.Wallet{wallet}, wallet.ID)
	if err := s.store.SetLocked(false); err != nil {
		return internalError(err)
	}

	log.Info().Str("address", wallet.Address).Msg("Wallet created")
	return wire.Marshal(s.unlockResult(nil))
}

type importPayload struct {
	Password   string `json:"password"`
	PrivateKey string `json:"privateKey"`
	Label      string `json:"label,omitempty"`
}

// handleImportWallet adds a wallet to an unlocked session. The password
// is required again: the blob key is never kept in memory between
// operations.
func (s *Service) handleImportWallet(req *wire.ServiceRequest) json.RawMessage {
	var payload importPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "malformed import request"))
	}

	if s.session.state != StateActive {
		return wire.FailurePayload(wire.Errf(wire.CodeWalletUnavailable, "wallet is locked"))
	}

	cred, err := s.store.Credential()
	if err != nil {
		return internalError(err)
	}

	ok, err := cred.Verify(payload.Password)
	if err != nil {
		return internalError(err)
	}
	if !ok {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "incorrect password"))
	}

	wallet, err := chain.ImportPrivateKey(payload.PrivateKey, payload.Label)
	if err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "invalid private key"))
	}
	if s.session.get(wallet.ID) != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeInvalidCredential, "wallet already present"))
	}

	key, err := cred.BlobKey(payload.Password)
	if err != nil {
		return internalError(err)
	}
	defer zeroBytes(key)

	sealed, err := sealWallet(key, wallet)
	if err != nil {
		return internalError(err)
	}

	stored, err := s.store.EncryptedWallets()
	if err != nil {
		return internalError(err)
	}
	if err := s.store.SetEncryptedWallets(append(stored, *sealed)); err != nil {
		return internalError(err)
	}

	s.session.wallets[wallet.ID] = wallet
	s.session.order = append(s.session.order, wallet.ID)

	log.Info().Str("address", wallet.Address).Msg("Wallet imported")
	return wire.Marshal(s.unlockResult(nil))
}

type setActivePayload struct {
	WalletID string `json:"walletId"`
}

func (s *Service) handleSetActiveWallet(req *wire.ServiceRequest) json.RawMessage {
	var payload setActivePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed request"))
	}

	if s.session.state != StateActive {
		return wire.FailurePayload(wire.Errf(wire.CodeWalletUnavailable, "wallet is locked"))
	}
	if s.session.get(payload.WalletID) == nil {
		return wire.FailurePayload(wire.Errf(wire.CodeWalletUnavailable, "no such wallet"))
	}

	s.session.activeID = payload.WalletID
	if err := s.store.SetActiveWalletID(payload.WalletID); err != nil {
		return internalError(err)
	}
	return wire.Marshal(wire.OK())
}

func (s *Service) unlockResult(failed []WalletFailure) UnlockResult {
	result := UnlockResult{
		Result:  wire.OK(),
		Wallets: s.session.infos(),
		Failed:  failed,
	}
	if active := s.session.active(); active != nil {
		info := active.Info()
		result.ActiveWallet = &info
	}
	return result
}

func sealWallet(key []byte, wallet *chain.Wallet) (*EncryptedWallet, error) {
	plaintext, err := json.Marshal(wallet)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plaintext)

	blob, err := SealBlob(key, plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedWallet{ID: wallet.ID, Blob: blob}, nil
}
