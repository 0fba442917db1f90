package vault

import (
	"encoding/json"
	"fmt"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/vault/storage"
)

// Well-known store keys. These names are the wallet's persistence
// contract: changing one orphans existing installs.
const (
	keyPasswordHash     = "walletPasswordHash"
	keyPasswordSalt     = "walletPasswordSalt"
	keyKeySalt          = "walletKeySalt"
	keyEncryptedWallets = "encryptedWallets"
	keyLocked           = "isWalletLocked"
	keyActiveWallet     = "activeWalletId"
	keyProviders        = "rpcProviders"
	keyConnectedDApps   = "connectedDApps"
	keySettings         = "extensionSettings"
	keyPendingApprovals = "pendingApprovals"

	balancePrefix = "balance_"
)

// EncryptedWallet is the at-rest form of one wallet: an opaque sealed
// blob plus the ID needed to report a per-wallet decryption failure.
type EncryptedWallet struct {
	ID   string `json:"id"`
	Blob string `json:"blob"`
}

// Settings are the user-tunable extension settings, seeded on first
// install.
type Settings struct {
	Notifications   bool   `json:"notifications"`
	AutoRefresh     bool   `json:"autoRefresh"`
	DAppIntegration bool   `json:"dAppIntegration"`
	Theme           string `json:"theme"`
}

// DefaultSettings returns the first-install settings.
func DefaultSettings() Settings {
	return Settings{
		Notifications:   true,
		AutoRefresh:     true,
		DAppIntegration: true,
		Theme:           "light",
	}
}

// CachedBalance is the per-address balance cache entry.
type CachedBalance struct {
	Balance   float64                 `json:"balance"`
	Nonce     uint64                  `json:"nonce"`
	Encrypted *chain.EncryptedBalance `json:"encrypted,omitempty"`
	UpdatedAt int64                   `json:"updatedAt"`
}

// vaultStore layers typed accessors for the well-known keys over the
// raw key/value store. Every value is JSON.
type vaultStore struct {
	kv *storage.Store
}

func (vs *vaultStore) getJSON(key string, out interface{}) (bool, error) {
	raw, err := vs.kv.Get(key)
	if err == storage.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("stored value %q is corrupt: %w", key, err)
	}
	return true, nil
}

func (vs *vaultStore) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	return vs.kv.Put(key, raw)
}

// Credential loads the stored password verifier, or nil if no
// credential has ever been set.
func (vs *vaultStore) Credential() (*Credential, error) {
	var hash, salt, keySalt string
	ok, err := vs.getJSON(keyPasswordHash, &hash)
	if err != nil || !ok {
		return nil, err
	}
	if _, err := vs.getJSON(keyPasswordSalt, &salt); err != nil {
		return nil, err
	}
	if _, err := vs.getJSON(keyKeySalt, &keySalt); err != nil {
		return nil, err
	}
	return &Credential{Hash: hash, Salt: salt, KeySalt: keySalt}, nil
}

func (vs *vaultStore) SetCredential(cred *Credential) error {
	if err := vs.putJSON(keyPasswordHash, cred.Hash); err != nil {
		return err
	}
	if err := vs.putJSON(keyPasswordSalt, cred.Salt); err != nil {
		return err
	}
	return vs.putJSON(keyKeySalt, cred.KeySalt)
}

func (vs *vaultStore) EncryptedWallets() ([]EncryptedWallet, error) {
	var wallets []EncryptedWallet
	if _, err := vs.getJSON(keyEncryptedWallets, &wallets); err != nil {
		return nil, err
	}
	return wallets, nil
}

func (vs *vaultStore) SetEncryptedWallets(wallets []EncryptedWallet) error {
	return vs.putJSON(keyEncryptedWallets, wallets)
}

// Locked reports the persisted lock flag. A missing flag reads as
// locked: the safe default after a crash or fresh install.
func (vs *vaultStore) Locked() (bool, error) {
	var locked bool
	ok, err := vs.getJSON(keyLocked, &locked)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	return locked, nil
}

func (vs *vaultStore) SetLocked(locked bool) error {
	return vs.putJSON(keyLocked, locked)
}

func (vs *vaultStore) ActiveWalletID() (string, error) {
	var id string
	if _, err := vs.getJSON(keyActiveWallet, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (vs *vaultStore) SetActiveWalletID(id string) error {
	return vs.putJSON(keyActiveWallet, id)
}

func (vs *vaultStore) Providers() ([]chain.Provider, error) {
	var providers []chain.Provider
	if _, err := vs.getJSON(keyProviders, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (vs *vaultStore) SetProviders(providers []chain.Provider) error {
	return vs.putJSON(keyProviders, providers)
}

// Grants loads the connected-dApp map keyed by origin.
func (vs *vaultStore) Grants() (map[string]*Grant, error) {
	grants := make(map[string]*Grant)
	if _, err := vs.getJSON(keyConnectedDApps, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

func (vs *vaultStore) SetGrants(grants map[string]*Grant) error {
	return vs.putJSON(keyConnectedDApps, grants)
}

func (vs *vaultStore) Settings() (Settings, error) {
	settings := DefaultSettings()
	if _, err := vs.getJSON(keySettings, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func (vs *vaultStore) SetSettings(settings Settings) error {
	return vs.putJSON(keySettings, settings)
}

func (vs *vaultStore) HasSettings() (bool, error) {
	return vs.kv.Has(keySettings)
}

func (vs *vaultStore) CachedBalance(address string) (*CachedBalance, error) {
	var cached CachedBalance
	ok, err := vs.getJSON(balancePrefix+address, &cached)
	if err != nil || !ok {
		return nil, err
	}
	return &cached, nil
}

func (vs *vaultStore) SetCachedBalance(address string, cached *CachedBalance) error {
	return vs.putJSON(balancePrefix+address, cached)
}

func (vs *vaultStore) PendingApprovals() (map[string]*PendingApproval, error) {
	pending := make(map[string]*PendingApproval)
	if _, err := vs.getJSON(keyPendingApprovals, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (vs *vaultStore) SetPendingApprovals(pending map[string]*PendingApproval) error {
	return vs.putJSON(keyPendingApprovals, pending)
}
