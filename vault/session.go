package vault

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// State is the vault session state.
type State string

const (
	// StateNoWallet: no credential has ever been set.
	StateNoWallet State = "no_wallet"
	// StateLocked: wallets exist at rest, nothing decrypted.
	StateLocked State = "locked"
	// StateActive: wallets decrypted and held in memory.
	StateActive State = "active"
)

// WalletFailure reports one wallet that could not be decrypted during
// an unlock. Other wallets in the set are unaffected.
type WalletFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// session holds the in-memory side of the state machine. Plaintext keys
// live here and nowhere else; lock clears them.
type session struct {
	state    State
	wallets  map[string]*chain.Wallet
	order    []string
	activeID string
}

func newSession() *session {
	return &session{
		state:   StateLocked,
		wallets: make(map[string]*chain.Wallet),
	}
}

// activate installs decrypted wallets and moves the session to Active.
func (s *session) activate(wallets []*chain.Wallet, activeID string) {
	s.wallets = make(map[string]*chain.Wallet, len(wallets))
	s.order = s.order[:0]
	for _, w := range wallets {
		s.wallets[w.ID] = w
		s.order = append(s.order, w.ID)
	}

	s.activeID = activeID
	if _, ok := s.wallets[activeID]; !ok && len(s.order) > 0 {
		s.activeID = s.order[0]
	}
	s.state = StateActive
}

// lock zeroizes every decrypted wallet and returns to Locked. Calling
// it on an already locked session is a no-op.
func (s *session) lock() {
	for _, w := range s.wallets {
		w.Zero()
	}
	s.wallets = make(map[string]*chain.Wallet)
	s.order = nil
	if s.state == StateActive {
		s.state = StateLocked
	}
}

// active returns the active wallet, or nil when none is usable.
func (s *session) active() *chain.Wallet {
	if s.state != StateActive {
		return nil
	}
	return s.wallets[s.activeID]
}

// get returns a decrypted wallet by ID.
func (s *session) get(id string) *chain.Wallet {
	if s.state != StateActive {
		return nil
	}
	return s.wallets[id]
}

// infos returns the public view of every decrypted wallet, in unlock
// order.
func (s *session) infos() []wire.WalletInfo {
	infos := make([]wire.WalletInfo, 0, len(s.order))
	for _, id := range s.order {
		infos = append(infos, s.wallets[id].Info())
	}
	return infos
}

// unlockWallets decrypts every stored blob under the given key.
// Decryption failures are collected per wallet, never fatal for the
// set; an all-failure unlock still succeeds with an empty set.
func unlockWallets(key []byte, stored []EncryptedWallet) ([]*chain.Wallet, []WalletFailure) {
	var wallets []*chain.Wallet
	var failed []WalletFailure

	for _, ew := range stored {
		plaintext, err := OpenBlob(key, ew.Blob)
		if err != nil {
			log.Warn().Str("wallet_id", ew.ID).Msg("Wallet blob failed to decrypt")
			failed = append(failed, WalletFailure{ID: ew.ID, Error: wire.AsWalletError(err).Message})
			continue
		}

		var w chain.Wallet
		if err := json.Unmarshal(plaintext, &w); err != nil {
			zeroBytes(plaintext)
			failed = append(failed, WalletFailure{ID: ew.ID, Error: "wallet record is corrupt"})
			continue
		}
		zeroBytes(plaintext)
		wallets = append(wallets, &w)
	}

	return wallets, failed
}
