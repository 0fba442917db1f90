package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/pemburu0x/Octra-Extension/wire"
)

// microOCT is the number of base units in one OCT.
const microOCT = 1_000_000

// Wallet is a full keypair. Instances live only inside the vault
// service while the session is active; everything that crosses a trust
// boundary uses wire.WalletInfo instead.
type Wallet struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Address    string `json:"address"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	CreatedAt  int64  `json:"createdAt"`
}

// Info returns the public, page-safe view of the wallet.
func (w *Wallet) Info() wire.WalletInfo {
	return wire.WalletInfo{
		Address:   w.Address,
		PublicKey: w.PublicKey,
		Label:     w.Label,
	}
}

// Zero overwrites the key material in place. The wallet is unusable
// afterwards.
func (w *Wallet) Zero() {
	w.PrivateKey = ""
	w.PublicKey = ""
	w.Address = ""
}

// Generate creates a fresh Ed25519 wallet.
func Generate(label string) (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return walletFromKeys(pub, priv, label), nil
}

// ImportPrivateKey reconstructs a wallet from a base64 Ed25519 seed or
// full private key.
func ImportPrivateKey(encoded, label string) (*Wallet, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid base64: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("private key has invalid length %d", len(raw))
	}

	return walletFromKeys(priv.Public().(ed25519.PublicKey), priv, label), nil
}

func walletFromKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey, label string) *Wallet {
	address := DeriveAddress(pub)
	return &Wallet{
		ID:         address,
		Label:      label,
		Address:    address,
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// DeriveAddress computes the oct-prefixed address for a public key:
// "oct" followed by the base58 SHA-256 digest of the key.
func DeriveAddress(pub ed25519.PublicKey) string {
	digest := sha256.Sum256(pub)
	return "oct" + base58Encode(digest[:])
}

// Transaction is the signed wire form submitted to the network. Amounts
// are strings of integer micro-OCT.
type Transaction struct {
	From      string  `json:"from"`
	To        string  `json:"to_"`
	Amount    string  `json:"amount"`
	Nonce     uint64  `json:"nonce"`
	Ou        string  `json:"ou"`
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message,omitempty"`
	Signature string  `json:"signature"`
	PublicKey string  `json:"public_key"`
}

// Fee returns the flat network fee in OCT for a transfer amount:
// 0.001 below 1000 OCT, 0.003 at or above.
func Fee(amount float64) float64 {
	if amount < 1000 {
		return 0.001
	}
	return 0.003
}

// BuildTransaction constructs and signs a transfer. Amount is OCT, fee
// is implied by amount, nonce must already be the fresh next nonce.
func BuildTransaction(w *Wallet, to string, amount float64, nonce uint64, message string) (*Transaction, error) {
	seed, err := base64.StdEncoding.DecodeString(w.PrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wallet private key is corrupt")
	}
	priv := ed25519.NewKeyFromSeed(seed)

	ou := "1"
	if amount >= 1000 {
		ou = "3"
	}

	tx := &Transaction{
		From:      w.Address,
		To:        to,
		Amount:    fmt.Sprintf("%d", uint64(math.Round(amount*microOCT))),
		Nonce:     nonce,
		Ou:        ou,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Message:   message,
		PublicKey: base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}

	signable, err := json.Marshal(struct {
		From      string  `json:"from"`
		To        string  `json:"to_"`
		Amount    string  `json:"amount"`
		Nonce     uint64  `json:"nonce"`
		Ou        string  `json:"ou"`
		Timestamp float64 `json:"timestamp"`
	}{tx.From, tx.To, tx.Amount, tx.Nonce, tx.Ou, tx.Timestamp})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signable transaction: %w", err)
	}

	tx.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, signable))
	return tx, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func base58Encode(input []byte) string {
	num := new(big.Int).SetBytes(input)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range input {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
