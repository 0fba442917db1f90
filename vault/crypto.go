package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pemburu0x/Octra-Extension/wire"
)

// Argon2id parameters for the password credential and the blob key.
const (
	argon2idTime    = 3
	argon2idMemory  = 64 * 1024 // 64 MB
	argon2idThreads = 4
	argon2idKeyLen  = 32

	saltLen = 16
)

// Credential is the stored password verifier. Hash and KeySalt use
// independent salts so the stored hash reveals nothing about the key
// that seals wallet blobs.
type Credential struct {
	Hash    string `json:"hash"`
	Salt    string `json:"salt"`
	KeySalt string `json:"keySalt"`
}

// NewCredential derives a credential from a password with fresh salts.
func NewCredential(password string) (*Credential, error) {
	salt, err := randomSalt()
	if err != nil {
		return nil, err
	}
	keySalt, err := randomSalt()
	if err != nil {
		return nil, err
	}

	hash := hashPassword([]byte(password), salt)
	return &Credential{
		Hash:    base64.StdEncoding.EncodeToString(hash),
		Salt:    base64.StdEncoding.EncodeToString(salt),
		KeySalt: base64.StdEncoding.EncodeToString(keySalt),
	}, nil
}

// Verify checks a password against the stored hash in constant time.
func (c *Credential) Verify(password string) (bool, error) {
	salt, err := base64.StdEncoding.DecodeString(c.Salt)
	if err != nil {
		return false, fmt.Errorf("stored salt is corrupt: %w", err)
	}
	expected, err := base64.StdEncoding.DecodeString(c.Hash)
	if err != nil {
		return false, fmt.Errorf("stored hash is corrupt: %w", err)
	}

	computed := hashPassword([]byte(password), salt)
	return timingSafeEqual(computed, expected), nil
}

// BlobKey derives the symmetric key that seals wallet blobs. The key
// exists only for the duration of an unlock or a wallet write, never at
// rest.
func (c *Credential) BlobKey(password string) ([]byte, error) {
	keySalt, err := base64.StdEncoding.DecodeString(c.KeySalt)
	if err != nil {
		return nil, fmt.Errorf("stored key salt is corrupt: %w", err)
	}
	return argon2.IDKey([]byte(password), keySalt, argon2idTime, argon2idMemory, argon2idThreads, argon2idKeyLen), nil
}

func hashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argon2idTime, argon2idMemory, argon2idThreads, argon2idKeyLen)
}

func randomSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// timingSafeEqual performs a constant-time comparison of two byte slices
func timingSafeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}

// SealBlob encrypts a plaintext wallet record under the blob key. The
// result is base64 over nonce || ciphertext, XChaCha20-Poly1305.
func SealBlob(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// OpenBlob decrypts a sealed wallet record. Any failure, from a
// truncated blob to a bad tag, comes back as DECRYPTION_FAILURE: the
// caller never sees garbage plaintext.
func OpenBlob(key []byte, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, wire.Errf(wire.CodeDecryptionFailure, "blob is not valid base64")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, wire.Errf(wire.CodeDecryptionFailure, "invalid blob key")
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize+aead.Overhead() {
		return nil, wire.Errf(wire.CodeDecryptionFailure, "blob is truncated")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, wire.Errf(wire.CodeDecryptionFailure, "blob failed to decrypt")
	}
	return plaintext, nil
}

// zeroBytes overwrites a byte slice in place.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
