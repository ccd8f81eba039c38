// Package vault provides at-rest encryption for connection secrets.
// AES-256-GCM is used for encryption.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	gwerr "github.com/decocms/mesh/pkg/errors"
)

// KeySize is the AES-256 key size in bytes.
const KeySize = 32

// Vault encrypts and decrypts secrets with a single symmetric key.
// It is a pure function of key and input; the key material is the only
// state and is immutable, so a Vault is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from the configured key material. Key material that is
// not exactly 32 raw bytes is hashed with SHA-256 down to 32 bytes, so
// human-supplied passphrases are tolerated.
func New(keyMaterial []byte) (*Vault, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("key material cannot be empty")
	}

	key := keyMaterial
	if len(key) != KeySize {
		sum := sha256.Sum256(keyMaterial)
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// GenerateKey produces a fresh random 32-byte key for bootstrap or rotation.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncryptString encrypts plaintext with a fresh random nonce. The nonce,
// ciphertext, and authentication tag are concatenated and base64-encoded as
// one opaque token, so the ciphertext is self-describing and carries no
// external state.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString decrypts a token produced by EncryptString. If the token is
// malformed or the authentication tag does not verify, a decryption error is
// returned and no partial output is ever produced.
func (v *Vault) DecryptString(token string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", gwerr.NewDecryptionError("ciphertext is not valid base64", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", gwerr.NewDecryptionError("ciphertext shorter than nonce", nil)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", gwerr.NewDecryptionError("authentication tag mismatch", err)
	}
	return string(plaintext), nil
}
