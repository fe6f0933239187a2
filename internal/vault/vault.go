package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey is returned when the configured key is not a valid AES key length
	ErrInvalidKey = errors.New("vault key must be 16, 24, or 32 bytes")

	// ErrDecrypt is returned for any ciphertext that cannot be opened
	ErrDecrypt = errors.New("failed to decrypt credential")
)

// Vault provides symmetric authenticated encryption for credentials.
// Ciphertext format: base64(nonce || sealed).
type Vault struct {
	gcm cipher.AEAD
}

// New constructs an AES-GCM vault from the raw key material.
func New(key string) (*Vault, error) {
	k := []byte(key)
	switch len(k) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(k))
	}

	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &Vault{gcm: gcm}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Tampered, truncated or
// foreign-key ciphertexts all return an error wrapping ErrDecrypt.
func (v *Vault) Decrypt(ciphertext string) (Secret, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}

	ns := v.gcm.NonceSize()
	if len(data) < ns+v.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := data[:ns], data[ns:]
	plaintext, err := v.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}

	return Secret(plaintext), nil
}
