// Package crypto provides encryption/decryption for sensitive tenant data,
// primarily the database credentials stored in the tenant registry.
// Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var ErrKeyNotConfigured = errors.New("tenant encryption key not configured")

// SecretBox encrypts and decrypts tenant secrets with a fixed 32-byte key.
// The key comes from TENANT_DB_ENCRYPTION_KEY (base64); a missing key is a
// configuration error for any tenant with dedicated isolation, never a
// credential error.
type SecretBox struct {
	key []byte
}

// NewSecretBox builds a box from a base64-encoded 32-byte key.
func NewSecretBox(keyB64 string) (*SecretBox, error) {
	if keyB64 == "" {
		return nil, ErrKeyNotConfigured
	}

	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key format (must be base64): %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &SecretBox{key: key}, nil
}

// Encrypt seals a plaintext. Output format: base64(nonce || ciphertext || tag)
// with a random 12-byte nonce. The nonce MUST be unique per encryption under
// the same key; reuse breaks GCM entirely.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM mode: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Nonce is prepended to the ciphertext for later decryption.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a sealed secret. GCM validates authenticity before
// decrypting, so tampered data fails here rather than producing garbage.
// The plaintext should only ever exist in memory while a connection is
// being established; it is never logged.
func (b *SecretBox) Decrypt(ciphertextB64 string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(combined) < nonceSize {
		return "", errors.New("ciphertext too short (possible corruption or tampering)")
	}

	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (invalid key or tampered data): %w", err)
	}

	return string(plaintext), nil
}

// GenerateKey generates a new 32-byte AES key in base64 format.
// Run during initial setup or key rotation:
//
//	key, _ := crypto.GenerateKey()
//	fmt.Println("TENANT_DB_ENCRYPTION_KEY=" + key)
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
