// Package vault provides at-rest encryption for provider API keys and
// OAuth tokens. It tries an OS-level secret store first and falls back to
// a passphrase-derived AES-256-GCM cipher.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen     = 32 // AES-256
	saltLen    = 16
	pbkdfIters = 210_000
)

// ErrCiphertextTooShort is returned when Decrypt is given fewer bytes than
// the nonce header requires.
var ErrCiphertextTooShort = errors.New("vault: ciphertext too short")

// SecretStore is an OS-level secret store (macOS Keychain, Windows
// Credential Manager, a desktop shell's secret-service binding). A
// collaborator outside this module supplies the real implementation; this
// package only defines the seam and a fallback for when none is wired.
type SecretStore interface {
	// Get returns the named secret, or ok=false if the store has no
	// entry under that name.
	Get(ctx context.Context, name string) (value string, ok bool, err error)
	Set(ctx context.Context, name, value string) error
}

// Vault encrypts and decrypts tokens. It tries OS first (when non-nil),
// then falls back to its own AES-256-GCM key.
type Vault struct {
	os   SecretStore
	aead cipher.AEAD
}

// New derives an AES-256-GCM key from passphrase and salt via PBKDF2-SHA256
// and builds a fallback-only Vault. Use NewWithSecretStore to additionally
// try an OS secret store first.
func New(passphrase string, salt []byte) (*Vault, error) {
	if len(salt) != saltLen {
		return nil, fmt.Errorf("vault: salt must be %d bytes, got %d", saltLen, len(salt))
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdfIters, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewWithSecretStore wraps New, additionally consulting os for plaintext
// lookups by name before falling back to AES-GCM ciphertext.
func NewWithSecretStore(passphrase string, salt []byte, os SecretStore) (*Vault, error) {
	v, err := New(passphrase, salt)
	if err != nil {
		return nil, err
	}
	v.os = os
	return v, nil
}

// NewSalt generates a fresh random salt suitable for New.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext, returning nonce||ciphertext. The nonce is
// generated fresh per call and does not need separate storage.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a nonce||ciphertext blob produced by Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) (string, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// GetNamed resolves a named secret: the OS store first if configured,
// falling back to decrypting enc with the AES-GCM key.
func (v *Vault) GetNamed(ctx context.Context, name string, enc []byte) (string, error) {
	if v.os != nil {
		if val, ok, err := v.os.Get(ctx, name); err != nil {
			return "", fmt.Errorf("vault: os secret store lookup for %q: %w", name, err)
		} else if ok {
			return val, nil
		}
	}
	return v.Decrypt(enc)
}

// SetNamed stores a named secret in the OS store when configured, and
// always returns the AES-GCM ciphertext as a fallback value for storage.go
// to persist alongside it.
func (v *Vault) SetNamed(ctx context.Context, name, value string) (fallbackCiphertext []byte, err error) {
	if v.os != nil {
		if err := v.os.Set(ctx, name, value); err != nil {
			return nil, fmt.Errorf("vault: os secret store write for %q: %w", name, err)
		}
	}
	return v.Encrypt(value)
}
