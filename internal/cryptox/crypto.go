// Package cryptox seals small secrets (TOTP shared secrets) at rest with
// AES-256-GCM under a key derived from a configured passphrase.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"golang.org/x/crypto/argon2"
)

// sealedPrefix marks values produced by Sealer.Seal so that plaintext
// values written by older deployments can still be read.
const sealedPrefix = "gcm1:"

// ErrMalformed reports a sealed value that cannot be opened.
var ErrMalformed = errors.New("malformed sealed value")

// DeriveKey stretches a passphrase into a 32-byte AES-256 key with argon2id
// (1 pass, 64 MiB, 4 lanes). The same passphrase and salt always produce
// the same key, so sealed values survive restarts.
//
// Parameters:
//   - passphrase: the configured secrets key.
//   - salt: a fixed, deployment-wide salt.
//
// Returns:
//   - a 32-byte key suitable for aes.NewCipher.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// Sealer encrypts and decrypts short strings.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the AES key from passphrase and salt and prepares an
// AES-GCM cipher. An empty passphrase yields a Sealer that stores values
// unchanged, which keeps development setups free of key management.
//
// Parameters:
//   - passphrase: the secrets key from configuration; may be empty.
//   - salt: mixed into DeriveKey; changing it invalidates sealed values.
//
// Returns:
//   - s: the ready Sealer.
//   - err: non-nil if the cipher cannot be built.
//
// Example:
//
//	s, err := NewSealer(cfg.SecretsKey, "pmdash-2fa-secrets")
//	if err != nil {
//	    return err
//	}
//	stored, err := s.Seal(totpSecret)
func NewSealer(passphrase, salt string) (*Sealer, error) {
	if passphrase == "" {
		return &Sealer{}, nil
	}
	block, err := aes.NewCipher(DeriveKey([]byte(passphrase), []byte(salt)))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
//
// The result is "gcm1:" + base64(nonce|ciphertext), so sealing the same
// value twice gives different output. A Sealer without a key returns
// plaintext unchanged.
//
// Parameters:
//   - plaintext: the secret to protect, e.g. a base32 TOTP secret.
//
// Returns:
//   - the sealed string, safe to store in any text column.
//   - err: reserved for cipher failures; currently always nil.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s.aead == nil {
		return plaintext, nil
	}
	nonce := common.GenerateRandByteArray(s.aead.NonceSize())
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
//
// Values without the "gcm1:" prefix are returned as-is, so secrets written
// before sealing was configured keep working.
//
// Parameters:
//   - value: a string produced by Seal, or a legacy plaintext value.
//
// Returns:
//   - the plaintext.
//   - err: wraps ErrMalformed when the value is sealed but cannot be
//     decoded or authenticated, or when no key is configured.
//
// Example:
//
//	secret, err := s.Open(user.TwoFactorSecret)
//	if errors.Is(err, cryptox.ErrMalformed) {
//	    // wrong key or tampered row
//	}
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s.aead == nil {
		return "", fmt.Errorf("%w: no key configured", ErrMalformed)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(plain), nil
}
