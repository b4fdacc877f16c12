// Package credcipher provides authenticated encryption for stored repository
// credentials. Each tenant gets its own encryption key, derived from a single
// master key, so a payload encrypted for one organization can never be opened
// on behalf of another.
package credcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// MasterKeySize is the required master key length in bytes (AES-256).
	MasterKeySize = 32

	gcmNonceSize = 12
	gcmTagSize   = 16

	payloadSeparator = ":"
)

// Keychain derives per-tenant encryption keys from a master key. It is
// constructed explicitly from configuration rather than read from ambient
// process state so tests can inject distinct keys.
type Keychain struct {
	master []byte
}

// NewKeychain parses a hex-encoded 32-byte master key. A missing or
// wrong-length key is a configuration error; callers treat it as fatal at
// startup.
func NewKeychain(masterKeyHex string) (*Keychain, error) {
	if masterKeyHex == "" {
		return nil, fmt.Errorf("credential encryption key is not configured")
	}
	master, err := hex.DecodeString(strings.TrimSpace(masterKeyHex))
	if err != nil {
		return nil, fmt.Errorf("credential encryption key is not valid hex: %w", err)
	}
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("credential encryption key must be %d bytes, got %d", MasterKeySize, len(master))
	}
	return &Keychain{master: master}, nil
}

// tenantKey derives the AES-256 key for a tenant as HMAC-SHA256(master,
// tenantID). The derived key is deterministic, never stored, and
// irrecoverable without the master key.
func (k *Keychain) tenantKey(tenantID string) []byte {
	mac := hmac.New(sha256.New, k.master)
	mac.Write([]byte(tenantID))
	return mac.Sum(nil)
}

// Encrypt seals plaintext for a tenant and returns the three-part payload
// "iv:tag:ciphertext" with each component base64 encoded. A fresh random
// nonce is generated on every call.
func (k *Keychain) Encrypt(plaintext, tenantID string) (string, error) {
	gcm, err := k.tenantGCM(tenantID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the authentication tag to the ciphertext; split it out so
	// the stored payload keeps the iv:tag:ciphertext layout.
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(nonce),
		enc.EncodeToString(tag),
		enc.EncodeToString(ciphertext),
	}, payloadSeparator), nil
}

// Decrypt opens a payload produced by Encrypt. It fails closed: a malformed
// payload, a failed tag check, or a tenant mismatch all return an error and
// no plaintext.
func (k *Keychain) Decrypt(payload, tenantID string) (string, error) {
	parts := strings.Split(payload, payloadSeparator)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed encrypted payload: expected 3 components, got %d", len(parts))
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("malformed encrypted payload: bad iv encoding: %w", err)
	}
	if len(nonce) != gcmNonceSize {
		return "", fmt.Errorf("malformed encrypted payload: iv must be %d bytes", gcmNonceSize)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed encrypted payload: bad tag encoding: %w", err)
	}
	if len(tag) != gcmTagSize {
		return "", fmt.Errorf("malformed encrypted payload: tag must be %d bytes", gcmTagSize)
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("malformed encrypted payload: bad ciphertext encoding: %w", err)
	}

	gcm, err := k.tenantGCM(tenantID)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: authentication failed")
	}
	return string(plaintext), nil
}

func (k *Keychain) tenantGCM(tenantID string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.tenantKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return gcm, nil
}

// Redact returns a display-safe form of a secret, keeping only the last
// visibleChars characters. Secrets at or below the visible length are fully
// masked.
func Redact(secret string, visibleChars int) string {
	if visibleChars <= 0 {
		visibleChars = 4
	}
	if len(secret) <= visibleChars {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 4) + secret[len(secret)-visibleChars:]
}
