// Package vault decrypts channel credentials stored at rest.
//
// Ciphertexts are base64(nonce || AES-GCM sealed box). The tenant id and
// channel are bound as additional data so a blob copied between settings
// rows fails to open.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"campaign-delivery/internal/model"
)

var (
	ErrNoKey     = errors.New("vault: no key configured")
	ErrEmpty     = errors.New("vault: empty ciphertext")
	ErrUndecrypt = errors.New("vault: ciphertext could not be decrypted")
	errKeyLength = errors.New("vault: key must be 16, 24 or 32 bytes")
)

// Reader is what the dispatcher and webhook ingester depend on.
type Reader interface {
	Open(tenantID uuid.UUID, channel model.Channel, sealed string) ([]byte, error)
}

type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a base64 encoded AES key. An empty key yields a
// vault that refuses every Open.
func New(encodedKey string) (*Vault, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return &Vault{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: decode key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

func (v *Vault) Open(tenantID uuid.UUID, channel model.Channel, sealed string) ([]byte, error) {
	if v.aead == nil {
		return nil, ErrNoKey
	}
	if strings.TrimSpace(sealed) == "" {
		return nil, ErrEmpty
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecrypt, err)
	}
	ns := v.aead.NonceSize()
	if len(raw) <= ns {
		return nil, ErrUndecrypt
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], additionalData(tenantID, channel))
	if err != nil {
		return nil, ErrUndecrypt
	}
	return plain, nil
}

// Seal encrypts plaintext for the given settings row. Used by seeding tools
// and tests; the onboarding flow that normally writes credentials lives
// outside this service.
func (v *Vault) Seal(tenantID uuid.UUID, channel model.Channel, plain []byte) (string, error) {
	if v.aead == nil {
		return "", ErrNoKey
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := v.aead.Seal(nonce, nonce, plain, additionalData(tenantID, channel))
	return base64.StdEncoding.EncodeToString(out), nil
}

func additionalData(tenantID uuid.UUID, channel model.Channel) []byte {
	return []byte(tenantID.String() + "|" + string(channel))
}
