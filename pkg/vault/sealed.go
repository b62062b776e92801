package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// MinKeyLength is the shortest passphrase NewSealedVault accepts.
const MinKeyLength = 16

const (
	keySalt       = "platform-session-salt"
	keyIterations = 10000
)

var (
	ErrKeyTooShort = fmt.Errorf("sealing key must have at least %d characters", MinKeyLength)
	ErrTampered    = errors.New("sealed session cannot be opened")
)

// SealedVault encrypts blobs with AES-256-GCM before handing them to the
// wrapped vault. Each ciphertext is bound to its artist and platform.
type SealedVault struct {
	next Vault
	aead cipher.AEAD
}

func NewSealedVault(next Vault, passphrase string) (*SealedVault, error) {
	if next == nil {
		return nil, errors.New("sealed vault needs a backing vault")
	}
	if len(passphrase) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed vault: %w", err)
	}
	return &SealedVault{next: next, aead: aead}, nil
}

func (v *SealedVault) StoreSession(ctx context.Context, artistID string, p platform.Platform, blob string, externalAccountID string) error {
	if blob == "" {
		return errors.New("sealed vault: empty session blob")
	}
	sealed, err := v.seal([]byte(blob), rowBinding(artistID, p))
	if err != nil {
		return err
	}
	return v.next.StoreSession(ctx, artistID, p, sealed, externalAccountID)
}

func (v *SealedVault) LoadSession(ctx context.Context, artistID string, p platform.Platform) (string, error) {
	sealed, err := v.next.LoadSession(ctx, artistID, p)
	if err != nil {
		return "", err
	}
	blob, err := v.open(sealed, rowBinding(artistID, p))
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

func rowBinding(artistID string, p platform.Platform) []byte {
	return []byte(artistID + "/" + string(p))
}

// seal returns base64(nonce || ciphertext).
func (v *SealedVault) seal(blob, binding []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sealed vault: nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(v.aead.Seal(nonce, nonce, blob, binding)), nil
}

func (v *SealedVault) open(sealed string, binding []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(data) < v.aead.NonceSize() {
		return nil, ErrTampered
	}
	n := v.aead.NonceSize()
	blob, err := v.aead.Open(nil, data[:n], data[n:], binding)
	if err != nil {
		return nil, ErrTampered
	}
	return blob, nil
}
