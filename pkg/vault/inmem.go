package vault

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

type inMemKey struct {
	artistID string
	platform platform.Platform
}

type inMemEntry struct {
	blob              string
	externalAccountID string
}

// InMemVault keeps sessions in process memory. Useful for development and tests.
type InMemVault struct {
	mu      sync.RWMutex
	entries map[inMemKey]inMemEntry
}

func NewInMemVault() *InMemVault {
	return &InMemVault{
		entries: make(map[inMemKey]inMemEntry),
	}
}

func (v *InMemVault) StoreSession(ctx context.Context, artistID string, p platform.Platform, blob string, externalAccountID string) error {
	if err := validateKey(artistID, p); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[inMemKey{artistID, p}] = inMemEntry{blob: blob, externalAccountID: externalAccountID}
	slog.Debug("Stored platform session in memory", "artistID", artistID, "platform", p)
	return nil
}

func (v *InMemVault) LoadSession(ctx context.Context, artistID string, p platform.Platform) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[inMemKey{artistID, p}]
	if !ok {
		return "", ErrSessionNotFound
	}
	return e.blob, nil
}

// ExternalAccountID returns the account id stored with the session, if any.
func (v *InMemVault) ExternalAccountID(artistID string, p platform.Platform) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.entries[inMemKey{artistID, p}].externalAccountID
}
