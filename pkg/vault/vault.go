// Package vault stores the session artifacts of successful platform logins,
// keyed by artist and platform. Sessions are persisted as a JSON envelope so
// downstream scrapers can restore the cookies without this module.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

var ErrSessionNotFound = errors.New("session not found")

// Vault persists an opaque session blob per (artist, platform). Storing again
// replaces the previous blob.
type Vault interface {
	StoreSession(ctx context.Context, artistID string, p platform.Platform, blob string, externalAccountID string) error
	LoadSession(ctx context.Context, artistID string, p platform.Platform) (string, error)
}

// envelope is the stored form of a platform.Session. The account id is kept
// under a platform-specific key.
type envelope struct {
	Email           string    `json:"email"`
	Cookies         string    `json:"cookies"`
	DistroKidID     string    `json:"distrokidId,omitempty"`
	AMIIdentity     string    `json:"amiIdentity,omitempty"`
	AuthenticatedAt time.Time `json:"authenticatedAt"`
}

func (e *envelope) setAccountID(p platform.Platform, id string) {
	switch p {
	case platform.DistroKid:
		e.DistroKidID = id
	case platform.AppleMusic:
		e.AMIIdentity = id
	}
}

func (e envelope) accountID(p platform.Platform) string {
	switch p {
	case platform.DistroKid:
		return e.DistroKidID
	case platform.AppleMusic:
		return e.AMIIdentity
	}
	return ""
}

// EncodeSession renders s as the blob handed to Vault.StoreSession:
// {"email", "cookies", "distrokidId" | "amiIdentity", "authenticatedAt"}.
func EncodeSession(s platform.Session) (string, error) {
	if s.Token == "" {
		return "", fmt.Errorf("encode session: empty session token")
	}
	e := envelope{
		Email:           s.Identifier,
		Cookies:         s.Token,
		AuthenticatedAt: s.AuthenticatedAt.UTC(),
	}
	e.setAccountID(s.Platform, s.ExternalAccountID)

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return string(data), nil
}

// DecodeSession parses a blob produced by EncodeSession.
func DecodeSession(p platform.Platform, blob string) (platform.Session, error) {
	var e envelope
	if err := json.Unmarshal([]byte(blob), &e); err != nil {
		return platform.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if e.Cookies == "" {
		return platform.Session{}, fmt.Errorf("decode session: no cookies")
	}
	return platform.Session{
		Platform:          p,
		Identifier:        e.Email,
		Token:             e.Cookies,
		ExternalAccountID: e.accountID(p),
		AuthenticatedAt:   e.AuthenticatedAt,
	}, nil
}

func validateKey(artistID string, p platform.Platform) error {
	if strings.TrimSpace(artistID) == "" {
		return fmt.Errorf("artist id is required")
	}
	if !p.Valid() {
		return fmt.Errorf("unsupported platform %q", p)
	}
	return nil
}
