// Package platform holds the types shared by every layer of the platform
// authentication stack: the closed set of supported platforms, the credentials
// a caller submits, the session artifact produced by a successful login, and
// the failure taxonomy.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies a third-party service that is logged into through a
// headless browser.
type Platform string

const (
	AppleMusic Platform = "apple-music"
	DistroKid  Platform = "distrokid"
)

// All returns every supported platform in a stable order.
func All() []Platform {
	return []Platform{AppleMusic, DistroKid}
}

// Parse maps the names used by the dashboard, the database enum and the API
// paths onto a Platform.
func Parse(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apple", "apple-music", "apple_music", "applemusic":
		return AppleMusic, nil
	case "distrokid":
		return DistroKid, nil
	}
	return "", fmt.Errorf("unsupported platform %q", s)
}

// DisplayName is the human readable name of the platform.
func (p Platform) DisplayName() string {
	switch p {
	case AppleMusic:
		return "Apple Music for Artists"
	case DistroKid:
		return "DistroKid"
	}
	return string(p)
}

// StorageKey is the enum value stored next to persisted credentials.
func (p Platform) StorageKey() string {
	return strings.ToUpper(strings.ReplaceAll(string(p), "-", "_"))
}

func (p Platform) Valid() bool {
	return p == AppleMusic || p == DistroKid
}
