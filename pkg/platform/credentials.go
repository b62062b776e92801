package platform

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrMissingIdentifier = errors.New("identifier is required")
	ErrMissingSecret     = errors.New("secret is required")
)

// Credentials are the login details an artist submits for one platform. They
// are transient: only a pending two-factor challenge keeps them past the call
// that received them.
type Credentials struct {
	Identifier string
	Secret     string
	// Contact is the optional out-of-band contact (phone number) used for SMS codes.
	Contact string
}

// Validate checks the fields every login flow needs.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Identifier) == "" {
		return ErrMissingIdentifier
	}
	if c.Secret == "" {
		return ErrMissingSecret
	}
	return nil
}

// LogValue keeps the secret out of structured logs.
func (c Credentials) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("identifier", c.Identifier)}
	if c.Contact != "" {
		attrs = append(attrs, slog.String("contact", maskContact(c.Contact)))
	}
	return slog.GroupValue(attrs...)
}

func maskContact(contact string) string {
	if len(contact) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(contact)-4) + contact[len(contact)-4:]
}

// Session is the artifact of a successful authentication, ready to be stored
// through a credential vault. Token is opaque to this module.
type Session struct {
	Platform          Platform
	Identifier        string
	Token             string
	ExternalAccountID string
	AuthenticatedAt   time.Time
}

// ContactSuffix returns the last four characters of the contact, or "" when
// there is no contact long enough to hint at.
func (c Credentials) ContactSuffix() string {
	contact := strings.TrimSpace(c.Contact)
	if len(contact) <= 4 {
		return ""
	}
	return contact[len(contact)-4:]
}
