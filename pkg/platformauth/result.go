package platformauth

import (
	"time"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// Result is exactly one of Success, PendingTwoFactor or Failure.
type Result interface {
	isResult()
}

// Success carries a session ready to be stored.
type Success struct {
	Platform          platform.Platform
	Subject           string
	Identifier        string
	SessionToken      string
	ExternalAccountID string
	AuthenticatedAt   time.Time
}

// PendingTwoFactor means the platform asked for a code. Pass ChallengeID and
// the code to Resume before ExpiresAt.
type PendingTwoFactor struct {
	Platform    platform.Platform
	Subject     string
	ChallengeID string
	Hint        string
	ExpiresAt   time.Time
}

// Failure is a classified authentication failure. Message is the detail;
// UserMessage is what the end user should see.
type Failure struct {
	Reason  platform.Reason
	Message string
}

func (Success) isResult()          {}
func (PendingTwoFactor) isResult() {}
func (Failure) isResult()          {}

// Session converts the success into the artifact stored through a vault.
func (s Success) Session() platform.Session {
	return platform.Session{
		Platform:          s.Platform,
		Identifier:        s.Identifier,
		Token:             s.SessionToken,
		ExternalAccountID: s.ExternalAccountID,
		AuthenticatedAt:   s.AuthenticatedAt,
	}
}

func (f Failure) UserMessage() string {
	return f.Reason.UserMessage(f.Message)
}
