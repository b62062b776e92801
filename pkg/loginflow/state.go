package loginflow

import (
	"fmt"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// State is a node of the login state machine:
//
//	Start -> NavigatedToLogin -> CredentialsSubmitted -> Authenticated | TwoFactorPrompt | LoginFailed
//	TwoFactorPrompt -> CodeSubmitted -> Authenticated | CodeRejected
type State int

const (
	stateUnchanged State = iota
	StateStart
	StateNavigatedToLogin
	StateCredentialsSubmitted
	StateAuthenticated
	StateTwoFactorPrompt
	StateLoginFailed
	StateCodeSubmitted
	StateCodeRejected
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateNavigatedToLogin:
		return "navigated_to_login"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateAuthenticated:
		return "authenticated"
	case StateTwoFactorPrompt:
		return "two_factor_prompt"
	case StateLoginFailed:
		return "login_failed"
	case StateCodeSubmitted:
		return "code_submitted"
	case StateCodeRejected:
		return "code_rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether a flow stops in s.
func (s State) Terminal() bool {
	switch s {
	case StateAuthenticated, StateTwoFactorPrompt, StateLoginFailed, StateCodeRejected:
		return true
	}
	return false
}

// Error is a classified login failure.
type Error struct {
	Reason  platform.Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(reason platform.Reason, message string, err error) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

// Outcome is where a flow stopped. Err is set exactly when State is
// LoginFailed or CodeRejected.
type Outcome struct {
	State State
	// SessionToken is the serialized cookie jar, set when State is Authenticated.
	SessionToken string
	// AccountID is the platform's id for the account, when the page exposes one.
	AccountID string
	// Hint tells the user where to find the code, set when State is TwoFactorPrompt.
	Hint string
	Err  *Error
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}
