// Package platformauth is the entry point for logging into a platform
// through a headless browser. An Authenticator combines a browser session, a
// platform's login flow and the challenge registry behind Authenticate,
// Resume and Cleanup, and turns every failure into a typed Failure.
package platformauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/challenge"
	"github.com/tendant/simple-platform-auth/pkg/loginflow"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// Authenticator runs one platform's login flow. It is safe for concurrent
// use; every call gets its own browser session.
type Authenticator struct {
	flow        loginflow.LoginFlow
	launcher    browser.Launcher
	registry    *challenge.Registry
	fingerprint browser.Fingerprint
	now         func() time.Time

	mu    sync.Mutex
	owned map[*browser.Session]struct{}
}

type Option func(*Authenticator)

func WithFingerprint(fp browser.Fingerprint) Option {
	return func(a *Authenticator) {
		a.fingerprint = fp
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

func New(flow loginflow.LoginFlow, launcher browser.Launcher, registry *challenge.Registry, opts ...Option) *Authenticator {
	a := &Authenticator{
		flow:        flow,
		launcher:    launcher,
		registry:    registry,
		fingerprint: browser.DefaultFingerprint(),
		now:         time.Now,
		owned:       make(map[*browser.Session]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) Platform() platform.Platform {
	return a.flow.Platform()
}

type authOptions struct {
	subject string
}

type AuthOption func(*authOptions)

// WithSubject attaches the caller's subject (an artist id) to the attempt. It
// is echoed on Success and PendingTwoFactor and kept with a pending challenge.
func WithSubject(subject string) AuthOption {
	return func(o *authOptions) {
		o.subject = subject
	}
}

// Authenticate logs in with creds. The browser is closed before returning
// unless the result is PendingTwoFactor; then the challenge registry owns it.
func (a *Authenticator) Authenticate(ctx context.Context, creds platform.Credentials, opts ...AuthOption) (result Result) {
	var o authOptions
	for _, opt := range opts {
		opt(&o)
	}
	p := a.flow.Platform()
	defer recoverFailure(p, "authenticate", &result)

	if err := creds.Validate(); err != nil {
		return Failure{Reason: platform.ReasonInvalidCredentials, Message: "An email and password are required."}
	}
	if err := a.registry.CheckCapacity(); err != nil {
		return capacityFailure(p, err)
	}

	slog.Info("Authenticating", "platform", p, "subject", o.subject, "credentials", creds)

	session := browser.NewSession(a.launcher, a.fingerprint)
	a.own(session)
	handedOff := false
	defer func() {
		if !handedOff {
			a.release(session)
		}
	}()

	page, err := session.Open(ctx)
	if err != nil {
		return openFailure(p, err)
	}

	out := a.flow.Login(ctx, page, creds)
	switch out.State {
	case loginflow.StateAuthenticated:
		slog.Info("Authenticated", "platform", p, "subject", o.subject, "externalAccountID", out.AccountID)
		return Success{
			Platform:          p,
			Subject:           o.subject,
			Identifier:        creds.Identifier,
			SessionToken:      out.SessionToken,
			ExternalAccountID: out.AccountID,
			AuthenticatedAt:   a.now(),
		}

	case loginflow.StateTwoFactorPrompt:
		if !a.disown(session) {
			// Cleanup claimed the session while the flow was running.
			return Failure{Reason: platform.ReasonUnexpectedPageState, Message: "authentication was cancelled"}
		}
		handedOff = true

		c := &challenge.Challenge{
			Platform:    p,
			Subject:     o.subject,
			Credentials: creds,
			Session:     session,
			Page:        page,
			Hint:        out.Hint,
		}
		id, err := a.registry.Register(c)
		if err != nil {
			c.Release()
			return capacityFailure(p, err)
		}
		return PendingTwoFactor{
			Platform:    p,
			Subject:     o.subject,
			ChallengeID: id,
			Hint:        out.Hint,
			ExpiresAt:   c.ExpiresAt,
		}
	}

	return outcomeFailure(p, out)
}

// Resume submits code to the challenge registered under challengeID. The
// challenge is consumed whatever the outcome; a second call with the same id
// returns ChallengeExpiredOrInvalid.
func (a *Authenticator) Resume(ctx context.Context, challengeID, code string) (result Result) {
	p := a.flow.Platform()
	defer recoverFailure(p, "resume", &result)

	c, err := a.registry.TakeFor(p, challengeID)
	if err != nil {
		slog.Info("Two-factor challenge not available", "platform", p, "challengeID", challengeID, "error", err)
		return Failure{Reason: platform.ReasonChallengeExpiredOrInvalid, Message: "verification request expired or already used"}
	}

	a.own(c.Session)
	defer a.release(c.Session)

	out := a.flow.SubmitCode(ctx, c.Page, code)
	if out.State == loginflow.StateAuthenticated {
		slog.Info("Authenticated after two-factor", "platform", p, "subject", c.Subject, "externalAccountID", out.AccountID)
		return Success{
			Platform:          p,
			Subject:           c.Subject,
			Identifier:        c.Credentials.Identifier,
			SessionToken:      out.SessionToken,
			ExternalAccountID: out.AccountID,
			AuthenticatedAt:   a.now(),
		}
	}
	return outcomeFailure(p, out)
}

// Cleanup force-closes every browser session this authenticator currently
// owns. Sessions handed to the challenge registry are not touched. It is
// safe to call at any time, repeatedly and concurrently with other calls.
func (a *Authenticator) Cleanup() {
	a.mu.Lock()
	sessions := make([]*browser.Session, 0, len(a.owned))
	for s := range a.owned {
		sessions = append(sessions, s)
	}
	a.owned = make(map[*browser.Session]struct{})
	a.mu.Unlock()

	for _, s := range sessions {
		closeSession(s)
	}
	if len(sessions) > 0 {
		slog.Info("Closed in-flight browser sessions", "platform", a.flow.Platform(), "count", len(sessions))
	}
}

// Owned is the number of browser sessions this authenticator currently owns.
func (a *Authenticator) Owned() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.owned)
}

func (a *Authenticator) own(s *browser.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.owned[s] = struct{}{}
}

// disown reports whether s was still owned.
func (a *Authenticator) disown(s *browser.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.owned[s]; !ok {
		return false
	}
	delete(a.owned, s)
	return true
}

func (a *Authenticator) release(s *browser.Session) {
	a.disown(s)
	closeSession(s)
}

func closeSession(s *browser.Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		slog.Warn("Failed to close browser session", "error", err)
	}
}

func recoverFailure(p platform.Platform, op string, result *Result) {
	if r := recover(); r != nil {
		slog.Error("Recovered from panic in platform authentication",
			"platform", p, "op", op, "panic", r, "stack", string(debug.Stack()))
		*result = Failure{Reason: platform.ReasonUnexpectedPageState, Message: fmt.Sprintf("internal error: %v", r)}
	}
}

func capacityFailure(p platform.Platform, err error) Failure {
	if errors.Is(err, challenge.ErrCapacityExceeded) {
		slog.Warn("Two-factor challenge capacity reached", "platform", p)
		return Failure{Reason: platform.ReasonCapacityExceeded, Message: err.Error()}
	}
	slog.Error("Challenge registry unavailable", "platform", p, "error", err)
	return Failure{Reason: platform.ReasonEnvironmentError, Message: err.Error()}
}

func openFailure(p platform.Platform, err error) Failure {
	if errors.Is(err, browser.ErrClosed) {
		return Failure{Reason: platform.ReasonUnexpectedPageState, Message: "authentication was cancelled"}
	}
	slog.Error("Failed to open browser", "platform", p, "error", err)
	return Failure{Reason: platform.ReasonEnvironmentError, Message: err.Error()}
}

func outcomeFailure(p platform.Platform, out loginflow.Outcome) Failure {
	if out.Err == nil {
		slog.Error("Login flow stopped without a terminal state", "platform", p, "state", out.State)
		return Failure{Reason: platform.ReasonUnexpectedPageState, Message: fmt.Sprintf("login stopped in state %s", out.State)}
	}
	if out.Err.Reason.Actionable() {
		slog.Info("Authentication failed", "platform", p, "reason", out.Err.Reason, "state", out.State)
	} else {
		slog.Warn("Authentication failed", "platform", p, "reason", out.Err.Reason, "state", out.State, "error", out.Err)
	}
	return Failure{Reason: out.Err.Reason, Message: out.Err.Message}
}
