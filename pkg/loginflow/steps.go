package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// NavigateStep loads the login page, retrying failed loads with exponential backoff.
type NavigateStep struct{}

func NewNavigateStep() *NavigateStep {
	return &NavigateStep{}
}

func (s *NavigateStep) Name() string {
	return "navigate"
}

func (s *NavigateStep) Order() int {
	return OrderNavigate
}

func (s *NavigateStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *NavigateStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	opts := flowContext.Options
	url := flowContext.Profile.LoginURL

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.RetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(opts.NavigationRetries)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		navCtx, cancel := context.WithTimeout(ctx, opts.NavigationTimeout)
		defer cancel()

		err := flowContext.Page.Navigate(navCtx, url)
		if errors.Is(err, browser.ErrClosed) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		slog.Warn("Login page load failed, retrying",
			"platform", flowContext.Profile.Platform,
			"url", url,
			"attempt", attempt,
			"retryIn", next,
			"error", err)
	})
	if err != nil {
		if errors.Is(err, browser.ErrClosed) || ctx.Err() != nil {
			return nil, err
		}
		return &StepResult{
			Error: newError(platform.ReasonNetworkError,
				fmt.Sprintf("%s login page could not be loaded after %d attempts", flowContext.Profile.Platform.DisplayName(), attempt), err),
		}, nil
	}

	return &StepResult{Next: StateNavigatedToLogin}, nil
}

// SignInStep opens the login form from a landing page.
type SignInStep struct{}

func NewSignInStep() *SignInStep {
	return &SignInStep{}
}

func (s *SignInStep) Name() string {
	return "sign_in"
}

func (s *SignInStep) Order() int {
	return OrderSignIn
}

func (s *SignInStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.Profile.SignIn == nil
}

func (s *SignInStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	sel := *flowContext.Profile.SignIn
	if err := waitVisible(ctx, flowContext, sel, flowContext.Options.ElementTimeout, "sign-in button"); err != nil {
		return nil, err
	}
	if err := click(ctx, flowContext, sel); err != nil {
		return nil, err
	}
	return &StepResult{}, nil
}

// ChallengeProbeStep stops the flow when the login page already shows a
// verification widget, such as a CAPTCHA, that cannot be completed automatically.
type ChallengeProbeStep struct{}

func NewChallengeProbeStep() *ChallengeProbeStep {
	return &ChallengeProbeStep{}
}

func (s *ChallengeProbeStep) Name() string {
	return "challenge_probe"
}

func (s *ChallengeProbeStep) Order() int {
	return OrderChallengeProbe
}

func (s *ChallengeProbeStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return len(flowContext.Profile.ChallengeMarkers) == 0
}

func (s *ChallengeProbeStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	i, err := firstVisible(ctx, flowContext.Page, flowContext.Profile.ChallengeMarkers)
	if err != nil {
		return nil, err
	}
	if i >= 0 {
		return &StepResult{Error: unsupportedChallenge(flowContext.Profile)}, nil
	}
	return &StepResult{}, nil
}

// FieldStep waits for a form field and types a value into it.
type FieldStep struct {
	name    string
	order   int
	field   func(*Profile) browser.Selector
	value   func(*FlowContext) string
	timeout func(Options) time.Duration
}

func (s *FieldStep) Name() string {
	return s.name
}

func (s *FieldStep) Order() int {
	return s.order
}

func (s *FieldStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *FieldStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	sel := s.field(flowContext.Profile)
	if err := waitVisible(ctx, flowContext, sel, s.timeout(flowContext.Options), s.name+" field"); err != nil {
		return nil, err
	}
	if err := typeHuman(ctx, flowContext, sel, s.value(flowContext)); err != nil {
		return nil, err
	}
	return &StepResult{}, nil
}

func elementTimeout(o Options) time.Duration {
	return o.ElementTimeout
}

func NewIdentifierStep() *FieldStep {
	return &FieldStep{
		name:    "identifier",
		order:   OrderIdentifier,
		field:   func(p *Profile) browser.Selector { return p.Identifier },
		value:   func(fc *FlowContext) string { return fc.Credentials.Identifier },
		timeout: elementTimeout,
	}
}

func NewSecretStep() *FieldStep {
	return &FieldStep{
		name:    "password",
		order:   OrderSecret,
		field:   func(p *Profile) browser.Selector { return p.Secret },
		value:   func(fc *FlowContext) string { return fc.Credentials.Secret },
		timeout: elementTimeout,
	}
}

// NewCodeEntryStep types the verification code into the held page. The code
// input must still be there; the probe timeout bounds the check.
func NewCodeEntryStep() *FieldStep {
	return &FieldStep{
		name:    "verification code",
		order:   OrderCodeEntry,
		field:   func(p *Profile) browser.Selector { return p.CodeInput },
		value:   func(fc *FlowContext) string { return fc.Code },
		timeout: func(o Options) time.Duration { return o.TwoFactorProbeTimeout },
	}
}

// ClickStep clicks a button of the form.
type ClickStep struct {
	name   string
	order  int
	target func(*Profile) *browser.Selector
	next   State
	// enter submits with the Enter key on fallback when target is nil.
	enter func(*Profile) browser.Selector
}

func (s *ClickStep) Name() string {
	return s.name
}

func (s *ClickStep) Order() int {
	return s.order
}

func (s *ClickStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return s.target(flowContext.Profile) == nil && s.enter == nil
}

func (s *ClickStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	target := s.target(flowContext.Profile)
	if target == nil {
		sel := s.enter(flowContext.Profile)
		err := act(ctx, flowContext.Options.ElementTimeout, fmt.Sprintf("submitting %s", sel), func(ctx context.Context) error {
			return flowContext.Page.SendKeys(ctx, sel, "\r")
		})
		if err != nil {
			return nil, err
		}
		return &StepResult{Next: s.next}, nil
	}
	if err := waitVisible(ctx, flowContext, *target, flowContext.Options.ElementTimeout, s.name+" button"); err != nil {
		return nil, err
	}
	if err := click(ctx, flowContext, *target); err != nil {
		return nil, err
	}
	return &StepResult{Next: s.next}, nil
}

func NewIdentifierContinueStep() *ClickStep {
	return &ClickStep{
		name:   "continue",
		order:  OrderIdentifierContinue,
		target: func(p *Profile) *browser.Selector { return p.IdentifierContinue },
	}
}

func NewSubmitStep() *ClickStep {
	return &ClickStep{
		name:   "submit",
		order:  OrderSubmit,
		target: func(p *Profile) *browser.Selector { return &p.Submit },
		next:   StateCredentialsSubmitted,
	}
}

func NewCodeSubmitStep() *ClickStep {
	return &ClickStep{
		name:   "code submit",
		order:  OrderCodeSubmit,
		target: func(p *Profile) *browser.Selector { return p.CodeSubmit },
		next:   StateCodeSubmitted,
		enter:  func(p *Profile) browser.Selector { return p.CodeInput },
	}
}

// AwaitOutcomeStep polls the page after the credentials are submitted. Each
// tick checks failure markers first, so a rejected password is never
// reported as a two-factor prompt, then unsupported challenges, then the
// two-factor prompt, then success.
type AwaitOutcomeStep struct{}

func NewAwaitOutcomeStep() *AwaitOutcomeStep {
	return &AwaitOutcomeStep{}
}

func (s *AwaitOutcomeStep) Name() string {
	return "await_outcome"
}

func (s *AwaitOutcomeStep) Order() int {
	return OrderAwaitOutcome
}

func (s *AwaitOutcomeStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *AwaitOutcomeStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	p := flowContext.Profile
	timeout := flowContext.Options.OutcomeTimeout

	var result *StepResult
	err := poll(ctx, timeout, flowContext.Options.PollInterval, func(ctx context.Context) (bool, error) {
		i, err := firstVisible(ctx, flowContext.Page, p.FailureMarkers, p.ChallengeMarkers, p.TwoFactorMarkers)
		if err != nil {
			return false, err
		}
		switch i {
		case 0:
			result = &StepResult{Error: newError(platform.ReasonInvalidCredentials,
				fmt.Sprintf("%s rejected the email or password.", p.Platform.DisplayName()), nil)}
			return true, nil
		case 1:
			result = &StepResult{Error: unsupportedChallenge(p)}
			return true, nil
		case 2:
			flowContext.Outcome.Hint = p.hint(flowContext.Credentials)
			result = &StepResult{Next: StateTwoFactorPrompt, Stop: true}
			return true, nil
		}

		ok, err := p.succeeded(ctx, flowContext.Page)
		if ok {
			result = &StepResult{Next: StateAuthenticated}
		}
		return ok, err
	})
	if errors.Is(err, errWaitTimeout) {
		return &StepResult{Error: newError(platform.ReasonUnexpectedPageState,
			fmt.Sprintf("no login outcome within %s", timeout), nil)}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AwaitVerificationStep polls the page after a verification code is
// submitted: a rejection marker, an unsupported challenge or success.
type AwaitVerificationStep struct{}

func NewAwaitVerificationStep() *AwaitVerificationStep {
	return &AwaitVerificationStep{}
}

func (s *AwaitVerificationStep) Name() string {
	return "await_verification"
}

func (s *AwaitVerificationStep) Order() int {
	return OrderAwaitVerification
}

func (s *AwaitVerificationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *AwaitVerificationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	p := flowContext.Profile
	timeout := flowContext.Options.OutcomeTimeout

	var result *StepResult
	err := poll(ctx, timeout, flowContext.Options.PollInterval, func(ctx context.Context) (bool, error) {
		i, err := firstVisible(ctx, flowContext.Page, p.CodeRejectedMarkers, p.ChallengeMarkers)
		if err != nil {
			return false, err
		}
		switch i {
		case 0:
			result = &StepResult{
				Next: StateCodeRejected,
				Error: newError(platform.ReasonInvalidCredentials,
					fmt.Sprintf("%s did not accept the verification code.", p.Platform.DisplayName()), nil),
			}
			return true, nil
		case 1:
			result = &StepResult{Error: unsupportedChallenge(p)}
			return true, nil
		}

		ok, err := p.succeeded(ctx, flowContext.Page)
		if ok {
			result = &StepResult{Next: StateAuthenticated}
		}
		return ok, err
	})
	if errors.Is(err, errWaitTimeout) {
		return &StepResult{Error: newError(platform.ReasonUnexpectedPageState,
			fmt.Sprintf("no verification outcome within %s", timeout), nil)}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractSessionStep serializes the cookie jar of an authenticated page and
// reads the platform's account id when the page exposes one.
type ExtractSessionStep struct{}

func NewExtractSessionStep() *ExtractSessionStep {
	return &ExtractSessionStep{}
}

func (s *ExtractSessionStep) Name() string {
	return "extract_session"
}

func (s *ExtractSessionStep) Order() int {
	return OrderExtractSession
}

func (s *ExtractSessionStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.State != StateAuthenticated
}

func (s *ExtractSessionStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	timeout := flowContext.Options.ElementTimeout
	var cookies []browser.Cookie
	err := act(ctx, timeout, "reading session cookies", func(ctx context.Context) error {
		var err error
		cookies, err = flowContext.Page.Cookies(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	token := SerializeCookies(cookies)
	if token == "" {
		return &StepResult{Error: newError(platform.ReasonUnexpectedPageState,
			"login succeeded but the page holds no session cookies", nil)}, nil
	}
	flowContext.Outcome.SessionToken = token

	if extract := flowContext.Profile.AccountID; extract != nil {
		var id string
		err := act(ctx, timeout, "reading external account id", func(ctx context.Context) error {
			var err error
			id, err = extract(ctx, flowContext.Page)
			return err
		})
		if err != nil {
			slog.Warn("Failed to read external account id",
				"platform", flowContext.Profile.Platform, "error", err)
		}
		flowContext.Outcome.AccountID = id
	}

	return &StepResult{Stop: true}, nil
}

func click(ctx context.Context, fc *FlowContext, sel browser.Selector) error {
	return act(ctx, fc.Options.ElementTimeout, fmt.Sprintf("click on %s", sel), func(ctx context.Context) error {
		return fc.Page.Click(ctx, sel)
	})
}

func unsupportedChallenge(p *Profile) *Error {
	return newError(platform.ReasonUnsupportedChallenge,
		fmt.Sprintf("%s asked for a verification step (such as a CAPTCHA) that cannot be completed automatically. Sign in once from a regular browser, then try again.",
			p.Platform.DisplayName()), nil)
}
