package loginflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// LoginFlow drives one platform's login UI to a terminal state.
type LoginFlow interface {
	Platform() platform.Platform
	// Login runs Start through Authenticated, TwoFactorPrompt or LoginFailed.
	Login(ctx context.Context, page browser.Page, creds platform.Credentials) Outcome
	// SubmitCode runs TwoFactorPrompt through Authenticated or CodeRejected on
	// a page left at the prompt by Login.
	SubmitCode(ctx context.Context, page browser.Page, code string) Outcome
}

// Profile is the page vocabulary of one platform's login UI. Optional steps
// are nil selectors.
type Profile struct {
	Platform platform.Platform
	LoginURL string

	// SignIn opens the form from a landing page.
	SignIn     *browser.Selector
	Identifier browser.Selector
	// IdentifierContinue reveals the password field on two-stage forms.
	IdentifierContinue *browser.Selector
	Secret             browser.Selector
	Submit             browser.Selector

	FailureMarkers   []browser.Selector
	ChallengeMarkers []browser.Selector
	TwoFactorMarkers []browser.Selector
	SuccessMarkers   []browser.Selector
	SuccessURLs      []*regexp.Regexp

	CodeInput browser.Selector
	// CodeSubmit is clicked after the code is typed. Nil submits with Enter.
	CodeSubmit          *browser.Selector
	CodeRejectedMarkers []browser.Selector

	AccountID     func(ctx context.Context, page browser.Page) (string, error)
	TwoFactorHint func(creds platform.Credentials) string
}

func (p *Profile) hint(creds platform.Credentials) string {
	if p.TwoFactorHint != nil {
		return p.TwoFactorHint(creds)
	}
	return "Enter the verification code sent by " + p.Platform.DisplayName() + "."
}

func (p *Profile) succeeded(ctx context.Context, page browser.Page) (bool, error) {
	i, err := firstVisible(ctx, page, p.SuccessMarkers)
	if err != nil || i >= 0 {
		return i >= 0, err
	}
	if len(p.SuccessURLs) == 0 {
		return false, nil
	}
	url, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	for _, re := range p.SuccessURLs {
		if re.MatchString(url) {
			return true, nil
		}
	}
	return false, nil
}

// Flow is a LoginFlow built from a Profile.
type Flow struct {
	profile Profile
	opts    Options
	login   *FlowExecutor
	verify  *FlowExecutor
}

func NewFlow(profile Profile, opts Options) *Flow {
	return &Flow{
		profile: profile,
		opts:    opts.withDefaults(),
		login: NewFlowBuilder().
			AddStep(NewNavigateStep()).
			AddStep(NewSignInStep()).
			AddStep(NewChallengeProbeStep()).
			AddStep(NewIdentifierStep()).
			AddStep(NewIdentifierContinueStep()).
			AddStep(NewSecretStep()).
			AddStep(NewSubmitStep()).
			AddStep(NewAwaitOutcomeStep()).
			AddStep(NewExtractSessionStep()).
			Build(),
		verify: NewFlowBuilder().
			AddStep(NewCodeEntryStep()).
			AddStep(NewCodeSubmitStep()).
			AddStep(NewAwaitVerificationStep()).
			AddStep(NewExtractSessionStep()).
			Build(),
	}
}

// ForPlatform returns the flow for p.
func ForPlatform(p platform.Platform, opts Options) (LoginFlow, error) {
	switch p {
	case platform.AppleMusic:
		return NewFlow(AppleProfile(), opts), nil
	case platform.DistroKid:
		return NewFlow(DistroKidProfile(), opts), nil
	}
	return nil, fmt.Errorf("loginflow: no login flow for platform %q", p)
}

func (f *Flow) Platform() platform.Platform {
	return f.profile.Platform
}

// Profile returns a copy of the flow's page vocabulary.
func (f *Flow) Profile() Profile {
	return f.profile
}

func (f *Flow) Login(ctx context.Context, page browser.Page, creds platform.Credentials) Outcome {
	profile := f.profile
	return f.login.Execute(ctx, &FlowContext{
		Page:        page,
		Profile:     &profile,
		Options:     f.opts,
		Credentials: creds,
		State:       StateStart,
	})
}

func (f *Flow) SubmitCode(ctx context.Context, page browser.Page, code string) Outcome {
	code = strings.TrimSpace(code)
	if code == "" {
		return Outcome{
			State: StateCodeRejected,
			Err:   newError(platform.ReasonInvalidCredentials, "A verification code is required.", nil),
		}
	}
	profile := f.profile
	return f.verify.Execute(ctx, &FlowContext{
		Page:    page,
		Profile: &profile,
		Options: f.opts,
		Code:    code,
		State:   StateTwoFactorPrompt,
	})
}
