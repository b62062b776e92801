// Package loginflowtest scripts fake platform login pages from a
// loginflow.Profile, so flows and everything built on them can be exercised
// without a real browser.
package loginflowtest

import (
	"context"
	"errors"
	"sync"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/browser/browsertest"
	"github.com/tendant/simple-platform-auth/pkg/loginflow"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// Behavior is how a site answers submitted credentials.
type Behavior int

const (
	// Reject shows a login error banner.
	Reject Behavior = iota
	// Accept signs in without a second factor.
	Accept
	// TwoFactor asks for a verification code and accepts Site.Code.
	TwoFactor
	// Stall never shows a terminal marker.
	Stall
	// Captcha shows a CAPTCHA on the login page.
	Captcha
	// Ambiguous shows the error banner and the two-factor prompt together.
	Ambiguous
)

// AcceptedCode is the verification code sites accept by default.
const AcceptedCode = "123456"

// DefaultCookies are set on a successful sign-in.
func DefaultCookies() []browser.Cookie {
	return []browser.Cookie{
		{Name: "sid", Value: "abc123", Path: "/"},
		{Name: "auth", Value: "1", Path: "/"},
	}
}

// Site is a fake login UI for one platform.
type Site struct {
	Profile  loginflow.Profile
	Behavior Behavior
	Code     string
	Cookies  []browser.Cookie
	// SuccessURL is where a successful sign-in lands.
	SuccessURL string
	// AccountID is exposed through the DistroKid user expression when set.
	AccountID string
	// FailNavigations is the number of login page loads that fail before one succeeds.
	FailNavigations int

	mu          sync.Mutex
	navFailures int
	codes       []string
}

// NewSite returns a site for p answering with b.
func NewSite(p platform.Platform, b Behavior) *Site {
	flow, err := loginflow.ForPlatform(p, loginflow.DefaultOptions())
	if err != nil {
		panic(err)
	}
	s := &Site{
		Profile:  flow.(*loginflow.Flow).Profile(),
		Behavior: b,
		Code:     AcceptedCode,
		Cookies:  DefaultCookies(),
	}
	switch p {
	case platform.AppleMusic:
		s.SuccessURL = "https://artists.apple.com/a/artist/1234567890"
	case platform.DistroKid:
		s.SuccessURL = "https://distrokid.com/dashboard/?user=98765"
	}
	return s
}

// Launcher returns a fake launcher whose pages serve this site.
func (s *Site) Launcher() *browsertest.Launcher {
	return &browsertest.Launcher{NewPage: s.Page}
}

// Codes returns every verification code submitted to the site.
func (s *Site) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...)
}

type stage int

const (
	stageLanding stage = iota
	stageIdentifier
	stagePassword
	stageCode
	stageDone
)

// Page returns a new page scripted with the site's behavior.
func (s *Site) Page() *browsertest.Page {
	p := browsertest.NewPage()
	prof := s.Profile

	var mu sync.Mutex
	current := stageLanding
	setStage := func(st stage) {
		mu.Lock()
		current = st
		mu.Unlock()
	}
	getStage := func() stage {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	showForm := func() {
		p.Show(prof.Identifier)
		if prof.IdentifierContinue != nil {
			p.Show(*prof.IdentifierContinue)
			setStage(stageIdentifier)
			return
		}
		p.Show(prof.Secret, prof.Submit)
		setStage(stagePassword)
	}

	succeed := func() {
		p.Clear()
		p.SetURL(s.SuccessURL)
		p.SetCookies(s.Cookies...)
		if len(prof.SuccessMarkers) > 0 {
			p.Show(prof.SuccessMarkers[0])
		}
		if s.AccountID != "" {
			p.SetEval(loginflow.DistroKidUserExpression, s.AccountID)
		}
		setStage(stageDone)
	}

	p.OnNavigate = func(ctx context.Context, p *browsertest.Page, url string) error {
		if url != prof.LoginURL {
			return nil
		}
		s.mu.Lock()
		fail := s.navFailures < s.FailNavigations
		if fail {
			s.navFailures++
		}
		s.mu.Unlock()
		if fail {
			return errors.New("net::ERR_CONNECTION_RESET")
		}

		p.Clear()
		if s.Behavior == Captcha && len(prof.ChallengeMarkers) > 0 {
			p.Show(prof.ChallengeMarkers[0])
		}
		if prof.SignIn != nil {
			p.Show(*prof.SignIn)
			setStage(stageLanding)
			return nil
		}
		showForm()
		return nil
	}

	p.OnClick = func(ctx context.Context, p *browsertest.Page, sel browser.Selector) error {
		switch st := getStage(); {
		case st == stageLanding && prof.SignIn != nil && sel == *prof.SignIn:
			showForm()
		case st == stageIdentifier && prof.IdentifierContinue != nil && sel == *prof.IdentifierContinue:
			p.Show(prof.Secret, prof.Submit)
			setStage(stagePassword)
		case st == stagePassword && sel == prof.Submit:
			s.answerCredentials(p, prof, setStage, succeed)
		case st == stageCode && prof.CodeSubmit != nil && sel == *prof.CodeSubmit:
			s.answerCode(p, prof, succeed)
		}
		return nil
	}

	p.OnKeys = func(ctx context.Context, p *browsertest.Page, sel browser.Selector, keys string) error {
		if keys == "\r" && getStage() == stageCode && sel == prof.CodeInput {
			s.answerCode(p, prof, succeed)
		}
		return nil
	}

	return p
}

func (s *Site) answerCredentials(p *browsertest.Page, prof loginflow.Profile, setStage func(stage), succeed func()) {
	switch s.Behavior {
	case Reject:
		p.Show(prof.FailureMarkers[0])
	case Accept:
		succeed()
	case TwoFactor, Ambiguous:
		if s.Behavior == Ambiguous {
			p.Show(prof.FailureMarkers[0])
		}
		p.Show(prof.TwoFactorMarkers...)
		p.Show(prof.CodeInput)
		if prof.CodeSubmit != nil {
			p.Show(*prof.CodeSubmit)
		}
		setStage(stageCode)
	}
}

func (s *Site) answerCode(p *browsertest.Page, prof loginflow.Profile, succeed func()) {
	code := p.Typed(prof.CodeInput)
	p.ClearTyped(prof.CodeInput)

	s.mu.Lock()
	s.codes = append(s.codes, code)
	s.mu.Unlock()

	if code == s.Code {
		succeed()
		return
	}
	if len(prof.CodeRejectedMarkers) > 0 {
		p.Show(prof.CodeRejectedMarkers[0])
	}
}
