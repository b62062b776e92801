// Package loginflow drives third-party login pages through a browser.Page.
//
// # Overview
//
// A flow is an explicit state machine built from ordered steps:
//
//	Start -> NavigatedToLogin -> CredentialsSubmitted -> Authenticated | TwoFactorPrompt | LoginFailed
//	TwoFactorPrompt -> CodeSubmitted -> Authenticated | CodeRejected
//
// Each step names the transition it makes. Every wait polls the page with a
// bounded timeout; a wait that runs out ends the flow as LoginFailed with
// reason unexpected_page_state instead of hanging on a live browser.
//
// # Platforms
//
// The page vocabulary of a platform (URLs, selectors, markers) is a Profile.
// AppleProfile and DistroKidProfile describe the supported platforms and
// ForPlatform selects one:
//
//	flow, err := loginflow.ForPlatform(platform.DistroKid, loginflow.DefaultOptions())
//	outcome := flow.Login(ctx, page, creds)
//	switch outcome.State {
//	case loginflow.StateAuthenticated:
//		store(outcome.SessionToken)
//	case loginflow.StateTwoFactorPrompt:
//		// keep page open, later:
//		outcome = flow.SubmitCode(ctx, page, code)
//	}
//
// # Outcome detection
//
// After credentials are submitted the page is checked on every tick in a
// fixed order: failure banners, unsupported challenges (CAPTCHA), the
// two-factor prompt, then success. A wrong password is therefore never
// reported as a two-factor request.
//
// # Typing
//
// Credentials and codes are typed one character per keystroke with a
// jittered delay (Options.KeystrokeDelay and Options.KeystrokeJitter).
// These services flag instant form fills as automation.
package loginflow
