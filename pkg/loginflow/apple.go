package loginflow

import (
	"regexp"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// AppleAuthFrame is the name of the iframe hosting Apple's sign-in widget.
const AppleAuthFrame = "aid-auth-widget-iFrame"

// AppleProfile is the Apple Music for Artists login UI. The identifier and
// password are entered in two stages inside the sign-in widget.
func AppleProfile() Profile {
	signIn := browser.CSS(`button[data-testid="sign-in-button"]`)
	cont := browser.InFrame(AppleAuthFrame, ".si-continue-button")
	codeSubmit := browser.InFrame(AppleAuthFrame, ".trust-continue-button")

	return Profile{
		Platform: platform.AppleMusic,
		LoginURL: "https://artists.apple.com",

		SignIn:             &signIn,
		Identifier:         browser.InFrame(AppleAuthFrame, "#account_name_text_field"),
		IdentifierContinue: &cont,
		Secret:             browser.InFrame(AppleAuthFrame, "#password_text_field"),
		Submit:             cont,

		FailureMarkers: []browser.Selector{
			browser.InFrame(AppleAuthFrame, "#errMsg"),
			browser.InFrame(AppleAuthFrame, ".form-message.is-error"),
		},
		ChallengeMarkers: []browser.Selector{
			browser.InFrame(AppleAuthFrame, "#captchaInput"),
		},
		TwoFactorMarkers: []browser.Selector{
			browser.InFrame(AppleAuthFrame, ".phone-number-verification"),
			browser.InFrame(AppleAuthFrame, ".trust-code-input"),
		},
		SuccessURLs: []*regexp.Regexp{
			regexp.MustCompile(`^https://artists\.apple\.com/(?:a|artists?|ai)/`),
		},

		CodeInput:  browser.InFrame(AppleAuthFrame, ".trust-code-input"),
		CodeSubmit: &codeSubmit,
		CodeRejectedMarkers: []browser.Selector{
			browser.InFrame(AppleAuthFrame, ".security-code .has-errors"),
			browser.InFrame(AppleAuthFrame, ".form-message.is-error"),
		},

		TwoFactorHint: func(platform.Credentials) string {
			return "Enter the verification code shown on your trusted Apple devices."
		},
	}
}
