package loginflow

import (
	"context"
	"regexp"
	"strconv"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// DistroKidUserExpression reads the signed-in account id from the dashboard.
const DistroKidUserExpression = `window.distrokidUser ? window.distrokidUser.id : null`

var distroKidUserURL = regexp.MustCompile(`user[/=](\d+)`)

// DistroKidProfile is the DistroKid sign-in form. The verification code is
// entered into the same page the password was submitted from.
func DistroKidProfile() Profile {
	submit := browser.CSS(`button[type="submit"]`)

	return Profile{
		Platform: platform.DistroKid,
		LoginURL: "https://distrokid.com/signin",

		Identifier: browser.CSS(`input[name="email"]`),
		Secret:     browser.CSS(`input[name="password"]`),
		Submit:     submit,

		FailureMarkers: []browser.Selector{
			browser.CSS(".alert-danger"),
			browser.CSS("#signinError"),
		},
		ChallengeMarkers: []browser.Selector{
			browser.CSS(".g-recaptcha"),
		},
		TwoFactorMarkers: []browser.Selector{
			browser.CSS("#TwoFactorInputBox"),
		},
		SuccessMarkers: []browser.Selector{
			browser.CSS(`a[href*="/signout"]`),
		},
		SuccessURLs: []*regexp.Regexp{
			regexp.MustCompile(`^https://distrokid\.com/(?:dashboard|mymusic|bank)`),
		},

		CodeInput:  browser.CSS("#TwoFactorInputBox"),
		CodeSubmit: &submit,
		CodeRejectedMarkers: []browser.Selector{
			browser.CSS(".alert-danger"),
		},

		AccountID: distroKidAccountID,
		TwoFactorHint: func(creds platform.Credentials) string {
			if suffix := creds.ContactSuffix(); suffix != "" {
				return "Enter the code DistroKid sent to the phone number ending in " + suffix + "."
			}
			return "Enter the code DistroKid sent to your phone."
		},
	}
}

func distroKidAccountID(ctx context.Context, page browser.Page) (string, error) {
	var id any
	if err := page.Evaluate(ctx, DistroKidUserExpression, &id); err == nil {
		switch v := id.(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}

	url, err := page.URL(ctx)
	if err != nil {
		return "", err
	}
	if m := distroKidUserURL.FindStringSubmatch(url); m != nil {
		return m[1], nil
	}
	return "", nil
}
