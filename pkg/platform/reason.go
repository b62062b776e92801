package platform

// Reason classifies why an authentication did not succeed.
type Reason string

const (
	ReasonInvalidCredentials        Reason = "invalid_credentials"
	ReasonUnsupportedChallenge      Reason = "unsupported_challenge"
	ReasonUnexpectedPageState       Reason = "unexpected_page_state"
	ReasonEnvironmentError          Reason = "environment_error"
	ReasonNetworkError              Reason = "network_error"
	ReasonChallengeExpiredOrInvalid Reason = "challenge_expired_or_invalid"
	ReasonCapacityExceeded          Reason = "capacity_exceeded"
)

// Actionable reports whether the detail message is meant for the end user.
// Infrastructure failures are only described in logs.
func (r Reason) Actionable() bool {
	return r == ReasonInvalidCredentials || r == ReasonUnsupportedChallenge
}

// UserMessage is the text shown to the end user for a failure with the given detail.
func (r Reason) UserMessage(detail string) string {
	switch r {
	case ReasonInvalidCredentials, ReasonUnsupportedChallenge:
		if detail != "" {
			return detail
		}
		if r == ReasonInvalidCredentials {
			return "The platform rejected the email or password."
		}
		return "The platform asked for a verification step that cannot be completed automatically."
	case ReasonChallengeExpiredOrInvalid:
		return "This verification request has expired or was already used. Please start the connection again."
	case ReasonCapacityExceeded:
		return "Too many connections are waiting for verification right now. Please try again in a few minutes."
	}
	return "The platform could not be reached right now. Please try again later."
}
