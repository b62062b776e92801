package api

// InitiateAuthRequest is the body of POST /{platform}/auth.
type InitiateAuthRequest struct {
	ArtistID    string `json:"artist_id"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// SubmitCodeRequest is the body of POST /{platform}/auth/2fa.
type SubmitCodeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// Values of AuthResponse.Status.
const (
	StatusSuccess          = "success"
	StatusPendingTwoFactor = "pending_two_factor"
	StatusFailure          = "failure"
)

// AuthResponse mirrors one platformauth.Result variant. The session token
// itself never leaves the server.
type AuthResponse struct {
	Status            string `json:"status"`
	Platform          string `json:"platform"`
	ExternalAccountID string `json:"external_account_id,omitempty"`
	AuthenticatedAt   string `json:"authenticated_at,omitempty"`
	ChallengeID       string `json:"challenge_id,omitempty"`
	Hint              string `json:"hint,omitempty"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
}

// SessionStatusResponse is the body of GET /{platform}/session.
type SessionStatusResponse struct {
	Platform          string  `json:"platform"`
	Connected         bool    `json:"connected"`
	Identifier        string  `json:"identifier,omitempty"`
	ExternalAccountID string  `json:"external_account_id,omitempty"`
	AuthenticatedAt   *string `json:"authenticated_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
