package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-platform-auth/pkg/connector"
	"github.com/tendant/simple-platform-auth/pkg/platform"
	"github.com/tendant/simple-platform-auth/pkg/platformauth"
	"github.com/tendant/simple-platform-auth/pkg/ratelimit"
)

// Handle serves the platform connection API.
type Handle struct {
	service  *connector.Service
	attempts *ratelimit.Limiter
}

type Option func(*Handle)

// WithAttemptLimiter throttles initiate-auth per (artist, platform).
func WithAttemptLimiter(l *ratelimit.Limiter) Option {
	return func(h *Handle) {
		h.attempts = l
	}
}

func NewHandle(service *connector.Service, opts ...Option) *Handle {
	h := &Handle{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns a http.Handler for the platform connection API
func Handler(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/{platform}/auth", h.InitiateAuth)
	r.Post("/{platform}/auth/2fa", h.SubmitCode)
	r.Get("/{platform}/session", h.GetSessionStatus)

	return r
}

func platformParam(w http.ResponseWriter, r *http.Request) (platform.Platform, bool) {
	p, err := platform.Parse(chi.URLParam(r, "platform"))
	if err != nil {
		renderError(w, r, http.StatusNotFound, "Unsupported platform")
		return "", false
	}
	return p, true
}

// InitiateAuth handles POST /{platform}/auth
func (h *Handle) InitiateAuth(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}

	var req InitiateAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Failed to decode request body", "error", err)
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.ArtistID == "" {
		renderError(w, r, http.StatusBadRequest, "Email, password, and artist ID are required")
		return
	}

	if h.attempts != nil {
		key := ratelimit.AttemptKey(req.ArtistID, p)
		if !h.attempts.Allow(key) {
			slog.Warn("Login attempts throttled", "platform", p, "artistID", req.ArtistID)
			ratelimit.Exceeded(w, r, h.attempts.RetryAfter(key))
			return
		}
	}

	creds := platform.Credentials{Identifier: req.Email, Secret: req.Password, Contact: req.PhoneNumber}
	res, err := h.service.Initiate(r.Context(), p, req.ArtistID, creds)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	renderResult(w, r, p, res)
}

// SubmitCode handles POST /{platform}/auth/2fa
func (h *Handle) SubmitCode(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}

	var req SubmitCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Failed to decode request body", "error", err)
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ChallengeID == "" || req.Code == "" {
		renderError(w, r, http.StatusBadRequest, "Verification code and challenge ID are required")
		return
	}

	res, err := h.service.SubmitCode(r.Context(), p, req.ChallengeID, req.Code)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	renderResult(w, r, p, res)
}

// GetSessionStatus handles GET /{platform}/session?artist_id=
func (h *Handle) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := platformParam(w, r)
	if !ok {
		return
	}
	artistID := r.URL.Query().Get("artist_id")
	if artistID == "" {
		renderError(w, r, http.StatusBadRequest, "artist_id is required")
		return
	}

	status, err := h.service.Status(r.Context(), p, artistID)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	response := SessionStatusResponse{
		Platform:          string(p),
		Connected:         status.Connected,
		Identifier:        status.Identifier,
		ExternalAccountID: status.ExternalAccountID,
	}
	if status.Connected && !status.AuthenticatedAt.IsZero() {
		at := status.AuthenticatedAt.UTC().Format(time.RFC3339)
		response.AuthenticatedAt = &at
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

func (h *Handle) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, connector.ErrUnsupportedPlatform):
		renderError(w, r, http.StatusNotFound, "Unsupported platform")
	case errors.Is(err, connector.ErrMissingArtist), errors.Is(err, connector.ErrMissingChallenge):
		renderError(w, r, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Platform connection request failed", "path", r.URL.Path, "error", err)
		renderError(w, r, http.StatusInternalServerError, "An error occurred while processing the request")
	}
}

func renderResult(w http.ResponseWriter, r *http.Request, p platform.Platform, res platformauth.Result) {
	switch v := res.(type) {
	case platformauth.Success:
		render.Status(r, http.StatusOK)
		render.JSON(w, r, AuthResponse{
			Status:            StatusSuccess,
			Platform:          string(p),
			ExternalAccountID: v.ExternalAccountID,
			AuthenticatedAt:   v.AuthenticatedAt.UTC().Format(time.RFC3339),
		})
	case platformauth.PendingTwoFactor:
		render.Status(r, http.StatusOK)
		render.JSON(w, r, AuthResponse{
			Status:      StatusPendingTwoFactor,
			Platform:    string(p),
			ChallengeID: v.ChallengeID,
			Hint:        v.Hint,
			ExpiresAt:   v.ExpiresAt.UTC().Format(time.RFC3339),
		})
	case platformauth.Failure:
		render.Status(r, failureStatus(v.Reason))
		render.JSON(w, r, AuthResponse{
			Status:   StatusFailure,
			Platform: string(p),
			Reason:   string(v.Reason),
			Message:  v.UserMessage(),
		})
	default:
		slog.Error("Unknown authentication result", "result", res)
		renderError(w, r, http.StatusInternalServerError, "An error occurred while processing the request")
	}
}

// failureStatus maps a failure reason onto an HTTP status.
func failureStatus(reason platform.Reason) int {
	switch reason {
	case platform.ReasonInvalidCredentials:
		return http.StatusUnauthorized
	case platform.ReasonUnsupportedChallenge:
		return http.StatusUnprocessableEntity
	case platform.ReasonChallengeExpiredOrInvalid:
		return http.StatusBadRequest
	case platform.ReasonCapacityExceeded, platform.ReasonEnvironmentError:
		return http.StatusServiceUnavailable
	case platform.ReasonNetworkError, platform.ReasonUnexpectedPageState:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// renderError renders an error response with the given status code and message
func renderError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	render.Status(r, statusCode)
	render.JSON(w, r, ErrorResponse{
		Status:  "error",
		Message: message,
	})
}
