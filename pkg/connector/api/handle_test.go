package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-platform-auth/pkg/challenge"
	"github.com/tendant/simple-platform-auth/pkg/connector"
	"github.com/tendant/simple-platform-auth/pkg/jobs"
	"github.com/tendant/simple-platform-auth/pkg/loginflow"
	"github.com/tendant/simple-platform-auth/pkg/loginflow/loginflowtest"
	"github.com/tendant/simple-platform-auth/pkg/platform"
	"github.com/tendant/simple-platform-auth/pkg/platformauth"
	"github.com/tendant/simple-platform-auth/pkg/ratelimit"
	"github.com/tendant/simple-platform-auth/pkg/vault"
)

func fastOptions() loginflow.Options {
	return loginflow.Options{
		NavigationTimeout:     time.Second,
		RetryInterval:         time.Millisecond,
		ElementTimeout:        time.Second,
		OutcomeTimeout:        time.Second,
		TwoFactorProbeTimeout: 500 * time.Millisecond,
		PollInterval:          5 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, behavior loginflowtest.Behavior, opts ...Option) http.Handler {
	t.Helper()
	registry := challenge.NewRegistry(challenge.Options{TTL: time.Minute, MaxPending: 10})
	t.Cleanup(func() { _ = registry.Close() })

	var auths []connector.Authenticator
	for _, p := range platform.All() {
		flow, err := loginflow.ForPlatform(p, fastOptions())
		require.NoError(t, err)
		site := loginflowtest.NewSite(p, behavior)
		auths = append(auths, platformauth.New(flow, site.Launcher(), registry))
	}
	service := connector.NewService(vault.NewInMemVault(), auths, connector.WithJobs(jobs.NewInMemQueue()))
	t.Cleanup(service.Shutdown)
	return Handler(NewHandle(service, opts...))
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var validAuth = InitiateAuthRequest{ArtistID: "artist-1", Email: "artist@example.com", Password: "correct-horse"}

func TestInitiateAuthSuccess(t *testing.T) {
	h := newTestServer(t, loginflowtest.Accept)

	rec := do(t, h, http.MethodPost, "/distrokid/auth", validAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AuthResponse](t, rec)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "distrokid", resp.Platform)
	assert.NotEmpty(t, resp.AuthenticatedAt)
	assert.NotContains(t, rec.Body.String(), "abc123", "session token must not be returned")

	rec = do(t, h, http.MethodGet, "/distrokid/session?artist_id=artist-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[SessionStatusResponse](t, rec)
	assert.True(t, status.Connected)
	assert.Equal(t, "artist@example.com", status.Identifier)
	require.NotNil(t, status.AuthenticatedAt)
}

func TestInitiateAuthTwoFactorFlow(t *testing.T) {
	h := newTestServer(t, loginflowtest.TwoFactor)

	rec := do(t, h, http.MethodPost, "/apple/auth", validAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pending := decode[AuthResponse](t, rec)
	assert.Equal(t, StatusPendingTwoFactor, pending.Status)
	assert.Equal(t, "apple-music", pending.Platform)
	require.NotEmpty(t, pending.ChallengeID)
	assert.NotEmpty(t, pending.Hint)
	assert.NotEmpty(t, pending.ExpiresAt)

	rec = do(t, h, http.MethodGet, "/apple-music/session?artist_id=artist-1", nil)
	assert.False(t, decode[SessionStatusResponse](t, rec).Connected)

	rec = do(t, h, http.MethodPost, "/apple-music/auth/2fa",
		SubmitCodeRequest{ChallengeID: pending.ChallengeID, Code: loginflowtest.AcceptedCode})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StatusSuccess, decode[AuthResponse](t, rec).Status)

	// Replay.
	rec = do(t, h, http.MethodPost, "/apple-music/auth/2fa",
		SubmitCodeRequest{ChallengeID: pending.ChallengeID, Code: loginflowtest.AcceptedCode})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	failure := decode[AuthResponse](t, rec)
	assert.Equal(t, StatusFailure, failure.Status)
	assert.Equal(t, string(platform.ReasonChallengeExpiredOrInvalid), failure.Reason)
}

func TestInitiateAuthRejected(t *testing.T) {
	h := newTestServer(t, loginflowtest.Reject)

	rec := do(t, h, http.MethodPost, "/distrokid/auth", validAuth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode[AuthResponse](t, rec)
	assert.Equal(t, StatusFailure, resp.Status)
	assert.Equal(t, string(platform.ReasonInvalidCredentials), resp.Reason)
	assert.NotEmpty(t, resp.Message)
}

func TestInitiateAuthCaptcha(t *testing.T) {
	h := newTestServer(t, loginflowtest.Captcha)

	rec := do(t, h, http.MethodPost, "/distrokid/auth", validAuth)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(platform.ReasonUnsupportedChallenge), decode[AuthResponse](t, rec).Reason)
}

func TestRequestValidation(t *testing.T) {
	h := newTestServer(t, loginflowtest.Accept)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing password", http.MethodPost, "/distrokid/auth", InitiateAuthRequest{ArtistID: "a", Email: "e@x.com"}, http.StatusBadRequest},
		{"missing artist", http.MethodPost, "/distrokid/auth", InitiateAuthRequest{Email: "e@x.com", Password: "pw"}, http.StatusBadRequest},
		{"missing code", http.MethodPost, "/distrokid/auth/2fa", SubmitCodeRequest{ChallengeID: "id"}, http.StatusBadRequest},
		{"missing challenge", http.MethodPost, "/distrokid/auth/2fa", SubmitCodeRequest{Code: "123456"}, http.StatusBadRequest},
		{"missing artist_id", http.MethodGet, "/distrokid/session", nil, http.StatusBadRequest},
		{"unknown platform", http.MethodPost, "/spotify/auth", validAuth, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "error", decode[ErrorResponse](t, rec).Status)
		})
	}
}

func TestInvalidBody(t *testing.T) {
	h := newTestServer(t, loginflowtest.Accept)

	req := httptest.NewRequest(http.MethodPost, "/distrokid/auth", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttemptsThrottled(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Options{Capacity: 1, PerMinute: 1})
	t.Cleanup(limiter.Close)
	h := newTestServer(t, loginflowtest.Reject, WithAttemptLimiter(limiter))

	rec := do(t, h, http.MethodPost, "/distrokid/auth", validAuth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/distrokid/auth", validAuth)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other platform, separate budget.
	rec = do(t, h, http.MethodPost, "/apple-music/auth", validAuth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFailureStatus(t *testing.T) {
	tests := map[platform.Reason]int{
		platform.ReasonInvalidCredentials:        http.StatusUnauthorized,
		platform.ReasonUnsupportedChallenge:      http.StatusUnprocessableEntity,
		platform.ReasonChallengeExpiredOrInvalid: http.StatusBadRequest,
		platform.ReasonCapacityExceeded:          http.StatusServiceUnavailable,
		platform.ReasonEnvironmentError:          http.StatusServiceUnavailable,
		platform.ReasonNetworkError:              http.StatusBadGateway,
		platform.ReasonUnexpectedPageState:       http.StatusBadGateway,
	}
	for reason, want := range tests {
		assert.Equal(t, want, failureStatus(reason), reason)
	}
}
