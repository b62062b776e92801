// Package connector connects an artist's platform account: it drives the
// platform authenticator, stores the resulting session in the vault and
// queues the follow-up sync jobs.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/simple-platform-auth/pkg/jobs"
	"github.com/tendant/simple-platform-auth/pkg/platform"
	"github.com/tendant/simple-platform-auth/pkg/platformauth"
	"github.com/tendant/simple-platform-auth/pkg/vault"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrMissingArtist       = errors.New("artist id is required")
	ErrMissingChallenge    = errors.New("challenge id and code are required")
)

// Authenticator is the per-platform login entry point.
type Authenticator interface {
	Platform() platform.Platform
	Authenticate(ctx context.Context, creds platform.Credentials, opts ...platformauth.AuthOption) platformauth.Result
	Resume(ctx context.Context, challengeID, code string) platformauth.Result
	Cleanup()
}

// Status is what is known about an artist's stored connection.
type Status struct {
	Platform          platform.Platform
	Connected         bool
	Identifier        string
	ExternalAccountID string
	AuthenticatedAt   time.Time
}

type Service struct {
	authenticators map[platform.Platform]Authenticator
	vault          vault.Vault
	jobs           jobs.Submitter
}

type Option func(*Service)

// WithJobs submits follow-up jobs after every successful connect.
func WithJobs(submitter jobs.Submitter) Option {
	return func(s *Service) {
		s.jobs = submitter
	}
}

func NewService(v vault.Vault, authenticators []Authenticator, opts ...Option) *Service {
	s := &Service{
		authenticators: make(map[platform.Platform]Authenticator, len(authenticators)),
		vault:          v,
	}
	for _, a := range authenticators {
		s.authenticators[a.Platform()] = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platforms returns the platforms this service can connect.
func (s *Service) Platforms() []platform.Platform {
	var out []platform.Platform
	for _, p := range platform.All() {
		if _, ok := s.authenticators[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) authenticator(p platform.Platform) (Authenticator, error) {
	a, ok := s.authenticators[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	return a, nil
}

// Initiate logs artistID into p. A Success has already been stored.
func (s *Service) Initiate(ctx context.Context, p platform.Platform, artistID string, creds platform.Credentials) (platformauth.Result, error) {
	a, err := s.authenticator(p)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(artistID) == "" {
		return nil, ErrMissingArtist
	}

	res := a.Authenticate(ctx, creds, platformauth.WithSubject(artistID))
	return s.complete(ctx, res), nil
}

// SubmitCode resumes the pending two-factor challenge. A Success has already
// been stored.
func (s *Service) SubmitCode(ctx context.Context, p platform.Platform, challengeID, code string) (platformauth.Result, error) {
	a, err := s.authenticator(p)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(challengeID) == "" || strings.TrimSpace(code) == "" {
		return nil, ErrMissingChallenge
	}

	res := a.Resume(ctx, challengeID, code)
	return s.complete(ctx, res), nil
}

// Status reports whether artistID has a stored session for p.
func (s *Service) Status(ctx context.Context, p platform.Platform, artistID string) (Status, error) {
	if _, err := s.authenticator(p); err != nil {
		return Status{}, err
	}
	if strings.TrimSpace(artistID) == "" {
		return Status{}, ErrMissingArtist
	}

	blob, err := s.vault.LoadSession(ctx, artistID, p)
	if errors.Is(err, vault.ErrSessionNotFound) {
		return Status{Platform: p}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to load session: %w", err)
	}
	session, err := vault.DecodeSession(p, blob)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Platform:          p,
		Connected:         true,
		Identifier:        session.Identifier,
		ExternalAccountID: session.ExternalAccountID,
		AuthenticatedAt:   session.AuthenticatedAt,
	}, nil
}

// Shutdown closes every browser session still owned by an in-flight call.
func (s *Service) Shutdown() {
	for _, a := range s.authenticators {
		a.Cleanup()
	}
}

func (s *Service) complete(ctx context.Context, res platformauth.Result) platformauth.Result {
	success, ok := res.(platformauth.Success)
	if !ok {
		return res
	}
	if err := s.store(ctx, success); err != nil {
		slog.Error("Failed to store platform session", "platform", success.Platform, "artistID", success.Subject, "error", err)
		return platformauth.Failure{Reason: platform.ReasonEnvironmentError, Message: "failed to store session"}
	}
	s.submitJobs(ctx, success)
	return success
}

func (s *Service) store(ctx context.Context, success platformauth.Success) error {
	blob, err := vault.EncodeSession(success.Session())
	if err != nil {
		return err
	}
	return s.vault.StoreSession(ctx, success.Subject, success.Platform, blob, success.ExternalAccountID)
}

// submitJobs queues the post-connect jobs. Failures are logged only; the
// connection itself has succeeded.
func (s *Service) submitJobs(ctx context.Context, success platformauth.Success) {
	if s.jobs == nil {
		return
	}
	payload := jobs.PlatformPayload{
		ArtistID:          success.Subject,
		Platform:          success.Platform.StorageKey(),
		ExternalAccountID: success.ExternalAccountID,
	}

	kinds := []string{jobs.KindSyncAnalytics}
	if success.Platform == platform.DistroKid {
		kinds = append(kinds, jobs.KindFetchEarnings)
	}
	for _, kind := range kinds {
		id, err := s.jobs.Submit(ctx, kind, payload)
		if err != nil {
			slog.Warn("Failed to queue job", "kind", kind, "platform", success.Platform, "artistID", success.Subject, "error", err)
			continue
		}
		slog.Info("Queued job", "kind", kind, "jobID", id, "platform", success.Platform, "artistID", success.Subject)
	}
}
