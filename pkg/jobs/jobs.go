// Package jobs submits follow-up work, such as analytics syncs, after an
// artist connects a platform. Workers live outside this module; a Job is the
// contract between the two.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	KindSyncAnalytics = "sync-analytics"
	KindFetchEarnings = "fetch-earnings"
)

// Submitter enqueues a job and returns its id.
type Submitter interface {
	Submit(ctx context.Context, kind string, payload any) (string, error)
}

// Job is the queued envelope.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	BackoffMS  int64           `json:"backoff_ms"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Retry policy handed to workers: three attempts, exponential from two seconds.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

// PlatformPayload is the payload of the jobs submitted after a connect.
type PlatformPayload struct {
	ArtistID          string `json:"artist_id"`
	Platform          string `json:"platform"`
	ExternalAccountID string `json:"external_account_id,omitempty"`
}

func newJob(kind string, payload any, now time.Time) (Job, error) {
	if kind == "" {
		return Job{}, fmt.Errorf("job kind is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    data,
		Attempts:   DefaultAttempts,
		BackoffMS:  DefaultBackoff.Milliseconds(),
		EnqueuedAt: now.UTC(),
	}, nil
}
