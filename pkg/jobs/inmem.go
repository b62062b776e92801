package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InMemQueue records submitted jobs in memory.
type InMemQueue struct {
	mu   sync.Mutex
	jobs []Job
	// Err, when set, fails every submission.
	Err error
}

func NewInMemQueue() *InMemQueue {
	return &InMemQueue{}
}

func (q *InMemQueue) Submit(ctx context.Context, kind string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	job, err := newJob(kind, payload, time.Now())
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return "", q.Err
	}
	q.jobs = append(q.jobs, job)
	slog.Debug("Queued job in memory", "jobID", job.ID, "kind", kind)
	return job.ID, nil
}

// Jobs returns the submitted jobs, oldest first.
func (q *InMemQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}
