// Package challenge holds authentications paused at a two-factor prompt. The
// Registry bridges the call that hit the prompt and the later call carrying
// the code: it owns each pending browser session until the challenge is taken
// exactly once, expires or is evicted.
package challenge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

var (
	ErrNotFound         = errors.New("challenge not found or expired")
	ErrCapacityExceeded = errors.New("too many pending challenges")
	ErrRegistryClosed   = errors.New("challenge registry closed")
)

// Challenge is a login paused at a two-factor prompt. The registry owns
// Session while the challenge is registered; whoever takes it owns it after.
type Challenge struct {
	ID          string
	Platform    platform.Platform
	Subject     string
	Credentials platform.Credentials
	Session     *browser.Session
	Page        browser.Page
	Hint        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Release closes the challenge's browser session. Failures are logged.
func (c *Challenge) Release() {
	if c.Session == nil {
		return
	}
	if err := c.Session.Close(); err != nil {
		slog.Warn("Failed to close challenge browser session", "challengeID", c.ID, "platform", c.Platform, "error", err)
	}
}

type Options struct {
	// TTL is how long a challenge waits for its code.
	TTL time.Duration
	// MaxPending caps registered challenges. Zero means no cap.
	MaxPending int
	// SweepInterval is how often expired challenges are evicted. Zero
	// disables the background sweeper; expired entries are then only
	// dropped by Take and Sweep.
	SweepInterval time.Duration
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TTL:           5 * time.Minute,
		MaxPending:    20,
		SweepInterval: 30 * time.Second,
	}
}

// Registry maps challenge ids to pending challenges.
type Registry struct {
	ttl        time.Duration
	maxPending int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*Challenge
	closed  bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRegistry(opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{
		ttl:        opts.TTL,
		maxPending: opts.MaxPending,
		now:        opts.Now,
		entries:    make(map[string]*Challenge),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go r.sweeper(opts.SweepInterval)
	} else {
		close(r.done)
	}
	return r
}

func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Register stores c under a fresh unguessable id and returns the id. The
// registry owns c.Session from here on.
func (r *Registry) Register(c *Challenge) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	if r.maxPending > 0 && len(r.entries) >= r.maxPending {
		return "", ErrCapacityExceeded
	}

	// Random (v4) ids carry 122 bits of entropy; a live collision is retried.
	id := uuid.NewString()
	for r.entries[id] != nil {
		id = uuid.NewString()
	}

	now := r.now()
	c.ID = id
	c.CreatedAt = now
	c.ExpiresAt = now.Add(r.ttl)
	r.entries[id] = c

	slog.Info("Two-factor challenge registered", "challengeID", id, "platform", c.Platform, "expiresAt", c.ExpiresAt)
	return id, nil
}

// CheckCapacity reports ErrCapacityExceeded when no further challenge can be
// registered right now.
func (r *Registry) CheckCapacity() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if r.maxPending > 0 && len(r.entries) >= r.maxPending {
		return ErrCapacityExceeded
	}
	return nil
}

// Take removes and returns the challenge. Only one caller can take a given
// id; every other call, and any call after expiry, gets ErrNotFound.
func (r *Registry) Take(id string) (*Challenge, error) {
	return r.take(id, func(*Challenge) bool { return true })
}

// TakeFor is Take restricted to challenges of platform p. A challenge of
// another platform stays registered.
func (r *Registry) TakeFor(p platform.Platform, id string) (*Challenge, error) {
	return r.take(id, func(c *Challenge) bool { return c.Platform == p })
}

func (r *Registry) take(id string, match func(*Challenge) bool) (*Challenge, error) {
	r.mu.Lock()
	c, ok := r.entries[id]
	if !ok || !match(c) {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(r.entries, id)
	expired := !r.now().Before(c.ExpiresAt)
	r.mu.Unlock()

	if expired {
		slog.Info("Two-factor challenge expired before use", "challengeID", id, "platform", c.Platform)
		c.Release()
		return nil, ErrNotFound
	}
	return c, nil
}

// Evict removes the challenge and closes its browser session. It reports
// whether the id was registered.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	c, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	slog.Info("Two-factor challenge evicted", "challengeID", id, "platform", c.Platform)
	c.Release()
	return true
}

// Sweep evicts every expired challenge and returns how many were evicted.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var expired []*Challenge
	for id, c := range r.entries {
		if !now.Before(c.ExpiresAt) {
			expired = append(expired, c)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, c := range expired {
		slog.Info("Two-factor challenge expired", "challengeID", c.ID, "platform", c.Platform)
		c.Release()
	}
	return len(expired)
}

// Len is the number of registered challenges, expired ones included until swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweeper(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("Swept expired challenges", "count", n)
			}
		}
	}
}

// Close stops the sweeper and closes every pending browser session
// concurrently. Register fails afterwards; Close may be called again.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.mu.Lock()
	r.closed = true
	pending := make([]*Challenge, 0, len(r.entries))
	for id, c := range r.entries {
		pending = append(pending, c)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	var (
		mu     sync.Mutex
		result *multierror.Error
		g      errgroup.Group
	)
	g.SetLimit(8)
	for _, c := range pending {
		g.Go(func() error {
			if c.Session == nil {
				return nil
			}
			if err := c.Session.Close(); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("challenge %s: %w", c.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(pending) > 0 {
		slog.Info("Closed pending two-factor challenges", "count", len(pending))
	}
	return result.ErrorOrNil()
}
