// Package ratelimit throttles login attempts. Repeated failed logins against
// a platform can get the artist's account locked, so initiate-auth is limited
// per (artist, platform) and per client IP.
package ratelimit

import (
	"sync"
	"time"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

// TokenBucket implements the token bucket algorithm for rate limiting
type TokenBucket struct {
	capacity   int       // Maximum number of tokens
	tokens     float64   // Current number of tokens
	refillRate float64   // Tokens added per second
	lastRefill time.Time // Last time tokens were refilled
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket.
// capacity: Maximum number of attempts allowed in a burst
// refillRate: Number of attempts allowed per second
func NewTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// RetryAfter is how long until the next token is available.
func (tb *TokenBucket) RetryAfter() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 || tb.refillRate <= 0 {
		return 0
	}
	return time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second))
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

// Tokens returns the current number of available tokens
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tokens
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = float64(tb.capacity)
	tb.lastRefill = tb.now()
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefill
}

type Options struct {
	// Capacity is the burst size per key.
	Capacity int
	// PerMinute is the sustained rate per key.
	PerMinute float64
	// BucketTTL is how long an idle key is remembered. Zero keeps keys forever.
	BucketTTL time.Duration
	Now       func() time.Time
}

// Limiter manages one token bucket per key.
type Limiter struct {
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	now        func() time.Time
	mu         sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

func NewLimiter(opts Options) *Limiter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   opts.Capacity,
		refillRate: opts.PerMinute / 60.0,
		ttl:        opts.BucketTTL,
		now:        opts.Now,
		stop:       make(chan struct{}),
	}

	if l.ttl > 0 {
		go l.cleanup()
	}
	return l
}

// AttemptKey is the key of login attempts by one artist against one platform.
func AttemptKey(artistID string, p platform.Platform) string {
	return "attempt:" + string(p) + ":" + artistID
}

// Allow checks if a request for the given key should be allowed
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// RetryAfter is how long key has to wait for its next attempt.
func (l *Limiter) RetryAfter(key string) time.Duration {
	return l.bucket(key).RetryAfter()
}

func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = NewTokenBucket(l.capacity, l.refillRate, l.now)
		l.buckets[key] = b
	}
	return b
}

// Reset resets the rate limiter for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, exists := l.buckets[key]; exists {
		b.Reset()
	}
}

// Remove removes a specific key from the rate limiter
func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Prune drops buckets idle for longer than the TTL and returns how many were dropped.
func (l *Limiter) Prune() int {
	if l.ttl <= 0 {
		return 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.idleSince()) > l.ttl {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// Close stops the background cleanup.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats returns statistics about the rate limiter
type Stats struct {
	ActiveBuckets int
	TotalCapacity int
	RefillRate    float64
}

// GetStats returns current statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		ActiveBuckets: len(l.buckets),
		TotalCapacity: l.capacity,
		RefillRate:    l.refillRate,
	}
}
