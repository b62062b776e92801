package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tendant/simple-platform-auth/pkg/platform"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := newFakeClock()
	// Create a bucket with capacity 5, refill rate 1 token/second
	tb := NewTokenBucket(5, 1.0, clock.Now)

	// Should allow 5 requests immediately (burst capacity)
	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 6th request should be denied (bucket empty)
	if tb.Allow() {
		t.Error("6th request should be denied")
	}

	clock.Advance(2 * time.Second)

	// Should allow 2 more requests
	if !tb.Allow() {
		t.Error("Request after 2s should be allowed")
	}
	if !tb.Allow() {
		t.Error("2nd request after 2s should be allowed")
	}

	// Next request should be denied again
	if tb.Allow() {
		t.Error("3rd request after 2s should be denied")
	}
}

func TestTokenBucket_RetryAfter(t *testing.T) {
	clock := newFakeClock()
	tb := NewTokenBucket(1, 0.5, clock.Now)

	if got := tb.RetryAfter(); got != 0 {
		t.Errorf("Expected no wait on a full bucket, got %s", got)
	}
	tb.Allow()
	if got := tb.RetryAfter(); got != 2*time.Second {
		t.Errorf("Expected 2s wait, got %s", got)
	}
	clock.Advance(time.Second)
	if got := tb.RetryAfter(); got != time.Second {
		t.Errorf("Expected 1s wait, got %s", got)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	tb := NewTokenBucket(3, 1.0, newFakeClock().Now)

	// Drain the bucket
	for i := 0; i < 3; i++ {
		tb.Allow()
	}

	if tb.Allow() {
		t.Error("Bucket should be empty")
	}

	tb.Reset()

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Errorf("Request %d should be allowed after reset", i+1)
		}
	}
}

func TestTokenBucket_Tokens(t *testing.T) {
	tb := NewTokenBucket(10, 1.0, newFakeClock().Now)

	if tokens := tb.Tokens(); tokens != 10.0 {
		t.Errorf("Expected 10 tokens, got %f", tokens)
	}

	tb.Allow()

	if tokens := tb.Tokens(); tokens != 9.0 {
		t.Errorf("Expected 9 tokens after one request, got %f", tokens)
	}
}

func TestLimiter_AttemptsPerArtistAndPlatform(t *testing.T) {
	clock := newFakeClock()
	// 2 attempts burst, 1 per minute
	l := NewLimiter(Options{Capacity: 2, PerMinute: 1, Now: clock.Now})
	defer l.Close()

	apple := AttemptKey("artist-1", platform.AppleMusic)
	distrokid := AttemptKey("artist-1", platform.DistroKid)
	other := AttemptKey("artist-2", platform.AppleMusic)

	if !l.Allow(apple) || !l.Allow(apple) {
		t.Error("First two attempts should be allowed")
	}
	if l.Allow(apple) {
		t.Error("Third attempt should be denied")
	}

	// Separate buckets
	if !l.Allow(distrokid) {
		t.Error("Attempt against another platform should be allowed")
	}
	if !l.Allow(other) {
		t.Error("Attempt by another artist should be allowed")
	}

	if got := l.RetryAfter(apple); got < 59*time.Second || got > time.Minute {
		t.Errorf("Expected about 1m wait, got %s", got)
	}

	clock.Advance(61 * time.Second)
	if !l.Allow(apple) {
		t.Error("Attempt after a minute should be allowed")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter(Options{Capacity: 1, PerMinute: 1, Now: newFakeClock().Now})
	defer l.Close()

	l.Allow("key1")
	if l.Allow("key1") {
		t.Error("Second request should be denied")
	}

	l.Reset("key1")

	if !l.Allow("key1") {
		t.Error("Request after reset should be allowed")
	}
}

func TestLimiter_Remove(t *testing.T) {
	l := NewLimiter(Options{Capacity: 5, PerMinute: 60, Now: newFakeClock().Now})
	defer l.Close()

	l.Allow("key1")
	if stats := l.GetStats(); stats.ActiveBuckets != 1 {
		t.Errorf("Expected 1 active bucket, got %d", stats.ActiveBuckets)
	}

	l.Remove("key1")
	if stats := l.GetStats(); stats.ActiveBuckets != 0 {
		t.Errorf("Expected 0 active buckets after removal, got %d", stats.ActiveBuckets)
	}
}

func TestLimiter_Stats(t *testing.T) {
	l := NewLimiter(Options{Capacity: 10, PerMinute: 300})
	defer l.Close()

	l.Allow("key1")
	l.Allow("key2")
	l.Allow("key3")

	stats := l.GetStats()
	if stats.ActiveBuckets != 3 {
		t.Errorf("Expected 3 active buckets, got %d", stats.ActiveBuckets)
	}
	if stats.TotalCapacity != 10 {
		t.Errorf("Expected capacity 10, got %d", stats.TotalCapacity)
	}
	if stats.RefillRate != 5.0 {
		t.Errorf("Expected refill rate 5.0, got %f", stats.RefillRate)
	}
}

func TestLimiter_Prune(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Options{Capacity: 5, PerMinute: 60, BucketTTL: time.Hour, Now: clock.Now})
	defer l.Close()

	l.Allow("idle")
	clock.Advance(50 * time.Minute)
	l.Allow("active")
	clock.Advance(20 * time.Minute)

	if n := l.Prune(); n != 1 {
		t.Errorf("Expected 1 pruned bucket, got %d", n)
	}
	if stats := l.GetStats(); stats.ActiveBuckets != 1 {
		t.Errorf("Expected 1 active bucket after prune, got %d", stats.ActiveBuckets)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(Options{Capacity: 100, PerMinute: 0})
	defer l.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow("concurrent-test") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected exactly 100 allowed requests, got %d", allowed)
	}
	if stats := l.GetStats(); stats.ActiveBuckets != 1 {
		t.Errorf("Expected 1 active bucket, got %d", stats.ActiveBuckets)
	}
}

func TestMiddleware_PerIP(t *testing.T) {
	l := NewLimiter(Options{Capacity: 1, PerMinute: 1, Now: newFakeClock().Now})
	defer l.Close()

	handler := NewMiddleware(l).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/apple-music/auth", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("203.0.113.7"); rec.Code != http.StatusNoContent {
		t.Errorf("Expected first request to pass, got %d", rec.Code)
	}
	rec := send("203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Expected Retry-After 60, got %q", got)
	}
	if rec := send("198.51.100.2"); rec.Code != http.StatusNoContent {
		t.Errorf("Expected another IP to pass, got %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	if ip := getClientIP(req); ip != "192.0.2.1" {
		t.Errorf("Expected RemoteAddr IP, got %q", ip)
	}

	req.Header.Set("X-Real-IP", " 192.0.2.9 ")
	if ip := getClientIP(req); ip != "192.0.2.9" {
		t.Errorf("Expected X-Real-IP, got %q", ip)
	}
}

func BenchmarkLimiter_Allow(b *testing.B) {
	l := NewLimiter(Options{Capacity: 1000000, PerMinute: 60000000})
	defer l.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow("benchmark-key")
	}
}
