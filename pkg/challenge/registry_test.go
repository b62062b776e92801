package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/browser/browsertest"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newChallenge(t *testing.T, l *browsertest.Launcher, p platform.Platform) *Challenge {
	t.Helper()
	s := browser.NewSession(l, browser.DefaultFingerprint())
	page, err := s.Open(context.Background())
	require.NoError(t, err)
	return &Challenge{
		Platform:    p,
		Subject:     "artist-1",
		Credentials: platform.Credentials{Identifier: "artist@example.com", Secret: "pw"},
		Session:     s,
		Page:        page,
	}
}

func newRegistry(clock *testClock, maxPending int) *Registry {
	return NewRegistry(Options{TTL: 5 * time.Minute, MaxPending: maxPending, Now: clock.Now})
}

func TestRegisterAndTakeOnce(t *testing.T) {
	clock := newTestClock()
	r := newRegistry(clock, 0)
	defer r.Close()
	l := &browsertest.Launcher{}

	c := newChallenge(t, l, platform.DistroKid)
	id, err := r.Register(c)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, clock.Now().Add(5*time.Minute), c.ExpiresAt)
	assert.Equal(t, 1, r.Len())

	got, err := r.Take(id)
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.False(t, got.Session.Closed(), "taker owns a live session")

	_, err = r.Take(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Len())

	got.Release()
	assert.Equal(t, 0, l.Open())
}

func TestTakeUnknownID(t *testing.T) {
	r := newRegistry(newTestClock(), 0)
	defer r.Close()

	_, err := r.Take("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIDsAreUnique(t *testing.T) {
	r := newRegistry(newTestClock(), 0)
	defer r.Close()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := r.Register(&Challenge{Platform: platform.AppleMusic})
		require.NoError(t, err)
		require.False(t, seen[id], "id reused: %s", id)
		seen[id] = true
	}
}

func TestTakeAfterExpiry(t *testing.T) {
	clock := newTestClock()
	r := newRegistry(clock, 0)
	defer r.Close()
	l := &browsertest.Launcher{}

	c := newChallenge(t, l, platform.AppleMusic)
	id, err := r.Register(c)
	require.NoError(t, err)

	clock.Advance(5*time.Minute + time.Second)

	_, err = r.Take(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, c.Session.Closed())
	assert.Equal(t, 0, l.Open())
}

func TestSweepEvictsExpired(t *testing.T) {
	clock := newTestClock()
	r := newRegistry(clock, 0)
	defer r.Close()
	l := &browsertest.Launcher{}

	old := newChallenge(t, l, platform.DistroKid)
	_, err := r.Register(old)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	fresh := newChallenge(t, l, platform.DistroKid)
	freshID, err := r.Register(fresh)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	assert.True(t, old.Session.Closed())
	assert.False(t, fresh.Session.Closed())

	_, err = r.Take(freshID)
	assert.NoError(t, err)
	fresh.Release()
}

func TestBackgroundSweeper(t *testing.T) {
	clock := newTestClock()
	r := NewRegistry(Options{TTL: time.Minute, SweepInterval: 5 * time.Millisecond, Now: clock.Now})
	defer r.Close()
	l := &browsertest.Launcher{}

	c := newChallenge(t, l, platform.DistroKid)
	_, err := r.Register(c)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return l.Open() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConcurrentTake(t *testing.T) {
	r := newRegistry(newTestClock(), 0)
	defer r.Close()

	id, err := r.Register(&Challenge{Platform: platform.DistroKid})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		notFound atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Take(id); err == nil {
				winners.Add(1)
			} else if assert.ErrorIs(t, err, ErrNotFound) {
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(31), notFound.Load())
}

func TestTakeForOtherPlatform(t *testing.T) {
	r := newRegistry(newTestClock(), 0)
	defer r.Close()

	id, err := r.Register(&Challenge{Platform: platform.DistroKid})
	require.NoError(t, err)

	_, err = r.TakeFor(platform.AppleMusic, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, r.Len())

	c, err := r.TakeFor(platform.DistroKid, id)
	require.NoError(t, err)
	assert.Equal(t, platform.DistroKid, c.Platform)
}

func TestCapacity(t *testing.T) {
	clock := newTestClock()
	r := newRegistry(clock, 2)
	defer r.Close()

	first, err := r.Register(&Challenge{Platform: platform.DistroKid})
	require.NoError(t, err)
	_, err = r.Register(&Challenge{Platform: platform.DistroKid})
	require.NoError(t, err)

	assert.ErrorIs(t, r.CheckCapacity(), ErrCapacityExceeded)
	_, err = r.Register(&Challenge{Platform: platform.DistroKid})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = r.Take(first)
	require.NoError(t, err)
	assert.NoError(t, r.CheckCapacity())
}

func TestEvict(t *testing.T) {
	r := newRegistry(newTestClock(), 0)
	defer r.Close()
	l := &browsertest.Launcher{}

	c := newChallenge(t, l, platform.AppleMusic)
	id, err := r.Register(c)
	require.NoError(t, err)

	assert.True(t, r.Evict(id))
	assert.False(t, r.Evict(id))
	assert.True(t, c.Session.Closed())

	_, err = r.Take(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseReleasesPendingSessions(t *testing.T) {
	r := NewRegistry(Options{TTL: time.Minute, SweepInterval: time.Hour})
	l := &browsertest.Launcher{}

	var challenges []*Challenge
	for i := 0; i < 5; i++ {
		c := newChallenge(t, l, platform.DistroKid)
		_, err := r.Register(c)
		require.NoError(t, err)
		challenges = append(challenges, c)
	}
	require.Equal(t, 5, l.Open())

	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.Equal(t, 0, l.Open())
	for _, c := range challenges {
		assert.True(t, c.Session.Closed())
	}

	_, err := r.Register(&Challenge{Platform: platform.DistroKid})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
