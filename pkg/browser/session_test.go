package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/browser/browsertest"
)

func TestSessionLaunchesLazilyOnce(t *testing.T) {
	l := &browsertest.Launcher{}
	s := browser.NewSession(l, browser.DefaultFingerprint())

	assert.Equal(t, 0, l.Launches())
	assert.False(t, s.Launched())

	_, err := s.Open(context.Background())
	require.NoError(t, err)
	_, err = s.Open(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, l.Launches())
	assert.True(t, s.Launched())
	assert.Len(t, l.Pages(), 2)
}

func TestSessionCloseReleasesEverything(t *testing.T) {
	l := &browsertest.Launcher{}
	s := browser.NewSession(l, browser.DefaultFingerprint())

	page, err := s.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, l.Open())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, l.Open())
	assert.True(t, s.Closed())
	assert.False(t, s.Launched())

	err = page.Navigate(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, browser.ErrClosed)

	_, err = s.Open(context.Background())
	assert.ErrorIs(t, err, browser.ErrClosed)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	l := &browsertest.Launcher{}
	s := browser.NewSession(l, browser.DefaultFingerprint())

	// Never opened.
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, 0, l.Launches())

	s = browser.NewSession(l, browser.DefaultFingerprint())
	_, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestSessionLaunchFailure(t *testing.T) {
	l := &browsertest.Launcher{Err: errors.New("exec: \"chromium\": executable file not found")}
	s := browser.NewSession(l, browser.DefaultFingerprint())

	_, err := s.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrLaunch)
	assert.NoError(t, s.Close())
}

func TestSessionConcurrentOpenAndClose(t *testing.T) {
	l := &browsertest.Launcher{}
	s := browser.NewSession(l, browser.DefaultFingerprint())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := s.Open(context.Background())
			if err != nil {
				assert.ErrorIs(t, err, browser.ErrClosed)
				return
			}
			_, _ = page.URL(context.Background())
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Close()
	}()
	wg.Wait()

	require.NoError(t, s.Close())
	assert.Equal(t, 0, l.Open())
	for _, p := range l.Pages() {
		assert.True(t, p.IsClosed())
	}
}

func TestSessionAppliesFingerprint(t *testing.T) {
	l := &browsertest.Launcher{}
	fp := browser.Fingerprint{Width: 1280, Height: 720, UserAgent: "test-agent"}
	s := browser.NewSession(l, fp)
	defer s.Close()

	_, err := s.Open(context.Background())
	require.NoError(t, err)
	browsers := l.Browsers()
	require.Len(t, browsers, 1)
	assert.Equal(t, fp, browsers[0].Fingerprint())
}
