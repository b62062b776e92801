package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Session owns at most one browser process and the pages opened in it. The
// process is launched by the first Open. Close is idempotent and may be called
// concurrently with Open or with operations on the session's pages; those
// operations then fail with ErrClosed.
type Session struct {
	launcher    Launcher
	fingerprint Fingerprint

	mu      sync.Mutex
	browser Browser
	pages   []Page
	closed  bool
	err     error
}

// NewSession returns a session that launches browsers with l and configures
// every page with fp.
func NewSession(l Launcher, fp Fingerprint) *Session {
	return &Session{
		launcher:    l,
		fingerprint: fp,
	}
}

// Open launches the browser if needed and returns a new page.
func (s *Session) Open(ctx context.Context) (Page, error) {
	b, err := s.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := b.NewPage(ctx, s.fingerprint)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("browser: open page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if cerr := page.Close(); cerr != nil {
			slog.Warn("Failed to close page opened after session close", "error", cerr)
		}
		return nil, ErrClosed
	}
	s.pages = append(s.pages, page)
	return page, nil
}

func (s *Session) ensureBrowser(ctx context.Context) (Browser, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.browser != nil {
		b := s.browser
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	// Launch outside the lock so a concurrent Close is not blocked behind a
	// slow process start.
	b, err := s.launcher.Launch(ctx)
	if err != nil {
		if errors.Is(err, ErrLaunch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		if cerr := b.Close(); cerr != nil {
			slog.Warn("Failed to close browser launched after session close", "error", cerr)
		}
		return nil, ErrClosed
	case s.browser != nil:
		// Lost a launch race with a concurrent Open; keep the first browser.
		if cerr := b.Close(); cerr != nil {
			slog.Warn("Failed to close surplus browser", "error", cerr)
		}
		return s.browser, nil
	}
	s.browser = b
	return b, nil
}

// Close closes every page, then terminates the browser process. Calls after
// the first return the first call's result.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.closed = true
	pages := s.pages
	b := s.browser
	s.pages = nil
	s.browser = nil
	s.mu.Unlock()

	var result *multierror.Error
	for _, p := range pages {
		if err := p.Close(); err != nil && !errors.Is(err, ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close page: %w", err))
		}
	}
	if b != nil {
		if err := b.Close(); err != nil && !errors.Is(err, ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close browser: %w", err))
		}
	}

	err := result.ErrorOrNil()
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launched reports whether the session currently holds a running browser.
func (s *Session) Launched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}
