// Package browser owns headless browser processes and the pages opened in
// them. A Session launches its browser lazily and guarantees that Close
// releases every page and the process, whatever path the caller exits by.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLaunch is returned when the browser binary cannot be started.
	ErrLaunch = errors.New("browser: launch failed")
	// ErrClosed is returned by every operation on a page or session that was closed.
	ErrClosed = errors.New("browser: closed")
	// ErrNavigation is returned when a page load fails for reasons unrelated to page content.
	ErrNavigation = errors.New("browser: navigation failed")
)

// Selector addresses an element by CSS query, optionally inside a named iframe.
type Selector struct {
	// Frame is the name attribute of the iframe that hosts the element. Empty
	// means the top-level document.
	Frame string
	Query string
}

// CSS returns a top-level selector.
func CSS(query string) Selector {
	return Selector{Query: query}
}

// InFrame returns a selector resolved inside the iframe with the given name.
func InFrame(frame, query string) Selector {
	return Selector{Frame: frame, Query: query}
}

func (s Selector) String() string {
	if s.Frame == "" {
		return s.Query
	}
	return "iframe[name=" + s.Frame + "] " + s.Query
}

// Fingerprint is the viewport and user agent a page presents.
type Fingerprint struct {
	Width     int
	Height    int
	UserAgent string
}

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func DefaultFingerprint() Fingerprint {
	return Fingerprint{Width: 1920, Height: 1080, UserAgent: DefaultUserAgent}
}

// Cookie is one cookie of a page's browsing context.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}

// Page is a single tab. Every call is bounded by ctx; once the page or its
// browser is closed, calls return ErrClosed.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Exists reports whether at least one element matches, without waiting.
	Exists(ctx context.Context, sel Selector) (bool, error)
	// Visible reports whether a matching element is rendered, without waiting.
	Visible(ctx context.Context, sel Selector) (bool, error)
	Click(ctx context.Context, sel Selector) error
	// SendKeys types keys into the element, focusing it first.
	SendKeys(ctx context.Context, sel Selector, keys string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	URL(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression and decodes its result into out.
	Evaluate(ctx context.Context, expression string, out any) error
	Close() error
}

// Browser is one running browser process.
type Browser interface {
	NewPage(ctx context.Context, fp Fingerprint) (Page, error)
	Close() error
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}
