// Package browsertest provides an in-memory browser for exercising code that
// drives pages. Pages are scripted: tests decide which selectors are present
// and react to navigations, clicks and keystrokes through hooks.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tendant/simple-platform-auth/pkg/browser"
)

// Page is a scripted browser.Page. Hooks run without the page lock held, so
// they may call Show, Hide, SetURL and the other setters.
type Page struct {
	mu       sync.Mutex
	elements map[browser.Selector]bool
	url      string
	cookies  []browser.Cookie
	typed    map[browser.Selector]string
	evals    map[string]any
	visits   []string
	clicks   []browser.Selector
	closed   bool

	// OnNavigate runs after the URL is updated. A non-nil error fails the navigation.
	OnNavigate func(ctx context.Context, p *Page, url string) error
	// OnClick runs after a click on a present element.
	OnClick func(ctx context.Context, p *Page, sel browser.Selector) error
	// OnKeys runs after keys are delivered to a present element.
	OnKeys func(ctx context.Context, p *Page, sel browser.Selector, keys string) error
}

func NewPage() *Page {
	return &Page{
		elements: make(map[browser.Selector]bool),
		typed:    make(map[browser.Selector]string),
		evals:    make(map[string]any),
	}
}

// Show makes the selectors present and visible.
func (p *Page) Show(sels ...browser.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		p.elements[s] = true
	}
}

// Hide removes the selectors from the document.
func (p *Page) Hide(sels ...browser.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		delete(p.elements, s)
	}
}

// Clear removes every element and typed value.
func (p *Page) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = make(map[browser.Selector]bool)
	p.typed = make(map[browser.Selector]string)
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) SetCookies(cookies ...browser.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append([]browser.Cookie(nil), cookies...)
}

// SetEval registers the value returned for a JavaScript expression.
func (p *Page) SetEval(expression string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals[expression] = value
}

// Typed returns everything typed into sel since it was last cleared.
func (p *Page) Typed(sel browser.Selector) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[sel]
}

// ClearTyped empties the typed value of sel.
func (p *Page) ClearTyped(sel browser.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.typed, sel)
}

func (p *Page) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

func (p *Page) Clicks() []browser.Selector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Selector(nil), p.clicks...)
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) check(ctx context.Context) error {
	if p.closed {
		return browser.ErrClosed
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	p.url = url
	p.visits = append(p.visits, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, p, url); err != nil {
			return fmt.Errorf("%w: %s: %v", browser.ErrNavigation, url, err)
		}
	}
	return nil
}

func (p *Page) Exists(ctx context.Context, sel browser.Selector) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return false, err
	}
	return p.elements[sel], nil
}

func (p *Page) Visible(ctx context.Context, sel browser.Selector) (bool, error) {
	return p.Exists(ctx, sel)
}

func (p *Page) Click(ctx context.Context, sel browser.Selector) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.elements[sel] {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: no element matches %s", sel)
	}
	p.clicks = append(p.clicks, sel)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		return hook(ctx, p, sel)
	}
	return nil
}

func (p *Page) SendKeys(ctx context.Context, sel browser.Selector, keys string) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.elements[sel] {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: no element matches %s", sel)
	}
	p.typed[sel] += keys
	hook := p.OnKeys
	p.mu.Unlock()

	if hook != nil {
		return hook(ctx, p, sel, keys)
	}
	return nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.url, nil
}

// Evaluate decodes the registered value into out through JSON, the way a
// DevTools evaluation result is decoded.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	value, ok := p.evals[expression]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("browsertest: evaluation failed: %s is not defined", expression)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Launcher hands out fake browsers and counts the ones left open.
type Launcher struct {
	// NewPage builds the page for each NewPage call. Nil yields blank pages.
	NewPage func() *Page
	// Err, when set, fails every launch.
	Err error

	mu       sync.Mutex
	launches int
	browsers []*Browser
	pages    []*Page
}

func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.Err != nil {
		return nil, l.Err
	}
	b := &Browser{launcher: l}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Launches is the number of Launch calls.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Open is the number of launched browsers that were not closed.
func (l *Launcher) Open() int {
	l.mu.Lock()
	browsers := append([]*Browser(nil), l.browsers...)
	l.mu.Unlock()

	open := 0
	for _, b := range browsers {
		if !b.IsClosed() {
			open++
		}
	}
	return open
}

// Browsers returns every browser launched so far, oldest first.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Pages returns every page created so far, oldest first.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// LastPage returns the most recently created page, or nil.
func (l *Launcher) LastPage() *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}

func (l *Launcher) newPage() *Page {
	var p *Page
	if l.NewPage != nil {
		p = l.NewPage()
	} else {
		p = NewPage()
	}
	l.mu.Lock()
	l.pages = append(l.pages, p)
	l.mu.Unlock()
	return p
}

// Browser is a fake browser process.
type Browser struct {
	launcher *Launcher

	mu     sync.Mutex
	pages  []*Page
	closed bool
	fp     browser.Fingerprint
}

func (b *Browser) NewPage(ctx context.Context, fp browser.Fingerprint) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, browser.ErrClosed
	}
	b.fp = fp
	b.mu.Unlock()

	p := b.launcher.newPage()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = p.Close()
		return nil, browser.ErrClosed
	}
	b.pages = append(b.pages, p)
	return p, nil
}

// Fingerprint is the fingerprint of the last page opened.
func (b *Browser) Fingerprint() browser.Fingerprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fp
}

// Close closes every page of the browser, as terminating the process would.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return browser.ErrClosed
	}
	b.closed = true
	for _, p := range b.pages {
		_ = p.Close()
	}
	return nil
}

func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
