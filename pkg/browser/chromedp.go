package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeLauncher starts headless Chrome through the DevTools protocol.
type ChromeLauncher struct {
	// ExecPath is the Chrome binary. Empty lets chromedp search the usual locations.
	ExecPath string
	Headless bool
	// LaunchTimeout bounds process start when the caller's context has no deadline.
	LaunchTimeout time.Duration
	Width         int
	Height        int
}

// NewChromeLauncher returns a headless launcher with the original automation flags.
func NewChromeLauncher(execPath string) *ChromeLauncher {
	return &ChromeLauncher{
		ExecPath:      execPath,
		Headless:      true,
		LaunchTimeout: 30 * time.Second,
		Width:         1920,
		Height:        1080,
	}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Login widgets live in cross-origin iframes; keep them in the page's
		// process so frame queries can reach them.
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-site-isolation-trials", true),
	)
	if l.Width > 0 && l.Height > 0 {
		opts = append(opts, chromedp.WindowSize(l.Width, l.Height))
	}
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	return opts
}

// Launch starts one browser process. The process outlives ctx; only starting
// it is bounded by ctx.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx := ctx
	if _, ok := ctx.Deadline(); !ok && l.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, l.LaunchTimeout)
		defer cancel()
	}

	stop := context.AfterFunc(startCtx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopped := stop()
	if err == nil && !stopped {
		// The start context fired while the process was coming up.
		err = startCtx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	slog.Debug("Browser launched", "execPath", l.ExecPath, "headless", l.Headless)
	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
	}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	once sync.Once
	err  error
}

func (b *chromeBrowser) NewPage(ctx context.Context, fp Fingerprint) (Page, error) {
	if b.ctx.Err() != nil {
		return nil, ErrClosed
	}
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: tabCancel}

	actions := []chromedp.Action{}
	if fp.Width > 0 && fp.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(fp.Width), int64(fp.Height)))
	}
	if fp.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(fp.UserAgent))
	}
	if err := p.run(ctx, actions...); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (b *chromeBrowser) Close() error {
	b.once.Do(func() {
		// Cancel asks the browser to exit gracefully before the allocator
		// kills the process.
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.err = err
		}
		b.cancel()
		b.allocCancel()
	})
	return b.err
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// run executes actions on the tab, bounded by both the caller's context and
// the tab's lifetime.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	opCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case p.ctx.Err() != nil:
		return ErrClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, chromedp.Navigate(url))
	if err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	return err
}

// frame resolves the iframe named by sel.Frame. A nil node with a nil error
// means the frame is not in the document yet.
func (p *chromePage) frame(ctx context.Context, name string) (*cdp.Node, error) {
	var frames []*cdp.Node
	query := fmt.Sprintf(`iframe[name=%q]`, name)
	if err := p.run(ctx, chromedp.Nodes(query, &frames, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}
	return frames[0], nil
}

func (p *chromePage) queryOptions(ctx context.Context, sel Selector, base ...chromedp.QueryOption) ([]chromedp.QueryOption, bool, error) {
	if sel.Frame == "" {
		return base, true, nil
	}
	node, err := p.frame(ctx, sel.Frame)
	if err != nil || node == nil {
		return nil, false, err
	}
	return append(base, chromedp.FromNode(node)), true, nil
}

func (p *chromePage) nodes(ctx context.Context, sel Selector) ([]*cdp.Node, error) {
	opts, ok, err := p.queryOptions(ctx, sel, chromedp.ByQueryAll, chromedp.AtLeast(0))
	if err != nil || !ok {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(sel.Query, &nodes, opts...)); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (p *chromePage) Exists(ctx context.Context, sel Selector) (bool, error) {
	nodes, err := p.nodes(ctx, sel)
	return len(nodes) > 0, err
}

func (p *chromePage) Visible(ctx context.Context, sel Selector) (bool, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil || len(nodes) == 0 {
		return false, err
	}
	visible := false
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, n := range nodes {
			// Elements that are not rendered have no box model.
			if _, err := dom.GetBoxModel().WithNodeID(n.NodeID).Do(ctx); err == nil {
				visible = true
				return nil
			}
		}
		return nil
	}))
	return visible, err
}

func (p *chromePage) Click(ctx context.Context, sel Selector) error {
	opts, ok, err := p.queryOptions(ctx, sel, chromedp.ByQuery, chromedp.NodeVisible)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("browser: frame %q not found", sel.Frame)
	}
	return p.run(ctx, chromedp.Click(sel.Query, opts...))
}

func (p *chromePage) SendKeys(ctx context.Context, sel Selector, keys string) error {
	opts, ok, err := p.queryOptions(ctx, sel, chromedp.ByQuery, chromedp.NodeVisible)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("browser: frame %q not found", sel.Frame)
	}
	return p.run(ctx, chromedp.SendKeys(sel.Query, keys, opts...))
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expression, out))
}

func (p *chromePage) Close() error {
	p.once.Do(func() {
		// Cancelling the tab context closes the target.
		p.cancel()
	})
	return nil
}
