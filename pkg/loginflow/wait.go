package loginflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/platform"
)

var errWaitTimeout = errors.New("wait timed out")

// poll calls probe every interval until it reports done. It returns
// errWaitTimeout once timeout passes and ctx's error if ctx ends first.
func poll(ctx context.Context, timeout, interval time.Duration, probe func(context.Context) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := probe(waitCtx)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return errWaitTimeout
			}
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errWaitTimeout
		case <-ticker.C:
		}
	}
}

// waitVisible waits for sel to render. A timeout becomes an unexpected page state.
func waitVisible(ctx context.Context, fc *FlowContext, sel browser.Selector, timeout time.Duration, what string) error {
	err := poll(ctx, timeout, fc.Options.PollInterval, func(ctx context.Context) (bool, error) {
		return fc.Page.Visible(ctx, sel)
	})
	if errors.Is(err, errWaitTimeout) {
		return newError(platform.ReasonUnexpectedPageState,
			fmt.Sprintf("%s (%s) did not appear within %s", what, sel, timeout), nil)
	}
	return err
}

// act runs one page action under timeout. Running out of time becomes an
// unexpected page state; ending ctx still returns ctx's error.
func act(ctx context.Context, timeout time.Duration, what string, action func(context.Context) error) error {
	actCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := action(actCtx)
	if err != nil && ctx.Err() == nil && actCtx.Err() != nil {
		return newError(platform.ReasonUnexpectedPageState,
			fmt.Sprintf("%s did not complete within %s", what, timeout), err)
	}
	return err
}

// firstVisible returns the index of the first group with a rendered element,
// or -1.
func firstVisible(ctx context.Context, page browser.Page, groups ...[]browser.Selector) (int, error) {
	for i, group := range groups {
		for _, sel := range group {
			ok, err := page.Visible(ctx, sel)
			if err != nil {
				return -1, err
			}
			if ok {
				return i, nil
			}
		}
	}
	return -1, nil
}

// typeHuman types text one character at a time with a jittered pause after
// each keystroke.
func typeHuman(ctx context.Context, fc *FlowContext, sel browser.Selector, text string) error {
	for _, r := range text {
		err := act(ctx, fc.Options.ElementTimeout, fmt.Sprintf("typing into %s", sel), func(ctx context.Context) error {
			return fc.Page.SendKeys(ctx, sel, string(r))
		})
		if err != nil {
			return err
		}
		if err := sleep(ctx, keystrokePause(fc.Options)); err != nil {
			return err
		}
	}
	return nil
}

func keystrokePause(opts Options) time.Duration {
	d := opts.KeystrokeDelay
	if j := opts.KeystrokeJitter; j > 0 {
		d += rand.N(2*j+1) - j
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
