package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/log"
	"github.com/mpreach/mpreach/internal/session"
)

var keys = map[Key]string{
	KeyEnter: kb.Enter,
	KeyEnd:   kb.End,
}

// Chrome drives a local chrome instance through the devtools protocol.
type Chrome struct {
	*config.BrowserConfig
	allocContext context.Context
	cancelAlloc  context.CancelFunc
	ctx          context.Context // the first tab; keeps the browser alive
	cancel       context.CancelFunc
	logger       *slog.Logger
}

// NewChrome launches the browser. It has to be closed with Close.
func NewChrome(ctx context.Context, bc *config.BrowserConfig) (*Chrome, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("browser", "chrome"))
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", bc.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(bc.Width, bc.Height),
	)
	if bc.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(bc.UserAgent))
	}
	allocContext, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancel := chromedp.NewContext(allocContext,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	c := &Chrome{
		BrowserConfig: bc,
		allocContext:  allocContext,
		cancelAlloc:   cancelAlloc,
		ctx:           tabCtx,
		cancel:        cancel,
		logger:        logger,
	}

	// the first Run allocates the browser
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, userAgent, _, err := cdpbrowser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		logger.Debug(fmt.Sprintf("chrome version: product=%s, userAgent=%s", product, userAgent))
		return nil
	}))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return c, nil
}

func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageCtx, cancel := chromedp.NewContext(c.ctx)
	// the tab lives as long as the context of its first Run, so this must
	// not be a derived context
	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &chromePage{ctx: pageCtx, cancel: cancel}, nil
}

func (c *Chrome) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
		}
		if ck.SameSite != "" {
			p.SameSite = network.CookieSameSite(ck.SameSite)
		}
		if !ck.IsSessionCookie() {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	c.logger.Debug(fmt.Sprintf("setting %d cookies", len(params)))
	return run(ctx, c.ctx, network.SetCookies(params))
}

func (c *Chrome) Cookies(ctx context.Context) ([]session.Cookie, error) {
	var cookies []session.Cookie
	err := run(ctx, c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cs {
			expires := ck.Expires
			if ck.Session {
				expires = -1
			}
			cookies = append(cookies, session.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: string(ck.SameSite),
			})
		}
		return nil
	}))
	return cookies, err
}

func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	c.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// run executes actions on the chromedp context target while honouring the
// cancellation and deadline of ctx.
func run(ctx context.Context, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		// report the reason of the caller's context rather than the derived one
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return run(ctx, p.ctx, chromedp.Navigate(url))
}

func (p *chromePage) Fill(ctx context.Context, sel, text string) error {
	return run(ctx, p.ctx,
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

func (p *chromePage) PressKey(ctx context.Context, key Key) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unknown key %s", key)
	}
	return run(ctx, p.ctx, chromedp.KeyEvent(k))
}

func (p *chromePage) Type(ctx context.Context, text string) error {
	return run(ctx, p.ctx, chromedp.KeyEvent(text))
}

func (p *chromePage) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := run(waitCtx, p.ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
	if err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s after %v", ErrTimeout, sel, timeout)
	}
	return err
}

func (p *chromePage) WaitURL(ctx context.Context, substr string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	var location string
	for {
		err := run(waitCtx, p.ctx, chromedp.Location(&location))
		if err == nil && strings.Contains(location, substr) {
			return nil
		}
		if err != nil && waitCtx.Err() == nil {
			return err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: url containing %s after %v, at %s", ErrTimeout, substr, timeout, location)
		case <-ticker.C:
		}
	}
}

func (p *chromePage) nodes(ctx context.Context, sel string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := run(ctx, p.ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (p *chromePage) Click(ctx context.Context, sel string) error {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	return run(ctx, p.ctx, chromedp.MouseClickNode(nodes[0]))
}

func (p *chromePage) Exists(ctx context.Context, sel string) (bool, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *chromePage) Text(ctx context.Context, sel string) (string, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	var text string
	err = run(ctx, p.ctx, chromedp.Text([]cdp.NodeID{nodes[0].NodeID}, &text, chromedp.ByNodeID))
	return text, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var body string
	err := run(ctx, p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return body, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := run(ctx, p.ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromePage) Close() error {
	p.once.Do(p.cancel)
	return nil
}
