// Package marketplace turns the generic browser capability into the
// operations needed to find listings and contact their sellers.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mpreach/mpreach/internal/browser"
	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/log"
	"github.com/mpreach/mpreach/internal/pacing"
	"github.com/mpreach/mpreach/internal/session"
	"github.com/mpreach/mpreach/internal/utils"
)

// Listing is an opened listing page. It has to be released with
// Client.Close.
type Listing struct {
	URL         string
	Title       string
	Description string
	page        browser.Page
}

// Client drives the marketplace site through a browser.Browser.
type Client struct {
	*config.MarketplaceConfig
	// DebugDir is where screenshots of failed listings are written to if
	// debug mode is on. Nothing is written if empty.
	DebugDir string
	browser  browser.Browser
	typist   pacing.Typist
	sel      *selectors
	main     browser.Page
}

func NewClient(b browser.Browser, mc *config.MarketplaceConfig, typist pacing.Typist) *Client {
	if typist == nil {
		typist = pacing.Instant{}
	}
	return &Client{
		MarketplaceConfig: mc,
		browser:           b,
		typist:            typist,
		sel:               &selectors{SelectorConfig: mc.Selectors},
	}
}

func (c *Client) navigate(ctx context.Context, page browser.Page, urlStr string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.PageTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, urlStr); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, urlStr, err)
	}
	return nil
}

// Authenticate restores sess into the browser and opens the marketplace.
func (c *Client) Authenticate(ctx context.Context, sess *session.Session) error {
	logger := log.LoggerFromContext(ctx)
	if sess.Empty() {
		return ErrMissingSession
	}
	cookies := sess.Valid(time.Now())
	if len(cookies) == 0 {
		return fmt.Errorf("%w: all %d cookies expired", ErrMissingSession, len(sess.Cookies))
	}
	if len(cookies) < len(sess.Cookies) {
		logger.Warn(fmt.Sprintf("ignoring %d expired cookies", len(sess.Cookies)-len(cookies)))
	}
	if err := c.browser.SetCookies(ctx, cookies); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	logger.Info(fmt.Sprintf("restored session with %d cookies", len(cookies)))
	if err := c.openMain(ctx); err != nil {
		return err
	}
	return c.navigate(ctx, c.main, c.URL)
}

func (c *Client) openMain(ctx context.Context) error {
	if c.main != nil {
		return nil
	}
	page, err := c.browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open main page: %w", err)
	}
	c.main = page
	return nil
}

// Search submits keyword into the search field of the marketplace and
// returns the canonical urls of the listings found, in site order.
func (c *Client) Search(ctx context.Context, keyword string) ([]string, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("keyword", keyword))
	if err := c.openMain(ctx); err != nil {
		return nil, err
	}
	if err := c.navigate(ctx, c.main, c.URL); err != nil {
		return nil, err
	}
	if err := c.main.WaitVisible(ctx, c.Selectors.SearchInput, c.PageTimeout); err != nil {
		return nil, searchErr("search field", err)
	}
	if err := c.main.Fill(ctx, c.Selectors.SearchInput, keyword); err != nil {
		return nil, fmt.Errorf("failed to enter keyword: %w", err)
	}
	if err := c.main.PressKey(ctx, browser.KeyEnter); err != nil {
		return nil, fmt.Errorf("failed to submit search: %w", err)
	}
	logger.Debug("submitted search")
	// the results element may already be part of the page the search was
	// submitted from
	start := time.Now()
	if err := c.main.WaitURL(ctx, c.Selectors.SearchURLMatch, c.SearchTimeout); err != nil {
		return nil, searchErr("results page", err)
	}
	remaining := c.SearchTimeout - time.Since(start)
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: results after %v", ErrSearchTimeout, c.SearchTimeout)
	}
	if err := c.main.WaitVisible(ctx, c.Selectors.Results, remaining); err != nil {
		return nil, searchErr("results", err)
	}
	for i := range c.Scrolls {
		logger.Debug(fmt.Sprintf("scrolling down the results (%d/%d)", i+1, c.Scrolls))
		if err := c.main.PressKey(ctx, browser.KeyEnd); err != nil {
			return nil, fmt.Errorf("failed to scroll: %w", err)
		}
		if err := pacing.Sleep(ctx, c.ScrollDelay); err != nil {
			return nil, err
		}
	}

	html, err := c.main.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	base, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid marketplace url %s: %w", c.URL, err)
	}
	links, err := c.sel.listingLinks(html, base)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w for '%s'", ErrNoResults, keyword)
	}
	logger.Info(fmt.Sprintf("found %d listings", len(links)))
	return links, nil
}

func searchErr(what string, err error) error {
	if errors.Is(err, browser.ErrTimeout) {
		return fmt.Errorf("%w: %s: %w", ErrSearchTimeout, what, err)
	}
	return fmt.Errorf("failed waiting for %s: %w", what, err)
}

// OpenListing opens urlStr in a new page and waits until it is ready. If
// this fails the page is released before returning.
func (c *Client) OpenListing(ctx context.Context, urlStr string) (*Listing, error) {
	page, err := c.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	if err := c.navigate(ctx, page, urlStr); err != nil {
		c.screenshot(ctx, page, urlStr)
		page.Close()
		return nil, err
	}
	if err := page.WaitVisible(ctx, c.Selectors.ListingReady, c.PageTimeout); err != nil {
		c.screenshot(ctx, page, urlStr)
		page.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrNavigation, urlStr, err)
	}
	return &Listing{URL: urlStr, page: page}, nil
}

// ReadListingText fills in and returns title and description of l. It
// never fails; missing elements yield empty strings.
func (c *Client) ReadListingText(ctx context.Context, l *Listing) (string, string) {
	html, err := l.page.HTML(ctx)
	if err != nil {
		log.LoggerFromContext(ctx).Debug(fmt.Sprintf("failed to read listing html, reading elements instead: %v", err))
		l.Title = c.elementText(ctx, l.page, c.Selectors.Title)
		l.Description = c.elementText(ctx, l.page, c.Selectors.Description)
		return l.Title, l.Description
	}
	l.Title, l.Description = c.sel.listingText(html)
	return l.Title, l.Description
}

func (c *Client) elementText(ctx context.Context, page browser.Page, sel string) string {
	t, err := page.Text(ctx, sel)
	if err != nil {
		log.LoggerFromContext(ctx).Debug(fmt.Sprintf("no text for %s: %v", sel, err))
		return ""
	}
	return strings.TrimSpace(t)
}

// SendMessage opens the compose surface of l, types text and submits it.
func (c *Client) SendMessage(ctx context.Context, l *Listing, text string) error {
	logger := log.LoggerFromContext(ctx)
	err := c.sendMessage(ctx, l, text)
	if err != nil {
		c.screenshot(ctx, l.page, l.URL)
		return err
	}
	logger.Debug("message submitted")
	return nil
}

func (c *Client) sendMessage(ctx context.Context, l *Listing, text string) error {
	button := ""
	for _, sel := range c.Selectors.MessageButtons {
		found, err := l.page.Exists(ctx, sel)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", sel, err)
		}
		if found {
			button = sel
			break
		}
	}
	if button == "" {
		return ErrNoAffordance
	}
	if err := l.page.Click(ctx, button); err != nil {
		return fmt.Errorf("%w: %w", ErrNoAffordance, err)
	}

	if err := l.page.WaitVisible(ctx, c.Selectors.Compose, c.ComposeTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrComposeNotReady, err)
	}
	if err := l.page.Click(ctx, c.Selectors.Compose); err != nil {
		return fmt.Errorf("%w: %w", ErrComposeNotReady, err)
	}
	if err := c.typist.Type(ctx, l.page, text); err != nil {
		return fmt.Errorf("failed to type message: %w", err)
	}

	// the send control usually only shows up once there is some text
	found, err := l.page.Exists(ctx, c.Selectors.SendButton)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", c.Selectors.SendButton, err)
	}
	switch {
	case found:
		if err := l.page.Click(ctx, c.Selectors.SendButton); err != nil {
			return fmt.Errorf("%w: %w", ErrSendNotConfirmed, err)
		}
	case !c.NoEnterSubmit:
		if err := l.page.PressKey(ctx, browser.KeyEnter); err != nil {
			return fmt.Errorf("%w: %w", ErrSendNotConfirmed, err)
		}
	default:
		return ErrSendNotConfirmed
	}
	return nil
}

// Close releases the page of l. Closing a listing twice is a no-op.
func (c *Client) Close(l *Listing) error {
	if l == nil || l.page == nil {
		return nil
	}
	err := l.page.Close()
	l.page = nil
	return err
}

// Login opens the login page and waits for wait so that a human can log
// in. Afterwards the cookies of the browser are returned as a session.
func (c *Client) Login(ctx context.Context, wait time.Duration) (*session.Session, error) {
	logger := log.LoggerFromContext(ctx)
	if err := c.openMain(ctx); err != nil {
		return nil, err
	}
	if err := c.navigate(ctx, c.main, c.LoginURL); err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("please log in within the browser window, waiting %v", wait))
	if err := pacing.Sleep(ctx, wait); err != nil {
		return nil, err
	}
	cookies, err := c.browser.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	sess := &session.Session{Cookies: cookies}
	if sess.Empty() {
		return nil, errors.New("the browser has no cookies, login did not succeed")
	}
	return sess, nil
}

// Shutdown releases the main page.
func (c *Client) Shutdown() error {
	if c.main == nil {
		return nil
	}
	err := c.main.Close()
	c.main = nil
	return err
}

// screenshot writes a screenshot of page to the debug directory if debug
// mode is on.
func (c *Client) screenshot(ctx context.Context, page browser.Page, urlStr string) {
	if !config.Debug || c.DebugDir == "" {
		return
	}
	logger := log.LoggerFromContext(ctx)
	if err := os.MkdirAll(c.DebugDir, os.ModePerm); err != nil {
		logger.Warn(fmt.Sprintf("failed to create debug directory: %v", err))
		return
	}
	name := urlStr
	if u, err := url.Parse(urlStr); err == nil {
		name = u.Host + u.Path
	}
	r, err := utils.RandomString(name)
	if err != nil {
		logger.Warn(fmt.Sprintf("failed to generate screenshot name: %v", err))
		return
	}
	buf, err := page.Screenshot(ctx)
	if err != nil {
		logger.Warn(fmt.Sprintf("failed to take screenshot: %v", err))
		return
	}
	filename := filepath.Join(c.DebugDir, fmt.Sprintf("%s.png", r))
	logger.Debug(fmt.Sprintf("writing screenshot to file %s", filename))
	if err := os.WriteFile(filename, buf, 0644); err != nil {
		logger.Warn(fmt.Sprintf("failed to write screenshot: %v", err))
	}
}
