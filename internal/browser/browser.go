// Package browser defines the browser automation capability mpreach is
// built against and provides a chromedp based implementation as well as an
// in-memory mock for tests.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/mpreach/mpreach/internal/session"
)

var (
	// ErrTimeout is returned if an element did not become visible in time.
	ErrTimeout = errors.New("timed out waiting for element")
	// ErrNotFound is returned if an element that should be acted on is absent.
	ErrNotFound = errors.New("element not found")
)

// Key is a named keyboard key.
type Key string

const (
	KeyEnter Key = "Enter"
	KeyEnd   Key = "End"
)

// Browser owns the shared browsing context, ie. the cookies of the
// authenticated session, and hands out isolated pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	Cookies(ctx context.Context) ([]session.Cookie, error)
	Close() error
}

// Page is a single tab. All selectors are css selectors.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Fill replaces the value of the input matching sel with text.
	Fill(ctx context.Context, sel, text string) error
	PressKey(ctx context.Context, key Key) error
	// Type sends text as key events to the focused element.
	Type(ctx context.Context, text string) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// WaitURL waits until the location of the page contains substr.
	WaitURL(ctx context.Context, substr string, timeout time.Duration) error
	Click(ctx context.Context, sel string) error
	Exists(ctx context.Context, sel string) (bool, error)
	// Text returns the visible text of the first element matching sel.
	Text(ctx context.Context, sel string) (string, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
