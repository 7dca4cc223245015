package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mpreach/mpreach/internal/session"
)

// MockContent is a page served by the Mock browser.
type MockContent struct {
	HTML string
	// Elements are the selectors that are present and visible after
	// navigating to the page.
	Elements []string
	Texts    map[string]string
	// Reveals maps a selector to the selectors that become visible once it
	// is clicked.
	Reveals map[string][]string
	// Submit is the url the page moves to when Enter is pressed.
	Submit      string
	NavigateErr error
	HTMLErr     error
}

// Mock is an in-memory Browser. Pages are looked up by url and every
// interaction is recorded so tests can inspect what happened.
type Mock struct {
	Pages   map[string]*MockContent
	PageErr error // returned by NewPage if set

	mu      sync.Mutex
	cookies []session.Cookie
	actions []string
	opened  int
	closed  map[string]int
}

func NewMock(pages map[string]*MockContent) *Mock {
	return &Mock{
		Pages:  pages,
		closed: map[string]int{},
	}
}

func (m *Mock) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, fmt.Sprintf(format, args...))
}

// Actions returns the recorded interactions in order.
func (m *Mock) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.actions...)
}

// Opened returns the number of pages handed out.
func (m *Mock) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Closed returns how often a page that last navigated to url was closed.
func (m *Mock) Closed(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[url]
}

func (m *Mock) NewPage(ctx context.Context) (Page, error) {
	if m.PageErr != nil {
		return nil, m.PageErr
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &mockPage{m: m, visible: map[string]bool{}}, nil
}

func (m *Mock) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies = append(m.cookies, cookies...)
	return nil
}

func (m *Mock) Cookies(ctx context.Context) ([]session.Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.Cookie{}, m.cookies...), nil
}

func (m *Mock) Close() error {
	m.record("close browser")
	return nil
}

type mockPage struct {
	m       *Mock
	url     string
	content *MockContent
	visible map[string]bool
	closed  bool
}

func (p *mockPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.m.record("navigate %s", url)
	return p.load(url)
}

func (p *mockPage) load(url string) error {
	p.url = url
	content, ok := p.m.Pages[url]
	if !ok {
		return errors.New("page not found")
	}
	if content.NavigateErr != nil {
		return content.NavigateErr
	}
	p.content = content
	p.visible = map[string]bool{}
	for _, e := range content.Elements {
		p.visible[e] = true
	}
	return nil
}

func (p *mockPage) Fill(ctx context.Context, sel, text string) error {
	if !p.visible[sel] {
		return fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	p.m.record("fill %s %s", sel, text)
	return nil
}

func (p *mockPage) PressKey(ctx context.Context, key Key) error {
	p.m.record("press %s", key)
	if key == KeyEnter && p.content != nil && p.content.Submit != "" {
		return p.load(p.content.Submit)
	}
	return nil
}

func (p *mockPage) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.m.record("type %s", text)
	return nil
}

func (p *mockPage) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.visible[sel] {
		return nil
	}
	return fmt.Errorf("%w: %s after %v", ErrTimeout, sel, timeout)
}

func (p *mockPage) WaitURL(ctx context.Context, substr string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Contains(p.url, substr) {
		return nil
	}
	return fmt.Errorf("%w: url containing %s after %v, at %s", ErrTimeout, substr, timeout, p.url)
}

func (p *mockPage) Click(ctx context.Context, sel string) error {
	if !p.visible[sel] {
		return fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	p.m.record("click %s", sel)
	if p.content != nil {
		for _, r := range p.content.Reveals[sel] {
			p.visible[r] = true
		}
	}
	return nil
}

func (p *mockPage) Exists(ctx context.Context, sel string) (bool, error) {
	return p.visible[sel], nil
}

func (p *mockPage) Text(ctx context.Context, sel string) (string, error) {
	if p.content != nil {
		if t, ok := p.content.Texts[sel]; ok {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, sel)
}

func (p *mockPage) HTML(ctx context.Context) (string, error) {
	if p.content == nil {
		return "", errors.New("no page loaded")
	}
	if p.content.HTMLErr != nil {
		return "", p.content.HTMLErr
	}
	return p.content.HTML, nil
}

func (p *mockPage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("mock screenshot"), nil
}

func (p *mockPage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.m.mu.Lock()
	p.m.closed[p.url]++
	p.m.mu.Unlock()
	p.m.record("close %s", p.url)
	return nil
}
