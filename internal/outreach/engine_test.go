package outreach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/ledger"
	"github.com/mpreach/mpreach/internal/marketplace"
	"github.com/mpreach/mpreach/internal/session"
	"github.com/mpreach/mpreach/internal/types"
)

type fakeListing struct {
	title       string
	description string
	openErr     error
	sendErr     error
}

// fakeMarket is an in-memory Marketplace that records every call.
type fakeMarket struct {
	authErr   error
	searchErr error
	urls      []string
	listings  map[string]fakeListing

	opened []string
	closed map[string]int
	sent   []string
	// sentAtCall holds the number of messages sent before each send, to
	// check the cap at every point of the run
	sentAtCall []int
}

func newFakeMarket(urls []string, listings map[string]fakeListing) *fakeMarket {
	return &fakeMarket{urls: urls, listings: listings, closed: map[string]int{}}
}

func (f *fakeMarket) Authenticate(ctx context.Context, sess *session.Session) error {
	if sess.Empty() {
		return marketplace.ErrMissingSession
	}
	return f.authErr
}

func (f *fakeMarket) Search(ctx context.Context, keyword string) ([]string, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.urls) == 0 {
		return nil, marketplace.ErrNoResults
	}
	return f.urls, nil
}

func (f *fakeMarket) OpenListing(ctx context.Context, url string) (*marketplace.Listing, error) {
	f.opened = append(f.opened, url)
	if err := f.listings[url].openErr; err != nil {
		return nil, err
	}
	return &marketplace.Listing{URL: url}, nil
}

func (f *fakeMarket) ReadListingText(ctx context.Context, l *marketplace.Listing) (string, string) {
	fl := f.listings[l.URL]
	return fl.title, fl.description
}

func (f *fakeMarket) SendMessage(ctx context.Context, l *marketplace.Listing, text string) error {
	f.sentAtCall = append(f.sentAtCall, len(f.sent))
	if err := f.listings[l.URL].sendErr; err != nil {
		return err
	}
	f.sent = append(f.sent, l.URL)
	return nil
}

func (f *fakeMarket) Close(l *marketplace.Listing) error {
	f.closed[l.URL]++
	return nil
}

var testSession = &session.Session{Cookies: []session.Cookie{{Name: "c_user", Value: "1", Expires: -1}}}

func testConfig(keyword string, minQuantity, maxMessages int) *config.Config {
	return &config.Config{
		Search: config.SearchConfig{
			Keyword:       keyword,
			MinQuantity:   minQuantity,
			QuantityMatch: "exact",
		},
		Outreach: config.OutreachConfig{
			Message:     "Hi, is this still available?",
			MaxMessages: maxMessages,
		},
	}
}

func item(n int) string {
	return fmt.Sprintf("https://market.test/marketplace/item/%d/", n)
}

func newEngine(t *testing.T, cfg *config.Config, mode types.Mode, m Marketplace, l ledger.Ledger) *Engine {
	t.Helper()
	e, err := New(cfg, mode, m, l, nil)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	return e
}

func checkClosedOnce(t *testing.T, m *fakeMarket) {
	t.Helper()
	for _, u := range m.opened {
		if m.listings[u].openErr != nil {
			continue
		}
		if m.closed[u] != 1 {
			t.Errorf("expected %s to be closed once but it was closed %d times", u, m.closed[u])
		}
	}
}

func TestChairsScenario(t *testing.T) {
	a, b, c := item(1), item(2), item(3)
	listings := map[string]fakeListing{
		a: {title: "4 chairs available"},
		b: {title: "2 chairs"},
		c: {title: "Dining chairs", description: "5 chairs for sale"},
	}

	tests := []struct {
		name          string
		quantityMatch string
		expectedSent  []string
		expectedSkip  int
	}{
		{"exact", "exact", []string{a}, 2},
		{"at least", "at_least", []string{a, c}, 1},
	}

	for _, tt := range tests {
		m := newFakeMarket([]string{a, b, c}, listings)
		cfg := testConfig("chairs", 4, 2)
		cfg.Search.QuantityMatch = tt.quantityMatch
		e := newEngine(t, cfg, types.ModeOutreach, m, nil)
		report, err := e.Run(context.Background(), testSession)
		if err != nil {
			t.Fatalf("%s: got unexpected error: %v", tt.name, err)
		}
		if !slices.Equal(m.sent, tt.expectedSent) {
			t.Errorf("%s: expected messages to %v but got %v", tt.name, tt.expectedSent, m.sent)
		}
		if report.Summary.Sent != len(tt.expectedSent) || report.Summary.Skipped != tt.expectedSkip {
			t.Errorf("%s: unexpected summary %+v", tt.name, report.Summary)
		}
		if report.State != string(StateDone) {
			t.Errorf("%s: expected state done but got %s", tt.name, report.State)
		}
		checkClosedOnce(t, m)
	}
}

func TestCapStopsOpening(t *testing.T) {
	urls := []string{item(1), item(2), item(3), item(4), item(5)}
	listings := map[string]fakeListing{}
	for _, u := range urls {
		listings[u] = fakeListing{title: "4 chairs"}
	}
	m := newFakeMarket(urls, listings)
	e := newEngine(t, testConfig("chair", 4, 2), types.ModeOutreach, m, nil)
	report, err := e.Run(context.Background(), testSession)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if len(m.sent) != 2 {
		t.Fatalf("expected 2 messages but got %d", len(m.sent))
	}
	if len(m.opened) != 2 || report.Summary.Attempted != 2 {
		t.Fatalf("expected only 2 listings to be opened but got %d (attempted=%d)", len(m.opened), report.Summary.Attempted)
	}
	for _, n := range m.sentAtCall {
		if n >= 2 {
			t.Fatalf("a send was attempted with %d messages already sent", n)
		}
	}
}

func TestCapZero(t *testing.T) {
	m := newFakeMarket([]string{item(1)}, map[string]fakeListing{item(1): {title: "4 chairs"}})
	e := newEngine(t, testConfig("chair", 4, 0), types.ModeOutreach, m, nil)
	report, err := e.Run(context.Background(), testSession)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if len(m.opened) != 0 || report.Summary.Attempted != 0 {
		t.Fatalf("expected no listing to be opened")
	}
}

func TestNoResults(t *testing.T) {
	tests := []error{
		marketplace.ErrNoResults,
		fmt.Errorf("%w: results", marketplace.ErrSearchTimeout),
	}

	for _, searchErr := range tests {
		m := newFakeMarket(nil, nil)
		m.searchErr = searchErr
		e := newEngine(t, testConfig("chair", 4, 10), types.ModeOutreach, m, nil)
		report, err := e.Run(context.Background(), testSession)
		if err != nil {
			t.Fatalf("expected no error but got %v", err)
		}
		if report.Summary != (types.Summary{}) {
			t.Errorf("expected an empty summary but got %+v", report.Summary)
		}
		if report.State != string(StateDone) || report.Discovery == "" {
			t.Errorf("unexpected report state=%s discovery=%q", report.State, report.Discovery)
		}
	}
}

func TestListingFailureDoesNotAbort(t *testing.T) {
	tests := []struct {
		name     string
		failing  fakeListing
		opened   int
		closed   int
		expected int
	}{
		{"navigation", fakeListing{openErr: marketplace.ErrNavigation}, 3, 2, 2},
		{"no affordance", fakeListing{title: "4 chairs", sendErr: marketplace.ErrNoAffordance}, 3, 3, 2},
		{"compose", fakeListing{title: "4 chairs", sendErr: marketplace.ErrComposeNotReady}, 3, 3, 2},
	}

	for _, tt := range tests {
		listings := map[string]fakeListing{
			item(1): {title: "4 chairs"},
			item(2): tt.failing,
			item(3): {title: "4 chairs"},
		}
		m := newFakeMarket([]string{item(1), item(2), item(3)}, listings)
		e := newEngine(t, testConfig("chair", 4, 10), types.ModeOutreach, m, nil)
		report, err := e.Run(context.Background(), testSession)
		if err != nil {
			t.Fatalf("%s: got unexpected error: %v", tt.name, err)
		}
		if !slices.Contains(m.opened, item(3)) {
			t.Errorf("%s: the 3rd listing was not attempted", tt.name)
		}
		if len(m.sent) != tt.expected {
			t.Errorf("%s: expected %d messages but got %d", tt.name, tt.expected, len(m.sent))
		}
		expected := types.Summary{Attempted: 3, Matched: tt.closed, Sent: 2, Failed: 1}
		if report.Summary != expected {
			t.Errorf("%s: expected summary %+v but got %+v", tt.name, expected, report.Summary)
		}
		closed := 0
		for _, n := range m.closed {
			closed += n
		}
		if closed != tt.closed {
			t.Errorf("%s: expected %d closes but got %d", tt.name, tt.closed, closed)
		}
		checkClosedOnce(t, m)
	}
}

func TestLedgerPreventsRecontact(t *testing.T) {
	listings := map[string]fakeListing{
		item(1): {title: "4 chairs"},
		item(2): {title: "4 chairs and a table"},
	}
	l, err := ledger.NewFile(filepath.Join(t.TempDir(), "contacted.json"))
	if err != nil {
		t.Fatal(err)
	}

	first := newFakeMarket([]string{item(1)}, listings)
	if _, err := newEngine(t, testConfig("chair", 4, 10), types.ModeOutreach, first, l).Run(context.Background(), testSession); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	second := newFakeMarket([]string{item(1), item(2)}, listings)
	report, err := newEngine(t, testConfig("chair", 4, 10), types.ModeOutreach, second, l).Run(context.Background(), testSession)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if !slices.Equal(second.sent, []string{item(2)}) {
		t.Fatalf("expected only item 2 to be messaged but got %v", second.sent)
	}
	if slices.Contains(second.opened, item(1)) {
		t.Fatalf("a contacted listing was opened again")
	}
	if report.Outcomes[0].Result != types.ResultContacted {
		t.Fatalf("expected the first outcome to be %s but got %s", types.ResultContacted, report.Outcomes[0].Result)
	}
}

func TestSearchModeNeverSends(t *testing.T) {
	listings := map[string]fakeListing{
		item(1): {title: "4 chairs"},
		item(2): {title: "2 chairs"},
	}
	m := newFakeMarket([]string{item(1), item(2)}, listings)
	e := newEngine(t, testConfig("chair", 4, 0), types.ModeSearch, m, nil)
	report, err := e.Run(context.Background(), testSession)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if len(m.sentAtCall) != 0 {
		t.Fatalf("search mode must not send messages")
	}
	expected := types.Summary{Attempted: 2, Matched: 1, Skipped: 1}
	if report.Summary != expected {
		t.Fatalf("expected summary %+v but got %+v", expected, report.Summary)
	}
	if report.Outcomes[0].Result != types.ResultMatched {
		t.Fatalf("expected the first listing to be matched but got %s", report.Outcomes[0].Result)
	}
}

func TestUnfiltered(t *testing.T) {
	listings := map[string]fakeListing{
		item(1): {title: "4 chairs available"},
		item(2): {title: "2 chairs"},
		item(3): {title: "5 chairs for sale"},
	}
	m := newFakeMarket([]string{item(1), item(2), item(3)}, listings)
	cfg := testConfig("chairs", 4, 2)
	cfg.Outreach.SendUnfiltered = true
	e := newEngine(t, cfg, types.ModeOutreach, m, nil)
	if _, err := e.Run(context.Background(), testSession); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if !slices.Equal(m.sent, []string{item(1), item(2)}) {
		t.Fatalf("expected the first two listings to be messaged but got %v", m.sent)
	}
	if slices.Contains(m.opened, item(3)) {
		t.Fatalf("the 3rd listing must not be opened once the cap is reached")
	}
}

func TestSimilarTitles(t *testing.T) {
	listings := map[string]fakeListing{
		item(1): {title: "4 chairs available"},
		item(2): {title: "4 chairs available!"},
		item(3): {title: "4 chairs, oak"},
	}
	m := newFakeMarket([]string{item(1), item(2), item(3)}, listings)
	cfg := testConfig("chair", 4, 10)
	cfg.Outreach.TitleDistance = 2
	report, err := newEngine(t, cfg, types.ModeOutreach, m, nil).Run(context.Background(), testSession)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if !slices.Equal(m.sent, []string{item(1), item(3)}) {
		t.Fatalf("expected items 1 and 3 to be messaged but got %v", m.sent)
	}
	if report.Outcomes[1].Result != types.ResultDuplicate {
		t.Fatalf("expected item 2 to be a duplicate but got %s", report.Outcomes[1].Result)
	}
	checkClosedOnce(t, m)
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name     string
		sess     *session.Session
		authErr  error
		search   error
		expected error
	}{
		{"missing session", &session.Session{}, nil, nil, marketplace.ErrMissingSession},
		{"navigation during search", testSession, nil, marketplace.ErrNavigation, marketplace.ErrNavigation},
		{"auth", testSession, errors.New("boom"), nil, nil},
	}

	for _, tt := range tests {
		m := newFakeMarket([]string{item(1)}, map[string]fakeListing{})
		m.authErr = tt.authErr
		m.searchErr = tt.search
		e := newEngine(t, testConfig("chair", 4, 10), types.ModeOutreach, m, nil)
		report, err := e.Run(context.Background(), tt.sess)
		if err == nil {
			t.Errorf("%s: expected an error", tt.name)
			continue
		}
		if tt.expected != nil && !errors.Is(err, tt.expected) {
			t.Errorf("%s: expected %v but got %v", tt.name, tt.expected, err)
		}
		if e.State() != StateFailed || report.State != string(StateFailed) {
			t.Errorf("%s: expected state failed but got %s", tt.name, e.State())
		}
		if len(m.opened) != 0 {
			t.Errorf("%s: no listing should be opened", tt.name)
		}
	}
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	listings := map[string]fakeListing{
		item(1): {title: "4 chairs", sendErr: context.Canceled},
		item(2): {title: "4 chairs"},
	}
	m := newFakeMarket([]string{item(1), item(2)}, listings)
	e := newEngine(t, testConfig("chair", 4, 10), types.ModeOutreach, &cancellingMarket{fakeMarket: m, cancel: cancel}, nil)
	_, err := e.Run(ctx, testSession)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled but got %v", err)
	}
	if e.State() != StateFailed {
		t.Fatalf("expected state failed but got %s", e.State())
	}
	if m.closed[item(1)] != 1 {
		t.Fatalf("expected the open listing to be closed")
	}
}

// cancellingMarket cancels the run while a message is being sent.
type cancellingMarket struct {
	*fakeMarket
	cancel context.CancelFunc
}

func (c *cancellingMarket) SendMessage(ctx context.Context, l *marketplace.Listing, text string) error {
	c.cancel()
	return c.fakeMarket.SendMessage(ctx, l, text)
}

// recordingPacer remembers how many listings had been opened at every pause.
type recordingPacer struct {
	m      *fakeMarket
	pauses []int
}

func (p *recordingPacer) Pause(ctx context.Context) error {
	p.pauses = append(p.pauses, len(p.m.opened))
	return nil
}

func TestPacing(t *testing.T) {
	tests := []struct {
		name        string
		mode        types.Mode
		maxMessages int
		contacted   []string
		expected    []int
	}{
		{"between listings", types.ModeOutreach, 10, nil, []int{1, 2}},
		{"search mode", types.ModeSearch, 0, nil, []int{1, 2}},
		{"cap reached after first", types.ModeOutreach, 1, nil, nil},
		{"cap reached after second", types.ModeOutreach, 2, nil, []int{1}},
		{"contacted listing", types.ModeOutreach, 10, []string{item(2)}, []int{1}},
		{"contacted last listing", types.ModeOutreach, 10, []string{item(3)}, []int{1, 2}},
	}

	for _, tt := range tests {
		urls := []string{item(1), item(2), item(3)}
		listings := map[string]fakeListing{}
		for _, u := range urls {
			listings[u] = fakeListing{title: "4 chairs"}
		}
		l := ledger.NewMemory()
		for _, u := range tt.contacted {
			if err := l.Add(context.Background(), ledger.Entry{URL: u}); err != nil {
				t.Fatal(err)
			}
		}
		m := newFakeMarket(urls, listings)
		p := &recordingPacer{m: m}
		e, err := New(testConfig("chair", 4, tt.maxMessages), tt.mode, m, l, p)
		if err != nil {
			t.Fatalf("%s: got unexpected error: %v", tt.name, err)
		}
		if _, err := e.Run(context.Background(), testSession); err != nil {
			t.Fatalf("%s: got unexpected error: %v", tt.name, err)
		}
		if !slices.Equal(p.pauses, tt.expected) {
			t.Errorf("%s: expected pauses after %v opened listings but got %v", tt.name, tt.expected, p.pauses)
		}
	}
}
