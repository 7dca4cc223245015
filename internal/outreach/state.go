package outreach

import (
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateSearching      State = "searching"
	StateIterating      State = "iterating"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// sendState guards the send counter and the listings contacted during a
// run. A send is reserved before and committed or released after the
// attempt, so the cap check and the increment happen under one lock.
type sendState struct {
	mu        sync.Mutex
	limit     int
	sent      int
	reserved  int
	contacted map[string]bool
	titles    []string
}

func newSendState(limit int) *sendState {
	return &sendState{limit: limit, contacted: map[string]bool{}}
}

func (s *sendState) capReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent+s.reserved >= s.limit
}

// reserve claims one send. It returns false if the cap does not allow
// another message.
func (s *sendState) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent+s.reserved >= s.limit {
		return false
	}
	s.reserved++
	return true
}

func (s *sendState) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved--
}

func (s *sendState) commit(url, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved--
	s.sent++
	s.contacted[url] = true
	if title != "" {
		s.titles = append(s.titles, strings.ToLower(title))
	}
}

func (s *sendState) hasContacted(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contacted[url]
}

// similarTitle returns the first title seen this run whose edit distance to
// title is at most maxDistance. A maxDistance of 0 disables the check.
func (s *sendState) similarTitle(title string, maxDistance int) (string, bool) {
	if maxDistance <= 0 || title == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := strings.ToLower(title)
	for _, other := range s.titles {
		if levenshtein.ComputeDistance(t, other) <= maxDistance {
			return other, true
		}
	}
	return "", false
}

// remember records title without counting a send, used when listings are
// only matched.
func (s *sendState) remember(title string) {
	if title == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, strings.ToLower(title))
}

func (s *sendState) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
