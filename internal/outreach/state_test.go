package outreach

import (
	"sync"
	"testing"
)

func TestSendStateCap(t *testing.T) {
	s := newSendState(3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if !s.reserve() {
				return
			}
			mu.Lock()
			granted++
			mu.Unlock()
			// every other attempt fails and gives its reservation back
			if n%2 == 0 {
				s.release()
				return
			}
			s.commit(item(n), "")
		}(i)
	}
	wg.Wait()
	if s.sentCount() > 3 {
		t.Fatalf("sent %d messages with a cap of 3", s.sentCount())
	}
	if granted == 0 {
		t.Fatalf("expected at least one reservation")
	}
}

func TestSendStateReleaseFreesCapacity(t *testing.T) {
	s := newSendState(1)
	if !s.reserve() {
		t.Fatalf("expected the first reservation to succeed")
	}
	if s.reserve() {
		t.Fatalf("expected the second reservation to fail")
	}
	s.release()
	if s.capReached() {
		t.Fatalf("expected capacity after release")
	}
	if !s.reserve() {
		t.Fatalf("expected a reservation after release")
	}
	s.commit(item(1), "4 chairs")
	if !s.capReached() || !s.hasContacted(item(1)) {
		t.Fatalf("expected the cap to be reached and item 1 to be contacted")
	}
}

func TestSimilarTitle(t *testing.T) {
	s := newSendState(10)
	s.remember("4 Chairs Available")
	tests := []struct {
		title       string
		maxDistance int
		expected    bool
	}{
		{"4 chairs available", 0, false},
		{"4 chairs available", 1, true},
		{"4 chairs available!!", 1, false},
		{"4 chairs available!!", 2, true},
		{"", 5, false},
	}

	for _, tt := range tests {
		_, result := s.similarTitle(tt.title, tt.maxDistance)
		if result != tt.expected {
			t.Errorf("similarTitle(%q, %d) = %v; want %v", tt.title, tt.maxDistance, result, tt.expected)
		}
	}
}
