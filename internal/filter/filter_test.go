package filter

import (
	"testing"

	"github.com/mpreach/mpreach/internal/config"
)

func TestTerm(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"chairs", "chair"},
		{"Chairs", "chair"},
		{" chair ", "chair"},
		{"glass", "glass"},
		{"Tables", "table"},
		{"s", "s"},
		{"", ""},
	}

	for _, tt := range tests {
		result := Term(tt.input)
		if result != tt.expected {
			t.Errorf("Term(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		title, description string
		keyword            string
		minQuantity        int
		expected           bool
	}{
		{"4 chairs available", "", "chair", 4, true},
		{"Dining set", "comes with 4 chairs", "chair", 4, true},
		{"4 CHAIRS", "", "chair", 4, true},
		{"2 chairs", "", "chair", 4, false},
		{"5 chairs for sale", "", "chair", 4, false},
		{"four chairs", "", "chair", 4, false},
		{"4", "chairs", "chair", 4, true}, // title and description are joined by a space
		{"4chairs", "", "chair", 4, false},
		{"", "", "chair", 1, false},
		{"14 chairs", "", "chair", 4, true}, // plain containment
	}

	for _, tt := range tests {
		result := Matches(tt.title, tt.description, tt.keyword, tt.minQuantity)
		if result != tt.expected {
			t.Errorf("Matches(%q, %q, %q, %d) = %v; want %v", tt.title, tt.description, tt.keyword, tt.minQuantity, result, tt.expected)
		}
	}
}

func TestMatchesAtLeast(t *testing.T) {
	tests := []struct {
		title, description string
		minQuantity        int
		expected           bool
	}{
		{"4 chairs available", "", 4, true},
		{"5 chairs for sale", "", 4, true},
		{"2 chairs", "", 4, false},
		{"14 chairs", "", 20, false},
		{"table and 2 chairs", "plus 6 chairs in the garage", 4, true},
		{"chairs", "", 1, false},
	}

	for _, tt := range tests {
		result := MatchesAtLeast(tt.title, tt.description, "chair", tt.minQuantity)
		if result != tt.expected {
			t.Errorf("MatchesAtLeast(%q, %q, chair, %d) = %v; want %v", tt.title, tt.description, tt.minQuantity, result, tt.expected)
		}
	}
}

func TestQuantityAtLeast(t *testing.T) {
	f, err := New(&config.SearchConfig{Keyword: "Chairs", MinQuantity: 4, QuantityMatch: "at_least"}, false)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	q, ok := f.Policy.(*Quantity)
	if !ok {
		t.Fatalf("expected a *Quantity policy but got %T", f.Policy)
	}
	re := q.re
	if re == nil {
		t.Fatalf("expected the count pattern to be compiled up front")
	}

	tests := []struct {
		title, description string
	}{
		{"4 chairs available", ""},
		{"Dining chairs", "5 chairs for sale"},
		{"2 chairs", ""},
		{"chairs", "40 chairs"},
	}

	for _, tt := range tests {
		expected := MatchesAtLeast(tt.title, tt.description, "chair", 4)
		if result := q.Accept(tt.title, tt.description); result != expected {
			t.Errorf("Accept(%q, %q) = %v; want %v", tt.title, tt.description, result, expected)
		}
	}
	if q.re != re {
		t.Errorf("the count pattern was replaced while evaluating listings")
	}
}

func TestFilterEvaluate(t *testing.T) {
	sc := &config.SearchConfig{
		Keyword:       "Chairs",
		MinQuantity:   4,
		QuantityMatch: "exact",
		Filters: []config.FilterConfig{
			{Field: "title", Expression: "(?i)broken", Match: false},
		},
	}
	f, err := New(sc, false)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	tests := []struct {
		title, description string
		expected           bool
	}{
		{"4 chairs available", "", true},
		{"4 chairs, one broken", "", false},
		{"2 chairs", "", false},
		{"Oak table", "with 4 chairs, one Broken leg", true}, // the regex filter only looks at the title
	}

	for _, tt := range tests {
		ok, reason := f.Evaluate(tt.title, tt.description)
		if ok != tt.expected {
			t.Errorf("Evaluate(%q, %q) = %v (%s); want %v", tt.title, tt.description, ok, reason, tt.expected)
		}
		if !ok && reason == "" {
			t.Errorf("Evaluate(%q, %q) did not return a reason", tt.title, tt.description)
		}
	}
}

func TestFilterAcceptAll(t *testing.T) {
	f, err := New(&config.SearchConfig{Keyword: "chair", MinQuantity: 4}, true)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if ok, _ := f.Evaluate("1 chair", ""); !ok {
		t.Fatalf("expected AcceptAll to accept every listing")
	}
}

func TestNewRegexErrors(t *testing.T) {
	tests := []config.FilterConfig{
		{Field: "title", Expression: "("},
		{Field: "price", Expression: ".*"},
	}

	for _, fc := range tests {
		if _, err := NewRegex(fc); err == nil {
			t.Errorf("NewRegex(%+v) expected an error", fc)
		}
	}
}
