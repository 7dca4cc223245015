// Package filter decides whether a listing is worth contacting based on
// its title and description.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mpreach/mpreach/internal/config"
)

// Term normalises a configured keyword to the lowercase singular fragment
// that is searched for in the listing text, eg. "Chairs" becomes "chair".
// Words ending in "ss" are left alone.
func Term(keyword string) string {
	t := strings.ToLower(strings.TrimSpace(keyword))
	if len(t) > 1 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		t = t[:len(t)-1]
	}
	return t
}

func text(title, description string) string {
	return strings.ToLower(title + " " + description)
}

// Matches reports whether the case folded concatenation of title and
// description contains "<minQuantity> <keyword>".
func Matches(title, description, keyword string, minQuantity int) bool {
	pattern := fmt.Sprintf("%d %s", minQuantity, strings.ToLower(keyword))
	return strings.Contains(text(title, description), pattern)
}

// MatchesAtLeast reports whether the case folded concatenation of title and
// description contains any count of at least minQuantity directly followed
// by keyword, eg. "5 chair" for a minimum of 4.
func MatchesAtLeast(title, description, keyword string, minQuantity int) bool {
	return countAtLeast(countPattern(keyword), text(title, description), minQuantity)
}

func countPattern(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^0-9])([0-9]+) ` + regexp.QuoteMeta(strings.ToLower(keyword)))
}

func countAtLeast(re *regexp.Regexp, s string, minQuantity int) bool {
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= minQuantity {
			return true
		}
	}
	return false
}

// Policy decides whether a listing qualifies for outreach.
type Policy interface {
	Accept(title, description string) bool
	String() string
}

// Quantity accepts listings that mention the keyword together with the
// required count.
type Quantity struct {
	Keyword     string
	MinQuantity int
	AtLeast     bool
	re          *regexp.Regexp
}

// NewQuantity returns a Quantity policy with its pattern compiled once.
func NewQuantity(keyword string, minQuantity int, atLeast bool) *Quantity {
	q := &Quantity{Keyword: keyword, MinQuantity: minQuantity, AtLeast: atLeast}
	if atLeast {
		q.re = countPattern(keyword)
	}
	return q
}

func (q *Quantity) Accept(title, description string) bool {
	if !q.AtLeast {
		return Matches(title, description, q.Keyword, q.MinQuantity)
	}
	re := q.re
	if re == nil {
		re = countPattern(q.Keyword)
	}
	return countAtLeast(re, text(title, description), q.MinQuantity)
}

func (q *Quantity) String() string {
	if q.AtLeast {
		return fmt.Sprintf(">=%d %s", q.MinQuantity, q.Keyword)
	}
	return fmt.Sprintf("%d %s", q.MinQuantity, q.Keyword)
}

// AcceptAll accepts every listing.
type AcceptAll struct{}

func (AcceptAll) Accept(title, description string) bool { return true }
func (AcceptAll) String() string                        { return "all" }

// Regex keeps or drops a listing depending on whether its expression
// matches the configured field.
type Regex struct {
	Field string
	Match bool
	re    *regexp.Regexp
}

func NewRegex(fc config.FilterConfig) (*Regex, error) {
	re, err := regexp.Compile(fc.Expression)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression '%s' for field %s: %w", fc.Expression, fc.Field, err)
	}
	if fc.Field != "title" && fc.Field != "description" {
		return nil, fmt.Errorf("filter field must be one of [title, description], got '%s'", fc.Field)
	}
	return &Regex{Field: fc.Field, Match: fc.Match, re: re}, nil
}

// Keep reports whether a listing passes the filter.
func (r *Regex) Keep(title, description string) bool {
	value := title
	if r.Field == "description" {
		value = description
	}
	return r.re.MatchString(value) == r.Match
}

// Filter combines a policy with any number of regex filters. A listing
// has to pass all of them.
type Filter struct {
	Policy  Policy
	Regexes []*Regex
}

// New builds the filter for a run. If acceptAll is true the quantity
// policy is replaced by AcceptAll but the regex filters still apply.
func New(sc *config.SearchConfig, acceptAll bool) (*Filter, error) {
	f := &Filter{}
	if acceptAll {
		f.Policy = AcceptAll{}
	} else {
		f.Policy = NewQuantity(Term(sc.Keyword), sc.MinQuantity, sc.QuantityMatch == "at_least")
	}
	for _, fc := range sc.Filters {
		r, err := NewRegex(fc)
		if err != nil {
			return nil, err
		}
		f.Regexes = append(f.Regexes, r)
	}
	return f, nil
}

// Evaluate returns whether the listing passes and, if it does not, the
// reason why.
func (f *Filter) Evaluate(title, description string) (bool, string) {
	if !f.Policy.Accept(title, description) {
		return false, fmt.Sprintf("text does not contain '%s'", f.Policy)
	}
	for _, r := range f.Regexes {
		if !r.Keep(title, description) {
			return false, fmt.Sprintf("%s filter '%s' (match=%t)", r.Field, r.re, r.Match)
		}
	}
	return true, ""
}
