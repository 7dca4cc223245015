package marketplace

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mpreach/mpreach/internal/config"
)

// selectors bundles everything that depends on the markup of the site.
// The selector strings themselves come from the configuration so that a
// markup change does not require a new build.
type selectors struct {
	config.SelectorConfig
}

// listingLinks extracts the canonical listing urls from a search results
// snapshot, in document order and without duplicates.
func (s *selectors) listingLinks(html string, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("error parsing search results: %w", err)
	}
	seen := map[string]bool{}
	links := []string{}
	doc.Find(s.ListingLink).Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		u, ok := canonicalURL(base, href)
		if !ok || !strings.Contains(u, s.ListingURLMatch) || seen[u] {
			return
		}
		seen[u] = true
		links = append(links, u)
	})
	return links, nil
}

// listingText extracts title and description from a listing snapshot.
// Missing elements yield empty strings.
func (s *selectors) listingText(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	title := strings.TrimSpace(doc.Find(s.Title).First().Text())
	description := strings.TrimSpace(doc.Find(s.Description).First().Text())
	return title, description
}

// canonicalURL resolves href against base and strips query and fragment so
// that the same item reached through different tracking parameters yields
// the same url.
func canonicalURL(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}
