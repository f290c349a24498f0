package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ListingFilter selects sitemap URLs that are app listing pages.
type ListingFilter struct {
	pattern *regexp.Regexp
}

// NewListingFilter compiles pattern.
func NewListingFilter(pattern string) (*ListingFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile listing pattern: %w", err)
	}
	return &ListingFilter{pattern: re}, nil
}

// Match reports whether rawURL is a listing page.
func (f *ListingFilter) Match(rawURL string) bool {
	if f == nil {
		return true
	}
	return f.pattern.MatchString(strings.TrimSpace(rawURL))
}
