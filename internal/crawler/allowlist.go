package crawler

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// DomainAllowList holds exact hosts and suffix wildcards ("*.example.com" or
// ".example.com") permitted for fetching.
type DomainAllowList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainAllowList returns nil when no usable pattern is given; a nil list
// allows every host.
func NewDomainAllowList(patterns []string) *DomainAllowList {
	matcher := &DomainAllowList{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				matcher.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			if suffix := strings.TrimPrefix(value, "."); suffix != "" {
				matcher.addSuffix(suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (b *DomainAllowList) addSuffix(suffix string) {
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// AllowsHost reports whether host matches an exact entry or suffix.
func (b *DomainAllowList) AllowsHost(host string) bool {
	if b == nil {
		return true
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Allows reports whether rawURL's host is permitted.
func (b *DomainAllowList) Allows(rawURL string) bool {
	if b == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return b.AllowsHost(u.Hostname())
}

// URLFilter returns a regexp accepting absolute URLs whose host the list
// allows, for collectors that filter by URL. A nil list yields nil.
func (b *DomainAllowList) URLFilter() *regexp.Regexp {
	if b == nil {
		return nil
	}
	alts := make([]string, 0, len(b.exact)+len(b.suffixes))
	exact := make([]string, 0, len(b.exact))
	for h := range b.exact {
		exact = append(exact, h)
	}
	sort.Strings(exact)
	for _, h := range exact {
		alts = append(alts, regexp.QuoteMeta(h))
	}
	for _, suffix := range b.suffixes {
		alts = append(alts, `(?:[^/?#:@]+\.)?`+regexp.QuoteMeta(suffix))
	}
	return regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://(?:[^/?#@]*@)?(?:` +
		strings.Join(alts, "|") + `)(?::\d+)?(?:[/?#]|$)`)
}
