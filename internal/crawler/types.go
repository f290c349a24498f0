package crawler

import (
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// SitemapEntry is one <url> element of a urlset sitemap.
type SitemapEntry struct {
	Loc     string
	LastMod string
}

// Sitemap is a parsed sitemap document. Exactly one of URLs or Children is
// populated, depending on whether the root is a urlset or a sitemapindex.
type Sitemap struct {
	URLs     []SitemapEntry
	Children []string
}
